package inference_test

import (
	"context"
	"encoding/json"
	"testing"

	"textcat-backend/internal/inference"
	"textcat-backend/internal/schema"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVPayloadQuoting(t *testing.T) {
	payload, contentType, err := inference.CSVPayload("Convair was an american aircraft manufacturer")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "Convair was an american aircraft manufacturer", string(payload))

	payload, _, err = inference.CSVPayload(`text with "quotes", and a comma`)
	require.NoError(t, err)
	assert.Equal(t, `"text with ""quotes"", and a comma"`, string(payload))
}

func TestJSONPayloadEnvelope(t *testing.T) {
	payload, contentType, err := inference.JSONPayload([][]any{{"some abstract"}})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"data":[["some abstract"]]}`, string(payload))
}

func TestJSONPayloadRequiresRows(t *testing.T) {
	_, _, err := inference.JSONPayload(nil)
	assert.Error(t, err)
}

func TestEnvelopePayloadCarriesSchema(t *testing.T) {
	payload, _, err := inference.EnvelopePayload(schema.DefaultTextSchema(), [][]any{{"some abstract"}})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"schema":{"input":[{"name":"abstract","type":"string"}],"output":{"name":"tokenized_abstract","type":"string"}},"data":[["some abstract"]]}`,
		string(payload))
}

func TestEnvelopePayloadOmitsNilSchema(t *testing.T) {
	payload, _, err := inference.EnvelopePayload(nil, [][]any{{"row"}})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	_, hasSchema := decoded["schema"]
	assert.False(t, hasSchema)
}

func TestResolveSchemaRequestWins(t *testing.T) {
	deployed := schema.DefaultTextSchema()
	request := &schema.Descriptor{
		Input:  []schema.Field{{Name: "title", Type: "string"}, {Name: "abstract", Type: "string"}},
		Output: schema.Field{Name: "tokenized_abstract", Type: "string"},
	}

	assert.Equal(t, request, inference.ResolveSchema(request, deployed))
	assert.Equal(t, deployed, inference.ResolveSchema(nil, deployed))
	assert.Nil(t, inference.ResolveSchema(nil, nil))
}

func TestParsePredictionLine(t *testing.T) {
	p, err := inference.ParsePredictionLine(`{"label": ["__label__Company"], "prob": [0.9813]}`)
	require.NoError(t, err)
	assert.Equal(t, "Company", p.Label)
	assert.InDelta(t, 0.9813, p.Probability, 1e-9)

	_, err = inference.ParsePredictionLine(`{"prob": [0.5]}`)
	assert.Error(t, err)

	_, err = inference.ParsePredictionLine(`not json`)
	assert.Error(t, err)
}

func TestParsePredictionsMultiLine(t *testing.T) {
	body := "{\"label\":[\"__label__1\"],\"prob\":[0.9]}\n{\"label\":[\"__label__2\"],\"prob\":[0.8]}\n\n"
	predictions, err := inference.ParsePredictions([]byte(body))
	require.NoError(t, err)
	require.Len(t, predictions, 2)
	assert.Equal(t, "1", predictions[0].Label)
	assert.Equal(t, "2", predictions[1].Label)
}

func TestParsePredictionsEmptyBody(t *testing.T) {
	_, err := inference.ParsePredictions([]byte("\n\n"))
	assert.Error(t, err)
}

type capturedInvoke struct {
	input *sagemakerruntime.InvokeEndpointInput
}

type fakeRuntime struct {
	responses map[string]string // payload body -> response body
	calls     []capturedInvoke
}

func (f *fakeRuntime) InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.calls = append(f.calls, capturedInvoke{input: params})
	body, ok := f.responses[string(params.Body)]
	if !ok {
		body = `{"label":["__label__Company"],"prob":[0.97]}`
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: []byte(body)}, nil
}

func TestPredictSetsLineDelimitedAccept(t *testing.T) {
	runtime := &fakeRuntime{}
	client := inference.NewClient(runtime)

	payload, contentType, err := inference.CSVPayload("some abstract")
	require.NoError(t, err)

	predictions, err := client.Predict(context.Background(), "textcat-endpoint", payload, contentType)
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, "Company", predictions[0].Label)

	require.Len(t, runtime.calls, 1)
	call := runtime.calls[0].input
	assert.Equal(t, "textcat-endpoint", aws.ToString(call.EndpointName))
	assert.Equal(t, "text/csv", aws.ToString(call.ContentType))
	assert.Equal(t, "application/jsonlines", aws.ToString(call.Accept))
}

func TestPredictFormatEquivalence(t *testing.T) {
	// Same text through both encodings must produce the same label; only the
	// request encoding differs.
	runtime := &fakeRuntime{}
	client := inference.NewClient(runtime)

	text := "anandapuram mandal is one of the 46 mandals in visakhapatnam"

	csvPayload, csvType, err := inference.CSVPayload(text)
	require.NoError(t, err)
	fromCSV, err := client.Predict(context.Background(), "ep", csvPayload, csvType)
	require.NoError(t, err)

	jsonPayload, jsonType, err := inference.JSONPayload([][]any{{text}})
	require.NoError(t, err)
	fromJSON, err := client.Predict(context.Background(), "ep", jsonPayload, jsonType)
	require.NoError(t, err)

	assert.Equal(t, fromCSV, fromJSON)
	assert.NotEqual(t, runtime.calls[0].input.Body, runtime.calls[1].input.Body)
	assert.NotEqual(t,
		aws.ToString(runtime.calls[0].input.ContentType),
		aws.ToString(runtime.calls[1].input.ContentType))
}
