package inference

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"textcat-backend/internal/schema"
)

const (
	ContentTypeCSV  = "text/csv"
	ContentTypeJSON = "application/json"

	// The deployed model answers in line-delimited JSON regardless of how
	// the request was encoded.
	AcceptJSONLines = "application/jsonlines"

	labelPrefix = "__label__"
)

// CSVPayload encodes one request row as RFC-4180 CSV. Fields are matched to
// the deployed schema's input fields positionally.
func CSVPayload(fields ...string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, "", fmt.Errorf("failed to encode csv payload: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("failed to encode csv payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), ContentTypeCSV, nil
}

type envelope struct {
	Schema *schema.Descriptor `json:"schema,omitempty"`
	Data   [][]any            `json:"data"`
}

// JSONPayload encodes request rows in the bare data envelope, leaving the
// deployed schema in charge of interpretation.
func JSONPayload(rows [][]any) ([]byte, string, error) {
	return EnvelopePayload(nil, rows)
}

// EnvelopePayload encodes request rows together with an optional schema. A
// schema sent here overrides the one the serving container was deployed
// with; nil omits the field entirely.
func EnvelopePayload(sch *schema.Descriptor, rows [][]any) ([]byte, string, error) {
	if len(rows) == 0 {
		return nil, "", fmt.Errorf("payload requires at least one data row")
	}
	data, err := json.Marshal(envelope{Schema: sch, Data: rows})
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode json payload: %w", err)
	}
	return data, ContentTypeJSON, nil
}

// ResolveSchema picks the schema a request is served under: the
// request-supplied schema wins, the deployed schema is the fallback.
func ResolveSchema(requestSchema, deployedSchema *schema.Descriptor) *schema.Descriptor {
	if requestSchema != nil {
		return requestSchema
	}
	return deployedSchema
}

// Prediction is one classified row. Label has the algorithm's __label__
// prefix stripped.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

type predictionRecord struct {
	Label []string  `json:"label"`
	Prob  []float64 `json:"prob"`
}

// ParsePredictionLine decodes one line of classifier output, e.g.
// {"label": ["__label__7"], "prob": [0.94]}.
func ParsePredictionLine(line string) (Prediction, error) {
	var record predictionRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return Prediction{}, fmt.Errorf("failed to parse prediction %q: %w", line, err)
	}
	if len(record.Label) == 0 {
		return Prediction{}, fmt.Errorf("prediction %q carries no label", line)
	}

	p := Prediction{Label: strings.TrimPrefix(record.Label[0], labelPrefix)}
	if len(record.Prob) > 0 {
		p.Probability = record.Prob[0]
	}
	return p, nil
}

// ParsePredictions decodes a line-delimited response body, one prediction
// per non-empty line.
func ParsePredictions(body []byte) ([]Prediction, error) {
	var predictions []Prediction
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p, err := ParsePredictionLine(line)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	if len(predictions) == 0 {
		return nil, fmt.Errorf("response body carries no predictions")
	}
	return predictions, nil
}
