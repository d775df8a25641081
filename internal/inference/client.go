package inference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

type RuntimeApi interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

type Client struct {
	runtime RuntimeApi
}

func NewClient(runtime RuntimeApi) *Client {
	return &Client{runtime: runtime}
}

// Predict sends a payload to a live endpoint and decodes the line-delimited
// predictions. CSV and JSON payloads for the same rows yield the same
// predictions; only the request encoding differs.
func (c *Client) Predict(ctx context.Context, endpointName string, payload []byte, contentType string) ([]Prediction, error) {
	out, err := c.runtime.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpointName),
		Body:         payload,
		ContentType:  aws.String(contentType),
		Accept:       aws.String(AcceptJSONLines),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke endpoint %s: %w", endpointName, err)
	}

	predictions, err := ParsePredictions(out.Body)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s returned an unparseable response: %w", endpointName, err)
	}
	slog.Debug("Endpoint responded", "endpointName", endpointName, "predictions", len(predictions))
	return predictions, nil
}
