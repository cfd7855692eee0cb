package gcp

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// Task types understood by the text-embedding models.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// EmbeddingClient calls a Vertex AI text-embedding publisher model through the Prediction API.
type EmbeddingClient struct {
	client     *aiplatform.PredictionClient
	endpoint   string
	dimensions int
}

// NewEmbeddingClient creates a prediction client for the given model in the given region.
func NewEmbeddingClient(ctx context.Context, projectID, region, model string, dimensions int) (*EmbeddingClient, error) {
	if projectID == "" || region == "" || model == "" {
		return nil, fmt.Errorf("NewEmbeddingClient: projectID, region and model cannot be empty")
	}

	client, err := aiplatform.NewPredictionClient(ctx,
		option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", region)),
	)
	if err != nil {
		return nil, fmt.Errorf("aiplatform.NewPredictionClient: %w", err)
	}

	return &EmbeddingClient{
		client:     client,
		endpoint:   fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", projectID, region, model),
		dimensions: dimensions,
	}, nil
}

// Embed returns one vector per input text, in input order.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	instances := make([]*structpb.Value, len(texts))
	for i, text := range texts {
		instance, err := structpb.NewStruct(map[string]interface{}{
			"content":   text,
			"task_type": taskType,
		})
		if err != nil {
			return nil, fmt.Errorf("building instance %d: %w", i, err)
		}
		instances[i] = structpb.NewStructValue(instance)
	}

	req := &aiplatformpb.PredictRequest{
		Endpoint:  c.endpoint,
		Instances: instances,
	}
	if c.dimensions > 0 {
		params, err := structpb.NewStruct(map[string]interface{}{
			"outputDimensionality": c.dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("building parameters: %w", err)
		}
		req.Parameters = structpb.NewStructValue(params)
	}

	resp, err := c.client.Predict(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Predict: %w", err)
	}

	vectors := make([][]float32, len(resp.Predictions))
	for i, pred := range resp.Predictions {
		vector, err := parsePrediction(pred)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// parsePrediction extracts predictions[i].embeddings.values.
func parsePrediction(pred *structpb.Value) ([]float32, error) {
	predStruct := pred.GetStructValue()
	if predStruct == nil {
		return nil, fmt.Errorf("invalid prediction response")
	}
	embeddings := predStruct.GetFields()["embeddings"].GetStructValue()
	if embeddings == nil {
		return nil, fmt.Errorf("embeddings field not found")
	}
	values := embeddings.GetFields()["values"].GetListValue()
	if values == nil {
		return nil, fmt.Errorf("values field not found")
	}

	vector := make([]float32, len(values.GetValues()))
	for j, v := range values.GetValues() {
		vector[j] = float32(v.GetNumberValue())
	}
	return vector, nil
}

func (c *EmbeddingClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
