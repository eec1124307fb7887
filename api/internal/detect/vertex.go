package detect

import (
	"context"
	"fmt"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// Vertex calls a deployed image object detection model on Vertex AI.
type Vertex struct {
	client   *aiplatform.PredictionClient
	endpoint string
}

// NewVertex dials the regional prediction host, e.g. "us-central1-aiplatform.googleapis.com".
func NewVertex(ctx context.Context, apiEndpoint, project, location, endpointID string, opts ...option.ClientOption) (*Vertex, error) {
	apiEndpoint = strings.TrimSpace(apiEndpoint)
	if apiEndpoint == "" {
		return nil, fmt.Errorf("vertex: api endpoint is empty")
	}
	opts = append([]option.ClientOption{option.WithEndpoint(apiEndpoint + ":443")}, opts...)
	cl, err := aiplatform.NewPredictionClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vertex: new prediction client: %w", err)
	}
	return &Vertex{
		client:   cl,
		endpoint: EndpointName(project, location, endpointID),
	}, nil
}

func EndpointName(project, location, endpointID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/endpoints/%s", project, location, endpointID)
}

func (v *Vertex) Endpoint() string { return v.endpoint }

func (v *Vertex) Close() error {
	if v.client == nil {
		return nil
	}
	return v.client.Close()
}

func (v *Vertex) Predict(ctx context.Context, content string, p Params) ([]Prediction, error) {
	if v.client == nil {
		return nil, errNoPredictor
	}
	instance, err := structpb.NewValue(map[string]any{"content": content})
	if err != nil {
		return nil, fmt.Errorf("vertex: instance: %w", err)
	}
	params, err := structpb.NewValue(map[string]any{
		"confidence_threshold": p.ConfidenceThreshold,
		"max_predictions":      p.MaxPredictions,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: parameters: %w", err)
	}

	resp, err := v.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   v.endpoint,
		Instances:  []*structpb.Value{instance},
		Parameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: predict: %w", err)
	}
	return DecodePredictions(resp.GetPredictions()), nil
}

// DecodePredictions reads displayNames/confidences out of raw prediction
// values. Items without the expected shape are skipped.
func DecodePredictions(values []*structpb.Value) []Prediction {
	out := make([]Prediction, 0, len(values))
	for _, v := range values {
		s := v.GetStructValue()
		if s == nil {
			continue
		}
		var p Prediction
		for _, n := range s.GetFields()["displayNames"].GetListValue().GetValues() {
			p.DisplayNames = append(p.DisplayNames, n.GetStringValue())
		}
		for _, c := range s.GetFields()["confidences"].GetListValue().GetValues() {
			p.Confidences = append(p.Confidences, c.GetNumberValue())
		}
		out = append(out, p)
	}
	return out
}
