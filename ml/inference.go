package ml

import (
	"context"
	"fmt"

	"flightdelay/flight"
)

type Prediction struct {
	Label       int     `json:"is_delayed"`
	Probability float64 `json:"probability"`
}

// Session pairs a fitted encoder with a model trained on its output. Both are
// immutable, so a Session is safe for concurrent use.
type Session struct {
	encoder *Encoder
	model   MLModel
}

func NewSession(encoder *Encoder, model MLModel) (*Session, error) {
	if encoder == nil || model == nil {
		return nil, fmt.Errorf("session needs an encoder and a model")
	}
	want := encoder.FeatureNames()
	got := model.FeatureNames()
	if len(want) != len(got) {
		return nil, fmt.Errorf("%w: encoder produces %d features, model expects %d", ErrSchemaMismatch, len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			return nil, fmt.Errorf("%w: feature %d is %q in encoder but %q in model", ErrSchemaMismatch, i, want[i], got[i])
		}
	}
	return &Session{encoder: encoder, model: model}, nil
}

// LoadSession reads both artifacts and fails on any mismatch between them.
func LoadSession(modelType, encoderPath, modelPath string) (*Session, error) {
	encoder, err := LoadEncoder(encoderPath)
	if err != nil {
		return nil, fmt.Errorf("load encoder: %w", err)
	}
	model, err := LoadModel(modelType, modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return NewSession(encoder, model)
}

func (s *Session) Encode(r *flight.Record) ([]float64, error) {
	return s.encoder.Transform(r)
}

// Predict scores an already encoded vector.
func (s *Session) Predict(_ context.Context, features []float64) (Prediction, error) {
	label, p, err := s.model.Predict(features)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Label: label, Probability: p}, nil
}

func (s *Session) PredictRecord(ctx context.Context, r *flight.Record) (Prediction, error) {
	features, err := s.Encode(r)
	if err != nil {
		return Prediction{}, err
	}
	return s.Predict(ctx, features)
}

func (s *Session) Schema() FeatureSchema {
	return s.encoder.Schema()
}

func (s *Session) FeatureCount() int {
	return len(s.encoder.Features)
}
