package ml

import (
	"fmt"
)

func LoadModel(modelType, path string) (MLModel, error) {
	switch modelType {
	case ModelTypeGradientBoosting, "":
		model := &GradientBoosting{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}
