package pipeline

import (
	"fmt"

	"flightdelay/flight"
	"flightdelay/ml"
)

// Dataset 编码后的训练数据
type Dataset struct {
	X            [][]float64
	Y            []int
	FeatureNames []string
	Encoder      *ml.Encoder
}

func (d *Dataset) Len() int {
	return len(d.Y)
}

// PositiveRate 延误样本比例
func (d *Dataset) PositiveRate() float64 {
	if len(d.Y) == 0 {
		return 0
	}
	positives := 0
	for _, y := range d.Y {
		positives += y
	}
	return float64(positives) / float64(len(d.Y))
}

// BuildDataset 拟合编码器并生成特征矩阵和标签
func BuildDataset(records []flight.Record, schema ml.FeatureSchema, thresholdMinutes float64) (*Dataset, error) {
	encoder, err := ml.FitEncoder(records, schema)
	if err != nil {
		return nil, err
	}
	features, err := encoder.TransformAll(records)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(records))
	for i := range records {
		labels[i], err = records[i].Label(thresholdMinutes)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return &Dataset{
		X:            features,
		Y:            labels,
		FeatureNames: encoder.FeatureNames(),
		Encoder:      encoder,
	}, nil
}
