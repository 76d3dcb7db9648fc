package ml

import "errors"

// Confusion counts binary outcomes with 1 as the positive (delayed) class.
type Confusion struct {
	TruePositive  int `json:"true_positive"`
	FalsePositive int `json:"false_positive"`
	TrueNegative  int `json:"true_negative"`
	FalseNegative int `json:"false_negative"`
}

func NewConfusion(yTrue, yPred []int) (Confusion, error) {
	var c Confusion
	if len(yTrue) != len(yPred) {
		return c, errors.New("labels and predictions size mismatch")
	}
	for i := range yTrue {
		switch {
		case yPred[i] == 1 && yTrue[i] == 1:
			c.TruePositive++
		case yPred[i] == 1:
			c.FalsePositive++
		case yTrue[i] == 1:
			c.FalseNegative++
		default:
			c.TrueNegative++
		}
	}
	return c, nil
}

func (c Confusion) Total() int {
	return c.TruePositive + c.FalsePositive + c.TrueNegative + c.FalseNegative
}

func (c Confusion) Accuracy() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.TruePositive+c.TrueNegative) / float64(c.Total())
}

func (c Confusion) Precision() float64 {
	if c.TruePositive+c.FalsePositive == 0 {
		return 0
	}
	return float64(c.TruePositive) / float64(c.TruePositive+c.FalsePositive)
}

func (c Confusion) Recall() float64 {
	if c.TruePositive+c.FalseNegative == 0 {
		return 0
	}
	return float64(c.TruePositive) / float64(c.TruePositive+c.FalseNegative)
}

// F1 is 0 when precision and recall are both 0 (no positive predicted or present).
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func F1Score(yTrue, yPred []int) (float64, error) {
	c, err := NewConfusion(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return c.F1(), nil
}

// LabelsFromMargins thresholds log-odds at 0, i.e. probability 0.5.
func LabelsFromMargins(margins []float64) []int {
	out := make([]int, len(margins))
	for i, m := range margins {
		if m >= 0 {
			out[i] = 1
		}
	}
	return out
}

type Evaluation struct {
	Confusion Confusion `json:"confusion"`
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
}

func Evaluate(model *GradientBoosting, features [][]float64, labels []int) (Evaluation, error) {
	if len(features) == 0 {
		return Evaluation{}, errors.New("evaluation set is empty")
	}
	predicted, err := model.PredictBatch(features)
	if err != nil {
		return Evaluation{}, err
	}
	c, err := NewConfusion(labels, predicted)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Confusion: c,
		Accuracy:  c.Accuracy(),
		Precision: c.Precision(),
		Recall:    c.Recall(),
		F1:        c.F1(),
	}, nil
}
