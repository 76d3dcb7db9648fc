package ml

// MLModel is a trained binary classifier over encoded feature vectors.
// Predict returns the label and the probability of the positive class.
type MLModel interface {
	Train(features [][]float64, labels []int) error
	Predict(features []float64) (int, float64, error)
	Save(path string) error
	Load(path string) error
	FeatureNames() []string
}
