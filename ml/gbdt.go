package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
)

const (
	ModelTypeGradientBoosting = "gradient_boosting"
	modelFormatVersion        = 1
)

var (
	ErrNotTrained      = errors.New("model not trained")
	ErrFeatureMismatch = errors.New("feature vector length mismatch")
)

// BoostingParams mirrors the usual XGBoost knobs.
type BoostingParams struct {
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`
	NEstimators    int     `json:"n_estimators" yaml:"n_estimators"`
	Subsample      float64 `json:"subsample" yaml:"subsample"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	MinChildWeight float64 `json:"min_child_weight" yaml:"min_child_weight"`
	Lambda         float64 `json:"lambda" yaml:"lambda"`
	Gamma          float64 `json:"gamma" yaml:"gamma"`
	MaxBins        int     `json:"max_bins" yaml:"max_bins"`
	Seed           int64   `json:"seed" yaml:"seed"`

	// NJobs bounds split-finding goroutines. It never changes the fitted model.
	NJobs int `json:"-" yaml:"n_jobs"`
}

func DefaultBoostingParams() BoostingParams {
	return BoostingParams{
		LearningRate:   0.3,
		NEstimators:    100,
		Subsample:      1,
		MaxDepth:       6,
		MinChildWeight: 1,
		Lambda:         1,
		Gamma:          0,
		MaxBins:        256,
	}
}

func (p BoostingParams) Validate() error {
	switch {
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return fmt.Errorf("learning_rate must be in (0, 1], got %v", p.LearningRate)
	case p.NEstimators <= 0:
		return fmt.Errorf("n_estimators must be positive, got %d", p.NEstimators)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("subsample must be in (0, 1], got %v", p.Subsample)
	case p.MaxDepth <= 0:
		return fmt.Errorf("max_depth must be positive, got %d", p.MaxDepth)
	case p.MinChildWeight < 0:
		return fmt.Errorf("min_child_weight must be >= 0, got %v", p.MinChildWeight)
	case p.Lambda < 0:
		return fmt.Errorf("lambda must be >= 0, got %v", p.Lambda)
	case p.Gamma < 0:
		return fmt.Errorf("gamma must be >= 0, got %v", p.Gamma)
	}
	return nil
}

// WithOverrides applies sampled hyperparameters on top of p. Unknown keys are
// rejected so a typo in the search space fails the trial instead of being
// silently ignored.
func (p BoostingParams) WithOverrides(values map[string]interface{}) (BoostingParams, error) {
	out := p
	for key, raw := range values {
		var err error
		switch key {
		case "learning_rate":
			out.LearningRate, err = toFloat(raw)
		case "n_estimators":
			out.NEstimators, err = toInt(raw)
		case "subsample":
			out.Subsample, err = toFloat(raw)
		case "max_depth":
			out.MaxDepth, err = toInt(raw)
		case "min_child_weight":
			out.MinChildWeight, err = toFloat(raw)
		case "lambda":
			out.Lambda, err = toFloat(raw)
		case "gamma":
			out.Gamma, err = toFloat(raw)
		case "max_bins":
			out.MaxBins, err = toInt(raw)
		default:
			return p, fmt.Errorf("unknown hyperparameter %q", key)
		}
		if err != nil {
			return p, fmt.Errorf("hyperparameter %s: %w", key, err)
		}
	}
	return out, out.Validate()
}

// EvalFunc receives the evaluation-set margins after a boosting round.
// Returning an error stops training and Fit returns that error.
type EvalFunc func(round int, margins []float64) error

type FitOptions struct {
	FeatureNames []string
	EvalX        [][]float64
	EvalY        []int
	EvalEvery    int
	OnEval       EvalFunc
}

// GradientBoosting is a binary classifier trained with logistic loss using
// gradient and hessian statistics per round.
type GradientBoosting struct {
	Params    BoostingParams
	BaseScore float64
	Trees     []RegressionTree
	features  []string
}

func NewGradientBoosting(params BoostingParams) *GradientBoosting {
	return &GradientBoosting{Params: params}
}

func (m *GradientBoosting) Train(features [][]float64, labels []int) error {
	return m.Fit(features, labels, FitOptions{})
}

func (m *GradientBoosting) Fit(features [][]float64, labels []int, opts FitOptions) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if err := m.Params.Validate(); err != nil {
		return err
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrFeatureMismatch, i, len(row), width)
		}
	}
	positives := 0
	for i, y := range labels {
		if y != 0 && y != 1 {
			return fmt.Errorf("label at row %d must be 0 or 1, got %d", i, y)
		}
		positives += y
	}
	if opts.FeatureNames != nil && len(opts.FeatureNames) != width {
		return fmt.Errorf("%w: %d feature names for %d features", ErrFeatureMismatch, len(opts.FeatureNames), width)
	}
	if len(opts.EvalX) != len(opts.EvalY) {
		return errors.New("eval features and labels size mismatch")
	}

	n := len(features)
	m.features = opts.FeatureNames
	if m.features == nil {
		m.features = defaultFeatureNames(width)
	}
	m.BaseScore = logit(float64(positives) / float64(n))
	m.Trees = make([]RegressionTree, 0, m.Params.NEstimators)

	mapper := newBinMapper(features, m.Params.MaxBins)
	builder := newTreeBuilder(mapper.transform(features), mapper, m.Params)
	rng := rand.New(rand.NewSource(m.Params.Seed))

	margins := make([]float64, n)
	for i := range margins {
		margins[i] = m.BaseScore
	}
	var evalMargins []float64
	if len(opts.EvalX) > 0 {
		evalMargins = make([]float64, len(opts.EvalX))
		for i := range evalMargins {
			evalMargins[i] = m.BaseScore
		}
	}
	evalEvery := opts.EvalEvery
	if evalEvery <= 0 {
		evalEvery = 1
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	rows := make([]int, 0, n)
	for round := 0; round < m.Params.NEstimators; round++ {
		for i := range margins {
			p := sigmoid(margins[i])
			grad[i] = p - float64(labels[i])
			hess[i] = math.Max(p*(1-p), 1e-16)
		}

		rows = sampleRows(rows[:0], n, m.Params.Subsample, rng)
		tree := builder.build(rows, grad, hess)
		m.Trees = append(m.Trees, tree)

		for i := range features {
			v, err := tree.Predict(features[i])
			if err != nil {
				return err
			}
			margins[i] += v
		}

		if evalMargins == nil {
			continue
		}
		for i := range opts.EvalX {
			v, err := tree.Predict(opts.EvalX[i])
			if err != nil {
				return err
			}
			evalMargins[i] += v
		}
		last := round == m.Params.NEstimators-1
		if opts.OnEval != nil && ((round+1)%evalEvery == 0 || last) {
			if err := opts.OnEval(round+1, evalMargins); err != nil {
				return err
			}
		}
	}
	return nil
}

// Margin returns the raw log-odds score.
func (m *GradientBoosting) Margin(features []float64) (float64, error) {
	if len(m.Trees) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != len(m.features) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(features), len(m.features))
	}
	score := m.BaseScore
	for i := range m.Trees {
		v, err := m.Trees[i].Predict(features)
		if err != nil {
			return 0, err
		}
		score += v
	}
	return score, nil
}

func (m *GradientBoosting) PredictProba(features []float64) (float64, error) {
	margin, err := m.Margin(features)
	if err != nil {
		return 0, err
	}
	return sigmoid(margin), nil
}

// Predict returns the delay label and the probability of delay.
func (m *GradientBoosting) Predict(features []float64) (int, float64, error) {
	p, err := m.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	if p >= 0.5 {
		return 1, p, nil
	}
	return 0, p, nil
}

func (m *GradientBoosting) PredictBatch(features [][]float64) ([]int, error) {
	out := make([]int, len(features))
	for i, row := range features {
		label, _, err := m.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = label
	}
	return out, nil
}

func (m *GradientBoosting) FeatureNames() []string {
	return append([]string(nil), m.features...)
}

type modelFile struct {
	FormatVersion int              `json:"format_version"`
	ModelType     string           `json:"model_type"`
	Params        BoostingParams   `json:"params"`
	BaseScore     float64          `json:"base_score"`
	FeatureNames  []string         `json:"feature_names"`
	Trees         []RegressionTree `json:"trees"`
}

func (m *GradientBoosting) Marshal() ([]byte, error) {
	if len(m.Trees) == 0 {
		return nil, ErrNotTrained
	}
	return json.Marshal(modelFile{
		FormatVersion: modelFormatVersion,
		ModelType:     ModelTypeGradientBoosting,
		Params:        m.Params,
		BaseScore:     m.BaseScore,
		FeatureNames:  m.features,
		Trees:         m.Trees,
	})
}

func (m *GradientBoosting) Save(path string) error {
	payload, err := m.Marshal()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, payload)
}

func (m *GradientBoosting) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file modelFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode model %s: %w", path, err)
	}
	if file.FormatVersion != modelFormatVersion || file.ModelType != ModelTypeGradientBoosting {
		return fmt.Errorf("%w: model %s is %s v%d", ErrSchemaMismatch, path, file.ModelType, file.FormatVersion)
	}
	if len(file.Trees) == 0 || len(file.FeatureNames) == 0 {
		return fmt.Errorf("%w: model %s has no trees or features", ErrSchemaMismatch, path)
	}
	for t, tree := range file.Trees {
		for _, node := range tree.Nodes {
			if !node.IsLeaf && (node.FeatureIdx < 0 || node.FeatureIdx >= len(file.FeatureNames)) {
				return fmt.Errorf("%w: tree %d splits on feature %d of %d", ErrSchemaMismatch, t, node.FeatureIdx, len(file.FeatureNames))
			}
		}
	}
	m.Params = file.Params
	m.BaseScore = file.BaseScore
	m.Trees = file.Trees
	m.features = file.FeatureNames
	return nil
}

func sampleRows(rows []int, n int, subsample float64, rng *rand.Rand) []int {
	if subsample >= 1 {
		for i := 0; i < n; i++ {
			rows = append(rows, i)
		}
		return rows
	}
	for i := 0; i < n; i++ {
		if rng.Float64() < subsample {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	const eps = 1e-6
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log(p / (1 - p))
}

func defaultFeatureNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i)
	}
	return names
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected integer, got %v", x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
