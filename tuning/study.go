package tuning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/c-bata/goptuna"
	"go.uber.org/zap"
)

var (
	// ErrPruned 与 goptuna.ErrTrialPruned 相同，errors.Is 两者皆可
	ErrPruned            = goptuna.ErrTrialPruned
	ErrNoCompletedTrials = errors.New("no trial completed")
)

// Objective 目标函数，返回验证集指标
type Objective func(ctx context.Context, trial *Trial) (float64, error)

// Trial 进行中的试验，包装 goptuna.Trial
type Trial struct {
	number int
	params map[string]interface{}
	gt     goptuna.Trial
	prune  bool
}

func (t *Trial) Number() int { return t.number }

// Params 返回采样的参数副本
func (t *Trial) Params() map[string]interface{} {
	out := make(map[string]interface{}, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// Report 上报中间值；如果剪枝器判定需要剪枝，返回 ErrPruned
func (t *Trial) Report(step int, value float64) error {
	if err := t.gt.Report(value, step); err != nil {
		return fmt.Errorf("report step %d: %w", step, err)
	}
	if !t.prune {
		return nil
	}
	prune, err := t.gt.ShouldPrune()
	if err != nil {
		return fmt.Errorf("pruner: %w", err)
	}
	if prune {
		return fmt.Errorf("%w at step %d (value %.4f)", ErrPruned, step, value)
	}
	return nil
}

// StudyResult 搜索结果
type StudyResult struct {
	Best      TrialRecord   `json:"best"`
	Trials    []TrialRecord `json:"trials"`
	Completed int           `json:"completed"`
	Pruned    int           `json:"pruned"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Study 超参数搜索，由 goptuna 负责采样、剪枝和存储
type Study struct {
	config  SearchConfig
	storage goptuna.Storage
	pruner  *MedianPruner
	errs    map[int]string
}

// NewStudy 创建 study；storage 为 nil 时使用内存存储
func NewStudy(config SearchConfig, storage goptuna.Storage) (*Study, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Study{config: config, storage: storage, errs: make(map[int]string)}
	if config.Pruner.Enabled {
		s.pruner = NewMedianPruner(config.Pruner, config.Direction)
	}
	return s, nil
}

// Optimize 依次执行试验并返回最优试验
func (s *Study) Optimize(ctx context.Context, objective Objective) (*StudyResult, error) {
	start := time.Now()
	study, first, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	total := first + s.config.NTrials
	if s.config.Method == MethodGrid {
		size := gridSize(s.config.Params)
		if total > size {
			total = size
		}
		if first >= size {
			zap.L().Info("grid already exhausted", zap.String("study", s.config.StudyName), zap.Int("grid_size", size))
		}
	}

	zap.L().Info("starting hyperparameter search",
		zap.String("study", s.config.StudyName),
		zap.String("method", s.config.Method),
		zap.Int("first_trial", first),
		zap.Int("n_trials", total-first),
	)

	for number := first; number < total; number++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("hyperparameter search cancelled: %w", ctx.Err())
		default:
		}
		if s.config.Timeout > 0 && time.Since(start) >= s.config.Timeout {
			zap.L().Info("search timeout reached", zap.Duration("timeout", s.config.Timeout), zap.Int("trials_run", number-first))
			break
		}

		var trialErr error
		err := study.Optimize(s.wrap(ctx, objective, &trialErr), 1)
		if err != nil && (trialErr == nil || !errors.Is(err, trialErr)) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("hyperparameter search cancelled: %w", ctx.Err())
			}
			return nil, fmt.Errorf("trial %d: %w", number, err)
		}
	}

	trials, err := s.trials(study)
	if err != nil {
		return nil, err
	}
	for _, t := range trials[first:] {
		fields := []zap.Field{
			zap.Int("trial", t.Number),
			zap.String("state", string(t.State)),
			zap.Float64("value", t.Value),
			zap.Any("params", t.Params),
			zap.Duration("duration", t.Duration()),
		}
		if t.Error != "" {
			fields = append(fields, zap.String("error", t.Error))
		}
		zap.L().Info("trial finished", fields...)
	}
	return s.result(trials, start)
}

// open 创建或加载 goptuna study，返回已有的试验数
func (s *Study) open(ctx context.Context) (*goptuna.Study, int, error) {
	if !s.config.Resume {
		if err := resetStudy(s.storage, s.config.StudyName); err != nil {
			return nil, 0, fmt.Errorf("reset study: %w", err)
		}
	}
	existing, err := countTrials(s.storage, s.config.StudyName)
	if err != nil {
		return nil, 0, fmt.Errorf("load study: %w", err)
	}
	if existing > 0 {
		zap.L().Info("resuming study", zap.String("study", s.config.StudyName), zap.Int("existing_trials", existing))
	}

	sampler, err := newSampler(s.config, existing)
	if err != nil {
		return nil, 0, err
	}
	direction := goptuna.StudyDirectionMaximize
	if s.config.Direction == DirectionMinimize {
		direction = goptuna.StudyDirectionMinimize
	}
	opts := []goptuna.StudyOption{
		goptuna.StudyOptionStorage(s.storage),
		goptuna.StudyOptionSampler(sampler),
		goptuna.StudyOptionDirection(direction),
		goptuna.StudyOptionLoadIfExists(true),
		goptuna.StudyOptionIgnoreError(true),
		goptuna.StudyOptionLogger(zapLogger{zap.S().Named("goptuna")}),
	}
	if s.pruner != nil {
		opts = append(opts, goptuna.StudyOptionPruner(s.pruner))
	}
	study, err := goptuna.CreateStudy(s.config.StudyName, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("open study: %w", err)
	}
	study.WithContext(ctx)
	return study, existing, nil
}

// wrap 适配成 goptuna 目标函数：按配置顺序采样参数，并把错误归类
func (s *Study) wrap(ctx context.Context, objective Objective, trialErr *error) goptuna.FuncObjective {
	return func(gt goptuna.Trial) (float64, error) {
		number, err := gt.Number()
		if err != nil {
			return 0, err
		}
		params, err := s.suggest(gt)
		if err != nil {
			*trialErr = err
			s.errs[number] = err.Error()
			return 0, err
		}
		trial := &Trial{number: number, params: params, gt: gt, prune: s.pruner != nil}

		value, err := objective(ctx, trial)
		switch {
		case errors.Is(err, ErrPruned):
			return 0, goptuna.ErrTrialPruned
		case err == nil && (math.IsNaN(value) || math.IsInf(value, 0)):
			err = fmt.Errorf("objective returned %v", value)
		}
		if err != nil {
			*trialErr = err
			s.errs[number] = err.Error()
			return 0, err
		}
		return value, nil
	}
}

func (s *Study) suggest(gt goptuna.Trial) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(s.config.Params))
	for _, p := range s.config.Params {
		var (
			v   interface{}
			err error
		)
		switch p.Type {
		case TypeInt:
			if p.Step > 1 {
				v, err = gt.SuggestStepInt(p.Name, int(p.Low), int(p.High), int(p.Step))
			} else {
				v, err = gt.SuggestInt(p.Name, int(p.Low), int(p.High))
			}
		case TypeFloat:
			if p.Step > 0 {
				var f float64
				f, err = gt.SuggestDiscreteFloat(p.Name, p.Low, p.High, p.Step)
				v = math.Round(f*1e9) / 1e9
			} else {
				v, err = gt.SuggestFloat(p.Name, p.Low, p.High)
			}
		default:
			choices := make([]string, len(p.Values))
			for i, c := range p.Values {
				choices[i] = fmt.Sprint(c)
			}
			var c string
			c, err = gt.SuggestCategorical(p.Name, choices)
			for i := range choices {
				if choices[i] == c {
					v = p.Values[i]
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("suggest %s: %w", p.Name, err)
		}
		params[p.Name] = v
	}
	return params, nil
}

func (s *Study) trials(study *goptuna.Study) ([]TrialRecord, error) {
	frozen, err := study.GetTrials()
	if err != nil {
		return nil, fmt.Errorf("load trials: %w", err)
	}
	out := make([]TrialRecord, 0, len(frozen))
	for _, ft := range frozen {
		out = append(out, recordOf(ft, s.config.Params, s.errs))
	}
	return out, nil
}

func (s *Study) result(trials []TrialRecord, start time.Time) (*StudyResult, error) {
	res := &StudyResult{Trials: trials, Duration: time.Since(start)}
	found := false
	for _, t := range trials {
		switch t.State {
		case StateCompleted:
			res.Completed++
			if !found || s.isBetter(t.Value, res.Best.Value) {
				res.Best = t
				found = true
			}
		case StatePruned:
			res.Pruned++
		case StateFailed:
			res.Failed++
		}
	}
	if !found {
		return res, ErrNoCompletedTrials
	}
	return res, nil
}

// isBetter 比较指标；相等时保留先完成的试验
func (s *Study) isBetter(value, best float64) bool {
	if s.config.Direction == DirectionMinimize {
		return value < best
	}
	return value > best
}

func lastIntermediate(values map[int]float64) float64 {
	step, ok := latestStep(values)
	if !ok {
		return 0
	}
	return values[step]
}

// zapLogger 把 goptuna 的日志转给 zap；逐试验的信息降为 debug，结果由 Optimize 统一记录
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debug(msg string, fields ...interface{}) { l.s.Debugw(msg, fields...) }
func (l zapLogger) Info(msg string, fields ...interface{})  { l.s.Debugw(msg, fields...) }
func (l zapLogger) Warn(msg string, fields ...interface{})  { l.s.Warnw(msg, fields...) }
func (l zapLogger) Error(msg string, fields ...interface{}) { l.s.Debugw(msg, fields...) }
