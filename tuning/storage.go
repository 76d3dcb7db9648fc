package tuning

import (
	"time"

	"github.com/c-bata/goptuna"
)

type TrialState string

const (
	StateRunning   TrialState = "running"
	StateCompleted TrialState = "completed"
	StatePruned    TrialState = "pruned"
	StateFailed    TrialState = "failed"
)

// TrialRecord 已结束的试验
type TrialRecord struct {
	Number       int                    `json:"number"`
	State        TrialState             `json:"state"`
	Value        float64                `json:"value"`
	Params       map[string]interface{} `json:"params"`
	Intermediate map[int]float64        `json:"intermediate,omitempty"`
	Error        string                 `json:"error,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
}

func (t TrialRecord) Duration() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}

// NewMemoryStorage 内存存储，进程退出后丢失
func NewMemoryStorage() goptuna.Storage {
	return goptuna.NewInMemoryStorage()
}

// resetStudy 删除同名 study；不存在时什么也不做
func resetStudy(storage goptuna.Storage, name string) error {
	if _, err := storage.GetStudyIDFromName(name); err != nil {
		return nil
	}
	return goptuna.DeleteStudy(name, storage)
}

// countTrials 已存储的试验数；study 不存在时为 0
func countTrials(storage goptuna.Storage, name string) (int, error) {
	id, err := storage.GetStudyIDFromName(name)
	if err != nil {
		return 0, nil
	}
	trials, err := storage.GetAllTrials(id)
	if err != nil {
		return 0, err
	}
	return len(trials), nil
}

func stateOf(s goptuna.TrialState) TrialState {
	switch s {
	case goptuna.TrialStateComplete:
		return StateCompleted
	case goptuna.TrialStatePruned:
		return StatePruned
	case goptuna.TrialStateFail:
		return StateFailed
	}
	return StateRunning
}

// recordOf 把 goptuna 的试验转换成 TrialRecord，参数按配置还原类型
func recordOf(ft goptuna.FrozenTrial, params []ParameterConfig, errs map[int]string) TrialRecord {
	r := TrialRecord{
		Number:       ft.Number,
		State:        stateOf(ft.State),
		Value:        ft.Value,
		Params:       make(map[string]interface{}, len(params)),
		Intermediate: make(map[int]float64, len(ft.IntermediateValues)),
		Error:        errs[ft.Number],
		StartedAt:    ft.DatetimeStart,
		FinishedAt:   ft.DatetimeComplete,
	}
	for _, p := range params {
		if v, ok := ft.InternalParams[p.Name]; ok {
			r.Params[p.Name] = p.external(v)
		}
	}
	for step, v := range ft.IntermediateValues {
		r.Intermediate[step] = v
	}
	if r.State == StatePruned {
		r.Value = lastIntermediate(r.Intermediate)
	}
	return r
}
