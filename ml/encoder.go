package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"flightdelay/flight"
)

const encoderFormatVersion = 1

var ErrSchemaMismatch = errors.New("schema mismatch")

type CategoricalColumn struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// Encoder turns a flight record into a feature vector. It is fitted once on
// the training records and read-only afterwards.
//
// Layout: numerical columns in schema order, then one block per categorical
// column holding one slot per category (sorted). A category not seen during
// fitting leaves its block all zero.
type Encoder struct {
	FormatVersion int                 `json:"format_version"`
	Numerical     []string            `json:"numerical"`
	Categorical   []CategoricalColumn `json:"categorical"`
	Features      []string            `json:"feature_names"`

	index   []map[string]int
	offsets []int
}

func FitEncoder(records []flight.Record, schema FeatureSchema) (*Encoder, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no records to fit encoder")
	}

	enc := &Encoder{
		FormatVersion: encoderFormatVersion,
		Numerical:     append([]string(nil), schema.Numerical...),
	}
	for _, name := range schema.Categorical {
		values := make(map[string]struct{})
		for i := range records {
			v, err := records[i].Column(name)
			if err != nil {
				return nil, fmt.Errorf("fit encoder: row %d: %w", i, err)
			}
			if v == "" {
				return nil, fmt.Errorf("fit encoder: row %d: %w: %s", i, flight.ErrMissingField, name)
			}
			values[v] = struct{}{}
		}
		categories := make([]string, 0, len(values))
		for v := range values {
			categories = append(categories, v)
		}
		sort.Strings(categories)
		enc.Categorical = append(enc.Categorical, CategoricalColumn{Name: name, Categories: categories})
	}

	enc.Features = enc.featureNames()
	enc.buildIndex()
	return enc, nil
}

// Transform encodes one record. It is the only way feature vectors are built,
// for training and for serving alike.
func (e *Encoder) Transform(r *flight.Record) ([]float64, error) {
	vector := make([]float64, len(e.Features))
	for i, name := range e.Numerical {
		raw, err := r.Column(name)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%w: %s", flight.ErrMissingField, name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: invalid number %q", name, raw)
		}
		vector[i] = v
	}
	for c, col := range e.Categorical {
		v, err := r.Column(col.Name)
		if err != nil {
			return nil, err
		}
		if v == "" {
			return nil, fmt.Errorf("%w: %s", flight.ErrMissingField, col.Name)
		}
		if j, ok := e.index[c][v]; ok {
			vector[e.offsets[c]+j] = 1
		}
	}
	return vector, nil
}

func (e *Encoder) TransformAll(records []flight.Record) ([][]float64, error) {
	out := make([][]float64, len(records))
	for i := range records {
		v, err := e.Transform(&records[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *Encoder) FeatureNames() []string {
	return append([]string(nil), e.Features...)
}

func (e *Encoder) Schema() FeatureSchema {
	schema := FeatureSchema{Numerical: append([]string(nil), e.Numerical...)}
	for _, col := range e.Categorical {
		schema.Categorical = append(schema.Categorical, col.Name)
	}
	return schema
}

func (e *Encoder) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

func (e *Encoder) Save(path string) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, payload)
}

func LoadEncoder(path string) (*Encoder, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var enc Encoder
	if err := json.Unmarshal(payload, &enc); err != nil {
		return nil, fmt.Errorf("decode encoder %s: %w", path, err)
	}
	if enc.FormatVersion != encoderFormatVersion {
		return nil, fmt.Errorf("%w: encoder format version %d, want %d", ErrSchemaMismatch, enc.FormatVersion, encoderFormatVersion)
	}
	if err := enc.Schema().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	names := enc.featureNames()
	if len(names) != len(enc.Features) {
		return nil, fmt.Errorf("%w: encoder lists %d features, categories imply %d", ErrSchemaMismatch, len(enc.Features), len(names))
	}
	for i := range names {
		if names[i] != enc.Features[i] {
			return nil, fmt.Errorf("%w: feature %d is %q, want %q", ErrSchemaMismatch, i, enc.Features[i], names[i])
		}
	}
	enc.buildIndex()
	return &enc, nil
}

func (e *Encoder) featureNames() []string {
	names := append([]string(nil), e.Numerical...)
	for _, col := range e.Categorical {
		for _, category := range col.Categories {
			names = append(names, col.Name+"_"+category)
		}
	}
	return names
}

func (e *Encoder) buildIndex() {
	e.index = make([]map[string]int, len(e.Categorical))
	e.offsets = make([]int, len(e.Categorical))
	offset := len(e.Numerical)
	for c, col := range e.Categorical {
		e.offsets[c] = offset
		e.index[c] = make(map[string]int, len(col.Categories))
		for j, category := range col.Categories {
			e.index[c][category] = j
		}
		offset += len(col.Categories)
	}
}
