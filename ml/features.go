package ml

import (
	"errors"
	"fmt"

	"flightdelay/flight"
)

// FeatureSchema names the columns that feed the model. Numerical columns are
// parsed as floats; categorical columns are one-hot encoded.
type FeatureSchema struct {
	Categorical []string `yaml:"categorical" json:"categorical"`
	Numerical   []string `yaml:"numerical" json:"numerical"`
}

func DefaultFeatureSchema() FeatureSchema {
	return FeatureSchema{
		Categorical: []string{
			flight.ColOperator,
			flight.ColFlightType,
			flight.ColDestinationCity,
			flight.ColDayName,
			flight.ColDayPhase,
			flight.ColMonthOfYr,
		},
		Numerical: []string{flight.ColHighSeason},
	}
}

func (s FeatureSchema) Validate() error {
	if len(s.Categorical)+len(s.Numerical) == 0 {
		return errors.New("feature schema is empty")
	}
	seen := make(map[string]bool)
	for _, name := range s.Columns() {
		if !flight.KnownColumn(name) {
			return fmt.Errorf("feature schema: unknown column %q", name)
		}
		if seen[name] {
			return fmt.Errorf("feature schema: column %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Columns returns numerical columns followed by categorical columns, the same
// order used to lay out the feature vector.
func (s FeatureSchema) Columns() []string {
	columns := make([]string, 0, len(s.Numerical)+len(s.Categorical))
	columns = append(columns, s.Numerical...)
	columns = append(columns, s.Categorical...)
	return columns
}

// RequiredColumns lists the raw columns a record must carry to be encoded.
// Derived columns pull in Fecha-I; labelled records also need Fecha-O.
func (s FeatureSchema) RequiredColumns(withLabel bool) []string {
	required := []string{flight.ColScheduledAt}
	seen := map[string]bool{flight.ColScheduledAt: true}
	if withLabel {
		required = append(required, flight.ColOperatedAt)
		seen[flight.ColOperatedAt] = true
	}
	for _, name := range s.Columns() {
		if flight.IsDerived(name) || seen[name] {
			continue
		}
		seen[name] = true
		required = append(required, name)
	}
	return required
}
