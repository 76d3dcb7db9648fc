package ml

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"flightdelay/flight"
)

func sampleRecords() []flight.Record {
	return []flight.Record{
		{ScheduledAt: "2017-01-01 23:30:00", OperatedAt: "2017-01-01 23:33:00", Operator: "Grupo LATAM", FlightType: "I", DestinationCity: "Miami", DayName: "Domingo"},
		{ScheduledAt: "2017-05-10 08:15:00", OperatedAt: "2017-05-10 08:50:00", Operator: "Sky Airline", FlightType: "N", DestinationCity: "Antofagasta", DayName: "Miercoles"},
		{ScheduledAt: "2017-07-20 14:00:00", OperatedAt: "2017-07-20 14:05:00", Operator: "Grupo LATAM", FlightType: "N", DestinationCity: "Antofagasta", DayName: "Jueves"},
	}
}

func TestFitEncoderLayout(t *testing.T) {
	schema := FeatureSchema{
		Numerical:   []string{flight.ColHighSeason},
		Categorical: []string{flight.ColOperator, flight.ColDayPhase},
	}
	enc, err := FitEncoder(sampleRecords(), schema)
	require.NoError(t, err)

	want := []string{
		"is_high_season",
		"OPERA_Grupo LATAM", "OPERA_Sky Airline",
		"day_phase_evening", "day_phase_morning", "day_phase_night",
	}
	require.Equal(t, want, enc.FeatureNames())

	records := sampleRecords()
	vector, err := enc.Transform(&records[0])
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1, 0, 0, 0, 1}, vector)

	vector, err = enc.Transform(&records[1])
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 1, 0, 1, 0}, vector)
}

func TestEncoderUnknownCategory(t *testing.T) {
	enc, err := FitEncoder(sampleRecords(), FeatureSchema{Categorical: []string{flight.ColOperator}})
	require.NoError(t, err)

	r := flight.Record{ScheduledAt: "2017-03-01 10:00:00", Operator: "Aerolineas Argentinas"}
	vector, err := enc.Transform(&r)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0}, vector)
}

func TestEncoderMissingField(t *testing.T) {
	enc, err := FitEncoder(sampleRecords(), DefaultFeatureSchema())
	require.NoError(t, err)

	r := sampleRecords()[0]
	r.Operator = ""
	_, err = enc.Transform(&r)
	require.True(t, errors.Is(err, flight.ErrMissingField), "got %v", err)

	r = sampleRecords()[0]
	r.ScheduledAt = "yesterday"
	_, err = enc.Transform(&r)
	require.ErrorIs(t, err, flight.ErrInvalidTime)
}

func TestEncoderSaveLoad(t *testing.T) {
	records := sampleRecords()
	enc, err := FitEncoder(records, DefaultFeatureSchema())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "encoder.json")
	require.NoError(t, enc.Save(path))

	loaded, err := LoadEncoder(path)
	require.NoError(t, err)
	require.Equal(t, enc.FeatureNames(), loaded.FeatureNames())
	require.Equal(t, enc.Schema(), loaded.Schema())

	want, err := enc.TransformAll(records)
	require.NoError(t, err)
	got, err := loaded.TransformAll(records)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadEncoderRejectsTamperedFeatures(t *testing.T) {
	enc, err := FitEncoder(sampleRecords(), DefaultFeatureSchema())
	require.NoError(t, err)
	enc.Features = enc.Features[1:]
	payload, err := enc.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "encoder.json")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	_, err = LoadEncoder(path)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestFeatureSchemaValidate(t *testing.T) {
	require.NoError(t, DefaultFeatureSchema().Validate())
	require.Error(t, FeatureSchema{}.Validate())
	require.Error(t, FeatureSchema{Categorical: []string{"OPERA", "OPERA"}}.Validate())
	require.Error(t, FeatureSchema{Categorical: []string{"airline"}}.Validate())

	required := DefaultFeatureSchema().RequiredColumns(true)
	require.Equal(t, []string{"Fecha-I", "Fecha-O", "OPERA", "TIPOVUELO", "SIGLADES", "DIANOM"}, required)
}
