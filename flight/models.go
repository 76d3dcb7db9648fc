package flight

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the datetime layout used by Fecha-I and Fecha-O.
const TimeLayout = "2006-01-02 15:04:05"

// Raw column names, as they appear in the dataset header.
const (
	ColScheduledAt     = "Fecha-I"
	ColFlightNumber    = "Vlo-I"
	ColOrigin          = "Ori-I"
	ColDestination     = "Des-I"
	ColAirline         = "Emp-I"
	ColOperatedAt      = "Fecha-O"
	ColOpFlightNumber  = "Vlo-O"
	ColOpOrigin        = "Ori-O"
	ColOpDestination   = "Des-O"
	ColOpAirline       = "Emp-O"
	ColDay             = "DIA"
	ColMonth           = "MES"
	ColYear            = "AÑO"
	ColDayName         = "DIANOM"
	ColFlightType      = "TIPOVUELO"
	ColOperator        = "OPERA"
	ColOriginCity      = "SIGLAORI"
	ColDestinationCity = "SIGLADES"
)

// Derived column names. These are computed from Fecha-I.
const (
	ColHighSeason = "is_high_season"
	ColDayPhase   = "day_phase"
	ColDayOfMonth = "Day-I"
	ColMonthOfYr  = "Month-I"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidTime  = errors.New("invalid datetime")
	ErrUnknownField = errors.New("unknown column")
)

// Record is one raw flight observation. Fecha-O is only known for historical
// flights and is left empty in prediction requests.
type Record struct {
	ScheduledAt     string `json:"Fecha-I"`
	FlightNumber    string `json:"Vlo-I,omitempty"`
	Origin          string `json:"Ori-I,omitempty"`
	Destination     string `json:"Des-I,omitempty"`
	Airline         string `json:"Emp-I,omitempty"`
	OperatedAt      string `json:"Fecha-O,omitempty"`
	OpFlightNumber  string `json:"Vlo-O,omitempty"`
	OpOrigin        string `json:"Ori-O,omitempty"`
	OpDestination   string `json:"Des-O,omitempty"`
	OpAirline       string `json:"Emp-O,omitempty"`
	Day             string `json:"DIA,omitempty"`
	Month           string `json:"MES,omitempty"`
	Year            string `json:"AÑO,omitempty"`
	DayName         string `json:"DIANOM,omitempty"`
	FlightType      string `json:"TIPOVUELO,omitempty"`
	Operator        string `json:"OPERA,omitempty"`
	OriginCity      string `json:"SIGLAORI,omitempty"`
	DestinationCity string `json:"SIGLADES,omitempty"`
}

// RawColumns lists every raw column in dataset order.
func RawColumns() []string {
	return []string{
		ColScheduledAt, ColFlightNumber, ColOrigin, ColDestination, ColAirline,
		ColOperatedAt, ColOpFlightNumber, ColOpOrigin, ColOpDestination, ColOpAirline,
		ColDay, ColMonth, ColYear, ColDayName, ColFlightType, ColOperator,
		ColOriginCity, ColDestinationCity,
	}
}

// DerivedColumns lists the columns computed from the scheduled time.
func DerivedColumns() []string {
	return []string{ColHighSeason, ColDayPhase, ColDayOfMonth, ColMonthOfYr}
}

// IsDerived reports whether name is a derived column.
func IsDerived(name string) bool {
	for _, c := range DerivedColumns() {
		if c == name {
			return true
		}
	}
	return false
}

// KnownColumn reports whether name is a raw or derived column.
func KnownColumn(name string) bool {
	if IsDerived(name) {
		return true
	}
	_, ok := (&Record{}).rawField(name)
	return ok
}

// FromRow builds a record from a CSV row using the header index.
// Columns missing from the header are left empty.
func FromRow(index map[string]int, row []string) Record {
	var r Record
	for _, name := range RawColumns() {
		i, ok := index[name]
		if !ok || i >= len(row) {
			continue
		}
		r.set(name, row[i])
	}
	r.Normalize()
	return r
}

// Normalize trims surrounding whitespace from every raw field. CSV rows and
// request bodies both pass through it before encoding.
func (r *Record) Normalize() {
	for _, name := range RawColumns() {
		if f, ok := r.rawField(name); ok {
			*f = strings.TrimSpace(*f)
		}
	}
}

// Column returns the value of a raw or derived column.
func (r *Record) Column(name string) (string, error) {
	if v, ok := r.rawField(name); ok {
		return *v, nil
	}
	if !IsDerived(name) {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	t, err := r.Scheduled()
	if err != nil {
		return "", err
	}
	switch name {
	case ColHighSeason:
		if IsHighSeason(t) {
			return "1", nil
		}
		return "0", nil
	case ColDayPhase:
		return DayPhase(t), nil
	case ColDayOfMonth:
		return strconv.Itoa(t.Day()), nil
	default:
		return strconv.Itoa(int(t.Month())), nil
	}
}

// Scheduled parses Fecha-I.
func (r *Record) Scheduled() (time.Time, error) {
	return parseTime(ColScheduledAt, r.ScheduledAt)
}

// Operated parses Fecha-O.
func (r *Record) Operated() (time.Time, error) {
	return parseTime(ColOperatedAt, r.OperatedAt)
}

// DelayMinutes is the difference between operated and scheduled time.
func (r *Record) DelayMinutes() (float64, error) {
	scheduled, err := r.Scheduled()
	if err != nil {
		return 0, err
	}
	operated, err := r.Operated()
	if err != nil {
		return 0, err
	}
	return operated.Sub(scheduled).Minutes(), nil
}

// Label returns 1 when the flight left more than threshold minutes late.
func (r *Record) Label(thresholdMinutes float64) (int, error) {
	delay, err := r.DelayMinutes()
	if err != nil {
		return 0, err
	}
	if delay > thresholdMinutes {
		return 1, nil
	}
	return 0, nil
}

func parseTime(column, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("%w: %s", ErrMissingField, column)
	}
	t, err := time.Parse(TimeLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s=%q", ErrInvalidTime, column, value)
	}
	return t, nil
}

func (r *Record) set(name, value string) {
	if f, ok := r.rawField(name); ok {
		*f = value
	}
}

func (r *Record) rawField(name string) (*string, bool) {
	switch name {
	case ColScheduledAt:
		return &r.ScheduledAt, true
	case ColFlightNumber:
		return &r.FlightNumber, true
	case ColOrigin:
		return &r.Origin, true
	case ColDestination:
		return &r.Destination, true
	case ColAirline:
		return &r.Airline, true
	case ColOperatedAt:
		return &r.OperatedAt, true
	case ColOpFlightNumber:
		return &r.OpFlightNumber, true
	case ColOpOrigin:
		return &r.OpOrigin, true
	case ColOpDestination:
		return &r.OpDestination, true
	case ColOpAirline:
		return &r.OpAirline, true
	case ColDay:
		return &r.Day, true
	case ColMonth:
		return &r.Month, true
	case ColYear:
		return &r.Year, true
	case ColDayName:
		return &r.DayName, true
	case ColFlightType:
		return &r.FlightType, true
	case ColOperator:
		return &r.Operator, true
	case ColOriginCity:
		return &r.OriginCity, true
	case ColDestinationCity:
		return &r.DestinationCity, true
	}
	return nil, false
}
