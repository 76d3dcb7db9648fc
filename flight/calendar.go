package flight

import "time"

type dayRange struct {
	fromMonth time.Month
	fromDay   int
	toMonth   time.Month
	toDay     int
}

// High season windows, inclusive on both ends.
var highSeason = []dayRange{
	{time.December, 15, time.December, 31},
	{time.January, 1, time.March, 3},
	{time.July, 15, time.July, 31},
	{time.September, 11, time.September, 30},
}

// IsHighSeason compares calendar days only, so the last day of a window
// counts for the whole day: 2017-03-03 08:00 is high season, 2017-03-04 00:00
// is not. Time of day and location are ignored.
func IsHighSeason(t time.Time) bool {
	key := int(t.Month())*100 + t.Day()
	for _, r := range highSeason {
		from := int(r.fromMonth)*100 + r.fromDay
		to := int(r.toMonth)*100 + r.toDay
		if key >= from && key <= to {
			return true
		}
	}
	return false
}

const (
	PhaseMorning = "morning"
	PhaseEvening = "evening"
	PhaseNight   = "night"
)

// DayPhase buckets the time of day: 05:00-11:59 morning, 12:00-18:59
// evening, anything else night.
func DayPhase(t time.Time) string {
	minutes := t.Hour()*60 + t.Minute()
	switch {
	case minutes >= 5*60 && minutes < 12*60:
		return PhaseMorning
	case minutes >= 12*60 && minutes < 19*60:
		return PhaseEvening
	default:
		return PhaseNight
	}
}
