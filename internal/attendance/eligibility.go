package attendance

import (
	"math"
	"time"
)

// Verdict is the eligibility of one student.
type Verdict struct {
	Periods      int     `json:"total_attendances"`
	PossibleDays int     `json:"possible_days"`
	Percentage   int     `json:"percentage_attendance"`
	Eligible     bool    `json:"is_eligible"`
	exact        float64 // capped, unrounded percentage
}

// Engine computes attendance percentages. It holds no state; the same settings, date and
// period count always give the same verdict.
type Engine struct {
	Settings Settings
	// Today is the calendar date the trailing window ends on.
	Today time.Time
}

// PossibleDays is the denominator under the engine's policy.
func (e Engine) PossibleDays() int {
	if e.Settings.Policy == PolicyDemo {
		return e.Settings.DemoWindow
	}
	return WorkingDays(e.Today, e.Settings.CalendarWindowDays)
}

// Evaluate scores a student with the given number of periods.
func (e Engine) Evaluate(periods int) Verdict {
	return e.evaluate(periods, e.PossibleDays())
}

func (e Engine) evaluate(periods, possible int) Verdict {
	v := Verdict{Periods: periods, PossibleDays: possible}
	if possible > 0 {
		v.exact = math.Min(100, float64(periods)/float64(possible)*100)
	}
	v.Percentage = int(math.Round(v.exact))
	v.Eligible = v.exact >= e.Settings.Threshold
	return v
}

// CountEligible returns how many of the given period counts meet the threshold.
func (e Engine) CountEligible(periodCounts []int) int {
	possible := e.PossibleDays()
	n := 0
	for _, c := range periodCounts {
		if e.evaluate(c, possible).Eligible {
			n++
		}
	}
	return n
}

// WorkingDays counts Monday through Friday among the days calendar days ending on today.
func WorkingDays(today time.Time, days int) int {
	n := 0
	for i := 0; i < days; i++ {
		switch today.AddDate(0, 0, -i).Weekday() {
		case time.Saturday, time.Sunday:
		default:
			n++
		}
	}
	return n
}
