package attendance

import "time"

// Policy selects how marks are grouped into periods and how eligibility is measured.
type Policy string

const (
	// PolicyCalendar merges marks into one period per calendar day.
	PolicyCalendar Policy = "calendar"
	// PolicyDemo turns every mark into a new period on the next synthetic day.
	PolicyDemo Policy = "demo"
)

// Settings are the tunable timing rules. The zero value is not usable; start from DefaultSettings.
type Settings struct {
	Policy Policy `json:"policy"`
	// DemoWindow is the eligibility denominator under PolicyDemo.
	DemoWindow int `json:"demo_window"`
	// CalendarWindowDays is the trailing window, ending today, whose weekdays form the
	// eligibility denominator under PolicyCalendar.
	CalendarWindowDays int `json:"calendar_window_days"`
	// Threshold is the minimum percentage for a positive eligibility verdict.
	Threshold float64 `json:"threshold"`
	// Location defines calendar-day boundaries. Nil means time.Local.
	Location *time.Location `json:"-"`
}

// DefaultSettings returns the calendar-day policy with the stock constants.
func DefaultSettings() Settings {
	return Settings{
		Policy:             PolicyCalendar,
		DemoWindow:         10,
		CalendarWindowDays: 30,
		Threshold:          65,
		Location:           time.Local,
	}
}

// Validate checks that the settings can drive the engine.
func (s Settings) Validate() error {
	switch s.Policy {
	case PolicyCalendar, PolicyDemo:
	default:
		return invalid("settings", "policy", "policy must be \"calendar\" or \"demo\"")
	}
	if s.DemoWindow <= 0 {
		return invalid("settings", "demo_window", "demo_window must be positive")
	}
	if s.CalendarWindowDays <= 0 {
		return invalid("settings", "calendar_window_days", "calendar_window_days must be positive")
	}
	if s.Threshold < 0 || s.Threshold > 100 {
		return invalid("settings", "threshold", "threshold must be between 0 and 100")
	}
	return nil
}

func (s Settings) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// Day truncates t to midnight of its calendar date in the settings' location.
func (s Settings) Day(t time.Time) time.Time {
	t = t.In(s.location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
