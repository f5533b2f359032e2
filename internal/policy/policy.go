package policy

import "math"

// Policy is the mutable configuration governing the standard schedule. It is
// passed by value into every calculation: the calculator never reaches for a
// global, so a snapshot stays stable for the duration of a recompute pass.
type Policy struct {
	// StandardDailyHours is the length of a standard working day, > 0.
	StandardDailyHours float64 `yaml:"standard_daily_hours" env:"POLICY_STANDARD_DAILY_HOURS" env-default:"8"`
	// WorkingDays enables weekdays Monday-first: index 0 is Monday,
	// index 6 is Sunday.
	WorkingDays [7]bool `yaml:"working_days"`
	// UseDecimalHours switches display formatting between 8.50 and 8:30.
	UseDecimalHours bool `yaml:"use_decimal_hours" env:"POLICY_USE_DECIMAL_HOURS"`
	// AnnualVacationDays is the yearly vacation allotment, >= 0.
	AnnualVacationDays int `yaml:"annual_vacation_days" env:"POLICY_ANNUAL_VACATION_DAYS" env-default:"30"`
}

// Default returns the standard Monday-to-Friday eight hour schedule.
func Default() Policy {
	return Policy{
		StandardDailyHours: 8,
		WorkingDays:        [7]bool{true, true, true, true, true, false, false},
		AnnualVacationDays: 30,
	}
}

// StandardSeconds returns the standard day length in whole seconds.
func (p Policy) StandardSeconds() int64 {
	return int64(math.Round(p.StandardDailyHours * 3600))
}

// IsWorkingDay reports whether the Monday-first weekday index is enabled.
func (p Policy) IsWorkingDay(weekday int) bool {
	if weekday < 0 || weekday > 6 {
		return false
	}
	return p.WorkingDays[weekday]
}
