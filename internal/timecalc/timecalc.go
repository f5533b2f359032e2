// Package timecalc computes the derived time fields of a work record.
//
// Derive is a pure function of the record's inputs and a policy snapshot:
// same inputs always produce the same outputs, with no hidden state. Every
// mutation path (local edit, remote merge, policy change) runs it again so
// stored derived values never outlive their inputs.
package timecalc

import (
	"fmt"
	"math"
	"time"

	"worklogd/internal/models"
	"worklogd/internal/policy"
)

// Derived holds the calculator outputs.
type Derived struct {
	TotalHours      float64
	OvertimeSeconds int64
}

// Derive computes total hours and overtime for one record.
//
// The standard day length applies only to Work and Compensatory records whose
// date falls on an enabled working day. A Work record missing either time
// derives zeros: that is a valid transient state while editing, not an error.
// A Compensatory day consumes a full standard day of accrued overtime, and a
// Training day counts as a full standard day worked with no overtime impact.
func Derive(recordType models.RecordType, date time.Time, start, end *time.Time, breakSeconds int64, p policy.Policy) Derived {
	var standardSeconds int64
	if recordType == models.TypeWork || recordType == models.TypeCompensatory {
		if p.IsWorkingDay(WeekdayIndex(date)) {
			standardSeconds = p.StandardSeconds()
		}
	}

	switch recordType {
	case models.TypeWork:
		if start == nil || end == nil {
			return Derived{}
		}
		worked := end.Sub(*start).Seconds() - float64(breakSeconds)
		return Derived{
			TotalHours:      worked / 3600,
			OvertimeSeconds: int64(math.Round(worked)) - standardSeconds,
		}
	case models.TypeCompensatory:
		return Derived{OvertimeSeconds: -standardSeconds}
	case models.TypeTraining:
		return Derived{TotalHours: float64(standardSeconds) / 3600}
	default:
		// Vacation, half-day vacation, sick leave, holiday.
		return Derived{}
	}
}

// Recompute applies Derive to the record in place and bumps LastModified.
// For non-Work types it also clears the time-bearing fields, so start, end,
// break and bonus stay meaningful only where they apply.
func Recompute(r *models.WorkRecord, p policy.Policy, now time.Time) {
	if r.Type != models.TypeWork {
		r.StartTime = nil
		r.EndTime = nil
		r.BreakSeconds = 0
		r.BonusAmount = 0
	}

	d := Derive(r.Type, r.Date, r.StartTime, r.EndTime, r.BreakSeconds, p)
	r.TotalHours = d.TotalHours
	r.OvertimeSeconds = d.OvertimeSeconds
	r.LastModified = now
}

// WeekdayIndex maps a date to the Monday-first weekday index used by
// Policy.WorkingDays: Monday=0 through Sunday=6.
func WeekdayIndex(t time.Time) int {
	// Go's weekday: Sunday=0, Monday=1, ..., Saturday=6
	wd := int(t.Weekday())
	if wd == 0 {
		return 6
	}
	return wd - 1
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of the same day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// MonthRange returns the first instant of the month and the last second of
// its final day.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	return first, EndOfDay(last)
}

// YearRange returns January 1st 00:00:00 and December 31st 23:59:59.
func YearRange(year int, loc *time.Location) (time.Time, time.Time) {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, loc),
		time.Date(year, time.December, 31, 23, 59, 59, 0, loc)
}

// FormatHours renders a fractional hour count either as a decimal ("8.50")
// or as hours and minutes ("8:30"), per the display preference.
func FormatHours(hours float64, decimal bool) string {
	if decimal {
		return fmt.Sprintf("%.2f", hours)
	}
	negative := hours < 0
	if negative {
		hours = -hours
	}
	totalMinutes := int64(math.Round(hours * 60))
	sign := ""
	if negative {
		sign = "-"
	}
	return fmt.Sprintf("%s%d:%02d", sign, totalMinutes/60, totalMinutes%60)
}

// FormatOvertime renders an overtime second count with an explicit sign,
// like "+1:30" or "-8:00".
func FormatOvertime(seconds int64, decimal bool) string {
	s := FormatHours(float64(seconds)/3600, decimal)
	if seconds >= 0 && len(s) > 0 && s[0] != '-' {
		return "+" + s
	}
	return s
}
