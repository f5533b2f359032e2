// Package report computes period-bounded rollups over the live record set.
// Pure read side: no mutation, safe to call repeatedly and concurrently with
// reads elsewhere.
package report

import (
	"fmt"
	"time"

	"worklogd/internal/models"
	"worklogd/internal/policy"
	"worklogd/internal/repository"
	"worklogd/internal/timecalc"
)

// Summary is one period's aggregate.
type Summary struct {
	From             time.Time
	To               time.Time
	TotalHours       float64
	OvertimeSeconds  int64
	TotalBonus       float64
	VacationDaysUsed float64
	Records          int
}

// ForRecords aggregates a record slice. Worked hours count Work records
// only; overtime sums over all types, so compensatory days and training
// contribute even though they are not Work. Vacation consumption counts a
// full day per Vacation record and half a day per HalfDayVacation.
func ForRecords(records []*models.WorkRecord) Summary {
	var s Summary
	for _, rec := range records {
		if rec.IsDeleted() {
			continue
		}
		s.Records++
		s.OvertimeSeconds += rec.OvertimeSeconds
		switch rec.Type {
		case models.TypeWork:
			s.TotalHours += rec.TotalHours
			s.TotalBonus += rec.BonusAmount
		case models.TypeVacation:
			s.VacationDaysUsed += 1
		case models.TypeHalfDayVacation:
			s.VacationDaysUsed += 0.5
		}
	}
	return s
}

// Reporter reads the local store for aggregation.
type Reporter struct {
	repo *repository.WorkRecordRepository
}

func NewReporter(repo *repository.WorkRecordRepository) *Reporter {
	return &Reporter{repo: repo}
}

// Range aggregates all live records with dates in [from, to].
func (r *Reporter) Range(from, to time.Time) (Summary, error) {
	records, err := r.repo.QueryByDateRange(from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load records for report: %w", err)
	}
	s := ForRecords(records)
	s.From = from
	s.To = to
	return s, nil
}

// Monthly aggregates one calendar month.
func (r *Reporter) Monthly(year int, month time.Month, loc *time.Location) (Summary, error) {
	from, to := timecalc.MonthRange(year, month, loc)
	return r.Range(from, to)
}

// Yearly aggregates one calendar year.
func (r *Reporter) Yearly(year int, loc *time.Location) (Summary, error) {
	from, to := timecalc.YearRange(year, loc)
	return r.Range(from, to)
}

// RemainingVacation returns the unused part of the annual allotment given a
// yearly summary.
func RemainingVacation(yearly Summary, p policy.Policy) float64 {
	return float64(p.AnnualVacationDays) - yearly.VacationDaysUsed
}
