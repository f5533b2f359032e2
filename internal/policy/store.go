package policy

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Store holds the active policy. Reads return a snapshot and are safe from
// any goroutine; writes persist to the settings table and emit a change
// event consumed by the sync engine's owner loop.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.RWMutex
	current Policy

	events chan Policy
}

// NewStore loads the persisted policy, falling back to defaults for keys
// that were never written (first run).
func NewStore(db *sql.DB, defaults Policy, logger *zap.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger,
		events: make(chan Policy, 8),
	}

	loaded, err := s.load(defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	s.current = loaded

	logger.Info("Policy loaded",
		zap.Float64("standard_daily_hours", loaded.StandardDailyHours),
		zap.Int("annual_vacation_days", loaded.AnnualVacationDays),
	)
	return s, nil
}

// Get returns the current policy snapshot.
func (s *Store) Get() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Events returns the channel carrying policy change notifications.
func (s *Store) Events() <-chan Policy {
	return s.events
}

// Set persists and activates a new policy, then notifies listeners. The send
// is non-blocking; if the consumer is behind, only the latest value matters.
func (s *Store) Set(p Policy) error {
	if p.StandardDailyHours <= 0 {
		return fmt.Errorf("standard daily hours must be positive, got %v", p.StandardDailyHours)
	}
	if p.AnnualVacationDays < 0 {
		return fmt.Errorf("annual vacation days must not be negative, got %d", p.AnnualVacationDays)
	}

	if err := s.save(p); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	select {
	case s.events <- p:
	default:
		s.logger.Warn("Policy event channel full, dropping notification")
	}

	s.logger.Info("Policy updated",
		zap.Float64("standard_daily_hours", p.StandardDailyHours),
		zap.String("working_days", encodeWorkingDays(p.WorkingDays)),
	)
	return nil
}

func (s *Store) load(defaults Policy) (Policy, error) {
	p := defaults

	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return p, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return p, fmt.Errorf("failed to scan setting: %w", err)
		}
		switch key {
		case "standard_daily_hours":
			if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
				p.StandardDailyHours = v
			}
		case "working_days":
			if days, ok := decodeWorkingDays(value); ok {
				p.WorkingDays = days
			}
		case "use_decimal_hours":
			p.UseDecimalHours = value == "1"
		case "annual_vacation_days":
			if v, err := strconv.Atoi(value); err == nil && v >= 0 {
				p.AnnualVacationDays = v
			}
		}
	}
	if err := rows.Err(); err != nil {
		return p, fmt.Errorf("error iterating settings: %w", err)
	}
	return p, nil
}

func (s *Store) save(p Policy) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	pairs := map[string]string{
		"standard_daily_hours": strconv.FormatFloat(p.StandardDailyHours, 'f', -1, 64),
		"working_days":         encodeWorkingDays(p.WorkingDays),
		"use_decimal_hours":    boolSetting(p.UseDecimalHours),
		"annual_vacation_days": strconv.Itoa(p.AnnualVacationDays),
	}
	for key, value := range pairs {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func boolSetting(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// encodeWorkingDays renders the Monday-first set as "1111100".
func encodeWorkingDays(days [7]bool) string {
	var b strings.Builder
	for _, d := range days {
		b.WriteString(boolSetting(d))
	}
	return b.String()
}

func decodeWorkingDays(s string) ([7]bool, bool) {
	var days [7]bool
	if len(s) != 7 {
		return days, false
	}
	for i, c := range s {
		switch c {
		case '1':
			days[i] = true
		case '0':
		default:
			return days, false
		}
	}
	return days, true
}
