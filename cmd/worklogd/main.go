package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"worklogd/internal/config"
	"worklogd/internal/database"
	"worklogd/internal/logger"
	"worklogd/internal/models"
	"worklogd/internal/policy"
	"worklogd/internal/remote"
	"worklogd/internal/report"
	"worklogd/internal/repository"
	syncengine "worklogd/internal/sync"
	"worklogd/internal/timecalc"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	repo     *repository.WorkRecordRepository
	policies *policy.Store
	engine   *syncengine.Engine
	reporter *report.Reporter
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	policies, err := policy.NewStore(db.DB, cfg.Policy, log.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	repo := repository.NewWorkRecordRepository(db.DB, log.Logger)
	peer := remote.NewHTTPPeer(
		cfg.Remote.BaseURL,
		cfg.Remote.Token,
		time.Duration(cfg.Remote.Timeout)*time.Second,
		log.Logger,
	)
	cursors := syncengine.NewCursorStore(db.DB)

	engineCfg := syncengine.DefaultConfig()
	engineCfg.PageSize = cfg.Sync.PageSize
	engineCfg.SyncInterval = time.Duration(cfg.Sync.Interval) * time.Second
	engineCfg.RequestTimeout = time.Duration(cfg.Remote.Timeout) * time.Second

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		repo:     repo,
		policies: policies,
		engine:   syncengine.NewEngine(repo, peer, policies, cursors, engineCfg, log.Logger),
		reporter: report.NewReporter(repo),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Error("Failed to close database", zap.Error(err))
	}
	a.log.Sync()
}

func main() {
	var configPath string
	var a *app

	root := &cobra.Command{
		Use:           "worklogd",
		Short:         "Personal work-time tracking with cloud sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(configPath)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.close()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/local.yaml", "path to configuration file")

	root.AddCommand(
		addCmd(&a),
		deleteCmd(&a),
		listCmd(&a),
		reportCmd(&a),
		syncCmd(&a),
		restoreCmd(&a),
		policyCmd(&a),
		serveCmd(&a),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addCmd(a **app) *cobra.Command {
	var (
		id, dateStr, typeStr string
		startStr, endStr     string
		breakMinutes         int64
		bonus                float64
		note                 string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record or update a day's entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDate(dateStr)
			if err != nil {
				return err
			}

			rec := &models.WorkRecord{
				ID:           id,
				Date:         timecalc.StartOfDay(date),
				Type:         models.RecordType(typeStr),
				BreakSeconds: breakMinutes * 60,
				BonusAmount:  bonus,
				Deletion:     models.DeletionLive,
			}
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			} else {
				// Editing an existing record keeps its remote identity.
				existing, err := (*a).repo.Get(rec.ID)
				if err != nil {
					return err
				}
				rec.RemoteVersion = existing.RemoteVersion
			}
			if note != "" {
				rec.Note = &note
			}
			if startStr != "" {
				t, err := parseClock(date, startStr)
				if err != nil {
					return err
				}
				rec.StartTime = &t
			}
			if endStr != "" {
				t, err := parseClock(date, endStr)
				if err != nil {
					return err
				}
				rec.EndTime = &t
			}

			if err := (*a).repo.Upsert(rec, (*a).policies.Get()); err != nil {
				return err
			}

			pol := (*a).policies.Get()
			fmt.Printf("%s  %s  %s  overtime %s\n",
				rec.Date.Format("2006-01-02"),
				rec.Type,
				timecalc.FormatHours(rec.TotalHours, pol.UseDecimalHours),
				timecalc.FormatOvertime(rec.OvertimeSeconds, pol.UseDecimalHours),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "record ID to update (new record when empty)")
	cmd.Flags().StringVar(&dateStr, "date", "", "day in YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&typeStr, "type", string(models.TypeWork), "work|vacation|half_day_vacation|sick_leave|compensatory|training|holiday")
	cmd.Flags().StringVar(&startStr, "start", "", "start time HH:MM (work only)")
	cmd.Flags().StringVar(&endStr, "end", "", "end time HH:MM (work only)")
	cmd.Flags().Int64Var(&breakMinutes, "break", 0, "break in minutes")
	cmd.Flags().Float64Var(&bonus, "bonus", 0, "bonus amount")
	cmd.Flags().StringVar(&note, "note", "", "free-text note")
	return cmd
}

func deleteCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a record (removed remotely on next sync)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*a).repo.SoftDelete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func listCmd(a **app) *cobra.Command {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records in a date range (default: current month)",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			from, to := timecalc.MonthRange(now.Year(), now.Month(), now.Location())
			if fromStr != "" {
				d, err := parseDate(fromStr)
				if err != nil {
					return err
				}
				from = timecalc.StartOfDay(d)
			}
			if toStr != "" {
				d, err := parseDate(toStr)
				if err != nil {
					return err
				}
				to = timecalc.EndOfDay(d)
			}

			records, err := (*a).repo.QueryByDateRange(from, to)
			if err != nil {
				return err
			}

			pol := (*a).policies.Get()
			for _, rec := range records {
				span := ""
				if rec.StartTime != nil && rec.EndTime != nil {
					span = fmt.Sprintf("%s-%s", rec.StartTime.Format("15:04"), rec.EndTime.Format("15:04"))
				}
				note := ""
				if rec.Note != nil {
					note = *rec.Note
				}
				fmt.Printf("%-36s  %s  %-17s  %-11s  %8s  %8s  %s\n",
					rec.ID,
					rec.Date.Format("2006-01-02"),
					rec.Type,
					span,
					timecalc.FormatHours(rec.TotalHours, pol.UseDecimalHours),
					timecalc.FormatOvertime(rec.OvertimeSeconds, pol.UseDecimalHours),
					note,
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "range start YYYY-MM-DD")
	cmd.Flags().StringVar(&toStr, "to", "", "range end YYYY-MM-DD")
	return cmd
}

func reportCmd(a **app) *cobra.Command {
	var monthStr string
	var year int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate hours, overtime, bonus and vacation for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			var summary report.Summary
			var err error

			switch {
			case monthStr != "":
				t, perr := time.ParseInLocation("2006-01", monthStr, now.Location())
				if perr != nil {
					return fmt.Errorf("invalid --month %q (want YYYY-MM)", monthStr)
				}
				summary, err = (*a).reporter.Monthly(t.Year(), t.Month(), now.Location())
			case year != 0:
				summary, err = (*a).reporter.Yearly(year, now.Location())
			default:
				summary, err = (*a).reporter.Monthly(now.Year(), now.Month(), now.Location())
			}
			if err != nil {
				return err
			}

			pol := (*a).policies.Get()
			fmt.Printf("Period        %s – %s\n", summary.From.Format("2006-01-02"), summary.To.Format("2006-01-02"))
			fmt.Printf("Records       %d\n", summary.Records)
			fmt.Printf("Worked hours  %s\n", timecalc.FormatHours(summary.TotalHours, pol.UseDecimalHours))
			fmt.Printf("Overtime      %s\n", timecalc.FormatOvertime(summary.OvertimeSeconds, pol.UseDecimalHours))
			fmt.Printf("Bonus         %.2f\n", summary.TotalBonus)
			fmt.Printf("Vacation used %.1f\n", summary.VacationDaysUsed)
			if year != 0 {
				fmt.Printf("Vacation left %.1f\n", report.RemainingVacation(summary, pol))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&monthStr, "month", "", "calendar month YYYY-MM")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year")
	return cmd
}

func syncCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			(*a).engine.SyncOnce(cmd.Context())
			return printSyncOutcome((*a).engine.Status())
		},
	}
}

func restoreCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Pull every remote record and merge it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			(*a).engine.RestoreOnce(cmd.Context())
			return printSyncOutcome((*a).engine.Status())
		},
	}
}

func printSyncOutcome(st syncengine.Status) error {
	if st.LastError != "" {
		return fmt.Errorf("%s", st.LastError)
	}
	if st.Availability != remote.AvailabilityAvailable {
		fmt.Printf("backend %s, local changes stay queued\n", st.Availability)
		return nil
	}
	fmt.Printf("pushed %d, pulled %d\n", st.Pushed, st.Pulled)
	return nil
}

func policyCmd(a **app) *cobra.Command {
	var hours float64
	var days string
	var vacationDays int
	var decimal bool

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show or change the standard schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := (*a).policies.Get()
			changed := false

			if cmd.Flags().Changed("hours") {
				p.StandardDailyHours = hours
				changed = true
			}
			if cmd.Flags().Changed("days") {
				parsed, err := parseWorkingDays(days)
				if err != nil {
					return err
				}
				p.WorkingDays = parsed
				changed = true
			}
			if cmd.Flags().Changed("vacation-days") {
				p.AnnualVacationDays = vacationDays
				changed = true
			}
			if cmd.Flags().Changed("decimal") {
				p.UseDecimalHours = decimal
				changed = true
			}

			if changed {
				if err := (*a).policies.Set(p); err != nil {
					return err
				}
				// The serve daemon reacts to the change event; a CLI
				// invocation recomputes inline before exiting.
				if _, err := (*a).repo.RecomputeAll(p); err != nil {
					return err
				}
			}

			fmt.Printf("Standard daily hours: %v\n", p.StandardDailyHours)
			fmt.Printf("Working days (Mon-Sun): %s\n", formatWorkingDays(p.WorkingDays))
			fmt.Printf("Annual vacation days: %d\n", p.AnnualVacationDays)
			fmt.Printf("Decimal hours display: %v\n", p.UseDecimalHours)
			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 8, "standard daily hours")
	cmd.Flags().StringVar(&days, "days", "", "working days Monday-first, e.g. 1111100")
	cmd.Flags().IntVar(&vacationDays, "vacation-days", 30, "annual vacation allotment")
	cmd.Flags().BoolVar(&decimal, "decimal", false, "display hours as decimals")
	return cmd
}

func serveCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon (periodic sync + policy watcher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			done := make(chan struct{})
			go func() {
				(*a).engine.Run(ctx)
				close(done)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			sig := <-quit
			(*a).log.Info("Received shutdown signal", zap.String("signal", sig.String()))

			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				(*a).log.Warn("Shutdown timeout reached, exiting anyway")
			}
			return nil
		},
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

func parseClock(date time.Time, s string) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", s, date.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

func parseWorkingDays(s string) ([7]bool, error) {
	var days [7]bool
	if len(s) != 7 || strings.Trim(s, "01") != "" {
		return days, fmt.Errorf("invalid --days %q (want seven 0/1 digits, Monday first)", s)
	}
	for i, c := range s {
		days[i] = c == '1'
	}
	return days, nil
}

func formatWorkingDays(days [7]bool) string {
	names := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	var enabled []string
	for i, d := range days {
		if d {
			enabled = append(enabled, names[i])
		}
	}
	if len(enabled) == 0 {
		return "none"
	}
	return strings.Join(enabled, " ")
}
