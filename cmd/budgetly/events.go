package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/events"
	"github.com/budgetly/budgetly/pkg/models"
)

func newEventsCmd(opts *globalOpts) *cobra.Command {
	var (
		budget string
		kind   string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the ledger event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openEventLog(opts.configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			q := models.EventQueryOpts{
				Budget: budget,
				Kind:   models.EventKind(kind),
				Limit:  limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				q.Since = t
			}

			evs, err := l.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatEvents(evs))
			return nil
		},
	}

	cmd.Flags().StringVar(&budget, "budget", "", "filter by budget name")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")

	cmd.AddCommand(newEventsStatsCmd(opts), newEventsCleanupCmd(opts))
	return cmd
}

func newEventsStatsCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by kind and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openEventLog(opts.configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatEventStats(stats))
			return nil
		},
	}
}

func newEventsCleanupCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openEventLog(opts.configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d events.\n", deleted)
			return nil
		},
	}
}

func openEventLog(configPath string) (*events.Log, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := events.New(cfg.Events)
	if err != nil {
		return nil, nil, fmt.Errorf("open event db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatEvents(evs []models.Event) string {
	if len(evs) == 0 {
		return "No events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-28s %-16s %-12s %s\n", "TIME", "KIND", "BUDGET", "CALLER", "DETAIL")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, e := range evs {
		fmt.Fprintf(&b, "%-20s %-28s %-16s %-12s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Kind, e.Budget, e.Caller, eventDetail(e))
	}
	return b.String()
}

func eventDetail(e models.Event) string {
	var parts []string
	if e.Token != "" && e.Allowed != nil {
		parts = append(parts, fmt.Sprintf("%s allowed=%t", e.Token, *e.Allowed))
	}
	if e.Enabled != nil {
		parts = append(parts, fmt.Sprintf("enabled=%t", *e.Enabled))
	}
	if e.Beneficiary != "" {
		parts = append(parts, "to="+e.Beneficiary)
	}
	for _, ta := range e.Amounts {
		parts = append(parts, ta.Token+"="+amount.Format(ta.Amount))
	}
	if e.Field != "" {
		parts = append(parts, e.Field+"="+e.Value)
	}
	return strings.Join(parts, " ")
}

func formatEventStats(stats []models.EventStat) string {
	if len(stats) == 0 {
		return "No event stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %-12s %8s\n", "KIND", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-28s %-12s %8d\n", s.Kind, s.Day, s.Count)
	}
	return b.String()
}
