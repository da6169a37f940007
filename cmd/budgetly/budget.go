package main

import (
	"fmt"
	"math/big"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/ledger"
)

// parseDeposits splits TOKEN=AMOUNT pairs into parallel lists.
func parseDeposits(pairs []string) ([]string, []*big.Int, error) {
	if len(pairs) == 0 {
		return nil, nil, fmt.Errorf("at least one --token TOKEN=AMOUNT is required")
	}
	tokens := make([]string, 0, len(pairs))
	amounts := make([]*big.Int, 0, len(pairs))
	for _, p := range pairs {
		token, value, ok := strings.Cut(p, "=")
		if !ok || token == "" {
			return nil, nil, fmt.Errorf("invalid --token %q (use TOKEN=AMOUNT)", p)
		}
		v, err := amount.Parse(value)
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, token)
		amounts = append(amounts, v)
	}
	return tokens, amounts, nil
}

func newLockCmd(opts *globalOpts) *cobra.Command {
	var (
		deposits []string
		cycle    time.Duration
		rate     string
		start    string
	)

	cmd := &cobra.Command{
		Use:   "lock NAME",
		Short: "Lock funds under a budget name with a release schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, amounts, err := parseDeposits(deposits)
			if err != nil {
				return err
			}
			perCycle, err := amount.Parse(rate)
			if err != nil {
				return fmt.Errorf("invalid --rate: %w", err)
			}
			req := ledger.LockRequest{
				Name:          args[0],
				Tokens:        tokens,
				Amounts:       amounts,
				ReleaseCycle:  cycle,
				ReleaseAmount: perCycle,
			}
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("invalid --start (use RFC 3339): %w", err)
				}
				req.StartTime = t
			}

			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.LockFunds(cmd.Context(), a.caller(opts.as), req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked budget %s.\n", req.Name)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&deposits, "token", nil, "TOKEN=AMOUNT to lock (repeatable)")
	cmd.Flags().DurationVar(&cycle, "cycle", 0, "release cycle length (e.g. 200s, 24h)")
	cmd.Flags().StringVar(&rate, "rate", "0", "amount released per cycle")
	cmd.Flags().StringVar(&start, "start", "", "schedule start time (RFC 3339, defaults to now)")
	return cmd
}

func newTopUpCmd(opts *globalOpts) *cobra.Command {
	var deposits []string

	cmd := &cobra.Command{
		Use:   "top-up NAME",
		Short: "Add funds to a budget and restart its release clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, amounts, err := parseDeposits(deposits)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.TopUpBudget(cmd.Context(), a.caller(opts.as), args[0], tokens, amounts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Topped up budget %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&deposits, "token", nil, "TOKEN=AMOUNT to add (repeatable)")
	return cmd
}

func newReleaseCmd(opts *globalOpts) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "release NAME",
		Short: "Release everything currently due from a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			due, err := a.engine.GetAvailableBalanceToRelease(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.engine.ReleaseFunds(cmd.Context(), a.caller(opts.as), args[0], to); err != nil {
				return err
			}
			if due.Sign() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to release.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %s from %s.\n", amount.Format(due), args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "beneficiary (defaults to the caller)")
	return cmd
}

func newSetAmountCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set-amount NAME AMOUNT",
		Short: "Change the amount released per cycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := amount.Parse(args[1])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.UpdateReleaseAmount(cmd.Context(), a.caller(opts.as), args[0], rate); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Release amount of %s set to %s.\n", args[0], amount.Format(rate))
			return nil
		},
	}
}

func newSetCycleCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set-cycle NAME DURATION",
		Short: "Change the release cycle length",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.UpdateReleaseCycle(cmd.Context(), a.caller(opts.as), args[0], cycle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Release cycle of %s set to %s.\n", args[0], cycle)
			return nil
		},
	}
}

func newStatusCmd(opts *globalOpts, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: strings.ToUpper(use[:1]) + use[1:] + " releases from a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.ChangeBudgetStatus(cmd.Context(), a.caller(opts.as), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Budget %s %sd.\n", args[0], use)
			return nil
		},
	}
}

func newShowCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a budget and how much of it is releasable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.engine.GetBudgetDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			bd, err := a.engine.Breakdown(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Budget:        %s\n", d.Name)
			fmt.Fprintf(out, "Owner:         %s\n", d.Owner)
			fmt.Fprintf(out, "Enabled:       %t\n", d.Enabled)
			fmt.Fprintf(out, "Cycle:         %s\n", d.ReleaseCycle)
			fmt.Fprintf(out, "Per cycle:     %s\n", amount.Format(d.ReleaseAmount))
			fmt.Fprintf(out, "Last release:  %s\n", d.LastReleaseTime.Format(time.RFC3339))
			fmt.Fprintf(out, "Elapsed:       %d cycles\n", bd.Elapsed)
			fmt.Fprintf(out, "Available:     %s\n\n", amount.Format(bd.Available))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tBALANCE\tPOLICY")
			for _, e := range bd.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Token, amount.Format(e.Balance), e.Policy)
			}
			return w.Flush()
		},
	}
}

func newAvailableCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "available NAME",
		Short: "Print the amount releasable right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.engine.GetAvailableBalanceToRelease(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), amount.Format(v))
			return nil
		},
	}
}

func newListCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every budget with its total and releasable balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := a.engine.GetBudgets(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No budgets found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTOTAL\tAVAILABLE")
			for _, name := range names {
				total, err := a.engine.TotalBalance(cmd.Context(), name)
				if err != nil {
					return err
				}
				avail, err := a.engine.GetAvailableBalanceToRelease(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, amount.Format(total), amount.Format(avail))
			}
			return w.Flush()
		},
	}
}
