package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// globalOpts are the flags shared by every command.
type globalOpts struct {
	configPath string
	as         string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:           "budgetly",
		Short:         "Budgetly: multi-token budgets released on a schedule",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to budgetly config file")
	root.PersistentFlags().StringVar(&opts.as, "as", "", "identity to act as (defaults to the controller)")

	root.AddCommand(
		newServeCmd(opts),
		newLockCmd(opts),
		newTopUpCmd(opts),
		newReleaseCmd(opts),
		newSetAmountCmd(opts),
		newSetCycleCmd(opts),
		newStatusCmd(opts, "enable", true),
		newStatusCmd(opts, "disable", false),
		newWhitelistCmd(opts),
		newShowCmd(opts),
		newAvailableCmd(opts),
		newListCmd(opts),
		newEventsCmd(opts),
		newVaultCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
