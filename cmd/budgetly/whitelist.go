package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhitelistCmd(opts *globalOpts) *cobra.Command {
	var (
		remove bool
		check  bool
	)

	cmd := &cobra.Command{
		Use:   "whitelist TOKEN",
		Short: "Allow a token for new locks, or delist it with --remove",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			token := args[0]
			if !check {
				if err := a.engine.SetTokenStatus(cmd.Context(), a.caller(opts.as), token, !remove); err != nil {
					return err
				}
			}
			ok, err := a.engine.IsAllowed(cmd.Context(), token)
			if err != nil {
				return err
			}
			status := "delisted"
			if ok {
				status = "whitelisted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token %s is %s.\n", token, status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "delist the token")
	cmd.Flags().BoolVar(&check, "check", false, "only print the current status")
	return cmd
}
