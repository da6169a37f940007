package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/custody"
)

func newVaultCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage balances in the reference custody vault",
	}
	cmd.AddCommand(
		newVaultMintCmd(opts),
		newVaultApproveCmd(opts),
		newVaultBalanceCmd(opts),
	)
	return cmd
}

func openVault(configPath string) (*custody.Vault, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	v, err := custody.New(cfg.Custody.DBPath, cfg.Custody.Escrow)
	if err != nil {
		return nil, nil, fmt.Errorf("open custody db: %w", err)
	}
	return v, func() { _ = v.Close() }, nil
}

func newVaultMintCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "mint TOKEN ACCOUNT AMOUNT",
		Short: "Credit new tokens to an account",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := amount.Parse(args[2])
			if err != nil {
				return err
			}
			vault, cleanup, err := openVault(opts.configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := vault.Mint(cmd.Context(), args[0], args[1], v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Minted %s %s to %s.\n", amount.Format(v), args[0], args[1])
			return nil
		},
	}
}

func newVaultApproveCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "approve TOKEN ACCOUNT AMOUNT",
		Short: "Let the ledger pull up to AMOUNT of TOKEN from ACCOUNT",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := amount.Parse(args[2])
			if err != nil {
				return err
			}
			vault, cleanup, err := openVault(opts.configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := vault.Approve(cmd.Context(), args[0], args[1], v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved %s %s from %s.\n", amount.Format(v), args[0], args[1])
			return nil
		},
	}
}

func newVaultBalanceCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "balance TOKEN ACCOUNT",
		Short: "Print an account's balance and remaining allowance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, cleanup, err := openVault(opts.configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			bal, err := vault.BalanceOf(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			allowance, err := vault.Allowance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Balance:   %s\nAllowance: %s\n", amount.Format(bal), amount.Format(allowance))
			return nil
		},
	}
}
