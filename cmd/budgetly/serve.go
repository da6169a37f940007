package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/budgetly/budgetly/pkg/api"
)

// errNoAPIKeys is returned by serve when no bearer keys are configured and
// --insecure was not given.
var errNoAPIKeys = errors.New("auth.api_keys is empty: every request could claim any identity via " +
	api.CallerHeader + " (configure api_keys or pass --insecure)")

func newServeCmd(opts *globalOpts) *cobra.Command {
	var (
		listen   string
		insecure bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(a.cfg.Auth.APIKeys) == 0 {
				if !insecure {
					return errNoAPIKeys
				}
				a.logger.Warn("authentication disabled, callers are taken from " + api.CallerHeader)
			}

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}

			var gatherer prometheus.Gatherer
			if a.registry != nil {
				gatherer = a.registry
			}
			srv := api.NewServer(a.engine, a.events, gatherer, a.cfg.Auth.APIKeys, a.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx, addr)
			})
			g.Go(func() error {
				return a.events.RunRetention(gctx)
			})

			a.logger.Info("budgetly started",
				zap.String("addr", addr),
				zap.String("controller", a.cfg.Controller),
				zap.Int("seeded_tokens", len(a.cfg.Tokens)),
			)
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "serve without api_keys, trusting the "+api.CallerHeader+" header (development only)")
	return cmd
}
