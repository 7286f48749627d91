package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/worklog-cli/internal/observability"
	"github.com/xkilldash9x/worklog-cli/internal/scheduler"
	"github.com/xkilldash9x/worklog-cli/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// schedulerStopTimeout bounds how long shutdown waits for a batch in flight.
const schedulerStopTimeout = 3 * time.Minute

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			ctx := cmd.Context()
			c, err := initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			srvCfg := cfg.Server()
			if addr != "" {
				srvCfg.Addr = addr
			}
			srv, err := server.New(srvCfg, cfg.Worklog().Defaults, c.store, c.batch, logger)
			if err != nil {
				return err
			}
			sched, err := scheduler.New(cfg.Schedule(), c.batch, logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			sched.Start(gctx)
			if next := sched.Next(); !next.IsZero() {
				logger.Info("Next scheduled batch.", zap.Time("at", next))
			}

			g.Go(func() error { return srv.ListenAndServe(gctx) })
			if c.watcher != nil {
				g.Go(func() error { return c.watcher.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), schedulerStopTimeout)
				defer cancel()
				return sched.Stop(stopCtx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding server.addr")
	return cmd
}
