package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/gw123/gflow-sub001/internal/scheduler"
	"github.com/gw123/gflow-sub001/internal/server"
	"github.com/gw123/gflow-sub001/pkg/mcp"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, webhooks and timer triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "", "listen address (default :4100)")
	cmd.Flags().Bool("mcp-http", false, "also serve MCP tools on /mcp")
	_ = a.v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	_ = a.v.BindPFlag("mcp_http", cmd.Flags().Lookup("mcp-http"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	st, err := openStack(ctx, a.cfg, a.logger, true)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(st.store, st.manager,
		scheduler.WithInterval(a.cfg.SchedulerInterval),
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(st.metrics),
	)

	srv := server.New(server.Deps{
		Store:     st.store,
		Manager:   st.manager,
		Validator: st.validator,
		Runners:   st.registry,
		Hub:       st.hub,
		Scheduler: sched,
		Vault:     st.vault,
		Metrics:   st.metrics,
		Logger:    a.logger,
		Version:   version,
	})
	if a.cfg.MCPHTTP {
		tools := mcp.New(mcp.Deps{
			Manager:   st.manager,
			Store:     st.store,
			Validator: st.validator,
			Hub:       st.hub,
			Scheduler: sched,
			Logger:    a.logger,
			Version:   version,
		})
		srv.Mount("/mcp", tools.HTTPHandler(ctx))
	}

	if err := sched.Start(ctx); err != nil {
		_ = st.Close(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(a.cfg.ListenAddr) }()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			a.logger.Error("http server stopped", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("http shutdown", slog.String("error", serr.Error()))
	}
	if serr := sched.Stop(); serr != nil {
		a.logger.Warn("scheduler stop", slog.String("error", serr.Error()))
	}
	if serr := st.Close(shutdownCtx); serr != nil {
		a.logger.Warn("runtime shutdown", slog.String("error", serr.Error()))
	}
	return err
}
