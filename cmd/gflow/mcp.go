package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gw123/gflow-sub001/internal/scheduler"
	"github.com/gw123/gflow-sub001/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the gflow tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStack(ctx, a.cfg, a.logger, true)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = st.Close(closeCtx)
			}()

			// Timers are fired by serve; here the scheduler only keeps
			// jobs in step with definitions stored through gflow.define.
			sched := scheduler.NewScheduler(st.store, st.manager, scheduler.WithLogger(a.logger))

			return mcp.New(mcp.Deps{
				Manager:   st.manager,
				Store:     st.store,
				Validator: st.validator,
				Hub:       st.hub,
				Scheduler: sched,
				Logger:    a.logger,
				Version:   version,
			}).Serve(ctx)
		},
	}
}
