package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"opal/internal/api"
	"opal/internal/daemon"
	"opal/internal/logging"
	"opal/internal/pipeline"
	"opal/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run every stage lane and the health/status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := ctx.processLogger("opal")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return ctx.withRuntime(cmd, logger, func(rt *runtime) error {
				handlers, closeSinks, err := rt.buildHandlers(allStages)
				if err != nil {
					return err
				}
				defer closeSinks()

				mgr := workflow.NewManager(rt.cfg, rt.transport, logger)
				mgr.ConfigureStages(handlers...)

				var srv *api.Server
				if rt.cfg.API.Enabled {
					srv = api.NewServer(api.ServerOptions{
						Bind:     rt.cfg.API.Bind,
						Token:    rt.cfg.API.Token,
						Logger:   logger,
						Jobs:     rt.store,
						Workflow: mgr,
					})
				}
				d, err := daemon.New(rt.cfg, mgr, srv, logger)
				if err != nil {
					return fmt.Errorf("create daemon: %w", err)
				}
				if err := d.Run(cmd.Context()); err != nil {
					return err
				}
				logger.Info("opal daemon shutting down")
				return nil
			})
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var serveAPI bool

	cmd := &cobra.Command{
		Use:   "run [stage...]",
		Short: "Run selected stage lanes as a worker process",
		Long: "Run one or more stage lanes in this process. With no stage names every lane runs.\n" +
			"Stages: " + strings.Join(stageNames(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := parseStages(args)
			if err != nil {
				return err
			}
			process := "opal-worker"
			if len(args) > 0 {
				process = "opal-" + strings.Join(stageStrings(selected), "+")
			}
			logger := ctx.cliLogger(cmd)
			if !once {
				if logger, err = ctx.processLogger(process); err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}

			return ctx.withRuntime(cmd, logger, func(rt *runtime) error {
				handlers, closeSinks, err := rt.buildHandlers(selected)
				if err != nil {
					return err
				}
				defer closeSinks()

				mgr := workflow.NewManager(rt.cfg, rt.transport, logger)
				mgr.ConfigureStages(handlers...)

				if once {
					handled, err := drainOnce(cmd.Context(), mgr)
					fmt.Fprintf(cmd.OutOrStdout(), "Handled %d message(s)\n", handled)
					return err
				}

				runCtx := cmd.Context()
				if err := mgr.Start(runCtx); err != nil {
					return err
				}
				defer mgr.Stop()
				if serveAPI {
					srv := api.NewServer(api.ServerOptions{
						Bind:     rt.cfg.API.Bind,
						Token:    rt.cfg.API.Token,
						Logger:   logger,
						Jobs:     rt.store,
						Workflow: mgr,
					})
					if err := srv.Start(runCtx); err != nil {
						return err
					}
					defer srv.Stop()
				}
				logger.Info("worker running", logging.String("stages", strings.Join(stageStrings(selected), ",")))
				<-runCtx.Done()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Drain the selected queues and exit")
	cmd.Flags().BoolVar(&serveAPI, "api", false, "Serve health probes on api.bind while running")
	return cmd
}

// drainOnce polls every lane until a full pass handles nothing. Abandoned
// messages come back until the transport dead-letters them at the delivery
// limit, so the loop ends.
func drainOnce(ctx context.Context, mgr *workflow.Manager) (int, error) {
	total := 0
	for {
		handled, err := mgr.ProcessOnce(ctx)
		total += handled
		if err != nil || handled == 0 {
			return total, err
		}
	}
}

func stageStrings(stages []pipeline.Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, string(s))
	}
	return out
}
