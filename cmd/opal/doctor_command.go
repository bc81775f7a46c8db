package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"opal/internal/preflight"
	"opal/internal/providers"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color := useColor(out)

			results := preflight.RunAll(cmd.Context(), cfg)
			printSection(out, "Preflight", color)
			for _, r := range results {
				state := checkPass
				if !r.Passed {
					state = checkFail
				}
				printCheck(out, r.Name, state, r.Detail, color)
			}

			printSection(out, "Providers", color)
			for _, p := range []struct{ stage, name string }{
				{"bg-removal", cfg.Providers.Background},
				{"scene", cfg.Providers.Scene},
				{"upscale", cfg.Providers.Upscale},
			} {
				if p.name == "" || p.name == providers.None {
					printCheck(out, stageLabel(p.stage), checkInfo, "passthrough", color)
					continue
				}
				printCheck(out, stageLabel(p.stage), checkInfo, p.name, color)
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
}
