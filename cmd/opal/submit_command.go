package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"opal/internal/api"
	"opal/internal/config"
	"opal/internal/jobs"
	"opal/internal/pipeline"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var tenant string
	var correlationID string
	var asJSON bool
	opts := jobs.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "submit <image>...",
		Short: "Create a job from local images and enqueue it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads := make([]pipeline.Upload, 0, len(args))
			for _, arg := range args {
				path, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", arg, err)
				}
				uploads = append(uploads, pipeline.Upload{Filename: filepath.Base(path), Data: data})
			}

			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				receipt, err := rt.pipe.Submit(cmd.Context(), pipeline.Submission{
					TenantID:      tenant,
					Options:       opts,
					Uploads:       uploads,
					CorrelationID: correlationID,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), api.JobResponse{
						Job:   api.FromJob(receipt.Job, receipt.Items),
						Items: api.FromItems(receipt.Items),
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s submitted (%d item(s), correlation %s)\n", receipt.Job.ID, len(receipt.Items), receipt.CorrelationID)
				rows := make([][]string, 0, len(receipt.Items))
				for _, item := range receipt.Items {
					rows = append(rows, []string{item.ID, item.Filename, string(item.Status)})
				}
				printTable(out, []column{left("Item"), left("File"), left("Status")}, rows)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant that owns the job")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Tracing token (generated when empty)")
	cmd.Flags().BoolVar(&opts.RemoveBackground, "remove-background", opts.RemoveBackground, "Run background removal")
	cmd.Flags().BoolVar(&opts.GenerateScene, "generate-scene", opts.GenerateScene, "Run scene generation")
	cmd.Flags().BoolVar(&opts.Upscale, "upscale", opts.Upscale, "Run upscaling")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the created job as JSON")
	return cmd
}
