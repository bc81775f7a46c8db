package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"opal/internal/api"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs and retry failed items",
	}
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobRetryCommand(ctx))
	return jobCmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var tenant string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				list, err := api.NewJobService(rt.store).List(cmd.Context(), tenant, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), api.JobListResponse{Jobs: list})
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{job.ID, job.TenantID, job.Status, strconv.Itoa(job.ItemCount), job.CreatedAt})
				}
				printTable(cmd.OutOrStdout(),
					[]column{left("Job"), left("Tenant"), left("Status"), right("Items"), left("Created")},
					rows,
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Only list this tenant's jobs")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum jobs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				resp, err := api.NewJobService(rt.store).Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if resp == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				renderJob(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func renderJob(cmd *cobra.Command, resp *api.JobResponse) {
	out := cmd.OutOrStdout()
	job := resp.Job
	fmt.Fprintf(out, "Job:     %s\n", job.ID)
	fmt.Fprintf(out, "Tenant:  %s\n", job.TenantID)
	fmt.Fprintf(out, "Status:  %s\n", job.Status)
	fmt.Fprintf(out, "Stages:  %s=%s %s=%s %s=%s\n",
		stageLabel("bg-removal"), yesNo(job.Options.RemoveBackground),
		stageLabel("scene"), yesNo(job.Options.GenerateScene),
		stageLabel("upscale"), yesNo(job.Options.Upscale),
	)
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "No items")
		return
	}
	rows := make([][]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		detail := item.OutputBlobPath
		if item.ErrorMessage != "" {
			detail = item.ErrorMessage
		}
		rows = append(rows, []string{item.ID, item.Filename, item.Status, detail})
	}
	printTable(out, []column{left("Item"), left("File"), left("Status"), left("Output / Error")}, rows)
}

func newJobRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a job's failed items and enqueue them again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				reset, err := rt.pipe.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(reset) == 0 {
					fmt.Fprintln(out, "No failed items to retry")
					return nil
				}
				for _, item := range reset {
					fmt.Fprintf(out, "Requeued %s (%s)\n", item.ID, item.Filename)
				}
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
