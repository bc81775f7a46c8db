package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, logLevelFlag string
	ctx := newCommandContext(&configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "opal",
		Short:         "Product image pipeline workers and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override the configured log level")

	rootCmd.AddGroup(
		&cobra.Group{ID: "workers", Title: "Workers:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)
	for _, c := range []*cobra.Command{newDaemonCommand(ctx), newRunCommand(ctx)} {
		c.GroupID = "workers"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{
		newSubmitCommand(ctx),
		newJobCommand(ctx),
		newQueueCommand(ctx),
		newNotifyCommand(ctx),
		newDoctorCommand(ctx),
	} {
		c.GroupID = "ops"
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(newConfigCommand(ctx))
	return rootCmd
}
