package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opal/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Export sink utilities",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Publish a test event to every configured export sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			notifier, err := notifications.NewService(cfg)
			if err != nil {
				return err
			}
			defer notifier.Close()

			out := cmd.OutOrStdout()
			sinks := notifier.Sinks()
			if len(sinks) == 0 {
				fmt.Fprintln(out, "No export sinks configured")
				return nil
			}
			err = notifier.Publish(cmd.Context(), notifications.Event{
				Kind:       notifications.EventTest,
				OccurredAt: time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("test event failed: %w", err)
			}
			fmt.Fprintf(out, "Test event sent to %s\n", strings.Join(sinks, ", "))
			return nil
		},
	})
	return notifyCmd
}
