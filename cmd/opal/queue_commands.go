package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opal/internal/queue"
)

var errNoDeadLetters = errors.New("queue backend cannot browse dead letters")

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the stage queues",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueDeadCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	return queueCmd
}

func validQueue(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !slices.Contains(queue.Names(), name) {
		return "", fmt.Errorf("unknown queue %q (available: %s)", name, strings.Join(queue.Names(), ", "))
	}
	return name, nil
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show active, locked, and dead-lettered counts per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				inspector, ok := rt.transport.(queue.Inspector)
				if !ok {
					return errors.New("queue backend cannot report queue depth")
				}
				stats, err := inspector.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					rows = append(rows, []string{
						s.Queue,
						strconv.Itoa(s.Active),
						strconv.Itoa(s.Locked),
						strconv.Itoa(s.Dead),
					})
				}
				printTable(cmd.OutOrStdout(),
					[]column{left("Queue"), right("Active"), right("Locked"), right("Dead")},
					rows,
				)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead <queue>",
		Short: "List dead-lettered messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := validQueue(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				browser, ok := rt.transport.(queue.DeadLetterBrowser)
				if !ok {
					return errNoDeadLetters
				}
				records, err := browser.DeadLetters(cmd.Context(), name, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintf(out, "No dead letters on %s\n", name)
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.ID,
						strconv.Itoa(r.DeliveryCount),
						r.Reason,
						truncate(r.Description, 60),
						r.DeadAt.UTC().Format(time.RFC3339),
					})
				}
				printTable(out,
					[]column{left("Message"), right("Deliveries"), left("Reason"), left("Description"), left("Dead at")},
					rows,
				)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum messages to list")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "Delete a queue's dead-lettered messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := validQueue(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, nil, func(rt *runtime) error {
				browser, ok := rt.transport.(queue.DeadLetterBrowser)
				if !ok {
					return errNoDeadLetters
				}
				removed, err := browser.PurgeDead(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d dead letter(s) from %s\n", removed, name)
				return nil
			})
		},
	}
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}
