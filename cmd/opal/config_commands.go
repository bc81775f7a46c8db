package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"opal/internal/config"
	"opal/internal/notifications"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Create and check configuration files",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to choose providers and export sinks before running `opal daemon`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if path := strings.TrimSpace(flagValue); path != "" {
		return config.ExpandPath(path)
	}
	return config.DefaultConfigPath()
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and summarise the selected backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file not found; using defaults")
			}
			summariseConfig(out, cfg)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func summariseConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Queue:     %s (max %d deliveries, %ds lock)\n",
		cfg.Queue.Backend, cfg.Queue.MaxDeliveryCount, cfg.Queue.LockDuration)
	fmt.Fprintf(out, "Store:     %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "Blob:      %s\n", cfg.Blob.Backend)
	fmt.Fprintf(out, "Providers: %s=%s %s=%s %s=%s\n",
		stageLabel("bg-removal"), cfg.Providers.Background,
		stageLabel("scene"), cfg.Providers.Scene,
		stageLabel("upscale"), cfg.Providers.Upscale,
	)
	sinks := notifications.SinkNames(cfg)
	if len(sinks) == 0 {
		sinks = []string{"none"}
	}
	fmt.Fprintf(out, "Exports:   %s\n", strings.Join(sinks, ", "))
	if cfg.API.Enabled {
		fmt.Fprintf(out, "API:       %s\n", cfg.API.Bind)
	}
}
