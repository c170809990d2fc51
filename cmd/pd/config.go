package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the Paperdeck configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Config OK")
			fmt.Fprintf(out, "  Backend:    %s\n", cfg.Server.BaseURL)
			fmt.Fprintf(out, "  Output:     %s (%s, %s)\n", cfg.Generation.OutputType, cfg.Generation.Style, cfg.Generation.Content)
			fmt.Fprintf(out, "  Login:      required=%t, poll %s\n", cfg.AuthRequired(), cfg.Auth.PollSchedule)
			fmt.Fprintf(out, "  Store:      %s\n", cfg.Store.DSN)
			fmt.Fprintf(out, "  Dashboard:  port %d\n", cfg.Dashboard.Port)
			if cfg.AuthServer.Enabled {
				fmt.Fprintf(out, "  OAuth:      client %s\n", cfg.AuthServer.ClientID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("config show: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	return cmd
}
