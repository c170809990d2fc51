package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/paperdeck/internal/dashboard"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local web dashboard",
		Long:  "Launches the local web dashboard for sending documents, following generation progress and browsing past sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	cmd.Flags().IntVarP(&port, "port", "p", dashboard.DefaultPort, "port to listen on (overrides dashboard.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Dashboard.Port = port
	}

	a, err := newApp(cfg, appOpts{localAuth: true, logOut: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// An unreachable backend at startup is not fatal; the session just
	// starts out logged out.
	if err := a.poller.Init(ctx); err != nil {
		log.Printf("serve: initial login check: %v", err)
	}

	return dashboard.Start(ctx, dashboard.StartOpts{
		Engine: a.engine,
		Auth:   a.poller,
		OAuth:  a.oauth,
		Port:   cfg.Dashboard.Port,
		Out:    cmd.OutOrStdout(),
	})
}
