package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/paperdeck/internal/auth"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the login session",
		Long:  "Check, start or end the login session with the generation backend.",
	}
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether you are logged in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	return cmd
}

func runAuthStatus(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.poller.Init(cmdContext(cmd)); err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	printSession(cmd, a.poller.Session())
	return nil
}

func printSession(cmd *cobra.Command, s auth.Session) {
	out := cmd.OutOrStdout()
	if !s.Authenticated {
		fmt.Fprintln(out, "Not logged in")
		return
	}
	if s.Email == "" {
		fmt.Fprintln(out, "Logged in")
		return
	}
	fmt.Fprintf(out, "Logged in as %s\n", s.Email)
}

// loginWatchInterval is how often login re-reads the session while the
// poller waits for the browser flow to finish.
const loginWatchInterval = 200 * time.Millisecond

func newAuthLoginCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser",
		Long:  "Prints the login URL and waits until the backend reports the session as authenticated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd, configPath, timeout)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the login to complete")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, configPath string, timeout time.Duration) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := a.poller.Init(ctx); err != nil {
		return fmt.Errorf("auth login: %w", err)
	}
	url, err := a.poller.Login(ctx)
	if errors.Is(err, auth.ErrAlreadyAuthenticated) {
		printSession(cmd, a.poller.Session())
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth login: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to log in:\n\n  %s\n\nWaiting for login...\n", url)

	ticker := time.NewTicker(loginWatchInterval)
	defer ticker.Stop()
	for {
		if s := a.poller.Session(); s.Authenticated {
			printSession(cmd, s)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("auth login: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func newAuthLogoutCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the login session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	return cmd
}

func runAuthLogout(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.poller.Logout(cmdContext(cmd)); err != nil {
		return fmt.Errorf("auth logout: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

// openApp loads the config and wires the components for a CLI command.
// Log output is discarded unless a log file is configured.
func openApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, appOpts{})
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
