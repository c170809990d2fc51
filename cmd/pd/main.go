package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is read when --config is not given. A missing default
// file means built-in defaults.
const defaultConfigPath = "paperdeck.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pd",
		Short: "Paperdeck: turn research papers into slides and posters",
		Long:  "Paperdeck uploads your documents to the generation pipeline, follows its progress and keeps a session history of every request.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pd %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
