// Package cmd provides the CLI commands for knosid.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/knosi-ai/knosid/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the knosid CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knosid",
		Short: "Local document indexing and retrieval server",
		Long: `knosid indexes your documents into a local vector store and answers
questions about them over a REST API.

Run 'knosid serve' to start the server, then upload documents through
POST /api/upload and query them with /api/search or /api/chat.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// .env is optional; environment wins over file values
			_ = godotenv.Load()
		},
	}

	cmd.SetVersionTemplate("knosid version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
