package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "0.0.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "insightdb",
	Short:         "Database gateway and AI query assistant",
	Long:          `InsightDB stores database connections encrypted, runs ad-hoc SQL against them, explores their schema and answers questions about the data with a language model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "insightdb %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("INSIGHTDB_CONFIG"), "path to the YAML config file")
	rootCmd.AddCommand(versionCmd)
}
