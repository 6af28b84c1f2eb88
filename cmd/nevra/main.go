// Package main implements the nevra CLI: an HTTP server for the workflow
// pipeline plus one-shot and interactive terminal front ends.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML configuration file
	configPath string
	// version information
	version = "0.1.0-alpha"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nevra",
	Short: "Multi-stage AI orchestration for code generation and tutoring",
	Long: `nevra runs requests through a pipeline of analysis stages and
planner, executor and reviewer agents, revising output until it meets
the quality bar or a retry budget runs out.

Configuration is read from an optional YAML file and NEVRA_* environment
variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
}
