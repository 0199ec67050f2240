// Package main implements the agentd daemon: a Temporal worker that runs
// durable multi-agent conversations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agentd",
	Short:   "Durable multi-agent conversation orchestrator",
	Long:    `agentd runs conversational agent workflows on Temporal: versioned context checkpointing, memory enrichment, policy-gated tool calls and human-in-the-loop approvals.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(workerCmd)
}
