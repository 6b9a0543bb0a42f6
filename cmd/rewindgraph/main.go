// Command rewindgraph runs checkpointed research workflows.
//
// Usage:
//
//	rewindgraph serve                   # websocket driver on /ws, metrics on /metrics
//	rewindgraph run -q "question"       # run the research workflow once
//	rewindgraph history <thread-id>     # list a thread's checkpoints
//	rewindgraph graph research          # print a workflow as Graphviz DOT
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rewindgraph",
	Short:         "Checkpointed DAG workflows with rewind and resume",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, runCmd, historyCmd, graphCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
