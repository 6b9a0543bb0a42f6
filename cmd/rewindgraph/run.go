package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/rewindgraph/config"
)

var (
	runQuestion string
	runFile     string
	runSet      []string
	runResume   string
)

var runCmd = &cobra.Command{
	Use:   "run [workflow]",
	Short: "Run a workflow to completion and print its final state",
	Long: `Runs a catalog workflow (default "research") or the definition given with
--file, logging every event. With --resume NODE, the run is followed by an
update_and_resume of NODE using the --set values as its parameters.`,
	Example: `  rewindgraph run -q "How do CRDTs converge?"
  rewindgraph run -q "How do CRDTs converge?" --resume code_search --set language=go`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runQuestion, "question", "q", "", "research question")
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "workflow definition (.yaml, .yml or .dot)")
	runCmd.Flags().StringArrayVar(&runSet, "set", nil, "key=value input (or resume parameter); repeatable")
	runCmd.Flags().StringVar(&runResume, "resume", "", "node to re-run with the --set values after the first run")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}()

	var name string
	if len(args) == 1 {
		name = args[0]
	}
	wf, err := a.workflow(name, runFile)
	if err != nil {
		return err
	}

	values, err := parseSet(runSet)
	if err != nil {
		return err
	}
	input := map[string]any{}
	if runResume == "" {
		for k, v := range values {
			input[k] = v
		}
	}
	if runQuestion != "" {
		input["question"] = runQuestion
	}

	ctx := cmd.Context()
	threadID, exec, err := a.engine.Execute(ctx, wf, input)
	if err != nil {
		return err
	}
	a.logger.Info("run finished", "thread_id", threadID, "status", exec.Status)

	if runResume != "" {
		exec, err = a.engine.UpdateAndResume(ctx, threadID, runResume, values)
		if err != nil {
			return err
		}
		a.logger.Info("resume finished", "thread_id", threadID, "node_id", runResume, "status", exec.Status)
	}

	snap, err := a.engine.State(ctx, threadID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"thread_id": threadID,
		"status":    snap.Execution.Status,
		"sequence":  snap.Sequence,
		"state":     snap.State,
	})
}

// parseSet turns key=value pairs into a map. Values that parse as JSON keep
// their decoded type; anything else is a string.
func parseSet(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
