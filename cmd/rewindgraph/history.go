package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/rewindgraph/config"
	"github.com/dshills/rewindgraph/graph/store"
)

var historyState bool

var historyCmd = &cobra.Command{
	Use:   "history <thread-id>",
	Short: "List the checkpoints of a thread in the configured store",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyState, "state", false, "print each checkpoint's state as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.StoreMemory {
		return fmt.Errorf("the memory store keeps nothing between runs; configure sqlite, mysql or badger")
	}

	a := &app{cfg: cfg}
	if err := a.openStore(); err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	cps, err := a.store.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		return fmt.Errorf("thread %s: %w", args[0], store.ErrNotFound)
	}

	out := cmd.OutOrStdout()
	if historyState {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cps)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTEP\tTIME\tDIGEST")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", cp.Sequence, cp.StepName, cp.Timestamp.Format(time.RFC3339), cp.Digest)
	}
	return tw.Flush()
}
