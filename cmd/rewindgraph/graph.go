package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/rewindgraph/driver"
	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/research"
)

var (
	graphFile   string
	graphFormat string
)

var graphCmd = &cobra.Command{
	Use:   "graph [workflow]",
	Short: "Print a workflow as Graphviz DOT or as a YAML definition",
	Long: `Compiles a workflow and prints it. The workflow is taken from the
catalog (default "research") or from --file, which accepts a YAML definition
or a DOT graph whose nodes carry a capability attribute.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().StringVarP(&graphFile, "file", "f", "", "workflow definition (.yaml, .yml or .dot)")
	graphCmd.Flags().StringVar(&graphFormat, "format", "dot", "output format: dot or yaml")
}

func runGraph(cmd *cobra.Command, args []string) error {
	var wf graph.WorkflowGraph
	if graphFile != "" {
		loaded, err := loadWorkflowFile(graphFile)
		if err != nil {
			return err
		}
		wf = loaded
	} else {
		name := research.WorkflowName
		if len(args) == 1 {
			name = args[0]
		}
		catalog := driver.MapCatalog(research.Workflows())
		found, err := catalog.Lookup(name)
		if err != nil {
			return err
		}
		wf = found
	}

	plan, err := graph.Compile(wf)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch graphFormat {
	case "dot":
		dot, err := plan.DOT()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(out, dot)
		return err
	case "yaml":
		data, err := graph.MarshalDefinition(wf)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q (supported: dot, yaml)", graphFormat)
	}
}

// loadWorkflowFile reads a YAML definition, or a DOT graph for .dot and .gv
// files.
func loadWorkflowFile(path string) (graph.WorkflowGraph, error) {
	switch filepath.Ext(path) {
	case ".dot", ".gv":
		data, err := os.ReadFile(path)
		if err != nil {
			return graph.WorkflowGraph{}, fmt.Errorf("failed to read workflow: %w", err)
		}
		return graph.ParseDOT(string(data))
	default:
		return graph.LoadDefinition(path)
	}
}
