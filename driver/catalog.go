package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/rewindgraph/graph"
)

// Catalog resolves the workflow names clients may execute.
type Catalog interface {
	Lookup(name string) (graph.WorkflowGraph, error)
}

// MapCatalog is a Catalog backed by a map keyed by workflow name.
type MapCatalog map[string]graph.WorkflowGraph

// Lookup implements Catalog.
func (m MapCatalog) Lookup(name string) (graph.WorkflowGraph, error) {
	wf, ok := m[name]
	if !ok {
		return graph.WorkflowGraph{}, &graph.NotFoundError{Kind: "workflow", Key: name}
	}
	return wf, nil
}

// Names lists the catalog's workflows in sorted order.
func (m MapCatalog) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadCatalog reads every *.yaml and *.yml workflow definition in dir. A
// definition without a name is keyed by its file name.
func LoadCatalog(dir string) (MapCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	catalog := make(MapCatalog)
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wf, err := graph.LoadDefinition(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if wf.Name == "" {
			wf.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		if _, dup := catalog[wf.Name]; dup {
			return nil, fmt.Errorf("%s: workflow %q defined twice", path, wf.Name)
		}
		catalog[wf.Name] = wf
	}
	return catalog, nil
}
