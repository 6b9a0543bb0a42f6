package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/awalterschulze/gographviz/ast"
)

// capabilityAttr names the attribute ParseDOT reads a node's capability from.
// DOT writes the capability into the standard comment attribute, because
// gographviz only emits attributes Graphviz knows; ParseDOT accepts either.
const capabilityAttr = "capability"

// DOT renders the plan as a Graphviz digraph. Nodes carry their capability in
// the comment attribute and their plan position in the label; the terminal
// marker is drawn as a double circle.
func (p *Plan) DOT() (string, error) {
	g := gographviz.NewGraph()
	name := p.name
	if name == "" {
		name = "workflow"
	}
	if err := g.SetName(strconv.Quote(name)); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	graphName := strconv.Quote(name)

	for i, n := range p.steps {
		attrs := map[string]string{
			"label":   strconv.Quote(fmt.Sprintf("%d. %s\n(%s)", i+1, n.ID, n.Capability)),
			"comment": strconv.Quote(n.Capability),
			"shape":   "box",
		}
		if err := g.AddNode(graphName, strconv.Quote(n.ID), attrs); err != nil {
			return "", err
		}
	}
	if err := g.AddNode(graphName, strconv.Quote(Terminal), map[string]string{"shape": "doublecircle"}); err != nil {
		return "", err
	}

	for _, e := range p.edges {
		if err := g.AddEdge(strconv.Quote(e.Source), strconv.Quote(e.Target), true, nil); err != nil {
			return "", err
		}
	}
	return g.String(), nil
}

// ParseDOT reads a workflow from a Graphviz digraph. Every node except the
// terminal marker must carry a "capability" (or "comment") attribute; edges
// are kept in the order they appear and chains like a -> b -> c expand to one
// edge per hop. Other node attributes become the node's config. Subgraphs are
// not supported.
//
// Example:
//
//	digraph research {
//	    planner [capability="planner"];
//	    summarizer [capability="summarizer", max_points="5"];
//	    planner -> summarizer -> end;
//	}
func ParseDOT(src string) (WorkflowGraph, error) {
	tree, err := gographviz.ParseString(src)
	if err != nil {
		return WorkflowGraph{}, fmt.Errorf("failed to parse DOT: %w", err)
	}
	if tree.Type != ast.DIGRAPH {
		return WorkflowGraph{}, fmt.Errorf("workflow must be a digraph")
	}

	p := dotParser{attrs: make(map[string]map[string]string)}
	for _, stmt := range tree.StmtList {
		if err := p.stmt(stmt); err != nil {
			return WorkflowGraph{}, err
		}
	}

	wf := WorkflowGraph{Name: unquote(tree.ID.String()), Edges: p.edges}
	for _, id := range p.order {
		attrs := p.attrs[id]
		capability := attrs[capabilityAttr]
		if capability == "" {
			capability = attrs[string(gographviz.Comment)]
		}
		if capability == "" {
			return WorkflowGraph{}, fmt.Errorf("node %q has no capability attribute", id)
		}

		var config map[string]any
		for key, value := range attrs {
			switch key {
			case capabilityAttr, string(gographviz.Comment), "label", "shape":
				continue
			}
			if config == nil {
				config = make(map[string]any)
			}
			config[key] = value
		}
		wf.Nodes = append(wf.Nodes, Node{ID: id, Capability: capability, Config: config})
	}
	return wf, nil
}

// dotParser collects nodes in first-mention order, their merged attributes
// and the edges of a parsed digraph.
type dotParser struct {
	order []string
	attrs map[string]map[string]string
	edges []Edge
}

func (p *dotParser) node(id string) map[string]string {
	attrs, ok := p.attrs[id]
	if !ok && id != Terminal {
		attrs = make(map[string]string)
		p.attrs[id] = attrs
		p.order = append(p.order, id)
	}
	return attrs
}

func (p *dotParser) stmt(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.NodeStmt:
		return p.nodeStmt(*s)
	case ast.NodeStmt:
		return p.nodeStmt(s)
	case *ast.EdgeStmt:
		return p.edgeStmt(*s)
	case ast.EdgeStmt:
		return p.edgeStmt(s)
	case *ast.SubGraph:
		return fmt.Errorf("subgraphs are not supported")
	}
	// Graph, node and edge defaults carry only rendering attributes.
	return nil
}

func (p *dotParser) nodeStmt(s ast.NodeStmt) error {
	id := unquote(s.NodeID.ID.String())
	attrs := p.node(id)
	if attrs == nil {
		return nil
	}
	for key, value := range s.Attrs.GetMap() {
		attrs[unquote(key)] = unquote(value)
	}
	return nil
}

func (p *dotParser) edgeStmt(s ast.EdgeStmt) error {
	if !s.Source.IsNode() {
		return fmt.Errorf("subgraphs are not supported")
	}
	src := unquote(s.Source.GetID().String())
	p.node(src)
	for _, rh := range s.EdgeRHS {
		if !rh.Destination.IsNode() {
			return fmt.Errorf("subgraphs are not supported")
		}
		dst := unquote(rh.Destination.GetID().String())
		p.node(dst)
		p.edges = append(p.edges, Edge{Source: src, Target: dst})
		src = dst
	}
	return nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}
