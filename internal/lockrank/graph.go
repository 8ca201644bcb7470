// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lockrank

import (
	"fmt"
	"io"

	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"
	"github.com/aclements/go-moremath/graph/graphout"
)

// Graph is a graph of lock classes. Each node is a lock class and each
// edge indicates that the target class was acquired while the source
// class was the most recently acquired lock still held.
//
// Graph satisfies the graph.Graph interface.
type Graph struct {
	Labels []string // Node ID -> lock class name
	To     [][]int  // Node ID -> edge number -> target node ID
	Counts [][]int  // Node ID -> edge number -> times observed

	ids map[string]int
}

func newGraph() *Graph {
	return &Graph{ids: make(map[string]int)}
}

func (g *Graph) NumNodes() int {
	return len(g.Labels)
}

func (g *Graph) Out(i int) []int {
	return g.To[i]
}

func (g *Graph) addNode(label string) int {
	if id, ok := g.ids[label]; ok {
		return id
	}
	id := len(g.Labels)
	g.ids[label] = id
	g.Labels = append(g.Labels, label)
	g.To = append(g.To, nil)
	g.Counts = append(g.Counts, nil)
	return id
}

func (g *Graph) addEdge(from, to string) {
	n1, n2 := g.addNode(from), g.addNode(to)
	for eid, t := range g.To[n1] {
		if t == n2 {
			g.Counts[n1][eid]++
			return
		}
	}
	g.To[n1] = append(g.To[n1], n2)
	g.Counts[n1] = append(g.Counts[n1], 1)
}

// HasEdge reports whether class to was acquired while holding class from.
func (g *Graph) HasEdge(from, to string) bool {
	n1, ok1 := g.ids[from]
	n2, ok2 := g.ids[to]
	if !ok1 || !ok2 {
		return false
	}
	for _, t := range g.To[n1] {
		if t == n2 {
			return true
		}
	}
	return false
}

func (g *Graph) clone() *Graph {
	c := &Graph{
		Labels: append([]string(nil), g.Labels...),
		To:     make([][]int, len(g.To)),
		Counts: make([][]int, len(g.Counts)),
		ids:    make(map[string]int, len(g.ids)),
	}
	for i := range g.To {
		c.To[i] = append([]int(nil), g.To[i]...)
		c.Counts[i] = append([]int(nil), g.Counts[i]...)
	}
	for k, v := range g.ids {
		c.ids[k] = v
	}
	return c
}

// Cycles returns the nodes and edges involved in cycles of g.
func Cycles(g graph.Graph) (nodes []int, edges []graph.Edge) {
	// Nodes involved in cycles are those in non-trivial strongly
	// connected components, or with a self edge.
	scc := graphalg.SCC(g, graphalg.SCCSubnodeComponent)
	marks := graphalg.NewNodeMarks()
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) <= 1 {
			if len(nids) == 1 && hasSelfEdge(g, nids[0]) {
				marks.Mark(nids[0])
			}
			continue
		}
		for _, nid := range nids {
			marks.Mark(nid)
		}
	}

	for nid := marks.Next(-1); nid >= 0; nid = marks.Next(nid) {
		nodes = append(nodes, nid)
	}
	for _, nid := range nodes {
		cid := scc.SubnodeComponent(nid)
		for eid, n2id := range g.Out(nid) {
			if scc.SubnodeComponent(n2id) == cid {
				edges = append(edges, graph.Edge{Node: nid, Edge: eid})
			}
		}
	}
	return
}

func hasSelfEdge(g graph.Graph, nid int) bool {
	for _, t := range g.Out(nid) {
		if t == nid {
			return true
		}
	}
	return false
}

// WriteDot writes g in Graphviz dot format. Edges that are part of a
// cycle are drawn in red.
func (g *Graph) WriteDot(w io.Writer) error {
	_, cedges := Cycles(g)
	inCycle := make(map[graph.Edge]bool, len(cedges))
	for _, e := range cedges {
		inCycle[e] = true
	}
	if _, err := fmt.Fprintf(w, "digraph locks {\n"); err != nil {
		return err
	}
	for nid, label := range g.Labels {
		fmt.Fprintf(w, "  n%d [label=%s];\n", nid, graphout.DotString(label))
	}
	for nid := range g.To {
		for eid, n2id := range g.To[nid] {
			attr := ""
			if inCycle[graph.Edge{Node: nid, Edge: eid}] {
				attr = ", color=red"
			}
			fmt.Fprintf(w, "  n%d -> n%d [label=%d%s];\n", nid, n2id, g.Counts[nid][eid], attr)
		}
	}
	_, err := fmt.Fprintf(w, "}\n")
	return err
}
