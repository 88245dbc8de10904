// Copyright 2025 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package strategy

import (
	"fmt"
	"strings"
)

// Visitor walks a strategy graph in declaration order. Subgraph nodes are
// entered recursively between EnterSubgraph and LeaveSubgraph.
type Visitor interface {
	VisitNode(name string, node Node)
	VisitEdge(from, to string)
	EnterSubgraph(name string, inner *Strategy)
	LeaveSubgraph(name string)
}

// Accept walks the graph with the visitor: all nodes in declaration order,
// then all edges, recursing into subgraphs.
func (s *Strategy) Accept(v Visitor) {
	for _, name := range s.nodeOrder {
		node := s.nodes[name]
		v.VisitNode(name, node)
		if sub, ok := node.(*SubgraphNode); ok {
			v.EnterSubgraph(name, sub.Inner())
			sub.Inner().Accept(v)
			v.LeaveSubgraph(name)
		}
	}
	for _, from := range s.nodeOrder {
		for _, edge := range s.edges[from] {
			v.VisitEdge(from, edge.To)
		}
	}
}

// DOT renders the strategy as a Graphviz digraph. Subgraphs become
// clusters; the finish node is drawn as a doublecircle.
func DOT(s *Strategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", s.Name())
	b.WriteString("  rankdir=LR;\n")
	writeDOTBody(&b, s, "  ")
	b.WriteString("}\n")
	return b.String()
}

func writeDOTBody(b *strings.Builder, s *Strategy, indent string) {
	fmt.Fprintf(b, "%s%q [shape=doublecircle];\n", indent, s.Finish())
	for _, name := range s.nodeOrder {
		node := s.nodes[name]
		if sub, ok := node.(*SubgraphNode); ok {
			fmt.Fprintf(b, "%ssubgraph \"cluster_%s\" {\n", indent, name)
			fmt.Fprintf(b, "%s  label=%q;\n", indent, name)
			writeDOTBody(b, sub.Inner(), indent+"  ")
			fmt.Fprintf(b, "%s}\n", indent)
			continue
		}
		shape := "box"
		if name == s.Start() {
			shape = "circle"
		}
		fmt.Fprintf(b, "%s%q [shape=%s];\n", indent, name, shape)
	}
	for _, from := range s.nodeOrder {
		for _, edge := range s.edges[from] {
			fmt.Fprintf(b, "%s%q -> %q;\n", indent, from, edge.To)
		}
	}
}
