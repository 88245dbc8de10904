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

// Package strategy implements the graph execution engine: strategies are
// directed graphs of named nodes connected by conditional edges, driven by a
// run loop that fires pipeline events at every lifecycle point.
package strategy

import (
	"context"
	"fmt"
)

// Node is one executable step in a strategy graph.
type Node interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext, input any) (any, error)
}

// ForwardFunc decides whether an edge fires for a node's output. On a match
// it returns the value forwarded to the next node.
type ForwardFunc func(ctx context.Context, rc *RunContext, output any) (any, bool)

// Forward passes the output through unchanged; the edge always fires.
func Forward(_ context.Context, _ *RunContext, output any) (any, bool) {
	return output, true
}

// Edge connects a node to a successor. Edges are evaluated in declaration
// order and the first match wins.
type Edge struct {
	To      string
	Forward ForwardFunc
}

// Strategy is a validated, immutable node graph.
type Strategy struct {
	name    string
	start   string
	finish  string
	version int

	nodes     map[string]Node
	nodeOrder []string
	edges     map[string][]Edge
}

// Name returns the strategy name.
func (s *Strategy) Name() string { return s.name }

// Version returns the graph version, used to reject stale checkpoints.
func (s *Strategy) Version() int { return s.version }

// Start returns the start node name.
func (s *Strategy) Start() string { return s.start }

// Finish returns the finish node name. The finish node is a terminator: the
// run loop stops when control reaches it, without executing it.
func (s *Strategy) Finish() string { return s.finish }

// Node returns the named node.
func (s *Strategy) Node(name string) (Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

// Edges returns the outgoing edges of a node in declaration order.
func (s *Strategy) Edges(from string) []Edge {
	return s.edges[from]
}

// FuncNode adapts a function to a Node.
type FuncNode struct {
	name string
	fn   func(ctx context.Context, rc *RunContext, input any) (any, error)
}

// NewFuncNode creates a node from a function.
func NewFuncNode(name string, fn func(ctx context.Context, rc *RunContext, input any) (any, error)) *FuncNode {
	return &FuncNode{name: name, fn: fn}
}

func (n *FuncNode) Name() string { return n.name }

func (n *FuncNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	return n.fn(ctx, rc, input)
}

// Builder assembles a strategy graph. Nodes and edges keep declaration
// order; Build validates the graph shape.
type Builder struct {
	name      string
	start     string
	finish    string
	version   int
	nodes     map[string]Node
	nodeOrder []string
	edges     map[string][]Edge
	err       error
}

// NewBuilder creates a strategy builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]Node),
		edges: make(map[string][]Edge),
	}
}

// AddNode registers a node. Duplicate names fail at Build.
func (b *Builder) AddNode(n Node) *Builder {
	if _, exists := b.nodes[n.Name()]; exists {
		b.fail(fmt.Errorf("duplicate node %q", n.Name()))
		return b
	}
	b.nodes[n.Name()] = n
	b.nodeOrder = append(b.nodeOrder, n.Name())
	return b
}

// AddEdge adds a conditional edge from one node to another.
func (b *Builder) AddEdge(from, to string, forward ForwardFunc) *Builder {
	b.edges[from] = append(b.edges[from], Edge{To: to, Forward: forward})
	return b
}

// AddAlwaysEdge adds an unconditional pass-through edge.
func (b *Builder) AddAlwaysEdge(from, to string) *Builder {
	return b.AddEdge(from, to, Forward)
}

// Start sets the start node.
func (b *Builder) Start(name string) *Builder {
	b.start = name
	return b
}

// Finish sets the finish node name. The finish node needs no Node
// registration; it only terminates the loop.
func (b *Builder) Finish(name string) *Builder {
	b.finish = name
	return b
}

// Version sets the graph version. Checkpoints record it and rollback rejects
// a version mismatch. Defaults to 1.
func (b *Builder) Version(v int) *Builder {
	b.version = v
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates and produces the strategy.
func (b *Builder) Build() (*Strategy, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.start == "" {
		return nil, fmt.Errorf("strategy %q has no start node", b.name)
	}
	if b.finish == "" {
		return nil, fmt.Errorf("strategy %q has no finish node", b.name)
	}
	if _, ok := b.nodes[b.start]; !ok {
		return nil, fmt.Errorf("strategy %q: start node %q not registered", b.name, b.start)
	}
	for from, edges := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("strategy %q: edge from unknown node %q", b.name, from)
		}
		for _, e := range edges {
			if e.To == b.finish {
				continue
			}
			if _, ok := b.nodes[e.To]; !ok {
				return nil, fmt.Errorf("strategy %q: edge %q -> %q targets unknown node", b.name, from, e.To)
			}
		}
	}

	nodes := make(map[string]Node, len(b.nodes))
	for name, n := range b.nodes {
		nodes[name] = n
	}
	edges := make(map[string][]Edge, len(b.edges))
	for from, list := range b.edges {
		edges[from] = append([]Edge(nil), list...)
	}

	version := b.version
	if version == 0 {
		version = 1
	}

	return &Strategy{
		name:      b.name,
		start:     b.start,
		finish:    b.finish,
		version:   version,
		nodes:     nodes,
		nodeOrder: append([]string(nil), b.nodeOrder...),
		edges:     edges,
	}, nil
}
