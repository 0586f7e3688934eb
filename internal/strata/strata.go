// Copyright (c) 2014, Kevin Walsh.  All rights reserved.
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

// Package strata builds the predicate dependency graph and stratifies
// it (spec §4.5): Tarjan SCCs give strata, a topological sort of the
// condensation orders them, and adjacent independent strata are merged
// into pseudo-strata that the compiler can run under Par.
package strata

import (
	"sort"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/bug"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// Graph is the predicate dependency graph: edge src->dst for every rule
// "dst(...) :- ... src(...) ...". negated tracks which edges arose from
// a negative body atom, so the stratifier can reject a negative edge
// inside one SCC (spec §4.5, §8 property 8).
type Graph struct {
	nodes   map[predsym.ID]bool
	edges   map[predsym.ID]map[predsym.ID]bool
	negated map[[2]predsym.ID]bool
}

// Build constructs the dependency graph for a Datalog program.
func Build(d *ast.Datalog) *Graph {
	g := &Graph{
		nodes:   make(map[predsym.ID]bool),
		edges:   make(map[predsym.ID]map[predsym.ID]bool),
		negated: make(map[[2]predsym.ID]bool),
	}
	for _, rel := range d.Registry.All() {
		g.nodes[rel.Sym.ID()] = true
	}
	for _, c := range d.Constraints {
		dst := c.HeadSym.Sym.ID()
		g.nodes[dst] = true
		for _, atom := range c.Body {
			if atom.Kind != ast.BPredicate {
				continue
			}
			src := atom.Sym.ID()
			g.nodes[src] = true
			if g.edges[src] == nil {
				g.edges[src] = make(map[predsym.ID]bool)
			}
			g.edges[src][dst] = true
			if !atom.Positive {
				g.negated[[2]predsym.ID{src, dst}] = true
			}
		}
	}
	return g
}

// Stratification maps each predicate to its stratum (an SCC, numbered
// in topological order) and its pseudo-stratum (a maximal run of
// mutually-independent strata, eligible to run in parallel).
type Stratification struct {
	Stratum       map[predsym.ID]int
	PseudoStratum map[predsym.ID]int
	// NumPseudo and StrataInPseudo let the compiler iterate in order.
	NumPseudo      int
	StrataInPseudo [][]int // pseudo index -> list of stratum indices
	PredsInStratum map[int][]predsym.ID
}

// Stratify computes the stratification of g, or raises an internal bug
// if a negative edge lands inside a single SCC (a negative dependency
// cycle -- spec §4.5, §7).
func Stratify(g *Graph) *Stratification {
	sccs := tarjan(g)
	// sccs is returned in reverse topological order (Tarjan's classic
	// property); reverse it so stratum 0 has no incoming dependencies.
	for i, j := 0, len(sccs)-1; i < j; i, j = i+1, j-1 {
		sccs[i], sccs[j] = sccs[j], sccs[i]
	}
	sccOf := make(map[predsym.ID]int)
	for i, scc := range sccs {
		for _, n := range scc {
			sccOf[n] = i
		}
	}
	for edge := range g.negated {
		src, dst := edge[0], edge[1]
		if sccOf[src] == sccOf[dst] {
			bug.Raise("stratify", "negative cycle through predicate %d", src)
		}
	}

	st := &Stratification{
		Stratum:        sccOf,
		PseudoStratum:  make(map[predsym.ID]int),
		PredsInStratum: make(map[int][]predsym.ID),
	}
	for n, s := range sccOf {
		st.PredsInStratum[s] = append(st.PredsInStratum[s], n)
	}
	for _, ids := range st.PredsInStratum {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	// Pseudo-stratum merge: greedily group consecutive strata with no
	// cross edges between them (spec §4.5) so the compiler can run them
	// under Par.
	groups := [][]int{}
	if len(sccs) > 0 {
		cur := []int{0}
		for s := 1; s < len(sccs); s++ {
			if independentFromGroup(g, sccOf, cur, s) {
				cur = append(cur, s)
			} else {
				groups = append(groups, cur)
				cur = []int{s}
			}
		}
		groups = append(groups, cur)
	}
	st.NumPseudo = len(groups)
	st.StrataInPseudo = groups
	for pi, strataIDs := range groups {
		for _, s := range strataIDs {
			for _, n := range st.PredsInStratum[s] {
				st.PseudoStratum[n] = pi
			}
		}
	}
	return st
}

// independentFromGroup reports whether stratum cand has no edge to or
// from any stratum already in group -- the condition for merging cand
// into the same (parallel-eligible) pseudo-stratum.
func independentFromGroup(g *Graph, sccOf map[predsym.ID]int, group []int, cand int) bool {
	inGroup := make(map[int]bool, len(group))
	for _, s := range group {
		inGroup[s] = true
	}
	for src, dsts := range g.edges {
		ssrc := sccOf[src]
		for dst := range dsts {
			sdst := sccOf[dst]
			if ssrc == sdst {
				continue
			}
			if (ssrc == cand && inGroup[sdst]) || (sdst == cand && inGroup[ssrc]) {
				return false
			}
		}
	}
	return true
}

// tarjan computes strongly connected components, returned with each
// SCC's members, ordered such that component i can only depend on
// components after it in the slice (reverse topological order, the
// classic Tarjan guarantee); Stratify reverses this before numbering.
func tarjan(g *Graph) [][]predsym.ID {
	index := make(map[predsym.ID]int)
	low := make(map[predsym.ID]int)
	onStack := make(map[predsym.ID]bool)
	var stack []predsym.ID
	next := 0
	var sccs [][]predsym.ID

	nodes := make([]predsym.ID, 0, len(g.nodes))
	for n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var strongconnect func(v predsym.ID)
	strongconnect = func(v predsym.ID) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		neighbors := make([]predsym.ID, 0, len(g.edges[v]))
		for w := range g.edges[v] {
			neighbors = append(neighbors, w)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, w := range neighbors {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var scc []predsym.ID
			for {
				if len(stack) == 0 {
					bug.Raise("stratify", "tarjan: empty stack while popping SCC")
				}
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, seen := index[n]; !seen {
			strongconnect(n)
		}
	}
	return sccs
}
