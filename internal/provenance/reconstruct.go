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

package provenance

import (
	"fmt"
	"strings"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/bug"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// LeafKind distinguishes the three ProofTree node shapes (spec §4.14).
type LeafKind int

const (
	EDB LeafKind = iota
	Negative
	IDB
)

// ProofTree is one node of a provenance proof: an EDB leaf (a fact),
// a Negative leaf (a checked non-membership), or an IDB node with one
// subproof per positive body atom of the rule that fired.
type ProofTree struct {
	Kind      LeafKind
	Rel       predsym.RelSym
	Tuple     []boxed.Value // original-arity columns, provenance columns stripped
	RuleNo    int32
	Depth     int64
	Subproofs []*ProofTree
}

// Flatten walks t pre-order, returning one (PredSym, Tuple) pair per
// node visited (spec §4.14, §6's provOf).
func (t *ProofTree) Flatten() []Witness {
	var out []Witness
	var walk func(*ProofTree)
	walk = func(n *ProofTree) {
		out = append(out, Witness{Rel: n.Rel, Tuple: n.Tuple})
		for _, s := range n.Subproofs {
			walk(s)
		}
	}
	walk(t)
	return out
}

// Witness is one flattened proof-tree entry.
type Witness struct {
	Rel   predsym.RelSym
	Tuple []boxed.Value
}

// FactStore is the read side reconstruction needs: every augmented
// tuple (original columns plus trailing depth, ruleNo) materialized for
// a relation. The solve facade's Model, restricted to its Full indexes,
// implements this.
type FactStore interface {
	Lookup(rel predsym.RelSym) [][]boxed.Value
}

// Reconstructor answers provenance queries against one augmented
// program and fact store, caching a lazy per-(relation, bound-columns)
// grouping index on first use (spec §4.14).
type Reconstructor struct {
	store FactStore
	prog  *ast.Datalog
	cache map[groupKey]map[string][][]boxed.Value
}

func NewReconstructor(store FactStore, augmented *ast.Datalog) *Reconstructor {
	return &Reconstructor{store: store, prog: augmented, cache: make(map[groupKey]map[string][][]boxed.Value)}
}

type groupKey struct {
	rel  predsym.ID
	cols string
}

// group returns (building it on first request) a map from the
// serialized values of boundCols to every augmented tuple of rel whose
// columns match, the "lazy per-(PredSym, selected-columns) ordered
// index" of spec §4.14. A real ordered index (internal/index) would
// make repeat lookups for a large relation cheaper than this map, but
// grouping by exact equality needs no ordering, so a map suffices here.
func (r *Reconstructor) group(rel predsym.RelSym, boundCols []int) map[string][][]boxed.Value {
	key := groupKey{rel.Sym.ID(), colsKey(boundCols)}
	if g, ok := r.cache[key]; ok {
		return g
	}
	g := make(map[string][][]boxed.Value)
	for _, tuple := range r.store.Lookup(rel) {
		sig := sigOf(tuple, boundCols)
		g[sig] = append(g[sig], tuple)
	}
	r.cache[key] = g
	return g
}

func colsKey(cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, ",")
}

func sigOf(tuple []boxed.Value, cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = tuple[c].String()
	}
	return strings.Join(parts, "\x1f")
}

// Reconstruct finds the augmented tuple for (rel, tuple) -- tuple given
// in original, unwidened arity -- and recursively builds its proof.
func (r *Reconstructor) Reconstruct(rel predsym.RelSym, tuple []boxed.Value) (*ProofTree, error) {
	found, ok := r.findExact(rel, tuple)
	if !ok {
		return nil, fmt.Errorf("provenance: no fact %s(%v) in the model", rel, tuple)
	}
	return r.build(rel, found)
}

func (r *Reconstructor) findExact(rel predsym.RelSym, tuple []boxed.Value) ([]boxed.Value, bool) {
	boundCols := make([]int, len(tuple))
	for i := range tuple {
		boundCols[i] = i
	}
	g := r.group(rel, boundCols)
	matches := g[sigOf(append(append([]boxed.Value{}, tuple...)), boundCols)]
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

func (r *Reconstructor) build(rel predsym.RelSym, augmented []boxed.Value) (*ProofTree, error) {
	// rel is always a relation from the augmented program (either the
	// caller's top-level goal, resolved against the augmented registry,
	// or a recursive atom.Rel straight from an augmented rule body), so
	// its declared arity is always the original arity plus the trailing
	// depth/ruleNo pair.
	arity := rel.Arity - 2
	depth := augmented[arity].Int()
	ruleNo := int32(augmented[arity+1].Int())
	tuple := append([]boxed.Value{}, augmented[:arity]...)

	if ruleNo == EDBRuleNo {
		return &ProofTree{Kind: EDB, Rel: rel, Tuple: tuple, RuleNo: ruleNo, Depth: depth}, nil
	}
	if int(ruleNo) < 0 || int(ruleNo) >= len(r.prog.Constraints) {
		bug.Raise("provenance.Reconstruct", "tuple %s(%v) carries out-of-range ruleNo %d", rel, tuple, ruleNo)
	}
	rule := r.prog.Constraints[ruleNo]

	bindings := make(map[string]boxed.Value)
	for i, ht := range rule.Head {
		if ht.Kind == ast.HVar {
			bindings[ht.Name] = tuple[i]
		}
	}

	node := &ProofTree{Kind: IDB, Rel: rel, Tuple: tuple, RuleNo: ruleNo, Depth: depth}
	for _, atom := range rule.Body {
		if atom.Kind != ast.BPredicate {
			continue
		}
		sub, err := r.resolveAtom(atom, bindings, depth)
		if err != nil {
			return nil, err
		}
		node.Subproofs = append(node.Subproofs, sub)
	}
	return node, nil
}

// resolveAtom finds a fact matching atom's already-bound columns under
// bindings, with a strictly smaller depth than the parent tuple's, and
// binds any variables it leaves unresolved; negative atoms instead
// verify non-membership and return a Negative leaf.
func (r *Reconstructor) resolveAtom(atom ast.BodyAtom, bindings map[string]boxed.Value, parentDepth int64) (*ProofTree, error) {
	var boundCols []int
	sig := make([]boxed.Value, 0, len(atom.Terms))
	for col, t := range atom.Terms {
		switch t.Kind {
		case ast.Lit:
			boundCols = append(boundCols, col)
			sig = append(sig, t.Val)
		case ast.Var:
			if v, ok := bindings[t.Name]; ok {
				boundCols = append(boundCols, col)
				sig = append(sig, v)
			}
		}
	}
	g := r.group(atom.Rel, boundCols)
	candidates := g[sigOf(sig, indices(len(sig)))]

	if !atom.Positive {
		for _, cand := range candidates {
			if cand[len(cand)-2].Int() < parentDepth {
				return nil, fmt.Errorf("provenance: negative atom over %s unexpectedly satisfied", atom.Rel)
			}
		}
		return &ProofTree{Kind: Negative, Rel: atom.Rel, RuleNo: NegativeRuleNo}, nil
	}

	for _, cand := range candidates {
		if cand[len(cand)-2].Int() < parentDepth {
			for col, t := range atom.Terms {
				if t.Kind == ast.Var {
					bindings[t.Name] = cand[col]
				}
			}
			return r.build(atom.Rel, cand)
		}
	}
	return nil, fmt.Errorf("provenance: no witness with smaller depth found for %s", atom.Rel)
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
