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

package ram

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
	"github.com/kevinawalsh/ramdatalog/internal/strata"
)

func declare(reg *predsym.Registry, name string, arity int) predsym.RelSym {
	return reg.Declare(name, arity, predsym.Relational, nil)
}

func oneStratum(reg *predsym.Registry, preds ...predsym.ID) *strata.Stratification {
	return &strata.Stratification{
		NumPseudo:      1,
		StrataInPseudo: [][]int{{0}},
		PredsInStratum: map[int][]predsym.ID{0: preds},
	}
}

// TestCompileTransitiveClosureHasBothPhases exercises the compiler's
// canonical recursive-rule shape: Phase A (join over Full) followed by
// an Until-wrapped Phase B (join over Delta).
func TestCompileTransitiveClosureHasBothPhases(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := declare(reg, "edge", 2)
	path := declare(reg, "path", 2)
	d := ast.NewDatalog(reg)
	d.Add(&ast.Constraint{
		HeadSym: path,
		Head:    []ast.HeadTerm{ast.NewHVar("X"), ast.NewHVar("Y")},
		Body:    []ast.BodyAtom{ast.NewPredAtom(edge, true, ast.NewVar("X"), ast.NewVar("Y"))},
	})
	d.Add(&ast.Constraint{
		HeadSym: path,
		Head:    []ast.HeadTerm{ast.NewHVar("X"), ast.NewHVar("Z")},
		Body: []ast.BodyAtom{
			ast.NewPredAtom(edge, true, ast.NewVar("X"), ast.NewVar("Y")),
			ast.NewPredAtom(path, true, ast.NewVar("Y"), ast.NewVar("Z")),
		},
	})

	st := oneStratum(reg, path.Sym.ID())
	c := NewCompiler()
	prog := c.Compile(d, st)

	seq, ok := prog.(*Seq)
	require.True(t, ok)
	require.Len(t, seq.Stmts, 1, "one pseudo-stratum")
	stratumSeq, ok := seq.Stmts[0].(*Seq)
	require.True(t, ok)
	require.Len(t, stratumSeq.Stmts, 2, "phase A then phase B")
	_, ok = stratumSeq.Stmts[1].(*Until)
	require.True(t, ok, "phase B is wrapped in an Until loop")
}

// TestElideUnsatisfiableDropsFalseGroundGuard exercises the compile-time
// dead-rule elision for a ground guard that always evaluates false.
func TestElideUnsatisfiableDropsFalseGroundGuard(t *testing.T) {
	reg := predsym.NewRegistry(16)
	p := declare(reg, "p", 1)
	falseGuard := ast.NewGuard("never", func(args []boxed.Value) bool { return false })
	live := &ast.Constraint{
		HeadSym: p,
		Head:    []ast.HeadTerm{ast.NewHLit(boxed.OfInt(1))},
	}
	dead := &ast.Constraint{
		HeadSym: p,
		Head:    []ast.HeadTerm{ast.NewHLit(boxed.OfInt(2))},
		Body:    []ast.BodyAtom{falseGuard},
	}
	kept := elideUnsatisfiable([]*ast.Constraint{live, dead})
	require.Equal(t, []*ast.Constraint{live}, kept)
}

// TestGuardIsTautology exercises the x = x self-equality detector used
// by Simplify.
func TestGuardIsTautology(t *testing.T) {
	rv := RowVar{ID: 1, Name: "r#1"}
	ref := ColRef{RV: rv, Col: 0}
	g := &Guard{Kind: GEq, A: ColTerm(ref), B: ColTerm(ref)}
	require.True(t, g.IsTautology())

	g2 := &Guard{Kind: GEq, A: ColTerm(ref), B: ColTerm(ColRef{RV: rv, Col: 1})}
	require.False(t, g2.IsTautology())
}

// TestSimplifyDropsTautologyAndCollapsesEmptyIf checks that a guard-only
// If containing just a self-equality simplifies away to its body.
func TestSimplifyDropsTautologyAndCollapsesEmptyIf(t *testing.T) {
	rv := RowVar{ID: 1, Name: "r#1"}
	ref := ColRef{RV: rv, Col: 0}
	rel := declare(predsym.NewRegistry(4), "r", 1)
	leaf := &Purge{Rel: rel}
	n := &If{Guards: []*Guard{{Kind: GEq, A: ColTerm(ref), B: ColTerm(ref)}}, Body: leaf}

	out := Simplify(n)
	require.Same(t, leaf, out)
}

// TestSimplifyReordersMembershipGuardsLast checks GNotMember guards are
// pushed to the end of a guard list.
func TestSimplifyReordersMembershipGuardsLast(t *testing.T) {
	reg := predsym.NewRegistry(4)
	rel := declare(reg, "r", 1)
	rv := RowVar{ID: 1, Name: "r#1"}
	member := &Guard{Kind: GNotMember, Rel: rel, Terms: []Term{LitTerm(boxed.OfInt(0))}}
	other := &Guard{Kind: GEq, A: ColTerm(ColRef{RV: rv, Col: 0}), B: LitTerm(boxed.OfInt(0))}
	n := &If{Guards: []*Guard{member, other}, Body: &Purge{Rel: rel}}

	out := Simplify(n).(*If)
	require.Equal(t, GEq, out.Guards[0].Kind)
	require.Equal(t, GNotMember, out.Guards[1].Kind)
}

// TestSimplifyDropsNonProgressingUntil checks that an Until whose body
// consists only of maintenance statements is replaced by a Comment.
func TestSimplifyDropsNonProgressingUntil(t *testing.T) {
	reg := predsym.NewRegistry(4)
	rel := declare(reg, "r", 1)
	u := &Until{Deltas: []predsym.RelSym{rel}, Body: &Seq{Stmts: []Node{
		&MergeInto{Src: rel, Dst: rel},
		&Purge{Rel: rel},
	}}}
	out := Simplify(u)
	_, ok := out.(*Comment)
	require.True(t, ok)
}

// TestSimplifyFlattensNestedSeq checks Seq-of-Seq flattening.
func TestSimplifyFlattensNestedSeq(t *testing.T) {
	reg := predsym.NewRegistry(4)
	rel := declare(reg, "r", 1)
	inner := &Seq{Stmts: []Node{&Purge{Rel: rel}, &Purge{Rel: rel}}}
	outer := &Seq{Stmts: []Node{inner, &Purge{Rel: rel}}}
	out := Simplify(outer).(*Seq)
	require.Len(t, out.Stmts, 3)
}

// TestFoldQueriesLiftsEqualityIntoIndexBinding exercises the
// Search+If(x[0]=lit) -> Query rewrite.
func TestFoldQueriesLiftsEqualityIntoIndexBinding(t *testing.T) {
	reg := predsym.NewRegistry(4)
	rel := declare(reg, "r", 2)
	rv := RowVar{ID: 1, Name: "r#1"}
	leaf := &Purge{Rel: rel}
	n := &Search{RV: rv, Rel: rel, Body: &If{
		Guards: []*Guard{{Kind: GEq, A: ColTerm(ColRef{RV: rv, Col: 0}), B: LitTerm(boxed.OfInt(0))}},
		Body:   leaf,
	}}
	out := Hoist(n)
	q, ok := out.(*Query)
	require.True(t, ok, "Search+eq-guard should fold into a Query")
	require.Len(t, q.Eq, 1)
	require.Equal(t, 0, q.Eq[0].Col)
	require.Same(t, leaf, q.Body)
}

// TestLiftRuleGuardsWrapsRootSearchWithNotEmpty checks that a bare
// Search sitting directly under a Seq gets a GNotEmpty precondition
// per relation it scans.
func TestLiftRuleGuardsWrapsRootSearchWithNotEmpty(t *testing.T) {
	reg := predsym.NewRegistry(4)
	a := declare(reg, "a", 1)
	rv := RowVar{ID: 1, Name: "a#1"}
	root := &Seq{Stmts: []Node{&Search{RV: rv, Rel: a, Body: &Purge{Rel: a}}}}
	out := Hoist(root).(*Seq)
	ifn, ok := out.Stmts[0].(*If)
	require.True(t, ok)
	require.Len(t, ifn.Guards, 1)
	require.Equal(t, GNotEmpty, ifn.Guards[0].Kind)
}

// TestSelectIndexesDefaultsToSequentialWhenUnsearched checks that a
// relation with no observed primitive search still gets one index in
// column order.
func TestSelectIndexesDefaultsToSequentialWhenUnsearched(t *testing.T) {
	reg := predsym.NewRegistry(4)
	rel := declare(reg, "r", 3)
	cat := SelectIndexes(nil, map[predsym.ID]int{rel.Sym.ID(): 3}, []predsym.ID{rel.Sym.ID()})
	require.Equal(t, [][]int{{0, 1, 2}}, cat.Orders[rel.Sym.ID()])
}

// TestSelectIndexesCoversEachSearchWithAPrefix checks the König's-
// theorem chain cover: every observed search's bound-column set must be
// a prefix of some chosen index's key order.
func TestSelectIndexesCoversEachSearchWithAPrefix(t *testing.T) {
	reg := predsym.NewRegistry(4)
	rel := declare(reg, "r", 3)
	id := rel.Sym.ID()
	searches := map[predsym.ID]map[colSet]bool{
		id: {
			setFromCols([]int{0}):    true,
			setFromCols([]int{0, 1}): true,
			setFromCols([]int{2}):    true,
		},
	}
	cat := SelectIndexes(searches, map[predsym.ID]int{id: 3}, []predsym.ID{id})
	orders := cat.Orders[id]
	require.NotEmpty(t, orders)

	for s := range searches[id] {
		boundCols := s.cols(3)
		covered := false
		for _, order := range orders {
			if hasPrefix(order, boundCols) {
				covered = true
				break
			}
		}
		require.True(t, covered, "search over columns %v must be a prefix of some chosen index", boundCols)
	}
}

func hasPrefix(order []int, bound []int) bool {
	if len(bound) > len(order) {
		return false
	}
	want := make(map[int]bool, len(bound))
	for _, c := range bound {
		want[c] = true
	}
	for i := 0; i < len(bound); i++ {
		if !want[order[i]] {
			return false
		}
	}
	return true
}
