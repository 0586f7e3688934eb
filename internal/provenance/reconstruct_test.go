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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// fakeStore is a minimal FactStore backed by an in-memory map, standing
// in for the solve facade's Model in these tests.
type fakeStore struct {
	rows map[string][][]boxed.Value
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[string][][]boxed.Value)} }

func (s *fakeStore) put(rel predsym.RelSym, row []boxed.Value) {
	s.rows[rel.Sym.Name] = append(s.rows[rel.Sym.Name], row)
}

func (s *fakeStore) Lookup(rel predsym.RelSym) [][]boxed.Value { return s.rows[rel.Sym.Name] }

// TestReconstructBuildsEDBLeafForFact exercises the base case: a fact's
// proof is a single EDB leaf with no subproofs.
func TestReconstructBuildsEDBLeafForFact(t *testing.T) {
	reg := predsym.NewRegistry(4)
	edge := reg.Declare("edge", 2, predsym.Relational, nil)
	d := ast.NewDatalog(reg)
	d.Add(&ast.Constraint{
		HeadSym: edge,
		Head:    []ast.HeadTerm{ast.NewHLit(boxed.OfString("a")), ast.NewHLit(boxed.OfString("b"))},
	})

	augmented, err := Augment(d)
	require.NoError(t, err)

	widenedEdge, ok := augmented.Registry.Lookup("edge")
	require.True(t, ok)

	store := newFakeStore()
	store.put(widenedEdge, []boxed.Value{
		boxed.OfString("a"), boxed.OfString("b"), boxed.OfInt(0), boxed.OfInt(int64(EDBRuleNo)),
	})

	rec := NewReconstructor(store, augmented)
	tree, err := rec.Reconstruct(widenedEdge, []boxed.Value{boxed.OfString("a"), boxed.OfString("b")})
	require.NoError(t, err)
	require.Equal(t, EDB, tree.Kind)
	require.Empty(t, tree.Subproofs)
	require.Equal(t, int64(0), tree.Depth)
}

// TestReconstructBuildsIDBNodeWithSubproof exercises the IDB case:
// path(a,b) derived from edge(a,b) via the single-atom base rule must
// yield an IDB node with one subproof.
func TestReconstructBuildsIDBNodeWithSubproof(t *testing.T) {
	reg := predsym.NewRegistry(4)
	edge := reg.Declare("edge", 2, predsym.Relational, nil)
	path := reg.Declare("path", 2, predsym.Relational, nil)
	d := ast.NewDatalog(reg)
	d.Add(&ast.Constraint{
		HeadSym: edge,
		Head:    []ast.HeadTerm{ast.NewHLit(boxed.OfString("a")), ast.NewHLit(boxed.OfString("b"))},
	})
	d.Add(&ast.Constraint{
		HeadSym: path,
		Head:    []ast.HeadTerm{ast.NewHVar("X"), ast.NewHVar("Y")},
		Body:    []ast.BodyAtom{ast.NewPredAtom(edge, true, ast.NewVar("X"), ast.NewVar("Y"))},
	})

	augmented, err := Augment(d)
	require.NoError(t, err)

	widenedEdge, _ := augmented.Registry.Lookup("edge")
	widenedPath, _ := augmented.Registry.Lookup("path")

	store := newFakeStore()
	store.put(widenedEdge, []boxed.Value{
		boxed.OfString("a"), boxed.OfString("b"), boxed.OfInt(0), boxed.OfInt(int64(EDBRuleNo)),
	})
	// path(a,b) derived at depth 1 by rule 1 (the second constraint
	// added above, index 1 in augmented.Constraints).
	store.put(widenedPath, []boxed.Value{
		boxed.OfString("a"), boxed.OfString("b"), boxed.OfInt(1), boxed.OfInt(1),
	})

	rec := NewReconstructor(store, augmented)
	tree, err := rec.Reconstruct(widenedPath, []boxed.Value{boxed.OfString("a"), boxed.OfString("b")})
	require.NoError(t, err)
	require.Equal(t, IDB, tree.Kind)
	require.Len(t, tree.Subproofs, 1)
	require.Equal(t, EDB, tree.Subproofs[0].Kind)
	require.Equal(t, "edge", tree.Subproofs[0].Rel.Sym.Name)
}

// TestReconstructErrorsOnUnknownFact checks that reconstructing a tuple
// absent from the store reports an error instead of panicking.
func TestReconstructErrorsOnUnknownFact(t *testing.T) {
	reg := predsym.NewRegistry(4)
	edge := reg.Declare("edge", 2, predsym.Relational, nil)
	d := ast.NewDatalog(reg)
	d.Add(&ast.Constraint{
		HeadSym: edge,
		Head:    []ast.HeadTerm{ast.NewHLit(boxed.OfString("a")), ast.NewHLit(boxed.OfString("b"))},
	})
	augmented, err := Augment(d)
	require.NoError(t, err)
	widenedEdge, _ := augmented.Registry.Lookup("edge")

	store := newFakeStore()
	rec := NewReconstructor(store, augmented)
	_, err = rec.Reconstruct(widenedEdge, []boxed.Value{boxed.OfString("x"), boxed.OfString("y")})
	require.Error(t, err)
}
