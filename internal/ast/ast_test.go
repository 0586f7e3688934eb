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

package ast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

func edgeRel(reg *predsym.Registry) predsym.RelSym {
	return reg.Declare("edge", 2, predsym.Relational, nil)
}

func TestSafeRejectsUnboundHeadVariable(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	c := &Constraint{
		HeadSym: edge,
		Head:    []HeadTerm{NewHVar("X"), NewHVar("Z")},
		Body:    []BodyAtom{NewPredAtom(edge, true, NewVar("X"), NewVar("Y"))},
	}
	require.False(t, c.Safe())
}

func TestSafeAcceptsFullyBoundRule(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	c := &Constraint{
		HeadSym: edge,
		Head:    []HeadTerm{NewHVar("X"), NewHVar("Y")},
		Body:    []BodyAtom{NewPredAtom(edge, true, NewVar("X"), NewVar("Y"))},
	}
	require.True(t, c.Safe())
}

func TestSafeRejectsUnboundNegativeAtomVariable(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	c := &Constraint{
		HeadSym: edge,
		Head:    []HeadTerm{NewHVar("X"), NewHVar("Y")},
		Body: []BodyAtom{
			NewPredAtom(edge, false, NewVar("X"), NewVar("Y")),
		},
	}
	require.False(t, c.Safe())
}

func TestSafeRejectsUnboundGuardArgument(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	c := &Constraint{
		HeadSym: edge,
		Head:    []HeadTerm{NewHVar("X"), NewHVar("Y")},
		Body: []BodyAtom{
			NewPredAtom(edge, true, NewVar("X"), NewVar("Y")),
			NewGuard("pos", func(args []boxed.Value) bool { return true }, "Z"),
		},
	}
	require.False(t, c.Safe())
}

func TestSafeFunctionalBindsOutVars(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	c := &Constraint{
		HeadSym: edge,
		Head:    []HeadTerm{NewHVar("X"), NewHVar("Z")},
		Body: []BodyAtom{
			NewPredAtom(edge, true, NewVar("X"), NewVar("Y")),
			NewFunctional("succ", func(args []boxed.Value) []boxed.Value {
				return []boxed.Value{boxed.OfInt(args[0].Int() + 1)}
			}, []string{"Z"}, []string{"Y"}),
		},
	}
	require.True(t, c.Safe())
}

func TestIsFact(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	c := &Constraint{
		HeadSym: edge,
		Head:    []HeadTerm{NewHLit(boxed.OfString("a")), NewHLit(boxed.OfString("b"))},
	}
	require.True(t, c.IsFact())
}

func TestDatalogAddAssignsSequentialRuleNo(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	d := NewDatalog(reg)
	for i := 0; i < 3; i++ {
		d.Add(&Constraint{HeadSym: edge, Head: []HeadTerm{NewHVar("X"), NewHVar("Y")}})
	}
	for i, c := range d.Constraints {
		require.Equal(t, int32(i), c.RuleNo)
	}
}

func TestRulesForFiltersByHeadID(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	other := reg.Declare("other", 1, predsym.Relational, nil)
	d := NewDatalog(reg)
	d.Add(&Constraint{HeadSym: edge})
	d.Add(&Constraint{HeadSym: other})
	d.Add(&Constraint{HeadSym: edge})

	require.Len(t, d.RulesFor(edge.Sym.ID()), 2)
	require.Len(t, d.RulesFor(other.Sym.ID()), 1)
}

func TestNewPredAtomArityMismatchPanics(t *testing.T) {
	reg := predsym.NewRegistry(16)
	edge := edgeRel(reg)
	require.Panics(t, func() {
		NewPredAtom(edge, true, NewVar("X"))
	})
}
