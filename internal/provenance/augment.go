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

// Package provenance implements provenance augmentation (spec §4.11)
// and reconstruction (spec §4.14): widening every relation by two
// trailing columns at compile time so the interpreter stamps a
// derivation depth and firing rule onto every tuple, then walking
// those stamps back into a ProofTree on demand.
package provenance

import (
	"fmt"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// EDBRuleNo and NegativeRuleNo are the two sentinel ruleNo stamps a
// materialized tuple can carry; any other value is an index into the
// augmented program's Constraints.
const (
	EDBRuleNo      int32 = -1
	NegativeRuleNo int32 = -2
)

// Augment rewrites d into a program over widened relations (Width()+2:
// a trailing depth column and a trailing ruleNo column), building a
// fresh registry so the widened relations don't collide with d's
// original declarations. Facts get depth 0 and ruleNo EDBRuleNo; every
// rule's head gains a HProvMax term, one more than the max depth of its
// positive body atoms, and a literal ruleNo. Functional atoms are
// rejected (spec §9: "functional atoms are incompatible with
// provenance... reject at augmentation time").
func Augment(d *ast.Datalog) (*ast.Datalog, error) {
	reg := predsym.NewRegistry(len(d.Registry.All())*2 + 16)
	widened := make(map[predsym.ID]predsym.RelSym)
	widen := func(rel predsym.RelSym) predsym.RelSym {
		if w, ok := widened[rel.Sym.ID()]; ok {
			return w
		}
		// Every widened relation is declared Relational, never
		// Latticenal, regardless of rel's own denotation: provenance
		// wants one tagged row per derivation, kept distinct by its
		// depth/ruleNo stamp, not lattice-joined across derivations.
		// Use rel.Width() (not Arity) as the pre-widening column count
		// so a Latticenal rel's lattice-value column survives as an
		// ordinary trailing column ahead of the depth/ruleNo stamp.
		w := reg.Declare(rel.Sym.Name, rel.Width()+2, predsym.Relational, nil)
		widened[rel.Sym.ID()] = w
		return w
	}

	out := ast.NewDatalog(reg)
	for _, c := range d.Constraints {
		for _, atom := range c.Body {
			if atom.Kind == ast.BFunctional {
				return nil, fmt.Errorf("provenance: rule for %s uses a functional atom, rejected at augmentation", c.HeadSym)
			}
			if atom.Kind == ast.BPredicate && !atom.Positive {
				// A negative atom's NotMember guard tests the widened
				// relation's physical index for a fully-bound tuple key;
				// the trailing depth/ruleNo columns Augment appends to
				// every other atom have no bound value here (a negative
				// check has no witness tuple to read them from), so there
				// is no well-typed term to put in their place. Rejected at
				// augmentation time rather than left to panic deep inside
				// compile; see DESIGN.md.
				return nil, fmt.Errorf("provenance: rule for %s has a negative body atom over %s, which provenance augmentation cannot widen", c.HeadSym, atom.Sym)
			}
		}
		headRel := widen(c.HeadSym)

		if c.IsFact() {
			head := append(append([]ast.HeadTerm{}, c.Head...),
				ast.NewHLit(boxed.OfInt(0)), ast.NewHLit(boxed.OfInt(int64(EDBRuleNo))))
			out.Add(&ast.Constraint{HeadSym: headRel, Head: head})
			continue
		}

		var body []ast.BodyAtom
		var depthVars []string
		for i, atom := range c.Body {
			if atom.Kind != ast.BPredicate {
				body = append(body, atom)
				continue
			}
			// atom.Positive always holds here: a negative predicate atom
			// anywhere in c.Body already rejected the whole constraint above.
			rel := widen(atom.Rel)
			depthName := fmt.Sprintf("__prov_depth%d", i)
			terms := append(append([]ast.Term{}, atom.Terms...), ast.NewVar(depthName), ast.NewWild())
			body = append(body, ast.NewPredAtom(rel, true, terms...))
			depthVars = append(depthVars, depthName)
		}

		head := append([]ast.HeadTerm{}, c.Head...)
		head = append(head,
			ast.HeadTerm{Kind: ast.HProvMax, ProvArgs: depthVars},
			ast.NewHLit(boxed.OfInt(int64(c.RuleNo))),
		)
		out.Add(&ast.Constraint{HeadSym: headRel, Head: head, Body: body})
	}
	return out, nil
}
