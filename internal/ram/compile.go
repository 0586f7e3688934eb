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
	"fmt"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
	"github.com/kevinawalsh/ramdatalog/internal/strata"
)

// Compiler generates semi-naive RAM code from a stratified Datalog
// program (spec §4.6).
type Compiler struct {
	rowVarSeq int64
}

func NewCompiler() *Compiler { return &Compiler{} }

func (c *Compiler) freshRowVar(hint string) RowVar {
	c.rowVarSeq++
	return RowVar{ID: c.rowVarSeq, Name: fmt.Sprintf("%s#%d", hint, c.rowVarSeq)}
}

// Compile lowers d into a high-level RAM program: pseudo-strata run in
// sequence, strata within one pseudo-stratum run under Par.
func (c *Compiler) Compile(d *ast.Datalog, st *strata.Stratification) Node {
	var pseudoNodes []Node
	for pi := 0; pi < st.NumPseudo; pi++ {
		var stratumNodes []Node
		for _, s := range st.StrataInPseudo[pi] {
			stratumNodes = append(stratumNodes, c.compileStratum(d, st, s))
		}
		if len(stratumNodes) == 1 {
			pseudoNodes = append(pseudoNodes, stratumNodes[0])
		} else if len(stratumNodes) > 1 {
			pseudoNodes = append(pseudoNodes, &Par{Stmts: stratumNodes})
		}
	}
	return &Seq{Stmts: pseudoNodes}
}

func (c *Compiler) compileStratum(d *ast.Datalog, st *strata.Stratification, stratumIdx int) Node {
	reg := d.Registry
	preds := st.PredsInStratum[stratumIdx]
	predSet := make(map[predsym.ID]bool, len(preds))
	for _, p := range preds {
		predSet[p] = true
	}

	var rules []*ast.Constraint
	for _, r := range d.Constraints {
		if predSet[r.HeadSym.Sym.ID()] {
			rules = append(rules, r)
		}
	}
	rules = elideUnsatisfiable(rules)

	// Phase A: join entirely over Full, project into New.
	fullVariant := func(_ int, _ predsym.ID) predsym.Variant { return predsym.Full }
	var phaseA []Node
	for _, r := range rules {
		phaseA = append(phaseA, c.buildRuleJoin(reg, r, fullVariant, predsym.New))
	}
	var afterA []Node
	for _, p := range preds {
		afterA = append(afterA,
			&MergeInto{Src: reg.RelForID(p, predsym.New), Dst: reg.RelForID(p, predsym.Full)},
			&MergeInto{Src: reg.RelForID(p, predsym.New), Dst: reg.RelForID(p, predsym.Delta)},
		)
	}
	for _, p := range preds {
		afterA = append(afterA, &Purge{Rel: reg.RelForID(p, predsym.New)})
	}
	phaseANode := &Seq{Stmts: append(phaseA, afterA...)}

	// Phase B: for every rule and every positive same-stratum body atom,
	// emit a copy reading that one occurrence from Delta and all others
	// from Full, until every Delta in the stratum is empty.
	var bodyB []Node
	for _, r := range rules {
		for i, atom := range r.Body {
			if atom.Kind != ast.BPredicate || !atom.Positive {
				continue
			}
			if !predSet[atom.Sym.ID()] {
				continue
			}
			deltaIdx := i
			variantFor := func(atomIdx int, _ predsym.ID) predsym.Variant {
				if atomIdx == deltaIdx {
					return predsym.Delta
				}
				return predsym.Full
			}
			bodyB = append(bodyB, c.buildRuleJoin(reg, r, variantFor, predsym.New))
		}
	}
	var tailB []Node
	for _, p := range preds {
		tailB = append(tailB, &MergeInto{Src: reg.RelForID(p, predsym.New), Dst: reg.RelForID(p, predsym.Full)})
	}
	for _, p := range preds {
		tailB = append(tailB, &Swap{A: reg.RelForID(p, predsym.New), B: reg.RelForID(p, predsym.Delta)})
	}
	for _, p := range preds {
		tailB = append(tailB, &Purge{Rel: reg.RelForID(p, predsym.New)})
	}
	deltas := make([]predsym.RelSym, len(preds))
	for i, p := range preds {
		deltas[i] = reg.RelForID(p, predsym.Delta)
	}
	phaseBNode := &Until{Deltas: deltas, Body: &Seq{Stmts: append(bodyB, tailB...)}}

	return &Seq{Stmts: []Node{phaseANode, phaseBNode}}
}

// elideUnsatisfiable drops rules with a ground (no-argument) user guard
// that evaluates false (spec §4.6: "constant-unsatisfiable rules... are
// elided").
func elideUnsatisfiable(rules []*ast.Constraint) []*ast.Constraint {
	var kept []*ast.Constraint
	for _, r := range rules {
		sat := true
		for _, atom := range r.Body {
			if atom.Kind == ast.BGuard && len(atom.GuardArgs) == 0 && atom.Guard != nil {
				if !atom.Guard(nil) {
					sat = false
					break
				}
			}
		}
		if sat {
			kept = append(kept, r)
		}
	}
	return kept
}

// variantFunc selects, for the atom at index atomIdx with predicate id
// predID, which variant of that predicate Phase A/B should read from.
type variantFunc func(atomIdx int, predID predsym.ID) predsym.Variant

// buildRuleJoin compiles one rule into a nested Search/If/Functional
// chain terminating in a Project, choosing each positive predicate
// atom's relation variant via variantFor and projecting into the head
// predicate's headVariant.
func (c *Compiler) buildRuleJoin(reg *predsym.Registry, rule *ast.Constraint, variantFor variantFunc, headVariant predsym.Variant) Node {
	env := make(map[string]ColRef)

	var build func(i int) Node
	build = func(i int) Node {
		if i == len(rule.Body) {
			return c.buildProject(reg, rule, env, headVariant)
		}
		atom := rule.Body[i]
		switch atom.Kind {
		case ast.BPredicate:
			if atom.Positive {
				v := variantFor(i, atom.Sym.ID())
				rel := reg.RelForID(atom.Sym.ID(), v)
				rv := c.freshRowVar(rel.Sym.Name)
				meetIdx := -1
				if rel.Denotation == predsym.Latticenal {
					meetIdx = len(atom.Terms) - 1
				}
				var eqGuards []*Guard
				for col, t := range atom.Terms {
					col := col
					if col == meetIdx {
						col = MeetCol
					}
					cref := ColRef{RV: rv, Col: col}
					switch t.Kind {
					case ast.Var:
						if existing, ok := env[t.Name]; ok {
							eqGuards = append(eqGuards, &Guard{Kind: GEq, A: ColTerm(cref), B: ColTerm(existing)})
						} else {
							env[t.Name] = cref
						}
					case ast.Lit:
						eqGuards = append(eqGuards, &Guard{Kind: GEq, A: ColTerm(cref), B: LitTerm(t.Val)})
					case ast.Wild:
						// no constraint
					}
				}
				if meetIdx >= 0 {
					// spec §4.6: a positive lattice body read excludes bottom.
					meetRef := ColTerm(ColRef{RV: rv, Col: MeetCol})
					eqGuards = append(eqGuards, &Guard{Kind: GNotBot, Rel: rel, Terms: []Term{meetRef}})
				}
				rest := build(i + 1)
				if len(eqGuards) > 0 {
					rest = &If{Guards: eqGuards, Body: rest}
				}
				return &Search{RV: rv, Rel: rel, Body: rest}
			}
			return c.buildNegativeAtom(reg, atom, env, build(i+1))
		case ast.BGuard:
			args := make([]Term, len(atom.GuardArgs))
			for j, name := range atom.GuardArgs {
				args[j] = ColTerm(env[name])
			}
			g := &Guard{Kind: GCall, Name: atom.GuardName, Fn: atom.Guard, Args: args}
			return &If{Guards: []*Guard{g}, Body: build(i + 1)}
		case ast.BFunctional:
			in := make([]Term, len(atom.InVars))
			for j, name := range atom.InVars {
				in[j] = ColTerm(env[name])
			}
			rv := c.freshRowVar("func")
			out := make([]ColRef, len(atom.OutVars))
			for j, name := range atom.OutVars {
				cref := ColRef{RV: rv, Col: j}
				env[name] = cref
				out[j] = cref
			}
			return &Functional{RV: rv, OutCols: out, FnName: atom.FnName, Fn: atom.Fn, InCols: in, Body: build(i + 1)}
		default:
			panic("ram: unknown body atom kind")
		}
	}
	return build(0)
}

func (c *Compiler) buildNegativeAtom(reg *predsym.Registry, atom ast.BodyAtom, env map[string]ColRef, rest Node) Node {
	rel := reg.RelForID(atom.Sym.ID(), predsym.Full)
	terms := make([]Term, len(atom.Terms))
	for col, t := range atom.Terms {
		terms[col] = resolveTerm(env, t)
	}
	g := &Guard{Kind: GNotMember, Rel: rel, Terms: terms}
	return &If{Guards: []*Guard{g}, Body: rest}
}

func resolveTerm(env map[string]ColRef, t ast.Term) Term {
	switch t.Kind {
	case ast.Var:
		return ColTerm(env[t.Name])
	case ast.Lit:
		return LitTerm(t.Val)
	default:
		panic("ram: wildcard not permitted in this position")
	}
}

func (c *Compiler) buildProject(reg *predsym.Registry, rule *ast.Constraint, env map[string]ColRef, headVariant predsym.Variant) Node {
	rel := reg.RelForID(rule.HeadSym.Sym.ID(), headVariant)
	terms := make([]ProjTerm, len(rule.Head))
	for i, ht := range rule.Head {
		switch ht.Kind {
		case ast.HVar:
			terms[i] = ProjTerm{Kind: ast.HVar, Ref: env[ht.Name]}
		case ast.HLit:
			terms[i] = ProjTerm{Kind: ast.HLit, Val: ht.Val}
		case ast.HApp:
			args := make([]ColRef, len(ht.AppArgs))
			for j, name := range ht.AppArgs {
				args[j] = env[name]
			}
			terms[i] = ProjTerm{Kind: ast.HApp, Fn: ht.Fn, FnName: ht.FnName, AppArgs: args}
		case ast.HProvMax:
			args := make([]ColRef, len(ht.ProvArgs))
			for j, name := range ht.ProvArgs {
				args[j] = env[name]
			}
			terms[i] = ProjTerm{Kind: ast.HProvMax, ProvArgs: args}
		}
	}
	return &Project{Rel: rel, Terms: terms}
}
