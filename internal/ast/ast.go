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

// Package ast is the high-level Datalog AST (spec §4.4): facts, rules,
// guards, and functionals over relational or lattice-valued predicates.
// It keeps the teacher's Literal/Clause vocabulary (datalog.go) but
// replaces pointer-identity variables with named Term values, since a
// program here is always driven programmatically through the solver
// facade rather than parsed from text (the surface parser is an
// out-of-scope collaborator, per spec §1).
package ast

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// TermKind distinguishes the three kinds of body-atom argument (spec
// §4.4): a bound variable, a literal constant, or a wildcard that never
// needs to be bound.
type TermKind byte

const (
	Var TermKind = iota
	Lit
	Wild
)

// Term is one argument of a body atom.
type Term struct {
	Kind TermKind
	Name string      // for Var
	Val  boxed.Value // for Lit
}

func NewVar(name string) Term  { return Term{Kind: Var, Name: name} }
func NewLit(v boxed.Value) Term { return Term{Kind: Lit, Val: v} }
func NewWild() Term             { return Term{Kind: Wild} }

func (t Term) String() string {
	switch t.Kind {
	case Var:
		return t.Name
	case Lit:
		return t.Val.String()
	case Wild:
		return "_"
	default:
		return "?"
	}
}

// HeadTermKind distinguishes the three kinds of head-atom argument
// (spec §4.4): a variable bound somewhere in the body, a literal
// constant, or the application of a pure function to ≤5 body variables.
type HeadTermKind byte

const (
	HVar HeadTermKind = iota
	HLit
	HApp
	HProvMax // provenance augmentation only; see internal/provenance
)

// AppFunc is a pure function applied to the boxed values of HApp's
// argument variables.
type AppFunc func(args []boxed.Value) boxed.Value

// HeadTerm is one argument of a rule or fact head.
type HeadTerm struct {
	Kind    HeadTermKind
	Name    string // for HVar
	Val     boxed.Value
	Fn      AppFunc
	FnName  string
	AppArgs []string // HApp argument variable names, 0..5
	// ProvArgs names the body variables bound to each positive body
	// atom's depth column, which a HProvMax term reads; populated by
	// provenance augmentation, never by the caller.
	ProvArgs []string
}

func NewHVar(name string) HeadTerm       { return HeadTerm{Kind: HVar, Name: name} }
func NewHLit(v boxed.Value) HeadTerm     { return HeadTerm{Kind: HLit, Val: v} }
func NewHApp(fnName string, fn AppFunc, args ...string) HeadTerm {
	if len(args) > 5 {
		panic("ast: App functional supports at most 5 arguments")
	}
	return HeadTerm{Kind: HApp, Fn: fn, FnName: fnName, AppArgs: args}
}

func (t HeadTerm) String() string {
	switch t.Kind {
	case HVar:
		return t.Name
	case HLit:
		return t.Val.String()
	case HApp:
		return fmt.Sprintf("%s(%s)", t.FnName, strings.Join(t.AppArgs, ", "))
	case HProvMax:
		return fmt.Sprintf("provmax(%s)", strings.Join(t.ProvArgs, ", "))
	default:
		return "?"
	}
}

// BodyAtomKind distinguishes the three kinds of body constraint (spec
// §4.4): a predicate literal (possibly negated), a pure boolean guard,
// or a functional that computes output variables from ground inputs.
type BodyAtomKind byte

const (
	BPredicate BodyAtomKind = iota
	BGuard
	BFunctional
)

// GuardFunc is a pure boolean test applied to ≤5 bound argument values.
type GuardFunc func(args []boxed.Value) bool

// FunctionalFunc computes len(OutVars) output values from len(InVars)
// ground input values.
type FunctionalFunc func(args []boxed.Value) []boxed.Value

// BodyAtom is one conjunct of a rule's body.
type BodyAtom struct {
	Kind BodyAtomKind

	// BPredicate
	Sym      predsym.PredSym
	Rel      predsym.RelSym
	Positive bool
	Terms    []Term

	// BGuard
	GuardName string
	Guard     GuardFunc
	GuardArgs []string // 0..5

	// BFunctional
	OutVars  []string
	FnName   string
	Fn       FunctionalFunc
	InVars   []string
}

func NewPredAtom(rel predsym.RelSym, positive bool, terms ...Term) BodyAtom {
	if len(terms) != rel.Width() {
		panic("ast: body atom arity mismatch")
	}
	return BodyAtom{Kind: BPredicate, Sym: rel.Sym, Rel: rel, Positive: positive, Terms: terms}
}

func NewGuard(name string, fn GuardFunc, args ...string) BodyAtom {
	if len(args) > 5 {
		panic("ast: Guard supports at most 5 arguments")
	}
	return BodyAtom{Kind: BGuard, GuardName: name, Guard: fn, GuardArgs: args}
}

func NewFunctional(fnName string, fn FunctionalFunc, out []string, in []string) BodyAtom {
	return BodyAtom{Kind: BFunctional, FnName: fnName, Fn: fn, OutVars: out, InVars: in}
}

func (a BodyAtom) String() string {
	switch a.Kind {
	case BPredicate:
		parts := make([]string, len(a.Terms))
		for i, t := range a.Terms {
			parts[i] = t.String()
		}
		neg := ""
		if !a.Positive {
			neg = "not "
		}
		return fmt.Sprintf("%s%s(%s)", neg, a.Sym, strings.Join(parts, ", "))
	case BGuard:
		return fmt.Sprintf("%s(%s)", a.GuardName, strings.Join(a.GuardArgs, ", "))
	case BFunctional:
		return fmt.Sprintf("%s = %s(%s)", strings.Join(a.OutVars, ","), a.FnName, strings.Join(a.InVars, ", "))
	default:
		return "?"
	}
}

// Constraint is "head :- body". A fact is a Constraint whose Body is
// empty and whose Head terms are all HLit.
type Constraint struct {
	HeadSym predsym.RelSym
	Head    []HeadTerm
	Body    []BodyAtom
	// RuleNo is assigned by the Datalog program builder; used by
	// provenance augmentation (spec §4.11) to tag derived tuples with
	// their firing rule.
	RuleNo int32
}

func (c *Constraint) IsFact() bool { return len(c.Body) == 0 }

func (c *Constraint) String() string {
	var buf bytes.Buffer
	parts := make([]string, len(c.Head))
	for i, t := range c.Head {
		parts[i] = t.String()
	}
	fmt.Fprintf(&buf, "%s(%s)", c.HeadSym, strings.Join(parts, ", "))
	if len(c.Body) > 0 {
		bparts := make([]string, len(c.Body))
		for i, a := range c.Body {
			bparts[i] = a.String()
		}
		fmt.Fprintf(&buf, " :- %s", strings.Join(bparts, ", "))
	}
	return buf.String()
}

// Safe reports whether every head variable is bound in the body
// (grounded in the teacher's Clause.Safe, datalog.go:523), either by a
// positive body predicate atom or as a functional's output, generalized
// to also require every variable used by a guard, a negative atom or a
// functional's input to be bound by some positive predicate atom or an
// earlier functional -- a user-input error rather than a silent miscompile.
func (c *Constraint) Safe() bool {
	bound := make(map[string]bool)
	for _, atom := range c.Body {
		if atom.Kind == BPredicate && atom.Positive {
			for _, t := range atom.Terms {
				if t.Kind == Var {
					bound[t.Name] = true
				}
			}
		}
	}
	for _, atom := range c.Body {
		switch atom.Kind {
		case BGuard:
			for _, a := range atom.GuardArgs {
				if !bound[a] {
					return false
				}
			}
		case BFunctional:
			for _, a := range atom.InVars {
				if !bound[a] {
					return false
				}
			}
			for _, o := range atom.OutVars {
				bound[o] = true
			}
		case BPredicate:
			if !atom.Positive {
				for _, t := range atom.Terms {
					if t.Kind == Var && !bound[t.Name] {
						return false
					}
				}
			}
		}
	}
	for _, t := range c.Head {
		if t.Kind == HVar && !bound[t.Name] {
			return false
		}
		if t.Kind == HApp {
			for _, a := range t.AppArgs {
				if !bound[a] {
					return false
				}
			}
		}
	}
	return true
}

// Datalog is a whole program: a registry of declared predicates plus a
// set of facts and rules over them.
type Datalog struct {
	Registry    *predsym.Registry
	Constraints []*Constraint
}

func NewDatalog(reg *predsym.Registry) *Datalog {
	return &Datalog{Registry: reg}
}

// Add appends a constraint, assigning it the next RuleNo.
func (d *Datalog) Add(c *Constraint) {
	c.RuleNo = int32(len(d.Constraints))
	d.Constraints = append(d.Constraints, c)
}

// RulesFor returns every constraint whose head predicate has the given
// id (comparing by predicate id, ignoring variant).
func (d *Datalog) RulesFor(id predsym.ID) []*Constraint {
	var out []*Constraint
	for _, c := range d.Constraints {
		if c.HeadSym.Sym.ID() == id {
			out = append(out, c)
		}
	}
	return out
}
