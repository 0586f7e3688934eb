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

// Hoisting rewrites a Search immediately followed by equality guards
// into a Query that can use those equalities as an index range lookup
// (spec §4.8), and lifts every rule's ground preconditions -- here,
// "every relation this rule's join touches must be non-empty" -- to a
// guard in front of the whole rule, so a single empty input relation
// short-circuits the rule without walking any index.
package ram

import "github.com/kevinawalsh/ramdatalog/internal/predsym"

// Hoist runs query folding followed by rule-level guard lifting.
func Hoist(n Node) Node {
	n = foldQueries(n)
	n = liftRuleGuards(n)
	return n
}

// foldQueries rewrites Search(rv, rel, If(guards, body)) into
// Query(rv, rel, eq, residual, body) wherever an equality guard on rv's
// own column can be lifted into an index-range binding. Recurses at
// every nesting level, innermost first, so a chain of Searches each
// gets folded independently.
func foldQueries(n Node) Node {
	switch v := n.(type) {
	case *Search:
		v.Body = foldQueries(v.Body)
		if ifn, ok := v.Body.(*If); ok {
			eq, residual := partitionEq(v.RV, ifn.Guards)
			if len(eq) > 0 {
				return &Query{RV: v.RV, Rel: v.Rel, Eq: eq, Guard: residual, Body: ifn.Body}
			}
		}
		return v
	case *Query:
		v.Body = foldQueries(v.Body)
		return v
	case *If:
		v.Body = foldQueries(v.Body)
		return v
	case *Functional:
		v.Body = foldQueries(v.Body)
		return v
	case *Seq:
		for i := range v.Stmts {
			v.Stmts[i] = foldQueries(v.Stmts[i])
		}
		return v
	case *Par:
		for i := range v.Stmts {
			v.Stmts[i] = foldQueries(v.Stmts[i])
		}
		return v
	case *Until:
		v.Body = foldQueries(v.Body)
		return v
	default:
		return n
	}
}

// partitionEq splits guards into those that bind one of rv's own
// columns to an already-resolved term (usable as an index equality)
// and the rest, which remain as a post-scan filter.
func partitionEq(rv RowVar, guards []*Guard) (eq []EqBinding, residual []*Guard) {
	for _, g := range guards {
		if g.Kind == GEq {
			// A MeetCol reference has no physical index column to bind
			// (the lattice value is never part of the index key), so it
			// can never become an index-range equality; leave it residual.
			// The same holds for an equality between two columns of rv
			// itself: neither side has a value before the scan binds rv.
			if !g.A.IsLit && g.A.Ref.RV == rv && g.A.Ref.Col != MeetCol && (g.B.IsLit || g.B.Ref.RV != rv) {
				eq = append(eq, EqBinding{Col: g.A.Ref.Col, Val: g.B})
				continue
			}
			if !g.B.IsLit && g.B.Ref.RV == rv && g.B.Ref.Col != MeetCol && (g.A.IsLit || g.A.Ref.RV != rv) {
				eq = append(eq, EqBinding{Col: g.B.Ref.Col, Val: g.A})
				continue
			}
		}
		residual = append(residual, g)
	}
	return eq, residual
}

// liftRuleGuards walks Seq/Par/Until containers, recursing first so
// nested containers are handled, then wraps any Search/Query it finds
// directly inside a Seq or Par (i.e. a rule's root statement, as
// emitted once per rule by the compiler) with a ¬IsEmpty guard per
// relation the rule's join touches.
func liftRuleGuards(n Node) Node {
	switch v := n.(type) {
	case *Seq:
		for i, s := range v.Stmts {
			v.Stmts[i] = wrapIfRoot(liftRuleGuards(s))
		}
		return v
	case *Par:
		for i, s := range v.Stmts {
			v.Stmts[i] = wrapIfRoot(liftRuleGuards(s))
		}
		return v
	case *Until:
		v.Body = liftRuleGuards(v.Body)
		return v
	default:
		return n
	}
}

func wrapIfRoot(s Node) Node {
	switch s.(type) {
	case *Search, *Query:
		rels := collectRelations(s)
		if len(rels) == 0 {
			return s
		}
		guards := make([]*Guard, len(rels))
		for i, r := range rels {
			guards[i] = &Guard{Kind: GNotEmpty, Rel: r}
		}
		return &If{Guards: guards, Body: s}
	default:
		return s
	}
}

// collectRelations returns, in first-seen order, every relation a
// rule's join scans (Search/Query targets), used to build the ¬IsEmpty
// precondition list.
func collectRelations(n Node) []predsym.RelSym {
	seen := make(map[predsym.ID]bool)
	var out []predsym.RelSym
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Search:
			if !seen[v.Rel.Sym.ID()] {
				seen[v.Rel.Sym.ID()] = true
				out = append(out, v.Rel)
			}
			walk(v.Body)
		case *Query:
			if !seen[v.Rel.Sym.ID()] {
				seen[v.Rel.Sym.ID()] = true
				out = append(out, v.Rel)
			}
			walk(v.Body)
		case *If:
			walk(v.Body)
		case *Functional:
			walk(v.Body)
		}
	}
	walk(n)
	return out
}
