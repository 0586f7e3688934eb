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
	"strings"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// GuardKind enumerates the boolean-expression forms an If or a Query's
// residual guard list can hold (spec §4.6, §4.8): equality/inequality
// tests, user guard calls, negative-atom membership tests, lattice
// bottom tests, and the hoisting-lifted "relation is non-empty" check.
type GuardKind int

const (
	GEq GuardKind = iota
	GNeq
	GCall
	GNotMember
	GNotBot
	GLeqBot
	GNotEmpty
)

// Guard is a single boolean-expression node, used both inside an If and
// as a Query's residual (post-range-scan) filter list.
type Guard struct {
	Kind GuardKind

	// GEq / GNeq
	A, B Term

	// GCall: a user Guard{0..5} (ast.BGuard)
	Name string
	Fn   ast.GuardFunc
	Args []Term

	// GNotMember: the negated body atom's relation and tuple terms
	// GNotEmpty: just Rel
	Rel   predsym.RelSym
	Terms []Term

	// GNotBot / GLeqBot: Terms[len(Terms)-1] is the lattice value term
}

func (g *Guard) String() string {
	switch g.Kind {
	case GEq:
		return fmt.Sprintf("%s = %s", g.A, g.B)
	case GNeq:
		return fmt.Sprintf("%s != %s", g.A, g.B)
	case GCall:
		parts := make([]string, len(g.Args))
		for i, a := range g.Args {
			parts[i] = a.String()
		}
		return fmt.Sprintf("%s(%s)", g.Name, strings.Join(parts, ","))
	case GNotMember:
		parts := make([]string, len(g.Terms))
		for i, t := range g.Terms {
			parts[i] = t.String()
		}
		return fmt.Sprintf("notMemberOf(%s, (%s))", g.Rel, strings.Join(parts, ","))
	case GNotBot:
		return fmt.Sprintf("notBot(%s)", g.Terms[len(g.Terms)-1])
	case GLeqBot:
		return fmt.Sprintf("leq(bot, %s)", g.Terms[len(g.Terms)-1])
	case GNotEmpty:
		return fmt.Sprintf("!isEmpty(%s)", g.Rel)
	default:
		return "?"
	}
}

// FreeRefs returns every ColRef the guard reads, used by hoisting to
// decide when a RowVar's guards are all ground.
func (g *Guard) FreeRefs() []ColRef {
	var out []ColRef
	add := func(t Term) {
		if !t.IsLit {
			out = append(out, t.Ref)
		}
	}
	switch g.Kind {
	case GEq, GNeq:
		add(g.A)
		add(g.B)
	case GCall, GNotMember:
		for _, t := range g.Terms {
			add(t)
		}
		for _, t := range g.Args {
			add(t)
		}
	case GNotBot, GLeqBot:
		for _, t := range g.Terms {
			add(t)
		}
	case GNotEmpty:
	}
	return out
}

// IsTautology reports a guard of the form x[i] = x[i] (spec §4.7).
func (g *Guard) IsTautology() bool {
	if g.Kind != GEq {
		return false
	}
	return !g.A.IsLit && !g.B.IsLit && g.A.Ref == g.B.Ref
}
