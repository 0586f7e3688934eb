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

import "fmt"

// Simplify eliminates tautologies, pushes membership tests to the end
// of their guard list, collapses a guard-less If to its body, drops a
// non-progressing Until, and flattens empty/singleton Seq and Par
// (spec §4.7).
func Simplify(n Node) Node {
	switch v := n.(type) {
	case *Search:
		v.Body = Simplify(v.Body)
		return v
	case *Query:
		v.Guard = reorderMembershipLast(filterTautologies(v.Guard))
		v.Body = Simplify(v.Body)
		return v
	case *If:
		v.Guards = reorderMembershipLast(filterTautologies(v.Guards))
		v.Body = Simplify(v.Body)
		if len(v.Guards) == 0 {
			return v.Body
		}
		return v
	case *Functional:
		v.Body = Simplify(v.Body)
		return v
	case *Seq:
		var out []Node
		for _, s := range v.Stmts {
			s = Simplify(s)
			if sq, ok := s.(*Seq); ok {
				out = append(out, sq.Stmts...)
			} else {
				out = append(out, s)
			}
		}
		return wrapSeq(out)
	case *Par:
		var out []Node
		for _, s := range v.Stmts {
			out = append(out, Simplify(s))
		}
		if len(out) == 0 {
			return &Comment{Text: "empty par"}
		}
		if len(out) == 1 {
			return out[0]
		}
		return &Par{Stmts: out}
	case *Until:
		v.Body = Simplify(v.Body)
		if isMaintenanceOnly(v.Body) {
			return &Comment{Text: fmt.Sprintf("dropped non-progressing until over %d relation(s)", len(v.Deltas))}
		}
		return v
	default:
		// MergeInto, Swap, Purge, Project, Comment are leaves.
		return n
	}
}

func wrapSeq(stmts []Node) Node {
	if len(stmts) == 0 {
		return &Comment{Text: "empty seq"}
	}
	if len(stmts) == 1 {
		return stmts[0]
	}
	return &Seq{Stmts: stmts}
}

func filterTautologies(gs []*Guard) []*Guard {
	var out []*Guard
	for _, g := range gs {
		if !g.IsTautology() {
			out = append(out, g)
		}
	}
	return out
}

func reorderMembershipLast(gs []*Guard) []*Guard {
	var rest, member []*Guard
	for _, g := range gs {
		if g.Kind == GNotMember {
			member = append(member, g)
		} else {
			rest = append(rest, g)
		}
	}
	return append(rest, member...)
}

// isMaintenanceOnly reports whether n consists entirely of
// MergeInto/Swap/Purge/Comment statements, the condition under which an
// Until loop would run without progress (spec §4.7).
func isMaintenanceOnly(n Node) bool {
	switch v := n.(type) {
	case *MergeInto, *Swap, *Purge, *Comment:
		return true
	case *Seq:
		for _, s := range v.Stmts {
			if !isMaintenanceOnly(s) {
				return false
			}
		}
		return true
	case *Par:
		for _, s := range v.Stmts {
			if !isMaintenanceOnly(s) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
