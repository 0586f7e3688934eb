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

// Lowering (spec §4.12): assigns a dense integer slot to every RowVar
// (tuple register) and to every physical index chosen by index
// selection, and rewrites the high-level tree into an executable form
// addressed by those slots instead of by RowVar/RelSym identity. Along
// the way it feeds every column equated by a guard, or copied straight
// through into a Project term, into a predsym.UnionFind: the resulting
// equivalence classes are the "unified positions" (spec §4.3) the
// boxing registry uses to pick one boxed.Kind per class.
//
// Simplification: spec §4.12 additionally describes compiling each
// Search's equality guards into writeList/constWrite register patches
// applied directly to a later RowVar's min/max search-tuple bounds,
// avoiding a dictionary lookup at interpret time. This lowering instead
// keeps Query's equalities as resolved ETerm values that the
// interpreter passes straight to the target index's range-scan call;
// the asymptotic behavior is the same (one index range probe per
// Query), but the register-patch compilation itself is not built. See
// DESIGN.md.
package ram

import (
	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/bug"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// ESlotRef addresses one column of a lowered row register.
type ESlotRef struct {
	Slot int
	Col  int
}

// ETerm is a lowered Term: a register reference or a literal.
type ETerm struct {
	IsLit bool
	Lit   boxed.Value
	Ref   ESlotRef
}

// EEq is one Query equality, resolved at lowering time to an ETerm.
type EEq struct {
	Col int
	Val ETerm
}

type EGuardKind int

const (
	EGEq EGuardKind = iota
	EGNeq
	EGCall
	EGNotMember
	EGNotBot
	EGLeqBot
	EGNotEmpty
)

// EGuard is a lowered Guard.
type EGuard struct {
	Kind      EGuardKind
	A, B      ETerm
	Name      string
	Fn        ast.GuardFunc
	Args      []ETerm
	Rel       predsym.RelSym
	IndexSlot int
	Terms     []ETerm
}

// EProjTerm is a lowered ProjTerm.
type EProjTerm struct {
	Kind     ast.HeadTermKind
	Ref      ESlotRef
	Val      boxed.Value
	Fn       ast.AppFunc
	FnName   string
	AppArgs  []ESlotRef
	ProvArgs []ESlotRef
}

type ENodeType int

const (
	ENSearch ENodeType = iota
	ENQuery
	ENProject
	ENIf
	ENFunctional
	ENMergeInto
	ENSwap
	ENPurge
	ENSeq
	ENPar
	ENUntil
	ENComment
)

// ENode is an executable RAM node, addressed entirely by dense slots.
type ENode interface{ EType() ENodeType }

type ESearch struct {
	Slot      int
	IndexSlot int
	MeetSlot  int // -1 unless Rel is Latticenal
	Body      ENode
}

func (n *ESearch) EType() ENodeType { return ENSearch }

type EQuery struct {
	Slot      int
	IndexSlot int
	Eq        []EEq
	Guard     []EGuard
	MeetSlot  int
	Body      ENode
}

func (n *EQuery) EType() ENodeType { return ENQuery }

type EProject struct {
	Rel       predsym.RelSym
	IndexSlots []int
	Terms     []EProjTerm
}

func (n *EProject) EType() ENodeType { return ENProject }

type EIf struct {
	Guards []EGuard
	Body   ENode
}

func (n *EIf) EType() ENodeType { return ENIf }

type EFunctional struct {
	Slot   int
	NumOut int
	FnName string
	Fn     ast.FunctionalFunc
	InCols []ETerm
	Body   ENode
}

func (n *EFunctional) EType() ENodeType { return ENFunctional }

type EMergeInto struct {
	SrcSlots, DstSlots []int
	Dst                predsym.RelSym
}

func (n *EMergeInto) EType() ENodeType { return ENMergeInto }

type ESwap struct{ ASlots, BSlots []int }

func (n *ESwap) EType() ENodeType { return ENSwap }

type EPurge struct{ Slots []int }

func (n *EPurge) EType() ENodeType { return ENPurge }

type ESeq struct{ Stmts []ENode }

func (n *ESeq) EType() ENodeType { return ENSeq }

type EPar struct{ Stmts []ENode }

func (n *EPar) EType() ENodeType { return ENPar }

type EUntil struct {
	DeltaSlots [][]int
	Body       ENode
}

func (n *EUntil) EType() ENodeType { return ENUntil }

type EComment struct{ Text string }

func (n *EComment) EType() ENodeType { return ENComment }

// IndexHandle describes one dense index slot's owning relation/variant
// and physical column order.
type IndexHandle struct {
	Rel   predsym.RelSym
	Order []int
}

// IndexKey names one (predicate, variant)'s set of physical indexes.
type IndexKey struct {
	Rel     predsym.ID
	Variant predsym.Variant
}

// LoweredProgram is the output of Lower: a dense slot count, every
// index's handle, each relation-variant's assigned index slots, the
// executable tree, and the union-find of unified positions gathered
// while lowering (consumed by the boxing registry to fix one
// boxed.Kind per equivalence class before interpretation begins).
type LoweredProgram struct {
	NumSlots   int
	Indexes    []IndexHandle
	IndexSlots map[IndexKey][]int
	Program    ENode
	Unified    *predsym.UnionFind
}

type lowerCtx struct {
	slots      map[int64]int
	nextSlot   int
	indexSlots map[IndexKey][]int
	indexes    []IndexHandle
	reg        *predsym.Registry
	uf         *predsym.UnionFind
}

// Lower turns a hoisted, index-selected high-level RAM tree into an
// executable one (spec §4.12). cat supplies the physical index choice
// per relation; every variant of a relation gets its own index
// instances sharing cat's key order.
func Lower(n Node, cat *IndexCatalogue, reg *predsym.Registry) *LoweredProgram {
	c := &lowerCtx{
		slots:      make(map[int64]int),
		indexSlots: make(map[IndexKey][]int),
		reg:        reg,
		uf:         predsym.NewUnionFind(),
	}
	for id, orders := range cat.Orders {
		for _, v := range [...]predsym.Variant{predsym.Full, predsym.Delta, predsym.New} {
			rel := reg.RelForID(id, v)
			var slots []int
			for _, order := range orders {
				slots = append(slots, c.addIndex(rel, order))
			}
			c.indexSlots[IndexKey{id, v}] = slots
		}
	}
	prog := c.lowerNode(n)
	return &LoweredProgram{
		NumSlots:   c.nextSlot,
		Indexes:    c.indexes,
		IndexSlots: c.indexSlots,
		Program:    prog,
		Unified:    c.uf,
	}
}

func (c *lowerCtx) addIndex(rel predsym.RelSym, order []int) int {
	slot := len(c.indexes)
	c.indexes = append(c.indexes, IndexHandle{Rel: rel, Order: order})
	return slot
}

func (c *lowerCtx) slotFor(rv RowVar) int {
	if s, ok := c.slots[rv.ID]; ok {
		return s
	}
	s := c.nextSlot
	c.nextSlot++
	c.slots[rv.ID] = s
	return s
}

func (c *lowerCtx) indexSlotsFor(rel predsym.RelSym) []int {
	slots := c.indexSlots[IndexKey{rel.Sym.ID(), rel.Sym.Variant}]
	if len(slots) == 0 {
		bug.Raise("ram.Lower", "relation %s has no assigned index", rel)
	}
	return slots
}

func (c *lowerCtx) primaryIndex(rel predsym.RelSym) int {
	return c.indexSlotsFor(rel)[0]
}

// pickIndex returns the physical index whose key-order prefix exactly
// covers boundCols, satisfying the "index cover" property (spec §8.7);
// falls back to the primary index if none matches precisely (index
// selection builds one whose prefix is boundCols for every Query that
// CollectPrimitiveSearches saw, so the fallback is reached only for a
// Query that index selection did not see).
func (c *lowerCtx) pickIndex(rel predsym.RelSym, boundCols []int) int {
	slots := c.indexSlotsFor(rel)
	want := setFromCols(boundCols)
	for _, s := range slots {
		order := c.indexes[s].Order
		if len(order) < len(boundCols) {
			continue
		}
		if setFromCols(order[:len(boundCols)]) == want {
			return s
		}
	}
	return slots[0]
}

func (c *lowerCtx) meetSlot(rel predsym.RelSym, slot int) int {
	if rel.Denotation != predsym.Latticenal {
		return -1
	}
	return slot
}

func (c *lowerCtx) lowerTerm(t Term) ETerm {
	if t.IsLit {
		return ETerm{IsLit: true, Lit: t.Lit}
	}
	return ETerm{Ref: ESlotRef{Slot: c.slotFor(t.Ref.RV), Col: t.Ref.Col}}
}

func (c *lowerCtx) lowerGuard(g *Guard) EGuard {
	switch g.Kind {
	case GEq:
		a, b := c.lowerTerm(g.A), c.lowerTerm(g.B)
		if !g.A.IsLit && !g.B.IsLit {
			c.uf.Union(predsym.RowVarSite(g.A.Ref.RV.ID, g.A.Ref.Col), predsym.RowVarSite(g.B.Ref.RV.ID, g.B.Ref.Col))
		}
		return EGuard{Kind: EGEq, A: a, B: b}
	case GNeq:
		return EGuard{Kind: EGNeq, A: c.lowerTerm(g.A), B: c.lowerTerm(g.B)}
	case GCall:
		args := make([]ETerm, len(g.Args))
		for i, a := range g.Args {
			args[i] = c.lowerTerm(a)
		}
		return EGuard{Kind: EGCall, Name: g.Name, Fn: g.Fn, Args: args}
	case GNotMember:
		terms := make([]ETerm, len(g.Terms))
		for i, t := range g.Terms {
			terms[i] = c.lowerTerm(t)
		}
		return EGuard{Kind: EGNotMember, Rel: g.Rel, IndexSlot: c.primaryIndex(g.Rel), Terms: terms}
	case GNotBot:
		return EGuard{Kind: EGNotBot, Rel: g.Rel, Terms: []ETerm{c.lowerTerm(g.Terms[len(g.Terms)-1])}}
	case GLeqBot:
		return EGuard{Kind: EGLeqBot, Rel: g.Rel, Terms: []ETerm{c.lowerTerm(g.Terms[len(g.Terms)-1])}}
	case GNotEmpty:
		return EGuard{Kind: EGNotEmpty, Rel: g.Rel, IndexSlot: c.primaryIndex(g.Rel)}
	default:
		bug.Raise("ram.Lower", "unknown guard kind %d", g.Kind)
		return EGuard{}
	}
}

func (c *lowerCtx) lowerGuards(gs []*Guard) []EGuard {
	out := make([]EGuard, len(gs))
	for i, g := range gs {
		out[i] = c.lowerGuard(g)
	}
	return out
}

func (c *lowerCtx) lowerProjTerms(rel predsym.RelSym, terms []ProjTerm) []EProjTerm {
	out := make([]EProjTerm, len(terms))
	for i, t := range terms {
		switch t.Kind {
		case ast.HVar:
			c.uf.Union(predsym.RelSite(rel.Sym.ID(), i), predsym.RowVarSite(t.Ref.RV.ID, t.Ref.Col))
			out[i] = EProjTerm{Kind: ast.HVar, Ref: ESlotRef{Slot: c.slotFor(t.Ref.RV), Col: t.Ref.Col}}
		case ast.HLit:
			out[i] = EProjTerm{Kind: ast.HLit, Val: t.Val}
		case ast.HApp:
			args := make([]ESlotRef, len(t.AppArgs))
			for j, a := range t.AppArgs {
				args[j] = ESlotRef{Slot: c.slotFor(a.RV), Col: a.Col}
			}
			out[i] = EProjTerm{Kind: ast.HApp, Fn: t.Fn, FnName: t.FnName, AppArgs: args}
		case ast.HProvMax:
			args := make([]ESlotRef, len(t.ProvArgs))
			for j, a := range t.ProvArgs {
				args[j] = ESlotRef{Slot: c.slotFor(a.RV), Col: a.Col}
			}
			out[i] = EProjTerm{Kind: ast.HProvMax, ProvArgs: args}
		}
	}
	return out
}

func (c *lowerCtx) lowerNode(n Node) ENode {
	switch v := n.(type) {
	case *Search:
		slot := c.slotFor(v.RV)
		return &ESearch{Slot: slot, IndexSlot: c.primaryIndex(v.Rel), MeetSlot: c.meetSlot(v.Rel, slot), Body: c.lowerNode(v.Body)}
	case *Query:
		slot := c.slotFor(v.RV)
		cols := make([]int, len(v.Eq))
		eq := make([]EEq, len(v.Eq))
		for i, e := range v.Eq {
			cols[i] = e.Col
			eq[i] = EEq{Col: e.Col, Val: c.lowerTerm(e.Val)}
		}
		return &EQuery{
			Slot: slot, IndexSlot: c.pickIndex(v.Rel, cols), Eq: eq,
			Guard: c.lowerGuards(v.Guard), MeetSlot: c.meetSlot(v.Rel, slot), Body: c.lowerNode(v.Body),
		}
	case *Project:
		return &EProject{Rel: v.Rel, IndexSlots: c.indexSlotsFor(v.Rel), Terms: c.lowerProjTerms(v.Rel, v.Terms)}
	case *If:
		return &EIf{Guards: c.lowerGuards(v.Guards), Body: c.lowerNode(v.Body)}
	case *Functional:
		in := make([]ETerm, len(v.InCols))
		for i, t := range v.InCols {
			in[i] = c.lowerTerm(t)
		}
		return &EFunctional{Slot: c.slotFor(v.RV), NumOut: len(v.OutCols), FnName: v.FnName, Fn: v.Fn, InCols: in, Body: c.lowerNode(v.Body)}
	case *MergeInto:
		return &EMergeInto{SrcSlots: c.indexSlotsFor(v.Src), DstSlots: c.indexSlotsFor(v.Dst), Dst: v.Dst}
	case *Swap:
		return &ESwap{ASlots: c.indexSlotsFor(v.A), BSlots: c.indexSlotsFor(v.B)}
	case *Purge:
		return &EPurge{Slots: c.indexSlotsFor(v.Rel)}
	case *Seq:
		stmts := make([]ENode, len(v.Stmts))
		for i, s := range v.Stmts {
			stmts[i] = c.lowerNode(s)
		}
		return &ESeq{Stmts: stmts}
	case *Par:
		stmts := make([]ENode, len(v.Stmts))
		for i, s := range v.Stmts {
			stmts[i] = c.lowerNode(s)
		}
		return &EPar{Stmts: stmts}
	case *Until:
		deltas := make([][]int, len(v.Deltas))
		for i, d := range v.Deltas {
			deltas[i] = c.indexSlotsFor(d)
		}
		return &EUntil{DeltaSlots: deltas, Body: c.lowerNode(v.Body)}
	case *Comment:
		return &EComment{Text: v.Text}
	default:
		bug.Raise("ram.Lower", "unknown node type %T", n)
		return nil
	}
}
