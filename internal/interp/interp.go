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

// Package interp executes a lowered RAM program (spec §4.13): per-slot
// tuple/lattice registers, ordered-index scans, and a bounded-worker
// EPar/parForEach scheduling model (spec §5).
package interp

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/bug"
	"github.com/kevinawalsh/ramdatalog/internal/index"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
	"github.com/kevinawalsh/ramdatalog/internal/ram"
)

// env is the per-worker register file: tupleEnv and latEnv of spec
// §4.13, indexed by dense RowVar slot. minEnv/maxEnv are not modeled
// separately -- this lowering resolves Query equalities directly into
// an index.RangeByPrefix call instead of patched min/max bound slots
// (see the simplification note atop internal/ram/lower.go), so the
// range bound lives in the EQuery node itself, not in per-slot state.
type env struct {
	tuple [][]boxed.Value
	lat   []boxed.Value
}

func newEnv(numSlots int) *env {
	return &env{tuple: make([][]boxed.Value, numSlots), lat: make([]boxed.Value, numSlots)}
}

// clone gives a worker its own copy of both env arrays (spec §9: "each
// worker owns an independent copy... only indexes are shared"). The
// inner tuple slices are not deep-copied since they are replaced
// wholesale (never mutated in place) every time a Search/Query binds a
// slot.
func (e *env) clone() *env {
	c := &env{tuple: make([][]boxed.Value, len(e.tuple)), lat: make([]boxed.Value, len(e.lat))}
	copy(c.tuple, e.tuple)
	copy(c.lat, e.lat)
	return c
}

// Interp holds one solve's indexes and runs its lowered program.
type Interp struct {
	Indexes    []*index.Index
	handles    []ram.IndexHandle
	indexSlots map[ram.IndexKey][]int
	ParLevel   int
	Workers    int
}

// New allocates one index per IndexHandle in lp, at the given B-tree
// fan-out (spec §6's indexArity).
func New(lp *ram.LoweredProgram, indexArity int, parLevel int) *Interp {
	idx := make([]*index.Index, len(lp.Indexes))
	for i, h := range lp.Indexes {
		idx[i] = index.New(h.Order, indexArity)
	}
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 {
		workers = 2
	}
	return &Interp{Indexes: idx, handles: lp.Indexes, indexSlots: lp.IndexSlots, ParLevel: parLevel, Workers: workers}
}

// Seed inserts tuples (original column order; for a Latticenal
// relation, the trailing column is the lattice value) into every
// physical index backing rel's variant.
func (in *Interp) Seed(rel predsym.RelSym, tuples []index.Tuple) {
	slots := in.indexSlots[ram.IndexKey{Rel: rel.Sym.ID(), Variant: rel.Sym.Variant}]
	for _, slot := range slots {
		ix := in.Indexes[slot]
		for _, t := range tuples {
			if rel.Denotation == predsym.Latticenal {
				val := t[len(t)-1]
				ix.PutWith(t[:len(t)-1], val, rel.Lattice.Join)
			} else {
				ix.Put(t, boxed.None)
			}
		}
	}
}

// Snapshot reads every tuple currently stored in rel's primary index
// (original column order, with the lattice value appended for
// Latticenal relations). Implements provenance.FactStore.
func (in *Interp) Snapshot(rel predsym.RelSym) [][]boxed.Value {
	slots := in.indexSlots[ram.IndexKey{Rel: rel.Sym.ID(), Variant: rel.Sym.Variant}]
	if len(slots) == 0 {
		return nil
	}
	var out [][]boxed.Value
	in.Indexes[slots[0]].ForEach(func(t index.Tuple, val boxed.Value) bool {
		row := append(append([]boxed.Value{}, []boxed.Value(t)...))
		if rel.Denotation == predsym.Latticenal {
			row = append(row, val)
		}
		out = append(out, row)
		return true
	})
	return out
}

func (in *Interp) Lookup(rel predsym.RelSym) [][]boxed.Value { return in.Snapshot(rel) }

// Run executes prog from an empty register file.
func (in *Interp) Run(ctx context.Context, prog ram.ENode, numSlots int) error {
	return in.exec(ctx, prog, newEnv(numSlots), in.ParLevel)
}

func (in *Interp) exec(ctx context.Context, n ram.ENode, e *env, parBudget int) error {
	switch v := n.(type) {
	case *ram.ESearch:
		ix := in.Indexes[v.IndexSlot]
		if parBudget > 0 {
			return ix.ParForEach(ctx, in.Workers, func(t index.Tuple, val boxed.Value) error {
				we := e.clone()
				we.tuple[v.Slot] = []boxed.Value(t)
				if v.MeetSlot >= 0 {
					we.lat[v.MeetSlot] = val
				}
				return in.exec(ctx, v.Body, we, parBudget-1)
			})
		}
		var firstErr error
		ix.ForEach(func(t index.Tuple, val boxed.Value) bool {
			e.tuple[v.Slot] = []boxed.Value(t)
			if v.MeetSlot >= 0 {
				e.lat[v.MeetSlot] = val
			}
			if err := in.exec(ctx, v.Body, e, parBudget-1); err != nil {
				firstErr = err
				return false
			}
			return true
		})
		return firstErr

	case *ram.EQuery:
		ix := in.Indexes[v.IndexSlot]
		handle := in.handles[v.IndexSlot]
		bound := make(map[int]boxed.Value, len(v.Eq))
		for _, eq := range v.Eq {
			bound[eq.Col] = in.resolve(eq.Val, e)
		}
		prefix := make(index.Tuple, len(v.Eq))
		for i := 0; i < len(v.Eq); i++ {
			col := handle.Order[i]
			val, ok := bound[col]
			if !ok {
				bug.Raise("interp.exec", "query over %s missing bound column %d from its chosen index prefix", handle.Rel, col)
			}
			prefix[i] = val
		}
		var firstErr error
		ix.RangeByPrefix(prefix, func(t index.Tuple, val boxed.Value) bool {
			e.tuple[v.Slot] = []boxed.Value(t)
			if v.MeetSlot >= 0 {
				e.lat[v.MeetSlot] = val
			}
			if !in.evalGuards(v.Guard, e) {
				return true
			}
			if err := in.exec(ctx, v.Body, e, parBudget-1); err != nil {
				firstErr = err
				return false
			}
			return true
		})
		return firstErr

	case *ram.EProject:
		tuple := make(index.Tuple, len(v.Terms))
		for i, t := range v.Terms {
			tuple[i] = in.evalProjTerm(t, e)
		}
		var val boxed.Value
		if v.Rel.Denotation == predsym.Latticenal {
			val = tuple[len(tuple)-1]
			tuple = tuple[:len(tuple)-1]
			if v.Rel.Lattice.Leq(val, v.Rel.Lattice.Bot) {
				return nil
			}
		}
		for _, slot := range v.IndexSlots {
			ix := in.Indexes[slot]
			if v.Rel.Denotation == predsym.Latticenal {
				ix.PutWith(tuple, val, v.Rel.Lattice.Join)
			} else {
				ix.Put(tuple, boxed.None)
			}
		}
		return nil

	case *ram.EIf:
		if !in.evalGuards(v.Guards, e) {
			return nil
		}
		return in.exec(ctx, v.Body, e, parBudget)

	case *ram.EFunctional:
		args := make([]boxed.Value, len(v.InCols))
		for i, t := range v.InCols {
			args[i] = in.resolve(t, e)
		}
		out := v.Fn(args)
		if len(out) != v.NumOut {
			bug.Raise("interp.exec", "functional %s returned %d values, want %d", v.FnName, len(out), v.NumOut)
		}
		e.tuple[v.Slot] = out
		return in.exec(ctx, v.Body, e, parBudget)

	case *ram.EMergeInto:
		for i, srcSlot := range v.SrcSlots {
			dstSlot := v.DstSlots[i]
			if v.Dst.Denotation == predsym.Latticenal {
				index.MergeWith(in.Indexes[srcSlot], in.Indexes[dstSlot], v.Dst.Lattice.Join)
			} else {
				index.Merge(in.Indexes[srcSlot], in.Indexes[dstSlot])
			}
		}
		return nil

	case *ram.ESwap:
		for i := range v.ASlots {
			in.Indexes[v.ASlots[i]].SwapWith(in.Indexes[v.BSlots[i]])
		}
		return nil

	case *ram.EPurge:
		for _, s := range v.Slots {
			in.Indexes[s].Purge()
		}
		return nil

	case *ram.ESeq:
		for _, s := range v.Stmts {
			if err := in.exec(ctx, s, e, parBudget); err != nil {
				return err
			}
		}
		return nil

	case *ram.EPar:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(in.Workers)
		for _, stmt := range v.Stmts {
			stmt := stmt
			we := e.clone()
			g.Go(func() error { return in.exec(gctx, stmt, we, parBudget) })
		}
		return g.Wait()

	case *ram.EUntil:
		for in.anyNonEmpty(v.DeltaSlots) {
			if err := in.exec(ctx, v.Body, e, parBudget); err != nil {
				return err
			}
		}
		return nil

	case *ram.EComment:
		return nil

	default:
		bug.Raise("interp.exec", "unknown executable node %T", n)
		return nil
	}
}

func (in *Interp) anyNonEmpty(deltaSlots [][]int) bool {
	for _, slots := range deltaSlots {
		for _, s := range slots {
			if !in.Indexes[s].IsEmpty() {
				return true
			}
		}
	}
	return false
}

func (in *Interp) resolve(t ram.ETerm, e *env) boxed.Value {
	if t.IsLit {
		return t.Lit
	}
	if t.Ref.Col == ram.MeetCol {
		return e.lat[t.Ref.Slot]
	}
	row := e.tuple[t.Ref.Slot]
	if row == nil {
		bug.Raise("interp.resolve", "slot %d read before its Search/Query bound it", t.Ref.Slot)
	}
	return row[t.Ref.Col]
}

func (in *Interp) evalGuards(gs []ram.EGuard, e *env) bool {
	for _, g := range gs {
		if !in.evalGuard(g, e) {
			return false
		}
	}
	return true
}

func (in *Interp) evalGuard(g ram.EGuard, e *env) bool {
	switch g.Kind {
	case ram.EGEq:
		return in.resolve(g.A, e).Equal(in.resolve(g.B, e))
	case ram.EGNeq:
		return !in.resolve(g.A, e).Equal(in.resolve(g.B, e))
	case ram.EGCall:
		args := make([]boxed.Value, len(g.Args))
		for i, a := range g.Args {
			args[i] = in.resolve(a, e)
		}
		return g.Fn(args)
	case ram.EGNotMember:
		tuple := make(index.Tuple, len(g.Terms))
		for i, t := range g.Terms {
			tuple[i] = in.resolve(t, e)
		}
		return !in.Indexes[g.IndexSlot].MemberOf(tuple)
	case ram.EGNotBot:
		v := in.resolve(g.Terms[0], e)
		return !g.Rel.Lattice.Leq(v, g.Rel.Lattice.Bot)
	case ram.EGLeqBot:
		v := in.resolve(g.Terms[0], e)
		return g.Rel.Lattice.Leq(v, g.Rel.Lattice.Bot)
	case ram.EGNotEmpty:
		return !in.Indexes[g.IndexSlot].IsEmpty()
	default:
		bug.Raise("interp.evalGuard", "unknown guard kind %d", g.Kind)
		return false
	}
}

func (in *Interp) evalProjTerm(t ram.EProjTerm, e *env) boxed.Value {
	switch t.Kind {
	case ast.HVar:
		if t.Ref.Col == ram.MeetCol {
			return e.lat[t.Ref.Slot]
		}
		return e.tuple[t.Ref.Slot][t.Ref.Col]
	case ast.HLit:
		return t.Val
	case ast.HApp:
		args := make([]boxed.Value, len(t.AppArgs))
		for i, a := range t.AppArgs {
			if a.Col == ram.MeetCol {
				args[i] = e.lat[a.Slot]
			} else {
				args[i] = e.tuple[a.Slot][a.Col]
			}
		}
		return t.Fn(args)
	case ast.HProvMax:
		max := int64(-1)
		for _, a := range t.ProvArgs {
			d := e.tuple[a.Slot][a.Col].Int()
			if d > max {
				max = d
			}
		}
		return boxed.OfInt(max + 1)
	default:
		bug.Raise("interp.evalProjTerm", "unknown proj term kind %d", t.Kind)
		return boxed.None
	}
}
