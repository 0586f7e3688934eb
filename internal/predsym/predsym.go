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

// Package predsym implements PredSym identity, the Full/Delta/New
// variant scheme, and RelSym (arity + denotation), per spec §3 and
// §4.3. It borrows the teacher's notion of distinct, comparable
// identifiers for predicates (datalog.go's DistinctPred) but replaces
// pointer identity with an explicit, globally unique int64 id, since RAM
// identifiers must be serializable into a dense slot table (§4.12)
// rather than compared by pointer.
package predsym

import (
	"fmt"
	"sync"

	"github.com/kevinawalsh/ramdatalog/internal/boxed"
)

// ID is a predicate's globally unique identifier, shared across its
// Full, Delta, and New variants; PredSym.Variant distinguishes them.
type ID int64

// Variant selects among the Full, Delta, and New relations backing one
// logical predicate during semi-naive evaluation.
type Variant uint8

const (
	Full Variant = iota
	Delta
	New
)

func (v Variant) String() string {
	switch v {
	case Full:
		return "full"
	case Delta:
		return "delta"
	case New:
		return "new"
	default:
		return "?"
	}
}

// PredSym is (name, id): name is purely for diagnostics, id carries
// equality.
type PredSym struct {
	Name    string
	id      ID
	Variant Variant
}

func (p PredSym) ID() ID { return p.id }

func (p PredSym) String() string {
	if p.Variant == Full {
		return p.Name
	}
	return fmt.Sprintf("%s$%s", p.Name, p.Variant)
}

func (p PredSym) Equal(other PredSym) bool {
	return p.id == other.id && p.Variant == other.Variant
}

// Denotation selects set-union (Relational) vs. lattice-join
// (Latticenal) semantics for a relation (spec §3, §4.4).
type Denotation int

const (
	Relational Denotation = iota
	Latticenal
)

// Lattice carries a semi-lattice's bottom element, partial order, join,
// and meet, used for Latticenal relations.
type Lattice struct {
	Bot  boxed.Value
	Leq  func(a, b boxed.Value) bool
	Join func(a, b boxed.Value) boxed.Value
	Meet func(a, b boxed.Value) boxed.Value
}

// RelSym names a relation: its predicate, arity, and denotation.
type RelSym struct {
	Sym        PredSym
	Arity      int
	Denotation Denotation
	Lattice    *Lattice // non-nil iff Denotation == Latticenal
}

func (r RelSym) String() string { return r.Sym.String() }

// Width is the tuple width stored in an index: declared arity, plus one
// trailing lattice-value column for Latticenal relations.
func (r RelSym) Width() int {
	if r.Denotation == Latticenal {
		return r.Arity + 1
	}
	return r.Arity
}

// Registry assigns PredSym ids and tracks each declared predicate's
// RelSym, in all three variants (spec invariant: every predicate
// referenced by any rule exists in the registry in all three variants).
type Registry struct {
	mu         sync.Mutex
	next       ID
	maxIDCount ID
	byID       map[ID]RelSym // keyed by Full id
	byName     map[string]RelSym
	renameCtr  map[string]int
}

// NewRegistry creates an empty registry. maxIDCount is the number of
// ids Declare hands out before it calls rebase, which doubles it; a
// count at or below zero means 1024. A predicate's Full, Delta, and New
// variants share one id and differ only in PredSym.Variant: no offset
// ids are derived from maxIDCount.
func NewRegistry(maxIDCount int) *Registry {
	if maxIDCount <= 0 {
		maxIDCount = 1024
	}
	return &Registry{
		maxIDCount: ID(maxIDCount),
		byID:       make(map[ID]RelSym),
		byName:     make(map[string]RelSym),
		renameCtr:  make(map[string]int),
	}
}

// Declare registers a new predicate name/arity/denotation, or returns
// the existing RelSym if name was already declared (arity and
// denotation must match; a mismatch is a schema/type bug).
func (r *Registry) Declare(name string, arity int, den Denotation, lat *Lattice) RelSym {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		if existing.Arity != arity || existing.Denotation != den {
			panic(fmt.Sprintf("predsym: redeclaration of %q with different arity/denotation", name))
		}
		return existing
	}
	if r.next+1 >= r.maxIDCount {
		r.rebase()
	}
	id := r.next
	r.next++
	sym := PredSym{Name: name, id: id, Variant: Full}
	rel := RelSym{Sym: sym, Arity: arity, Denotation: den, Lattice: lat}
	r.byID[id] = rel
	r.byName[name] = rel
	return rel
}

// rebase doubles maxIDCount and renumbers all Full ids densely from 0,
// preserving relative order. Only triggered if a program declares more
// predicates than the registry was sized for; kept simple since it's an
// uncommon path (a registry created with a count comfortably above the
// program's predicate count never rebases).
func (r *Registry) rebase() {
	old := r.byID
	r.maxIDCount *= 2
	r.byID = make(map[ID]RelSym, len(old))
	next := ID(0)
	remap := make(map[ID]ID, len(old))
	for id := ID(0); id < r.next; id++ {
		if _, ok := old[id]; ok {
			remap[id] = next
			next++
		}
	}
	for oldID, rel := range old {
		newID := remap[oldID]
		rel.Sym.id = newID
		r.byID[newID] = rel
		r.byName[rel.Sym.Name] = rel
	}
	r.next = next
}

// Lookup finds a previously declared predicate by name.
func (r *Registry) Lookup(name string) (RelSym, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.byName[name]
	return rel, ok
}

// RelFor returns the RelSym for any variant of p.
func (r *Registry) RelFor(p PredSym) RelSym {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.byID[p.id]
	if !ok {
		panic(fmt.Sprintf("predsym: unregistered predicate id %d (%s)", p.id, p.Name))
	}
	rel.Sym.Variant = p.Variant
	return rel
}

// VariantOf returns the PredSym for a different variant of the same
// logical predicate as sym.
func (r *Registry) VariantOf(sym PredSym, v Variant) PredSym {
	return PredSym{Name: sym.Name, id: sym.id, Variant: v}
}

// RelForID returns the RelSym for a bare predicate id (as stored in a
// strata.Graph or Stratification, which only ever see ids) in the given
// variant.
func (r *Registry) RelForID(id ID, v Variant) RelSym {
	r.mu.Lock()
	rel, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("predsym: unregistered predicate id %d", id))
	}
	rel.Sym.Variant = v
	return rel
}

// All returns every declared predicate's RelSym in its Full variant,
// for iteration by the stratifier and compiler.
func (r *Registry) All() []RelSym {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RelSym, 0, len(r.byID))
	for _, rel := range r.byID {
		out = append(out, rel)
	}
	return out
}

// FreshName returns name suffixed with a registry-scoped monotonically
// increasing counter, used by Rename (spec §6) to avoid collisions
// across repeated rename calls against the same registry.
func (r *Registry) FreshName(base string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.renameCtr[base]
	r.renameCtr[base] = n + 1
	return fmt.Sprintf("%s#%d", base, n)
}
