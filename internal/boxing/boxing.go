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

// Package boxing implements the bidirectional mapping between boxed
// values and the Int64 keys the RAM interpreter operates on (spec
// §4.2). Every RAM identifier -- a tuple column, a literal site, a
// functional argument -- is assigned a "unified position" (see
// internal/predsym); a position's boxing table is created lazily on
// first use and its Kind is fixed from then on.
package boxing

import (
	"math"
	"sync"

	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/bug"
)

// Position identifies a unified equivalence class of RAM identifiers
// that must share one boxing table (and therefore one Kind).
type Position int64

// table holds the per-position object<->id mapping for Kind == Object
// (and, before first use, the not-yet-fixed Kind for the position).
// Primitive kinds are reversible bit encodings and need no table.
type table struct {
	mu      sync.RWMutex
	kind    boxed.Kind
	kindSet bool
	objects []any
	index   map[any]int64
}

// Registry owns one table per Position, created lazily.
type Registry struct {
	mu     sync.Mutex
	tables map[Position]*table
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[Position]*table)}
}

func (r *Registry) tableFor(pos Position) *table {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[pos]
	if !ok {
		t = &table{index: make(map[any]int64)}
		r.tables[pos] = t
	}
	return t
}

func (t *table) setKind(k boxed.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.kindSet {
		t.kind = k
		t.kindSet = true
		return
	}
	if t.kind != k {
		bug.Raise("boxing", "mixed kinds %v and %v at one unified position", t.kind, k)
	}
}

// UnboxWith converts a boxed value to its Int64 code at pos, setting the
// position's Kind on first use.
func (r *Registry) UnboxWith(v boxed.Value, pos Position) int64 {
	t := r.tableFor(pos)
	t.setKind(v.Kind())
	switch v.Kind() {
	case boxed.NoValue:
		return 0
	case boxed.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case boxed.Int:
		return v.Int()
	case boxed.Float:
		return int64(math.Float64bits(v.Float()))
	case boxed.Char:
		return int64(v.Char())
	case boxed.String:
		return t.internObject(v.String2())
	case boxed.Object:
		return t.internObject(v.Object())
	default:
		bug.Raise("boxing", "unboxable kind %v", v.Kind())
		return 0
	}
}

// BoxWith reconstructs a boxed value from an Int64 code at pos. The
// position's Kind must already be set (from a prior UnboxWith call),
// otherwise this is an internal bug: the interpreter only ever boxes
// values it previously unboxed at the same position.
func (r *Registry) BoxWith(code int64, pos Position) boxed.Value {
	t := r.tableFor(pos)
	t.mu.RLock()
	kind, set := t.kind, t.kindSet
	t.mu.RUnlock()
	if !set {
		bug.Raise("boxing", "boxWith at position %d before its kind is known", pos)
	}
	switch kind {
	case boxed.NoValue:
		return boxed.None
	case boxed.Bool:
		return boxed.OfBool(code != 0)
	case boxed.Int:
		return boxed.OfInt(code)
	case boxed.Float:
		return boxed.OfFloat(math.Float64frombits(uint64(code)))
	case boxed.Char:
		return boxed.OfChar(rune(code))
	case boxed.String:
		return boxed.OfString(t.lookupObject(code).(string))
	case boxed.Object:
		return boxed.OfObject(t.lookupObject(code))
	default:
		bug.Raise("boxing", "unboxable kind %v", kind)
		return boxed.None
	}
}

// internObject returns the stable Int64 code for obj, allocating a new
// one under the table's write lock if obj hasn't been seen before at
// this position. Readers only ever need the write lock for the (rare)
// case of a genuinely new object; lookupObject uses the read lock.
func (t *table) internObject(obj any) int64 {
	t.mu.RLock()
	if id, ok := t.index[obj]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.index[obj]; ok {
		return id
	}
	id := int64(len(t.objects))
	t.objects = append(t.objects, obj)
	t.index[obj] = id
	return id
}

func (t *table) lookupObject(code int64) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if code < 0 || int(code) >= len(t.objects) {
		bug.Raise("boxing", "object code %d out of range", code)
	}
	return t.objects[code]
}
