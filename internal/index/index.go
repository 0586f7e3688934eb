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

// Package index implements the ordered index (spec §4.1): a concurrent
// map from Tuple to boxed.Value, backed by a github.com/google/btree
// generic B-tree keyed by a chosen column permutation, with bounded
// parallel iteration via golang.org/x/sync's errgroup and semaphore.
package index

import (
	"context"
	"sync"
	"unsafe"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kevinawalsh/ramdatalog/internal/boxed"
)

// Tuple is a fixed-width row. Less compares lexicographically; a
// shorter tuple that is a proper prefix of a longer one sorts first,
// which is what lets RangeByPrefix bound a scan with a partial key.
type Tuple []boxed.Value

func (t Tuple) Less(other Tuple) bool {
	n := len(t)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if t[i].Equal(other[i]) {
			continue
		}
		return t[i].Less(other[i])
	}
	return len(t) < len(other)
}

func (t Tuple) hasPrefix(prefix Tuple) bool {
	if len(t) < len(prefix) {
		return false
	}
	for i, v := range prefix {
		if !t[i].Equal(v) {
			return false
		}
	}
	return true
}

type entry struct {
	Key Tuple
	Val boxed.Value
}

func lessEntry(a, b entry) bool { return a.Key.Less(b.Key) }

// Index is one physical index: tuples are stored keyed by a column
// permutation (Order), independent of insertion order.
type Index struct {
	order  []int
	degree int

	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

// New builds an empty index over order (a permutation of 0..width-1,
// spec §4.9's chosen key order), with degree as the B-tree's fan-out
// (spec §6's indexArity, default 64).
func New(order []int, degree int) *Index {
	if degree < 2 {
		degree = 64
	}
	return &Index{order: order, degree: degree, tree: btree.NewG(degree, lessEntry)}
}

func (ix *Index) permute(t Tuple) Tuple {
	out := make(Tuple, len(t))
	for i, c := range ix.order {
		out[i] = t[c]
	}
	return out
}

func (ix *Index) unpermute(k Tuple) Tuple {
	out := make(Tuple, len(k))
	for i, c := range ix.order {
		out[c] = k[i]
	}
	return out
}

// Put inserts tuple with val, overwriting any existing entry.
func (ix *Index) Put(tuple Tuple, val boxed.Value) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.ReplaceOrInsert(entry{Key: ix.permute(tuple), Val: val})
}

// PutWith inserts tuple with val, or combine(existing, val) if tuple's
// key already exists -- the lattice ⊔ for Latticenal relations.
func (ix *Index) PutWith(tuple Tuple, val boxed.Value, combine func(a, b boxed.Value) boxed.Value) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	key := ix.permute(tuple)
	if existing, ok := ix.tree.Get(entry{Key: key}); ok {
		val = combine(existing.Val, val)
	}
	ix.tree.ReplaceOrInsert(entry{Key: key, Val: val})
}

// Get returns the value stored for tuple, if any.
func (ix *Index) Get(tuple Tuple) (boxed.Value, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.tree.Get(entry{Key: ix.permute(tuple)})
	return e.Val, ok
}

func (ix *Index) MemberOf(tuple Tuple) bool {
	_, ok := ix.Get(tuple)
	return ok
}

func (ix *Index) IsEmpty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len() == 0
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// ForEach visits every tuple in key order, giving forEach's consistent
// single-snapshot guarantee (spec §4.1) by holding the read lock for
// the whole walk.
func (ix *Index) ForEach(visit func(Tuple, boxed.Value) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(func(e entry) bool {
		return visit(ix.unpermute(e.Key), e.Val)
	})
}

// RangeByPrefix visits every tuple whose leading columns, under this
// index's key order, equal prefix (an inclusive range scan bound by a
// Query's equality bindings -- spec §4.13's EQuery).
func (ix *Index) RangeByPrefix(prefix Tuple, visit func(Tuple, boxed.Value) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	pivot := entry{Key: prefix}
	ix.tree.AscendGreaterOrEqual(pivot, func(e entry) bool {
		if !e.Key.hasPrefix(prefix) {
			return false
		}
		return visit(ix.unpermute(e.Key), e.Val)
	})
}

// Range visits every tuple whose permuted key falls in [lo, hi]
// inclusive. Callers address lo/hi already permuted into this index's
// key order (as RangeByPrefix's prefix also is), matching how the
// lowered EQuery carries Eq bindings per physical index chosen.
func (ix *Index) Range(lo, hi Tuple, visit func(Tuple, boxed.Value) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(func(e entry) bool {
		if e.Key.Less(lo) {
			return true
		}
		if hi.Less(e.Key) {
			return false
		}
		return visit(ix.unpermute(e.Key), e.Val)
	})
}

// ParForEach partitions a snapshot of the index into workers chunks
// and visits them concurrently through a bounded semaphore (spec §5:
// "parForEach must partition leaf ranges across a bounded worker
// pool"). google/btree's public API doesn't expose leaf boundaries, so
// this takes one consistent Ascend snapshot under the read lock and
// splits that slice into contiguous chunks instead -- same bounded
// concurrency and key-order locality, without reaching into the tree's
// internals.
func (ix *Index) ParForEach(ctx context.Context, workers int, visit func(Tuple, boxed.Value) error) error {
	if workers <= 1 {
		var err error
		ix.ForEach(func(t Tuple, v boxed.Value) bool {
			if e := visit(t, v); e != nil {
				err = e
				return false
			}
			return true
		})
		return err
	}

	ix.mu.RLock()
	snapshot := make([]entry, 0, ix.tree.Len())
	ix.tree.Ascend(func(e entry) bool {
		snapshot = append(snapshot, e)
		return true
	})
	ix.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}
	chunkSize := (len(snapshot) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))
	for start := 0; start < len(snapshot); start += chunkSize {
		end := start + chunkSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		chunk := snapshot[start:end]
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			for _, e := range chunk {
				if err := visit(ix.unpermute(e.Key), e.Val); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Purge empties the index.
func (ix *Index) Purge() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree = btree.NewG(ix.degree, lessEntry)
}

// SwapWith exchanges the physical storage behind ix and other, locking
// in pointer-address order to avoid deadlocking against a concurrent
// swap of the same pair in the other direction.
func (ix *Index) SwapWith(other *Index) {
	if ix == other {
		return
	}
	a, b := ix, other
	if uintptr(unsafe.Pointer(a)) > uintptr(unsafe.Pointer(b)) {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	defer a.mu.Unlock()
	defer b.mu.Unlock()
	ix.tree, other.tree = other.tree, ix.tree
}

// Merge reads every tuple of src and writes it into dst unconditionally
// (spec §4.1: "merge is a read-only scan of src into dst"), used by
// relational MergeInto.
func Merge(src, dst *Index) {
	if src == dst {
		return
	}
	src.mu.RLock()
	defer src.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	src.tree.Ascend(func(e entry) bool {
		tuple := src.unpermute(e.Key)
		dst.tree.ReplaceOrInsert(entry{Key: dst.permute(tuple), Val: e.Val})
		return true
	})
}

// MergeWith reads every tuple of src and writes combine(existing, val)
// into dst, used by Latticenal MergeInto to apply ⊔ at merge time.
func MergeWith(src, dst *Index, combine func(a, b boxed.Value) boxed.Value) {
	if src == dst {
		return
	}
	src.mu.RLock()
	defer src.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	src.tree.Ascend(func(e entry) bool {
		tuple := src.unpermute(e.Key)
		key := dst.permute(tuple)
		val := e.Val
		if existing, ok := dst.tree.Get(entry{Key: key}); ok {
			val = combine(existing.Val, val)
		}
		dst.tree.ReplaceOrInsert(entry{Key: key, Val: val})
		return true
	})
}
