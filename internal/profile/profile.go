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

// Package profile implements the join profiler and Selinger-style join
// reordering (spec §4.10): sample each relation's facts once the
// program crosses a minimum size, run an instrumented pass to collect
// per-relation, per-bound-columns tuple estimates, then pick the body
// atom evaluation order that minimizes estimated total tuples
// processed via dynamic programming over row-var subsets.
package profile

import (
	"math"
	"math/rand/v2"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
)

// ColSet is a bitset of a predicate atom's own column positions that
// are already bound by the time it is evaluated.
//
// math/rand/v2 and a plain bitset are stdlib here rather than a
// pack dependency: no example repo ships a profiling/cardinality
// estimation library, and a Bernoulli sampler over a seeded PRNG is a
// few lines that don't warrant pulling one in.
type ColSet uint64

func ColSetOf(cols ...int) ColSet {
	var s ColSet
	for _, c := range cols {
		s |= 1 << uint(c)
	}
	return s
}

type profKey struct {
	rel  predsym.ID
	cols ColSet
}

type profStat struct {
	iterations int64
	tuples     int64
}

// JoinProfiler accumulates EstimateJoinSize observations gathered
// while running the program over a sampled subset of its input facts.
type JoinProfiler struct {
	Seed           int64
	SampleP        float64
	MinSamples     int
	FactLowerBound int64

	counts map[profKey]*profStat
}

func NewJoinProfiler(seed int64, sampleP float64, minSamples int, factLowerBound int64) *JoinProfiler {
	return &JoinProfiler{
		Seed:           seed,
		SampleP:        sampleP,
		MinSamples:     minSamples,
		FactLowerBound: factLowerBound,
		counts:         make(map[profKey]*profStat),
	}
}

// ShouldProfile reports whether the program's total input fact count
// crosses the profiler's minimum threshold (spec §4.10: "when input
// facts exceed a minimum threshold").
func (p *JoinProfiler) ShouldProfile(totalFacts int64) bool {
	return totalFacts >= p.FactLowerBound
}

// EstimateJoinSize records one observation from the instrumented
// sampled run: having bound attrs columns of rel, the scan produced
// tuples matches. Interpreter instrumentation calls this once per
// Search/Query node it executes during a profiling pass.
func (p *JoinProfiler) EstimateJoinSize(rel predsym.ID, attrs ColSet, tuples int64) {
	k := profKey{rel, attrs}
	st := p.counts[k]
	if st == nil {
		st = &profStat{}
		p.counts[k] = st
	}
	st.iterations++
	st.tuples += tuples
}

// Expected returns E(rel | attrs), the average tuple count observed
// once attrs is bound; relations or bindings never profiled fall back
// to a neutral estimate of 1, the same "no information" stance the
// default sequential index takes for never-queried relations.
func (p *JoinProfiler) Expected(rel predsym.ID, attrs ColSet) float64 {
	st := p.counts[profKey{rel, attrs}]
	if st == nil || st.iterations == 0 {
		return 1.0
	}
	return float64(st.tuples) / float64(st.iterations)
}

// SampleRelation draws a seeded Bernoulli(p) subsample of all, padded
// up to minSamples tuples whenever all holds at least that many, for
// the profiler's instrumented pass to run against instead of the
// full relation.
func SampleRelation(rel predsym.RelSym, all [][]any, p float64, seed int64, minSamples int) [][]any {
	if len(all) <= minSamples {
		return all
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(rel.Sym.ID())))
	out := make([][]any, 0, len(all))
	for _, tuple := range all {
		if rng.Float64() < p {
			out = append(out, tuple)
		}
	}
	for i := 0; len(out) < minSamples && i < len(all); i++ {
		out = append(out, all[i])
	}
	return out
}

// Plan is the chosen evaluation order for one rule's positive
// predicate body atoms (their indices into the rule's original Body),
// and its estimated total cost.
type Plan struct {
	Order []int
	Cost  float64
}

// Reorder runs Selinger-style dynamic programming over subsets of
// rule's positive predicate atoms, picking the evaluation order that
// minimizes estimated total tuples processed: cost(O) = cost(O') +
// arity(v)*tuples(O')*E(v|attrsBoundByO') for each v appended to a
// prefix O'. Ties are broken lexicographically on body-atom index.
// Negative atoms, guards, and functionals are not part of the search:
// their cost is a constant-time index probe or function call, not a
// join fan-out, so their relative order never changes the estimate;
// ReorderedBody moves them after the chosen positive-atom order.
func Reorder(rule *ast.Constraint, prof *JoinProfiler) Plan {
	var joinIdx []int
	for i, atom := range rule.Body {
		if atom.Kind == ast.BPredicate && atom.Positive {
			joinIdx = append(joinIdx, i)
		}
	}
	n := len(joinIdx)
	if n <= 1 {
		return Plan{Order: joinIdx}
	}

	boundVars := func(mask uint32) map[string]bool {
		bound := make(map[string]bool)
		for b := 0; b < n; b++ {
			if mask&(1<<uint(b)) == 0 {
				continue
			}
			for _, t := range rule.Body[joinIdx[b]].Terms {
				if t.Kind == ast.Var {
					bound[t.Name] = true
				}
			}
		}
		return bound
	}
	attrsOf := func(bodyIdx int, bound map[string]bool) ColSet {
		var s ColSet
		for col, t := range rule.Body[bodyIdx].Terms {
			if (t.Kind == ast.Var && bound[t.Name]) || t.Kind == ast.Lit {
				s |= 1 << uint(col)
			}
		}
		return s
	}

	size := 1 << uint(n)
	full := uint32(size - 1)
	bestCost := make([]float64, size)
	bestTuples := make([]float64, size)
	bestLast := make([]int, size)
	for i := range bestCost {
		bestCost[i] = math.Inf(1)
		bestLast[i] = -1
	}
	bestCost[0] = 0
	bestTuples[0] = 1

	for mask := uint32(1); mask <= full; mask++ {
		for b := 0; b < n; b++ {
			bit := uint32(1) << uint(b)
			if mask&bit == 0 {
				continue
			}
			prevMask := mask &^ bit
			if math.IsInf(bestCost[prevMask], 1) {
				continue
			}
			atom := rule.Body[joinIdx[b]]
			attrs := attrsOf(joinIdx[b], boundVars(prevMask))
			e := prof.Expected(atom.Sym.ID(), attrs)
			tuples := bestTuples[prevMask] * e
			cost := bestCost[prevMask] + float64(len(atom.Terms))*tuples
			if cost < bestCost[mask]-1e-9 ||
				(math.Abs(cost-bestCost[mask]) <= 1e-9 && (bestLast[mask] == -1 || joinIdx[b] < joinIdx[bestLast[mask]])) {
				bestCost[mask] = cost
				bestTuples[mask] = tuples
				bestLast[mask] = b
			}
		}
	}

	order := make([]int, n)
	mask := full
	for i := n - 1; i >= 0; i-- {
		b := bestLast[mask]
		order[i] = joinIdx[b]
		mask &^= 1 << uint(b)
	}
	return Plan{Order: order, Cost: bestCost[full]}
}

// ReorderedBody returns a copy of rule whose Body lists the positive
// predicate atoms in plan's order, followed by every negative atom,
// guard, and functional in their original relative order. Recompiling
// this reordered constraint (rather than splicing an already-built
// Search/Query chain) is what "restacking" means here: buildRuleJoin's
// column-binding environment is inherently built in emission order, so
// the natural way to re-stack nested Search/Query ops is to re-run the
// compiler over the reordered body.
func ReorderedBody(rule *ast.Constraint, plan Plan) *ast.Constraint {
	if len(plan.Order) < 2 {
		return rule
	}
	out := &ast.Constraint{HeadSym: rule.HeadSym, Head: rule.Head, RuleNo: rule.RuleNo}
	moved := make(map[int]bool, len(plan.Order))
	for _, idx := range plan.Order {
		out.Body = append(out.Body, rule.Body[idx])
		moved[idx] = true
	}
	for i, atom := range rule.Body {
		if !moved[i] {
			out.Body = append(out.Body, atom)
		}
	}
	return out
}
