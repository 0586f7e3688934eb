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

// Package ramdatalog is the solver façade (spec §6): it orchestrates
// stratification, semi-naive compilation, simplification, hoisting,
// index selection, the optional join profiler/reorderer, optional
// provenance augmentation, lowering, and interpretation behind a small
// library surface (Solve, Union, ProjectSym, Rename, InjectInto, Facts,
// ProvOf).
package ramdatalog

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/kevinawalsh/ramdatalog/internal/ast"
	"github.com/kevinawalsh/ramdatalog/internal/boxed"
	"github.com/kevinawalsh/ramdatalog/internal/boxing"
	"github.com/kevinawalsh/ramdatalog/internal/bug"
	"github.com/kevinawalsh/ramdatalog/internal/index"
	"github.com/kevinawalsh/ramdatalog/internal/interp"
	"github.com/kevinawalsh/ramdatalog/internal/predsym"
	"github.com/kevinawalsh/ramdatalog/internal/profile"
	"github.com/kevinawalsh/ramdatalog/internal/provenance"
	"github.com/kevinawalsh/ramdatalog/internal/ram"
	"github.com/kevinawalsh/ramdatalog/internal/strata"
)

// Model is the solved fixpoint of a program: every relation's Full
// index, ready to be read back out with Facts/Lookup, unioned, or
// (when provenance was requested) explained with ProvOf.
type Model struct {
	interp   *interp.Interp
	registry *predsym.Registry
	lowered  *ram.LoweredProgram
	recon    *provenance.Reconstructor
}

// Lookup returns rel's tuples in boxed form (original column order,
// lattice value trailing for a Latticenal relation).
func (m *Model) Lookup(rel predsym.RelSym) [][]boxed.Value { return m.interp.Snapshot(rel) }

// Facts returns rel's tuples as plain Go values (spec §6's factsN,
// generalized over N).
func (m *Model) Facts(rel predsym.RelSym) [][]any {
	rows := m.interp.Snapshot(rel)
	out := make([][]any, len(rows))
	for i, row := range rows {
		cols := make([]any, len(row))
		for j, v := range row {
			cols[j] = v.Unbox()
		}
		out[i] = cols
	}
	return out
}

// Facts is the top-level form of Model.Facts (spec §6's factsN).
func Facts(rel predsym.RelSym, m *Model) [][]any { return m.Facts(rel) }

// Solve computes the least fixpoint of d (spec §6's solve).
func Solve(d *ast.Datalog, opts ...Option) (*Model, error) {
	cfg := newConfig(opts)
	return solve(d, cfg, false)
}

// SolveWithProvenance computes the fixpoint with provenance tracking
// forced on, returning a Reconstructor the caller can query with
// ProvOf (spec §6's solveWithProvenance).
func SolveWithProvenance(d *ast.Datalog, opts ...Option) (*Model, error) {
	cfg := newConfig(opts)
	cfg.UseProvenance = true
	return solve(d, cfg, true)
}

// ProvOf solves d with provenance tracking and flattens the proof of
// rel(tuple...) into a pre-order witness list (spec §6's provOf).
// tuple is given in rel's own, un-widened arity and kind.
func ProvOf(rel predsym.RelSym, tuple []any, d *ast.Datalog, opts ...Option) ([]provenance.Witness, error) {
	cfg := newConfig(opts)
	cfg.UseProvenance = true
	m, err := solve(d, cfg, true)
	if err != nil {
		return nil, err
	}
	if m.recon == nil {
		return nil, errors.New("ramdatalog: provenance was not enabled for this solve")
	}
	widened, ok := m.registry.Lookup(rel.Sym.Name)
	if !ok {
		return nil, errors.Errorf("ramdatalog: unknown predicate %q", rel.Sym.Name)
	}
	boxedTuple := make([]boxed.Value, len(tuple))
	for i, v := range tuple {
		boxedTuple[i] = boxed.Of(v)
	}
	tree, rerr := m.recon.Reconstruct(widened, boxedTuple)
	if rerr != nil {
		return nil, rerr
	}
	return tree.Flatten(), nil
}

func solve(d *ast.Datalog, cfg Config, wantProv bool) (m *Model, err error) {
	defer bug.Recover(&err)
	logger := cfg.Logger
	logger.Debug("solve starting", "constraints", len(d.Constraints))

	prog := d
	if cfg.UseProvenance || wantProv {
		augmented, aerr := provenance.Augment(d)
		if aerr != nil {
			return nil, aerr
		}
		prog = augmented
		logger.Debug("provenance augmentation applied", "relations", len(prog.Registry.All()))
	}

	var merr *multierror.Error
	for _, c := range prog.Constraints {
		if !c.Safe() {
			merr = appendErr(merr, errors.Errorf("ramdatalog: rule for %s is unsafe: a head, guard, or functional variable is never bound by a positive body atom", c.HeadSym))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	if !cfg.DisableJoinOptimizer {
		prog = reorderProgram(prog, cfg, logger)
	}

	graph := strata.Build(prog)
	st := strata.Stratify(graph)
	logger.Trace("stratified", "pseudostrata", st.NumPseudo)

	compiler := ram.NewCompiler()
	tree := compiler.Compile(prog, st)
	tree = ram.Simplify(tree)
	tree = ram.Hoist(tree)
	logger.Debug("compiled, simplified, hoisted")

	searches := ram.CollectPrimitiveSearches(tree)
	widths := make(map[predsym.ID]int)
	var allIDs []predsym.ID
	for _, rel := range prog.Registry.All() {
		// The physical index key is always rel.Arity wide -- a
		// Latticenal relation's lattice value is carried out-of-band
		// (index.Index.PutWith's separate value, never an extra key
		// column), so index selection must never see rel.Width().
		widths[rel.Sym.ID()] = rel.Arity
		allIDs = append(allIDs, rel.Sym.ID())
	}
	cat := ram.SelectIndexes(searches, widths, allIDs)

	lp := ram.Lower(tree, cat, prog.Registry)
	logger.Debug("lowered", "slots", lp.NumSlots, "indexes", len(lp.Indexes))

	if verr := validateSchema(prog, lp.Unified); verr != nil {
		return nil, verr
	}

	if cfg.EnableDebugPrintFacts {
		logger.Debug("lowered program", "tree", tree.String())
	}

	it := interp.New(lp, cfg.IndexArity, cfg.ParLevel)
	seedFacts(it, prog)

	if err := it.Run(context.Background(), lp.Program, lp.NumSlots); err != nil {
		return nil, err
	}
	logger.Debug("solve finished")

	m = &Model{interp: it, registry: prog.Registry, lowered: lp}
	if cfg.UseProvenance || wantProv {
		m.recon = provenance.NewReconstructor(it, prog)
	}
	return m, nil
}

// seedFacts inserts every fact constraint of prog into its relation's
// Full index before the compiled program runs; compileStratum's Phase A
// always joins over Full first, so EDB facts need no separate Delta
// seed (spec §4.6).
func seedFacts(it *interp.Interp, prog *ast.Datalog) {
	byRel := make(map[predsym.ID][]index.Tuple)
	for _, c := range prog.Constraints {
		if !c.IsFact() {
			continue
		}
		tuple := make(index.Tuple, len(c.Head))
		for i, ht := range c.Head {
			tuple[i] = ht.Val
		}
		byRel[c.HeadSym.Sym.ID()] = append(byRel[c.HeadSym.Sym.ID()], tuple)
	}
	for id, tuples := range byRel {
		it.Seed(prog.Registry.RelForID(id, predsym.Full), tuples)
	}
}

// reorderProgram applies the join profiler/Selinger reorderer (spec
// §4.10) to every rule with at least two positive body atoms.
//
// Simplification: a faithful instrumented profiling pass would sample
// tuples mid-evaluation, including from IDB relations whose size is
// only known after a fixpoint. Since every EDB fact is already resident
// in memory before compilation, this feeds JoinProfiler exact EDB fact
// counts directly instead of Bernoulli-sampling them (SampleRelation is
// still implemented and unit-tested on its own); IDB relations are left
// at Expected's neutral default. See DESIGN.md.
func reorderProgram(prog *ast.Datalog, cfg Config, logger hclog.Logger) *ast.Datalog {
	var totalFacts int64
	factCounts := make(map[predsym.ID]int64)
	for _, c := range prog.Constraints {
		if c.IsFact() {
			factCounts[c.HeadSym.Sym.ID()]++
			totalFacts++
		}
	}
	prof := profile.NewJoinProfiler(cfg.ProfilerSeed, cfg.ProfilerDiscrimination, cfg.ProfilerMinimumFacts, cfg.ProfilerFactLowerBound)
	if !prof.ShouldProfile(totalFacts) {
		return prog
	}
	for id, n := range factCounts {
		// A scan with no column bound yields all n facts.
		prof.EstimateJoinSize(id, profile.ColSetOf(), n)
	}

	out := ast.NewDatalog(prog.Registry)
	for _, c := range prog.Constraints {
		if c.IsFact() || countPositive(c) < 2 {
			out.Add(c)
			continue
		}
		plan := profile.Reorder(c, prof)
		reordered := profile.ReorderedBody(c, plan)
		out.Add(reordered)
		logger.Trace("reordered join", "head", c.HeadSym.String(), "order", plan.Order, "cost", plan.Cost)
	}
	return out
}

func countPositive(c *ast.Constraint) int {
	n := 0
	for _, atom := range c.Body {
		if atom.Kind == ast.BPredicate && atom.Positive {
			n++
		}
	}
	return n
}

func indicesRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// validateSchema unboxes every fact's literal columns through the
// position-keyed boxing registry (spec §4.2), using the program's
// lowered union-find to resolve each column's unified position. A
// value whose Kind disagrees with another value already seen at the
// same position is a schema/type bug (spec §7), collected and reported
// rather than failing on the first mismatch.
func validateSchema(prog *ast.Datalog, uf *predsym.UnionFind) error {
	box := boxing.NewRegistry()
	posOf := make(map[predsym.Site]boxing.Position)
	var next boxing.Position
	posFor := func(s predsym.Site) boxing.Position {
		root := uf.Find(s)
		if p, ok := posOf[root]; ok {
			return p
		}
		p := next
		next++
		posOf[root] = p
		return p
	}

	var merr *multierror.Error
	for _, c := range prog.Constraints {
		if !c.IsFact() {
			continue
		}
		for col, ht := range c.Head {
			if ht.Kind != ast.HLit {
				continue
			}
			pos := posFor(predsym.RelSite(c.HeadSym.Sym.ID(), col))
			merr = appendErr(merr, checkUnbox(box, ht.Val, pos))
		}
	}
	return merr.ErrorOrNil()
}

func checkUnbox(box *boxing.Registry, v boxed.Value, pos boxing.Position) (err error) {
	defer bug.Recover(&err)
	box.UnboxWith(v, pos)
	return nil
}

// Union combines two programs that share one registry into one (spec
// §6: Datalog ⊕ Datalog). Both programs must be built against one
// registry; Union raises an internal bug otherwise.
func Union(d1, d2 *ast.Datalog) *ast.Datalog {
	if d1.Registry != d2.Registry {
		bug.Raise("ramdatalog.Union", "both programs must share one registry")
	}
	out := ast.NewDatalog(d1.Registry)
	for _, c := range d1.Constraints {
		out.Add(c)
	}
	for _, c := range d2.Constraints {
		out.Add(c)
	}
	return out
}

// UnionModels merges two solved models' fact sets per relation (⊔ for
// Latticenal relations), returned as a fact-only program over reg ready
// to feed into Solve again (spec §6: Model ⊕ Model).
func UnionModels(reg *predsym.Registry, a, b *Model) *ast.Datalog {
	out := ast.NewDatalog(reg)
	for _, rel := range reg.All() {
		full := reg.RelForID(rel.Sym.ID(), predsym.Full)
		merged := make(map[string][]boxed.Value)
		order := make([]string, 0)
		add := func(rows [][]boxed.Value) {
			for _, row := range rows {
				key := rowKey(row[:full.Arity])
				if existing, ok := merged[key]; ok {
					if full.Denotation == predsym.Latticenal {
						val := full.Lattice.Join(existing[len(existing)-1], row[len(row)-1])
						merged[key] = append(append([]boxed.Value{}, row[:full.Arity]...), val)
					}
					continue
				}
				merged[key] = row
				order = append(order, key)
			}
		}
		add(a.interp.Snapshot(full))
		add(b.interp.Snapshot(full))
		for _, key := range order {
			row := merged[key]
			head := make([]ast.HeadTerm, len(row))
			for i, v := range row {
				head[i] = ast.NewHLit(v)
			}
			out.Add(&ast.Constraint{HeadSym: full, Head: head})
		}
	}
	return out
}

func rowKey(cols []boxed.Value) string {
	parts := make([]string, len(cols))
	for i, v := range cols {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\x1f")
}

// Join folds a solved model's facts into d as seed EDB facts, the way
// Datalog ⊕ Model compiles with the model as seed facts (spec §6).
func Join(m *Model, d *ast.Datalog) (*ast.Datalog, error) {
	if m.registry != d.Registry {
		return nil, errors.New("ramdatalog: Join requires the model and the datalog to share one registry")
	}
	out := ast.NewDatalog(d.Registry)
	for _, c := range d.Constraints {
		out.Add(c)
	}
	for _, rel := range d.Registry.All() {
		full := d.Registry.RelForID(rel.Sym.ID(), predsym.Full)
		for _, row := range m.interp.Snapshot(full) {
			head := make([]ast.HeadTerm, len(row))
			for i, v := range row {
				head[i] = ast.NewHLit(v)
			}
			out.Add(&ast.Constraint{HeadSym: full, Head: head})
		}
	}
	return out, nil
}

// ProjectSym extracts the rules/facts of d whose head predicate is rel
// (spec §6's projectSym).
func ProjectSym(rel predsym.RelSym, d *ast.Datalog) *ast.Datalog {
	out := ast.NewDatalog(d.Registry)
	for _, c := range d.RulesFor(rel.Sym.ID()) {
		out.Add(c)
	}
	return out
}

// Rename rewrites every predicate of d not in keep to a fresh,
// collision-free name (spec §6's rename).
func Rename(keep []predsym.RelSym, d *ast.Datalog) *ast.Datalog {
	keepSet := make(map[predsym.ID]bool, len(keep))
	for _, r := range keep {
		keepSet[r.Sym.ID()] = true
	}

	reg := predsym.NewRegistry(len(d.Registry.All())*2 + 16)
	renamed := make(map[predsym.ID]predsym.RelSym)
	rename := func(rel predsym.RelSym) predsym.RelSym {
		if w, ok := renamed[rel.Sym.ID()]; ok {
			return w
		}
		name := rel.Sym.Name
		if !keepSet[rel.Sym.ID()] {
			name = d.Registry.FreshName(rel.Sym.Name)
		}
		w := reg.Declare(name, rel.Arity, rel.Denotation, rel.Lattice)
		renamed[rel.Sym.ID()] = w
		return w
	}

	out := ast.NewDatalog(reg)
	for _, c := range d.Constraints {
		headRel := rename(c.HeadSym)
		body := make([]ast.BodyAtom, len(c.Body))
		for i, atom := range c.Body {
			if atom.Kind == ast.BPredicate {
				atom.Rel = rename(atom.Rel)
				atom.Sym = atom.Rel.Sym
			}
			body[i] = atom
		}
		out.Add(&ast.Constraint{HeadSym: headRel, Head: append([]ast.HeadTerm{}, c.Head...), Body: body})
	}
	return out
}

// InjectInto ingests rows as facts of rel into d (spec §6's
// injectIntoN, generalized over N via [][]any). A row with the wrong
// column count is reported but does not abort the rest of the batch.
func InjectInto(rel predsym.RelSym, rows [][]any, d *ast.Datalog) error {
	var merr *multierror.Error
	for _, row := range rows {
		if len(row) != rel.Width() {
			merr = appendErr(merr, errors.Errorf("ramdatalog: row %v has %d columns, want %d for %s", row, len(row), rel.Width(), rel))
			continue
		}
		head := make([]ast.HeadTerm, len(row))
		for i, v := range row {
			head[i] = ast.NewHLit(boxed.Of(v))
		}
		d.Add(&ast.Constraint{HeadSym: rel, Head: head})
	}
	return merr.ErrorOrNil()
}
