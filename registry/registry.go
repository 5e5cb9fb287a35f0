// Package registry owns the fragments registered against every target and
// keeps one installed plan per target up to date.
//
// Mutation of a target is serialised by the target's own lock. Readers get
// the installed plan and routine as one pair through an atomic pointer and
// never block on a rebuild. A patch that cannot be composed leaves the previous plan and
// fragment set in place.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/akita/v4/sim"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
)

var (
	// ErrUnknownTarget is returned for targets that were never declared.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrDuplicateTarget is returned when a target is declared twice.
	ErrDuplicateTarget = errors.New("target already declared")
)

// HookPosPlanInstalled marks a new plan replacing the previous one.
var HookPosPlanInstalled = &sim.HookPos{Name: "Plan Installed"}

// HookPosPlanRejected marks a change that could not be composed.
var HookPosPlanRejected = &sim.HookPos{Name: "Plan Rejected"}

// BuildEvent is the hook item of a Registry.
type BuildEvent struct {
	Target string
	Plan   *compose.Plan
	Err    error
}

// installed is the plan of a target and the routine built from it.
type installed struct {
	plan    *compose.Plan
	routine *compose.Routine
}

type entry struct {
	mu      sync.Mutex
	target  compose.Target
	set     *fragment.Set
	current atomic.Pointer[installed]
}

// Registry maps targets to their fragments and installed plans. It is safe
// for concurrent use.
type Registry struct {
	*sim.HookableBase

	mu      sync.RWMutex
	entries map[string]*entry

	synth        *compose.Synthesizer
	log          *zap.Logger
	metrics      *metrics
	routineHooks []sim.Hook
	parallelism  int
}

// Declare makes a target patchable and installs its unpatched plan.
func (r *Registry) Declare(target compose.Target) error {
	e := &entry{target: target, set: fragment.NewSet(target.Name)}

	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	if _, ok := r.entries[target.Name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, target.Name)
	}
	r.entries[target.Name] = e
	r.mu.Unlock()

	if err := r.install(e, e.set); err != nil {
		r.mu.Lock()
		delete(r.entries, target.Name)
		r.mu.Unlock()

		return err
	}

	return nil
}

// Patch adds fragments to a target and installs the recomposed plan. Either
// every fragment is added or, when the result cannot be composed, none is.
// The stored fragments, with their registration indices, are returned.
func (r *Registry) Patch(target string, fragments ...fragment.Fragment) ([]fragment.Fragment, error) {
	e, err := r.lock(target)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	next := e.set.Clone()
	added := make([]fragment.Fragment, 0, len(fragments))

	for _, f := range fragments {
		stored, err := next.Add(f)
		if err != nil {
			return nil, fmt.Errorf("patch %s: %w", target, err)
		}

		added = append(added, stored)
	}

	if err := r.install(e, next); err != nil {
		return nil, err
	}

	r.log.Debug("patched",
		zap.String("target", target),
		zap.Int("fragments", len(added)),
		zap.Stringer("plan", e.current.Load().plan.ID))

	return added, nil
}

// Unpatch removes the fragments of one kind registered by owner, or by
// every owner when owner is fragment.AnyOwner, and returns how many were
// removed.
func (r *Registry) Unpatch(target, owner string, kind fragment.Kind) (int, error) {
	e, err := r.lock(target)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	next := e.set.Clone()

	n := next.Remove(owner, kind)
	if n == 0 {
		return 0, nil
	}

	if err := r.install(e, next); err != nil {
		return 0, err
	}

	return n, nil
}

// UnpatchOwner removes every fragment of owner from every target.
func (r *Registry) UnpatchOwner(owner string) (int, error) {
	var (
		removed int
		err     error
	)

	for _, name := range r.Targets() {
		e, lookupErr := r.lock(name)
		if lookupErr != nil {
			continue
		}

		next := e.set.Clone()
		if n := next.RemoveOwner(owner); n > 0 {
			if installErr := r.install(e, next); installErr != nil {
				err = multierr.Append(err, installErr)
			} else {
				removed += n
			}
		}

		e.mu.Unlock()
	}

	return removed, err
}

// Plan returns the installed plan of a target.
func (r *Registry) Plan(target string) (*compose.Plan, bool) {
	plan, _, ok := r.Installed(target)
	return plan, ok
}

// Routine returns the installed routine of a target.
func (r *Registry) Routine(target string) (*compose.Routine, bool) {
	_, routine, ok := r.Installed(target)
	return routine, ok
}

// Installed returns the installed plan of a target together with the
// routine built from it.
func (r *Registry) Installed(target string) (*compose.Plan, *compose.Routine, bool) {
	e, err := r.entry(target)
	if err != nil {
		return nil, nil, false
	}

	cur := e.current.Load()
	if cur == nil {
		return nil, nil, false
	}

	return cur.plan, cur.routine, true
}

// Invoke runs the installed routine of a target.
func (r *Registry) Invoke(target string, args ...any) (any, error) {
	routine, ok := r.Routine(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	return routine.Invoke(args...)
}

// ReverseMode selects the body a reverse patch starts from.
type ReverseMode int

const (
	// ReverseOriginal starts from the body as it was declared.
	ReverseOriginal ReverseMode = iota
	// ReverseSnapshot starts from the declared body rewritten by the
	// transpilers of the installed plan.
	ReverseSnapshot
)

// reverseOwner owns the transpilers handed to ReversePatch.
const reverseOwner = "reverse"

// ReversePatch returns the body of a target without the installed prefixes,
// postfixes and finalizers, rewritten by transpilers in the order given.
// The installed plan is not touched.
func (r *Registry) ReversePatch(
	target string, mode ReverseMode, transpilers ...fragment.TranspileFunc,
) (compose.BodyFunc, error) {
	e, err := r.lock(target)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	var chain []fragment.Fragment

	if mode == ReverseSnapshot {
		if cur := e.current.Load(); cur != nil {
			chain = append(chain, cur.plan.Transpilers...)
		}
	}

	for i, t := range transpilers {
		f := fragment.NewTranspiler(reverseOwner, t)
		f.Index = i
		chain = append(chain, f)
	}

	plan, err := r.synth.Reverse(e.target, chain...)
	if err != nil {
		return nil, fmt.Errorf("reverse patch %s: %w", target, err)
	}

	r.log.Debug("reverse patched",
		zap.String("target", target),
		zap.Int("mode", int(mode)),
		zap.Int("transpilers", len(chain)))

	return plan.Invoke, nil
}

// Fragments returns a snapshot of the fragments registered for a target.
func (r *Registry) Fragments(target string) (fragment.Snapshot, error) {
	e, err := r.lock(target)
	if err != nil {
		return fragment.Snapshot{}, err
	}
	defer e.mu.Unlock()

	return e.set.Snapshot(), nil
}

// Targets lists the declared targets, sorted.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Owners lists every owner with a fragment on any target, sorted.
func (r *Registry) Owners() []string {
	seen := make(map[string]bool)

	for _, name := range r.Targets() {
		snap, err := r.Fragments(name)
		if err != nil {
			continue
		}

		for _, k := range fragment.Kinds() {
			for _, f := range snap.Group(k) {
				seen[f.Owner] = true
			}
		}
	}

	owners := make([]string, 0, len(seen))
	for o := range seen {
		owners = append(owners, o)
	}

	sort.Strings(owners)

	return owners
}

// HasPatches reports whether owner has a fragment on any target.
func (r *Registry) HasPatches(owner string) bool {
	for _, o := range r.Owners() {
		if o == owner {
			return true
		}
	}

	return false
}

// RebuildAll recomposes every target in parallel. Targets whose rebuild
// fails keep their previous plan; all failures are returned together.
func (r *Registry) RebuildAll(ctx context.Context) error {
	names := r.Targets()
	errs := make([]error, len(names))

	g, ctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}

	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			e, err := r.lock(name)
			if err != nil {
				return nil
			}
			defer e.mu.Unlock()

			errs[i] = r.install(e, e.set)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return multierr.Combine(errs...)
}

func (r *Registry) entry(target string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	return e, nil
}

// lock returns the entry of a target with its lock held. An entry dropped
// by a failed Declare while the caller waited is reported as unknown.
func (r *Registry) lock(target string) (*entry, error) {
	e, err := r.entry(target)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()

	r.mu.RLock()
	live := r.entries[target] == e
	r.mu.RUnlock()

	if !live {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	return e, nil
}

// install composes set and, on success, makes it the current set of the
// entry together with the new plan and routine. The caller holds e.mu.
func (r *Registry) install(e *entry, set *fragment.Set) error {
	name := e.target.Name

	plan, err := r.synth.Synthesize(e.target, set.Snapshot())

	var routine *compose.Routine
	if err == nil {
		routine, err = compose.NewRoutine(plan, r.log)
	}

	r.metrics.observeBuild(name, err)

	if err != nil {
		r.log.Debug("plan rejected", zap.String("target", name), zap.Error(err))
		r.hook(HookPosPlanRejected, BuildEvent{Target: name, Err: err})

		return fmt.Errorf("compose %s: %w", name, err)
	}

	for _, h := range r.routineHooks {
		routine.AcceptHook(h)
	}

	e.set = set
	e.current.Store(&installed{plan: plan, routine: routine})

	r.metrics.observeSet(set)
	r.log.Debug("plan installed",
		zap.String("target", name),
		zap.Stringer("plan", plan.ID),
		zap.Int("fragments", plan.Fragments()))
	r.hook(HookPosPlanInstalled, BuildEvent{Target: name, Plan: plan})

	return nil
}

func (r *Registry) hook(pos *sim.HookPos, ev BuildEvent) {
	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(sim.HookCtx{Domain: r, Pos: pos, Item: ev})
}
