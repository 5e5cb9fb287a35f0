// Package api defines the owner-scoped patching API.
//
// A Patcher belongs to one owner. It queues fragments against targets and
// hands them to the registry when Apply runs, one composition per target.
package api

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sarchlab/splice/fragment"
)

// Registry is the part of the fragment registry a Patcher drives.
type Registry interface {
	Patch(target string, fragments ...fragment.Fragment) ([]fragment.Fragment, error)
	Unpatch(target, owner string, kind fragment.Kind) (int, error)
	UnpatchOwner(owner string) (int, error)
	HasPatches(owner string) bool
}

// Patcher attaches fragments on behalf of one owner.
type Patcher interface {
	// Owner returns the owner id stamped on every queued fragment.
	Owner() string

	// Prefix queues a fragment that runs before the target body.
	Prefix(target string, invoke fragment.Func, opts ...Option)

	// Postfix queues a fragment that runs after the target body.
	Postfix(target string, invoke fragment.Func, opts ...Option)

	// Finalize queues a fragment that runs however the target exits.
	Finalize(target string, invoke fragment.Func, opts ...Option)

	// Transpile queues a rewrite of the target body.
	Transpile(target string, transpile fragment.TranspileFunc, opts ...Option)

	// Apply pushes the queued fragments to the registry, target by target
	// in the order targets were first queued. A target that fails stays
	// queued and stops the run.
	Apply() error

	// Unpatch removes this owner's fragments of one kind from a target.
	Unpatch(target string, kind fragment.Kind) (int, error)

	// UnpatchAll removes every fragment of this owner from every target.
	UnpatchAll() (int, error)

	// HasPatches reports whether the registry holds fragments of this owner.
	HasPatches() bool

	// Applied lists the fragments of a target stored by successful Apply
	// runs and not unpatched since.
	Applied(target string) []fragment.Fragment
}

// Option adjusts a queued fragment.
type Option func(f *fragment.Fragment)

// WithPriority sets the fragment priority.
func WithPriority(p fragment.Priority) Option {
	return func(f *fragment.Fragment) {
		f.Priority = p
	}
}

// WithBefore names owners whose fragments must run after this one.
func WithBefore(owners ...string) Option {
	return func(f *fragment.Fragment) {
		f.Before = append(f.Before, owners...)
	}
}

// WithAfter names owners whose fragments must run before this one.
func WithAfter(owners ...string) Option {
	return func(f *fragment.Fragment) {
		f.After = append(f.After, owners...)
	}
}

// WithName names the fragment.
func WithName(name string) Option {
	return func(f *fragment.Fragment) {
		f.Name = name
	}
}

// WithShape declares the parameters and return shape of the fragment.
func WithShape(s fragment.Shape) Option {
	return func(f *fragment.Fragment) {
		f.Shape = s
	}
}

type patcherImpl struct {
	owner    string
	registry Registry
	log      *zap.Logger

	patchTasks []*patchTask
	applied    map[string][]fragment.Fragment
}

type patchTask struct {
	target    string
	fragments []fragment.Fragment
	done      bool
}

func (p *patcherImpl) Owner() string {
	return p.owner
}

func (p *patcherImpl) Prefix(target string, invoke fragment.Func, opts ...Option) {
	p.queue(target, fragment.New(fragment.Prefix, p.owner, invoke), opts)
}

func (p *patcherImpl) Postfix(target string, invoke fragment.Func, opts ...Option) {
	p.queue(target, fragment.New(fragment.Postfix, p.owner, invoke), opts)
}

func (p *patcherImpl) Finalize(target string, invoke fragment.Func, opts ...Option) {
	p.queue(target, fragment.New(fragment.Finalizer, p.owner, invoke), opts)
}

func (p *patcherImpl) Transpile(target string, transpile fragment.TranspileFunc, opts ...Option) {
	p.queue(target, fragment.NewTranspiler(p.owner, transpile), opts)
}

func (p *patcherImpl) queue(target string, f fragment.Fragment, opts []Option) {
	for _, opt := range opts {
		opt(&f)
	}

	for _, t := range p.patchTasks {
		if t.target == target {
			t.fragments = append(t.fragments, f)
			return
		}
	}

	p.patchTasks = append(p.patchTasks, &patchTask{
		target:    target,
		fragments: []fragment.Fragment{f},
	})
}

func (p *patcherImpl) Apply() error {
	defer p.removeFinishedPatchTasks()

	for _, t := range p.patchTasks {
		if err := p.doOnePatchTask(t); err != nil {
			return err
		}
	}

	return nil
}

func (p *patcherImpl) doOnePatchTask(t *patchTask) error {
	stored, err := p.registry.Patch(t.target, t.fragments...)
	if err != nil {
		return fmt.Errorf("%s: apply %s: %w", p.owner, t.target, err)
	}

	p.applied[t.target] = append(p.applied[t.target], stored...)
	t.done = true

	p.log.Debug("applied",
		zap.String("owner", p.owner),
		zap.String("target", t.target),
		zap.Int("fragments", len(stored)))

	return nil
}

func (p *patcherImpl) removeFinishedPatchTasks() {
	kept := p.patchTasks[:0]
	for _, t := range p.patchTasks {
		if !t.done {
			kept = append(kept, t)
		}
	}

	p.patchTasks = kept
}

func (p *patcherImpl) Unpatch(target string, kind fragment.Kind) (int, error) {
	n, err := p.registry.Unpatch(target, p.owner, kind)
	if err != nil {
		return 0, err
	}

	kept := p.applied[target][:0]
	for _, f := range p.applied[target] {
		if f.Kind != kind {
			kept = append(kept, f)
		}
	}
	p.applied[target] = kept

	return n, nil
}

func (p *patcherImpl) UnpatchAll() (int, error) {
	n, err := p.registry.UnpatchOwner(p.owner)
	if err != nil {
		return n, err
	}

	p.applied = make(map[string][]fragment.Fragment)

	return n, nil
}

func (p *patcherImpl) HasPatches() bool {
	return p.registry.HasPatches(p.owner)
}

func (p *patcherImpl) Applied(target string) []fragment.Fragment {
	return append([]fragment.Fragment(nil), p.applied[target]...)
}
