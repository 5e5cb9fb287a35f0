package manifest

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/api"
	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/isa"
	"github.com/sarchlab/splice/registry"
	"github.com/sarchlab/splice/verify"
)

// Session is a manifest loaded into a registry.
type Session struct {
	Manifest *Manifest
	Registry *registry.Registry
	Env      *verify.Env

	bodies   map[string]*isa.Sequence
	owners   []string
	patchers map[string]api.Patcher
	log      *zap.Logger
}

// Outcome is the result of one invocation.
type Outcome struct {
	Invocation Invocation
	Result     any
	Err        error
	// Problem describes an unmet expectation. It is empty when the call
	// behaved as the manifest expects.
	Problem string
}

// OK reports whether the invocation met its expectation.
func (o Outcome) OK() bool {
	return o.Problem == ""
}

// Load declares every target of the manifest in reg and applies every
// fragment, owner by owner. Listings run on functional simulators over a
// copy of env that also holds the manifest routines and one routine per
// target, so a listing can call another, composed, target.
func (m *Manifest) Load(reg *registry.Registry, env *verify.Env, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		Manifest: m,
		Registry: reg,
		Env:      env.Clone(),
		bodies:   make(map[string]*isa.Sequence),
		patchers: make(map[string]api.Patcher),
		log:      log.Named("manifest"),
	}

	for _, r := range m.Routines {
		s.Env.Define(r.Name, builtins[r.Builtin](s.log))
	}

	for _, t := range m.Targets {
		name := t.Name
		s.Env.DefineTarget(name, t.Signature.Signature(), func(args []any) (any, error) {
			return reg.Invoke(name, args...)
		})
	}

	if err := s.declare(); err != nil {
		return nil, err
	}

	if err := s.patch(); err != nil {
		return nil, multierr.Append(err, s.Unload())
	}

	return s, nil
}

func (s *Session) declare() error {
	compile := verify.Compile(s.Env)

	for _, t := range s.Manifest.Targets {
		body, err := t.Body()
		if err != nil {
			return err
		}

		invoke, err := compile(body)
		if err != nil {
			return fmt.Errorf("target %s: %w", t.Name, err)
		}

		err = s.Registry.Declare(compose.Target{
			Name:      t.Name,
			Signature: t.Signature.Signature(),
			Body:      body,
			Invoke:    invoke,
			Compile:   compile,
		})
		if err != nil {
			return err
		}

		s.bodies[t.Name] = body
		s.log.Debug("target declared", zap.String("target", t.Name), zap.Int("instructions", body.Len()))
	}

	return nil
}

func (s *Session) patch() error {
	signatures := make(map[string]compose.Signature, len(s.Manifest.Targets))
	for _, t := range s.Manifest.Targets {
		signatures[t.Name] = t.Signature.Signature()
	}

	builder := api.MakePatcherBuilder().WithRegistry(s.Registry).WithLogger(s.log)

	for i, f := range s.Manifest.Fragments {
		p, ok := s.patchers[f.Owner]
		if !ok {
			p = builder.Build(f.Owner)
			s.patchers[f.Owner] = p
			s.owners = append(s.owners, f.Owner)
		}

		if err := queue(p, f, signatures[f.Target], s.log); err != nil {
			return fmt.Errorf("fragment %d (%s on %s): %w", i, f.Owner, f.Target, err)
		}
	}

	for _, owner := range s.owners {
		if err := s.patchers[owner].Apply(); err != nil {
			return err
		}
	}

	return nil
}

func queue(p api.Patcher, f Fragment, sig compose.Signature, log *zap.Logger) error {
	kind, err := fragment.ParseKind(f.Kind)
	if err != nil {
		return err
	}

	opts := []api.Option{api.WithBefore(f.Before...), api.WithAfter(f.After...)}

	if f.Name != "" {
		opts = append(opts, api.WithName(f.Name))
	}

	if f.Priority != "" {
		prio, err := fragment.ParsePriority(f.Priority)
		if err != nil {
			return err
		}

		opts = append(opts, api.WithPriority(prio))
	}

	if kind == fragment.Replace {
		transpile, err := Transpiler(f.Rewrite)
		if err != nil {
			return err
		}

		p.Transpile(f.Target, transpile, opts...)

		return nil
	}

	invoke, shape, err := f.Behavior.Build(kind, sig, log.With(
		zap.String("owner", f.Owner), zap.String("behavior", f.Behavior.Type)))
	if err != nil {
		return err
	}

	opts = append(opts, api.WithShape(shape))

	switch kind {
	case fragment.Prefix:
		p.Prefix(f.Target, invoke, opts...)
	case fragment.Postfix:
		p.Postfix(f.Target, invoke, opts...)
	default:
		p.Finalize(f.Target, invoke, opts...)
	}

	return nil
}

// Owners lists the fragment owners in order of first appearance.
func (s *Session) Owners() []string {
	return append([]string(nil), s.owners...)
}

// Bodies returns the decoded listing of every target.
func (s *Session) Bodies() map[string]*isa.Sequence {
	out := make(map[string]*isa.Sequence, len(s.bodies))
	for name, body := range s.bodies {
		out[name] = body
	}

	return out
}

// Calls returns the argument lists of the invocations of one target that
// run its composed routine.
func (s *Session) Calls(target string) [][]any {
	var calls [][]any

	for _, inv := range s.Manifest.Invocations {
		if inv.Target == target && inv.Reverse == "" {
			calls = append(calls, inv.Arguments())
		}
	}

	return calls
}

// Run performs every invocation in order.
func (s *Session) Run() []Outcome {
	outcomes := make([]Outcome, 0, len(s.Manifest.Invocations))

	for _, inv := range s.Manifest.Invocations {
		result, err := s.invoke(inv)

		o := Outcome{Invocation: inv, Result: result, Err: err}
		o.Problem = check(inv, result, err)
		outcomes = append(outcomes, o)

		s.log.Debug("invocation",
			zap.String("target", inv.Target),
			zap.Any("result", result),
			zap.Error(err))
	}

	return outcomes
}

func (s *Session) invoke(inv Invocation) (any, error) {
	if inv.Reverse == "" {
		return s.Registry.Invoke(inv.Target, inv.Arguments()...)
	}

	mode := registry.ReverseOriginal
	if inv.Reverse == "snapshot" {
		mode = registry.ReverseSnapshot
	}

	body, err := s.Registry.ReversePatch(inv.Target, mode)
	if err != nil {
		return nil, err
	}

	return body(inv.Arguments())
}

func check(inv Invocation, result any, err error) string {
	switch {
	case inv.Error != "" && err == nil:
		return fmt.Sprintf("expected error %q, got result %v", inv.Error, result)
	case inv.Error != "" && !strings.Contains(err.Error(), inv.Error):
		return fmt.Sprintf("expected error %q, got %q", inv.Error, err.Error())
	case inv.Error != "":
		return ""
	case err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case inv.Expect != nil && fmt.Sprint(normalize(inv.Expect)) != fmt.Sprint(result):
		return fmt.Sprintf("expected %v, got %v", inv.Expect, result)
	}

	return ""
}

// Unload removes every fragment the session applied. Targets stay declared.
func (s *Session) Unload() error {
	var err error

	for _, owner := range s.owners {
		_, e := s.patchers[owner].UnpatchAll()
		err = multierr.Append(err, e)
	}

	return err
}
