// Package manifest reads a YAML description of targets, the fragments
// owners attach to them and the invocations to run, and loads it into a
// registry.
//
//	version: 1
//	targets:
//	  - name: greet
//	    signature:
//	      params: [{name: name, type: string}]
//	      result: string
//	    listing: |
//	      ldstr "Hello "
//	      ldarg 0
//	      add
//	      ret
//	fragments:
//	  - target: greet
//	    owner: shouty
//	    kind: postfix
//	    priority: Last
//	    behavior: {type: upper}
//	invocations:
//	  - target: greet
//	    args: [foo]
//	    expect: Hello FOO
//
// Fragment code comes from a catalog of behaviors (see Behaviors). Replace
// fragments carry rewrite rules instead.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/isa"
)

type (
	// Param is one target parameter.
	Param struct {
		Name  string `yaml:"name"`
		Type  string `yaml:"type" validate:"required"`
		ByRef bool   `yaml:"ref,omitempty"`
	}

	// Signature is the calling shape of a target. An empty result means
	// void.
	Signature struct {
		Params []Param `yaml:"params" validate:"dive"`
		Result string  `yaml:"result,omitempty"`
	}

	// Target is one patchable routine, given as a text listing.
	Target struct {
		Name      string    `yaml:"name" validate:"required"`
		Signature Signature `yaml:"signature"`
		Listing   string    `yaml:"listing" validate:"required"`
	}

	// Routine makes a builtin helper callable from listings.
	Routine struct {
		Name    string `yaml:"name" validate:"required"`
		Builtin string `yaml:"builtin" validate:"required"`
	}

	// Behavior selects fragment code from the catalog.
	Behavior struct {
		Type  string `yaml:"type" validate:"required"`
		Value any    `yaml:"value,omitempty"`
		Arg   int    `yaml:"arg,omitempty" validate:"gte=0"`
	}

	// Rule rewrites every run of instructions matching Find into Replace.
	// Find lines are listing lines; an opcode without operand, or with the
	// operand "*", matches any operand.
	Rule struct {
		Find    []string `yaml:"find" validate:"required,min=1"`
		Replace []string `yaml:"replace"`
		// Expect is the number of occurrences the rule must rewrite. Zero
		// means at least one.
		Expect int `yaml:"expect,omitempty" validate:"gte=0"`
	}

	// Fragment is one owner's interception of a target.
	Fragment struct {
		Target   string    `yaml:"target" validate:"required"`
		Owner    string    `yaml:"owner" validate:"required,ne=*"`
		Kind     string    `yaml:"kind" validate:"required"`
		Name     string    `yaml:"name,omitempty"`
		Priority string    `yaml:"priority,omitempty"`
		Before   []string  `yaml:"before,omitempty"`
		After    []string  `yaml:"after,omitempty"`
		Behavior *Behavior `yaml:"behavior,omitempty"`
		Rewrite  []Rule    `yaml:"rewrite,omitempty" validate:"dive"`
	}

	// Invocation is one call of a composed target.
	Invocation struct {
		Target string `yaml:"target" validate:"required"`
		Args   []any  `yaml:"args"`
		Expect any    `yaml:"expect,omitempty"`
		// Error, when set, is the message the call must fail with.
		Error string `yaml:"error,omitempty"`
		// Reverse runs the target body without its prefixes, postfixes and
		// finalizers: "original" as declared, "snapshot" with the installed
		// transpilers applied.
		Reverse string `yaml:"reverse,omitempty" validate:"omitempty,oneof=original snapshot"`
	}

	// Manifest is a whole patch description.
	Manifest struct {
		Version     int          `yaml:"version" validate:"eq=1"`
		Routines    []Routine    `yaml:"routines,omitempty" validate:"dive"`
		Targets     []Target     `yaml:"targets" validate:"required,min=1,dive"`
		Fragments   []Fragment   `yaml:"fragments,omitempty" validate:"dive"`
		Invocations []Invocation `yaml:"invocations,omitempty" validate:"dive"`
	}
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and checks a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty manifest")
		}

		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Load reads the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// Validate checks field constraints and cross references.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	targets := make(map[string]bool, len(m.Targets))
	for _, t := range m.Targets {
		if targets[t.Name] {
			return fmt.Errorf("invalid manifest: target %q declared twice", t.Name)
		}
		targets[t.Name] = true
	}

	for _, r := range m.Routines {
		if _, ok := builtins[r.Builtin]; !ok {
			return fmt.Errorf("invalid manifest: routine %q: unknown builtin %q", r.Name, r.Builtin)
		}
	}

	for i, f := range m.Fragments {
		if !targets[f.Target] {
			return fmt.Errorf("invalid manifest: fragment %d: unknown target %q", i, f.Target)
		}

		kind, err := fragment.ParseKind(f.Kind)
		if err != nil {
			return fmt.Errorf("invalid manifest: fragment %d: %w", i, err)
		}

		if f.Priority != "" {
			if _, err := fragment.ParsePriority(f.Priority); err != nil {
				return fmt.Errorf("invalid manifest: fragment %d: %w", i, err)
			}
		}

		switch {
		case kind == fragment.Replace && len(f.Rewrite) == 0:
			return fmt.Errorf("invalid manifest: fragment %d: replace fragment without rewrite rules", i)
		case kind != fragment.Replace && f.Behavior == nil:
			return fmt.Errorf("invalid manifest: fragment %d: %s fragment without behavior", i, kind)
		case kind != fragment.Replace && len(f.Rewrite) > 0:
			return fmt.Errorf("invalid manifest: fragment %d: rewrite rules on a %s fragment", i, kind)
		}
	}

	for i, inv := range m.Invocations {
		if !targets[inv.Target] {
			return fmt.Errorf("invalid manifest: invocation %d: unknown target %q", i, inv.Target)
		}
	}

	return nil
}

// Signature converts the declared signature.
func (s Signature) Signature() compose.Signature {
	sig := compose.Signature{Result: s.Result}
	for _, p := range s.Params {
		sig.Params = append(sig.Params, compose.Parameter{
			Name:  p.Name,
			Type:  p.Type,
			ByRef: p.ByRef,
		})
	}

	return sig
}

// Body parses the target listing.
func (t Target) Body() (*isa.Sequence, error) {
	body, err := isa.Parse(t.Listing, nil)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}

	if err := body.Validate(); err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}

	return body, nil
}

// Arguments returns the invocation arguments with YAML integers widened to
// int64, the integer type listings compute with.
func (inv Invocation) Arguments() []any {
	args := make([]any, len(inv.Args))
	for i, a := range inv.Args {
		args[i] = normalize(a)
	}

	return args
}

func normalize(v any) any {
	if i, ok := v.(int); ok {
		return int64(i)
	}

	return v
}
