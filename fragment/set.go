package fragment

import (
	"sort"
)

// AnyOwner matches every owner in Set.Remove.
const AnyOwner = "*"

// Set holds the fragments registered against one target, grouped by kind.
// It is not safe for concurrent use; the owner of the set serialises
// mutation.
type Set struct {
	target string
	groups [4][]Fragment
	next   [4]int
}

// NewSet creates an empty set for a target.
func NewSet(target string) *Set {
	return &Set{target: target}
}

// Target returns the routine the set belongs to.
func (s *Set) Target() string {
	return s.target
}

// Add validates the fragment, assigns its registration index and stores
// it. An unset priority is stored as Normal. The stored copy is returned.
func (s *Set) Add(f Fragment) (Fragment, error) {
	if err := f.Validate(); err != nil {
		return Fragment{}, err
	}

	f = f.clone()
	if f.Priority == Unset {
		f.Priority = Normal
	}

	f.Index = s.next[f.Kind]
	s.next[f.Kind]++
	s.groups[f.Kind] = append(s.groups[f.Kind], f)

	return f, nil
}

// Remove drops the fragments of one kind registered by owner, or by every
// owner when owner is AnyOwner. Survivors keep their indices. It returns the
// number of removed fragments.
func (s *Set) Remove(owner string, kind Kind) int {
	if !kind.valid() {
		return 0
	}

	kept := s.groups[kind][:0]
	removed := 0

	for _, f := range s.groups[kind] {
		if owner == AnyOwner || f.Owner == owner {
			removed++
			continue
		}

		kept = append(kept, f)
	}

	s.groups[kind] = kept

	return removed
}

// RemoveOwner drops every fragment of the owner.
func (s *Set) RemoveOwner(owner string) int {
	n := 0
	for _, k := range Kinds() {
		n += s.Remove(owner, k)
	}

	return n
}

// Len returns the number of fragments of one kind.
func (s *Set) Len(kind Kind) int {
	if !kind.valid() {
		return 0
	}

	return len(s.groups[kind])
}

// Total returns the number of fragments of every kind.
func (s *Set) Total() int {
	n := 0
	for _, g := range s.groups {
		n += len(g)
	}

	return n
}

// Owners lists the distinct owners with at least one fragment, sorted.
func (s *Set) Owners() []string {
	seen := make(map[string]bool)

	for _, g := range s.groups {
		for _, f := range g {
			seen[f.Owner] = true
		}
	}

	owners := make([]string, 0, len(seen))
	for o := range seen {
		owners = append(owners, o)
	}

	sort.Strings(owners)

	return owners
}

// Snapshot copies the set for one plan build.
func (s *Set) Snapshot() Snapshot {
	snap := Snapshot{Target: s.target}

	for k, g := range s.groups {
		snap.groups[k] = make([]Fragment, len(g))
		for i, f := range g {
			snap.groups[k][i] = f.clone()
		}
	}

	return snap
}

// Clone copies the set, including its index counters.
func (s *Set) Clone() *Set {
	c := &Set{target: s.target, next: s.next}

	for k, g := range s.groups {
		c.groups[k] = make([]Fragment, len(g))
		for i, f := range g {
			c.groups[k][i] = f.clone()
		}
	}

	return c
}

// Snapshot is an immutable copy of a Set.
type Snapshot struct {
	Target string
	groups [4][]Fragment
}

// Group returns the fragments of one kind in registration order.
func (s Snapshot) Group(kind Kind) []Fragment {
	if !kind.valid() {
		return nil
	}

	out := make([]Fragment, len(s.groups[kind]))
	for i, f := range s.groups[kind] {
		out[i] = f.clone()
	}

	return out
}

// Empty reports whether the snapshot holds no fragment.
func (s Snapshot) Empty() bool {
	for _, g := range s.groups {
		if len(g) > 0 {
			return false
		}
	}

	return true
}

// Order orders the fragments of one kind.
func (s Snapshot) Order(kind Kind) ([]Fragment, error) {
	return Order(s.Target, kind, s.groups[kind])
}
