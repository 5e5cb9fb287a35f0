package fragment

import (
	"fmt"
	"sort"
	"strings"
)

// OrderingConflict reports before/after constraints among owners that
// cannot all be satisfied.
type OrderingConflict struct {
	Target string
	Kind   Kind
	Owners []string
}

func (e *OrderingConflict) Error() string {
	return fmt.Sprintf("ordering conflict in %s fragments of %s: cyclic before/after between %s",
		e.Kind, e.Target, strings.Join(e.Owners, ", "))
}

// Order returns the fragments of one kind in execution order.
//
// Fragments are first sorted by priority (descending, ascending for
// postfixes) and registration index. Before/after constraints between
// different owners then hold back a fragment until everything it must
// follow has been placed; a held fragment is released as soon as that
// happens. References to owners without a fragment in the group are
// ignored. Constraint cycles yield an *OrderingConflict.
func Order(target string, kind Kind, fragments []Fragment) ([]Fragment, error) {
	nodes := make([]Fragment, len(fragments))
	copy(nodes, fragments)
	presort(kind, nodes)

	g := newGraph(nodes)

	if owners := g.cyclicOwners(); len(owners) > 0 {
		return nil, &OrderingConflict{Target: target, Kind: kind, Owners: owners}
	}

	return g.sort(), nil
}

func presort(kind Kind, nodes []Fragment) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Priority != b.Priority {
			if kind == Postfix {
				return a.Priority < b.Priority
			}

			return a.Priority > b.Priority
		}

		return a.Index < b.Index
	})
}

type graph struct {
	nodes []Fragment
	preds [][]int
	succs [][]int
}

func newGraph(nodes []Fragment) *graph {
	g := &graph{
		nodes: nodes,
		preds: make([][]int, len(nodes)),
		succs: make([][]int, len(nodes)),
	}

	byOwner := make(map[string][]int)
	for i, n := range nodes {
		byOwner[n.Owner] = append(byOwner[n.Owner], i)
	}

	seen := make(map[[2]int]bool)
	edge := func(from, to int) {
		if nodes[from].Owner == nodes[to].Owner || seen[[2]int{from, to}] {
			return
		}

		seen[[2]int{from, to}] = true
		g.succs[from] = append(g.succs[from], to)
		g.preds[to] = append(g.preds[to], from)
	}

	for i, n := range nodes {
		for _, owner := range n.Before {
			for _, j := range byOwner[owner] {
				edge(i, j)
			}
		}

		for _, owner := range n.After {
			for _, j := range byOwner[owner] {
				edge(j, i)
			}
		}
	}

	return g
}

func (g *graph) sort() []Fragment {
	handled := make([]bool, len(g.nodes))
	out := make([]Fragment, 0, len(g.nodes))

	ready := func(i int) bool {
		for _, p := range g.preds[i] {
			if !handled[p] {
				return false
			}
		}

		return true
	}

	emit := func(i int) {
		handled[i] = true
		out = append(out, g.nodes[i])
	}

	release := func(waiting []int) []int {
		for k := 0; k < len(waiting); {
			if !ready(waiting[k]) {
				k++
				continue
			}

			i := waiting[k]
			waiting = append(waiting[:k], waiting[k+1:]...)
			emit(i)
			k = 0
		}

		return waiting
	}

	queue := make([]int, len(g.nodes))
	for i := range queue {
		queue[i] = i
	}

	for len(queue) > 0 {
		var waiting []int

		for _, i := range queue {
			if !ready(i) {
				waiting = append(waiting, i)
				continue
			}

			emit(i)

			if len(g.succs[i]) > 0 {
				waiting = release(waiting)
			}
		}

		if len(waiting) == len(queue) {
			// Unreachable for acyclic graphs; keep the pre-sorted order.
			for _, i := range waiting {
				emit(i)
			}

			break
		}

		queue = waiting
	}

	return out
}

// cyclicOwners finds the strongly connected components with more than one
// node and returns their owners, sorted and deduplicated.
func (g *graph) cyclicOwners() []string {
	n := len(g.nodes)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)

	for i := range index {
		index[i] = -1
	}

	var (
		stack   []int
		counter int
		owners  = make(map[string]bool)
	)

	var visit func(v int)
	visit = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.succs[v] {
			if index[w] < 0 {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}

		var component []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)

			if w == v {
				break
			}
		}

		if len(component) > 1 {
			for _, w := range component {
				owners[g.nodes[w].Owner] = true
			}
		}
	}

	for v := 0; v < n; v++ {
		if index[v] < 0 {
			visit(v)
		}
	}

	out := make([]string, 0, len(owners))
	for o := range owners {
		out = append(out, o)
	}

	sort.Strings(out)

	return out
}

// SameGroup reports whether two groups would order identically: the same
// fragments by owner, index, priority and constraints, in any order.
func SameGroup(a, b []Fragment) bool {
	if len(a) != len(b) {
		return false
	}

	key := func(f Fragment) string {
		before := append([]string(nil), f.Before...)
		after := append([]string(nil), f.After...)
		sort.Strings(before)
		sort.Strings(after)

		return fmt.Sprintf("%s\x00%d\x00%d\x00%s\x00%s",
			f.Owner, f.Index, f.Priority,
			strings.Join(before, "\x01"), strings.Join(after, "\x01"))
	}

	counts := make(map[string]int, len(a))
	for _, f := range a {
		counts[key(f)]++
	}

	for _, f := range b {
		k := key(f)
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}

	return true
}
