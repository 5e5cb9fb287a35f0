package fragment_test

import (
	"errors"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/splice/fragment"
)

type entry struct {
	owner    string
	priority fragment.Priority
	before   []string
	after    []string
}

func group(kind fragment.Kind, entries ...entry) []fragment.Fragment {
	set := fragment.NewSet("T")

	for _, e := range entries {
		f := fragment.New(kind, e.owner, noop)
		f.Priority = e.priority
		f.Before = e.before
		f.After = e.after

		_, err := set.Add(f)
		Expect(err).NotTo(HaveOccurred())
	}

	return set.Snapshot().Group(kind)
}

func indices(fs []fragment.Fragment) []int {
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = f.Index
	}

	return out
}

func noop(fragment.Call) (any, error) {
	return nil, nil
}

var _ = Describe("Order", func() {
	DescribeTable("reference fixtures",
		func(entries []entry, expected []int) {
			ordered, err := fragment.Order("T", fragment.Prefix, group(fragment.Prefix, entries...))
			Expect(err).NotTo(HaveOccurred())
			Expect(cmp.Diff(expected, indices(ordered))).To(BeEmpty())
		},
		Entry("same priorities", []entry{
			{owner: "A", priority: fragment.Normal},
			{owner: "B", priority: fragment.Normal},
			{owner: "C", priority: fragment.Normal},
		}, []int{0, 1, 2}),
		Entry("all priorities", []entry{
			{owner: "A", priority: fragment.Last},
			{owner: "B", priority: fragment.VeryLow},
			{owner: "C", priority: fragment.Low},
			{owner: "D", priority: fragment.LowerThanNormal},
			{owner: "E", priority: fragment.Normal},
			{owner: "F", priority: fragment.HigherThanNormal},
			{owner: "G", priority: fragment.High},
			{owner: "H", priority: fragment.VeryHigh},
			{owner: "I", priority: fragment.First},
		}, []int{8, 7, 6, 5, 4, 3, 2, 1, 0}),
		Entry("before and priorities", []entry{
			{owner: "A", priority: fragment.Normal},
			{owner: "A", priority: fragment.Normal},
			{owner: "B", priority: fragment.Normal, before: []string{"A"}},
			{owner: "C", priority: fragment.First},
			{owner: "D", priority: fragment.Low, before: []string{"A"}},
		}, []int{3, 2, 4, 0, 1}),
		Entry("after and priorities", []entry{
			{owner: "A", priority: fragment.Normal, after: []string{"C"}},
			{owner: "B", priority: fragment.Normal},
			{owner: "C", priority: fragment.Normal},
			{owner: "D", priority: fragment.First, after: []string{"C"}},
		}, []int{1, 2, 3, 0}),
		Entry("before, after and priorities", []entry{
			{owner: "A", priority: fragment.First},
			{owner: "B", priority: fragment.HigherThanNormal, before: []string{"E"}, after: []string{"C"}},
			{owner: "C", priority: fragment.First},
			{owner: "D", priority: fragment.VeryHigh, before: []string{"E"}, after: []string{"C"}},
			{owner: "E", priority: fragment.First},
		}, []int{0, 2, 3, 1, 4}),
		Entry("transitive before", []entry{
			{owner: "A", priority: fragment.Normal, before: []string{"B"}},
			{owner: "B", priority: fragment.HigherThanNormal, before: []string{"C"}},
			{owner: "C", priority: fragment.High, before: []string{"D"}},
			{owner: "D", priority: fragment.VeryHigh, before: []string{"E"}},
			{owner: "E", priority: fragment.First},
		}, []int{0, 1, 2, 3, 4}),
		Entry("transitive after", []entry{
			{owner: "A", priority: fragment.First, after: []string{"B"}},
			{owner: "B", priority: fragment.VeryHigh, after: []string{"C"}},
			{owner: "C", priority: fragment.High, after: []string{"D"}},
			{owner: "D", priority: fragment.HigherThanNormal, after: []string{"E"}},
			{owner: "E", priority: fragment.Normal},
		}, []int{4, 3, 2, 1, 0}),
		Entry("missing owners", []entry{
			{owner: "A", priority: fragment.Normal, before: []string{"ownerB", "missing 1"}, after: []string{"C"}},
			{owner: "B", priority: fragment.Normal, after: []string{"missing 2"}},
			{owner: "C", priority: fragment.Normal},
		}, []int{1, 2, 0}),
	)

	It("should run higher priority postfixes later", func() {
		entries := []entry{
			{owner: "A", priority: fragment.High},
			{owner: "B", priority: fragment.Low},
			{owner: "C", priority: fragment.Normal},
			{owner: "D", priority: fragment.Low},
		}

		ordered, err := fragment.Order("T", fragment.Postfix, group(fragment.Postfix, entries...))
		Expect(err).NotTo(HaveOccurred())
		Expect(indices(ordered)).To(Equal([]int{1, 3, 2, 0}))
	})

	It("should not change the order for constraints it already satisfies", func() {
		plain := []entry{
			{owner: "A", priority: fragment.High},
			{owner: "B", priority: fragment.Normal},
			{owner: "C", priority: fragment.Low},
		}
		constrained := []entry{
			{owner: "A", priority: fragment.High, before: []string{"B", "C"}},
			{owner: "B", priority: fragment.Normal, after: []string{"A"}},
			{owner: "C", priority: fragment.Low, after: []string{"B"}},
		}

		want, err := fragment.Order("T", fragment.Prefix, group(fragment.Prefix, plain...))
		Expect(err).NotTo(HaveOccurred())
		got, err := fragment.Order("T", fragment.Prefix, group(fragment.Prefix, constrained...))
		Expect(err).NotTo(HaveOccurred())
		Expect(indices(got)).To(Equal(indices(want)))
	})

	It("should ignore constraints between fragments of the same owner", func() {
		ordered, err := fragment.Order("T", fragment.Prefix, group(fragment.Prefix,
			entry{owner: "A", priority: fragment.Normal, after: []string{"A"}},
			entry{owner: "A", priority: fragment.High, before: []string{"A"}},
		))
		Expect(err).NotTo(HaveOccurred())
		Expect(indices(ordered)).To(Equal([]int{1, 0}))
	})

	It("should keep existing fragments in place when a later one arrives", func() {
		entries := []entry{
			{owner: "A", priority: fragment.Normal},
			{owner: "B", priority: fragment.High},
		}
		before, err := fragment.Order("T", fragment.Prefix, group(fragment.Prefix, entries...))
		Expect(err).NotTo(HaveOccurred())

		entries = append(entries, entry{owner: "C", priority: fragment.Normal})
		after, err := fragment.Order("T", fragment.Prefix, group(fragment.Prefix, entries...))
		Expect(err).NotTo(HaveOccurred())
		Expect(indices(after)[:2]).To(Equal(indices(before)))
	})

	DescribeTable("cycles",
		func(entries []entry, owners []string) {
			ordered, err := fragment.Order("T", fragment.Finalizer, group(fragment.Finalizer, entries...))
			Expect(ordered).To(BeNil())

			var conflict *fragment.OrderingConflict
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Target).To(Equal("T"))
			Expect(conflict.Kind).To(Equal(fragment.Finalizer))
			Expect(conflict.Owners).To(Equal(owners))
		},
		Entry("two owners", []entry{
			{owner: "A", priority: fragment.Normal, before: []string{"B"}},
			{owner: "B", priority: fragment.Normal, before: []string{"A"}},
		}, []string{"A", "B"}),
		Entry("three owners through after", []entry{
			{owner: "A", priority: fragment.Normal, after: []string{"B"}},
			{owner: "B", priority: fragment.Normal, after: []string{"C"}},
			{owner: "C", priority: fragment.Normal, after: []string{"A"}},
		}, []string{"A", "B", "C"}),
		Entry("two independent cycles", []entry{
			{owner: "A", priority: fragment.Normal, before: []string{"C"}},
			{owner: "B", priority: fragment.Normal, before: []string{"A"}},
			{owner: "C", priority: fragment.Normal, before: []string{"B"}},
			{owner: "D", priority: fragment.Normal},
			{owner: "E", priority: fragment.First},
			{owner: "F", priority: fragment.Low, after: []string{"G"}},
			{owner: "G", priority: fragment.Normal, after: []string{"H"}},
			{owner: "H", priority: fragment.Normal, after: []string{"F"}},
		}, []string{"A", "B", "C", "F", "G", "H"}),
		Entry("cross-dependent cycles", []entry{
			{owner: "A", priority: fragment.Normal, before: []string{"C"}},
			{owner: "B", priority: fragment.Normal, before: []string{"A"}},
			{owner: "C", priority: fragment.Normal, before: []string{"B"}},
			{owner: "D", priority: fragment.Normal},
			{owner: "E", priority: fragment.First},
			{owner: "F", priority: fragment.Low, before: []string{"C", "H"}, after: []string{"G", "B"}},
			{owner: "G", priority: fragment.Normal, after: []string{"H"}},
			{owner: "H", priority: fragment.Normal, after: []string{"F"}},
		}, []string{"A", "B", "C", "F", "G", "H"}),
	)

	Describe("SameGroup", func() {
		base := []entry{
			{owner: "A", priority: fragment.Normal},
			{owner: "B", priority: fragment.Normal, before: []string{"A"}, after: []string{"C"}},
			{owner: "C", priority: fragment.Normal},
		}

		It("should accept the same group in any order", func() {
			a := group(fragment.Prefix, base...)
			b := []fragment.Fragment{a[2], a[0], a[1]}
			Expect(fragment.SameGroup(a, b)).To(BeTrue())
		})

		It("should notice changed fields", func() {
			a := group(fragment.Prefix, base...)

			b := group(fragment.Prefix, base...)
			b[1].Priority = fragment.High
			Expect(fragment.SameGroup(a, b)).To(BeFalse())

			c := group(fragment.Prefix, base...)
			c[1].After = []string{"D"}
			Expect(fragment.SameGroup(a, c)).To(BeFalse())

			Expect(fragment.SameGroup(a, a[:2])).To(BeFalse())
		})
	})
})
