package isa_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/splice/isa"
)

const loopListing = `
; counts argument 0 down to zero
.try
loop: ldarg 0
      ldc.i 1
      sub
      dup
      starg 0
      brtrue loop
      leave done
.catch Error
      pop
      leave done
.end
done: ldstr "done"
      call strings.ToUpper
      ret
`

var _ = Describe("Listing", func() {
	It("should decode labels, operands and region markers", func() {
		seq, err := isa.Parse(loopListing, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(seq.Len()).To(Equal(12))
		Expect(seq.Validate()).To(Succeed())

		first := seq.At(0)
		Expect(first.Opcode).To(Equal(isa.Ldarg))
		Expect(first.Labels).To(HaveLen(1))
		Expect(first.HasBlock(isa.BeginTry)).To(BeTrue())

		branch := seq.At(5)
		target, ok := branch.BranchTarget()
		Expect(ok).To(BeTrue())
		at, _ := seq.Resolve(target)
		Expect(at).To(Equal(0))

		Expect(seq.At(7).Blocks).To(ContainElement(
			isa.ExceptionBlock{Type: isa.BeginCatch, CatchType: "Error"}))
		Expect(seq.At(8).HasBlock(isa.EndTry)).To(BeTrue())
		Expect(seq.At(9).Operand).To(Equal(isa.StringOperand("done")))
		Expect(seq.At(10).Operand).To(Equal(isa.RoutineOperand("strings.ToUpper")))
	})

	It("should survive a decode-encode round trip unchanged", func() {
		seq := isa.MustParse(loopListing)

		again, err := isa.Parse(isa.Format(seq.Instructions()), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(isa.Equivalent(seq.Instructions(), again.Instructions())).To(Succeed())
	})

	It("should notice a moved branch target", func() {
		seq := isa.MustParse(loopListing)
		other := isa.MustParse(loopListing)

		l := other.DefineLabel()
		Expect(other.BindLabel(2, l)).To(Succeed())
		Expect(other.SetOperand(5, isa.LabelOperand(l))).To(Succeed())

		Expect(isa.Equivalent(seq.Instructions(), other.Instructions())).
			To(MatchError(ContainSubstring("instruction 2")))
	})

	It("should reject malformed listings", func() {
		_, err := isa.Parse("ldarg x", nil)
		Expect(err).To(MatchError(ContainSubstring("line 1")))

		_, err = isa.Parse("nop\n.try", nil)
		Expect(err).To(MatchError(ContainSubstring("without an instruction")))

		_, err = isa.Parse(".end\nnop", nil)
		Expect(err).To(HaveOccurred())
	})
})
