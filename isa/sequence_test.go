package isa_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/splice/isa"
)

var _ = Describe("Sequence", func() {
	var seq *isa.Sequence

	BeforeEach(func() {
		seq = isa.NewSequence(nil)
	})

	It("should reject operands that do not fit the opcode", func() {
		err := seq.Append(isa.New(isa.Ldarg, isa.StringOperand("x")))
		Expect(errors.Is(err, isa.ErrOperandKind)).To(BeTrue())
		Expect(seq.Len()).To(Equal(0))
	})

	It("should reject unknown opcodes", func() {
		err := seq.Append(isa.Op("jump.far"))
		Expect(errors.Is(err, isa.ErrUnknownOpcode)).To(BeTrue())
	})

	It("should reject labels minted by another sequence", func() {
		other := isa.NewSequence(nil)
		l := other.DefineLabel()

		err := seq.Append(isa.New(isa.Br, isa.LabelOperand(l)))
		Expect(errors.Is(err, isa.ErrForeignLabel)).To(BeTrue())
	})

	It("should move labels to the following instruction on removal", func() {
		l := seq.DefineLabel()
		seq.MustAppend(
			isa.New(isa.Br, isa.LabelOperand(l)),
			isa.Op(isa.Nop),
			isa.Op(isa.Ret),
		)
		Expect(seq.BindLabel(1, l)).To(Succeed())

		removed, err := seq.Remove(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed.Opcode).To(Equal(isa.Nop))

		at, ok := seq.Resolve(l)
		Expect(ok).To(BeTrue())
		Expect(at).To(Equal(1))
		Expect(seq.At(1).Opcode).To(Equal(isa.Ret))
		Expect(seq.Validate()).To(Succeed())
	})

	It("should move labels backwards when the last instruction goes", func() {
		l := seq.DefineLabel()
		seq.MustAppend(isa.Op(isa.Nop), isa.Op(isa.Ret))
		Expect(seq.BindLabel(1, l)).To(Succeed())

		_, err := seq.Remove(1)
		Expect(err).NotTo(HaveOccurred())

		at, _ := seq.Resolve(l)
		Expect(at).To(Equal(0))
	})

	It("should refuse to orphan a label", func() {
		l := seq.DefineLabel()
		seq.MustAppend(isa.Op(isa.Ret))
		Expect(seq.BindLabel(0, l)).To(Succeed())

		_, err := seq.Remove(0)
		Expect(errors.Is(err, isa.ErrOrphanedLabel)).To(BeTrue())
		Expect(seq.Len()).To(Equal(1))
	})

	It("should not bind one label twice", func() {
		l := seq.DefineLabel()
		seq.MustAppend(isa.Op(isa.Nop), isa.Op(isa.Ret))
		Expect(seq.BindLabel(0, l)).To(Succeed())
		Expect(seq.BindLabel(0, l)).To(Succeed())
		Expect(seq.BindLabel(1, l)).NotTo(Succeed())
	})

	It("should report unbound branch targets", func() {
		l := seq.DefineLabel()
		seq.MustAppend(isa.New(isa.Brtrue, isa.LabelOperand(l)), isa.Op(isa.Ret))

		problems := seq.Check()
		Expect(problems).To(HaveLen(1))
		Expect(problems[0].Index).To(Equal(0))
		Expect(problems[0].Reason).To(ContainSubstring("unbound label"))
	})

	It("should report unbalanced protected regions", func() {
		seq.MustAppend(isa.Op(isa.Nop), isa.Op(isa.Ret))
		Expect(seq.AddBlock(0, isa.ExceptionBlock{Type: isa.BeginTry})).To(Succeed())

		Expect(seq.Validate()).To(MatchError(ContainSubstring("never closed")))
	})

	It("should keep the original intact when editing a clone", func() {
		seq.MustAppend(isa.New(isa.LdcI, isa.IntOperand(1)), isa.Op(isa.Ret))

		clone := seq.Clone()
		Expect(clone.SetOperand(0, isa.IntOperand(2))).To(Succeed())

		Expect(seq.At(0).Operand.Int).To(Equal(int64(1)))
		Expect(clone.At(0).Operand.Int).To(Equal(int64(2)))
	})
})
