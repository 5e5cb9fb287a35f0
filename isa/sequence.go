package isa

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	// ErrForeignLabel is returned when a label minted by another sequence is
	// used.
	ErrForeignLabel = errors.New("label does not belong to this sequence")
	// ErrIndex is returned for positions outside the sequence.
	ErrIndex = errors.New("instruction index out of range")
	// ErrOrphanedLabel is returned when removing the only instruction that
	// could carry a label.
	ErrOrphanedLabel = errors.New("label would be left without an instruction")
)

// Problem is a structural defect found at one instruction. Index is -1 for
// defects of the sequence as a whole.
type Problem struct {
	Index  int
	Reason string
}

func (p Problem) Error() string {
	if p.Index < 0 {
		return p.Reason
	}

	return fmt.Sprintf("instruction %d: %s", p.Index, p.Reason)
}

// Sequence is an ordered, mutable list of instructions together with the
// generator that owns its labels.
type Sequence struct {
	set    *ISA
	labels *LabelGenerator
	insts  []Instruction
}

// NewSequence creates an empty sequence over an opcode table. A nil table
// selects Default.
func NewSequence(set *ISA) *Sequence {
	if set == nil {
		set = Default
	}

	return &Sequence{
		set:    set,
		labels: NewLabelGenerator(),
	}
}

// ISA returns the opcode table of the sequence.
func (s *Sequence) ISA() *ISA {
	return s.set
}

// DefineLabel mints a label owned by this sequence. The label is unbound
// until attached to an instruction.
func (s *Sequence) DefineLabel() Label {
	return s.labels.Define()
}

// OwnsLabel reports whether the label was minted by this sequence.
func (s *Sequence) OwnsLabel(l Label) bool {
	return s.labels.Owns(l)
}

// Len returns the number of instructions.
func (s *Sequence) Len() int {
	return len(s.insts)
}

// At returns a copy of the instruction at index i.
func (s *Sequence) At(i int) Instruction {
	return s.insts[i].Clone()
}

// Instructions returns a deep copy of all instructions, in order.
func (s *Sequence) Instructions() []Instruction {
	out := make([]Instruction, len(s.insts))
	for i, inst := range s.insts {
		out[i] = inst.Clone()
	}

	return out
}

// Clone copies the instructions. The clone shares the label generator, so
// labels of the original stay valid in it and newly defined labels never
// collide.
func (s *Sequence) Clone() *Sequence {
	return &Sequence{
		set:    s.set,
		labels: s.labels,
		insts:  s.Instructions(),
	}
}

// Sibling creates an empty sequence that shares the label generator, so
// labels move freely between the two.
func (s *Sequence) Sibling() *Sequence {
	return &Sequence{set: s.set, labels: s.labels}
}

// Append adds instructions at the end.
func (s *Sequence) Append(insts ...Instruction) error {
	return s.Insert(len(s.insts), insts...)
}

// MustAppend is Append for hand-built sequences; it panics on error.
func (s *Sequence) MustAppend(insts ...Instruction) *Sequence {
	if err := s.Append(insts...); err != nil {
		panic(err)
	}

	return s
}

// Insert places instructions before index i. Insert at Len appends.
func (s *Sequence) Insert(i int, insts ...Instruction) error {
	if i < 0 || i > len(s.insts) {
		return fmt.Errorf("%w: insert at %d of %d", ErrIndex, i, len(s.insts))
	}

	for _, inst := range insts {
		if err := s.admit(inst); err != nil {
			return err
		}
	}

	cloned := make([]Instruction, len(insts))
	for k, inst := range insts {
		cloned[k] = inst.Clone()
	}

	s.insts = append(s.insts[:i], append(cloned, s.insts[i:]...)...)

	return nil
}

// Set overwrites the opcode and operand at index i, keeping its labels and
// region markers.
func (s *Sequence) Set(i int, op Opcode, operand Operand) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if err := s.admit(Instruction{Opcode: op, Operand: operand}); err != nil {
		return err
	}

	s.insts[i].Opcode = op
	s.insts[i].Operand = operand

	return nil
}

// SetOperand overwrites the operand at index i.
func (s *Sequence) SetOperand(i int, operand Operand) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	return s.Set(i, s.insts[i].Opcode, operand)
}

// BindLabel attaches a label to the instruction at index i. Binding a label
// that is already bound elsewhere is an error.
func (s *Sequence) BindLabel(i int, l Label) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if !s.labels.Owns(l) {
		return fmt.Errorf("%w: %s", ErrForeignLabel, l)
	}

	if at, ok := s.Resolve(l); ok {
		if at == i {
			return nil
		}

		return fmt.Errorf("label %s already bound to instruction %d", l, at)
	}

	s.insts[i].Labels = append(s.insts[i].Labels, l)

	return nil
}

// AddBlock attaches a region marker to the instruction at index i.
func (s *Sequence) AddBlock(i int, b ExceptionBlock) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	s.insts[i].Blocks = append(s.insts[i].Blocks, b)

	return nil
}

// Remove deletes the instruction at index i and returns it. Labels bound to
// it move to the instruction that follows, or to the preceding one when the
// last instruction is removed. Region markers are removed with the
// instruction.
func (s *Sequence) Remove(i int) (Instruction, error) {
	if err := s.checkIndex(i); err != nil {
		return Instruction{}, err
	}

	removed := s.insts[i]

	if len(removed.Labels) > 0 {
		switch {
		case i+1 < len(s.insts):
			s.insts[i+1].Labels = append(removed.Labels, s.insts[i+1].Labels...)
		case i > 0:
			s.insts[i-1].Labels = append(s.insts[i-1].Labels, removed.Labels...)
		default:
			return Instruction{}, fmt.Errorf("%w: %v", ErrOrphanedLabel, removed.Labels)
		}
	}

	s.insts = append(s.insts[:i], s.insts[i+1:]...)
	removed.Labels = nil

	return removed, nil
}

// MoveLabels transfers every label bound at index from onto index to.
func (s *Sequence) MoveLabels(from, to int) error {
	if err := s.checkIndex(from); err != nil {
		return err
	}

	if err := s.checkIndex(to); err != nil {
		return err
	}

	if from == to {
		return nil
	}

	s.insts[to].Labels = append(s.insts[to].Labels, s.insts[from].Labels...)
	s.insts[from].Labels = nil

	return nil
}

// Resolve returns the index of the instruction a label is bound to.
func (s *Sequence) Resolve(l Label) (int, bool) {
	for i, inst := range s.insts {
		if inst.HasLabel(l) {
			return i, true
		}
	}

	return -1, false
}

// Check lists every structural problem of the sequence: unknown opcodes,
// operands of the wrong kind, foreign or unresolved labels, labels bound
// twice, and unbalanced exception regions.
func (s *Sequence) Check() []Problem {
	var problems []Problem

	bound := make(map[Label]int)

	for i, inst := range s.insts {
		if err := s.set.CheckOperand(inst.Opcode, inst.Operand); err != nil {
			problems = append(problems, Problem{Index: i, Reason: err.Error()})
		}

		for _, l := range inst.Labels {
			if !s.labels.Owns(l) {
				problems = append(problems, Problem{Index: i,
					Reason: fmt.Sprintf("label %s is foreign to the sequence", l)})
				continue
			}

			if prev, ok := bound[l]; ok {
				problems = append(problems, Problem{Index: i,
					Reason: fmt.Sprintf("label %s already bound to instruction %d", l, prev)})
				continue
			}

			bound[l] = i
		}
	}

	for i, inst := range s.insts {
		target, ok := inst.BranchTarget()
		if !ok {
			continue
		}

		if !s.labels.Owns(target) {
			problems = append(problems, Problem{Index: i,
				Reason: fmt.Sprintf("%s targets foreign label %s", inst.Opcode, target)})
			continue
		}

		if _, ok := bound[target]; !ok {
			problems = append(problems, Problem{Index: i,
				Reason: fmt.Sprintf("%s targets unbound label %s", inst.Opcode, target)})
		}
	}

	problems = append(problems, s.checkBlocks()...)

	return problems
}

// Validate folds the problems reported by Check into one error.
func (s *Sequence) Validate() error {
	var err error
	for _, p := range s.Check() {
		err = multierr.Append(err, p)
	}

	return err
}

func (s *Sequence) checkBlocks() []Problem {
	var problems []Problem

	type region struct {
		start    int
		handlers int
	}

	var open []region

	for i, inst := range s.insts {
		for _, b := range inst.Blocks {
			switch b.Type {
			case BeginTry:
				open = append(open, region{start: i})
			case BeginCatch, BeginFinally:
				if len(open) == 0 {
					problems = append(problems, Problem{Index: i,
						Reason: fmt.Sprintf("%s outside of a protected region", b.Type)})
					continue
				}
				open[len(open)-1].handlers++
			}
		}

		for _, b := range inst.Blocks {
			if b.Type != EndTry {
				continue
			}

			if len(open) == 0 {
				problems = append(problems, Problem{Index: i,
					Reason: "region end without a matching .try"})
				continue
			}

			top := open[len(open)-1]
			if top.handlers == 0 {
				problems = append(problems, Problem{Index: i,
					Reason: fmt.Sprintf("region opened at %d has no handler", top.start)})
			}

			open = open[:len(open)-1]
		}
	}

	for _, r := range open {
		problems = append(problems, Problem{Index: r.start,
			Reason: "protected region is never closed"})
	}

	return problems
}

func (s *Sequence) checkIndex(i int) error {
	if i < 0 || i >= len(s.insts) {
		return fmt.Errorf("%w: %d of %d", ErrIndex, i, len(s.insts))
	}

	return nil
}

func (s *Sequence) admit(inst Instruction) error {
	if err := s.set.CheckOperand(inst.Opcode, inst.Operand); err != nil {
		return err
	}

	if target, ok := inst.BranchTarget(); ok && !s.labels.Owns(target) {
		return fmt.Errorf("%w: %s operand %s", ErrForeignLabel, inst.Opcode, target)
	}

	for _, l := range inst.Labels {
		if !s.labels.Owns(l) {
			return fmt.Errorf("%w: %s", ErrForeignLabel, l)
		}
	}

	return nil
}
