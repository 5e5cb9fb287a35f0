package matcher

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sarchlab/splice/isa"
)

var (
	// ErrInvalidCursor is returned by every search or edit attempted while
	// the cursor is invalid.
	ErrInvalidCursor = errors.New("matcher: cursor is invalid")
	// ErrNoMatches is returned when a search is given no predicates.
	ErrNoMatches = errors.New("matcher: empty match sequence")
)

// MatchNotFound is returned by AssertValid when the last positioning
// operation failed.
type MatchNotFound struct {
	Message string
	Detail  string
}

func (e *MatchNotFound) Error() string {
	if e.Detail == "" {
		return "match not found: " + e.Message
	}

	return fmt.Sprintf("match not found: %s (%s)", e.Message, e.Detail)
}

// Matcher is a cursor over one instruction sequence. The cursor either sits
// on an instruction or is invalid; an invalid cursor remembers its last valid
// position so that Reset can return to it.
type Matcher struct {
	seq *isa.Sequence
	log *zap.Logger

	pos       int
	valid     bool
	lastValid int
	lastError string
	named     map[string]isa.Instruction
}

// New creates a matcher positioned at the first instruction. The matcher
// edits the sequence in place.
func New(seq *isa.Sequence) *Matcher {
	m := &Matcher{
		seq:   seq,
		log:   zap.NewNop(),
		named: make(map[string]isa.Instruction),
	}

	m.Start()

	return m
}

// WithLogger sets the logger used for debug output.
func (m *Matcher) WithLogger(log *zap.Logger) *Matcher {
	if log != nil {
		m.log = log
	}

	return m
}

// Sequence returns the sequence being edited.
func (m *Matcher) Sequence() *isa.Sequence {
	return m.seq
}

// Len returns the number of instructions.
func (m *Matcher) Len() int {
	return m.seq.Len()
}

// Pos returns the cursor position, or -1 when the cursor is invalid.
func (m *Matcher) Pos() int {
	if !m.valid {
		return -1
	}

	return m.pos
}

// IsValid reports whether the last match or positioning operation
// succeeded.
func (m *Matcher) IsValid() bool {
	return m.valid
}

// LastError describes why the cursor became invalid.
func (m *Matcher) LastError() string {
	return m.lastError
}

// AssertValid turns an invalid cursor into a MatchNotFound error.
func (m *Matcher) AssertValid(message string) error {
	if m.valid {
		return nil
	}

	return &MatchNotFound{Message: message, Detail: m.lastError}
}

// Instruction returns a copy of the instruction under the cursor.
func (m *Matcher) Instruction() (isa.Instruction, error) {
	if !m.valid {
		return isa.Instruction{}, ErrInvalidCursor
	}

	return m.seq.At(m.pos), nil
}

// Named returns the instruction recorded under a name by the last
// successful match.
func (m *Matcher) Named(name string) (isa.Instruction, bool) {
	inst, ok := m.named[name]
	return inst, ok
}

// Start moves the cursor to the first instruction.
func (m *Matcher) Start() *Matcher {
	return m.moveTo(0, "sequence is empty")
}

// End moves the cursor to the last instruction.
func (m *Matcher) End() *Matcher {
	return m.moveTo(m.seq.Len()-1, "sequence is empty")
}

// Advance moves the cursor by offset instructions. Leaving the sequence
// invalidates the cursor; advancing an invalid cursor keeps it invalid.
func (m *Matcher) Advance(offset int) *Matcher {
	if !m.valid {
		return m
	}

	return m.moveTo(m.pos+offset, fmt.Sprintf("advance by %d leaves the sequence", offset))
}

// Reset restores the last valid position.
func (m *Matcher) Reset() *Matcher {
	return m.moveTo(m.lastValid, "last valid position no longer exists")
}

// FindForward scans from the cursor (inclusive) for the first contiguous run
// of instructions satisfying matches in order. On success the cursor sits on
// the last instruction of the run. A search that finds nothing invalidates
// the cursor and reports false without an error.
func (m *Matcher) FindForward(matches ...Match) (bool, error) {
	if err := m.checkSearch(matches); err != nil {
		return false, err
	}

	start, ok := m.scanForward(m.pos, matches)
	if !ok {
		m.fail("cannot find " + describe(matches))
		return false, nil
	}

	m.accept(start, matches)

	return true, nil
}

// FindBackward scans towards the start for the nearest run whose last
// instruction is at or before the cursor.
func (m *Matcher) FindBackward(matches ...Match) (bool, error) {
	if err := m.checkSearch(matches); err != nil {
		return false, err
	}

	for end := m.pos; end >= len(matches)-1; end-- {
		start := end - len(matches) + 1
		if m.matchAt(start, matches) {
			m.accept(start, matches)
			return true, nil
		}
	}

	m.fail("cannot find backwards " + describe(matches))

	return false, nil
}

// SearchForward is FindForward with a single predicate.
func (m *Matcher) SearchForward(predicate func(isa.Instruction) bool) (bool, error) {
	return m.FindForward(Where(predicate))
}

// Repeat finds every remaining occurrence of matches and applies action
// with the cursor on the last instruction of each occurrence. It scans from
// the cursor when valid and from the start of the sequence otherwise. After
// each action the scan resumes behind the rewritten region, so an action
// that re-creates the pattern cannot loop. Repeat returns the number of
// occurrences handled; the cursor is invalid afterwards.
func (m *Matcher) Repeat(action func(*Matcher) error, matches ...Match) (int, error) {
	if len(matches) == 0 {
		return 0, ErrNoMatches
	}

	from := 0
	if m.valid {
		from = m.pos
	}

	count := 0

	for {
		start, ok := m.scanForward(from, matches)
		if !ok {
			break
		}

		m.accept(start, matches)
		before := m.seq.Len()

		if err := action(m); err != nil {
			return count, fmt.Errorf("occurrence %d at %d: %w", count+1, start, err)
		}

		count++
		from = start + len(matches) + m.seq.Len() - before
	}

	m.fail("no further occurrence of " + describe(matches))
	m.log.Debug("repeat finished",
		zap.Int("occurrences", count),
		zap.String("pattern", describe(matches)))

	return count, nil
}

// RemoveCurrent deletes the instruction under the cursor. Its labels move to
// the following instruction and the cursor moves there too (or to the new
// last instruction when the removed one was last).
func (m *Matcher) RemoveCurrent() error {
	if !m.valid {
		return ErrInvalidCursor
	}

	if _, err := m.seq.Remove(m.pos); err != nil {
		return err
	}

	if m.pos >= m.seq.Len() {
		m.pos = m.seq.Len() - 1
	}

	m.moveTo(m.pos, "sequence is empty")

	return nil
}

// RemoveMatch deletes the n instructions ending at the cursor, typically the
// run found by the last search. Labels of the run move to the instruction
// that follows it.
func (m *Matcher) RemoveMatch(n int) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	start := m.pos - n + 1
	if n <= 0 || start < 0 {
		return fmt.Errorf("cannot remove %d instructions ending at %d", n, m.pos)
	}

	m.pos = start
	for i := 0; i < n; i++ {
		if err := m.RemoveCurrent(); err != nil {
			return err
		}
	}

	return nil
}

// Replace substitutes the instruction under the cursor with insts. Labels of
// the replaced instruction move to the first replacement, its begin markers
// to the first replacement and its end markers to the last one. The cursor
// ends on the last replacement.
func (m *Matcher) Replace(insts ...isa.Instruction) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	if len(insts) == 0 {
		return m.RemoveCurrent()
	}

	old := m.seq.At(m.pos)

	replacement := make([]isa.Instruction, len(insts))
	for i, inst := range insts {
		replacement[i] = inst.Clone()
	}

	last := len(replacement) - 1

	var begins []isa.ExceptionBlock
	for _, b := range old.Blocks {
		if b.Type == isa.EndTry {
			replacement[last].Blocks = append(replacement[last].Blocks, b)
		} else {
			begins = append(begins, b)
		}
	}

	replacement[0].Blocks = append(begins, replacement[0].Blocks...)

	if err := m.seq.Insert(m.pos+1, replacement...); err != nil {
		return err
	}

	if err := m.seq.MoveLabels(m.pos, m.pos+1); err != nil {
		return err
	}

	if _, err := m.seq.Remove(m.pos); err != nil {
		return err
	}

	return m.moveToErr(m.pos + last)
}

// Insert places instructions before the cursor; the cursor ends on the
// first inserted instruction.
func (m *Matcher) Insert(insts ...isa.Instruction) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	return m.seq.Insert(m.pos, insts...)
}

// InsertAndAdvance places instructions before the cursor and keeps the
// cursor on the instruction it was on. Labels stay with that instruction.
func (m *Matcher) InsertAndAdvance(insts ...isa.Instruction) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	if err := m.seq.Insert(m.pos, insts...); err != nil {
		return err
	}

	return m.moveToErr(m.pos + len(insts))
}

// InsertAfter places instructions after the cursor and moves the cursor to
// the last of them.
func (m *Matcher) InsertAfter(insts ...isa.Instruction) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	if err := m.seq.Insert(m.pos+1, insts...); err != nil {
		return err
	}

	return m.moveToErr(m.pos + len(insts))
}

// Set overwrites opcode and operand under the cursor, keeping labels and
// region markers.
func (m *Matcher) Set(op isa.Opcode, operand isa.Operand) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	return m.seq.Set(m.pos, op, operand)
}

// SetOperand overwrites the operand under the cursor.
func (m *Matcher) SetOperand(operand isa.Operand) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	return m.seq.SetOperand(m.pos, operand)
}

// AddLabel binds an existing label of the sequence to the instruction under
// the cursor.
func (m *Matcher) AddLabel(l isa.Label) error {
	if !m.valid {
		return ErrInvalidCursor
	}

	return m.seq.BindLabel(m.pos, l)
}

// CreateLabel mints a label and binds it under the cursor.
func (m *Matcher) CreateLabel() (isa.Label, error) {
	if !m.valid {
		return isa.Label{}, ErrInvalidCursor
	}

	l := m.seq.DefineLabel()
	if err := m.seq.BindLabel(m.pos, l); err != nil {
		return isa.Label{}, err
	}

	return l, nil
}

// Instructions materialises the edited sequence for an encoder.
func (m *Matcher) Instructions() []isa.Instruction {
	return m.seq.Instructions()
}

func (m *Matcher) checkSearch(matches []Match) error {
	if len(matches) == 0 {
		return ErrNoMatches
	}

	if !m.valid {
		return ErrInvalidCursor
	}

	return nil
}

func (m *Matcher) scanForward(from int, matches []Match) (int, bool) {
	if from < 0 {
		from = 0
	}

	for start := from; start+len(matches) <= m.seq.Len(); start++ {
		if m.matchAt(start, matches) {
			return start, true
		}
	}

	return -1, false
}

func (m *Matcher) matchAt(start int, matches []Match) bool {
	if start < 0 || start+len(matches) > m.seq.Len() {
		return false
	}

	for k, match := range matches {
		if !match.Matches(m.seq.At(start + k)) {
			return false
		}
	}

	return true
}

func (m *Matcher) accept(start int, matches []Match) {
	m.named = make(map[string]isa.Instruction)
	for k, match := range matches {
		if match.Name != "" {
			m.named[match.Name] = m.seq.At(start + k)
		}
	}

	m.moveTo(start+len(matches)-1, "")
}

func (m *Matcher) fail(reason string) {
	m.valid = false
	m.lastError = reason
}

func (m *Matcher) moveTo(pos int, reason string) *Matcher {
	if pos < 0 || pos >= m.seq.Len() {
		m.fail(reason)
		return m
	}

	m.pos = pos
	m.valid = true
	m.lastValid = pos
	m.lastError = ""

	return m
}

func (m *Matcher) moveToErr(pos int) error {
	m.moveTo(pos, "edit left the cursor outside the sequence")
	if !m.valid {
		return ErrInvalidCursor
	}

	return nil
}
