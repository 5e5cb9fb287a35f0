package manifest

import (
	"fmt"
	"strings"

	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/isa"
	"github.com/sarchlab/splice/matcher"
)

// compiledRule is a Rule with its listing lines decoded.
type compiledRule struct {
	find    []matcher.Match
	replace []isa.Instruction
	expect  int
}

// Transpiler compiles rewrite rules into the code of a Replace fragment.
// Rules run in order, each over the whole body.
func Transpiler(rules []Rule) (fragment.TranspileFunc, error) {
	compiled := make([]compiledRule, 0, len(rules))

	for i, r := range rules {
		c, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		compiled = append(compiled, c)
	}

	return func(m *matcher.Matcher) error {
		for i, r := range compiled {
			m.Start()

			n, err := m.Repeat(r.apply, r.find...)
			if err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}

			if n == 0 || (r.expect > 0 && n != r.expect) {
				return fmt.Errorf("rule %d: rewrote %d occurrence(s) of %v", i, n, rules[i].Find)
			}
		}

		return nil
	}, nil
}

// apply replaces the occurrence that ends at the cursor.
func (r compiledRule) apply(m *matcher.Matcher) error {
	m.Advance(1 - len(r.find))

	for i := 1; i < len(r.find); i++ {
		if err := m.RemoveCurrent(); err != nil {
			return err
		}
	}

	return m.Replace(r.replace...)
}

func compileRule(r Rule) (compiledRule, error) {
	c := compiledRule{expect: r.Expect}

	for _, line := range r.Find {
		match, err := compileMatch(line)
		if err != nil {
			return c, err
		}

		c.find = append(c.find, match)
	}

	for _, line := range r.Replace {
		inst, err := parseLine(line)
		if err != nil {
			return c, err
		}

		if _, ok := inst.BranchTarget(); ok {
			return c, fmt.Errorf("replacement %q: branches cannot be introduced by a rule", line)
		}

		c.replace = append(c.replace, inst)
	}

	return c, nil
}

func compileMatch(line string) (matcher.Match, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return matcher.Match{}, fmt.Errorf("empty find line")
	}

	op := isa.Opcode(fields[0])
	if _, ok := isa.Default.Lookup(op); !ok {
		return matcher.Match{}, fmt.Errorf("%w: %q", isa.ErrUnknownOpcode, fields[0])
	}

	if len(fields) == 1 || (len(fields) == 2 && fields[1] == "*") {
		return matcher.Op(op), nil
	}

	inst, err := parseLine(line)
	if err != nil {
		return matcher.Match{}, err
	}

	if _, ok := inst.BranchTarget(); ok {
		return matcher.Op(op), nil
	}

	return matcher.OpOperand(inst.Opcode, inst.Operand), nil
}

func parseLine(line string) (isa.Instruction, error) {
	seq, err := isa.Parse(line, nil)
	if err != nil {
		return isa.Instruction{}, err
	}

	if seq.Len() != 1 {
		return isa.Instruction{}, fmt.Errorf("%q is not a single instruction", line)
	}

	inst := seq.At(0)
	if len(inst.Labels) > 0 {
		return isa.Instruction{}, fmt.Errorf("%q: labels are not allowed in rules", line)
	}

	return inst, nil
}
