package compose

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/fragment"
)

// Reverse builds a plan that runs the body of target rewritten by the
// transpilers in the order given, with no prefix, postfix or finalizer
// around it. Fragments registered against the target play no part unless
// they are passed in.
func (s *Synthesizer) Reverse(target Target, transpilers ...fragment.Fragment) (*Plan, error) {
	for _, f := range transpilers {
		if f.Kind != fragment.Replace {
			return nil, fmt.Errorf("reverse %s: %s is not a transpiler", target.Name, f.ID())
		}

		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		ID:          uuid.New(),
		Target:      target.Name,
		Signature:   target.Signature,
		Transpilers: transpilers,
	}

	if err := s.transpile(target, plan); err != nil {
		return nil, err
	}

	if plan.Invoke == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, target.Name)
	}

	plan.buildSteps()

	s.log.Debug("reverse plan synthesized",
		zap.String("target", plan.Target),
		zap.Stringer("plan", plan.ID),
		zap.Int("transpilers", len(plan.Transpilers)))

	return plan, nil
}
