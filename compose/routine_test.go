package compose_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
)

type outerError struct {
	inner error
}

func (e *outerError) Error() string { return "Outer: " + e.inner.Error() }
func (e *outerError) Unwrap() error { return e.inner }

func intToString() compose.Signature {
	return compose.Signature{
		Params: []compose.Parameter{{Name: "n", Type: "int"}},
		Result: "string",
	}
}

func routineFor(target compose.Target, fragments ...fragment.Fragment) *compose.Routine {
	set := fragment.NewSet(target.Name)
	for _, f := range fragments {
		_, err := set.Add(f)
		Expect(err).NotTo(HaveOccurred())
	}

	plan, err := compose.MakeSynthesizerBuilder().Build().Synthesize(target, set.Snapshot())
	Expect(err).NotTo(HaveOccurred())

	routine, err := compose.NewRoutine(plan, nil)
	Expect(err).NotTo(HaveOccurred())

	return routine
}

func withShape(f fragment.Fragment, s fragment.Shape) fragment.Fragment {
	f.Shape = s
	return f
}

var _ = Describe("Routine", func() {
	var (
		calls  []string
		target compose.Target
		rec    *recorder
	)

	record := func(name string) {
		calls = append(calls, name)
	}

	BeforeEach(func() {
		calls = nil
		rec = &recorder{}
		target = compose.Target{
			Name:      "Greeter.Greet",
			Signature: intToString(),
			Invoke: func(args []any) (any, error) {
				record("body")
				return "foo", nil
			},
		}
	})

	It("should run the body between prefixes and postfixes", func() {
		r := routineFor(target,
			fragment.New(fragment.Prefix, "a", func(fragment.Call) (any, error) {
				record("prefix")
				return nil, nil
			}),
			fragment.New(fragment.Postfix, "a", func(c fragment.Call) (any, error) {
				record(fmt.Sprintf("postfix sees %v", c.Result()))
				return nil, nil
			}),
		)

		result, err := r.Invoke(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("foo"))
		Expect(calls).To(Equal([]string{"prefix", "body", "postfix sees foo"}))
	})

	It("should stop at a gating prefix and deliver the result it wrote", func() {
		gate := withShape(fragment.New(fragment.Prefix, "gate", func(c fragment.Call) (any, error) {
			record("gate")
			return false, c.SetResult("X")
		}), fragment.Gate(fragment.ResultRef()))
		gate.Priority = fragment.High

		r := routineFor(target,
			gate,
			fragment.New(fragment.Prefix, "later", func(fragment.Call) (any, error) {
				record("later prefix")
				return nil, nil
			}),
			fragment.New(fragment.Postfix, "post", func(fragment.Call) (any, error) {
				record("postfix")
				return nil, nil
			}),
		)
		r.AcceptHook(rec)

		result, err := r.Invoke(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("X"))
		Expect(calls).To(Equal([]string{"gate"}))
		Expect(rec.positions()).To(Equal([]string{"Prefix", "Skip", "Deliver"}))
	})

	It("should continue when the gate says so", func() {
		r := routineFor(target,
			withShape(fragment.New(fragment.Prefix, "gate", func(fragment.Call) (any, error) {
				return true, nil
			}), fragment.Gate()),
		)

		result, err := r.Invoke(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("foo"))
	})

	It("should compose void postfixes before pass-through postfixes", func() {
		upper := withShape(fragment.New(fragment.Postfix, "upper", func(c fragment.Call) (any, error) {
			return nil, c.SetResult(strings.ToUpper(c.Result().(string)))
		}), fragment.Void(fragment.ResultRef()))

		hello := withShape(fragment.New(fragment.Postfix, "hello", func(c fragment.Call) (any, error) {
			return "Hello " + c.Result().(string), nil
		}), fragment.PassThrough("string"))

		r := routineFor(target, upper, hello)
		result, err := r.Invoke(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("Hello FOO"))

		hello.Priority = fragment.Last
		r = routineFor(target, hello, upper)
		result, err = r.Invoke(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("Hello FOO"))
	})

	It("should let prefixes rewrite declared arguments", func() {
		target.Invoke = func(args []any) (any, error) {
			return fmt.Sprint(args[0]), nil
		}

		r := routineFor(target,
			withShape(fragment.New(fragment.Prefix, "double", func(c fragment.Call) (any, error) {
				return nil, c.SetArg(0, c.Arg(0).(int)*2)
			}), fragment.Void(fragment.ArgRef(0))),
		)

		result, err := r.Invoke(21)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("42"))
	})

	It("should refuse writes to undeclared parameters", func() {
		r := routineFor(target,
			fragment.New(fragment.Postfix, "sneaky", func(c fragment.Call) (any, error) {
				return nil, c.SetResult("changed")
			}),
		)

		_, err := r.Invoke(1)
		Expect(errors.Is(err, fragment.ErrUndeclared)).To(BeTrue())
	})

	It("should share state between the fragments of one owner", func() {
		r := routineFor(target,
			withShape(fragment.New(fragment.Prefix, "timer", func(c fragment.Call) (any, error) {
				return nil, c.SetState("started")
			}), fragment.Void(fragment.State())),
			withShape(fragment.New(fragment.Postfix, "timer", func(c fragment.Call) (any, error) {
				return nil, c.SetResult(fmt.Sprintf("%v/%v", c.Result(), c.State()))
			}), fragment.Void(fragment.State(), fragment.ResultRef())),
			fragment.New(fragment.Postfix, "other", func(c fragment.Call) (any, error) {
				record(fmt.Sprint(c.State()))
				return nil, nil
			}),
		)

		result, err := r.Invoke(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("foo/started"))
		Expect(calls).To(ContainElement("<nil>"))
	})

	It("should reject the wrong number of arguments", func() {
		r := routineFor(target)

		_, err := r.Invoke()
		var arity *compose.ArityError
		Expect(errors.As(err, &arity)).To(BeTrue())
		Expect(arity.Want).To(Equal(1))
	})

	It("should turn panics into exceptions", func() {
		target.Invoke = func([]any) (any, error) {
			panic("boom")
		}

		_, err := routineFor(target).Invoke(1)
		var p *compose.PanicError
		Expect(errors.As(err, &p)).To(BeTrue())
		Expect(p.Source).To(Equal("Greeter.Greet"))
	})

	It("should be safe for concurrent invocation", func() {
		target.Invoke = func(args []any) (any, error) {
			return fmt.Sprint(args[0]), nil
		}

		r := routineFor(target,
			withShape(fragment.New(fragment.Postfix, "bang", func(c fragment.Call) (any, error) {
				return c.Result().(string) + "!", nil
			}), fragment.PassThrough("string")),
		)

		var wg sync.WaitGroup
		results := make([]any, 64)

		for i := range results {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()
				results[i], _ = r.Invoke(i)
			}(i)
		}

		wg.Wait()

		for i, result := range results {
			Expect(result).To(Equal(fmt.Sprintf("%d!", i)))
		}
	})

	Context("with finalizers", func() {
		var bodyErr error

		BeforeEach(func() {
			bodyErr = errors.New("E")
		})

		wrap := func() fragment.Fragment {
			f := fragment.New(fragment.Finalizer, "wrap", func(c fragment.Call) (any, error) {
				record(fmt.Sprintf("wrap(%v)", c.Exception()))
				if c.Exception() == nil {
					return nil, nil
				}

				return &outerError{inner: c.Exception()}, nil
			})
			f.Shape = fragment.ExceptionReturning()
			f.Priority = fragment.High

			return f
		}

		logOnly := func() fragment.Fragment {
			return withShape(fragment.New(fragment.Finalizer, "log", func(c fragment.Call) (any, error) {
				record(fmt.Sprintf("log(%v)", c.Exception()))
				return nil, nil
			}), fragment.Void(fragment.Exception()))
		}

		It("should wrap the body exception and raise it", func() {
			target.Invoke = func([]any) (any, error) {
				return nil, bodyErr
			}

			_, err := routineFor(target, wrap(), logOnly()).Invoke(1)

			var outer *outerError
			Expect(errors.As(err, &outer)).To(BeTrue())
			Expect(errors.Is(err, bodyErr)).To(BeTrue())
			Expect(calls).To(Equal([]string{"wrap(E)", "log(Outer: E)"}))
		})

		It("should rethrow the original exception when every finalizer is void", func() {
			target.Invoke = func([]any) (any, error) {
				return nil, bodyErr
			}

			_, err := routineFor(target, logOnly()).Invoke(1)
			Expect(err).To(BeIdenticalTo(bodyErr))
			Expect(calls).To(Equal([]string{"log(E)"}))
		})

		It("should deliver the result when a finalizer clears the exception", func() {
			target.Invoke = func([]any) (any, error) {
				return nil, bodyErr
			}

			swallow := withShape(fragment.New(fragment.Finalizer, "swallow", func(c fragment.Call) (any, error) {
				return nil, c.SetResult("recovered")
			}), fragment.ExceptionReturning(fragment.ResultRef()))

			result, err := routineFor(target, swallow).Invoke(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("recovered"))
		})

		It("should run every finalizer once with no exception", func() {
			result, err := routineFor(target, wrap(), logOnly()).Invoke(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("foo"))
			Expect(calls).To(Equal([]string{"body", "wrap(<nil>)", "log(<nil>)"}))
		})

		It("should restart the chain on the exception path when a finalizer fails", func() {
			failure := errors.New("finalizer failed")

			first := withShape(fragment.New(fragment.Finalizer, "first", func(c fragment.Call) (any, error) {
				record(fmt.Sprintf("first(%v)", c.Exception()))
				return nil, nil
			}), fragment.Void(fragment.Exception()))
			first.Priority = fragment.High

			flaky := withShape(fragment.New(fragment.Finalizer, "flaky", func(c fragment.Call) (any, error) {
				record(fmt.Sprintf("flaky(%v)", c.Exception()))
				if c.Exception() == nil {
					return nil, failure
				}
				return nil, nil
			}), fragment.Void(fragment.Exception()))

			r := routineFor(target, first, flaky)
			r.AcceptHook(rec)

			_, err := r.Invoke(1)
			Expect(err).To(BeIdenticalTo(failure))
			Expect(calls).To(Equal([]string{
				"body",
				"first(<nil>)", "flaky(<nil>)",
				"first(finalizer failed)", "flaky(finalizer failed)",
			}))
			Expect(rec.positions()).To(HaveExactElements(
				"Body", "Finalizer", "Finalizer", "Finalizer", "Finalizer", "Raise"))
		})

		It("should keep going when a finalizer fails on the exception path", func() {
			target.Invoke = func([]any) (any, error) {
				return nil, bodyErr
			}

			broken := withShape(fragment.New(fragment.Finalizer, "broken", func(fragment.Call) (any, error) {
				panic("secondary")
			}), fragment.Void())
			broken.Priority = fragment.High

			r := routineFor(target, broken, logOnly())
			r.AcceptHook(rec)

			_, err := r.Invoke(1)
			Expect(err).To(BeIdenticalTo(bodyErr))
			Expect(calls).To(Equal([]string{"log(E)"}))
			Expect(rec.positions()).To(ContainElement("Finalizer Failed"))
		})

		It("should raise an exception a finalizer creates on the first pass", func() {
			created := errors.New("created")

			raise := withShape(fragment.New(fragment.Finalizer, "raise", func(c fragment.Call) (any, error) {
				record("raise")
				return created, nil
			}), fragment.ExceptionReturning())

			_, err := routineFor(target, raise).Invoke(1)
			Expect(err).To(BeIdenticalTo(created))
			Expect(calls).To(Equal([]string{"body", "raise"}))
		})

		It("should guard prefixes as well", func() {
			r := routineFor(target,
				fragment.New(fragment.Prefix, "bad", func(fragment.Call) (any, error) {
					return nil, bodyErr
				}),
				logOnly(),
			)

			_, err := r.Invoke(1)
			Expect(err).To(BeIdenticalTo(bodyErr))
			Expect(calls).To(Equal([]string{"log(E)"}))
		})

		It("should run finalizers once after a gating stop", func() {
			r := routineFor(target,
				withShape(fragment.New(fragment.Prefix, "gate", func(c fragment.Call) (any, error) {
					return false, c.SetResult("X")
				}), fragment.Gate(fragment.ResultRef())),
				logOnly(),
			)

			result, err := r.Invoke(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("X"))
			Expect(calls).To(Equal([]string{"log(<nil>)"}))
		})
	})
})
