package registry_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/isa"
	"github.com/sarchlab/splice/matcher"
	"github.com/sarchlab/splice/registry"
	"github.com/sarchlab/splice/verify"
)

func greeter(name string) compose.Target {
	return compose.Target{
		Name: name,
		Signature: compose.Signature{
			Params: []compose.Parameter{{Name: "who", Type: "string"}},
			Result: "string",
		},
		Invoke: func(args []any) (any, error) {
			return args[0].(string), nil
		},
	}
}

func shout(owner string) fragment.Fragment {
	f := fragment.New(fragment.Postfix, owner, func(c fragment.Call) (any, error) {
		return strings.ToUpper(c.Result().(string)), nil
	})
	f.Shape = fragment.PassThrough("string")

	return f
}

func greet(owner string) fragment.Fragment {
	f := fragment.New(fragment.Postfix, owner, func(c fragment.Call) (any, error) {
		return "Hello " + c.Result().(string), nil
	})
	f.Shape = fragment.PassThrough("string")

	return f
}

var _ = Describe("Registry", func() {
	var (
		reg  *registry.Registry
		prom *prometheus.Registry
		rec  *recorder
	)

	BeforeEach(func() {
		prom = prometheus.NewRegistry()
		rec = &recorder{}
		reg = registry.MakeBuilder().WithRegisterer(prom).Build()
		reg.AcceptHook(rec)

		Expect(reg.Declare(greeter("Greeter.Greet"))).To(Succeed())
	})

	It("should install a pass-through plan for declared targets", func() {
		result, err := reg.Invoke("Greeter.Greet", "foo")
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("foo"))

		plan, ok := reg.Plan("Greeter.Greet")
		Expect(ok).To(BeTrue())
		Expect(plan.Fragments()).To(Equal(0))
		Expect(rec.positions()).To(Equal([]string{"Plan Installed"}))
	})

	It("should refuse unknown and duplicate targets", func() {
		Expect(errors.Is(reg.Declare(greeter("Greeter.Greet")), registry.ErrDuplicateTarget)).To(BeTrue())

		_, err := reg.Patch("Nope", shout("a"))
		Expect(errors.Is(err, registry.ErrUnknownTarget)).To(BeTrue())

		_, err = reg.Invoke("Nope")
		Expect(errors.Is(err, registry.ErrUnknownTarget)).To(BeTrue())

		_, ok := reg.Plan("Nope")
		Expect(ok).To(BeFalse())
	})

	It("should recompose on every patch", func() {
		up := shout("shouter")
		up.Priority = fragment.Last
		hello := greet("greeter")

		added, err := reg.Patch("Greeter.Greet", hello, up)
		Expect(err).NotTo(HaveOccurred())
		Expect(added[0].Index).To(Equal(0))
		Expect(added[1].Index).To(Equal(1))

		result, err := reg.Invoke("Greeter.Greet", "foo")
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("Hello FOO"))

		Expect(reg.Owners()).To(Equal([]string{"greeter", "shouter"}))
		Expect(reg.HasPatches("greeter")).To(BeTrue())
		Expect(reg.HasPatches("other")).To(BeFalse())
	})

	It("should keep the previous plan when a patch cannot be composed", func() {
		_, err := reg.Patch("Greeter.Greet", greet("a"))
		Expect(err).NotTo(HaveOccurred())
		before, _ := reg.Plan("Greeter.Greet")

		x := shout("x")
		x.Before = []string{"y"}
		y := shout("y")
		y.Before = []string{"x"}

		_, err = reg.Patch("Greeter.Greet", x, y)

		var conflict *fragment.OrderingConflict
		Expect(errors.As(err, &conflict)).To(BeTrue())
		Expect(conflict.Owners).To(Equal([]string{"x", "y"}))

		after, _ := reg.Plan("Greeter.Greet")
		Expect(after.ID).To(Equal(before.ID))

		snap, err := reg.Fragments("Greeter.Greet")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Group(fragment.Postfix)).To(HaveLen(1))

		Expect(rec.positions()).To(Equal([]string{
			"Plan Installed", "Plan Installed", "Plan Rejected",
		}))

		added, err := reg.Patch("Greeter.Greet", shout("z"))
		Expect(err).NotTo(HaveOccurred())
		Expect(added[0].Index).To(Equal(1))
	})

	It("should not patch a target whose declaration failed", func() {
		var compiles atomic.Int32

		flaky := greeter("Greeter.Flaky")
		flaky.Invoke = nil
		flaky.Body = isa.MustParse("ldarg 0\nret")
		flaky.Compile = func(*isa.Sequence) (compose.BodyFunc, error) {
			if compiles.Add(1) == 1 {
				return nil, errors.New("compiler not ready")
			}

			return func(args []any) (any, error) { return args[0], nil }, nil
		}

		patched := make(chan error, 1)
		reg.AcceptHook(hookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos != registry.HookPosPlanRejected {
				return
			}

			go func() {
				_, err := reg.Patch("Greeter.Flaky", greet("late"))
				patched <- err
			}()

			// Let the patch reach the target lock before the entry is dropped.
			time.Sleep(50 * time.Millisecond)
		}))

		Expect(reg.Declare(flaky)).NotTo(Succeed())

		var err error
		Eventually(patched).Should(Receive(&err))
		Expect(errors.Is(err, registry.ErrUnknownTarget)).To(BeTrue())

		_, ok := reg.Plan("Greeter.Flaky")
		Expect(ok).To(BeFalse())
		Expect(reg.Targets()).To(Equal([]string{"Greeter.Greet"}))
	})

	It("should reject invalid fragments without touching the set", func() {
		_, err := reg.Patch("Greeter.Greet", greet("a"), fragment.Fragment{Kind: fragment.Prefix})
		Expect(err).To(HaveOccurred())

		snap, _ := reg.Fragments("Greeter.Greet")
		Expect(snap.Empty()).To(BeTrue())
	})

	It("should unpatch by owner and by any owner", func() {
		_, err := reg.Patch("Greeter.Greet", greet("a"), shout("b"), greet("b"))
		Expect(err).NotTo(HaveOccurred())

		n, err := reg.Unpatch("Greeter.Greet", "b", fragment.Postfix)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		result, _ := reg.Invoke("Greeter.Greet", "foo")
		Expect(result).To(Equal("Hello foo"))

		n, err = reg.Unpatch("Greeter.Greet", fragment.AnyOwner, fragment.Postfix)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		n, err = reg.Unpatch("Greeter.Greet", fragment.AnyOwner, fragment.Postfix)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))

		result, _ = reg.Invoke("Greeter.Greet", "foo")
		Expect(result).To(Equal("foo"))
	})

	It("should unpatch an owner from every target", func() {
		Expect(reg.Declare(greeter("Greeter.Wave"))).To(Succeed())

		_, err := reg.Patch("Greeter.Greet", greet("a"), shout("b"))
		Expect(err).NotTo(HaveOccurred())
		_, err = reg.Patch("Greeter.Wave", greet("a"))
		Expect(err).NotTo(HaveOccurred())

		n, err := reg.UnpatchOwner("a")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(reg.Owners()).To(Equal([]string{"b"}))
		Expect(reg.Targets()).To(Equal([]string{"Greeter.Greet", "Greeter.Wave"}))
	})

	It("should attach routine hooks to every installed routine", func() {
		calls := &recorder{}
		reg = registry.MakeBuilder().WithRoutineHook(calls).Build()
		Expect(reg.Declare(greeter("Greeter.Greet"))).To(Succeed())

		_, err := reg.Patch("Greeter.Greet", greet("a"))
		Expect(err).NotTo(HaveOccurred())

		_, err = reg.Invoke("Greeter.Greet", "foo")
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.positions()).To(Equal([]string{"Body", "Postfix", "Deliver"}))
	})

	It("should count builds and fragments", func() {
		_, err := reg.Patch("Greeter.Greet", greet("a"), greet("b"))
		Expect(err).NotTo(HaveOccurred())

		bad := greet("c")
		bad.Shape = fragment.PassThrough("int")
		_, err = reg.Patch("Greeter.Greet", bad)
		Expect(err).To(HaveOccurred())

		expected := `
# HELP splice_plan_builds_total Plan builds per target, by result.
# TYPE splice_plan_builds_total counter
splice_plan_builds_total{result="installed",target="Greeter.Greet"} 2
splice_plan_builds_total{result="rejected",target="Greeter.Greet"} 1
# HELP splice_fragments Fragments registered per target and kind.
# TYPE splice_fragments gauge
splice_fragments{kind="finalizer",target="Greeter.Greet"} 0
splice_fragments{kind="postfix",target="Greeter.Greet"} 2
splice_fragments{kind="prefix",target="Greeter.Greet"} 0
splice_fragments{kind="replace",target="Greeter.Greet"} 0
`
		Expect(testutil.GatherAndCompare(prom, strings.NewReader(expected),
			"splice_plan_builds_total", "splice_fragments")).To(Succeed())
	})

	It("should rebuild every target", func() {
		for i := 0; i < 8; i++ {
			Expect(reg.Declare(greeter(fmt.Sprintf("T%d", i)))).To(Succeed())
		}

		before, _ := reg.Plan("T3")
		Expect(reg.RebuildAll(context.Background())).To(Succeed())

		after, _ := reg.Plan("T3")
		Expect(after.ID).NotTo(Equal(before.ID))
	})

	It("should stop rebuilding when the context is done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(errors.Is(reg.RebuildAll(ctx), context.Canceled)).To(BeTrue())
	})

	It("should serve invocations while patches land", func() {
		var wg sync.WaitGroup

		stop := make(chan struct{})
		seen := make(chan any, 1024)

		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				for {
					select {
					case <-stop:
						return
					default:
					}

					plan, routine, ok := reg.Installed("Greeter.Greet")
					Expect(ok).To(BeTrue())
					Expect(routine.Plan()).To(BeIdenticalTo(plan))

					result, err := reg.Invoke("Greeter.Greet", "foo")
					Expect(err).NotTo(HaveOccurred())

					select {
					case seen <- result:
					default:
					}
				}
			}()
		}

		for i := 0; i < 20; i++ {
			_, err := reg.Patch("Greeter.Greet", greet(fmt.Sprintf("o%d", i)))
			Expect(err).NotTo(HaveOccurred())
		}

		close(stop)
		wg.Wait()
		close(seen)

		for result := range seen {
			Expect(result).To(HaveSuffix("foo"))
		}
	})

	Context("when reverse patching", func() {
		const name = "Greeter.Hello"

		salutation := func(text string) fragment.TranspileFunc {
			return matcher.Manipulator(matcher.Op(isa.Ldstr), func(inst *isa.Instruction) {
				inst.Operand = isa.StringOperand(text)
			})
		}

		run := func(body compose.BodyFunc) any {
			result, err := body([]any{"bob"})
			Expect(err).NotTo(HaveOccurred())
			return result
		}

		BeforeEach(func() {
			target := greeter(name)
			target.Invoke = nil
			target.Body = isa.MustParse(`
				ldstr "Hello "
				ldarg 0
				add
				ret
			`)
			target.Compile = verify.Compile(nil)
			Expect(reg.Declare(target)).To(Succeed())

			_, err := reg.Patch(name, shout("loud"), fragment.NewTranspiler("hi", salutation("Hi ")))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should run the declared body without installed fragments", func() {
			body, err := reg.ReversePatch(name, registry.ReverseOriginal)
			Expect(err).NotTo(HaveOccurred())
			Expect(run(body)).To(Equal("Hello bob"))

			result, err := reg.Invoke(name, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("HI BOB"))
		})

		It("should start a snapshot from the installed transpilers", func() {
			body, err := reg.ReversePatch(name, registry.ReverseSnapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(run(body)).To(Equal("Hi bob"))
		})

		It("should run its own transpilers after the installed ones", func() {
			body, err := reg.ReversePatch(name, registry.ReverseSnapshot, salutation("Bye "))
			Expect(err).NotTo(HaveOccurred())
			Expect(run(body)).To(Equal("Bye bob"))

			plan, _ := reg.Plan(name)
			Expect(plan.Transpilers).To(HaveLen(1))
		})

		It("should refuse targets without a decoded body", func() {
			_, err := reg.ReversePatch("Greeter.Greet", registry.ReverseOriginal, salutation("Yo "))
			Expect(errors.Is(err, compose.ErrNoBody)).To(BeTrue())

			_, err = reg.ReversePatch("Nope", registry.ReverseOriginal)
			Expect(errors.Is(err, registry.ErrUnknownTarget)).To(BeTrue())
		})
	})
})
