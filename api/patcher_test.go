package api

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/splice/compose"
	"github.com/sarchlab/splice/fragment"
	"github.com/sarchlab/splice/registry"
)

var _ = Describe("Patcher with a registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.MakeBuilder().Build()
		Expect(reg.Declare(compose.Target{
			Name: "Greeter.Greet",
			Signature: compose.Signature{
				Params: []compose.Parameter{{Name: "who", Type: "string"}},
				Result: "string",
			},
			Invoke: func(args []any) (any, error) { return args[0], nil },
		})).To(Succeed())
	})

	It("should compose the fragments of several owners", func() {
		upper := MakePatcherBuilder().WithRegistry(reg).Build("upper")
		hello := MakePatcherBuilder().WithRegistry(reg).Build("hello")

		hello.Postfix("Greeter.Greet", func(c fragment.Call) (any, error) {
			return "Hello " + c.Result().(string), nil
		}, WithShape(fragment.PassThrough("string")), WithAfter("upper"))

		upper.Postfix("Greeter.Greet", func(c fragment.Call) (any, error) {
			return strings.ToUpper(c.Result().(string)), nil
		}, WithShape(fragment.PassThrough("string")))

		Expect(hello.Apply()).To(Succeed())
		Expect(upper.Apply()).To(Succeed())

		result, err := reg.Invoke("Greeter.Greet", "foo")
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("Hello FOO"))

		Expect(upper.HasPatches()).To(BeTrue())

		_, err = upper.UnpatchAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(upper.HasPatches()).To(BeFalse())

		result, _ = reg.Invoke("Greeter.Greet", "foo")
		Expect(result).To(Equal("Hello foo"))
	})
})
