package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/akita/v4/sim"
	"go.uber.org/zap"

	"github.com/sarchlab/splice/compose"
)

// Builder creates registries.
type Builder struct {
	log          *zap.Logger
	registerer   prometheus.Registerer
	routineHooks []sim.Hook
	parallelism  int
}

// MakeBuilder creates a builder with a no-op logger and no metrics
// registerer.
func MakeBuilder() Builder {
	return Builder{log: zap.NewNop()}
}

// WithLogger sets the logger.
func (b Builder) WithLogger(log *zap.Logger) Builder {
	b.log = log
	return b
}

// WithRegisterer sets where the registry metrics are registered.
func (b Builder) WithRegisterer(reg prometheus.Registerer) Builder {
	b.registerer = reg
	return b
}

// WithRoutineHook adds a hook to every routine the registry installs.
func (b Builder) WithRoutineHook(h sim.Hook) Builder {
	b.routineHooks = append(append([]sim.Hook(nil), b.routineHooks...), h)
	return b
}

// WithParallelism bounds how many targets RebuildAll builds at once. Zero
// means unbounded.
func (b Builder) WithParallelism(n int) Builder {
	b.parallelism = n
	return b
}

// Build creates the registry.
func (b Builder) Build() *Registry {
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	log = log.Named("registry")

	return &Registry{
		HookableBase: sim.NewHookableBase(),
		entries:      make(map[string]*entry),
		synth:        compose.MakeSynthesizerBuilder().WithLogger(log).Build(),
		log:          log,
		metrics:      newMetrics(b.registerer),
		routineHooks: b.routineHooks,
		parallelism:  b.parallelism,
	}
}
