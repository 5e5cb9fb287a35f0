package api

import (
	"go.uber.org/zap"

	"github.com/sarchlab/splice/fragment"
)

// PatcherBuilder creates a new instance of Patcher.
type PatcherBuilder struct {
	registry Registry
	log      *zap.Logger
}

// MakePatcherBuilder creates a builder with a no-op logger.
func MakePatcherBuilder() PatcherBuilder {
	return PatcherBuilder{log: zap.NewNop()}
}

// WithRegistry sets the registry the patcher applies to.
func (b PatcherBuilder) WithRegistry(registry Registry) PatcherBuilder {
	b.registry = registry
	return b
}

// WithLogger sets the logger.
func (b PatcherBuilder) WithLogger(log *zap.Logger) PatcherBuilder {
	b.log = log
	return b
}

// Build creates a patcher for one owner.
func (b PatcherBuilder) Build(owner string) Patcher {
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	return &patcherImpl{
		owner:    owner,
		registry: b.registry,
		log:      log.Named("api"),
		applied:  make(map[string][]fragment.Fragment),
	}
}
