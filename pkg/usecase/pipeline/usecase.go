package pipeline

import (
	"time"

	"github.com/m-mizutani/prism/pkg/adapter"
	"github.com/m-mizutani/prism/pkg/repository"
	"github.com/m-mizutani/prism/pkg/usecase/allocation"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
)

// UseCase provides session and pipeline operations
type UseCase struct {
	repo      repository.Repository
	generator *perspective.Generator
	allocator *allocation.Allocator
	registry  *Registry

	storage adapter.Storage
	debate  adapter.Debate
	now     func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithAllocator replaces the default allocator
func WithAllocator(a *allocation.Allocator) Option {
	return func(uc *UseCase) {
		uc.allocator = a
	}
}

// WithStorage archives every final allocation to storage
func WithStorage(s adapter.Storage) Option {
	return func(uc *UseCase) {
		uc.storage = s
	}
}

// WithDebate enables the downstream hand-off of runs started with send_downstream
func WithDebate(d adapter.Debate) Option {
	return func(uc *UseCase) {
		uc.debate = d
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new pipeline UseCase instance
func New(
	repo repository.Repository,
	generator *perspective.Generator,
	registry *Registry,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		repo:      repo,
		generator: generator,
		allocator: allocation.New(),
		registry:  registry,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Registry returns the job registry shared by the use case
func (u *UseCase) Registry() *Registry {
	return u.registry
}
