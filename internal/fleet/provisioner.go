package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/store"
)

// Provisioner prepares and commits fleet descriptors against a store.
type Provisioner struct {
	store   store.MachineStore
	fetcher Fetcher
	now     func() time.Time
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) {
		p.now = now
	}
}

// New creates a Provisioner. fetcher may be nil when only Prepare and
// Commit are used.
func New(st store.MachineStore, fetcher Fetcher, opts ...Option) *Provisioner {
	p := &Provisioner{store: st, fetcher: fetcher, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load fetches and decodes the descriptor at location.
// A Provisioner built without a fetcher returns a CodeInternal error.
func (p *Provisioner) Load(ctx context.Context, location string) (*Descriptor, error) {
	if p.fetcher == nil {
		return nil, model.NewError(model.CodeInternal, "no descriptor fetcher configured")
	}
	raw, err := p.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	return DecodeDescriptor(raw)
}

// Provision runs fetch, validate, prepare and commit for one descriptor.
func (p *Provisioner) Provision(ctx context.Context, location string) (*CommitResult, error) {
	desc, err := p.Load(ctx, location)
	if err != nil {
		slog.Warn("fleet descriptor rejected", "location", location, "error", err)
		return nil, err
	}

	plan, err := p.Prepare(ctx, desc)
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		slog.Warn("fleet import warning", "fleet", plan.FleetName, "warning", w)
	}

	return p.Commit(ctx, plan)
}
