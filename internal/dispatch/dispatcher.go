package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fleetsync/internal/fleet"
	"github.com/roach88/fleetsync/internal/machinesync"
	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/refdata"
	"github.com/roach88/fleetsync/internal/route"
)

// Policy selects how links arriving during processing are handled.
type Policy string

const (
	// PolicySerialize queues every link in arrival order.
	PolicySerialize Policy = "serialize"
	// PolicyLatestWins keeps only the newest pending link.
	PolicyLatestWins Policy = "latest_wins"
)

// ParsePolicy validates a policy name. Empty selects PolicySerialize.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicySerialize:
		return PolicySerialize, nil
	case PolicyLatestWins:
		return PolicyLatestWins, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", s)
	}
}

// MachineSyncer is implemented by *machinesync.Synchronizer.
type MachineSyncer interface {
	LoadOrCreate(ctx context.Context, machineID, referenceURL string) (*machinesync.Result, error)
	Sync(ctx context.Context, res *machinesync.Result, onProgress refdata.ProgressFunc) (*machinesync.SyncResult, error)
}

// FleetProvisioner is implemented by *fleet.Provisioner.
type FleetProvisioner interface {
	Provision(ctx context.Context, location string) (*fleet.CommitResult, error)
}

// Outcome is the result of handling one navigation event.
type Outcome struct {
	Trace  string                  `json:"trace"`
	Seq    int64                   `json:"seq"`
	Route  route.Route             `json:"route"`
	Load   *machinesync.Result     `json:"load,omitempty"`
	Sync   *machinesync.SyncResult `json:"sync,omitempty"`
	Fleet  *fleet.CommitResult     `json:"fleet,omitempty"`
	Err    error                   `json:"-"`
	Code   model.Code              `json:"error_code,omitempty"`
	Reason string                  `json:"reason,omitempty"`
	Detail string                  `json:"error,omitempty"`
}

func (o *Outcome) fail(err error) {
	o.Err = err
	o.Code = model.CodeOf(err)
	o.Reason = fleet.ValidationCode(err)
	o.Detail = err.Error()
}

// Dispatcher is the single-writer navigation event loop.
//
// Thread-safety model:
//   - Navigate(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Handle(): must not run concurrently with Run or another Handle
type Dispatcher struct {
	resolver *route.Resolver
	machines MachineSyncer
	fleets   FleetProvisioner
	listener Listener
	policy   Policy
	queue    *navQueue
	clock    *Clock
	traces   TraceGenerator
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResolver sets the route resolver (default: DefaultBaseURL).
func WithResolver(r *route.Resolver) Option {
	return func(d *Dispatcher) {
		d.resolver = r
	}
}

// WithListener sets the listener (default: NopListener).
func WithListener(l Listener) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.listener = l
		}
	}
}

// WithPolicy sets the overlap policy (default: PolicySerialize).
func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithTraceGenerator sets the trace token generator (default: UUIDv7Generator).
func WithTraceGenerator(g TraceGenerator) Option {
	return func(d *Dispatcher) {
		d.traces = g
	}
}

// New creates a Dispatcher.
func New(machines MachineSyncer, fleets FleetProvisioner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: route.NewResolver(""),
		machines: machines,
		fleets:   fleets,
		listener: NopListener{},
		policy:   PolicySerialize,
		queue:    newNavQueue(),
		clock:    NewClock(),
		traces:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Navigate submits a link for processing by the Run loop.
// Returns false if the dispatcher has been stopped.
func (d *Dispatcher) Navigate(hash string) bool {
	nav := d.stamp(hash)

	if d.policy == PolicyLatestWins {
		dropped, ok := d.queue.Replace(nav)
		for _, n := range dropped {
			slog.Info("navigation superseded",
				"trace", n.Trace,
				"seq", n.Seq,
				"by_seq", nav.Seq,
			)
		}
		return ok
	}
	return d.queue.Enqueue(nav)
}

func (d *Dispatcher) stamp(hash string) Navigation {
	return Navigation{Hash: hash, Trace: d.traces.Generate(), Seq: d.clock.Next()}
}

// Run subscribes to src, processes events until ctx is cancelled or Stop
// is called, and unsubscribes before returning. A nil src processes only
// events submitted through Navigate.
//
// After Stop, events already queued are still processed.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	if src != nil {
		unsubscribe, err := src.Subscribe(func(hash string) { d.Navigate(hash) })
		if err != nil {
			return fmt.Errorf("subscribe to navigation events: %w", err)
		}
		defer unsubscribe()
	}

	slog.Info("dispatcher starting", "policy", d.policy)

	for {
		nav, ok := d.queue.TryDequeue()
		if ok {
			d.handle(ctx, nav)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// A stale signal can arrive with the queue empty; only a
			// closed queue ends the loop.
			if d.queue.Len() == 0 && d.queue.Closed() {
				slog.Info("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once pending events are handled.
func (d *Dispatcher) Stop() {
	d.queue.Close()
}

// Handle processes one link synchronously.
func (d *Dispatcher) Handle(ctx context.Context, hash string) *Outcome {
	return d.handle(ctx, d.stamp(hash))
}

func (d *Dispatcher) handle(ctx context.Context, nav Navigation) *Outcome {
	rt := d.resolver.Parse(nav.Hash)
	out := &Outcome{Trace: nav.Trace, Seq: nav.Seq, Route: rt}

	log := slog.With("trace", nav.Trace, "seq", nav.Seq, "route", rt.Type)

	if rt.Type == route.TypeUnknown {
		log.Debug("navigation ignored", "hash", nav.Hash)
		return out
	}
	d.listener.RouteChanged(rt)

	switch rt.Type {
	case route.TypeMachine:
		d.handleMachine(ctx, log, rt, out)
	case route.TypeFleet:
		d.handleFleet(ctx, log, rt, out)
	case route.TypeImport:
		log.Info("import requested", "url", rt.ImportURL)
		d.listener.ImportRequested(rt.ImportURL)
	}
	return out
}

func (d *Dispatcher) handleMachine(ctx context.Context, log *slog.Logger, rt route.Route, out *Outcome) {
	res, err := d.machines.LoadOrCreate(ctx, rt.MachineID, rt.ReferenceDataURL)
	if err != nil {
		log.Warn("machine load failed", "machine_id", rt.MachineID, "error", err)
		out.fail(err)
		d.listener.DownloadError(out.Code, out.Reason)
		return
	}
	out.Load = res

	log.Info("machine resolved",
		"machine_id", rt.MachineID,
		"created", res.Created,
		"action", res.Action(),
		"reason", res.Reason,
	)

	synced, err := d.machines.Sync(ctx, res, func(p refdata.Progress) {
		d.listener.DownloadProgress(p.Status, p.Percent)
	})
	if synced != nil {
		out.Sync = synced
	}
	if err != nil {
		out.fail(err)
		d.listener.DownloadError(out.Code, out.Reason)
	}

	// A failed download still leaves a valid machine to show.
	m := res.Machine
	if synced != nil && synced.Machine != nil {
		m = synced.Machine
	}
	d.listener.MachineReady(m)
}

func (d *Dispatcher) handleFleet(ctx context.Context, log *slog.Logger, rt route.Route, out *Outcome) {
	res, err := d.fleets.Provision(ctx, rt.FleetDataURL)
	if err != nil {
		log.Warn("fleet provisioning failed", "fleet_id", rt.FleetID, "error", err)
		out.fail(err)
		d.listener.DownloadError(out.Code, out.Reason)
		return
	}
	out.Fleet = res

	log.Info("fleet ready",
		"fleet_id", rt.FleetID,
		"fleet", res.FleetName,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	d.listener.FleetReady(res.FleetName, res.Members())
}
