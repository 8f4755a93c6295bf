package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/fleet"
	"github.com/roach88/fleetsync/internal/machinesync"
	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/refdata"
	"github.com/roach88/fleetsync/internal/route"
	"github.com/roach88/fleetsync/internal/testutil"
)

// ErrInjectedSave is returned by saves of machines listed in fail_save_on.
var ErrInjectedSave = errors.New("injected save failure")

// Harness holds the components wired for one scenario run.
type Harness struct {
	store      *testutil.MemoryStore
	clock      *testutil.StepClock
	remote     *httptest.Server
	recorder   *recorder
	dispatcher *dispatch.Dispatcher
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store and a fresh local
// remote. Steps are handled synchronously in order.
//
// Execution flow:
// 1. Start the remote and seed the store
// 2. Wire synchronizer, provisioner and dispatcher
// 3. Handle each step and check its expect clause
// 4. Snapshot the store and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.remote.Close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		seq := int64(i + 1)
		h.recorder.setSeq(seq)

		out := h.dispatcher.Handle(ctx, step.Link)
		if out.Seq != seq {
			return nil, fmt.Errorf("steps[%d]: dispatcher seq %d, want %d", i, out.Seq, seq)
		}

		outcome := summarize(out)
		result.Outcomes = append(result.Outcomes, outcome)
		for _, msg := range checkExpect(i, step.Expect, outcome) {
			result.AddError(msg)
		}
	}

	result.Trace = h.recorder.snapshot()

	machines, err := h.store.ListMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	for _, m := range machines {
		result.Machines = append(result.Machines, MachineSnapshot{
			ID:                     m.ID,
			Name:                   m.Name,
			FleetGroup:             m.FleetGroup,
			FleetReferenceSourceID: m.FleetReferenceSourceID,
			Models:                 len(m.ReferenceModels),
		})
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	policy, err := dispatch.ParsePolicy(scenario.OverlapPolicy)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:    testutil.NewMemoryStore(),
		clock:    testutil.NewStepClock(),
		remote:   newRemote(scenario.Remote),
		recorder: &recorder{},
	}
	h.seed(scenario.Machines)
	for _, id := range scenario.FailSaveOn {
		h.store.FailSaveOn(id, fmt.Errorf("%w: %s", ErrInjectedSave, id))
	}

	client := h.remote.Client()
	svc := refdata.NewHTTPService(h.store,
		refdata.WithHTTPClient(client),
		refdata.WithClock(h.clock.Now),
	)
	syncer := machinesync.New(h.store, svc, machinesync.WithClock(h.clock.Now))

	fetcher := fleet.NewHTTPFetcher(refdata.URLPolicy{})
	fetcher.Client = client
	provisioner := fleet.New(h.store, fetcher, fleet.WithClock(h.clock.Now))

	h.dispatcher = dispatch.New(syncer, provisioner,
		dispatch.WithResolver(route.NewResolver(h.remote.URL)),
		dispatch.WithListener(h.recorder),
		dispatch.WithPolicy(policy),
		dispatch.WithTraceGenerator(testutil.NewFixedTraceGenerator(scenario.TraceToken)),
	)
	return h, nil
}

// newRemote serves files by exact path with an explicit Content-Length so
// download progress is reported.
func newRemote(files map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
}

func (h *Harness) seed(machines []SeedMachine) {
	for _, sm := range machines {
		now := h.clock.Now()
		m := &model.Machine{
			ID:                     sm.ID,
			Name:                   sm.Name,
			CreatedAt:              now,
			UpdatedAt:              now,
			FleetGroup:             sm.FleetGroup,
			FleetReferenceSourceID: sm.FleetReferenceSourceID,
			ReferenceModels:        seedModels(sm.ID, sm.Models),
		}
		if m.Name == "" {
			m.Name = sm.ID
		}
		if sm.ReferenceDataPath != "" {
			m.ReferenceDataURL = h.remote.URL + sm.ReferenceDataPath
		}
		h.store.Seed(m)

		if sm.DatasetVersion != "" {
			h.store.SeedDataset(&model.ReferenceDataset{
				MachineID: sm.ID,
				Version:   sm.DatasetVersion,
				SourceURL: m.ReferenceDataURL,
				FetchedAt: now,
				Models:    seedModels(sm.ID, sm.Models),
			})
		}
	}
}

func seedModels(id string, n int) []model.ReferenceModel {
	if n == 0 {
		return nil
	}
	out := make([]model.ReferenceModel, n)
	for i := range out {
		out[i] = model.ReferenceModel(fmt.Sprintf(`{"seed":%q,"index":%d}`, id, i))
	}
	return out
}

// summarize reduces a dispatcher outcome to its stable fields.
func summarize(out *dispatch.Outcome) StepOutcome {
	s := StepOutcome{
		Seq:    out.Seq,
		Route:  string(out.Route.Type),
		Error:  string(out.Code),
		Reason: out.Reason,
	}
	if out.Load != nil {
		s.MachineCreated = out.Load.Created
		s.Action = string(out.Load.Action())
	}
	if out.Fleet != nil {
		s.Fleet = &FleetCounts{
			Created:        out.Fleet.Created,
			Updated:        out.Fleet.Updated,
			Skipped:        out.Fleet.Skipped,
			AlreadyInFleet: out.Fleet.AlreadyInFleet,
		}
		s.Warnings = append([]string{}, out.Fleet.Warnings...)
	}
	return s
}

func checkExpect(index int, expect *ExpectClause, got StepOutcome) []string {
	if expect == nil {
		return nil
	}
	var errs []string
	fail := func(field string, want, have any) {
		errs = append(errs, fmt.Sprintf("steps[%d].expect.%s: expected %v, got %v", index, field, want, have))
	}

	if expect.Route != "" && expect.Route != got.Route {
		fail("route", expect.Route, got.Route)
	}
	switch expect.Error {
	case "":
	case "none":
		if got.Error != "" {
			fail("error", "no error", got.Error)
		}
	default:
		if expect.Error != got.Error {
			fail("error", expect.Error, orNone(got.Error))
		}
	}
	if expect.Reason != "" && expect.Reason != got.Reason {
		fail("reason", expect.Reason, orNone(got.Reason))
	}
	if expect.Action != "" && expect.Action != got.Action {
		fail("action", expect.Action, orNone(got.Action))
	}

	counts := got.Fleet
	if counts == nil {
		counts = &FleetCounts{}
	}
	if expect.Created != nil && *expect.Created != counts.Created {
		fail("created", *expect.Created, counts.Created)
	}
	if expect.Updated != nil && *expect.Updated != counts.Updated {
		fail("updated", *expect.Updated, counts.Updated)
	}
	if expect.Skipped != nil && *expect.Skipped != counts.Skipped {
		fail("skipped", *expect.Skipped, counts.Skipped)
	}
	return errs
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// recorder implements dispatch.Listener, recording every callback.
// Consecutive progress reports with the same status are coalesced into
// the last one so the trace does not depend on read chunking.
type recorder struct {
	mu     sync.Mutex
	seq    int64
	events []TraceEvent
}

var _ dispatch.Listener = (*recorder)(nil)

func (r *recorder) setSeq(seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = seq
}

func (r *recorder) add(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = r.seq
	if e.Event == EventDownloadProgress && len(r.events) > 0 {
		last := &r.events[len(r.events)-1]
		if last.Event == EventDownloadProgress && last.Status == e.Status && last.Seq == e.Seq {
			last.Percent = e.Percent
			return
		}
	}
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent{}, r.events...)
}

func (r *recorder) RouteChanged(rt route.Route) {
	e := TraceEvent{Event: EventRouteChanged, Route: string(rt.Type)}
	switch rt.Type {
	case route.TypeMachine:
		e.ID = rt.MachineID
	case route.TypeFleet:
		e.ID = rt.FleetID
	case route.TypeImport:
		e.URL = rt.ImportURL
	}
	r.add(e)
}

func (r *recorder) MachineReady(m *model.Machine) {
	r.add(TraceEvent{Event: EventMachineReady, Machine: m.ID, Models: len(m.ReferenceModels)})
}

func (r *recorder) DownloadProgress(status string, percent int) {
	r.add(TraceEvent{Event: EventDownloadProgress, Status: status, Percent: percent})
}

func (r *recorder) DownloadError(code model.Code, reason string) {
	r.add(TraceEvent{Event: EventDownloadError, Code: string(code), Reason: reason})
}

func (r *recorder) ImportRequested(url string) {
	r.add(TraceEvent{Event: EventImportRequested, URL: url})
}

func (r *recorder) FleetReady(name string, count int) {
	r.add(TraceEvent{Event: EventFleetReady, Fleet: name, Count: count})
}
