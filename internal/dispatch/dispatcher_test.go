package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetsync/internal/fleet"
	"github.com/roach88/fleetsync/internal/machinesync"
	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/refdata"
	"github.com/roach88/fleetsync/internal/route"
	"github.com/roach88/fleetsync/internal/testutil"
)

const testBase = "https://data.example.com"

// recorder captures listener callbacks as strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) RouteChanged(rt route.Route)       { r.add("route:%s", rt.Type) }
func (r *recorder) MachineReady(m *model.Machine)     { r.add("ready:%s:%d", m.ID, len(m.ReferenceModels)) }
func (r *recorder) DownloadProgress(s string, p int)  { r.add("progress:%s:%d", s, p) }
func (r *recorder) ImportRequested(url string)        { r.add("import:%s", url) }
func (r *recorder) FleetReady(name string, count int) { r.add("fleet:%s:%d", name, count) }

func (r *recorder) DownloadError(code model.Code, reason string) {
	if reason == "" {
		r.add("error:%s", code)
		return
	}
	r.add("error:%s:%s", code, reason)
}

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	body, ok := m[location]
	if !ok {
		return nil, &model.Error{Code: model.CodeDownloadFailed, Detail: location}
	}
	return []byte(body), nil
}

type fixture struct {
	store *testutil.MemoryStore
	ref   *testutil.FakeRefData
	rec   *recorder
	d     *Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := testutil.NewMemoryStore()
	ref := testutil.NewFakeRefData(st)
	clock := testutil.NewStepClock()
	fetcher := mapFetcher{
		testBase + "/acme/fleet-line-a.json": `{
			"format": "machine-fleet",
			"schemaVersion": "1.0",
			"fleet": {"name": "Line A"},
			"machines": [{"id": "m1", "isGoldStandard": true}, {"id": "m2"}, {"id": "m3"}],
			"goldStandardId": "m1",
			"goldStandardModels": {"models": [{"g": 1}]}
		}`,
		testBase + "/acme/fleet-line-v2.json": `{
			"format": "machine-fleet",
			"schemaVersion": "2.0",
			"fleet": {"name": "Line V2"},
			"machines": [{"id": "m1"}, {"id": "m2"}]
		}`,
	}
	rec := &recorder{}

	all := append([]Option{
		WithResolver(route.NewResolver(testBase)),
		WithListener(rec),
		WithTraceGenerator(testutil.NewFixedTraceGenerator("trace")),
	}, opts...)
	d := New(
		machinesync.New(st, ref, machinesync.WithClock(clock.Now)),
		fleet.New(st, fetcher, fleet.WithClock(clock.Now)),
		all...,
	)
	return &fixture{store: st, ref: ref, rec: rec, d: d}
}

func TestHandle_MachineFirstVisit(t *testing.T) {
	f := newFixture(t)
	f.ref.Serve(testBase+"/acme/db-latest.json", "1.0.0", json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":2}`))

	out := f.d.Handle(context.Background(), "#/m/abc?c=acme")
	require.NoError(t, out.Err)
	assert.Equal(t, "trace", out.Trace)
	assert.Equal(t, int64(1), out.Seq)
	assert.True(t, out.Load.Created)
	assert.Equal(t, machinesync.ActionDownload, out.Sync.Action)

	assert.Equal(t, []string{
		"route:machine",
		"progress:downloading:0",
		"progress:done:100",
		"ready:abc:2",
	}, f.rec.Events())
}

func TestHandle_RepeatedLinkIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.ref.Serve(testBase+"/acme/db-latest.json", "1.0.0", json.RawMessage(`{"a":1}`))
	ctx := context.Background()

	first := f.d.Handle(ctx, "#/m/abc?c=acme")
	second := f.d.Handle(ctx, "#/m/abc?c=acme")
	require.NoError(t, first.Err)
	require.NoError(t, second.Err)

	assert.False(t, second.Load.Created)
	assert.Equal(t, machinesync.ActionNone, second.Sync.Action)
	assert.Equal(t, first.Sync.Machine.ReferenceModels, second.Sync.Machine.ReferenceModels)
	assert.Equal(t, []string{"abc"}, f.store.IDs())
}

func TestHandle_UnknownIgnored(t *testing.T) {
	f := newFixture(t)

	for _, hash := range []string{"", "#/", "#/x/1", "#/m/", "#/import?url=relative/path"} {
		out := f.d.Handle(context.Background(), hash)
		assert.Equal(t, route.TypeUnknown, out.Route.Type, hash)
		assert.NoError(t, out.Err)
	}
	assert.Empty(t, f.rec.Events())
	assert.Empty(t, f.store.Saves())
}

func TestHandle_Import(t *testing.T) {
	f := newFixture(t)

	f.d.Handle(context.Background(), "#/import?url=https%3A%2F%2Fexample.com%2Fbackup.json")
	assert.Equal(t, []string{"route:import", "import:https://example.com/backup.json"}, f.rec.Events())
	assert.Empty(t, f.store.Saves())
}

func TestHandle_MachineNotFound(t *testing.T) {
	f := newFixture(t)

	// a machine link without a source never invents one
	out := f.d.Handle(context.Background(), "#/m/abc")
	assert.Equal(t, route.TypeMachine, out.Route.Type)
	assert.Equal(t, model.CodeNotFound, out.Code)
	assert.Equal(t, []string{"route:machine", "error:not_found"}, f.rec.Events())
	assert.Empty(t, f.store.IDs())
}

func TestHandle_MachineInvalidLegacyURL(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(context.Background(), "#/m/abc?ref=ftp%3A%2F%2Fdata.example.com%2Fdb.json")
	assert.Equal(t, model.CodeInvalidReferenceURL, out.Code)
	assert.Equal(t, []string{"route:machine", "error:invalid_reference_url"}, f.rec.Events())
}

func TestHandle_DownloadFailureStillReady(t *testing.T) {
	f := newFixture(t)
	f.ref.Unreachable[testBase+"/acme/db-latest.json"] = true

	out := f.d.Handle(context.Background(), "#/m/abc?c=acme")
	assert.Equal(t, model.CodeDownloadFailed, out.Code)
	assert.Equal(t, []string{
		"route:machine",
		"progress:downloading:0",
		"error:download_failed",
		"ready:abc:0",
	}, f.rec.Events())
}

func TestHandle_Fleet(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(context.Background(), "#/f/line-a?c=acme")
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Fleet.Created)
	assert.Equal(t, []string{"route:fleet", "fleet:Line A:3"}, f.rec.Events())

	// re-scan reports the same fleet without writes
	out = f.d.Handle(context.Background(), "#/f/line-a?c=acme")
	require.NoError(t, out.Err)
	assert.Equal(t, 0, out.Fleet.Created)
	assert.Equal(t, "fleet:Line A:3", f.rec.Events()[3])
	assert.Len(t, f.store.Saves(), 3)
}

func TestHandle_FleetFailure(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(context.Background(), "#/f/missing?c=acme")
	assert.Equal(t, model.CodeDownloadFailed, out.Code)
	assert.Equal(t, []string{"route:fleet", "error:download_failed"}, f.rec.Events())
}

func TestHandle_FleetValidationReason(t *testing.T) {
	f := newFixture(t)

	out := f.d.Handle(context.Background(), "#/f/line-v2?c=acme")
	assert.Equal(t, model.CodeFleetValidationFailed, out.Code)
	assert.Equal(t, fleet.CodeUnsupportedSchemaVersion, out.Reason)
	assert.Equal(t, []string{
		"route:fleet",
		"error:fleet_validation_failed:unsupported_schema_version",
	}, f.rec.Events())
	assert.Empty(t, f.store.IDs())
}

func TestRun_SubscribesAndUnsubscribes(t *testing.T) {
	f := newFixture(t)
	f.ref.Serve(testBase+"/acme/db-latest.json", "1.0.0", json.RawMessage(`{"a":1}`))
	src := NewManualSource()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx, src) }()

	require.Eventually(t, func() bool { return src.Subscribers() == 1 }, time.Second, time.Millisecond)
	src.Emit("#/m/abc?c=acme")
	require.Eventually(t, func() bool {
		ev := f.rec.Events()
		return len(ev) > 0 && ev[len(ev)-1] == "ready:abc:1"
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, src.Subscribers())
	assert.False(t, f.d.Navigate("#/m/abc?c=acme"), "stopped dispatcher rejects links")
}

func TestRun_StopDrainsPending(t *testing.T) {
	f := newFixture(t)
	f.d.Navigate("#/import?url=https%3A%2F%2Fexample.com%2F1")
	f.d.Navigate("#/import?url=https%3A%2F%2Fexample.com%2F2")
	f.d.Stop()

	require.NoError(t, f.d.Run(context.Background(), nil))
	assert.Equal(t, []string{
		"route:import", "import:https://example.com/1",
		"route:import", "import:https://example.com/2",
	}, f.rec.Events())
}

// blockingSyncer holds the first LoadOrCreate until release is closed.
type blockingSyncer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu   sync.Mutex
	seen []string
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingSyncer) LoadOrCreate(_ context.Context, id, _ string) (*machinesync.Result, error) {
	b.once.Do(func() {
		close(b.started)
		<-b.release
	})
	b.mu.Lock()
	b.seen = append(b.seen, id)
	b.mu.Unlock()
	return &machinesync.Result{Machine: &model.Machine{ID: id}}, nil
}

func (b *blockingSyncer) Sync(_ context.Context, res *machinesync.Result, _ refdata.ProgressFunc) (*machinesync.SyncResult, error) {
	return &machinesync.SyncResult{Action: machinesync.ActionNone, Machine: res.Machine}, nil
}

func (b *blockingSyncer) Seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}

func runOverlap(t *testing.T, policy Policy) []string {
	t.Helper()
	syncer := newBlockingSyncer()
	src := NewManualSource()
	d := New(syncer, nil,
		WithPolicy(policy),
		WithResolver(route.NewResolver(testBase)),
		WithTraceGenerator(testutil.NewFixedTraceGenerator("")),
	)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), src) }()
	require.Eventually(t, func() bool { return src.Subscribers() == 1 }, time.Second, time.Millisecond)

	src.Emit("#/m/first?c=acme")
	<-syncer.started
	for _, id := range []string{"second", "third", "fourth"} {
		src.Emit("#/m/" + id + "?c=acme")
	}
	close(syncer.release)

	require.Eventually(t, func() bool { return d.queue.Len() == 0 }, time.Second, time.Millisecond)
	d.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	return syncer.Seen()
}

func TestOverlap_Serialize(t *testing.T) {
	seen := runOverlap(t, PolicySerialize)
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, seen)
}

func TestOverlap_LatestWins(t *testing.T) {
	seen := runOverlap(t, PolicyLatestWins)
	assert.Equal(t, []string{"first", "fourth"}, seen)
}

func TestListeners_FanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ls := Listeners{a, NopListener{}, b}

	ls.RouteChanged(route.Route{Type: route.TypeFleet})
	ls.FleetReady("Line A", 2)
	ls.DownloadError(model.CodeCommitFailed, "")

	want := []string{"route:fleet", "fleet:Line A:2", "error:commit_failed"}
	assert.Equal(t, want, a.Events())
	assert.Equal(t, want, b.Events())
}

func TestLineSource(t *testing.T) {
	src := NewLineSource(strings.NewReader("#/m/a?c=x\n\n// comment\n  #/f/b?c=x  \n"))

	var mu sync.Mutex
	var got []string
	unsubscribe, err := src.Subscribe(func(hash string) {
		mu.Lock()
		got = append(got, hash)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case <-src.Done():
	case <-time.After(time.Second):
		t.Fatal("source did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"#/m/a?c=x", "#/f/b?c=x"}, got)
}
