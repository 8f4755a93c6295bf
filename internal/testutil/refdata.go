package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/refdata"
	"github.com/roach88/fleetsync/internal/store"
)

// FakeRefData is an in-process refdata.Service backed by a refdata.Store.
//
// Remote datasets are served from the Remote map keyed by reference URL.
// URLs listed in Unreachable behave like a network failure.
type FakeRefData struct {
	Store  refdata.Store
	Policy refdata.URLPolicy
	Now    func() time.Time

	mu          sync.Mutex
	Remote      map[string]*refdata.RemoteDataset
	Unreachable map[string]bool
	calls       []string
}

var _ refdata.Service = (*FakeRefData)(nil)

// NewFakeRefData creates a fake serving from st.
func NewFakeRefData(st refdata.Store) *FakeRefData {
	return &FakeRefData{
		Store:       st,
		Now:         func() time.Time { return Epoch },
		Remote:      make(map[string]*refdata.RemoteDataset),
		Unreachable: make(map[string]bool),
	}
}

// Serve registers a remote dataset at url.
func (f *FakeRefData) Serve(url, version string, models ...model.ReferenceModel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Remote[url] = &refdata.RemoteDataset{Version: version, Models: models}
}

// Calls returns the service operations invoked, as "op:machineID".
func (f *FakeRefData) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeRefData) record(op, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+id)
}

func (f *FakeRefData) remote(url string) (*refdata.RemoteDataset, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable[url] {
		return nil, false
	}
	ds, ok := f.Remote[url]
	return ds, ok
}

// ValidateURL implements refdata.Service.
func (f *FakeRefData) ValidateURL(raw string) error {
	return f.Policy.Validate(raw)
}

// NeedsDownload implements refdata.Service.
func (f *FakeRefData) NeedsDownload(ctx context.Context, machineID string) (bool, error) {
	f.record("needs_download", machineID)
	_, err := f.Store.GetDataset(ctx, machineID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// NeedsUpdate implements refdata.Service with the same version rules as
// the HTTP service.
func (f *FakeRefData) NeedsUpdate(ctx context.Context, machineID string) (refdata.UpdateCheck, error) {
	f.record("needs_update", machineID)
	m, err := f.Store.GetMachine(ctx, machineID)
	if err != nil {
		return refdata.UpdateCheck{}, err
	}
	if m.ReferenceDataURL == "" {
		return refdata.UpdateCheck{Reason: refdata.ReasonNoReferenceURL}, nil
	}
	local, err := f.Store.GetDataset(ctx, machineID)
	if errors.Is(err, store.ErrNotFound) {
		return refdata.UpdateCheck{Reason: refdata.ReasonNoLocalDataset}, nil
	}
	if err != nil {
		return refdata.UpdateCheck{}, err
	}
	remote, ok := f.remote(m.ReferenceDataURL)
	if !ok {
		return refdata.UpdateCheck{Reason: refdata.ReasonRemoteUnreached, LocalVersion: local.Version}, nil
	}
	return refdata.CompareVersions(local.Version, remote.Version), nil
}

// DownloadAndApply implements refdata.Service.
func (f *FakeRefData) DownloadAndApply(ctx context.Context, machineID string, onProgress refdata.ProgressFunc) (*refdata.DownloadResult, error) {
	f.record("download", machineID)
	fail := func(err error) (*refdata.DownloadResult, error) {
		return nil, &model.Error{Code: model.CodeDownloadFailed, MachineID: machineID, Err: err}
	}

	m, err := f.Store.GetMachine(ctx, machineID)
	if err != nil {
		return fail(err)
	}
	if onProgress != nil {
		onProgress(refdata.Progress{Status: refdata.StatusDownloading, Percent: 0})
	}
	remote, ok := f.remote(m.ReferenceDataURL)
	if !ok || len(remote.ModelsFor(machineID)) == 0 {
		return fail(errors.New("remote dataset unavailable"))
	}

	models := remote.ModelsFor(machineID)
	now := f.Now()
	if err := f.Store.SaveDataset(ctx, &model.ReferenceDataset{
		MachineID: machineID,
		Version:   remote.Version,
		SourceURL: m.ReferenceDataURL,
		FetchedAt: now,
		Models:    models,
	}); err != nil {
		return fail(err)
	}
	updated := m.Clone()
	updated.ReferenceModels = models
	updated.UpdatedAt = now
	if err := f.Store.SaveMachine(ctx, updated); err != nil {
		return fail(err)
	}
	if onProgress != nil {
		onProgress(refdata.Progress{Status: refdata.StatusDone, Percent: 100})
	}
	return &refdata.DownloadResult{ModelsImported: len(models), Version: remote.Version}, nil
}
