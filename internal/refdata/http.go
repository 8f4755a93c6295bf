package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/store"
)

// DefaultMaxDatasetBytes bounds the size of a downloaded dataset.
const DefaultMaxDatasetBytes = 64 << 20

// Store is the subset of storage the HTTP service needs.
type Store interface {
	store.MachineStore
	store.DatasetStore
}

// HTTPService implements Service over HTTP(S).
type HTTPService struct {
	client   *http.Client
	store    Store
	policy   URLPolicy
	now      func() time.Time
	maxBytes int64
}

// Option configures an HTTPService.
type Option func(*HTTPService)

// WithHTTPClient overrides the HTTP client (default: 30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPService) {
		s.client = c
	}
}

// WithPolicy sets the URL policy.
func WithPolicy(p URLPolicy) Option {
	return func(s *HTTPService) {
		hosts := make([]string, len(p.AllowedHosts))
		for i, h := range p.AllowedHosts {
			hosts[i] = strings.ToLower(strings.TrimSpace(h))
		}
		p.AllowedHosts = hosts
		s.policy = p
	}
}

// WithClock overrides the time source used for FetchedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *HTTPService) {
		s.now = now
	}
}

// WithMaxBytes bounds the dataset size.
func WithMaxBytes(n int64) Option {
	return func(s *HTTPService) {
		s.maxBytes = n
	}
}

// NewHTTPService creates a Service backed by st.
func NewHTTPService(st Store, opts ...Option) *HTTPService {
	s := &HTTPService{
		client:   &http.Client{Timeout: 30 * time.Second},
		store:    st,
		now:      time.Now,
		maxBytes: DefaultMaxDatasetBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateURL implements Service.
func (s *HTTPService) ValidateURL(raw string) error {
	return s.policy.Validate(raw)
}

// NeedsDownload implements Service.
func (s *HTTPService) NeedsDownload(ctx context.Context, machineID string) (bool, error) {
	_, err := s.store.GetDataset(ctx, machineID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// NeedsUpdate implements Service. Unreachable remotes never signal an update.
func (s *HTTPService) NeedsUpdate(ctx context.Context, machineID string) (UpdateCheck, error) {
	m, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return UpdateCheck{}, fmt.Errorf("needs update %s: %w", machineID, err)
	}
	if m.ReferenceDataURL == "" {
		return UpdateCheck{Reason: ReasonNoReferenceURL}, nil
	}

	local, err := s.store.GetDataset(ctx, machineID)
	if errors.Is(err, store.ErrNotFound) {
		return UpdateCheck{Reason: ReasonNoLocalDataset}, nil
	}
	if err != nil {
		return UpdateCheck{}, fmt.Errorf("needs update %s: %w", machineID, err)
	}

	remote, err := s.fetch(ctx, m.ReferenceDataURL, nil)
	if err != nil {
		slog.Warn("remote dataset unreachable",
			"machine_id", machineID,
			"url", m.ReferenceDataURL,
			"error", err,
		)
		return UpdateCheck{Reason: ReasonRemoteUnreached, LocalVersion: local.Version}, nil
	}

	return CompareVersions(local.Version, remote.Version), nil
}

// DownloadAndApply implements Service.
//
// The machine record is re-read, copied, mutated and persisted so that
// callers holding an older *model.Machine are never aliased.
func (s *HTTPService) DownloadAndApply(ctx context.Context, machineID string, onProgress ProgressFunc) (*DownloadResult, error) {
	fail := func(err error) (*DownloadResult, error) {
		return nil, &model.Error{Code: model.CodeDownloadFailed, MachineID: machineID, Err: err}
	}

	m, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return fail(err)
	}
	if m.ReferenceDataURL == "" {
		return fail(errors.New("machine has no reference data url"))
	}
	if err := s.ValidateURL(m.ReferenceDataURL); err != nil {
		return nil, err
	}

	onProgress.report(StatusDownloading, 0)
	remote, err := s.fetch(ctx, m.ReferenceDataURL, onProgress)
	if err != nil {
		return fail(err)
	}

	onProgress.report(StatusParsing, 85)
	models := remote.ModelsFor(machineID)
	if len(models) == 0 {
		return fail(fmt.Errorf("dataset %s has no models for machine", remote.Version))
	}

	onProgress.report(StatusSaving, 90)
	now := s.now().UTC()

	// Machine first, dataset last: a stored dataset marks the download done.
	latest, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return fail(err)
	}
	updated := latest.Clone()
	updated.ReferenceModels = models
	updated.UpdatedAt = now
	if err := s.store.SaveMachine(ctx, updated); err != nil {
		return fail(err)
	}

	ds := &model.ReferenceDataset{
		MachineID: machineID,
		Version:   remote.Version,
		SourceURL: m.ReferenceDataURL,
		FetchedAt: now,
		Models:    models,
	}
	if err := s.store.SaveDataset(ctx, ds); err != nil {
		return fail(err)
	}

	onProgress.report(StatusDone, 100)
	slog.Info("reference dataset applied",
		"machine_id", machineID,
		"version", remote.Version,
		"models", len(models),
	)
	return &DownloadResult{ModelsImported: len(models), Version: remote.Version}, nil
}

func (s *HTTPService) fetch(ctx context.Context, rawURL string, onProgress ProgressFunc) (*RemoteDataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	var body io.Reader = io.LimitReader(resp.Body, s.maxBytes+1)
	if onProgress != nil && resp.ContentLength > 0 {
		body = &progressReader{r: body, total: resp.ContentLength, report: onProgress}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("dataset exceeds %d bytes", s.maxBytes)
	}

	var ds RemoteDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}

// progressReader reports download progress scaled into [0, 80].
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	pct := int(p.read * 80 / p.total)
	if pct > 80 {
		pct = 80
	}
	if pct > p.last {
		p.last = pct
		p.report.report(StatusDownloading, pct)
	}
	return n, err
}
