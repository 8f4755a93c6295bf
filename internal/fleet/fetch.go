package fleet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/refdata"
)

// DefaultMaxDescriptorBytes bounds the size of a fetched descriptor.
const DefaultMaxDescriptorBytes = 4 << 20

// Fetcher retrieves raw descriptor bytes.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// HTTPFetcher fetches descriptors over HTTP(S), subject to a URL policy.
type HTTPFetcher struct {
	Client   *http.Client
	Policy   refdata.URLPolicy
	MaxBytes int64
}

// NewHTTPFetcher creates an HTTPFetcher with a 30s timeout.
func NewHTTPFetcher(policy refdata.URLPolicy) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: 30 * time.Second},
		Policy:   policy,
		MaxBytes: DefaultMaxDescriptorBytes,
	}
}

// Fetch implements Fetcher. A disallowed URL is CodeInvalidURL; transport
// and status failures are CodeDownloadFailed.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := f.Policy.Validate(location); err != nil {
		return nil, &model.Error{Code: model.CodeInvalidURL, Detail: location, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, &model.Error{Code: model.CodeInvalidURL, Detail: location, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &model.Error{Code: model.CodeDownloadFailed, Detail: location, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.Error{
			Code:   model.CodeDownloadFailed,
			Detail: location,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxDescriptorBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &model.Error{Code: model.CodeDownloadFailed, Detail: location, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, &model.Error{
			Code:   model.CodeDownloadFailed,
			Detail: location,
			Err:    fmt.Errorf("descriptor exceeds %d bytes", limit),
		}
	}
	return data, nil
}

// FileFetcher reads descriptors from the local filesystem. A "file://"
// prefix is accepted.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	path := strings.TrimPrefix(location, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.Error{Code: model.CodeDownloadFailed, Detail: location, Err: fmt.Errorf("read descriptor: %w", err)}
	}
	return data, nil
}

// AutoFetcher uses HTTP for http(s) locations and the filesystem otherwise.
type AutoFetcher struct {
	HTTP *HTTPFetcher
	File FileFetcher
}

// Fetch implements Fetcher.
func (a AutoFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return a.HTTP.Fetch(ctx, location)
	}
	return a.File.Fetch(ctx, location)
}
