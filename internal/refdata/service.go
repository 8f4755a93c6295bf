// Package refdata fetches and applies remote reference datasets.
//
// A customer's dataset (db-latest.json) carries a semantic version and the
// reference models for one or more machines. The local copy is stored per
// machine; an update is signaled only when the remote version is strictly
// greater than the local one.
package refdata

import (
	"context"

	"github.com/roach88/fleetsync/internal/model"
)

// Service is the reference-data collaborator used by the machine synchronizer.
type Service interface {
	// ValidateURL returns a *model.Error with CodeInvalidReferenceURL when
	// the URL is malformed or disallowed.
	ValidateURL(raw string) error

	// NeedsDownload reports whether no local dataset exists for the machine.
	NeedsDownload(ctx context.Context, machineID string) (bool, error)

	// NeedsUpdate compares the local dataset version against the remote one.
	NeedsUpdate(ctx context.Context, machineID string) (UpdateCheck, error)

	// DownloadAndApply fetches the remote dataset, stores it and replaces
	// the machine's reference models.
	DownloadAndApply(ctx context.Context, machineID string, onProgress ProgressFunc) (*DownloadResult, error)
}

// Reasons reported by NeedsUpdate.
const (
	ReasonRemoteNewer     = "remote_newer"
	ReasonUpToDate        = "up_to_date"
	ReasonRemoteOlder     = "remote_older"
	ReasonVersionMissing  = "version_missing"
	ReasonNoReferenceURL  = "no_reference_url"
	ReasonNoLocalDataset  = "no_local_dataset"
	ReasonRemoteUnreached = "remote_unreachable"
)

// UpdateCheck is the result of a version comparison.
type UpdateCheck struct {
	NeedsUpdate   bool   `json:"needs_update"`
	Reason        string `json:"reason"`
	LocalVersion  string `json:"local_version,omitempty"`
	RemoteVersion string `json:"remote_version,omitempty"`
}

// DownloadResult describes an applied dataset.
type DownloadResult struct {
	ModelsImported int    `json:"models_imported"`
	Version        string `json:"version"`
}

// Download statuses reported through ProgressFunc.
const (
	StatusDownloading = "downloading"
	StatusParsing     = "parsing"
	StatusSaving      = "saving"
	StatusDone        = "done"
)

// Progress is one download progress report. Percent is in [0, 100].
type Progress struct {
	Status  string `json:"status"`
	Percent int    `json:"percent"`
}

// ProgressFunc receives progress reports. A nil ProgressFunc is allowed.
type ProgressFunc func(Progress)

func (f ProgressFunc) report(status string, percent int) {
	if f != nil {
		f(Progress{Status: status, Percent: percent})
	}
}

// RemoteDataset is the wire shape of a customer's db-latest.json.
// Models for a specific machine are looked up in Machines first and fall
// back to the top-level Models.
type RemoteDataset struct {
	Version  string                        `json:"version"`
	Models   []model.ReferenceModel        `json:"models,omitempty"`
	Machines map[string]model.ModelsBundle `json:"machines,omitempty"`
}

// ModelsFor returns the models that apply to machineID.
func (d *RemoteDataset) ModelsFor(machineID string) []model.ReferenceModel {
	if bundle, ok := d.Machines[machineID]; ok {
		return bundle.Models
	}
	return d.Models
}
