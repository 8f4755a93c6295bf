// Package machinesync resolves a single-machine route against local storage
// and the reference-data service.
//
// LoadOrCreate decides what must happen; Sync performs exactly one of
// download (first time), update (newer remote version) or nothing.
package machinesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/refdata"
	"github.com/roach88/fleetsync/internal/store"
)

// Action is the work Sync performs for a Result.
type Action string

const (
	ActionDownload Action = "download"
	ActionUpdate   Action = "update"
	ActionNone     Action = "none"
)

// Result describes the reconciled state of one machine.
type Result struct {
	Machine       *model.Machine `json:"machine"`
	Created       bool           `json:"created"`
	NeedsDownload bool           `json:"needs_download"`
	NeedsUpdate   bool           `json:"needs_update"`
	LocalVersion  string         `json:"local_version,omitempty"`
	RemoteVersion string         `json:"remote_version,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// Action returns the single action the caller should perform.
// A download without a reference URL is impossible, so it degrades to none.
func (r *Result) Action() Action {
	switch {
	case r.NeedsDownload && r.Machine.ReferenceDataURL != "":
		return ActionDownload
	case r.NeedsUpdate:
		return ActionUpdate
	default:
		return ActionNone
	}
}

// SyncResult is returned by Sync.
type SyncResult struct {
	Action   Action                  `json:"action"`
	Machine  *model.Machine          `json:"machine"`
	Download *refdata.DownloadResult `json:"download,omitempty"`
}

// Synchronizer reconciles single machines.
type Synchronizer struct {
	store   store.MachineStore
	refdata refdata.Service
	now     func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// New creates a Synchronizer.
func New(st store.MachineStore, svc refdata.Service, opts ...Option) *Synchronizer {
	s := &Synchronizer{store: st, refdata: svc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadOrCreate loads the machine, creating it when a reference URL is
// given, rotates a changed reference URL, and asks the reference-data
// service whether a download or update is needed.
//
// Errors are *model.Error with CodeNotFound or CodeInvalidReferenceURL;
// storage failures are wrapped as CodeInternal.
func (s *Synchronizer) LoadOrCreate(ctx context.Context, machineID, referenceURL string) (*Result, error) {
	if machineID == "" {
		return nil, model.NewError(model.CodeNotFound, "empty machine id")
	}

	res := &Result{}
	m, err := s.store.GetMachine(ctx, machineID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if referenceURL == "" {
			return nil, &model.Error{Code: model.CodeNotFound, MachineID: machineID}
		}
		m, err = s.create(ctx, machineID, referenceURL)
		if err != nil {
			return nil, err
		}
		res.Created = true
	case err != nil:
		return nil, &model.Error{Code: model.CodeInternal, MachineID: machineID, Err: fmt.Errorf("load machine: %w", err)}
	case referenceURL != "" && referenceURL != m.ReferenceDataURL:
		m, err = s.rotateURL(ctx, machineID, referenceURL)
		if err != nil {
			return nil, err
		}
	}
	res.Machine = m

	need, err := s.refdata.NeedsDownload(ctx, machineID)
	if err != nil {
		return nil, &model.Error{Code: model.CodeInternal, MachineID: machineID, Err: fmt.Errorf("check dataset: %w", err)}
	}
	res.NeedsDownload = need
	if need {
		res.Reason = refdata.ReasonNoLocalDataset
		return res, nil
	}

	if m.ReferenceDataURL != "" {
		check, err := s.refdata.NeedsUpdate(ctx, machineID)
		if err != nil {
			return nil, &model.Error{Code: model.CodeInternal, MachineID: machineID, Err: fmt.Errorf("check update: %w", err)}
		}
		res.NeedsUpdate = check.NeedsUpdate
		res.Reason = check.Reason
		res.LocalVersion = check.LocalVersion
		res.RemoteVersion = check.RemoteVersion
	} else {
		res.Reason = refdata.ReasonNoReferenceURL
	}

	return res, nil
}

func (s *Synchronizer) create(ctx context.Context, machineID, referenceURL string) (*model.Machine, error) {
	if err := s.refdata.ValidateURL(referenceURL); err != nil {
		return nil, withMachine(err, machineID)
	}

	now := s.now().UTC()
	m := &model.Machine{
		ID:               machineID,
		Name:             machineID,
		CreatedAt:        now,
		UpdatedAt:        now,
		ReferenceDataURL: referenceURL,
	}
	if err := s.store.SaveMachine(ctx, m); err != nil {
		return nil, &model.Error{Code: model.CodeInternal, MachineID: machineID, Err: fmt.Errorf("save machine: %w", err)}
	}

	slog.Info("machine created",
		"machine_id", machineID,
		"reference_url", referenceURL,
	)
	return m, nil
}

// rotateURL replaces the stored reference URL. The check-then-write is not
// transactional; concurrent rotations race and the last write wins.
func (s *Synchronizer) rotateURL(ctx context.Context, machineID, referenceURL string) (*model.Machine, error) {
	if err := s.refdata.ValidateURL(referenceURL); err != nil {
		return nil, withMachine(err, machineID)
	}

	latest, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, &model.Error{Code: model.CodeInternal, MachineID: machineID, Err: fmt.Errorf("reload machine: %w", err)}
	}
	previous := latest.ReferenceDataURL

	updated := latest.Clone()
	updated.ReferenceDataURL = referenceURL
	updated.UpdatedAt = s.now().UTC()
	if err := s.store.SaveMachine(ctx, updated); err != nil {
		return nil, &model.Error{Code: model.CodeInternal, MachineID: machineID, Err: fmt.Errorf("save machine: %w", err)}
	}

	slog.Info("reference url rotated",
		"machine_id", machineID,
		"from", previous,
		"to", referenceURL,
	)
	return updated, nil
}

// Sync performs the action selected by res and returns the refreshed
// machine. On download failure the returned SyncResult still carries the
// stored (stale but valid) machine alongside the error.
func (s *Synchronizer) Sync(ctx context.Context, res *Result, onProgress refdata.ProgressFunc) (*SyncResult, error) {
	out := &SyncResult{Action: res.Action(), Machine: res.Machine}
	if out.Action == ActionNone {
		return out, nil
	}

	dl, err := s.refdata.DownloadAndApply(ctx, res.Machine.ID, onProgress)
	if err != nil {
		slog.Warn("reference data sync failed",
			"machine_id", res.Machine.ID,
			"action", out.Action,
			"error", err,
		)
		return out, withMachine(err, res.Machine.ID)
	}
	out.Download = dl

	latest, err := s.store.GetMachine(ctx, res.Machine.ID)
	if err != nil {
		return out, &model.Error{Code: model.CodeInternal, MachineID: res.Machine.ID, Err: fmt.Errorf("reload machine: %w", err)}
	}
	out.Machine = latest
	return out, nil
}

// withMachine attaches machineID to a *model.Error that lacks one and
// wraps any other error as CodeDownloadFailed.
func withMachine(err error, machineID string) error {
	var me *model.Error
	if errors.As(err, &me) {
		if me.MachineID == "" {
			cp := *me
			cp.MachineID = machineID
			return &cp
		}
		return err
	}
	return &model.Error{Code: model.CodeDownloadFailed, MachineID: machineID, Err: err}
}
