package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/store"
)

// rollbackTimeout bounds the compensating deletes of a failed commit.
const rollbackTimeout = 10 * time.Second

// CommitResult reports what a commit wrote.
type CommitResult struct {
	FleetName      string   `json:"fleet_name"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	AlreadyInFleet int      `json:"already_in_fleet"`
	CreatedIDs     []string `json:"created_ids"`
	Warnings       []string `json:"warnings"`
}

// Members returns the number of descriptor machines that belong to the
// fleet after the commit.
func (r *CommitResult) Members() int {
	return r.Created + r.Updated + r.AlreadyInFleet
}

// Commit persists plan: creates in order, then update merges. On any write
// failure every machine created by this call is deleted in reverse order
// and a CodeCommitFailed error wrapping the original failure is returned.
// Secondary delete failures are logged, not returned.
func (p *Provisioner) Commit(ctx context.Context, plan *Plan) (*CommitResult, error) {
	res := &CommitResult{
		FleetName:      plan.FleetName,
		Skipped:        len(plan.Skipped),
		AlreadyInFleet: plan.CountSkipped(SkipAlreadyInFleet),
		CreatedIDs:     []string{},
		Warnings:       plan.Warnings,
	}

	for _, m := range plan.ToCreate {
		if err := p.store.SaveMachine(ctx, m); err != nil {
			return nil, p.rollback(ctx, plan.FleetName, res.CreatedIDs, m.ID, err)
		}
		res.CreatedIDs = append(res.CreatedIDs, m.ID)
		res.Created++
	}

	now := p.now().UTC()
	for _, u := range plan.ToUpdate {
		id := u.Existing.ID
		latest, err := p.store.GetMachine(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			latest = u.Existing
		} else if err != nil {
			return nil, p.rollback(ctx, plan.FleetName, res.CreatedIDs, id, fmt.Errorf("reload machine: %w", err))
		}

		merged := u.Patch.Apply(latest)
		merged.UpdatedAt = now
		if err := p.store.SaveMachine(ctx, merged); err != nil {
			return nil, p.rollback(ctx, plan.FleetName, res.CreatedIDs, id, err)
		}
		res.Updated++
	}

	slog.Info("fleet committed",
		"fleet", plan.FleetName,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return res, nil
}

// rollback deletes created in reverse order and returns the commit error.
func (p *Provisioner) rollback(ctx context.Context, fleetName string, created []string, failedID string, cause error) error {
	slog.Warn("fleet commit failed, rolling back",
		"fleet", fleetName,
		"machine_id", failedID,
		"created", len(created),
		"error", cause,
	)

	// Deletes must run even when ctx is what failed the commit.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for i := len(created) - 1; i >= 0; i-- {
		if err := p.store.DeleteMachine(rctx, created[i]); err != nil {
			slog.Warn("rollback delete failed",
				"fleet", fleetName,
				"machine_id", created[i],
				"error", err,
			)
		}
	}

	return &model.Error{
		Code:      model.CodeCommitFailed,
		Detail:    fmt.Sprintf("rolled back %d created machines", len(created)),
		MachineID: failedID,
		Err:       cause,
	}
}
