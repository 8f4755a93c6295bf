package fleet

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/store"
)

// SkipReason explains why a descriptor entry produced no write.
type SkipReason string

const (
	SkipAlreadyInFleet SkipReason = "already_in_fleet"
	SkipDifferentFleet SkipReason = "different_fleet"
)

// Plan is the in-memory result of Prepare. It is never persisted.
type Plan struct {
	FleetName      string           `json:"fleet_name"`
	GoldStandardID string           `json:"gold_standard_id,omitempty"`
	ToCreate       []*model.Machine `json:"to_create"`
	ToUpdate       []Update         `json:"to_update"`
	Skipped        []Skip           `json:"skipped"`
	Warnings       []string         `json:"warnings"`
}

// Update adopts an unassigned local machine into the fleet.
type Update struct {
	Existing *model.Machine `json:"existing"`
	Patch    Patch          `json:"patch"`
}

// Patch holds the fields an Update merges into the latest stored record.
// Reference models are never touched.
type Patch struct {
	FleetGroup             string `json:"fleet_group"`
	FleetReferenceSourceID string `json:"fleet_reference_source_id,omitempty"`
}

// Apply returns a copy of m with the patch merged in.
func (p Patch) Apply(m *model.Machine) *model.Machine {
	out := m.Clone()
	out.FleetGroup = p.FleetGroup
	out.FleetReferenceSourceID = p.FleetReferenceSourceID
	return out
}

// Skip records a descriptor entry that was left alone.
type Skip struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Reason SkipReason `json:"reason"`
	// FleetGroup is the conflicting group for SkipDifferentFleet.
	FleetGroup string `json:"fleet_group,omitempty"`
}

// CountSkipped returns the number of skips with the given reason.
func (p *Plan) CountSkipped(reason SkipReason) int {
	n := 0
	for _, s := range p.Skipped {
		if s.Reason == reason {
			n++
		}
	}
	return n
}

// Empty reports whether the plan has nothing to write.
func (p *Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0
}

// Prepare validates desc and classifies each entry against the store.
// It only reads from storage.
func (p *Provisioner) Prepare(ctx context.Context, desc *Descriptor) (*Plan, error) {
	if err := Validate(desc); err != nil {
		return nil, err
	}

	fleetName := model.NormalizeName(desc.Fleet.Name)
	plan := &Plan{
		FleetName:      fleetName,
		GoldStandardID: desc.GoldStandardID,
		ToCreate:       []*model.Machine{},
		ToUpdate:       []Update{},
		Skipped:        []Skip{},
		Warnings:       []string{},
	}

	locals := make(map[string]*model.Machine, len(desc.Machines))
	for _, entry := range desc.Machines {
		m, err := p.store.GetMachine(ctx, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, &model.Error{Code: model.CodeInternal, MachineID: entry.ID, Err: fmt.Errorf("load machine: %w", err)}
		}
		locals[entry.ID] = m
	}

	// A gold standard that stays in another fleet cannot be referenced
	// without breaking the same-fleet pointer rule.
	sourceID := desc.GoldStandardID
	if gold, ok := locals[sourceID]; ok && sourceID != "" && gold.FleetGroup != "" && !gold.InFleet(fleetName) {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"gold standard %q belongs to fleet %q; machines will not reference it", sourceID, gold.FleetGroup))
		sourceID = ""
	}

	if desc.GoldStandardID == "" {
		for _, entry := range desc.Machines {
			if entry.IsGoldStandard {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf(
					"machine %q is flagged isGoldStandard but no goldStandardId is declared; flag ignored", entry.ID))
			}
		}
	}

	now := p.now().UTC()
	for _, entry := range desc.Machines {
		isGold := entry.ID == desc.GoldStandardID && desc.GoldStandardID != ""
		local, exists := locals[entry.ID]

		switch {
		case !exists:
			m := &model.Machine{
				ID:         entry.ID,
				Name:       entry.DisplayName(),
				CreatedAt:  now,
				UpdatedAt:  now,
				FleetGroup: fleetName,
				Location:   entry.Location,
				Notes:      entry.Notes,
			}
			if isGold {
				m.ReferenceModels = cloneModels(desc.GoldStandardModels.Models)
			} else {
				m.FleetReferenceSourceID = sourceID
			}
			plan.ToCreate = append(plan.ToCreate, m)

		case local.InFleet(fleetName):
			plan.Skipped = append(plan.Skipped, Skip{ID: entry.ID, Name: local.Name, Reason: SkipAlreadyInFleet})

		case local.FleetGroup != "":
			plan.Skipped = append(plan.Skipped, Skip{
				ID:         entry.ID,
				Name:       local.Name,
				Reason:     SkipDifferentFleet,
				FleetGroup: local.FleetGroup,
			})
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"machine %q already belongs to fleet %q; skipped", entry.ID, local.FleetGroup))

		default:
			patch := Patch{FleetGroup: fleetName}
			if !isGold {
				patch.FleetReferenceSourceID = sourceID
			}
			plan.ToUpdate = append(plan.ToUpdate, Update{Existing: local, Patch: patch})
		}
	}

	if desc.ExportFormatVersion > SupportedExportFormatVersion {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"exportFormatVersion %d is newer than supported version %d; unknown fields ignored",
			desc.ExportFormatVersion, SupportedExportFormatVersion))
	}

	return plan, nil
}

func cloneModels(in []model.ReferenceModel) []model.ReferenceModel {
	out := make([]model.ReferenceModel, len(in))
	for i, m := range in {
		out[i] = slices.Clone(m)
	}
	return out
}
