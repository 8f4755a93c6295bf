package model

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ReferenceModel is one opaque trained acoustic signature.
// It is produced and consumed outside fleetsync and stored verbatim.
type ReferenceModel = json.RawMessage

// Machine is the local durable record of a monitored asset.
type Machine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ReferenceModels is ordered; position matters to the scoring layer.
	ReferenceModels []ReferenceModel `json:"reference_models,omitempty"`

	// ReferenceDataURL is the remote source for dataset updates.
	ReferenceDataURL string `json:"reference_data_url,omitempty"`

	// FleetGroup names the fleet this machine belongs to. Empty means none.
	FleetGroup string `json:"fleet_group,omitempty"`

	// FleetReferenceSourceID is a weak reference to the fleet's gold standard.
	FleetReferenceSourceID string `json:"fleet_reference_source_id,omitempty"`

	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing
// a record held elsewhere.
func (m *Machine) Clone() *Machine {
	if m == nil {
		return nil
	}
	out := *m
	if m.ReferenceModels != nil {
		out.ReferenceModels = make([]ReferenceModel, len(m.ReferenceModels))
		for i, rm := range m.ReferenceModels {
			out.ReferenceModels[i] = slices.Clone(rm)
		}
	}
	return &out
}

// InFleet reports whether the machine is assigned to the named fleet.
func (m *Machine) InFleet(name string) bool {
	return m.FleetGroup != "" && NormalizeName(m.FleetGroup) == NormalizeName(name)
}

// ModelsBundle is the wire shape of a set of reference models, used by
// goldStandardModels in fleet descriptors and by reference datasets.
type ModelsBundle struct {
	Version string           `json:"version,omitempty"`
	Models  []ReferenceModel `json:"models"`
}

// ReferenceDataset is the locally stored copy of a machine's remote dataset.
type ReferenceDataset struct {
	MachineID string           `json:"machine_id"`
	Version   string           `json:"version"`
	SourceURL string           `json:"source_url,omitempty"`
	FetchedAt time.Time        `json:"fetched_at"`
	Models    []ReferenceModel `json:"models"`
}

// NormalizeName trims surrounding whitespace and applies NFC normalization
// so that visually identical fleet names compare equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
