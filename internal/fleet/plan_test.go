package fleet

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/testutil"
)

func newTestProvisioner(st *testutil.MemoryStore) *Provisioner {
	clock := testutil.NewStepClockAt(testutil.Epoch, 0)
	return New(st, nil, WithClock(clock.Now))
}

func descriptor(name string, ids ...string) *Descriptor {
	d := &Descriptor{
		Format:              Format,
		SchemaVersion:       "1.0",
		Fleet:               FleetInfo{Name: name},
		ExportFormatVersion: 1,
	}
	for _, id := range ids {
		d.Machines = append(d.Machines, MachineEntry{ID: id, Name: "Machine " + id})
	}
	return d
}

func withGold(d *Descriptor, id string) *Descriptor {
	d.GoldStandardID = id
	d.GoldStandardModels = &model.ModelsBundle{Models: []model.ReferenceModel{json.RawMessage(`{"gold":true}`)}}
	for i := range d.Machines {
		if d.Machines[i].ID == id {
			d.Machines[i].IsGoldStandard = true
		}
	}
	return d
}

func TestPrepare_CreatesWithoutGoldStandard(t *testing.T) {
	st := testutil.NewMemoryStore()
	p := newTestProvisioner(st)

	plan, err := p.Prepare(context.Background(), descriptor("Line A", "m1", "m2"))
	require.NoError(t, err)

	require.Len(t, plan.ToCreate, 2)
	for _, m := range plan.ToCreate {
		assert.Equal(t, "Line A", m.FleetGroup)
		assert.Empty(t, m.FleetReferenceSourceID)
		assert.Equal(t, testutil.Epoch, m.CreatedAt)
	}
	assert.Equal(t, "m1", plan.ToCreate[0].ID)
	assert.Equal(t, "Machine m1", plan.ToCreate[0].Name)
	assert.Empty(t, plan.ToUpdate)
	assert.Empty(t, plan.Skipped)
	assert.Empty(t, plan.Warnings)
}

func TestPrepare_ReadsOnly(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Seed(&model.Machine{ID: "m2"})
	p := newTestProvisioner(st)

	_, err := p.Prepare(context.Background(), withGold(descriptor("Line A", "m1", "m2", "m3"), "m1"))
	require.NoError(t, err)

	assert.Empty(t, st.Saves())
	assert.Empty(t, st.Deletes())
	assert.Equal(t, []string{"m2"}, st.IDs())
}

func TestPrepare_GoldStandardPropagation(t *testing.T) {
	st := testutil.NewMemoryStore()
	p := newTestProvisioner(st)

	plan, err := p.Prepare(context.Background(), withGold(descriptor("Line A", "m1", "m2", "m3"), "m2"))
	require.NoError(t, err)
	require.Len(t, plan.ToCreate, 3)

	for _, m := range plan.ToCreate {
		if m.ID == "m2" {
			assert.Empty(t, m.FleetReferenceSourceID, "gold standard never points at itself")
			require.Len(t, m.ReferenceModels, 1)
			assert.JSONEq(t, `{"gold":true}`, string(m.ReferenceModels[0]))
			continue
		}
		assert.Equal(t, "m2", m.FleetReferenceSourceID)
		assert.Empty(t, m.ReferenceModels)
	}
}

func TestPrepare_GoldModelsAreCopied(t *testing.T) {
	p := newTestProvisioner(testutil.NewMemoryStore())
	desc := withGold(descriptor("Line A", "m1", "m2"), "m1")

	plan, err := p.Prepare(context.Background(), desc)
	require.NoError(t, err)

	desc.GoldStandardModels.Models[0][2] = 'X'
	assert.JSONEq(t, `{"gold":true}`, string(plan.ToCreate[0].ReferenceModels[0]))
}

func TestPrepare_Classification(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Seed(
		&model.Machine{ID: "same", Name: "Same", FleetGroup: "Line A"},
		&model.Machine{ID: "other", Name: "Other", FleetGroup: "Line B"},
		&model.Machine{
			ID:              "loose",
			Name:            "Loose",
			ReferenceModels: []model.ReferenceModel{json.RawMessage(`{"own":1}`)},
		},
	)
	p := newTestProvisioner(st)

	plan, err := p.Prepare(context.Background(), withGold(descriptor("Line A", "gold", "new", "same", "other", "loose"), "gold"))
	require.NoError(t, err)

	require.Len(t, plan.ToCreate, 2)
	assert.Equal(t, "gold", plan.ToCreate[0].ID)
	assert.Equal(t, "new", plan.ToCreate[1].ID)
	assert.Equal(t, "gold", plan.ToCreate[1].FleetReferenceSourceID)

	require.Len(t, plan.ToUpdate, 1)
	u := plan.ToUpdate[0]
	assert.Equal(t, "loose", u.Existing.ID)
	assert.Equal(t, Patch{FleetGroup: "Line A", FleetReferenceSourceID: "gold"}, u.Patch)

	assert.Equal(t, []Skip{
		{ID: "same", Name: "Same", Reason: SkipAlreadyInFleet},
		{ID: "other", Name: "Other", Reason: SkipDifferentFleet, FleetGroup: "Line B"},
	}, plan.Skipped)

	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], `"other"`)
	assert.Contains(t, plan.Warnings[0], `"Line B"`)
}

func TestPrepare_FleetNameNormalized(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Seed(&model.Machine{ID: "m1", FleetGroup: "Café Line"})
	p := newTestProvisioner(st)

	plan, err := p.Prepare(context.Background(), descriptor("  Café Line ", "m1", "m2"))
	require.NoError(t, err)

	assert.Equal(t, "Café Line", plan.FleetName)
	assert.Equal(t, 1, plan.CountSkipped(SkipAlreadyInFleet))
	assert.Equal(t, "Café Line", plan.ToCreate[0].FleetGroup)
}

func TestPrepare_AdoptedGoldStandardHasNoPointer(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Seed(&model.Machine{ID: "m1", FleetReferenceSourceID: "stale"})
	p := newTestProvisioner(st)

	plan, err := p.Prepare(context.Background(), withGold(descriptor("Line A", "m1", "m2"), "m1"))
	require.NoError(t, err)

	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, Patch{FleetGroup: "Line A"}, plan.ToUpdate[0].Patch)
	assert.Equal(t, "m1", plan.ToCreate[0].FleetReferenceSourceID)
}

func TestPrepare_GoldStandardInOtherFleet(t *testing.T) {
	st := testutil.NewMemoryStore()
	st.Seed(&model.Machine{ID: "m1", FleetGroup: "Line B"})
	p := newTestProvisioner(st)

	plan, err := p.Prepare(context.Background(), withGold(descriptor("Line A", "m1", "m2"), "m1"))
	require.NoError(t, err)

	require.Len(t, plan.ToCreate, 1)
	assert.Empty(t, plan.ToCreate[0].FleetReferenceSourceID)
	assert.Len(t, plan.Warnings, 2)
}

func TestPrepare_Warnings(t *testing.T) {
	p := newTestProvisioner(testutil.NewMemoryStore())
	desc := descriptor("Line A", "m1", "m2")
	desc.Machines[0].IsGoldStandard = true
	desc.ExportFormatVersion = SupportedExportFormatVersion + 1

	plan, err := p.Prepare(context.Background(), desc)
	require.NoError(t, err)

	require.Len(t, plan.Warnings, 2)
	assert.Contains(t, plan.Warnings[0], "isGoldStandard")
	assert.Contains(t, plan.Warnings[1], "exportFormatVersion 2")
	assert.Len(t, plan.ToCreate, 2)
}

func TestPrepare_RejectsUnsupportedSchemaVersion(t *testing.T) {
	st := testutil.NewMemoryStore()
	p := newTestProvisioner(st)
	desc := descriptor("Line A", "m1", "m2")
	desc.SchemaVersion = "2.0"

	plan, err := p.Prepare(context.Background(), desc)
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.Equal(t, CodeUnsupportedSchemaVersion, ValidationCode(err))
	assert.Empty(t, st.Saves())
}

func TestPatch_ApplyDoesNotAlias(t *testing.T) {
	m := &model.Machine{ID: "m1", ReferenceModels: []model.ReferenceModel{json.RawMessage(`1`)}}
	out := Patch{FleetGroup: "A", FleetReferenceSourceID: "g"}.Apply(m)

	assert.Equal(t, "A", out.FleetGroup)
	assert.Empty(t, m.FleetGroup)
	assert.Equal(t, m.ReferenceModels, out.ReferenceModels)
}
