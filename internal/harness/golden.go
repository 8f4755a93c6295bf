package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fleetsync/internal/model"
)

// Snapshot captures a scenario execution for golden comparison.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName string
	TraceToken   string
	Result       *Result
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON
// serialization. model.MarshalCanonical only handles maps, slices and
// primitives, so every record is flattened and empty optional fields are
// omitted.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, e := range s.Result.Trace {
		m := map[string]any{
			"event": e.Event,
			"seq":   e.Seq,
		}
		putString(m, "route", e.Route)
		putString(m, "id", e.ID)
		putString(m, "machine", e.Machine)
		putString(m, "status", e.Status)
		putString(m, "code", e.Code)
		putString(m, "reason", e.Reason)
		putString(m, "url", e.URL)
		putString(m, "fleet", e.Fleet)
		switch e.Event {
		case EventMachineReady:
			m["models"] = e.Models
		case EventDownloadProgress:
			m["percent"] = e.Percent
		case EventFleetReady:
			m["count"] = e.Count
		}
		trace[i] = m
	}

	outcomes := make([]any, len(s.Result.Outcomes))
	for i, o := range s.Result.Outcomes {
		m := map[string]any{
			"seq":   o.Seq,
			"route": o.Route,
		}
		putString(m, "error", o.Error)
		putString(m, "reason", o.Reason)
		putString(m, "action", o.Action)
		if o.MachineCreated {
			m["machine_created"] = true
		}
		if o.Fleet != nil {
			m["created"] = o.Fleet.Created
			m["updated"] = o.Fleet.Updated
			m["skipped"] = o.Fleet.Skipped
			m["already_in_fleet"] = o.Fleet.AlreadyInFleet
			m["warnings"] = append([]string{}, o.Warnings...)
		}
		outcomes[i] = m
	}

	machines := make([]any, len(s.Result.Machines))
	for i, ms := range s.Result.Machines {
		m := map[string]any{
			"id":     ms.ID,
			"name":   ms.Name,
			"models": ms.Models,
		}
		putString(m, "fleet_group", ms.FleetGroup)
		putString(m, "fleet_reference_source_id", ms.FleetReferenceSourceID)
		machines[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"outcomes":      outcomes,
		"machines":      machines,
	}
	if s.TraceToken != "" {
		out["trace_token"] = s.TraceToken
	}
	return out
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// MarshalSnapshot renders the canonical JSON of a scenario result.
func MarshalSnapshot(scenario *Scenario, result *Result) ([]byte, error) {
	snap := Snapshot{
		ScenarioName: scenario.Name,
		TraceToken:   scenario.TraceToken,
		Result:       result,
	}
	return model.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}
