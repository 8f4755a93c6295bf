package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(s)
			require.NoError(t, err)
			requirePass(t, result)
			assert.Len(t, result.Outcomes, len(s.Steps))
		})
	}
}

func TestRunDir_AllPass(t *testing.T) {
	res, err := RunDir("testdata/scenarios")
	require.NoError(t, err)

	assert.Positive(t, res.Total)
	assert.Equal(t, res.Total, res.Passed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Failures)
}

func TestRunDir_ReportsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: [unterminated")
	writeScenario(t, dir, "failing.yml", `
name: failing
description: Expects a route that is never produced.
steps:
  - link: "#/settings"
    expect:
      route: machine
assertions:
  - type: event_count
    event: route_changed
    count: 0
`)
	writeScenario(t, dir, "notes.txt", "ignored")

	res, err := RunDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 0, res.Passed)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Failures, 2)
	assert.Empty(t, res.Failures[0].Name)
	assert.Equal(t, "failing", res.Failures[1].Name)
	assert.Contains(t, res.Failures[1].Errors[0], "steps[0].expect.route")
}

func TestRunDir_MissingDir(t *testing.T) {
	_, err := RunDir(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestRun_FirstVisitThenRevisit(t *testing.T) {
	result, err := Run(loadTestScenario(t, "machine_first_visit"))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Outcomes, 2)
	assert.True(t, result.Outcomes[0].MachineCreated)
	assert.Equal(t, "download", result.Outcomes[0].Action)
	assert.False(t, result.Outcomes[1].MachineCreated)
	assert.Equal(t, "none", result.Outcomes[1].Action)

	for _, e := range result.Trace {
		if e.Event == EventDownloadProgress {
			assert.Equal(t, int64(1), e.Seq, "revisit must not download")
		}
	}
}

func TestRun_CommitRollbackLeavesStoreUntouched(t *testing.T) {
	result, err := Run(loadTestScenario(t, "fleet_commit_rollback"))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Machines, 1)
	assert.Equal(t, "m9", result.Machines[0].ID)
	assert.Equal(t, "commit_failed", result.Outcomes[0].Error)
	assert.Nil(t, result.Outcomes[0].Fleet)
}

func TestRun_ConflictWarning(t *testing.T) {
	result, err := Run(loadTestScenario(t, "fleet_conflict_preserved"))
	require.NoError(t, err)
	requirePass(t, result)

	out := result.Outcomes[0]
	require.NotNil(t, out.Fleet)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], `"m3"`)
	assert.Contains(t, out.Warnings[0], `"Line B"`)
}

func TestRun_ExpectMismatches(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatches
description: Every expect field disagrees with the outcome.
remote:
  /acme/fleet-line-a.json: |
    {"format": "machine-fleet", "schemaVersion": "1.0", "fleet": {"name": "Line A"},
     "machines": [{"id": "m1"}, {"id": "m2"}], "exportFormatVersion": 1}
steps:
  - link: "#/f/line-a?c=acme"
    expect:
      route: machine
      error: commit_failed
      created: 1
      updated: 1
      skipped: 1
  - link: "#/m/ghost"
    expect:
      error: none
      action: download
assertions:
  - type: store_ids
    ids: [m1, m2]
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "steps[0].expect.route: expected machine, got fleet")
	assert.Contains(t, joined, "steps[0].expect.error: expected commit_failed, got none")
	assert.Contains(t, joined, "steps[0].expect.created: expected 1, got 2")
	assert.Contains(t, joined, "steps[0].expect.updated: expected 1, got 0")
	assert.Contains(t, joined, "steps[0].expect.skipped: expected 1, got 0")
	assert.Contains(t, joined, "steps[1].expect.error: expected no error, got not_found")
	assert.Contains(t, joined, "steps[1].expect.action: expected download, got none")
	assert.Len(t, result.Errors, 7)
}

func TestRun_InvalidOverlapPolicy(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	s.OverlapPolicy = "newest"

	_, err = Run(s)
	require.Error(t, err)
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "machine_first_visit")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ValidationReasonReachesTrace(t *testing.T) {
	result, err := Run(loadTestScenario(t, "fleet_unsupported_schema"))
	require.NoError(t, err)
	requirePass(t, result)

	assert.Equal(t, "unsupported_schema_version", result.Outcomes[0].Reason)
	var reasons []string
	for _, e := range result.Trace {
		if e.Event == EventDownloadError {
			reasons = append(reasons, e.Reason)
		}
	}
	assert.Equal(t, []string{"unsupported_schema_version"}, reasons)
}
