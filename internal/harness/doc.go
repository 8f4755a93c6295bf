// Package harness runs YAML scenarios against the real dispatcher,
// synchronizer and provisioner.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	trace_token: trace-fixed-1
//	remote:
//	  /acme/db-latest.json: '{"version": "1.0.0", "models": [{"k": 1}]}'
//	machines:
//	  - id: m3
//	    name: Pump 3
//	    fleet_group: Line B
//	fail_save_on: [m2]
//	steps:
//	  - link: "#/f/line-a?c=acme"
//	    expect:
//	      error: commit_failed
//	assertions:
//	  - type: event_order
//	    events: [route_changed, download_error]
//	  - type: store_ids
//	    ids: [m3]
//
// remote maps request paths to response bodies served from a local HTTP
// server that also acts as the resolver base URL, so "?c=acme" resolves to
// /acme/db-latest.json and /acme/fleet-<id>.json. machines are seeded into an
// in-memory store before the first step. fail_save_on makes every save of the
// listed machine IDs fail.
//
// # Assertion Types
//
//   - event_contains: an event of the given kind was emitted
//   - event_order: the given kinds appear in this relative order
//   - event_count: the given kind was emitted exactly N times
//   - machine_state: a stored machine matches the expected fields
//   - machine_absent: no machine with the ID is stored
//   - store_ids: the store holds exactly these machine IDs
//
// # Deterministic Testing
//
// Every run uses a fixed trace token, a step clock starting at
// testutil.Epoch and a fresh in-memory store, so the recorded event trace
// and the final store snapshot are stable enough for golden comparison.
package harness
