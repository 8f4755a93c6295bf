package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end run: remote content, initial store
// content, a sequence of links and the checks that must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TraceToken is the fixed trace token stamped on every navigation.
	// If empty, defaults to "test-trace-default".
	TraceToken string `yaml:"trace_token,omitempty"`

	// OverlapPolicy is passed to the dispatcher. Steps are handled one at a
	// time, so it only matters for scenarios that exercise Navigate.
	OverlapPolicy string `yaml:"overlap_policy,omitempty"`

	// Remote maps request paths to response bodies.
	Remote map[string]string `yaml:"remote,omitempty"`

	// Machines are stored before the first step.
	Machines []SeedMachine `yaml:"machines,omitempty"`

	// FailSaveOn lists machine IDs whose saves fail.
	FailSaveOn []string `yaml:"fail_save_on,omitempty"`

	// Steps are handled in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and store.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedMachine is a machine present before the scenario starts.
type SeedMachine struct {
	ID                     string `yaml:"id"`
	Name                   string `yaml:"name,omitempty"`
	FleetGroup             string `yaml:"fleet_group,omitempty"`
	FleetReferenceSourceID string `yaml:"fleet_reference_source_id,omitempty"`
	ReferenceDataPath      string `yaml:"reference_data_path,omitempty"`
	Models                 int    `yaml:"models,omitempty"`
	DatasetVersion         string `yaml:"dataset_version,omitempty"`
}

// Step is one deep link handed to the dispatcher.
type Step struct {
	Link   string        `yaml:"link"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks the outcome of a step. Unset fields are not checked.
type ExpectClause struct {
	// Route is the expected route type.
	Route string `yaml:"route,omitempty"`

	// Error is the expected error code; "none" requires success.
	Error string `yaml:"error,omitempty"`

	// Reason is the expected validation sub-code.
	Reason string `yaml:"reason,omitempty"`

	// Action is the expected machine sync action.
	Action string `yaml:"action,omitempty"`

	Created *int `yaml:"created,omitempty"`
	Updated *int `yaml:"updated,omitempty"`
	Skipped *int `yaml:"skipped,omitempty"`
}

// Assertion validates the trace or final store.
type Assertion struct {
	// Type selects the assertion; see the package documentation.
	Type string `yaml:"type"`

	// Event is the kind for event_contains and event_count.
	Event string `yaml:"event,omitempty"`

	// Events is the ordered kinds for event_order.
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number for event_count.
	Count int `yaml:"count,omitempty"`

	// Machine is the ID for machine_state and machine_absent.
	Machine string `yaml:"machine,omitempty"`

	// Expect holds field values for machine_state (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// IDs is the exact ID set for store_ids.
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertMachineState  = "machine_state"
	AssertMachineAbsent = "machine_absent"
	AssertStoreIDs      = "store_ids"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for path := range s.Remote {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("remote path %q must start with /", path)
		}
	}

	seen := make(map[string]bool, len(s.Machines))
	for i, m := range s.Machines {
		if m.ID == "" {
			return fmt.Errorf("machines[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("machines[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.DatasetVersion != "" && m.Models == 0 {
			return fmt.Errorf("machines[%d]: dataset_version requires models", i)
		}
	}

	for i, step := range s.Steps {
		if strings.TrimSpace(step.Link) == "" {
			return fmt.Errorf("steps[%d]: link is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_contains", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertMachineState:
		if a.Machine == "" {
			return fmt.Errorf("assertions[%d]: machine is required for machine_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for machine_state", index)
		}
	case AssertMachineAbsent:
		if a.Machine == "" {
			return fmt.Errorf("assertions[%d]: machine is required for machine_absent", index)
		}
	case AssertStoreIDs:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: ids is required for store_ids (use [] for none)", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
