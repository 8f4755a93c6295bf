package harness

// Event kinds recorded in the trace, one per listener callback.
const (
	EventRouteChanged     = "route_changed"
	EventMachineReady     = "machine_ready"
	EventDownloadProgress = "download_progress"
	EventDownloadError    = "download_error"
	EventImportRequested  = "import_requested"
	EventFleetReady       = "fleet_ready"
)

// TraceEvent is one listener callback observed during a step.
type TraceEvent struct {
	Event   string `json:"event"`
	Seq     int64  `json:"seq"`
	Route   string `json:"route,omitempty"`
	ID      string `json:"id,omitempty"`
	Machine string `json:"machine,omitempty"`
	Models  int    `json:"models,omitempty"`
	Status  string `json:"status,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
	URL     string `json:"url,omitempty"`
	Fleet   string `json:"fleet,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// StepOutcome summarizes the dispatcher outcome of one step.
type StepOutcome struct {
	Seq   int64  `json:"seq"`
	Route string `json:"route"`
	Error string `json:"error,omitempty"`

	// Reason is the validation sub-code of a rejected fleet descriptor.
	Reason string `json:"reason,omitempty"`

	// Machine routes.
	Action         string `json:"action,omitempty"`
	MachineCreated bool   `json:"machine_created,omitempty"`

	// Fleet routes.
	Fleet    *FleetCounts `json:"fleet,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// FleetCounts are the counters of a successful fleet commit.
type FleetCounts struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Skipped        int `json:"skipped"`
	AlreadyInFleet int `json:"already_in_fleet"`
}

// MachineSnapshot is the stable subset of a stored machine.
type MachineSnapshot struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	FleetGroup             string `json:"fleet_group,omitempty"`
	FleetReferenceSourceID string `json:"fleet_reference_source_id,omitempty"`
	Models                 int    `json:"models"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds listener events in emission order.
	Trace []TraceEvent `json:"trace"`

	// Outcomes holds one entry per step.
	Outcomes []StepOutcome `json:"outcomes"`

	// Machines is the final store content ordered by ID.
	Machines []MachineSnapshot `json:"machines"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Outcomes: []StepOutcome{},
		Machines: []MachineSnapshot{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the event kinds of the trace in order.
func (r *Result) Events() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.Event
	}
	return out
}

// Machine returns the snapshot for id, or nil.
func (r *Result) Machine(id string) *MachineSnapshot {
	for i := range r.Machines {
		if r.Machines[i].ID == id {
			return &r.Machines[i]
		}
	}
	return nil
}
