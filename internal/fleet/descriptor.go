package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/roach88/fleetsync/internal/model"
)

// Format is the required value of a descriptor's format tag.
const Format = "machine-fleet"

// SupportedSchemaMajor is the descriptor schema major version this engine
// understands.
const SupportedSchemaMajor = 1

// SupportedExportFormatVersion is the newest exportFormatVersion this
// engine knows about. Newer versions only produce a warning.
const SupportedExportFormatVersion = 1

// Descriptor is a RemoteFleetDescriptor.
type Descriptor struct {
	Format              string              `json:"format"`
	SchemaVersion       string              `json:"schemaVersion"`
	Fleet               FleetInfo           `json:"fleet"`
	Machines            []MachineEntry      `json:"machines"`
	GoldStandardID      string              `json:"goldStandardId,omitempty"`
	GoldStandardModels  *model.ModelsBundle `json:"goldStandardModels,omitempty"`
	ExportFormatVersion int                 `json:"exportFormatVersion,omitempty"`
}

// FleetInfo names the fleet.
type FleetInfo struct {
	Name string `json:"name"`
}

// MachineEntry is one machine listed in a descriptor.
type MachineEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	Location       string `json:"location,omitempty"`
	Notes          string `json:"notes,omitempty"`
	IsGoldStandard bool   `json:"isGoldStandard,omitempty"`
}

// DisplayName returns the entry's name, falling back to its ID.
func (e MachineEntry) DisplayName() string {
	if strings.TrimSpace(e.Name) == "" {
		return e.ID
	}
	return e.Name
}

// Validation sub-codes carried in model.Error.Detail and ValidationError.Code.
const (
	CodeNotAnObject               = "not_an_object"
	CodeWrongFormat               = "wrong_format"
	CodeUnsupportedSchemaVersion  = "unsupported_schema_version"
	CodeMissingFleetName          = "missing_fleet_name"
	CodeInvalidShape              = "invalid_shape"
	CodeNeedAtLeast2Machines      = "need_at_least_2_machines"
	CodeDuplicateMachineIDs       = "duplicate_machine_ids"
	CodeGoldStandardNotFound      = "gold_standard_not_found"
	CodeGoldStandardNotFlagged    = "gold_standard_not_flagged"
	CodeGoldStandardAmbiguous     = "gold_standard_ambiguous"
	CodeGoldStandardMissingModels = "gold_standard_missing_models"
)

// ValidationError describes why a descriptor was rejected.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// reject wraps a ValidationError in a *model.Error so callers can use
// either model.CodeOf or errors.As.
func reject(code, field, format string, args ...any) error {
	return &model.Error{
		Code:   model.CodeFleetValidationFailed,
		Detail: code,
		Err:    &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)},
	}
}

// ValidationCode returns the validation sub-code carried by err, or "".
func ValidationCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// DecodeDescriptor parses and validates a descriptor. Comments and
// trailing commas are stripped before decoding.
//
// Checks run in a fixed order and stop at the first failure: JSON object,
// format tag, schema version, fleet name, structural shape, machine count,
// duplicate IDs, gold standard.
func DecodeDescriptor(raw []byte) (*Descriptor, error) {
	clean := jsonc.ToJSON(raw)

	var generic any
	if err := json.Unmarshal(clean, &generic); err != nil {
		return nil, reject(CodeNotAnObject, "", "descriptor is not valid JSON: %v", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, reject(CodeNotAnObject, "", "descriptor must be a JSON object")
	}

	format, _ := obj["format"].(string)
	schemaVersion, _ := obj["schemaVersion"].(string)
	var fleetName string
	if fleet, ok := obj["fleet"].(map[string]any); ok {
		fleetName, _ = fleet["name"].(string)
	}
	if err := checkHeader(format, schemaVersion, fleetName); err != nil {
		return nil, err
	}

	if err := checkShape(clean); err != nil {
		return nil, err
	}

	var desc Descriptor
	if err := json.Unmarshal(clean, &desc); err != nil {
		return nil, reject(CodeInvalidShape, "", "decode descriptor: %v", err)
	}

	if err := Validate(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Validate checks the semantic rules of a decoded descriptor.
func Validate(desc *Descriptor) error {
	if err := checkHeader(desc.Format, desc.SchemaVersion, desc.Fleet.Name); err != nil {
		return err
	}

	if len(desc.Machines) < 2 {
		return reject(CodeNeedAtLeast2Machines, "machines", "fleet must list at least 2 machines, got %d", len(desc.Machines))
	}

	seen := make(map[string]bool, len(desc.Machines))
	for i, m := range desc.Machines {
		if m.ID == "" {
			return reject(CodeInvalidShape, fmt.Sprintf("machines[%d].id", i), "machine id is required")
		}
		if seen[m.ID] {
			return reject(CodeDuplicateMachineIDs, fmt.Sprintf("machines[%d].id", i), "duplicate machine id %q", m.ID)
		}
		seen[m.ID] = true
	}

	if desc.GoldStandardID != "" {
		return checkGoldStandard(desc)
	}
	return nil
}

func checkHeader(format, schemaVersion, fleetName string) error {
	if format != Format {
		return reject(CodeWrongFormat, "format", "expected %q, got %q", Format, format)
	}
	major, ok := schemaMajor(schemaVersion)
	if !ok || major != SupportedSchemaMajor {
		return reject(CodeUnsupportedSchemaVersion, "schemaVersion", "schema version %q not supported (major %d expected)", schemaVersion, SupportedSchemaMajor)
	}
	if strings.TrimSpace(fleetName) == "" {
		return reject(CodeMissingFleetName, "fleet.name", "fleet name is required")
	}
	return nil
}

// schemaMajor parses the major component of a "<major>.<minor>" version.
func schemaMajor(v string) (int, bool) {
	majorStr, minorStr, found := strings.Cut(strings.TrimSpace(v), ".")
	if !found {
		return 0, false
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return 0, false
	}
	if _, err := strconv.Atoi(minorStr); err != nil {
		return 0, false
	}
	return major, true
}

func checkGoldStandard(desc *Descriptor) error {
	var match *MachineEntry
	flagged := 0
	for i := range desc.Machines {
		m := &desc.Machines[i]
		if m.IsGoldStandard {
			flagged++
		}
		if m.ID == desc.GoldStandardID {
			match = m
		}
	}

	switch {
	case match == nil:
		return reject(CodeGoldStandardNotFound, "goldStandardId", "gold standard %q is not listed", desc.GoldStandardID)
	case !match.IsGoldStandard:
		return reject(CodeGoldStandardNotFlagged, "goldStandardId", "machine %q is not flagged isGoldStandard", desc.GoldStandardID)
	case flagged > 1:
		return reject(CodeGoldStandardAmbiguous, "machines", "%d machines are flagged isGoldStandard", flagged)
	case desc.GoldStandardModels == nil || len(desc.GoldStandardModels.Models) == 0:
		return reject(CodeGoldStandardMissingModels, "goldStandardModels", "gold standard model bundle is empty")
	}
	return nil
}
