// Package route parses deep-link fragments into typed routes.
//
// Supported links (the leading '#' is optional):
//
//	#/m/<machineId>?c=<customerId>        machine, preferred
//	#/m/<machineId>?ref=<encoded-url>     machine, legacy
//	#/f/<fleetId>?c=<customerId>          fleet
//	#/import?url=<encoded-url>            import
//
// Parsing is pure: no I/O, no clock, identical input yields an identical Route.
// Anything that does not match degrades to TypeUnknown.
package route

import (
	"net/url"
	"strings"
)

// Type is the kind of intent a deep link encodes.
type Type string

const (
	TypeMachine Type = "machine"
	TypeFleet   Type = "fleet"
	TypeImport  Type = "import"
	TypeUnknown Type = "unknown"
)

// Route is a parsed deep-link intent. It is an immutable value.
type Route struct {
	Type             Type   `json:"type"`
	MachineID        string `json:"machine_id,omitempty"`
	FleetID          string `json:"fleet_id,omitempty"`
	CustomerID       string `json:"customer_id,omitempty"`
	ReferenceDataURL string `json:"reference_data_url,omitempty"`
	FleetDataURL     string `json:"fleet_data_url,omitempty"`
	ImportURL        string `json:"import_url,omitempty"`
}

// Unknown is the route produced for anything unparseable.
var Unknown = Route{Type: TypeUnknown}

// Resolver parses deep links against a remote base location.
type Resolver struct {
	base string
}

// NewResolver creates a Resolver deriving dataset URLs below base.
// An empty base selects DefaultBaseURL.
func NewResolver(base string) *Resolver {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Resolver{base: base}
}

// Base returns the base URL used for derived locations.
func (r *Resolver) Base() string {
	return r.base
}

var defaultResolver = NewResolver(DefaultBaseURL)

// Parse parses hash using DefaultBaseURL.
func Parse(hash string) Route {
	return defaultResolver.Parse(hash)
}

// Parse turns a deep-link fragment into a Route.
func (r *Resolver) Parse(hash string) Route {
	hash = strings.TrimSpace(hash)
	hash = strings.TrimPrefix(hash, "#")

	path, rawQuery, _ := strings.Cut(hash, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Unknown
	}

	if path == "/import" {
		return parseImport(query)
	}

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) != 2 || !strings.HasPrefix(path, "/") {
		return Unknown
	}
	id, err := url.PathUnescape(segments[1])
	if err != nil || strings.TrimSpace(id) == "" {
		return Unknown
	}

	switch segments[0] {
	case "m":
		return r.parseMachine(id, query)
	case "f":
		return r.parseFleet(id, query)
	default:
		return Unknown
	}
}

func parseImport(query url.Values) Route {
	target := strings.TrimSpace(query.Get("url"))
	if !IsAbsoluteURL(target) {
		return Unknown
	}
	return Route{Type: TypeImport, ImportURL: target}
}

func (r *Resolver) parseMachine(id string, query url.Values) Route {
	rt := Route{Type: TypeMachine, MachineID: id}

	// c wins over the legacy ref parameter when both are present
	if customer := strings.TrimSpace(query.Get("c")); customer != "" {
		rt.CustomerID = customer
		rt.ReferenceDataURL = r.BuildURLFromCustomerID(customer)
		return rt
	}
	if ref := strings.TrimSpace(query.Get("ref")); ref != "" {
		rt.ReferenceDataURL = ref
	}
	return rt
}

func (r *Resolver) parseFleet(id string, query url.Values) Route {
	customer := strings.TrimSpace(query.Get("c"))
	if customer == "" {
		return Unknown
	}
	return Route{
		Type:         TypeFleet,
		FleetID:      id,
		CustomerID:   customer,
		FleetDataURL: r.BuildFleetURL(customer, id),
	}
}

// Hash renders the route back into a deep-link fragment. Unknown routes
// render as the empty string.
func (rt Route) Hash() string {
	switch rt.Type {
	case TypeMachine:
		h := "#/m/" + url.PathEscape(rt.MachineID)
		if rt.CustomerID != "" {
			return h + "?c=" + url.QueryEscape(rt.CustomerID)
		}
		if rt.ReferenceDataURL != "" {
			return h + "?ref=" + url.QueryEscape(rt.ReferenceDataURL)
		}
		return h
	case TypeFleet:
		return "#/f/" + url.PathEscape(rt.FleetID) + "?c=" + url.QueryEscape(rt.CustomerID)
	case TypeImport:
		return "#/import?url=" + url.QueryEscape(rt.ImportURL)
	default:
		return ""
	}
}
