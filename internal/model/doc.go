// Package model provides the domain types shared by every fleetsync package.
//
// This package contains type definitions, the error taxonomy and canonical
// JSON helpers. All other internal packages import model; model imports
// nothing internal.
//
// Key design constraints:
//   - Machine IDs are opaque strings and unique within a store
//   - Reference models are opaque JSON blobs, never interpreted here
//   - FleetReferenceSourceID never points at the machine that holds it
//   - Fleet names are compared after NFC normalization (see NormalizeName)
package model
