// Package fleet provisions multi-machine fleets from a remote descriptor.
//
// Provisioning is a two-phase protocol:
//
//   - Prepare validates the descriptor and classifies every entry against
//     the local store (create, update, skip). It only reads.
//   - Commit persists creates in order, then merges updates. Any write
//     failure deletes the machines created so far and reports
//     CodeCommitFailed. Updates are idempotent merges and are never
//     rolled back.
//
// The local store is not re-read for conflicts between the two phases; a
// change made by another process in that window is not detected.
//
// # Descriptor
//
// Descriptors are JSON (comments allowed) with this shape:
//
//	{
//	  "format": "machine-fleet",
//	  "schemaVersion": "1.0",
//	  "fleet": {"name": "Line A"},
//	  "machines": [{"id": "m1", "name": "Pump 1", "isGoldStandard": true}, ...],
//	  "goldStandardId": "m1",
//	  "goldStandardModels": {"models": [...]},
//	  "exportFormatVersion": 1
//	}
//
// The structural shape is checked against an embedded CUE schema.
package fleet
