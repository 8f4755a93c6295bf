// Package dispatch owns the navigation-event subscription and routes each
// deep link to the machine synchronizer or the fleet provisioner.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Navigation events are handled one at a time in the goroutine that calls
// Dispatcher.Run. This ensures:
//   - No parallel route handling against the local store
//   - Listener callbacks are never invoked concurrently
//   - Repeated identical links produce identical outcomes
//
// Event Processing Flow:
//  1. A Source delivers a hash; Navigate stamps it with a trace token and a
//     logical sequence number and enqueues it
//  2. Run dequeues events one at a time
//  3. Handle resolves the Route and dispatches by type
//  4. Results and failures are reported through the Listener
//
// OVERLAP POLICY:
// A link that arrives while another is being handled is either queued
// behind it (PolicySerialize, the default) or replaces any links still
// waiting (PolicyLatestWins). The link in progress always completes.
//
// Errors never escape Handle: every phase reports through the Listener and
// the returned Outcome.
package dispatch
