package testutil

// FixedTraceGenerator generates the same trace token every time.
//
// This enables deterministic dispatcher logs and listener assertions: every
// navigation event handled with the same generator carries the same token.
//
// Thread-safety: FixedTraceGenerator is stateless and safe for concurrent use.
type FixedTraceGenerator struct {
	token string
}

// NewFixedTraceGenerator creates a new fixed trace token generator.
//
// If token is empty, Generate() returns "test-trace-default".
func NewFixedTraceGenerator(token string) *FixedTraceGenerator {
	if token == "" {
		token = "test-trace-default"
	}
	return &FixedTraceGenerator{token: token}
}

// Generate returns the fixed trace token.
//
// Implements dispatch.TraceGenerator.
func (g *FixedTraceGenerator) Generate() string {
	return g.token
}
