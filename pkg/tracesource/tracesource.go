// Package tracesource fetches scored agent traces from an observability
// backend.
package tracesource

import (
	"context"

	"github.com/mosaico-wp2/agentbench/pkg/catalog"
)

// Trace is one agent execution with its externally computed scores and
// the expected/generated texts, either of which may be absent.
type Trace struct {
	ID        string             `json:"id"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Expected  *string            `json:"expected,omitempty"`
	Generated *string            `json:"generated,omitempty"`
}

// HasText reports whether both texts are present.
func (t Trace) HasText() bool {
	return t.Expected != nil && t.Generated != nil
}

// Source fetches the traces of one dataset run. An unknown or empty batch
// yields an empty slice, not an error.
type Source interface {
	FetchTraces(
		ctx context.Context,
		agent *catalog.Agent,
		datasetRef, runName string,
	) ([]Trace, error)
}
