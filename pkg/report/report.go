// Package report archives run summaries to remote storage.
package report

import (
	"context"
	"time"

	"github.com/docker/go-units"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

// Summary is the archived record of a finished run.
type Summary struct {
	Run         store.Run          `json:"run"`
	Duration    string             `json:"duration,omitempty"`
	KPIs        []store.KPIHistory `json:"kpis"`
	Metrics     map[string]float64 `json:"metrics"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// NewSummary assembles a summary for run.
func NewSummary(
	run *store.Run,
	kpis []store.KPIHistory,
	metrics map[string]float64,
	now time.Time,
) *Summary {
	s := &Summary{
		Run:         *run,
		KPIs:        kpis,
		Metrics:     metrics,
		GeneratedAt: now.UTC(),
	}

	if s.KPIs == nil {
		s.KPIs = []store.KPIHistory{}
	}

	if s.Metrics == nil {
		s.Metrics = map[string]float64{}
	}

	if d := run.Duration(); d > 0 {
		s.Duration = units.HumanDuration(d)
	}

	return s
}

// Uploader stores run summaries.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	Preflight(ctx context.Context) error

	// Upload writes the summary and returns the object key.
	Upload(ctx context.Context, summary *Summary) (string, error)
}

type noopUploader struct{}

// Ensure interface compliance.
var _ Uploader = noopUploader{}

// NewNoopUploader returns an uploader that discards summaries.
func NewNoopUploader() Uploader {
	return noopUploader{}
}

func (noopUploader) Preflight(context.Context) error { return nil }

func (noopUploader) Upload(context.Context, *Summary) (string, error) { return "", nil }
