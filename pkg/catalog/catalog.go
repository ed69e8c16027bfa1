// Package catalog resolves benchmark and agent definitions.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a benchmark or agent is not defined.
var ErrNotFound = errors.New("not found")

// Agent is an agent under evaluation.
type Agent struct {
	ID       string            `yaml:"id" json:"id"`
	Name     string            `yaml:"name" json:"name"`
	Version  string            `yaml:"version,omitempty" json:"version,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Specification holds a KPI formula as written plus its format version and
// the legacy type hint.
type Specification struct {
	Formula string `yaml:"formula,omitempty" json:"formula,omitempty"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
}

// KPI is a named formula over aggregated metrics with an optional target band.
type KPI struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	Specification Specification `yaml:"specification" json:"specification"`
	TargetMin     *float64      `yaml:"target_min,omitempty" json:"target_min,omitempty"`
	TargetMax     *float64      `yaml:"target_max,omitempty" json:"target_max,omitempty"`
}

// Benchmark is a dataset evaluation with its KPIs and trace-batch defaults.
type Benchmark struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	DatasetRef string `yaml:"dataset_ref" json:"dataset_ref"`
	RunName    string `yaml:"run_name,omitempty" json:"run_name,omitempty"`
	KPIs       []KPI  `yaml:"kpis,omitempty" json:"kpis,omitempty"`
}

// Catalog looks up benchmark and agent definitions.
type Catalog interface {
	FindBenchmark(ctx context.Context, id string) (*Benchmark, error)
	FindAgent(ctx context.Context, id string) (*Agent, error)
	ListBenchmarks(ctx context.Context) ([]Benchmark, error)
}

type document struct {
	Agents     []Agent     `yaml:"agents"`
	Benchmarks []Benchmark `yaml:"benchmarks"`
}

type catalog struct {
	agents     map[string]Agent
	benchmarks map[string]Benchmark
}

// Ensure interface compliance.
var _ Catalog = (*catalog)(nil)

// New builds an in-memory catalog from the given definitions.
func New(agents []Agent, benchmarks []Benchmark) (Catalog, error) {
	c := &catalog{
		agents:     make(map[string]Agent, len(agents)),
		benchmarks: make(map[string]Benchmark, len(benchmarks)),
	}

	for i, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d: id is required", i)
		}

		if _, exists := c.agents[a.ID]; exists {
			return nil, fmt.Errorf("agent %d: duplicate id %q", i, a.ID)
		}

		c.agents[a.ID] = a
	}

	for i, b := range benchmarks {
		if b.ID == "" {
			return nil, fmt.Errorf("benchmark %d: id is required", i)
		}

		if _, exists := c.benchmarks[b.ID]; exists {
			return nil, fmt.Errorf("benchmark %d: duplicate id %q", i, b.ID)
		}

		c.benchmarks[b.ID] = b
	}

	return c, nil
}

// LoadFile reads a YAML catalog document from path.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	return New(doc.Agents, doc.Benchmarks)
}

func (c *catalog) FindBenchmark(_ context.Context, id string) (*Benchmark, error) {
	b, ok := c.benchmarks[id]
	if !ok {
		return nil, fmt.Errorf("benchmark %s: %w", id, ErrNotFound)
	}

	return &b, nil
}

func (c *catalog) FindAgent(_ context.Context, id string) (*Agent, error) {
	a, ok := c.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}

	return &a, nil
}

func (c *catalog) ListBenchmarks(_ context.Context) ([]Benchmark, error) {
	out := make([]Benchmark, 0, len(c.benchmarks))
	for _, b := range c.benchmarks {
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}
