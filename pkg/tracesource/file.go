package tracesource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/sirupsen/logrus"
)

// fileBatch is one dataset run stored in a trace file. An empty AgentID
// matches every agent.
type fileBatch struct {
	Dataset string  `json:"dataset"`
	RunName string  `json:"run_name"`
	AgentID string  `json:"agent_id,omitempty"`
	Traces  []Trace `json:"traces"`
}

type fileDocument struct {
	Batches []fileBatch `json:"batches"`
}

type fileSource struct {
	log  logrus.FieldLogger
	path string
}

// Ensure interface compliance.
var _ Source = (*fileSource)(nil)

// NewFileSource creates a Source that reads batches from a JSON file on
// every fetch, so edits are picked up without a restart.
func NewFileSource(log logrus.FieldLogger, path string) Source {
	return &fileSource{
		log:  log.WithField("component", "trace-file"),
		path: path,
	}
}

func (f *fileSource) FetchTraces(
	_ context.Context,
	agent *catalog.Agent,
	datasetRef, runName string,
) ([]Trace, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing trace file: %w", err)
	}

	for _, b := range doc.Batches {
		if b.Dataset != datasetRef || b.RunName != runName {
			continue
		}

		if b.AgentID != "" && (agent == nil || agent.ID != b.AgentID) {
			continue
		}

		return b.Traces, nil
	}

	f.log.WithFields(logrus.Fields{
		"dataset":  datasetRef,
		"run_name": runName,
	}).Debug("No matching trace batch")

	return []Trace{}, nil
}
