package tracesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errNotFound marks a 404 from the Langfuse API.
var errNotFound = errors.New("langfuse: not found")

type langfuseSource struct {
	log         logrus.FieldLogger
	baseURL     string
	publicKey   string
	secretKey   string
	concurrency int
	client      *http.Client
}

// Ensure interface compliance.
var _ Source = (*langfuseSource)(nil)

// NewLangfuseSource creates a Source backed by the Langfuse public API.
func NewLangfuseSource(log logrus.FieldLogger, cfg *config.LangfuseConfig) Source {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultLangfuseConcurrency
	}

	return &langfuseSource{
		log:         log.WithField("component", "langfuse"),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		publicKey:   cfg.PublicKey,
		secretKey:   cfg.SecretKey,
		concurrency: concurrency,
		client:      &http.Client{Timeout: timeout},
	}
}

type datasetRunResponse struct {
	Name            string `json:"name"`
	DatasetRunItems []struct {
		ID            string `json:"id"`
		TraceID       string `json:"traceId"`
		DatasetItemID string `json:"datasetItemId"`
	} `json:"datasetRunItems"`
}

type traceResponse struct {
	ID       string         `json:"id"`
	Output   any            `json:"output"`
	Metadata map[string]any `json:"metadata"`
	Scores   []struct {
		Name  string   `json:"name"`
		Value *float64 `json:"value"`
	} `json:"scores"`
}

type datasetItemResponse struct {
	ID             string `json:"id"`
	ExpectedOutput any    `json:"expectedOutput"`
}

// traceMetadata is the part of a trace's free-form metadata we read.
type traceMetadata struct {
	Expected any `mapstructure:"expected"`
}

// FetchTraces lists the items of the dataset run and loads every linked
// trace. The expected text comes from the trace metadata, falling back to
// the dataset item's expected output.
func (l *langfuseSource) FetchTraces(
	ctx context.Context,
	agent *catalog.Agent,
	datasetRef, runName string,
) ([]Trace, error) {
	var run datasetRunResponse

	err := l.get(ctx, fmt.Sprintf(
		"/api/public/datasets/%s/runs/%s",
		url.PathEscape(datasetRef), url.PathEscape(runName),
	), &run)
	if errors.Is(err, errNotFound) {
		l.log.WithFields(logrus.Fields{
			"dataset":  datasetRef,
			"run_name": runName,
		}).Warn("Dataset run not found")

		return []Trace{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("fetching dataset run: %w", err)
	}

	traces := make([]Trace, len(run.DatasetRunItems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for i, item := range run.DatasetRunItems {
		g.Go(func() error {
			trace, err := l.fetchTrace(gctx, item.TraceID, item.DatasetItemID)
			if err != nil {
				return fmt.Errorf("fetching trace %s: %w", item.TraceID, err)
			}

			traces[i] = trace

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"dataset":  datasetRef,
		"run_name": runName,
		"traces":   len(traces),
	}
	if agent != nil {
		fields["agent_id"] = agent.ID
	}

	l.log.WithFields(fields).Debug("Fetched traces")

	return traces, nil
}

func (l *langfuseSource) fetchTrace(
	ctx context.Context, traceID, datasetItemID string,
) (Trace, error) {
	var resp traceResponse
	if err := l.get(ctx, "/api/public/traces/"+url.PathEscape(traceID), &resp); err != nil {
		return Trace{}, err
	}

	trace := Trace{
		ID:     resp.ID,
		Scores: make(map[string]float64, len(resp.Scores)),
	}

	for _, s := range resp.Scores {
		if s.Value != nil && s.Name != "" {
			trace.Scores[s.Name] = *s.Value
		}
	}

	trace.Generated = textOf(resp.Output)

	var meta traceMetadata
	if err := mapstructure.Decode(resp.Metadata, &meta); err != nil {
		return Trace{}, fmt.Errorf("decoding trace metadata: %w", err)
	}

	trace.Expected = textOf(meta.Expected)

	if trace.Expected == nil && datasetItemID != "" {
		var item datasetItemResponse

		err := l.get(ctx, "/api/public/dataset-items/"+url.PathEscape(datasetItemID), &item)
		if err != nil && !errors.Is(err, errNotFound) {
			return Trace{}, fmt.Errorf("fetching dataset item: %w", err)
		}

		trace.Expected = textOf(item.ExpectedOutput)
	}

	return trace, nil
}

func (l *langfuseSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.SetBasicAuth(l.publicKey, l.secretKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	l.log.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Langfuse request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("GET %s: unexpected status %d: %s",
			path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	return nil
}

// textOf renders a Langfuse input/output value as text. Strings are used
// verbatim, structured values are JSON encoded, nil stays absent.
func textOf(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}

		s := string(b)

		return &s
	}
}
