package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// lokiClient talks to the Loki query_range HTTP API.
type lokiClient struct {
	baseURL string
	http    *http.Client
}

func newLokiClient(baseURL string) *lokiClient {
	return &lokiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// lokiStream is one labelled log stream with its raw entries.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     []lokiStream `json:"result"`
	} `json:"data"`
}

func (c *lokiClient) queryRange(ctx context.Context, logQL string, start, end time.Time, limit int) ([]lokiStream, error) {
	params := url.Values{
		"query":     {logQL},
		"start":     {strconv.FormatInt(start.UnixNano(), 10)},
		"end":       {strconv.FormatInt(end.UnixNano(), 10)},
		"limit":     {strconv.Itoa(limit)},
		"direction": {"backward"},
	}

	u := fmt.Sprintf("%s/loki/api/v1/query_range?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loki request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*MaxToolResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed lokiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode loki response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("loki query did not succeed: %s", parsed.Status)
	}
	return parsed.Data.Result, nil
}

// logEntry is a flattened log line returned to the reasoning model.
type logEntry struct {
	Timestamp string            `json:"timestamp"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func flattenStreams(streams []lokiStream, maxEntries int) []logEntry {
	entries := make([]logEntry, 0, maxEntries)
	for _, s := range streams {
		for _, v := range s.Values {
			if len(entries) >= maxEntries {
				return entries
			}
			ts := v[0]
			if ns, err := strconv.ParseInt(v[0], 10, 64); err == nil {
				ts = time.Unix(0, ns).UTC().Format(time.RFC3339)
			}
			entries = append(entries, logEntry{
				Timestamp: ts,
				Line:      v[1],
				Labels:    s.Stream,
			})
		}
	}
	return entries
}

// PodLogsTool fetches recent logs for a pod, optionally filtered by a search
// pattern.
type PodLogsTool struct {
	client *lokiClient
}

func NewPodLogsTool(lokiURL string) *PodLogsTool {
	return &PodLogsTool{client: newLokiClient(lokiURL)}
}

func (t *PodLogsTool) Name() string       { return "query_pod_logs" }
func (t *PodLogsTool) Capability() string { return CapabilityLogs }

func (t *PodLogsTool) Description() string {
	return "Fetch recent logs for a pod from Loki, optionally filtered by a search pattern."
}

func (t *PodLogsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pod_name": map[string]interface{}{
				"type":        "string",
				"description": "Pod name or prefix to fetch logs for.",
			},
			"namespace": map[string]interface{}{
				"type":        "string",
				"description": "Kubernetes namespace. Optional, defaults to all namespaces.",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Substring to filter log lines by. Optional.",
			},
			"since_minutes": map[string]interface{}{
				"type":        "integer",
				"description": "How far back to look, in minutes. Optional, defaults to 30.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of log lines. Optional, defaults to 100.",
			},
		},
		"required": []string{"pod_name"},
	}
}

type podLogsInput struct {
	PodName      string `json:"pod_name"`
	Namespace    string `json:"namespace"`
	Pattern      string `json:"pattern"`
	SinceMinutes int    `json:"since_minutes"`
	Limit        int    `json:"limit"`
}

func buildLogQL(in podLogsInput) string {
	selector := fmt.Sprintf(`pod=~%q`, in.PodName+".*")
	if in.Namespace != "" {
		selector = fmt.Sprintf(`namespace=%q,`, in.Namespace) + selector
	}
	q := "{" + selector + "}"
	if in.Pattern != "" {
		q += fmt.Sprintf(" |= %q", in.Pattern)
	}
	return q
}

func (t *PodLogsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in podLogsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.PodName == "" {
		return nil, fmt.Errorf("pod_name must not be empty")
	}
	if in.SinceMinutes <= 0 {
		in.SinceMinutes = 30
	}
	if in.Limit <= 0 || in.Limit > 500 {
		in.Limit = 100
	}

	end := time.Now()
	start := end.Add(-time.Duration(in.SinceMinutes) * time.Minute)
	streams, err := t.client.queryRange(ctx, buildLogQL(in), start, end, in.Limit)
	if err != nil {
		return nil, err
	}

	entries := flattenStreams(streams, in.Limit)
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"pod_name": in.PodName,
			"entries":  entries,
			"count":    len(entries),
		},
		Summary: fmt.Sprintf("fetched %d log lines for pod %s", len(entries), in.PodName),
	}, nil
}

// Error patterns matched by the error-log tool, same set the log summarizer
// keys on.
var errorPatterns = []string{
	"error", "ERROR", "Error",
	"exception", "Exception",
	"fatal", "FATAL",
	"panic", "OOMKilled", "CrashLoopBackOff",
	"fail", "FAIL",
}

// ErrorLogsTool fetches only error-level lines for a pod, pre-filtered so the
// reasoning model doesn't burn context on healthy logs.
type ErrorLogsTool struct {
	client *lokiClient
}

func NewErrorLogsTool(lokiURL string) *ErrorLogsTool {
	return &ErrorLogsTool{client: newLokiClient(lokiURL)}
}

func (t *ErrorLogsTool) Name() string       { return "query_error_logs" }
func (t *ErrorLogsTool) Capability() string { return CapabilityLogs }

func (t *ErrorLogsTool) Description() string {
	return "Fetch only error-level log lines (errors, exceptions, panics, OOM kills) for a pod."
}

func (t *ErrorLogsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pod_name": map[string]interface{}{
				"type":        "string",
				"description": "Pod name or prefix to fetch error logs for.",
			},
			"namespace": map[string]interface{}{
				"type":        "string",
				"description": "Kubernetes namespace. Optional.",
			},
			"since_minutes": map[string]interface{}{
				"type":        "integer",
				"description": "How far back to look, in minutes. Optional, defaults to 60.",
			},
		},
		"required": []string{"pod_name"},
	}
}

func (t *ErrorLogsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in podLogsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.PodName == "" {
		return nil, fmt.Errorf("pod_name must not be empty")
	}
	if in.SinceMinutes <= 0 {
		in.SinceMinutes = 60
	}

	selector := fmt.Sprintf(`pod=~%q`, in.PodName+".*")
	if in.Namespace != "" {
		selector = fmt.Sprintf(`namespace=%q,`, in.Namespace) + selector
	}
	q := fmt.Sprintf("{%s} |~ %q", selector, strings.Join(errorPatterns, "|"))

	end := time.Now()
	start := end.Add(-time.Duration(in.SinceMinutes) * time.Minute)
	streams, err := t.client.queryRange(ctx, q, start, end, 200)
	if err != nil {
		return nil, err
	}

	entries := flattenStreams(streams, 200)
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"pod_name":    in.PodName,
			"entries":     entries,
			"error_count": len(entries),
		},
		Summary: fmt.Sprintf("found %d error lines for pod %s", len(entries), in.PodName),
	}, nil
}
