package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Essential cluster signals queried when no specific metric is requested.
var essentialQueries = map[string]string{
	"pod_cpu_usage":      `sum(rate(container_cpu_usage_seconds_total{container!=""}[5m])) by (namespace, pod)`,
	"pod_memory_bytes":   `sum(container_memory_working_set_bytes{container!=""}) by (namespace, pod)`,
	"pod_restarts":       `sum(kube_pod_container_status_restarts_total) by (namespace, pod)`,
	"pod_oom_events":     `sum(kube_pod_container_status_last_terminated_reason{reason="OOMKilled"}) by (namespace, pod)`,
	"pod_not_ready":      `sum(kube_pod_status_ready{condition="false"}) by (namespace, pod)`,
	"node_cpu_usage":     `1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m])) by (instance)`,
	"node_memory_free":   `node_memory_MemAvailable_bytes`,
	"http_error_rate":    `sum(rate(http_requests_total{status=~"5.."}[5m])) by (namespace, service)`,
	"http_latency_p99":   `histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket[5m])) by (le, service))`,
	"container_throttle": `sum(rate(container_cpu_cfs_throttled_periods_total[5m])) by (namespace, pod)`,
}

// prometheusClient performs instant and range queries against the
// Prometheus HTTP API.
type prometheusClient struct {
	baseURL string
	http    *http.Client
}

func newPrometheusClient(baseURL string) *prometheusClient {
	return &prometheusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// prometheusResponse is the subset of the API response we care about.
type prometheusResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string            `json:"resultType"`
		Result     []json.RawMessage `json:"result"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

func (c *prometheusClient) query(ctx context.Context, endpoint string, params url.Values) (*prometheusResponse, error) {
	u := fmt.Sprintf("%s/api/v1/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*MaxToolResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed prometheusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode prometheus response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("prometheus query error: %s", parsed.Error)
	}
	return &parsed, nil
}

// EssentialMetricsTool queries the curated set of cluster health signals,
// optionally scoped to a namespace and pod.
type EssentialMetricsTool struct {
	client *prometheusClient
}

func NewEssentialMetricsTool(prometheusURL string) *EssentialMetricsTool {
	return &EssentialMetricsTool{client: newPrometheusClient(prometheusURL)}
}

func (t *EssentialMetricsTool) Name() string       { return "query_essential_metrics" }
func (t *EssentialMetricsTool) Capability() string { return CapabilityMetrics }

func (t *EssentialMetricsTool) Description() string {
	return "Query essential cluster health metrics (CPU, memory, restarts, OOM events, error rates). " +
		"Use this first to get an overview before drilling into specific metrics."
}

func (t *EssentialMetricsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"namespace": map[string]interface{}{
				"type":        "string",
				"description": "Kubernetes namespace to filter by. Optional.",
			},
			"pod_name": map[string]interface{}{
				"type":        "string",
				"description": "Pod name (or prefix) to filter by. Optional.",
			},
		},
	}
}

type essentialMetricsInput struct {
	Namespace string `json:"namespace"`
	PodName   string `json:"pod_name"`
}

func (t *EssentialMetricsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in essentialMetricsInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	results := make(map[string]interface{}, len(essentialQueries))
	failed := 0
	for name, promQL := range essentialQueries {
		q := scopeQuery(promQL, in.Namespace, in.PodName)
		params := url.Values{"query": {q}}
		resp, err := t.client.query(ctx, "query", params)
		if err != nil {
			results[name] = map[string]interface{}{"error": err.Error()}
			failed++
			continue
		}
		results[name] = resp.Data.Result
	}

	if failed == len(essentialQueries) {
		return &Result{
			Success: false,
			Error:   "all essential metric queries failed",
			Data:    results,
		}, nil
	}

	return &Result{
		Success: true,
		Data:    results,
		Summary: fmt.Sprintf("queried %d essential metrics (%d failed)", len(essentialQueries), failed),
	}, nil
}

// scopeQuery narrows a PromQL expression with namespace/pod matchers by
// wrapping it in a label filter where possible. Falls back to the raw query
// when the expression has no obvious injection point.
func scopeQuery(promQL, namespace, pod string) string {
	var matchers []string
	if namespace != "" {
		matchers = append(matchers, fmt.Sprintf(`namespace=%q`, namespace))
	}
	if pod != "" {
		matchers = append(matchers, fmt.Sprintf(`pod=~%q`, pod+".*"))
	}
	if len(matchers) == 0 {
		return promQL
	}

	filter := strings.Join(matchers, ",")
	// Inject into the innermost selector when the query uses one.
	if idx := strings.Index(promQL, "{"); idx >= 0 {
		return promQL[:idx+1] + filter + "," + promQL[idx+1:]
	}
	return promQL
}

// SpecificMetricsTool runs PromQL for explicitly named metrics over an
// optional time range.
type SpecificMetricsTool struct {
	client *prometheusClient
}

func NewSpecificMetricsTool(prometheusURL string) *SpecificMetricsTool {
	return &SpecificMetricsTool{client: newPrometheusClient(prometheusURL)}
}

func (t *SpecificMetricsTool) Name() string       { return "query_specific_metrics" }
func (t *SpecificMetricsTool) Capability() string { return CapabilityMetrics }

func (t *SpecificMetricsTool) Description() string {
	return "Query specific metrics by name over an optional time range. " +
		"Use after query_essential_metrics when a particular signal needs investigation."
}

func (t *SpecificMetricsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"metric_names": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "List of specific metric names to query.",
			},
			"namespace": map[string]interface{}{
				"type":        "string",
				"description": "Kubernetes namespace to filter by. Optional.",
			},
			"pod_name": map[string]interface{}{
				"type":        "string",
				"description": "Pod name (or prefix) to filter by. Optional.",
			},
			"start_time": map[string]interface{}{
				"type":        "string",
				"description": "Start time in RFC3339 format. Optional.",
			},
			"end_time": map[string]interface{}{
				"type":        "string",
				"description": "End time in RFC3339 format. Optional.",
			},
			"step": map[string]interface{}{
				"type":        "string",
				"description": "Range query resolution step, e.g. 60s. Optional, defaults to 60s.",
			},
		},
		"required": []string{"metric_names"},
	}
}

type specificMetricsInput struct {
	MetricNames []string `json:"metric_names"`
	Namespace   string   `json:"namespace"`
	PodName     string   `json:"pod_name"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Step        string   `json:"step"`
}

func (t *SpecificMetricsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in specificMetricsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(in.MetricNames) == 0 {
		return nil, fmt.Errorf("metric_names must not be empty")
	}

	endpoint := "query"
	ranged := in.StartTime != "" && in.EndTime != ""
	if ranged {
		endpoint = "query_range"
	}

	results := make(map[string]interface{}, len(in.MetricNames))
	failed := 0
	for _, name := range in.MetricNames {
		q := scopeQuery(name+"{}", in.Namespace, in.PodName)
		params := url.Values{"query": {q}}
		if ranged {
			params.Set("start", in.StartTime)
			params.Set("end", in.EndTime)
			step := in.Step
			if step == "" {
				step = "60s"
			}
			params.Set("step", step)
		}

		resp, err := t.client.query(ctx, endpoint, params)
		if err != nil {
			results[name] = map[string]interface{}{"error": err.Error()}
			failed++
			continue
		}
		results[name] = map[string]interface{}{
			"result_type": resp.Data.ResultType,
			"result":      resp.Data.Result,
		}
	}

	return &Result{
		Success: failed < len(in.MetricNames),
		Data:    results,
		Summary: fmt.Sprintf("queried %d metrics (%d failed)", len(in.MetricNames), failed),
	}, nil
}

// MetricNamesTool lists available metric names, optionally filtered by a
// substring. Useful when the model wants to discover what is scraped.
type MetricNamesTool struct {
	client *prometheusClient
}

func NewMetricNamesTool(prometheusURL string) *MetricNamesTool {
	return &MetricNamesTool{client: newPrometheusClient(prometheusURL)}
}

func (t *MetricNamesTool) Name() string       { return "list_metric_names" }
func (t *MetricNamesTool) Capability() string { return CapabilityMetrics }

func (t *MetricNamesTool) Description() string {
	return "List available metric names, optionally filtered by a substring."
}

func (t *MetricNamesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filter": map[string]interface{}{
				"type":        "string",
				"description": "Substring to filter metric names by. Optional.",
			},
		},
	}
}

func (t *MetricNamesTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in struct {
		Filter string `json:"filter"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	u := fmt.Sprintf("%s/api/v1/label/__name__/values", t.client.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode prometheus response: %w", err)
	}

	names := parsed.Data
	if in.Filter != "" {
		filtered := names[:0]
		for _, n := range names {
			if strings.Contains(n, in.Filter) {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"metric_names": names, "count": len(names)},
		Summary: fmt.Sprintf("found %d metric names", len(names)),
	}, nil
}
