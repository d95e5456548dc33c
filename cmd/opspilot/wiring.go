package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/opspilot/opspilot/ai/agents"
	"github.com/opspilot/opspilot/ai/agents/orchestrator"
	"github.com/opspilot/opspilot/ai/agents/swarm"
	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/metrics"
	"github.com/opspilot/opspilot/ai/tools"
	"github.com/opspilot/opspilot/ai/workflow"
	"github.com/opspilot/opspilot/internal/profile"
	"github.com/opspilot/opspilot/server"
)

// buildServer assembles the whole pipeline: tools, reasoning service, teams,
// orchestrator, metrics and the HTTP surface.
func buildServer(p *profile.Profile) (*server.Server, error) {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	contexts := workflow.NewContextManager()

	registry, service, err := buildBackends(p)
	if err != nil {
		return nil, err
	}
	registry.SetExecuteHook(func(name string, elapsed time.Duration, success bool) {
		exporter.RecordToolCall(name, elapsed, success)
	})

	metricTeam, err := swarm.NewMetricTeam(service, registry, contexts, p.LLMRetries, p.TeamMessageLimit)
	if err != nil {
		return nil, err
	}
	logTeam, err := swarm.NewLogTeam(service, registry, contexts, p.LLMRetries, p.TeamMessageLimit)
	if err != nil {
		return nil, err
	}
	recordTokens := func(agent string, stats *llm.CallStats) {
		exporter.RecordLLMTokens(agent, stats.PromptTokens, stats.CompletionTokens)
	}
	metricTeam.SetStatsHook(recordTokens)
	logTeam.SetStatsHook(recordTokens)

	report := agents.NewReportAgent(service, registry, contexts, p.LLMRetries)
	report.SetStatsHook(func(stats *llm.CallStats) {
		recordTokens(agents.AgentReport, stats)
	})

	orch := orchestrator.New([]*swarm.Team{metricTeam, logTeam}, report, contexts, orchestrator.Config{
		MaxMessages:         p.MaxMessages,
		TeamMessageLimit:    p.TeamMessageLimit,
		ConfidenceThreshold: p.ConfidenceThreshold,
		ExchangeTimeout:     p.ExchangeTimeout,
		ParallelTeams:       p.ParallelTeams,
	})
	orch.SetMetrics(exporter)

	if !p.IsDemo() {
		go service.Warmup(context.Background())
	}

	return server.New(p, orch, contexts, exporter), nil
}

// buildBackends selects real or mock data sources by mode.
func buildBackends(p *profile.Profile) (*tools.Registry, llm.Service, error) {
	if p.IsDemo() {
		return tools.NewDemoRegistry(), newDemoService(), nil
	}

	registry := tools.NewRegistry()
	if p.PrometheusURL != "" {
		registry.MustRegister(
			tools.NewEssentialMetricsTool(p.PrometheusURL),
			tools.NewSpecificMetricsTool(p.PrometheusURL),
			tools.NewMetricNamesTool(p.PrometheusURL),
		)
	} else {
		slog.Warn("no Prometheus URL configured, metric tools disabled")
	}
	if p.LokiURL != "" {
		registry.MustRegister(
			tools.NewPodLogsTool(p.LokiURL),
			tools.NewErrorLogsTool(p.LokiURL),
		)
	} else {
		slog.Warn("no Loki URL configured, log tools disabled")
	}

	// Kubernetes access is best-effort: outside a cluster without a
	// kubeconfig the pod tools are simply absent.
	if client, err := tools.NewKubeClient(); err == nil {
		registry.MustRegister(
			tools.NewPodStatusTool(client),
			tools.NewPodEventsTool(client),
		)
	} else {
		slog.Warn("kubernetes client unavailable, pod tools disabled", "error", err)
	}

	service, err := llm.NewService(&llm.Config{
		Provider:   p.LLMProvider,
		Model:      p.LLMModel,
		APIKey:     p.LLMAPIKey,
		BaseURL:    p.LLMBaseURL,
		Timeout:    p.LLMTimeout,
		RatePerSec: p.LLMRate,
	})
	if err != nil {
		return nil, nil, err
	}
	return registry, service, nil
}
