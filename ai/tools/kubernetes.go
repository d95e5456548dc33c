package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewKubeClient builds a clientset from the in-cluster config when running
// inside a pod, falling back to the local kubeconfig.
func NewKubeClient() (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := ""
		if home, herr := os.UserHomeDir(); herr == nil {
			kubeconfig = fmt.Sprintf("%s/.kube/config", home)
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}
	return kubernetes.NewForConfig(config)
}

// PodStatusTool reads live pod state from the API server: phase, container
// readiness, restart counts and last termination reasons.
type PodStatusTool struct {
	client kubernetes.Interface
}

func NewPodStatusTool(client kubernetes.Interface) *PodStatusTool {
	return &PodStatusTool{client: client}
}

func (t *PodStatusTool) Name() string       { return "get_pod_status" }
func (t *PodStatusTool) Capability() string { return CapabilityKubernetes }

func (t *PodStatusTool) Description() string {
	return "Get current status of a pod: phase, container readiness, restart counts and last termination reason."
}

func (t *PodStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pod_name": map[string]interface{}{
				"type":        "string",
				"description": "Exact pod name.",
			},
			"namespace": map[string]interface{}{
				"type":        "string",
				"description": "Kubernetes namespace. Optional, defaults to 'default'.",
			},
		},
		"required": []string{"pod_name"},
	}
}

type podStatusInput struct {
	PodName   string `json:"pod_name"`
	Namespace string `json:"namespace"`
}

// containerInfo is the per-container summary surfaced to the model.
type containerInfo struct {
	Name          string `json:"name"`
	Ready         bool   `json:"ready"`
	RestartCount  int32  `json:"restart_count"`
	State         string `json:"state"`
	LastExitCode  *int32 `json:"last_exit_code,omitempty"`
	LastExitClass string `json:"last_termination_reason,omitempty"`
}

func (t *PodStatusTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in podStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.PodName == "" {
		return nil, fmt.Errorf("pod_name must not be empty")
	}
	if in.Namespace == "" {
		in.Namespace = "default"
	}

	pod, err := t.client.CoreV1().Pods(in.Namespace).Get(ctx, in.PodName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read pod %s/%s: %w", in.Namespace, in.PodName, err)
	}

	containers := make([]containerInfo, 0, len(pod.Status.ContainerStatuses))
	totalRestarts := int32(0)
	for _, cs := range pod.Status.ContainerStatuses {
		info := containerInfo{
			Name:         cs.Name,
			Ready:        cs.Ready,
			RestartCount: cs.RestartCount,
			State:        containerState(cs.State),
		}
		if term := cs.LastTerminationState.Terminated; term != nil {
			code := term.ExitCode
			info.LastExitCode = &code
			info.LastExitClass = term.Reason
		}
		totalRestarts += cs.RestartCount
		containers = append(containers, info)
	}

	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"name":       pod.Name,
			"namespace":  pod.Namespace,
			"phase":      string(pod.Status.Phase),
			"node":       pod.Spec.NodeName,
			"start_time": pod.Status.StartTime,
			"containers": containers,
			"restarts":   totalRestarts,
		},
		Summary: fmt.Sprintf("pod %s/%s is %s with %d restarts", pod.Namespace, pod.Name, pod.Status.Phase, totalRestarts),
	}, nil
}

func containerState(s corev1.ContainerState) string {
	switch {
	case s.Running != nil:
		return "running"
	case s.Waiting != nil:
		return "waiting: " + s.Waiting.Reason
	case s.Terminated != nil:
		return "terminated: " + s.Terminated.Reason
	default:
		return "unknown"
	}
}

// PodEventsTool lists recent Kubernetes events for a pod, the usual first
// stop for scheduling and OOM questions.
type PodEventsTool struct {
	client kubernetes.Interface
}

func NewPodEventsTool(client kubernetes.Interface) *PodEventsTool {
	return &PodEventsTool{client: client}
}

func (t *PodEventsTool) Name() string       { return "get_pod_events" }
func (t *PodEventsTool) Capability() string { return CapabilityKubernetes }

func (t *PodEventsTool) Description() string {
	return "List recent Kubernetes events for a pod (scheduling, OOM kills, probe failures, image pulls)."
}

func (t *PodEventsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pod_name": map[string]interface{}{
				"type":        "string",
				"description": "Exact pod name.",
			},
			"namespace": map[string]interface{}{
				"type":        "string",
				"description": "Kubernetes namespace. Optional, defaults to 'default'.",
			},
		},
		"required": []string{"pod_name"},
	}
}

func (t *PodEventsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in podStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.PodName == "" {
		return nil, fmt.Errorf("pod_name must not be empty")
	}
	if in.Namespace == "" {
		in.Namespace = "default"
	}

	selector := fmt.Sprintf("involvedObject.name=%s,involvedObject.kind=Pod", in.PodName)
	events, err := t.client.CoreV1().Events(in.Namespace).List(ctx, metav1.ListOptions{FieldSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list events for pod %s/%s: %w", in.Namespace, in.PodName, err)
	}

	type eventInfo struct {
		Type      string `json:"type"`
		Reason    string `json:"reason"`
		Message   string `json:"message"`
		Count     int32  `json:"count"`
		LastSeen  string `json:"last_seen"`
		Component string `json:"component"`
	}

	out := make([]eventInfo, 0, len(events.Items))
	for _, ev := range events.Items {
		out = append(out, eventInfo{
			Type:      ev.Type,
			Reason:    ev.Reason,
			Message:   ev.Message,
			Count:     ev.Count,
			LastSeen:  ev.LastTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
			Component: ev.Source.Component,
		})
	}

	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"pod_name": in.PodName,
			"events":   out,
			"count":    len(out),
		},
		Summary: fmt.Sprintf("found %d events for pod %s/%s", len(out), in.Namespace, in.PodName),
	}, nil
}
