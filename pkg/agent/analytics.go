package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// analyticsWorker shapes reports from supplied numeric inputs (spec §4.7),
// preferring reasoning-capable models for interpreting the figures.
type analyticsWorker struct{}

func (analyticsWorker) kind() Kind { return KindAnalytics }

func (analyticsWorker) handle(ctx context.Context, deps Deps, task taskqueue.Task) (map[string]any, error) {
	metrics, _ := json.Marshal(task.Payload["metrics"])
	question := payloadString(task.Payload, "question")

	prompt := fmt.Sprintf("Shape a report from these metrics, answering: %s\nMetrics: %s", question, string(metrics))

	resp, err := invokeModel(ctx, deps, task, modelprovider.CapReasoning, nil, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"report": resp.Text,
		"model":  resp.Model,
	}, nil
}
