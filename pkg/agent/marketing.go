package agent

import (
	"context"
	"fmt"

	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// marketingWorker handles campaign planning and channel mix recommendations
// (spec §4.7).
type marketingWorker struct{}

func (marketingWorker) kind() Kind { return KindMarketing }

func (marketingWorker) handle(ctx context.Context, deps Deps, task taskqueue.Task) (map[string]any, error) {
	objective := payloadString(task.Payload, "objective")
	audience := payloadString(task.Payload, "audience")
	budget := payloadString(task.Payload, "budget")

	prompt := fmt.Sprintf("Recommend a campaign plan and channel mix.\nObjective: %s\nAudience: %s\nBudget: %s",
		objective, audience, budget)

	resp, err := invokeModel(ctx, deps, task, modelprovider.CapText, nil, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"plan":  resp.Text,
		"model": resp.Model,
	}, nil
}
