package agent

import (
	"context"
	"fmt"

	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// salesWorker handles lead qualification, pipeline analysis, and proposal
// drafting (spec §4.7). Payload carries lead/company details.
type salesWorker struct{}

func (salesWorker) kind() Kind { return KindSales }

func (salesWorker) handle(ctx context.Context, deps Deps, task taskqueue.Task) (map[string]any, error) {
	leadName := payloadString(task.Payload, "lead_name")
	company := payloadString(task.Payload, "company")
	stage := payloadString(task.Payload, "stage")

	prompt := fmt.Sprintf("Qualify this sales lead and draft next steps.\nLead: %s\nCompany: %s\nPipeline stage: %s",
		leadName, company, stage)

	resp, err := invokeModel(ctx, deps, task, modelprovider.CapText, nil, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"qualification": resp.Text,
		"model":         resp.Model,
	}, nil
}
