package agent

import (
	"context"
	"fmt"

	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// operationsWorker handles workflow automation descriptors, invoice
// processing, and client onboarding (spec §4.7).
type operationsWorker struct{}

func (operationsWorker) kind() Kind { return KindOperations }

func (operationsWorker) handle(ctx context.Context, deps Deps, task taskqueue.Task) (map[string]any, error) {
	workflow := payloadString(task.Payload, "workflow")
	subject := payloadString(task.Payload, "subject")

	prompt := fmt.Sprintf("Produce a workflow automation descriptor.\nWorkflow: %s\nSubject: %s", workflow, subject)

	resp, err := invokeModel(ctx, deps, task, modelprovider.CapText, nil, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"descriptor": resp.Text,
		"model":      resp.Model,
	}, nil
}
