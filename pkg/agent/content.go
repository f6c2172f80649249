package agent

import (
	"context"
	"fmt"

	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// contentWorker drafts content across formats (spec §4.7), preferring
// long-context-capable models since drafts may embed substantial source
// material.
type contentWorker struct{}

func (contentWorker) kind() Kind { return KindContent }

func (contentWorker) handle(ctx context.Context, deps Deps, task taskqueue.Task) (map[string]any, error) {
	format := payloadString(task.Payload, "format")
	brief := payloadString(task.Payload, "brief")

	prompt := fmt.Sprintf("Draft %s content for this brief:\n%s", orDefault(format, "article"), brief)

	resp, err := invokeModel(ctx, deps, task, modelprovider.CapLongContext, nil, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"draft": resp.Text,
		"model": resp.Model,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
