package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// cacheTTL is how long a model response is reused for an identical
// (payload, model chain) fingerprint (spec §4.8 step 1).
const cacheTTL = 10 * time.Minute

// inflight coalesces concurrent cache misses sharing the same fingerprint
// onto a single underlying model invocation (spec §8 scenario 6: "100
// concurrent identical lookups against a cold cache produce exactly one
// underlying compute call"), rather than having every goroutine miss the
// cache and invoke the chain independently.
var inflight singleflight.Group

// invokeModel resolves a selection chain for requirement/preference,
// invokes it with prompt, and caches the response under a fingerprint of
// (tenant, agent kind, payload, chain), so identical resubmits within TTL
// short-circuit the model call entirely.
func invokeModel(ctx context.Context, deps Deps, task taskqueue.Task, requirement modelprovider.Capability, preference []string, prompt string) (modelprovider.Response, error) {
	chain, err := deps.Models.Select(requirement, preference)
	if err != nil {
		return modelprovider.Response{}, err
	}

	key := fingerprint(task, chain)
	if deps.Cache != nil {
		if cached, ok := deps.Cache.Get(ctx, key); ok {
			var resp modelprovider.Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				return resp, nil
			}
		}
	}

	v, err, _ := inflight.Do(key, func() (any, error) {
		resp, _, err := deps.Models.InvokeChain(ctx, chain, prompt, modelprovider.InvokeOptions{})
		if err != nil {
			return modelprovider.Response{}, err
		}
		if deps.Cache != nil {
			if raw, err := json.Marshal(resp); err == nil {
				deps.Cache.Put(ctx, key, raw, cacheTTL)
			}
		}
		return resp, nil
	})
	if err != nil {
		return modelprovider.Response{}, err
	}
	return v.(modelprovider.Response), nil
}

// fingerprint builds the cache key: tenant id first segment (spec §4.5),
// then a hash of the agent kind, payload, and selected chain so distinct
// model chains never collide on the same cached entry.
func fingerprint(task taskqueue.Task, chain []modelprovider.Entry) string {
	names := make([]string, len(chain))
	for i, e := range chain {
		names[i] = e.Name
	}
	payload, _ := json.Marshal(task.Payload)
	h := sha256.New()
	h.Write(payload)
	for _, n := range names {
		h.Write([]byte(n))
	}
	return fmt.Sprintf("%s:agent:%s:%s", task.TenantID, task.AgentKind, hex.EncodeToString(h.Sum(nil)))
}

// payloadString reads a string field from a task payload, defaulting to
// "" if absent or not a string.
func payloadString(payload map[string]any, field string) string {
	v, ok := payload[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
