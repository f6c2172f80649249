// Package tenant implements the Tenant Store: tenant CRUD, subscription
// tier quota bundles, and reseller package provisioning.
package tenant

import (
	"time"
)

// Collection is the persistence.Port collection name for tenants.
const Collection = "tenants"

// Tier is a subscription tier name.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Quotas is the fixed quota bundle for a subscription tier (spec §6 table).
// MaxAgents/MaxUsers of 0 means unlimited.
type Quotas struct {
	MaxAgents             int `json:"max_agents"`
	MaxUsers              int `json:"max_users"`
	TasksPerDay           int `json:"tasks_per_day"`
	CacheEntries          int `json:"cache_entries"`
	ConcurrentTasksPerAgent int `json:"concurrent_tasks_per_agent"`
}

// tierQuotas is the authoritative tier → quota bundle mapping. Tier changes
// take effect on the next dispatch, never retroactively (spec §4.4): callers
// re-resolve quotas from the tenant's current tier at dispatch time rather
// than caching them on the task.
var tierQuotas = map[Tier]Quotas{
	TierStarter:      {MaxAgents: 3, MaxUsers: 10, TasksPerDay: 5_000, CacheEntries: 1_000, ConcurrentTasksPerAgent: 2},
	TierProfessional: {MaxAgents: 10, MaxUsers: 50, TasksPerDay: 25_000, CacheEntries: 10_000, ConcurrentTasksPerAgent: 8},
	TierEnterprise:   {MaxAgents: 0, MaxUsers: 0, TasksPerDay: 100_000, CacheEntries: 100_000, ConcurrentTasksPerAgent: 32},
}

// QuotasFor returns the quota bundle for a tier, defaulting to starter for
// an unrecognised tier rather than granting unlimited access.
func QuotasFor(t Tier) Quotas {
	if q, ok := tierQuotas[t]; ok {
		return q
	}
	return tierQuotas[TierStarter]
}

// Status is the lifecycle status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is the persisted tenant record (spec §3).
type Tenant struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"display_name"`
	PrimaryDomain  string          `json:"primary_domain"`
	Branding       map[string]any  `json:"branding,omitempty"`
	Tier           Tier            `json:"subscription_tier"`
	FeatureFlags   map[string]bool `json:"feature_flags,omitempty"`
	Status         Status          `json:"status"`
	IsReseller     bool            `json:"is_reseller"`
	APICredential  string          `json:"api_credential,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Quotas resolves the tenant's current quota bundle from its tier.
func (t Tenant) Quotas() Quotas {
	return QuotasFor(t.Tier)
}

// Active reports whether the tenant may accept new work.
func (t Tenant) Active() bool {
	return t.Status == StatusActive
}
