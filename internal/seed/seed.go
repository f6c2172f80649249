// Package seed provisions a demo tenant with sample users and agent tasks,
// for local development and for operators kicking the tires on a fresh
// deployment. It is idempotent: if the demo tenant already exists it logs a
// message and returns nil.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianai/controlplane/pkg/accesscontrol"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
	"github.com/meridianai/controlplane/pkg/taskqueue"
	"github.com/meridianai/controlplane/pkg/tenant"
)

// DemoTenantDomain is the primary domain of the provisioned demo tenant.
const DemoTenantDomain = "acme.example.com"

// DemoAdminEmail is the email of the demo tenant's seeded admin user.
const DemoAdminEmail = "admin@acme.example.com"

// DemoAdminPassword is the password seeded for the demo admin user. It is
// only created by the seed-demo mode and should never be used in production.
const DemoAdminPassword = "acme-demo-password-1!"

// demoAgentKinds is a representative subset of agent kinds given a sample
// task each, rather than one per every known kind, so a fresh deployment has
// something to inspect without fabricating busywork.
var demoAgentKinds = []string{"sales", "marketing", "content"}

// RunDemo provisions the "Acme Corp" demo tenant, a tenant-admin user, and a
// handful of sample agent tasks. db is used directly (rather than through
// the services below) only to check whether the demo tenant already exists.
func RunDemo(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := persistence.NewPostgres(pool)
	idGen := clock.UUIDGenerator{}
	clk := clock.System{}

	tenantStore := tenant.NewStore(db, idGen, clk)
	tenantSvc := tenant.NewService(tenantStore, logger, "seed-does-not-mint-reseller-credentials")

	if existing, err := tenantStore.GetByDomain(ctx, DemoTenantDomain); err == nil {
		logger.Info("seed: demo tenant already exists, skipping", "tenant_id", existing.ID)
		return nil
	}

	t, err := tenantSvc.CreateTenant(ctx, tenant.CreateTenantInput{
		DisplayName:   "Acme Corp",
		PrimaryDomain: DemoTenantDomain,
		Tier:          tenant.TierProfessional,
		Branding:      map[string]any{"timezone": "Europe/Berlin"},
	})
	if err != nil {
		return fmt.Errorf("provisioning demo tenant: %w", err)
	}
	logger.Info("seed: provisioned tenant", "tenant_id", t.ID, "primary_domain", t.PrimaryDomain)

	acStore := accesscontrol.NewStore(db, idGen, clk)
	auditWriter := accesscontrol.NewAuditWriter(db, idGen, clk, logger)
	limiter := accesscontrol.NewInProcessRateLimiter(10, 0)
	acSvc := accesscontrol.NewService(acStore, limiter, auditWriter, "seed-does-not-mint-sessions", logger)

	admin, err := acSvc.CreateUser(ctx, accesscontrol.CreateUserInput{
		TenantID: t.ID,
		Email:    DemoAdminEmail,
		Password: DemoAdminPassword,
		Role:     accesscontrol.RoleTenantAdmin,
	})
	if err != nil {
		return fmt.Errorf("provisioning demo admin user: %w", err)
	}
	logger.Info("seed: provisioned admin user", "user_id", admin.ID, "email", admin.Email)

	taskStore := taskqueue.NewStore(db, idGen, clk)
	taskSvc := taskqueue.NewService(taskStore, tenantSvc, clk, logger)

	for i, kind := range demoAgentKinds {
		task, err := taskSvc.Submit(ctx, taskqueue.SubmitInput{
			TenantID:    t.ID,
			AgentKind:   kind,
			Payload:     map[string]any{"note": "seeded demo task"},
			Priority:    i,
			SubmittedBy: admin.ID,
		})
		if err != nil {
			return fmt.Errorf("submitting demo task for agent kind %q: %w", kind, err)
		}
		logger.Info("seed: submitted demo task", "task_id", task.ID, "agent_kind", kind)
	}

	logger.Info("seed: demo data provisioned", "tenant_id", t.ID, "users", 1, "tasks", len(demoAgentKinds))
	return nil
}
