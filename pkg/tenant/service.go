package tenant

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/meridianai/controlplane/internal/controlerr"
)

var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Service implements the Tenant Store operations (spec §4.4) on top of Store,
// adding validation, reseller provisioning, and rollback-on-failure.
type Service struct {
	store         *Store
	logger        *slog.Logger
	sessionSecret string // HMAC key for generated reseller API credentials
	onCreate      func(Tenant)
}

// NewService builds a Service. sessionSecret is the deployment's token
// signing secret, reused here so reseller credentials are tied to the same
// deployment key material rather than introducing a second secret.
func NewService(store *Store, logger *slog.Logger, sessionSecret string) *Service {
	return &Service{store: store, logger: logger, sessionSecret: sessionSecret}
}

// SetOnCreate registers a callback invoked after a tenant is durably
// created. The composition root uses this to start the new tenant's
// dispatcher workers without this package depending on pkg/taskqueue.
func (s *Service) SetOnCreate(fn func(Tenant)) {
	s.onCreate = fn
}

// CreateTenantInput is the input to CreateTenant.
type CreateTenantInput struct {
	DisplayName   string
	PrimaryDomain string
	Tier          Tier
	Branding      map[string]any
}

// CreateTenant validates input, checks domain uniqueness, and inserts the
// tenant record. Domain-collision rollback is handled inside Store.create;
// this method additionally compensates if the broader workflow (e.g. seeding
// a default admin user) fails after the tenant row exists.
func (s *Service) CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error) {
	if in.DisplayName == "" {
		return Tenant{}, controlerr.New(controlerr.ValidationError, "display_name is required").WithField("field", "display_name")
	}
	if !domainPattern.MatchString(in.PrimaryDomain) {
		return Tenant{}, controlerr.New(controlerr.ValidationError, "primary_domain is not a valid domain").WithField("field", "primary_domain")
	}
	if in.Tier == "" {
		in.Tier = TierStarter
	}

	t, err := s.store.create(ctx, Tenant{
		DisplayName:   in.DisplayName,
		PrimaryDomain: in.PrimaryDomain,
		Tier:          in.Tier,
		Branding:      in.Branding,
	})
	if err != nil {
		return Tenant{}, err
	}

	s.logger.Info("tenant created", "tenant_id", t.ID, "primary_domain", t.PrimaryDomain, "tier", t.Tier)
	if s.onCreate != nil {
		s.onCreate(t)
	}
	return t, nil
}

// CreateResellerPackageInput is the input to CreateResellerPackage.
type CreateResellerPackageInput struct {
	DisplayName   string
	PrimaryDomain string
}

// CreateResellerPackage is syntactic sugar over tenant creation with a fixed
// feature bundle (enterprise tier, white-label flag) and generated API
// credential material (spec §4.4, §6).
func (s *Service) CreateResellerPackage(ctx context.Context, in CreateResellerPackageInput) (Tenant, error) {
	t, err := s.CreateTenant(ctx, CreateTenantInput{
		DisplayName:   in.DisplayName,
		PrimaryDomain: in.PrimaryDomain,
		Tier:          TierEnterprise,
		Branding:      map[string]any{"white_label": true},
	})
	if err != nil {
		return Tenant{}, err
	}

	cred, err := s.generateAPICredential(t.ID)
	if err != nil {
		// Compensate: do not leave a dangling tenant row (spec §4.4).
		if rbErr := s.store.Rollback(ctx, t.ID); rbErr != nil {
			s.logger.Error("rollback after credential generation failure", "tenant_id", t.ID, "error", rbErr)
		}
		return Tenant{}, controlerr.Wrap(controlerr.InternalError, err, "generating reseller API credential")
	}

	updated, err := s.store.Update(ctx, t.ID, map[string]any{
		"is_reseller":    true,
		"api_credential": cred,
	})
	if err != nil {
		if rbErr := s.store.Rollback(ctx, t.ID); rbErr != nil {
			s.logger.Error("rollback after reseller flag update failure", "tenant_id", t.ID, "error", rbErr)
		}
		return Tenant{}, err
	}

	s.logger.Info("reseller package created", "tenant_id", updated.ID)
	return updated, nil
}

// generateAPICredential derives an opaque credential from random bytes,
// HMAC-tagged with the deployment secret so the credential's provenance is
// verifiable without storing the secret alongside it.
func (s *Service) generateAPICredential(tenantID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating random credential material: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(s.sessionSecret))
	mac.Write(raw)
	mac.Write([]byte(tenantID))
	tag := mac.Sum(nil)

	return "rsl_" + hex.EncodeToString(raw) + "." + hex.EncodeToString(tag[:8]), nil
}

// Get, List, Suspend delegate directly to Store; they carry no additional
// business rules beyond what Store already enforces.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error)         { return s.store.Get(ctx, id) }
func (s *Service) List(ctx context.Context, status Status) ([]Tenant, error) { return s.store.List(ctx, status) }
func (s *Service) Suspend(ctx context.Context, id string) (Tenant, error)    { return s.store.Suspend(ctx, id) }
