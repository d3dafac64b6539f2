// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"
	"slices"

	auditstore "github.com/dalemusser/tenancy/internal/app/store/audit"
	membershipstore "github.com/dalemusser/tenancy/internal/app/store/memberships"
	tenantstore "github.com/dalemusser/tenancy/internal/app/store/tenants"
	userstore "github.com/dalemusser/tenancy/internal/app/store/users"
	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// OwnerRole is granted to the seed owner.
const OwnerRole = "owner"

// stores bundles the repositories startup needs, all sharing one
// transaction manager and audit sink.
type stores struct {
	tenants     *tenantstore.Store
	users       *userstore.Store
	memberships *membershipstore.Store
}

func newStores(appCfg AppConfig, deps DBDeps, logger *zap.Logger) *stores {
	tm := txn.New(deps.MongoClient, txn.Config{Enabled: appCfg.MongoTransactions}, logger, deps.Metrics)
	al := auditlog.New(auditstore.New(deps.MongoDatabase), logger, auditlog.Config{Mode: appCfg.AuditLog}, deps.Metrics)
	return &stores{
		tenants: tenantstore.New(deps.MongoDatabase, tm, al, logger, tenantstore.Config{
			Reserved:      appCfg.ReservedTenantURLs,
			DefaultLocale: appCfg.DefaultLocale,
		}),
		users:       userstore.New(deps.MongoDatabase, tm, al),
		memberships: membershipstore.New(deps.MongoDatabase, tm, al),
	}
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It sets
// the process default locale, registers metrics and creates the seed tenant.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	opctx.DefaultLocale = appCfg.DefaultLocale

	if appCfg.MetricsEnabled {
		if err := deps.Metrics.Register(nil); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	if appCfg.SeedTenantURL == "" {
		return nil
	}
	ctx = opctx.WithCorrelationID(ctx, "startup-seed")
	return seedTenant(ctx, newStores(appCfg, deps, logger), appCfg, logger)
}

// seedTenant creates the configured tenant if it does not exist and, when an
// owner email is configured, makes that user an owner. Running it again is a no-op.
func seedTenant(ctx context.Context, s *stores, appCfg AppConfig, logger *zap.Logger) error {
	t, err := s.tenants.GetByURL(ctx, appCfg.SeedTenantURL)
	switch {
	case apperr.IsNotFound(err):
		t, err = s.tenants.Create(ctx, models.Tenant{Name: appCfg.SeedTenantName, URL: appCfg.SeedTenantURL})
		if err != nil {
			return fmt.Errorf("create seed tenant: %w", err)
		}
		logger.Info("created seed tenant", zap.String("url", t.URL), zap.String("tenant_id", t.ID.Hex()))
	case err != nil:
		return fmt.Errorf("load seed tenant: %w", err)
	}

	if appCfg.SeedOwnerEmail == "" {
		return nil
	}

	u, err := s.users.GetByEmail(ctx, appCfg.SeedOwnerEmail)
	if apperr.IsNotFound(err) {
		var created models.User
		created, err = s.users.Create(ctx, userstore.NewUser{Email: appCfg.SeedOwnerEmail})
		u = &created
		if err == nil {
			logger.Info("created seed owner", zap.String("email", u.Email))
		}
	}
	if err != nil {
		return fmt.Errorf("load seed owner: %w", err)
	}

	m, ok := u.Membership(t.ID)
	switch {
	case !ok:
		_, err = s.memberships.Create(ctx, t.ID, u.ID, []string{OwnerRole})
	case !slices.Contains(m.Roles, OwnerRole):
		_, _, err = s.memberships.UpdateRoles(ctx, t.ID, u.ID, []string{OwnerRole}, membershipstore.RolesAdd)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("grant seed owner: %w", err)
	}
	logger.Info("granted seed owner", zap.String("email", u.Email), zap.String("tenant_id", t.ID.Hex()))
	return nil
}
