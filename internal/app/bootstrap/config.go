// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/normalize"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for the tenancy service.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, audit_log, etc.
//   - Environment variables: TENANCY_MONGO_URI, TENANCY_AUDIT_LOG, etc.
//   - Command-line flags: --mongo_uri, --audit_log, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "tenancy", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "mongo_transactions", Default: false, Desc: "Run multi-write operations in transactions (requires a replica set)"},

	// Audit logging
	{Name: "audit_log", Default: "all", Desc: "Audit event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	{Name: "default_locale", Default: "en", Desc: "Locale for validation messages when none is supplied"},
	{Name: "reserved_tenant_urls", Default: "www", Desc: "Comma-separated tenant URLs that may never be claimed"},
	{Name: "metrics_enabled", Default: true, Desc: "Serve Prometheus metrics at /metrics"},

	// Seed tenant
	{Name: "seed_tenant_url", Default: "", Desc: "URL of a tenant to create on startup (blank disables)"},
	{Name: "seed_tenant_name", Default: "Default", Desc: "Display name for the seed tenant"},
	{Name: "seed_owner_email", Default: "", Desc: "Email of a user made owner of the seed tenant (creates the user if needed)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// environment variables (WAFFLE_* for core, TENANCY_* for app) and flags
// with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "TENANCY", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:          appValues.String("mongo_uri"),
		MongoDatabase:     appValues.String("mongo_database"),
		MongoMaxPoolSize:  uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize:  uint64(appValues.Int("mongo_min_pool_size")),
		MongoTransactions: appValues.Bool("mongo_transactions"),

		AuditLog: strings.ToLower(strings.TrimSpace(appValues.String("audit_log"))),

		DefaultLocale:      strings.TrimSpace(appValues.String("default_locale")),
		ReservedTenantURLs: splitList(appValues.String("reserved_tenant_urls")),
		MetricsEnabled:     appValues.Bool("metrics_enabled"),

		SeedTenantURL:  normalize.URL(appValues.String("seed_tenant_url")),
		SeedTenantName: appValues.String("seed_tenant_name"),
		SeedOwnerEmail: normalize.Email(appValues.String("seed_owner_email")),
	}

	return coreCfg, appCfg, nil
}

// splitList parses a comma-separated config value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// The MongoDB URI is checked before any connection is attempted.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if appCfg.MongoURI == "" {
		return fmt.Errorf("mongo_uri must not be empty")
	}
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return fmt.Errorf("mongo_database must not be empty")
	}
	if appCfg.MongoMinPoolSize > appCfg.MongoMaxPoolSize {
		return fmt.Errorf("mongo_min_pool_size (%d) exceeds mongo_max_pool_size (%d)",
			appCfg.MongoMinPoolSize, appCfg.MongoMaxPoolSize)
	}
	if !auditlog.ValidMode(appCfg.AuditLog) {
		return fmt.Errorf("invalid audit_log %q: want all, db, log or off", appCfg.AuditLog)
	}
	if appCfg.DefaultLocale == "" {
		return fmt.Errorf("default_locale must not be empty")
	}
	if appCfg.SeedOwnerEmail != "" && appCfg.SeedTenantURL == "" {
		return fmt.Errorf("seed_owner_email requires seed_tenant_url")
	}
	return nil
}
