// internal/app/bootstrap/appconfig.go
package bootstrap

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, log level); everything the
// data-access layer needs lives here and is passed to every lifecycle hook.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// MongoTransactions enables multi-document transactions. Requires a
	// replica set; leave off for a standalone server.
	MongoTransactions bool

	// AuditLog selects the audit sink: "all", "db", "log" or "off".
	AuditLog string

	// DefaultLocale is used for validation messages when the caller does
	// not supply one, and seeds new tenant settings.
	DefaultLocale string

	// ReservedTenantURLs may never be claimed by a tenant, in addition to "www".
	ReservedTenantURLs []string

	MetricsEnabled bool

	// Seed tenant, created on startup when SeedTenantURL is set.
	SeedTenantURL  string
	SeedTenantName string
	SeedOwnerEmail string // optional; becomes an active "owner" member of the seed tenant
}
