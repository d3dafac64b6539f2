package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Settings holds tenant-specific configuration. Each tenant owns exactly
// one settings document, created with defaults the first time it is read.
type Settings struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TenantID primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`

	Locale   string `bson:"locale" json:"locale"`
	Currency string `bson:"currency" json:"currency"`
	TimeZone string `bson:"time_zone" json:"time_zone"`

	// Free-form key/value preferences
	Values map[string]string `bson:"values,omitempty" json:"values,omitempty"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt *time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Defaults applied when a tenant's settings are first read.
const (
	DefaultLocale   = "en"
	DefaultCurrency = "USD"
	DefaultTimeZone = "UTC"
)
