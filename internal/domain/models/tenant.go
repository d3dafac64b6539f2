package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tenant is an isolated customer organization. Every tenant-scoped
// entity (customers, products, orders, settings) carries its tenant_id.
type Tenant struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Display name for the tenant
	Name   string `bson:"name" json:"name"`
	NameCI string `bson:"name_ci" json:"name_ci"` // Case-insensitive for search

	// URL slug used to address the tenant. Globally unique, case-sensitive.
	URL string `bson:"url" json:"url"`

	Plan Plan `bson:"plan" json:"plan"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Plan is the billing metadata attached to a tenant.
type Plan struct {
	Name   string `bson:"name,omitempty" json:"name,omitempty"`
	Status string `bson:"status,omitempty" json:"status,omitempty"`
	Seats  int    `bson:"seats,omitempty" json:"seats,omitempty"`
}

// DefaultPlan is assigned to tenants created without plan metadata.
const DefaultPlan = "free"
