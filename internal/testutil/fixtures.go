package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/tenancy/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateTenant inserts a tenant with the given name and URL.
func (f *Fixtures) CreateTenant(ctx context.Context, name, url string) models.Tenant {
	f.t.Helper()

	now := time.Now().UTC()
	tenant := models.Tenant{
		ID:        primitive.NewObjectID(),
		Name:      name,
		NameCI:    text.Fold(name),
		URL:       url,
		Plan:      models.Plan{Name: models.DefaultPlan},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("tenants").InsertOne(ctx, tenant); err != nil {
		f.t.Fatalf("failed to create test tenant: %v", err)
	}
	return tenant
}

// CreateUser inserts a user with a full profile and the given memberships.
func (f *Fixtures) CreateUser(ctx context.Context, fullName, email string, memberships ...models.TenantMembership) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	if memberships == nil {
		memberships = []models.TenantMembership{}
	}
	user := models.User{
		ID:            primitive.NewObjectID(),
		Email:         email,
		FullName:      fullName,
		FullNameCI:    text.Fold(fullName),
		FirstName:     "Test",
		LastName:      "User",
		Phone:         "+1 555 0100",
		EmailVerified: true,
		Tenants:       memberships,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// Membership builds an embedded membership for CreateUser.
func Membership(tenantID primitive.ObjectID, status models.MembershipStatus, roles ...string) models.TenantMembership {
	if roles == nil {
		roles = []string{}
	}
	return models.TenantMembership{
		TenantID:  tenantID,
		Status:    status,
		Roles:     roles,
		UpdatedAt: time.Now().UTC(),
	}
}

// Invitation builds an invited membership carrying token.
func Invitation(tenantID primitive.ObjectID, token string, roles ...string) models.TenantMembership {
	m := Membership(tenantID, models.MembershipInvited, roles...)
	m.InvitationToken = &token
	return m
}

// CreateCustomer inserts a customer in tenantID.
func (f *Fixtures) CreateCustomer(ctx context.Context, tenantID primitive.ObjectID, name string) models.Customer {
	f.t.Helper()

	c := models.Customer{
		ID:        primitive.NewObjectID(),
		TenantID:  tenantID,
		Name:      name,
		OrderIDs:  []primitive.ObjectID{},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("customers").InsertOne(ctx, c); err != nil {
		f.t.Fatalf("failed to create test customer: %v", err)
	}
	return c
}

// CreateProduct inserts a product in tenantID.
func (f *Fixtures) CreateProduct(ctx context.Context, tenantID primitive.ObjectID, name string) models.Product {
	f.t.Helper()

	p := models.Product{
		ID:        primitive.NewObjectID(),
		TenantID:  tenantID,
		Name:      name,
		OrderIDs:  []primitive.ObjectID{},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("products").InsertOne(ctx, p); err != nil {
		f.t.Fatalf("failed to create test product: %v", err)
	}
	return p
}
