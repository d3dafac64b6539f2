package indexes_test

import (
	"context"
	"strings"
	"testing"

	"github.com/dalemusser/tenancy/internal/app/system/indexes"
	"github.com/dalemusser/tenancy/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func indexNames(t *testing.T, ctx context.Context, c *mongo.Collection) map[string]bool {
	t.Helper()
	cur, err := c.Indexes().List(ctx)
	if err != nil {
		t.Fatalf("List indexes failed: %v", err)
	}
	defer cur.Close(ctx)

	names := make(map[string]bool)
	for cur.Next(ctx) {
		var idx bson.M
		if err := cur.Decode(&idx); err != nil {
			continue
		}
		if name, ok := idx["name"].(string); ok {
			names[name] = true
		}
	}
	return names
}

func TestEnsureAll(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// EnsureAll should succeed on a clean database
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
}

func TestEnsureAll_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("First EnsureAll failed: %v", err)
	}
	// Second call should also succeed (idempotent)
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("Second EnsureAll failed: %v", err)
	}
}

func TestEnsureAll_CreatesIndexes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	tests := []struct {
		collection string
		expected   []string
	}{
		{"users", []string{"uniq_users_email", "idx_users_tenant_fullnameci_id", "idx_users_invitation_token"}},
		{"tenants", []string{"uniq_tenants_url", "idx_tenants_nameci__id"}},
		{"settings", []string{"uniq_settings_tenant"}},
		{"customers", []string{"idx_customers_tenant__id", "idx_customers_order_ids"}},
		{"products", []string{"idx_products_tenant__id", "idx_products_order_ids"}},
		{"orders", []string{"uniq_orders_tenant_number", "idx_orders_product_ids", "idx_orders_customer_id"}},
		{"audit_events", []string{"idx_audit_timestamp", "idx_audit_entity_timestamp"}},
	}

	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			names := indexNames(t, ctx, db.Collection(tt.collection))
			for _, name := range tt.expected {
				if !names[name] {
					t.Errorf("expected index %q to exist on %s collection", name, tt.collection)
				}
			}
		})
	}
}

func TestEnsureAll_RenamesMisnamedIndex(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := db.Collection("tenants")
	if _, err := c.Indexes().DropAll(ctx); err != nil {
		t.Fatalf("DropAll failed: %v", err)
	}
	_, err := c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("legacy_url"),
	})
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}
	names := indexNames(t, ctx, c)
	if names["legacy_url"] {
		t.Error("expected legacy index name to be replaced")
	}
	if !names["uniq_tenants_url"] {
		t.Error("expected uniq_tenants_url to exist")
	}
}

func TestEnsureAll_UniqueIndexEnforced(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	tenantID := primitive.NewObjectID()
	if _, err := db.Collection("orders").InsertOne(ctx, bson.M{"tenant_id": tenantID, "number": "A-1"}); err != nil {
		t.Fatalf("Insert order failed: %v", err)
	}
	// Same number in the same tenant - should fail
	if _, err := db.Collection("orders").InsertOne(ctx, bson.M{"tenant_id": tenantID, "number": "A-1"}); err == nil {
		t.Error("expected duplicate key error for unique index on orders.{tenant_id,number}")
	}
	// Same number in another tenant - allowed
	if _, err := db.Collection("orders").InsertOne(ctx, bson.M{"tenant_id": primitive.NewObjectID(), "number": "A-1"}); err != nil {
		t.Errorf("expected same number in another tenant to be allowed: %v", err)
	}
}

func TestEnsureAll_ReportsDuplicatesBlockingUniqueIndex(t *testing.T) {
	base := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// A sibling database that has never had its indexes ensured.
	db := base.Client().Database(base.Name() + "_dups")
	t.Cleanup(func() {
		ctx, cancel := testutil.TestContext()
		defer cancel()
		_ = db.Drop(ctx)
	})

	for i := 0; i < 2; i++ {
		if _, err := db.Collection("tenants").InsertOne(ctx, bson.M{"name": "Acme", "url": "acme"}); err != nil {
			t.Fatalf("insert tenant: %v", err)
		}
	}

	err := indexes.EnsureAll(ctx, db)
	if err == nil {
		t.Fatal("expected EnsureAll to fail")
	}
	if !strings.Contains(err.Error(), "cannot create unique index (duplicates present)") {
		t.Errorf("error does not name the duplicates: %v", err)
	}
}
