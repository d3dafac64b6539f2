package orderstore_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/dalemusser/tenancy/internal/app/store/audit"
	orderstore "github.com/dalemusser/tenancy/internal/app/store/orders"
	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/domain/models"
	"github.com/dalemusser/tenancy/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newStore(t *testing.T, db *mongo.Database, transactions bool) *orderstore.Store {
	t.Helper()
	tm := txn.New(db.Client(), txn.Config{Enabled: transactions}, zap.NewNop(), nil)
	al := auditlog.New(audit.New(db), zap.NewNop(), auditlog.Config{Mode: auditlog.ModeDB}, nil)
	return orderstore.New(db, tm, al)
}

func product(t *testing.T, db *mongo.Database, id primitive.ObjectID) models.Product {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	var p models.Product
	if err := db.Collection("products").FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		t.Fatalf("load product: %v", err)
	}
	return p
}

func customer(t *testing.T, db *mongo.Database, id primitive.ObjectID) models.Customer {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()
	var c models.Customer
	if err := db.Collection("customers").FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		t.Fatalf("load customer: %v", err)
	}
	return c
}

func TestStore_Create_SyncsRelations(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, false)
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenant := primitive.NewObjectID()
	c := fx.CreateCustomer(ctx, tenant, "Buyer")
	p1 := fx.CreateProduct(ctx, tenant, "P1")
	p2 := fx.CreateProduct(ctx, tenant, "P2")

	o, err := store.Create(ctx, tenant, orderstore.Input{
		Number:     " A-1 ",
		CustomerID: &c.ID,
		ProductIDs: []primitive.ObjectID{p1.ID, p2.ID, p1.ID},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if o.Number != "A-1" {
		t.Errorf("Number = %q, want trimmed", o.Number)
	}
	if len(o.ProductIDs) != 2 {
		t.Errorf("ProductIDs = %v, want duplicates removed", o.ProductIDs)
	}

	for _, p := range []models.Product{p1, p2} {
		if got := product(t, db, p.ID).OrderIDs; !slices.Equal(got, []primitive.ObjectID{o.ID}) {
			t.Errorf("product %s order_ids = %v, want [%v]", p.Name, got, o.ID)
		}
	}
	if got := customer(t, db, c.ID).OrderIDs; !slices.Equal(got, []primitive.ObjectID{o.ID}) {
		t.Errorf("customer order_ids = %v, want [%v]", got, o.ID)
	}
}

func TestStore_Update_MovesReferences(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, false)
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenant := primitive.NewObjectID()
	c1 := fx.CreateCustomer(ctx, tenant, "C1")
	c2 := fx.CreateCustomer(ctx, tenant, "C2")
	p1 := fx.CreateProduct(ctx, tenant, "P1")
	p2 := fx.CreateProduct(ctx, tenant, "P2")

	o, err := store.Create(ctx, tenant, orderstore.Input{Number: "1", CustomerID: &c1.ID, ProductIDs: []primitive.ObjectID{p1.ID}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.Update(ctx, tenant, o.ID, orderstore.Input{Number: "1", CustomerID: &c2.ID, ProductIDs: []primitive.ObjectID{p2.ID}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if got := product(t, db, p1.ID).OrderIDs; len(got) != 0 {
		t.Errorf("p1 still references order: %v", got)
	}
	if got := product(t, db, p2.ID).OrderIDs; !slices.Equal(got, []primitive.ObjectID{o.ID}) {
		t.Errorf("p2 order_ids = %v", got)
	}
	if got := customer(t, db, c1.ID).OrderIDs; len(got) != 0 {
		t.Errorf("c1 still references order: %v", got)
	}
	if got := customer(t, db, c2.ID).OrderIDs; !slices.Equal(got, []primitive.ObjectID{o.ID}) {
		t.Errorf("c2 order_ids = %v", got)
	}

	// Dropping the customer clears it everywhere.
	if _, err := store.Update(ctx, tenant, o.ID, orderstore.Input{Number: "1", ProductIDs: []primitive.ObjectID{p2.ID}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := customer(t, db, c2.ID).OrderIDs; len(got) != 0 {
		t.Errorf("c2 still references order: %v", got)
	}
}

func TestStore_DuplicateNumber(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, false)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	ctx = opctx.WithLocale(ctx, "de")

	tenant := primitive.NewObjectID()
	if _, err := store.Create(ctx, tenant, orderstore.Input{Number: "7"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := store.Create(ctx, tenant, orderstore.Input{Number: "7"})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Key != "entities.order.errors.unique.number" || ve.Field != "number" || ve.Locale != "de" {
		t.Errorf("unexpected error: %+v", ve)
	}

	// The same number in another tenant is fine.
	if _, err := store.Create(ctx, primitive.NewObjectID(), orderstore.Input{Number: "7"}); err != nil {
		t.Errorf("Create in other tenant failed: %v", err)
	}

	// Updating into a used number is translated the same way.
	o, err := store.Create(ctx, tenant, orderstore.Input{Number: "8"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = store.Update(ctx, tenant, o.ID, orderstore.Input{Number: "7"})
	if !errors.As(err, &ve) || ve.Field != "number" {
		t.Errorf("expected number ValidationError, got %v", err)
	}
}

func TestStore_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, false)
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenant := primitive.NewObjectID()
	foreign := fx.CreateProduct(ctx, primitive.NewObjectID(), "Foreign")
	missing := primitive.NewObjectID()

	tests := []struct {
		name    string
		in      orderstore.Input
		wantKey string
	}{
		{"blank number", orderstore.Input{Number: "  "}, "entities.order.errors.number.blank"},
		{"product from other tenant", orderstore.Input{Number: "1", ProductIDs: []primitive.ObjectID{foreign.ID}}, "entities.order.errors.product_ids.invalid"},
		{"missing customer", orderstore.Input{Number: "1", CustomerID: &missing}, "entities.order.errors.customer_id.invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tenant, tt.in)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", ve.Key, tt.wantKey)
			}
		})
	}
	n, _ := db.Collection("orders").CountDocuments(ctx, bson.M{"tenant_id": tenant})
	if n != 0 {
		t.Errorf("%d orders written by failed creates", n)
	}
}

func TestStore_Destroy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, false)
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenant := primitive.NewObjectID()
	c := fx.CreateCustomer(ctx, tenant, "C")
	p := fx.CreateProduct(ctx, tenant, "P")
	o, err := store.Create(ctx, tenant, orderstore.Input{Number: "1", CustomerID: &c.ID, ProductIDs: []primitive.ObjectID{p.ID}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Destroy(ctx, primitive.NewObjectID(), o.ID); !apperr.IsNotFound(err) {
		t.Errorf("destroy from another tenant: got %v, want NotFoundError", err)
	}
	if err := store.Destroy(ctx, tenant, o.ID); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if got := product(t, db, p.ID).OrderIDs; len(got) != 0 {
		t.Errorf("product still references order: %v", got)
	}
	if got := customer(t, db, c.ID).OrderIDs; len(got) != 0 {
		t.Errorf("customer still references order: %v", got)
	}
	if _, err := store.GetByID(ctx, tenant, o.ID); !apperr.IsNotFound(err) {
		t.Errorf("order still present: %v", err)
	}
}

func TestStore_Create_RollsBackWhenAuditFails(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.RequireTransactions(t, db)
	store := newStore(t, db, true)
	fx := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenant := primitive.NewObjectID()
	p := fx.CreateProduct(ctx, tenant, "P")

	// Reject every audit insert so the unit of work fails after the sync.
	err := db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: "audit_events"},
		{Key: "validator", Value: bson.M{"never": bson.M{"$exists": true}}},
	}).Err()
	if err != nil {
		t.Fatalf("collMod: %v", err)
	}

	if _, err := store.Create(ctx, tenant, orderstore.Input{Number: "1", ProductIDs: []primitive.ObjectID{p.ID}}); err == nil {
		t.Fatal("expected Create to fail")
	}
	if got := product(t, db, p.ID).OrderIDs; len(got) != 0 {
		t.Errorf("aborted create left back-references: %v", got)
	}
	n, _ := db.Collection("orders").CountDocuments(ctx, bson.M{"tenant_id": tenant})
	if n != 0 {
		t.Errorf("aborted create left %d orders", n)
	}
}

func TestStore_ListByTenant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, false)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tenant := primitive.NewObjectID()
	for _, n := range []string{"b", "a"} {
		if _, err := store.Create(ctx, tenant, orderstore.Input{Number: n}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := store.Create(ctx, primitive.NewObjectID(), orderstore.Input{Number: "c"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	orders, err := store.ListByTenant(ctx, tenant)
	if err != nil {
		t.Fatalf("ListByTenant failed: %v", err)
	}
	if len(orders) != 2 || orders[0].Number != "a" {
		t.Errorf("unexpected orders: %+v", orders)
	}
}
