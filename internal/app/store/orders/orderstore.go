// internal/app/store/orders/orderstore.go
package orderstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/dalemusser/tenancy/internal/app/system/relations"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/app/system/uniqueness"
	"github.com/dalemusser/tenancy/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entity declares the unique fields of the orders collection. Order
// numbers are unique within a tenant.
var Entity = uniqueness.Entity{
	Name:         "order",
	UniqueFields: []string{"number"},
	ScopeField:   "tenant_id",
}

// Relations kept in sync on every order write.
var (
	Products = relations.Descriptor{
		SourceCollection: "orders",
		SourceField:      "product_ids",
		Cardinality:      relations.ManyToMany,
		TargetCollection: "products",
		TargetField:      "order_ids",
	}
	Customer = relations.Descriptor{
		SourceCollection: "orders",
		SourceField:      "customer_id",
		Cardinality:      relations.OneToMany,
		TargetCollection: "customers",
		TargetField:      "order_ids",
	}
)

// Store is the orders repository. Every write runs as one unit of work
// covering the order, its relation back-references and its audit record.
type Store struct {
	db    *mongo.Database
	c     *mongo.Collection
	txn   *txn.Manager
	audit *auditlog.Logger
}

// New creates an order store. tm and al may be nil.
func New(db *mongo.Database, tm *txn.Manager, al *auditlog.Logger) *Store {
	return &Store{db: db, c: db.Collection("orders"), txn: tm, audit: al}
}

// Input holds the writable fields of an order.
type Input struct {
	Number     string
	CustomerID *primitive.ObjectID
	ProductIDs []primitive.ObjectID
}

func (in Input) clean() Input {
	in.Number = strings.TrimSpace(in.Number)
	in.ProductIDs = unique(in.ProductIDs)
	if in.CustomerID != nil && in.CustomerID.IsZero() {
		in.CustomerID = nil
	}
	return in
}

func invalid(ctx context.Context, field, problem string) error {
	ve := apperr.NewValidation(opctx.Locale(ctx), "entities.order.errors."+field+"."+problem)
	ve.Field = field
	return ve
}

func customerIDs(in Input) []primitive.ObjectID {
	if in.CustomerID == nil {
		return []primitive.ObjectID{}
	}
	return []primitive.ObjectID{*in.CustomerID}
}

func unique(ids []primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id.IsZero() {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// checkRefs requires every referenced record to exist in the tenant.
func (s *Store) checkRefs(ctx context.Context, tenantID primitive.ObjectID, in Input) error {
	check := func(coll, field string, ids []primitive.ObjectID) error {
		if len(ids) == 0 {
			return nil
		}
		n, err := s.db.Collection(coll).CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}, "tenant_id": tenantID})
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return invalid(ctx, field, "invalid")
		}
		return nil
	}
	if err := check(Customer.TargetCollection, Customer.SourceField, customerIDs(in)); err != nil {
		return err
	}
	return check(Products.TargetCollection, Products.SourceField, in.ProductIDs)
}

func (s *Store) sync(ctx context.Context, id primitive.ObjectID, in Input) error {
	if err := relations.Sync(ctx, s.db, Products, id, in.ProductIDs); err != nil {
		return err
	}
	return relations.Sync(ctx, s.db, Customer, id, customerIDs(in))
}

func auditValues(o models.Order) map[string]any {
	v := map[string]any{
		"tenant_id":   o.TenantID,
		"number":      o.Number,
		"product_ids": o.ProductIDs,
	}
	if o.CustomerID != nil {
		v["customer_id"] = *o.CustomerID
	}
	return v
}

// Create inserts an order in tenantID. A number already used in the
// tenant yields a ValidationError keyed entities.order.errors.unique.number.
func (s *Store) Create(ctx context.Context, tenantID primitive.ObjectID, in Input) (models.Order, error) {
	in = in.clean()
	if in.Number == "" {
		return models.Order{}, invalid(ctx, "number", "blank")
	}

	now := time.Now().UTC()
	o := models.Order{
		ID:         primitive.NewObjectID(),
		TenantID:   tenantID,
		Number:     in.Number,
		CustomerID: in.CustomerID,
		ProductIDs: in.ProductIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.txn.RunTranslated(ctx, Entity, func(ctx context.Context) error {
		if err := s.checkRefs(ctx, tenantID, in); err != nil {
			return err
		}
		if _, err := s.c.InsertOne(ctx, o); err != nil {
			return err
		}
		if err := s.sync(ctx, o.ID, in); err != nil {
			return err
		}
		return s.audit.Created(ctx, Entity.Name, o.ID, auditValues(o))
	})
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// Update replaces the number and references of an order.
func (s *Store) Update(ctx context.Context, tenantID, id primitive.ObjectID, in Input) (models.Order, error) {
	in = in.clean()
	if in.Number == "" {
		return models.Order{}, invalid(ctx, "number", "blank")
	}

	var out models.Order
	err := s.txn.RunTranslated(ctx, Entity, func(ctx context.Context) error {
		if err := s.checkRefs(ctx, tenantID, in); err != nil {
			return err
		}
		set := bson.M{
			"number":      in.Number,
			"customer_id": in.CustomerID,
			"product_ids": in.ProductIDs,
			"updated_at":  time.Now().UTC(),
		}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id, "tenant_id": tenantID}, bson.M{"$set": set}, opts).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.NewNotFound("order")
		}
		if err != nil {
			return err
		}
		if err := s.sync(ctx, id, in); err != nil {
			return err
		}
		return s.audit.Updated(ctx, Entity.Name, id, auditValues(out))
	})
	if err != nil {
		return models.Order{}, err
	}
	return out, nil
}

// Destroy deletes an order and severs every back-reference to it.
func (s *Store) Destroy(ctx context.Context, tenantID, id primitive.ObjectID) error {
	return s.txn.Run(ctx, func(ctx context.Context) error {
		var o models.Order
		err := s.c.FindOneAndDelete(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&o)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.NewNotFound("order")
		}
		if err != nil {
			return err
		}
		for _, d := range []relations.Descriptor{Products, Customer} {
			if err := relations.Destroy(ctx, s.db, d, id); err != nil {
				return err
			}
		}
		return s.audit.Deleted(ctx, Entity.Name, id, auditValues(o))
	})
}

// GetByID loads an order of tenantID.
func (s *Store) GetByID(ctx context.Context, tenantID, id primitive.ObjectID) (models.Order, error) {
	var o models.Order
	err := s.c.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Order{}, apperr.NewNotFound("order")
	}
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// ListByTenant returns the orders of tenantID by number.
func (s *Store) ListByTenant(ctx context.Context, tenantID primitive.ObjectID) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "number", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var orders []models.Order
	if err := cur.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}
