// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	sets := []struct {
		name   string
		ensure func(context.Context, *mongo.Database) error
	}{
		{"users", ensureUsers},
		{"tenants", ensureTenants},
		{"settings", ensureSettings},
		{"customers", ensureCustomers},
		{"products", ensureProducts},
		{"orders", ensureOrders},
		{"audit_events", ensureAuditEvents},
	}
	for _, s := range sets {
		if err := s.ensure(ctx, db); err != nil {
			problems = append(problems, s.name+": "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func sameBoolPtr(a, b *bool) bool {
	av := false
	bv := false
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

// Mongo/DocDB sometimes returns IndexOptionsConflict when an index with the
// same keys already exists under a different name (or options differ).
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "IndexOptionsConflict")
}

// listIndexes returns the collection's indexes keyed by key signature.
func listIndexes(ctx context.Context, coll *mongo.Collection) map[string]existingIndex {
	existing := map[string]existingIndex{}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return existing
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		existing[keySig(idx.Key)] = idx
	}
	return existing
}

// createErr describes a failed create, calling out duplicates that block a unique index.
func createErr(coll *mongo.Collection, name string, unique bool, err error) string {
	if unique && wafflemongo.IsDup(err) {
		return fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)", coll.Name(), name)
	}
	return fmt.Sprintf("%s(%s): %v", coll.Name(), name, err)
}

// recreate drops an index and creates the desired one in its place.
func recreate(ctx context.Context, coll *mongo.Collection, oldName string, m mongo.IndexModel, name string, unique bool) error {
	if _, err := coll.Indexes().DropOne(ctx, oldName); err != nil {
		return fmt.Errorf("%s(%s): drop failed: %v", coll.Name(), name, err)
	}
	if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
		return errors.New(createErr(coll, name, unique, err))
	}
	return nil
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	for _, m := range models {
		var desiredName string
		var desiredUnique *bool
		if m.Options != nil {
			if m.Options.Name != nil {
				desiredName = *m.Options.Name
			}
			desiredUnique = m.Options.Unique
		}
		unique := desiredUnique != nil && *desiredUnique
		desiredSig := keySig(m.Keys.(bson.D))

		start := time.Now()
		fields := []zap.Field{
			zap.String("collection", coll.Name()),
			zap.String("name", desiredName),
			zap.String("keys", desiredSig),
			zap.Bool("unique", unique),
		}
		zap.L().Info("ensuring index", fields...)

		existing := listIndexes(ctx, coll)
		if ex, ok := existing[desiredSig]; ok {
			switch {
			case !sameBoolPtr(desiredUnique, ex.Unique):
				// Options mismatch (e.g., upgrading to unique). Drop & recreate.
				if err := recreate(ctx, coll, ex.Name, m, desiredName, unique); err != nil {
					zap.L().Warn("index recreate failed", append(fields, zap.Error(err))...)
					errs = append(errs, err.Error())
					continue
				}
				zap.L().Info("index dropped and recreated", append(fields, zap.Duration("took", time.Since(start)))...)
			case desiredName != "" && ex.Name != desiredName:
				// Same keys under another name: align the name.
				if err := recreate(ctx, coll, ex.Name, m, desiredName, unique); err != nil {
					zap.L().Warn("index rename failed", append(fields, zap.Error(err))...)
					errs = append(errs, err.Error())
					continue
				}
				zap.L().Info("index renamed", append(fields, zap.String("from", ex.Name))...)
			default:
				zap.L().Info("reusing existing index", append(fields, zap.Duration("took", time.Since(start)))...)
			}
			continue
		}

		created, err := coll.Indexes().CreateOne(ctx, m)
		if err == nil {
			zap.L().Info("index ensured", append(fields,
				zap.String("created_name", created),
				zap.Duration("took", time.Since(start)))...)
			continue
		}
		if isOptionsConflictErr(err) {
			// Another index with these keys appeared; reconcile against it.
			if ex, ok := listIndexes(ctx, coll)[desiredSig]; ok {
				if sameBoolPtr(desiredUnique, ex.Unique) {
					zap.L().Info("reusing existing index (post-conflict)", fields...)
					continue
				}
				if rerr := recreate(ctx, coll, ex.Name, m, desiredName, unique); rerr == nil {
					zap.L().Info("index dropped and recreated (post-conflict)", fields...)
					continue
				} else {
					err = rerr
				}
			}
		}
		zap.L().Warn("index ensure failed", append(fields, zap.Error(err))...)
		errs = append(errs, createErr(coll, desiredName, unique, err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("users")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Email is unique across all users (global, cross-tenant)
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_email"),
		},
		// Tenant member listings and cascade detach
		{
			Keys: bson.D{
				{Key: "tenants.tenant_id", Value: 1},
				{Key: "full_name_ci", Value: 1},
				{Key: "_id", Value: 1},
			},
			Options: options.Index().SetName("idx_users_tenant_fullnameci_id"),
		},
		// Invitation lookup. Not unique: a multikey unique index would also
		// collide on the null entries of memberships without a token.
		{
			Keys:    bson.D{{Key: "tenants.invitation_token", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_users_invitation_token"),
		},
		{
			Keys:    bson.D{{Key: "email_verification_token", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_users_email_verification_token"),
		},
		{
			Keys:    bson.D{{Key: "password_reset_token", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("idx_users_password_reset_token"),
		},
	})
}

func ensureTenants(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("tenants")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// URL slugs are globally unique and case-sensitive
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_tenants_url"),
		},
		{
			Keys:    bson.D{{Key: "name_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_tenants_nameci__id"),
		},
	})
}

func ensureSettings(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("settings")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// One settings document per tenant
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_settings_tenant"),
		},
	})
}

func ensureCustomers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("customers")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_customers_tenant__id"),
		},
		{
			Keys:    bson.D{{Key: "order_ids", Value: 1}},
			Options: options.Index().SetName("idx_customers_order_ids"),
		},
	})
}

func ensureProducts(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("products")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_products_tenant__id"),
		},
		{
			Keys:    bson.D{{Key: "order_ids", Value: 1}},
			Options: options.Index().SetName("idx_products_order_ids"),
		},
	})
}

func ensureOrders(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("orders")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Order numbers are unique per tenant, not globally
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "number", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_orders_tenant_number"),
		},
		{
			Keys:    bson.D{{Key: "product_ids", Value: 1}},
			Options: options.Index().SetName("idx_orders_product_ids"),
		},
		{
			Keys:    bson.D{{Key: "customer_id", Value: 1}},
			Options: options.Index().SetName("idx_orders_customer_id"),
		},
	})
}

func ensureAuditEvents(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("audit_events")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_timestamp"),
		},
		{
			Keys: bson.D{
				{Key: "entity_name", Value: 1},
				{Key: "entity_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("idx_audit_entity_timestamp"),
		},
	})
}
