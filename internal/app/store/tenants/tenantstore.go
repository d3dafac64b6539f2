// internal/app/store/tenants/tenantstore.go
package tenantstore

import (
	"context"
	"errors"
	"strings"
	"time"

	membershipstore "github.com/dalemusser/tenancy/internal/app/store/memberships"
	settingsstore "github.com/dalemusser/tenancy/internal/app/store/settings"
	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/normalize"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// EntityName is the audit entity for tenants.
const EntityName = "tenant"

// URLTakenKey is the message key for a reserved or already used URL.
const URLTakenKey = "entities.tenant.errors.url.taken"

// ErrNotFound is returned when no tenant has the requested id or URL.
var ErrNotFound = apperr.NewNotFound("tenant")

// ScopedCollections hold tenant-owned records keyed by tenant_id. They are
// deleted with their tenant.
var ScopedCollections = []string{"customers", "products", "orders"}

// DefaultReserved are URLs no tenant may claim.
var DefaultReserved = []string{"www"}

// generatedURLAttempts bounds retries when a generated URL collides.
const generatedURLAttempts = 3

// Config holds tenant store options.
type Config struct {
	// Reserved URLs in addition to DefaultReserved.
	Reserved []string
	// DefaultLocale seeds lazily created tenant settings.
	DefaultLocale string
}

type Store struct {
	db          *mongo.Database
	c           *mongo.Collection
	txn         *txn.Manager
	audit       *auditlog.Logger
	settings    *settingsstore.Store
	memberships *membershipstore.Store
	reserved    map[string]struct{}
	log         *zap.Logger
}

// New creates a tenant store. tm, al and logger may be nil.
func New(db *mongo.Database, tm *txn.Manager, al *auditlog.Logger, logger *zap.Logger, cfg Config) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	reserved := make(map[string]struct{})
	for _, r := range append(append([]string{}, DefaultReserved...), cfg.Reserved...) {
		if r = normalize.URL(r); r != "" {
			reserved[r] = struct{}{}
		}
	}
	return &Store{
		db:          db,
		c:           db.Collection("tenants"),
		txn:         tm,
		audit:       al,
		settings:    settingsstore.New(db, cfg.DefaultLocale),
		memberships: membershipstore.New(db, tm, al),
		reserved:    reserved,
		log:         logger,
	}
}

// IsReserved reports whether url may never be claimed.
func (s *Store) IsReserved(url string) bool {
	_, ok := s.reserved[normalize.URL(url)]
	return ok
}

func urlTaken(ctx context.Context) error {
	ve := apperr.NewValidation(opctx.Locale(ctx), URLTakenKey)
	ve.Field = "url"
	return ve
}

// generateURL returns a random slug for tenants created without one.
func generateURL() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// checkURL rejects reserved URLs and URLs held by a tenant other than self.
func (s *Store) checkURL(ctx context.Context, url string, self primitive.ObjectID) error {
	if s.IsReserved(url) {
		return urlTaken(ctx)
	}
	filter := bson.M{"url": url}
	if !self.IsZero() {
		filter["_id"] = bson.M{"$ne": self}
	}
	err := s.c.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}
	return urlTaken(ctx)
}

// Create inserts a new tenant. The URL is trimmed with case kept; an empty
// URL is replaced by a generated one. A reserved or used URL fails with a
// ValidationError keyed URLTakenKey.
func (s *Store) Create(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	now := time.Now().UTC()
	t.ID = primitive.NewObjectID()
	t.Name = normalize.Name(t.Name)
	t.NameCI = text.Fold(t.Name)
	if t.Plan.Name == "" {
		t.Plan.Name = models.DefaultPlan
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	t.URL = normalize.URL(t.URL)
	generated := t.URL == ""
	attempts := 1
	if generated {
		attempts = generatedURLAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		if generated {
			t.URL = generateURL()
		}
		err = s.txn.Run(ctx, func(ctx context.Context) error {
			if err := s.checkURL(ctx, t.URL, primitive.NilObjectID); err != nil {
				return err
			}
			if _, err := s.c.InsertOne(ctx, t); err != nil {
				if wafflemongo.IsDup(err) {
					return urlTaken(ctx)
				}
				return err
			}
			return s.audit.Created(ctx, EntityName, t.ID, map[string]any{"tenant_id": t.ID, "url": t.URL, "name": t.Name})
		})
		if err == nil || !generated || !apperr.IsValidation(err) {
			break
		}
		s.log.Warn("generated tenant url collided, retrying", zap.String("url", t.URL))
	}
	if err != nil {
		return models.Tenant{}, err
	}
	return t, nil
}

// GetByID retrieves a tenant by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByURL retrieves a tenant by its exact, case-sensitive URL.
func (s *Store) GetByURL(ctx context.Context, url string) (models.Tenant, error) {
	return s.findOne(ctx, bson.M{"url": normalize.URL(url)})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.Tenant, error) {
	var t models.Tenant
	err := s.c.FindOne(ctx, filter).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Tenant{}, ErrNotFound
	}
	if err != nil {
		return models.Tenant{}, err
	}
	return t, nil
}

// Update modifies a tenant's name, plan and URL. Empty name or URL keep
// the current value; a new URL follows the same rules as Create.
func (s *Store) Update(ctx context.Context, id primitive.ObjectID, t models.Tenant) (models.Tenant, error) {
	var out models.Tenant
	err := s.txn.Run(ctx, func(ctx context.Context) error {
		cur, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		set := bson.M{"updated_at": time.Now().UTC()}
		if name := normalize.Name(t.Name); name != "" {
			set["name"] = name
			set["name_ci"] = text.Fold(name)
		}
		if t.Plan != (models.Plan{}) {
			set["plan"] = t.Plan
		}
		if url := normalize.URL(t.URL); url != "" && url != cur.URL {
			if err := s.checkURL(ctx, url, id); err != nil {
				return err
			}
			set["url"] = url
		}

		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err = s.c.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		if wafflemongo.IsDup(err) {
			return urlTaken(ctx)
		}
		if err != nil {
			return err
		}
		return s.audit.Updated(ctx, EntityName, id, map[string]any{"tenant_id": id, "url": out.URL, "name": out.Name})
	})
	if err != nil {
		return models.Tenant{}, err
	}
	return out, nil
}

// DestroyResult counts what a tenant deletion removed.
type DestroyResult struct {
	Settings int64
	Scoped   map[string]int64
	Detached int64 // users whose membership was removed
}

// Destroy deletes the tenant, every record it owns and every membership
// in it, as one unit of work. Users are detached, never deleted.
func (s *Store) Destroy(ctx context.Context, id primitive.ObjectID) (DestroyResult, error) {
	var res DestroyResult
	err := s.txn.Run(ctx, func(ctx context.Context) error {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}

		n, err := s.settings.DeleteByTenant(ctx, id)
		if err != nil {
			return err
		}
		res.Settings = n

		res.Scoped = make(map[string]int64, len(ScopedCollections))
		for _, coll := range ScopedCollections {
			dr, err := s.db.Collection(coll).DeleteMany(ctx, bson.M{"tenant_id": id})
			if err != nil {
				return err
			}
			res.Scoped[coll] = dr.DeletedCount
		}

		if res.Detached, err = s.memberships.DestroyAllForTenant(ctx, id); err != nil {
			return err
		}

		if _, err := s.c.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return err
		}
		values := map[string]any{"tenant_id": id, "detached_users": res.Detached}
		for coll, n := range res.Scoped {
			values[coll] = n
		}
		return s.audit.Deleted(ctx, EntityName, id, values)
	})
	if err != nil {
		return DestroyResult{}, err
	}
	s.log.Info("tenant deleted",
		zap.String("tenant_id", id.Hex()),
		zap.Int64("detached_users", res.Detached))
	return res, nil
}

// Find returns tenants matching filter, in name order by default.
func (s *Store) Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Tenant, error) {
	if filter == nil {
		filter = bson.M{}
	}
	if len(opts) == 0 {
		opts = append(opts, options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}, {Key: "_id", Value: 1}}))
	}
	cur, err := s.c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var tenants []models.Tenant
	if err := cur.All(ctx, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// Count returns the number of tenants matching the given filter.
func (s *Store) Count(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	return s.c.CountDocuments(ctx, filter)
}
