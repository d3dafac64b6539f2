// internal/app/store/settings/settingsstore.go
package settingsstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/dalemusser/tenancy/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides access to the settings collection.
// Each tenant has exactly one settings document (unique on tenant_id).
type Store struct {
	c      *mongo.Collection
	locale string
}

// New creates a new settings store. defaultLocale seeds the locale of
// newly created settings; empty means models.DefaultLocale.
func New(db *mongo.Database, defaultLocale string) *Store {
	if defaultLocale == "" {
		defaultLocale = models.DefaultLocale
	}
	return &Store{c: db.Collection("settings"), locale: defaultLocale}
}

// Get returns the settings of a tenant, creating them with defaults on
// first access.
func (s *Store) Get(ctx context.Context, tenantID primitive.ObjectID) (models.Settings, error) {
	filter := bson.M{"tenant_id": tenantID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        primitive.NewObjectID(),
			"tenant_id":  tenantID,
			"locale":     s.locale,
			"currency":   models.DefaultCurrency,
			"time_zone":  models.DefaultTimeZone,
			"created_at": time.Now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var out models.Settings
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if wafflemongo.IsDup(err) {
		// Lost the insert race to a concurrent first read; the document exists now.
		err = s.c.FindOne(ctx, filter).Decode(&out)
	}
	if err != nil {
		return models.Settings{}, err
	}
	return out, nil
}

// Save replaces the editable fields of a tenant's settings.
// Uses upsert so it works whether settings exist or not.
func (s *Store) Save(ctx context.Context, tenantID primitive.ObjectID, settings models.Settings) error {
	if settings.TimeZone != "" {
		if _, err := time.LoadLocation(settings.TimeZone); err != nil {
			ve := apperr.NewValidation(opctx.Locale(ctx), "entities.settings.errors.time_zone.invalid")
			ve.Field = "time_zone"
			return ve
		}
	}

	now := time.Now().UTC()
	set := bson.M{
		"locale":     orDefault(settings.Locale, s.locale),
		"currency":   orDefault(settings.Currency, models.DefaultCurrency),
		"time_zone":  orDefault(settings.TimeZone, models.DefaultTimeZone),
		"values":     settings.Values,
		"updated_at": now,
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":        primitive.NewObjectID(),
			"created_at": now,
		},
	}

	_, err := s.c.UpdateOne(ctx, bson.M{"tenant_id": tenantID}, update, options.Update().SetUpsert(true))
	return err
}

// Exists checks if settings have been created for a tenant.
func (s *Store) Exists(ctx context.Context, tenantID primitive.ObjectID) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{"tenant_id": tenantID}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return err == nil, err
}

// DeleteByTenant removes the settings of a tenant. Used when deleting a tenant.
func (s *Store) DeleteByTenant(ctx context.Context, tenantID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
