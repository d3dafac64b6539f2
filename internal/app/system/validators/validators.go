// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/tenancy/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// schemas maps each collection to its JSON-Schema validator. Collections are
// created up front so the first write to each can run inside a transaction
// on servers that refuse implicit creation there.
func schemas() []struct {
	name   string
	schema bson.M
} {
	return []struct {
		name   string
		schema bson.M
	}{
		{"tenants", tenantsSchema()},
		{"users", usersSchema()},
		{"settings", tenantScopedSchema()},
		{"customers", tenantScopedSchema()},
		{"products", tenantScopedSchema()},
		{"orders", ordersSchema()},
		{"audit_events", auditEventsSchema()},
	}
}

// EnsureAll creates missing collections and attaches their validators with
// validationLevel "moderate": existing documents that already fail the
// schema can still be updated. Servers without
// collMod validator support (some DocumentDB versions) are logged and skipped.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	existing := make(map[string]bool)
	if names, err := db.ListCollectionNames(ctx, bson.M{}); err == nil {
		for _, n := range names {
			existing[n] = true
		}
	}

	var problems []string
	for _, c := range schemas() {
		if !existing[c.name] {
			if err := db.CreateCollection(ctx, c.name); err != nil && !commandErr(err, 48, "already exists", "namespace exists") {
				zap.L().Warn("createCollection failed", zap.String("collection", c.name), zap.Error(err))
				problems = append(problems, c.name+": "+err.Error())
				continue
			}
			zap.L().Info("created collection", zap.String("collection", c.name))
		}

		err := db.RunCommand(ctx, bson.D{
			{Key: "collMod", Value: c.name},
			{Key: "validator", Value: c.schema},
			{Key: "validationLevel", Value: "moderate"},
			{Key: "validationAction", Value: "error"},
		}).Err()
		switch {
		case err == nil:
			zap.L().Info("validator ensured", zap.String("collection", c.name))
		case commandErr(err, 59, "no such command") || commandErr(err, 115, "not implemented", "not supported"):
			zap.L().Info("validator skipped (unsupported)", zap.String("collection", c.name))
		default:
			problems = append(problems, c.name+": "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// commandErr reports whether err is a server error with the given code or
// whose message contains one of phrases.
func commandErr(err error, code int32, phrases ...string) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == code {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

/* ------------------------- JSON-Schema docs ---------------------- */

// nonBlank matches a string with at least one non-space character.
var nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}

func tenantsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "url"},
			"properties": bson.M{
				"name": bson.M{"bsonType": "string"},
				"url":  nonBlank,
			},
		},
	}
}

func usersSchema() bson.M {
	statusEnum := bson.A{
		string(models.MembershipInvited),
		string(models.MembershipActive),
		string(models.MembershipEmptyPermissions),
	}

	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"email"},
			"properties": bson.M{
				"email":               nonBlank,
				"full_name":           bson.M{"bsonType": "string"},
				"memberships_version": bson.M{"bsonType": bson.A{"int", "long"}},
				"tenants": bson.M{
					"bsonType": bson.A{"array", "null"},
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"tenant_id", "status", "roles"},
						"properties": bson.M{
							"tenant_id":        bson.M{"bsonType": "objectId"},
							"status":           bson.M{"enum": statusEnum},
							"roles":            bson.M{"bsonType": bson.A{"array", "null"}, "items": bson.M{"bsonType": "string"}},
							"invitation_token": bson.M{"bsonType": "string"},
						},
					},
				},
			},
		},
	}
}

func tenantScopedSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"tenant_id"},
			"properties": bson.M{
				"tenant_id": bson.M{"bsonType": "objectId"},
			},
		},
	}
}

func ordersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"tenant_id", "number"},
			"properties": bson.M{
				"tenant_id":   bson.M{"bsonType": "objectId"},
				"number":      nonBlank,
				"customer_id": bson.M{"bsonType": bson.A{"objectId", "null"}},
				"product_ids": bson.M{"bsonType": bson.A{"array", "null"}, "items": bson.M{"bsonType": "objectId"}},
			},
		},
	}
}

func auditEventsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"timestamp", "entity_name", "entity_id", "action"},
			"properties": bson.M{
				"timestamp":   bson.M{"bsonType": "date"},
				"entity_name": nonBlank,
				"entity_id":   bson.M{"bsonType": "objectId"},
				"action":      bson.M{"enum": bson.A{"create", "update", "delete"}},
			},
		},
	}
}
