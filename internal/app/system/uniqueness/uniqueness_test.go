package uniqueness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func rawKeyPattern(t *testing.T, keys bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(bson.D{
		{Key: "code", Value: 11000},
		{Key: "keyPattern", Value: keys},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestFromMongo(t *testing.T) {
	orderPattern := bson.D{{Key: "tenant_id", Value: 1}, {Key: "number", Value: 1}}

	tests := []struct {
		name   string
		err    error
		dup    bool
		fields []string
	}{
		{name: "nil", err: nil, dup: false},
		{name: "generic", err: errors.New("connection reset"), dup: false},
		{
			name: "write exception with keyPattern",
			err: mongo.WriteException{WriteErrors: []mongo.WriteError{{
				Code:    11000,
				Message: "E11000 duplicate key error",
				Raw:     rawKeyPattern(t, orderPattern),
			}}},
			dup:    true,
			fields: []string{"tenant_id", "number"},
		},
		{
			name: "write exception message only",
			err: mongo.WriteException{WriteErrors: []mongo.WriteError{{
				Code:    11000,
				Message: `E11000 duplicate key error collection: db.tenants index: uniq_tenants_url dup key: { url: "www" }`,
			}}},
			dup:    true,
			fields: []string{"url"},
		},
		{
			name: "command error",
			err: mongo.CommandError{
				Code:    11000,
				Message: `E11000 duplicate key error collection: db.users index: uniq_users_email dup key: { email: "a@b.c" }`,
			},
			dup:    true,
			fields: []string{"email"},
		},
		{
			name: "bulk write exception",
			err: mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{
				WriteError: mongo.WriteError{Code: 11000, Raw: rawKeyPattern(t, bson.D{{Key: "email", Value: 1}})},
			}}},
			dup:    true,
			fields: []string{"email"},
		},
		{
			name: "other write error code",
			err:  mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 121, Message: "Document failed validation"}}},
			dup:  false,
		},
		{
			name:   "already typed and wrapped",
			err:    fmt.Errorf("insert: %w", &DuplicateKeyError{Fields: []string{"url"}}),
			dup:    true,
			fields: []string{"url"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup, ok := FromMongo(tt.err)
			if ok != tt.dup {
				t.Fatalf("FromMongo ok = %v, want %v", ok, tt.dup)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(dup.Fields, tt.fields) {
				t.Errorf("Fields = %v, want %v", dup.Fields, tt.fields)
			}
		})
	}
}

func TestFieldsFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want []string
	}{
		{
			"compound",
			`E11000 duplicate key error collection: db.orders index: uniq_orders_tenant_number dup key: { tenant_id: ObjectId('64b7f0c2a1b2c3d4e5f60718'), number: "A-1" }`,
			[]string{"tenant_id", "number"},
		},
		{
			"value looks like a key",
			`E11000 duplicate key error collection: db.orders index: uniq_orders_tenant_number dup key: { tenant_id: ObjectId('64b7f0c2a1b2c3d4e5f60718'), number: "a, b: c" }`,
			[]string{"tenant_id", "number"},
		},
		{
			"escaped quote in value",
			`E11000 duplicate key error collection: db.users index: uniq_users_email dup key: { email: "x\", y: z" }`,
			[]string{"email"},
		},
		{"no dup key part", "E11000 duplicate key error", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fieldsFromMessage(tt.msg); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("fieldsFromMessage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntity_Translate(t *testing.T) {
	orders := Entity{Name: "order", UniqueFields: []string{"number"}, ScopeField: "tenant_id"}
	ctx := opctx.WithLocale(context.Background(), "fr")

	t.Run("excludes scope field", func(t *testing.T) {
		err := orders.Translate(ctx, &DuplicateKeyError{Fields: []string{"tenant_id", "number"}})
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %T %v", err, err)
		}
		if ve.Key != "entities.order.errors.unique.number" {
			t.Errorf("Key = %q", ve.Key)
		}
		if ve.Field != "number" {
			t.Errorf("Field = %q", ve.Field)
		}
		if ve.Locale != "fr" {
			t.Errorf("Locale = %q, want fr", ve.Locale)
		}
	})

	t.Run("passes non-duplicate errors unchanged", func(t *testing.T) {
		boom := errors.New("boom")
		if got := orders.Translate(ctx, boom); got != boom {
			t.Errorf("Translate = %v, want original error", got)
		}
		if got := orders.Translate(ctx, nil); got != nil {
			t.Errorf("Translate(nil) = %v", got)
		}
	})

	t.Run("first declared field wins", func(t *testing.T) {
		users := Entity{Name: "user", UniqueFields: []string{"email", "phone"}}
		err := users.Translate(ctx, &DuplicateKeyError{Fields: []string{"phone", "email"}})
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) || ve.Field != "phone" {
			t.Errorf("expected field phone, got %v", err)
		}
	})

	t.Run("no reported fields falls back to declared", func(t *testing.T) {
		tenants := Entity{Name: "tenant", UniqueFields: []string{"url"}}
		err := tenants.Translate(ctx, &DuplicateKeyError{})
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) || ve.Key != "entities.tenant.errors.unique.url" {
			t.Errorf("unexpected translation: %v", err)
		}
	})
}
