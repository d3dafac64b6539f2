package txn_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/app/system/uniqueness"
	"github.com/dalemusser/tenancy/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func TestManager_Disabled_BeginReturnsNilSession(t *testing.T) {
	m := txn.New(nil, txn.Config{Enabled: false}, zap.NewNop(), nil)
	ctx := context.Background()

	sess, err := m.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if sess != nil {
		t.Fatal("expected nil session when transactions are disabled")
	}
	if got := txn.WithSession(ctx, sess); got != ctx {
		t.Error("WithSession(nil) should return ctx unchanged")
	}
	if err := sess.Commit(ctx); err != nil {
		t.Errorf("Commit on nil session: %v", err)
	}
	if err := sess.Abort(ctx); err != nil {
		t.Errorf("Abort on nil session: %v", err)
	}
}

func TestManager_NilManagerRuns(t *testing.T) {
	var m *txn.Manager
	called := false
	err := m.Run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestManager_Disabled_RunPropagatesError(t *testing.T) {
	m := txn.New(nil, txn.Config{}, nil, nil)
	boom := errors.New("boom")
	err := m.Run(context.Background(), func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
}

// beginOrSkip opens a real transaction, skipping when the test server is standalone.
func beginOrSkip(t *testing.T, m *txn.Manager, ctx context.Context) *txn.Session {
	t.Helper()
	sess, err := m.Begin(ctx)
	if err != nil {
		if txn.IsNotSupported(err) {
			t.Skip("transactions not supported by test server")
		}
		t.Fatalf("Begin failed: %v", err)
	}
	return sess
}

func TestManager_Enabled_RunAbortsOnError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	testutil.RequireTransactions(t, db)

	m := txn.New(db.Client(), txn.Config{Enabled: true}, zap.NewNop(), nil)
	boom := errors.New("boom")
	err := m.Run(ctx, func(ctx context.Context) error {
		if _, err := db.Collection("things").InsertOne(ctx, bson.M{"name": "a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}

	n, err := db.Collection("things").CountDocuments(ctx, bson.M{})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected aborted insert to be rolled back, found %d docs", n)
	}
}

func TestManager_Enabled_RunCommits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	testutil.RequireTransactions(t, db)

	m := txn.New(db.Client(), txn.Config{Enabled: true}, zap.NewNop(), nil)
	err := m.Run(ctx, func(ctx context.Context) error {
		_, err := db.Collection("things").InsertMany(ctx, []interface{}{bson.M{"n": 1}, bson.M{"n": 2}})
		return err
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	n, _ := db.Collection("things").CountDocuments(ctx, bson.M{})
	if n != 2 {
		t.Errorf("expected 2 committed docs, got %d", n)
	}
}

func TestSession_DoubleCommit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	testutil.RequireTransactions(t, db)

	m := txn.New(db.Client(), txn.Config{Enabled: true}, zap.NewNop(), nil)
	sess := beginOrSkip(t, m, ctx)
	if _, err := db.Collection("things").InsertOne(txn.WithSession(ctx, sess), bson.M{"n": 1}); err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := sess.Commit(ctx); !errors.Is(err, txn.ErrSessionFinished) {
		t.Errorf("second Commit = %v, want ErrSessionFinished", err)
	}
	if err := sess.Abort(ctx); !errors.Is(err, txn.ErrSessionFinished) {
		t.Errorf("Abort after Commit = %v, want ErrSessionFinished", err)
	}
}

func TestManager_RunTranslated_DuplicateKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	m := txn.New(db.Client(), txn.Config{Enabled: false}, zap.NewNop(), nil)
	entity := uniqueness.Entity{Name: "order", UniqueFields: []string{"number"}, ScopeField: "tenant_id"}
	tenantID := primitive.NewObjectID()

	insert := func(ctx context.Context) error {
		_, err := db.Collection("orders").InsertOne(ctx, bson.M{"tenant_id": tenantID, "number": "A-1"})
		return err
	}
	if err := m.RunTranslated(ctx, entity, insert); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := m.RunTranslated(ctx, entity, insert)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Key != "entities.order.errors.unique.number" {
		t.Errorf("Key = %q", ve.Key)
	}
	if ve.Field != "number" {
		t.Errorf("Field = %q", ve.Field)
	}
}
