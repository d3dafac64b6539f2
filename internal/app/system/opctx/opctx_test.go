package opctx

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLocale(t *testing.T) {
	ctx := context.Background()
	if got := Locale(ctx); got != DefaultLocale {
		t.Errorf("Locale() = %q, want %q", got, DefaultLocale)
	}
	ctx = WithLocale(ctx, "pt-BR")
	if got := Locale(ctx); got != "pt-BR" {
		t.Errorf("Locale() = %q, want %q", got, "pt-BR")
	}
}

func TestActor(t *testing.T) {
	if _, ok := Actor(context.Background()); ok {
		t.Error("expected no actor on empty context")
	}
	id := primitive.NewObjectID()
	got, ok := Actor(WithActor(context.Background(), id))
	if !ok || got != id {
		t.Errorf("Actor() = %v, %v; want %v, true", got, ok, id)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID() = %q, want empty", got)
	}
	if got := CorrelationID(WithCorrelationID(context.Background(), "abc")); got != "abc" {
		t.Errorf("CorrelationID() = %q, want %q", got, "abc")
	}
}
