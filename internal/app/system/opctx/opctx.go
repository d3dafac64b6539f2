// Package opctx carries per-operation values (locale, acting user) through
// context so that stores can build localized errors and audit records.
package opctx

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ctxKey string

const (
	localeKey ctxKey = "locale"
	actorKey  ctxKey = "actor"
	corrKey   ctxKey = "correlation"
)

// DefaultLocale is used when no locale was attached to the context.
var DefaultLocale = "en"

// WithLocale returns a context carrying the caller's locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey, locale)
}

// Locale returns the locale attached to ctx, or DefaultLocale.
func Locale(ctx context.Context) string {
	if l, ok := ctx.Value(localeKey).(string); ok && l != "" {
		return l
	}
	return DefaultLocale
}

// WithActor returns a context carrying the id of the user performing the operation.
func WithActor(ctx context.Context, userID primitive.ObjectID) context.Context {
	return context.WithValue(ctx, actorKey, userID)
}

// Actor returns the acting user id, if one was attached.
func Actor(ctx context.Context) (primitive.ObjectID, bool) {
	id, ok := ctx.Value(actorKey).(primitive.ObjectID)
	return id, ok && !id.IsZero()
}

// WithCorrelationID returns a context whose audit records share id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// CorrelationID returns the id attached by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(corrKey).(string)
	return id
}
