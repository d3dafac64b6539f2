// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"fmt"

	"github.com/dalemusser/tenancy/internal/app/store/audit"
	"github.com/dalemusser/tenancy/internal/app/system/metrics"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destinations for audit records.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"  // MongoDB only
	ModeLog = "log" // zap only
	ModeOff = "off"
)

// ValidMode reports whether m is a known destination.
func ValidMode(m string) bool {
	switch m {
	case ModeAll, ModeDB, ModeLog, ModeOff:
		return true
	}
	return false
}

// Config holds audit logging configuration.
type Config struct {
	// Mode is one of "all", "db", "log", "off". Empty means "all".
	Mode string
}

// Logger is the audit sink used by every mutating store operation.
type Logger struct {
	store   *audit.Store
	zapLog  *zap.Logger
	config  Config
	metrics *metrics.Collectors
}

// New creates a new audit Logger. store may be nil when the mode does not
// write to MongoDB; m may be nil.
func New(store *audit.Store, zapLog *zap.Logger, config Config, m *metrics.Collectors) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	if config.Mode == "" {
		config.Mode = ModeAll
	}
	return &Logger{
		store:   store,
		zapLog:  zapLog,
		config:  config,
		metrics: m,
	}
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("entity", event.EntityName),
		zap.String("entity_id", event.EntityID.Hex()),
		zap.String("action", event.Action),
		zap.String("correlation_id", event.CorrelationID),
	}
	if event.TenantID != nil {
		fields = append(fields, zap.String("tenant_id", event.TenantID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if len(event.Values) > 0 {
		fields = append(fields, zap.Any("values", event.Values))
	}
	l.zapLog.Info("audit event", fields...)
}

// Log records action on the entity identified by entityName and entityID.
// A nil Logger is a no-op. The MongoDB write uses ctx, so inside a unit of
// work the record commits or aborts with the rest of it. Its error is
// returned to the caller unchanged.
func (l *Logger) Log(ctx context.Context, entityName string, entityID primitive.ObjectID, action string, values map[string]any) error {
	if l == nil || l.config.Mode == ModeOff {
		return nil
	}

	event := audit.Event{
		EntityName:    entityName,
		EntityID:      entityID,
		Action:        action,
		CorrelationID: opctx.CorrelationID(ctx),
		Values:        values,
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}
	if tid, ok := values["tenant_id"].(primitive.ObjectID); ok {
		event.TenantID = &tid
	}
	if actor, ok := opctx.Actor(ctx); ok {
		event.ActorID = &actor
	}

	if l.config.Mode == ModeAll || l.config.Mode == ModeLog {
		l.logToZap(event)
	}

	if l.config.Mode == ModeAll || l.config.Mode == ModeDB {
		err := l.store.Log(ctx, event)
		l.metrics.Audit(entityName, err)
		if err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("entity", entityName),
				zap.String("action", action),
			)
			return fmt.Errorf("audit %s %s: %w", entityName, action, err)
		}
	}
	return nil
}

// Created records a create action.
func (l *Logger) Created(ctx context.Context, entityName string, entityID primitive.ObjectID, values map[string]any) error {
	return l.Log(ctx, entityName, entityID, audit.ActionCreate, values)
}

// Updated records an update action.
func (l *Logger) Updated(ctx context.Context, entityName string, entityID primitive.ObjectID, values map[string]any) error {
	return l.Log(ctx, entityName, entityID, audit.ActionUpdate, values)
}

// Deleted records a delete action.
func (l *Logger) Deleted(ctx context.Context, entityName string, entityID primitive.ObjectID, values map[string]any) error {
	return l.Log(ctx, entityName, entityID, audit.ActionDelete, values)
}
