// Package txn is the session/transaction manager. A Manager is built with
// an explicit Enabled flag; when transactions are disabled Begin returns a
// nil *Session, and every Session method and WithSession treat nil as a
// no-op so callers use a single code path in both modes.
//
// With transactions disabled, a failure part-way through a unit of work
// leaves the earlier writes in place. That is an accepted risk of running
// against a server without replica-set support.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dalemusser/tenancy/internal/app/system/metrics"
	"github.com/dalemusser/tenancy/internal/app/system/uniqueness"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

// ErrSessionFinished is returned by Commit or Abort on a session that was
// already committed or aborted. It is a programming error and must not be retried.
var ErrSessionFinished = errors.New("txn: session already finished")

// Config controls the Manager.
type Config struct {
	// Enabled turns multi-document transactions on. Requires a replica set
	// or sharded cluster.
	Enabled bool
}

// Manager opens units of work against one Mongo client.
type Manager struct {
	client  *mongo.Client
	enabled bool
	log     *zap.Logger
	metrics *metrics.Collectors
}

// New creates a Manager. logger and m may be nil.
func New(client *mongo.Client, cfg Config, logger *zap.Logger, m *metrics.Collectors) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("mongo transactions disabled; multi-write operations are not atomic")
	}
	return &Manager{client: client, enabled: cfg.Enabled, log: logger, metrics: m}
}

// Enabled reports whether Begin opens real transactions. A nil Manager is disabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

type state int

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
)

// Session is one open unit of work. The zero of *Session (nil) is the
// absent session used when transactions are disabled.
type Session struct {
	mu      sync.Mutex
	s       mongo.Session
	state   state
	log     *zap.Logger
	metrics *metrics.Collectors
}

// Begin starts a unit of work. It returns (nil, nil) when transactions are disabled.
func (m *Manager) Begin(ctx context.Context) (*Session, error) {
	if !m.Enabled() {
		m.countNoop()
		return nil, nil
	}
	sess, err := m.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("txn: start session: %w", err)
	}
	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(opts); err != nil {
		sess.EndSession(context.WithoutCancel(ctx))
		if IsNotSupported(err) {
			m.log.Error("mongo transactions are enabled but not supported by the server", zap.Error(err))
		}
		return nil, fmt.Errorf("txn: start transaction: %w", err)
	}
	m.metrics.Session("begin")
	return &Session{s: sess, log: m.log, metrics: m.metrics}, nil
}

func (m *Manager) countNoop() {
	if m != nil {
		m.metrics.Session("noop")
	}
}

// Commit commits every write issued through the session. Commit runs to
// completion even if ctx was canceled by the caller.
func (s *Session) Commit(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return ErrSessionFinished
	}
	s.state = stateCommitted

	ctx = context.WithoutCancel(ctx)
	defer s.s.EndSession(ctx)
	if err := s.s.CommitTransaction(ctx); err != nil {
		s.metrics.Session("commit_failed")
		s.log.Error("transaction commit failed", zap.Error(err))
		return fmt.Errorf("txn: commit: %w", err)
	}
	s.metrics.Session("commit")
	return nil
}

// Abort rolls back every write issued through the session.
func (s *Session) Abort(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return ErrSessionFinished
	}
	s.state = stateAborted

	ctx = context.WithoutCancel(ctx)
	defer s.s.EndSession(ctx)
	s.metrics.Session("abort")
	if err := s.s.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("txn: abort: %w", err)
	}
	return nil
}

// WithSession returns a context whose store operations participate in s.
// A nil session returns ctx unchanged.
func WithSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, s.s)
}

// Run executes fn as one unit of work. fn must issue its writes with the
// context it is given. If fn fails the session is aborted before the error
// is returned; Run never commits after an error.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(WithSession(ctx, sess)); err != nil {
		if abortErr := sess.Abort(ctx); abortErr != nil {
			m.logger().Warn("transaction abort failed", zap.Error(abortErr))
		}
		return err
	}
	return sess.Commit(ctx)
}

// RunTranslated is Run for a unit of work that writes entity. A
// duplicate-key failure from fn or from the commit comes back as the
// entity's validation error.
func (m *Manager) RunTranslated(ctx context.Context, entity uniqueness.Entity, fn func(ctx context.Context) error) error {
	return entity.Translate(ctx, m.Run(ctx, fn))
}

func (m *Manager) logger() *zap.Logger {
	if m == nil {
		return zap.NewNop()
	}
	return m.log
}

// IsNotSupported reports whether err indicates that the server cannot run
// transactions (standalone mongod, or an operation illegal inside one).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, 51, 263: // standalone server, or operation illegal inside a transaction
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	has := func(s string) bool { return strings.Contains(msg, s) }
	switch {
	case has("transaction") && (has("replica set") || has("session")):
		return true
	case has("session") && has("not supported"):
		return true
	case has("illegal operation"):
		return true
	}
	return false
}
