// Package metrics holds the Prometheus collectors for the data-access layer.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the counters shared by txn and auditlog. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	Sessions    *prometheus.CounterVec
	AuditWrites *prometheus.CounterVec
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_sessions_total",
			Help: "Units of work by outcome (begin, commit, abort, noop).",
		}, []string{"outcome"}),
		AuditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_audit_writes_total",
			Help: "Audit records by entity and result.",
		}, []string{"entity", "result"}),
	}
}

// Register registers the collectors on reg (or the default registerer if nil).
// Already-registered collectors are not an error.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, col := range []prometheus.Collector{c.Sessions, c.AuditWrites} {
		if err := reg.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Session counts one session outcome.
func (c *Collectors) Session(outcome string) {
	if c == nil {
		return
	}
	c.Sessions.WithLabelValues(outcome).Inc()
}

// Audit counts one audit write.
func (c *Collectors) Audit(entity string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.AuditWrites.WithLabelValues(entity, result).Inc()
}
