// Package metrics exposes Prometheus collectors for queue, policy, event log
// and HTTP activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service records to.
type Metrics struct {
	gatherer prometheus.Gatherer

	enqueued       *prometheus.CounterVec
	claimed        *prometheus.CounterVec
	acked          *prometheus.CounterVec
	ackConflicts   prometheus.Counter
	cleared        prometheus.Counter
	stateReports   prometheus.Counter
	policyTicks    prometheus.Counter
	policyEnqueued *prometheus.CounterVec
	policyErrors   prometheus.Counter
	eventsRecorded *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	mirrorErrors   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
// Collectors already registered (a second New on the same registry) are
// reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	m := &Metrics{gatherer: gatherer}
	var err error
	if m.enqueued, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_commands_enqueued_total",
		Help: "Commands enqueued, by origin",
	}, []string{"origin"})); err != nil {
		return nil, err
	}
	if m.claimed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_commands_claimed_total",
		Help: "Claim attempts, by result (claimed, empty, lost)",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.acked, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_commands_acked_total",
		Help: "Commands acknowledged, by terminal status",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if m.ackConflicts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dockyard_ack_conflicts_total",
		Help: "Acks that matched no command",
	})); err != nil {
		return nil, err
	}
	if m.cleared, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dockyard_commands_cleared_total",
		Help: "Commands canceled by queue clears",
	})); err != nil {
		return nil, err
	}
	if m.stateReports, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dockyard_state_reports_total",
		Help: "Robot state snapshots accepted",
	})); err != nil {
		return nil, err
	}
	if m.policyTicks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dockyard_policy_ticks_total",
		Help: "Auto-policy sweeps completed",
	})); err != nil {
		return nil, err
	}
	if m.policyEnqueued, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_policy_enqueued_total",
		Help: "Commands synthesized by the auto-policy engine, by command",
	}, []string{"command"})); err != nil {
		return nil, err
	}
	if m.policyErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dockyard_policy_errors_total",
		Help: "Per-robot auto-policy failures",
	})); err != nil {
		return nil, err
	}
	if m.eventsRecorded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_events_recorded_total",
		Help: "Audit events written, by level",
	}, []string{"level"})); err != nil {
		return nil, err
	}
	if m.eventsDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dockyard_events_dropped_total",
		Help: "Audit events that failed to persist",
	})); err != nil {
		return nil, err
	}
	if m.mirrorErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_event_mirror_errors_total",
		Help: "Event mirror delivery failures, by mirror",
	}, []string{"mirror"})); err != nil {
		return nil, err
	}
	if m.httpRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dockyard_http_requests_total",
		Help: "HTTP requests, by route and status code",
	}, []string{"method", "route", "code"})); err != nil {
		return nil, err
	}
	if m.httpLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dockyard_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	var h http.Handler
	if m == nil {
		h = promhttp.Handler()
	} else {
		h = promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return gin.WrapH(h)
}

func (m *Metrics) CommandEnqueued(origin string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(origin).Inc()
}

// ClaimResult is one of "claimed", "empty" or "lost".
func (m *Metrics) ClaimResult(result string) {
	if m == nil {
		return
	}
	m.claimed.WithLabelValues(result).Inc()
}

func (m *Metrics) CommandAcked(status string) {
	if m == nil {
		return
	}
	m.acked.WithLabelValues(status).Inc()
}

func (m *Metrics) AckConflict() {
	if m == nil {
		return
	}
	m.ackConflicts.Inc()
}

func (m *Metrics) CommandsCleared(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleared.Add(float64(n))
}

func (m *Metrics) StateReported() {
	if m == nil {
		return
	}
	m.stateReports.Inc()
}

func (m *Metrics) PolicyTick() {
	if m == nil {
		return
	}
	m.policyTicks.Inc()
}

func (m *Metrics) PolicyEnqueued(command string) {
	if m == nil {
		return
	}
	m.policyEnqueued.WithLabelValues(command).Inc()
}

func (m *Metrics) PolicyError() {
	if m == nil {
		return
	}
	m.policyErrors.Inc()
}

func (m *Metrics) EventRecorded(level string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(level).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) MirrorError(mirror string) {
	if m == nil {
		return
	}
	m.mirrorErrors.WithLabelValues(mirror).Inc()
}

// HTTPRequest records one served request. route is the gin full path, not
// the raw URL, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusLabel(code)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
