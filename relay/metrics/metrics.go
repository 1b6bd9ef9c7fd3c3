// Package metrics instruments the relay with Prometheus collectors.
//
// Metrics collected (namespace "relay" by default):
//   - relay_connections_active: gauge of open websocket connections
//   - relay_rooms_active: gauge of rooms with at least one member
//   - relay_members_active: gauge of joined connections
//   - relay_messages_relayed_total: counter of envelopes enqueued, by kind
//   - relay_messages_dropped_total: counter of envelopes discarded, by kind and reason
//   - relay_slow_consumers_total: counter of connections closed for overflow
//   - relay_auth_failures_total: counter of rejected handshakes
//   - relay_tokens_issued_total: counter of token requests, by result
//
// Every method is safe on a nil *Metrics, so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "relay").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry receives the collectors. Default: a fresh registry that also
	// carries the Go and process collectors.
	Registry prometheus.Registerer

	// Gatherer is served by Handler. Defaults to Registry when it is a
	// *prometheus.Registry.
	Gatherer prometheus.Gatherer
}

// Option configures Metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry registers the collectors with registry and serves gatherer.
func WithRegistry(registry prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(c *Config) {
		c.Registry = registry
		c.Gatherer = gatherer
	}
}

// Metrics holds the relay collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge
	membersActive     prometheus.Gauge
	messagesRelayed   *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	slowConsumers     prometheus.Counter
	authFailures      prometheus.Counter
	tokensIssued      *prometheus.CounterVec
}

var _ registry.Listener = (*Metrics)(nil)

// New creates and registers the relay collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{Namespace: "relay"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		cfg.Registry = reg
	}
	if cfg.Gatherer == nil {
		if g, ok := cfg.Registry.(prometheus.Gatherer); ok {
			cfg.Gatherer = g
		}
	}

	factory := promauto.With(cfg.Registry)

	return &Metrics{
		gatherer: cfg.Gatherer,

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connections_active",
			Help:        "Number of open websocket connections",
			ConstLabels: cfg.ConstLabels,
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "rooms_active",
			Help:        "Number of rooms with at least one member",
			ConstLabels: cfg.ConstLabels,
		}),

		membersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "members_active",
			Help:        "Number of connections joined to a room",
			ConstLabels: cfg.ConstLabels,
		}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_relayed_total",
			Help:        "Envelopes enqueued for delivery, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_dropped_total",
			Help:        "Envelopes discarded before delivery, by kind and reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind", "reason"}),

		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "slow_consumers_total",
			Help:        "Connections closed because their outbound queue overflowed",
			ConstLabels: cfg.ConstLabels,
		}),

		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "auth_failures_total",
			Help:        "Websocket handshakes rejected during authentication",
			ConstLabels: cfg.ConstLabels,
		}),

		tokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "tokens_issued_total",
			Help:        "Capability token requests, by result code",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),
	}
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

// Relayed counts n envelopes of kind enqueued.
func (m *Metrics) Relayed(kind protocol.Kind, n int) {
	if m != nil && n > 0 {
		m.messagesRelayed.WithLabelValues(string(kind)).Add(float64(n))
	}
}

// Dropped counts one envelope of kind discarded for reason.
func (m *Metrics) Dropped(kind protocol.Kind, reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(string(kind), reason).Inc()
	}
}

func (m *Metrics) SlowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}

func (m *Metrics) AuthFailure() {
	if m != nil {
		m.authFailures.Inc()
	}
}

// TokenIssued counts a token request; err nil counts as "ok".
func (m *Metrics) TokenIssued(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(protocol.CodeOf(err))
	}
	m.tokensIssued.WithLabelValues(result).Inc()
}

// MemberJoined tracks room and member gauges from registry transitions.
func (m *Metrics) MemberJoined(_ string, _ registry.Member, members registry.MemberSet) {
	if m == nil {
		return
	}
	m.membersActive.Inc()
	if len(members) == 1 {
		m.roomsActive.Inc()
	}
}

func (m *Metrics) MemberLeft(_ string, _ registry.Member, remaining registry.MemberSet) {
	if m == nil {
		return
	}
	m.membersActive.Dec()
	if len(remaining) == 0 {
		m.roomsActive.Dec()
	}
}
