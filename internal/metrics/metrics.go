package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay label values.
const (
	RelaySignaling = "signaling"
	RelayChat      = "chat"
)

// Drop reasons.
const (
	DropMalformed    = "malformed"
	DropUnknownType  = "unknown_type"
	DropNoRoute      = "no_route"
	DropUnregistered = "unregistered"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	forwarded    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	connections  *prometheus.CounterVec
	swept        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_forwarded_total",
			Help: "Frames delivered to a recipient's outbound queue.",
		}, []string{"relay", "type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Inbound frames dropped without forwarding.",
		}, []string{"relay", "reason"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_send_failures_total",
			Help: "Per-recipient enqueue failures (closed or saturated connection).",
		}, []string{"relay"}),
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Accepted websocket connections by role.",
		}, []string{"relay", "role"}),
		swept: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rooms_swept_total",
			Help: "Rooms evicted by the janitor for exceeding their maximum age.",
		}, []string{"relay"}),
	}
}

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) Forwarded(relay, msgType string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(relay, msgType).Inc()
}

func (m *Metrics) Dropped(relay, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(relay, reason).Inc()
}

func (m *Metrics) SendFailed(relay string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(relay).Inc()
}

func (m *Metrics) Connected(relay, role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(relay, role).Inc()
}

func (m *Metrics) Swept(relay string, rooms int) {
	if m == nil || rooms <= 0 {
		return
	}
	m.swept.WithLabelValues(relay).Add(float64(rooms))
}

// RegisterRoomGauges exposes room and participant counts computed at scrape
// time.
func RegisterRoomGauges(reg prometheus.Registerer, relay string, rooms, participants func() int) error {
	labels := prometheus.Labels{"relay": relay}
	roomGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "relay_active_rooms",
		Help:        "Rooms currently held in the store.",
		ConstLabels: labels,
	}, func() float64 { return float64(rooms()) })
	participantGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "relay_participants",
		Help:        "Connections currently bound to a room.",
		ConstLabels: labels,
	}, func() float64 { return float64(participants()) })

	if err := reg.Register(roomGauge); err != nil {
		return err
	}
	return reg.Register(participantGauge)
}

// Handler exposes the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
