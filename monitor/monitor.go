// monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/srtgame/logger"
)

// Metrics 监控指标
type Metrics struct {
	OnlinePlayers      prometheus.Gauge
	MessagesReceived   *prometheus.CounterVec
	MessagesMalformed  prometheus.Counter
	CommandsDispatched *prometheus.CounterVec
	CommandsUnhandled  prometheus.Counter
	DispatchLatency    prometheus.Histogram
	MessagesSent       *prometheus.CounterVec
	SendFailures       *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of players currently joined",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from the broker",
		}, []string{"address"}),
		MessagesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Inbound messages dropped because they could not be decoded",
		}),
		CommandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Decoded commands routed to a handler, by tag",
		}, []string{"tag"}),
		CommandsUnhandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_unhandled_total",
			Help:      "Commands with no handler for their tag",
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent in command handlers",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages handed to the broker",
		}, []string{"address"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Sends that returned an error",
		}, []string{"address"}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.MessagesReceived,
		m.MessagesMalformed,
		m.CommandsDispatched,
		m.CommandsUnhandled,
		m.DispatchLatency,
		m.MessagesSent,
		m.SendFailures,
	)

	return m
}

type Monitor struct {
	metrics  *Metrics
	registry *prometheus.Registry
	server   *http.Server
}

// NewMonitor creates metrics on a private registry, so several monitors can
// live in one process (tests, client and server together).
func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	return &Monitor{
		metrics:  NewMetrics(namespace, reg),
		registry: reg,
	}
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer 在后台启动 /metrics 服务
func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Infof("Metrics listening on %s", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Errorf("Metrics server stopped: %v", err)
		}
	}()
}

func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

func (m *Monitor) SetOnlinePlayers(count int) {
	m.metrics.OnlinePlayers.Set(float64(count))
}

func (m *Monitor) IncReceived(address string) {
	m.metrics.MessagesReceived.WithLabelValues(address).Inc()
}

func (m *Monitor) IncSent(address string) {
	m.metrics.MessagesSent.WithLabelValues(address).Inc()
}

func (m *Monitor) IncSendFailures(address string) {
	m.metrics.SendFailures.WithLabelValues(address).Inc()
}

func (m *Monitor) IncMalformed() {
	m.metrics.MessagesMalformed.Inc()
}

func (m *Monitor) IncUnhandled() {
	m.metrics.CommandsUnhandled.Inc()
}

func (m *Monitor) ObserveDispatch(tag string, duration time.Duration) {
	m.metrics.CommandsDispatched.WithLabelValues(tag).Inc()
	m.metrics.DispatchLatency.Observe(duration.Seconds())
}
