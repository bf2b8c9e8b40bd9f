// monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/tapserver/models"
	"github.com/wfunc/tapserver/persistence"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessageLatency   prometheus.Histogram
	RoomEvents       *prometheus.CounterVec
	RoundsFinished   prometheus.Counter
	StoreLatency     *prometheus.HistogramVec
	StoreErrors      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected websocket sessions",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms in the store",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of client messages received",
		}, []string{"msg_id"}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		RoomEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_events_total",
			Help:      "Room events published, by type",
		}, []string{"type"}),
		RoundsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_won_total",
			Help:      "Rounds that finished with a first actor",
		}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_seconds",
			Help:      "Key-value store operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Key-value store backend failures",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.MessagesReceived,
		m.MessageLatency,
		m.RoomEvents,
		m.RoundsFinished,
		m.StoreLatency,
		m.StoreErrors,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount atomic.Int64
}

var publishOnce sync.Once

// NewMonitor builds a monitor on its own registry with the Go and process
// collectors attached.
func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}

	// expvar 名字全局唯一，只发布一次
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			return m.requestCount.Load()
		}))
	})

	return m
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the monitor's registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publish implements room.EventSink.
func (m *Monitor) Publish(ev models.Event) {
	m.metrics.RoomEvents.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case models.EventRoomCreated:
		m.metrics.ActiveRooms.Inc()
	case models.EventRoomDeleted:
		m.metrics.ActiveRooms.Dec()
	case models.EventRoundFinished:
		if ev.FirstActor != nil {
			m.metrics.RoundsFinished.Inc()
		}
	}
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

// SetActiveRooms resyncs the gauge with the store; rooms that expire by TTL
// never publish a deletion event.
func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived(msgID string) {
	m.metrics.MessagesReceived.WithLabelValues(msgID).Inc()
	m.requestCount.Add(1)
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

// InstrumentedStore times every call to the wrapped store. Optional
// interfaces (Pinger, Sweeper) are forwarded.
type InstrumentedStore struct {
	persistence.KeyValueStore
	metrics *Metrics
}

func (m *Monitor) InstrumentStore(store persistence.KeyValueStore) *InstrumentedStore {
	return &InstrumentedStore{KeyValueStore: store, metrics: m.metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, persistence.ErrKeyNotFound) {
		s.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := s.KeyValueStore.Get(ctx, key)
	s.observe("get", start, err)
	return v, err
}

func (s *InstrumentedStore) SetWithTTL(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	start := time.Now()
	err := s.KeyValueStore.SetWithTTL(ctx, key, ttl, value)
	s.observe("set", start, err)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.KeyValueStore.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *InstrumentedStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.KeyValueStore.ListKeys(ctx, prefix)
	s.observe("list", start, err)
	return keys, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	p, ok := s.KeyValueStore.(persistence.Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func (s *InstrumentedStore) Sweep(ctx context.Context) (int, error) {
	sw, ok := s.KeyValueStore.(persistence.Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.Sweep(ctx)
}
