package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
)

// Collector exposes store and feed activity to Prometheus. It
// implements activetrains.Observer, and the feed package's metrics
// interface.
type Collector struct {
	reg *prometheus.Registry

	TrainsLoaded *prometheus.GaugeVec // slot label: today|tomorrow
	QueueDepth   prometheus.Gauge
	Ready        prometheus.Gauge

	UpdatesApplied    *prometheus.CounterVec // kind label
	UpdatesDropped    *prometheus.CounterVec // reason label
	QueueOverflows    prometheus.Counter
	Rollovers         *prometheus.CounterVec // result label: ok|error
	RolloverFallbacks prometheus.Counter
	TrainUpdates      prometheus.Counter

	FeedMessages   *prometheus.CounterVec // transport label
	FeedFailures   *prometheus.CounterVec // transport, reason labels
	FeedConnected  *prometheus.GaugeVec   // transport label
	HandleDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrainsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "activetrains_trains_loaded",
			Help: "Number of trains in each registry slot.",
		}, []string{"slot"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "activetrains_queue_depth",
			Help: "Updates waiting for the store to become ready.",
		}),
		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "activetrains_ready",
			Help: "1 once the store has loaded and replayed its queue.",
		}),
		UpdatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activetrains_updates_applied_total",
			Help: "Realtime and forecast updates applied, by kind.",
		}, []string{"kind"}),
		UpdatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activetrains_updates_dropped_total",
			Help: "Updates dropped, by reason.",
		}, []string{"reason"}),
		QueueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "activetrains_queue_overflows_total",
			Help: "Queued updates discarded because the queue was full.",
		}),
		Rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activetrains_rollovers_total",
			Help: "Railway day rollovers, by result.",
		}, []string{"result"}),
		RolloverFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "activetrains_rollover_fallbacks_total",
			Help: "Rollovers that found nothing to promote and loaded today directly.",
		}),
		TrainUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "activetrains_train_updates_total",
			Help: "Train state changes.",
		}),
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activetrains_feed_messages_total",
			Help: "Messages received from event feeds.",
		}, []string{"transport"}),
		FeedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activetrains_feed_failures_total",
			Help: "Feed messages that could not be decoded or applied.",
		}, []string{"transport", "reason"}),
		FeedConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "activetrains_feed_connected",
			Help: "1 if the feed connection is established, 0 otherwise.",
		}, []string{"transport"}),
		HandleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "activetrains_handle_duration_seconds",
			Help:    "Time taken to decode and apply a feed message.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.TrainsLoaded, c.QueueDepth, c.Ready,
		c.UpdatesApplied, c.UpdatesDropped, c.QueueOverflows,
		c.Rollovers, c.RolloverFallbacks, c.TrainUpdates,
		c.FeedMessages, c.FeedFailures, c.FeedConnected, c.HandleDuration,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) TimetableLoaded(slot string, _ time.Time, trains int) {
	c.TrainsLoaded.WithLabelValues(slot).Set(float64(trains))
}

func (c *Collector) UpdateApplied(kind string) {
	c.UpdatesApplied.WithLabelValues(kind).Inc()
}

func (c *Collector) UpdateDropped(reason string) {
	c.UpdatesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) UpdateQueued(depth int) {
	c.QueueDepth.Set(float64(depth))
}

func (c *Collector) QueueOverflowed() {
	c.QueueOverflows.Inc()
}

func (c *Collector) RolledOver(_ time.Time, err error) {
	if err != nil {
		c.Rollovers.WithLabelValues("error").Inc()
		return
	}
	c.Rollovers.WithLabelValues("ok").Inc()
}

func (c *Collector) RolloverFallback() {
	c.RolloverFallbacks.Inc()
}

func (c *Collector) TrainUpdated(*activetrains.Train) {
	c.TrainUpdates.Inc()
}

// Records readiness and the (now empty) queue.
func (c *Collector) SetReady(ready bool) {
	if ready {
		c.Ready.Set(1)
		c.QueueDepth.Set(0)
		return
	}
	c.Ready.Set(0)
}

func (c *Collector) MessageReceived(transport string) {
	c.FeedMessages.WithLabelValues(transport).Inc()
}

func (c *Collector) MessageFailed(transport, reason string) {
	c.FeedFailures.WithLabelValues(transport, reason).Inc()
}

func (c *Collector) SetConnected(transport string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	c.FeedConnected.WithLabelValues(transport).Set(v)
}

func (c *Collector) HandleObserve(d time.Duration) {
	c.HandleDuration.Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Routes /metrics and /health. Health reports 503 until ready returns
// true.
func (c *Collector) Mux(ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve starts an HTTP server for Mux on the given address.
func (c *Collector) Serve(addr string, ready func() bool, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           c.Mux(ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
