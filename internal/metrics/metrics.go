// Package metrics exports sync sessions and queue depth to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsync/internal/audio"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/workflow"
)

const namespace = "fieldsync"

const scrapeTimeout = 5 * time.Second

// QueueStatser reports mutation queue depth.
type QueueStatser interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// AudioStatser reports audio capture queue usage.
type AudioStatser interface {
	StorageStats(ctx context.Context) (audio.StorageStats, error)
}

// Metrics owns a private registry so tests and the daemon never collide on
// the global default.
type Metrics struct {
	registry *prometheus.Registry

	sessions  *prometheus.CounterVec
	items     *prometheus.CounterVec
	abandoned prometheus.Counter
	duration  prometheus.Histogram
	audio     prometheus.Counter
}

// New registers session metrics and, when given, queue depth collectors.
func New(queueStats QueueStatser, audioStats AudioStatser, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "sessions_total",
			Help:      "Sync passes run, by trigger.",
		}, []string{"trigger"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Queue items processed, by outcome.",
		}, []string{"outcome"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "abandoned_total",
			Help:      "Sync passes abandoned because connectivity dropped.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "session_duration_seconds",
			Help:      "Wall time of sync passes that processed at least one item.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		audio: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "processed_total",
			Help:      "Audio captures turned into queued mutations.",
		}),
	}
	m.registry.MustRegister(m.sessions, m.items, m.abandoned, m.duration, m.audio)
	if queueStats != nil || audioStats != nil {
		m.registry.MustRegister(&depthCollector{
			queue:  queueStats,
			audio:  audioStats,
			logger: logging.NewComponentLogger(logger, "metrics"),
		})
	}
	return m
}

// ObserveSession implements workflow.SessionObserver.
func (m *Metrics) ObserveSession(_ context.Context, session workflow.Session) {
	m.sessions.WithLabelValues(string(session.Trigger)).Inc()
	m.items.WithLabelValues("succeeded").Add(float64(session.Succeeded))
	m.items.WithLabelValues("held").Add(float64(session.Held))
	m.items.WithLabelValues("retried").Add(float64(session.Retried))
	m.items.WithLabelValues("failed").Add(float64(session.Failed))
	m.audio.Add(float64(session.Audio))
	if session.Abandoned {
		m.abandoned.Inc()
	}
	if session.Processed > 0 {
		m.duration.Observe(session.Duration().Seconds())
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ workflow.SessionObserver = (*Metrics)(nil)

var (
	queueDepthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "queue", "items"),
		"Mutation queue items, by status.",
		[]string{"status"}, nil,
	)
	audioDepthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "audio", "captures"),
		"Audio captures held locally, by status.",
		[]string{"status"}, nil,
	)
	audioBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "audio", "stored_bytes"),
		"Bytes of audio held locally.",
		nil, nil,
	)
)

// depthCollector reads queue stats at scrape time.
type depthCollector struct {
	queue  QueueStatser
	audio  AudioStatser
	logger *slog.Logger
}

func (c *depthCollector) Describe(ch chan<- *prometheus.Desc) {
	if c.queue != nil {
		ch <- queueDepthDesc
	}
	if c.audio != nil {
		ch <- audioDepthDesc
		ch <- audioBytesDesc
	}
}

func (c *depthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	if c.queue != nil {
		stats, err := c.queue.Stats(ctx)
		if err != nil {
			c.logger.Warn("queue stats unavailable for scrape", logging.Error(err))
		} else {
			for status, n := range map[queue.Status]int{
				queue.StatusPending:    stats.Pending,
				queue.StatusProcessing: stats.Processing,
				queue.StatusCompleted:  stats.Completed,
				queue.StatusFailed:     stats.Failed,
			} {
				ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(n), string(status))
			}
		}
	}

	if c.audio != nil {
		stats, err := c.audio.StorageStats(ctx)
		if err != nil {
			c.logger.Warn("audio stats unavailable for scrape", logging.Error(err))
			return
		}
		for status, n := range map[audio.Status]int{
			audio.StatusPending:      stats.Pending,
			audio.StatusTranscribing: stats.Transcribing,
			audio.StatusTranscribed:  stats.Transcribed,
			audio.StatusFailed:       stats.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(audioDepthDesc, prometheus.GaugeValue, float64(n), string(status))
		}
		ch <- prometheus.MustNewConstMetric(audioBytesDesc, prometheus.GaugeValue, float64(stats.TotalBytes))
	}
}
