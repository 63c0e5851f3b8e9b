package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SessionActive      prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	FramesSent         prometheus.Counter
	FramesDropped      prometheus.Counter
	AudioChunksSent    prometheus.Counter
	AudioChunksDropped prometheus.Counter
	AudioChunksPlayed  prometheus.Counter
	ChannelErrors      *prometheus.CounterVec
	ReceiveEvents      *prometheus.CounterVec
	FrameEncodeLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a live model session is running.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Video frames encoded and sent to the model.",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames evicted from the hand-off queue before sending.",
		}),
		AudioChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_sent_total",
			Help:      "Captured audio chunks forwarded to the model.",
		}),
		AudioChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Captured audio chunks dropped because the send queue was full.",
		}),
		AudioChunksPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_played_total",
			Help:      "Model audio chunks handed to the playback sink.",
		}),
		ChannelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Model channel errors by operation.",
		}, []string{"op"}),
		ReceiveEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_events_total",
			Help:      "Model response events by kind.",
		}, []string{"kind"}),
		FrameEncodeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_encode_latency_ms",
			Help:      "Latency of resize+JPEG encode per frame in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 250},
		}),
	}
}

func (m *Metrics) ObserveFrameEncodeLatency(d time.Duration) {
	m.FrameEncodeLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
