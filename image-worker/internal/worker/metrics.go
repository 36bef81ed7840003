package worker

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

var (
	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_worker_tasks_processed_total",
			Help: "Total number of image generation tasks processed.",
		},
		[]string{"task_type", "status"}, // task_type: "cover"|"page"
	)
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_worker_task_duration_seconds",
			Help:    "Duration of image generation task processing.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"task_type"},
	)
	fallbackExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_worker_fallback_exhausted_total",
			Help: "Tasks that failed every model/style combination.",
		},
		[]string{"task_type"},
	)
	storiesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_worker_stories_completed_total",
		Help: "Stories whose final page image was committed by this worker.",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_worker_publish_errors_total",
		Help: "Errors publishing downstream messages.",
	})
)

// NewPusher builds a Pushgateway pusher grouped by instance, the worker has
// no HTTP endpoint to scrape.
func NewPusher(pushGatewayURL string, logger *zap.Logger) *push.Pusher {
	hostname, _ := os.Hostname()
	pusher := push.New(pushGatewayURL, "image-worker").
		Grouping("instance", hostname).
		Gatherer(prometheus.DefaultGatherer)
	logger.Info("Prometheus Pusher initialized",
		zap.String("url", pushGatewayURL),
		zap.String("instance", hostname))
	return pusher
}
