package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadsTotal counts upload tasks reaching a terminal status (completed, failed, cancelled)
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatuploads_uploads_total",
			Help: "Total number of upload tasks by terminal status",
		},
		[]string{"status"},
	)

	// UploadsQueuedTotal counts tasks accepted by QueueUpload
	UploadsQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatuploads_uploads_queued_total",
			Help: "Total number of upload tasks queued by file type",
		},
		[]string{"file_type"},
	)

	// UploadRetriesTotal counts transport retries granted by the retry policy
	UploadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatuploads_upload_retries_total",
			Help: "Total number of transport retries",
		},
	)

	// OrphansPurgedTotal counts durable entries purged because their payload was gone
	OrphansPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatuploads_orphans_purged_total",
			Help: "Total number of orphaned durable queue entries purged",
		},
	)

	// QueuePersistErrorsTotal counts failed best-effort writes of the durable queue
	QueuePersistErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatuploads_queue_persist_errors_total",
			Help: "Total number of failed durable queue writes",
		},
	)

	// ValidationRejectionsTotal counts uploads rejected before a task was created
	ValidationRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatuploads_validation_rejections_total",
			Help: "Total number of uploads rejected by validation",
		},
		[]string{"reason"},
	)

	// CompressionTotal counts compression attempts by result (compressed, skipped, failed)
	CompressionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatuploads_compression_total",
			Help: "Total number of compression attempts by result",
		},
		[]string{"result"},
	)

	// WebhookDeliveriesTotal counts orphan notification deliveries by status (success, failure)
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatuploads_webhook_deliveries_total",
			Help: "Total number of orphan notification webhook deliveries",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatuploads_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Histogram metrics
var (
	// UploadBytes tracks payload sizes of completed uploads
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "chatuploads_upload_bytes",
			Help: "Payload size of completed uploads in bytes",
			// 10KB .. ~1GB
			Buckets: prometheus.ExponentialBuckets(10*1024, 4, 9),
		},
	)

	// UploadDuration tracks time from entering uploading to completion
	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatuploads_upload_duration_seconds",
			Help:    "Time from transport start to terminal status",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// HTTPRequestDuration tracks HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatuploads_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
