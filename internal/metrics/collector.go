package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/treonstudio/chatuploads/internal/models"
)

// StatsSource provides a point-in-time snapshot of the upload manager.
type StatsSource interface {
	Stats() models.UploadStats
}

// UploadsCollector reports task store gauges on each scrape
type UploadsCollector struct {
	source StatsSource

	tasks         *prometheus.Desc
	queuedEntries *prometheus.Desc
	payloads      *prometheus.Desc
	payloadBytes  *prometheus.Desc
}

// NewUploadsCollector creates a new collector
func NewUploadsCollector(source StatsSource) *UploadsCollector {
	return &UploadsCollector{
		source: source,
		tasks: prometheus.NewDesc(
			"chatuploads_tasks",
			"Number of upload tasks held in memory by status",
			[]string{"status"}, nil,
		),
		queuedEntries: prometheus.NewDesc(
			"chatuploads_queue_entries",
			"Number of entries in the durable upload queue",
			nil, nil,
		),
		payloads: prometheus.NewDesc(
			"chatuploads_payloads",
			"Number of payloads held in the payload registry",
			nil, nil,
		),
		payloadBytes: prometheus.NewDesc(
			"chatuploads_payload_bytes",
			"Total bytes held in the payload registry",
			nil, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *UploadsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasks
	ch <- c.queuedEntries
	ch <- c.payloads
	ch <- c.payloadBytes
}

// Collect reads a stats snapshot and sends it to Prometheus
func (c *UploadsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	// Every status is reported so dashboards see explicit zeros
	for _, status := range models.AllStatuses {
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.GaugeValue,
			float64(stats.ByStatus[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.queuedEntries, prometheus.GaugeValue, float64(stats.QueuedEntries))
	ch <- prometheus.MustNewConstMetric(c.payloads, prometheus.GaugeValue, float64(stats.Payloads))
	ch <- prometheus.MustNewConstMetric(c.payloadBytes, prometheus.GaugeValue, float64(stats.PayloadBytes))
}
