package handlers

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treonstudio/chatuploads/internal/metrics"
)

// MetricsHandler registers the live upload gauges for source and returns the
// Prometheus endpoint. Registering the same source twice is tolerated.
func MetricsHandler(source metrics.StatsSource) http.Handler {
	collector := metrics.NewUploadsCollector(source)
	if err := prometheus.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			panic(err)
		}
	}

	return promhttp.Handler()
}
