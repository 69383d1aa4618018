// Package observability serves operational endpoints kept off the API
// listener: prometheus metrics now, anything else diagnostic later.
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	metricsMu     sync.Mutex
	metricsServer *http.Server
)

// StartMetricsServer serves /metrics on addr until the context ends or
// StopMetricsServer is called. Blocks while serving.
func StartMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	metricsMu.Lock()
	metricsServer = server
	metricsMu.Unlock()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", addr).Info("Starting metrics server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Error("Metrics server failed")
	}
}

// StopMetricsServer shuts down the metrics server if one is running.
func StopMetricsServer(ctx context.Context) error {
	metricsMu.Lock()
	server := metricsServer
	metricsServer = nil
	metricsMu.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}
