package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Logger is the structured logger for hot-path instrumentation.
	Logger *zap.Logger

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_detections_total",
			Help: "Total number of detection assessments by type and verdict",
		},
		[]string{"type", "verdict"},
	)

	classifierCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_classifier_calls_total",
			Help: "Total number of profile classifier invocations by outcome",
		},
		[]string{"outcome"},
	)

	detectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchdog_detection_duration_seconds",
			Help:    "Time spent scoring a single trigger",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(detectionsTotal)
	prometheus.MustRegister(classifierCallsTotal)
	prometheus.MustRegister(detectionDuration)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

// RecordDetection counts one completed suspicion assessment.
func RecordDetection(detectionType, verdict string) {
	detectionsTotal.WithLabelValues(detectionType, verdict).Inc()
}

// RecordClassifierCall counts one profile classifier invocation.
func RecordClassifierCall(outcome string) {
	classifierCallsTotal.WithLabelValues(outcome).Inc()
}

// StartDetection returns a completion callback recording scoring duration.
func StartDetection(trigger string) func() {
	timer := prometheus.NewTimer(detectionDuration.WithLabelValues(trigger))
	return func() {
		timer.ObserveDuration()
	}
}
