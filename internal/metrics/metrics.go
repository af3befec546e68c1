// Package metrics holds the Prometheus collectors exported by the runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts scheduler ticks by session mode.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrsim_ticks_total",
		Help: "Total scheduler ticks by session mode",
	}, []string{"mode"})

	// TickDuration tracks wall time spent inside one tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xrsim_tick_duration_seconds",
		Help:    "Scheduler tick duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us to ~100ms
	})

	// CallbackFailures counts frame callbacks that panicked or returned an error.
	CallbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrsim_callback_failures_total",
		Help: "Frame callbacks that panicked or returned an error",
	})

	// InputRejected counts dropped out-of-range input updates.
	InputRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrsim_input_rejected_total",
		Help: "Out-of-range gamepad updates dropped, by control kind",
	}, []string{"kind"})

	// BridgeFrames counts tracked updates published by the sensor bridge.
	BridgeFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrsim_bridge_frames_total",
		Help: "Tracked updates published by the sensor bridge, by outcome",
	}, []string{"outcome"})

	// ImageEncodes counts passthrough image encodes by result.
	ImageEncodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrsim_image_encodes_total",
		Help: "Passthrough image encodes by result",
	}, []string{"result"})

	// HitTestQueries counts raycasts by provider.
	HitTestQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrsim_hit_test_queries_total",
		Help: "Hit-test raycasts by provider",
	}, []string{"provider"})

	// AnchorsTracked is the number of anchors tracked by the active session.
	AnchorsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrsim_anchors_tracked",
		Help: "Anchors tracked by the active session",
	})

	// BridgeMessages counts protocol messages handled by the bridge coordinator.
	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrsim_bridge_messages_total",
		Help: "Bridge protocol messages by type and result",
	}, []string{"type", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
