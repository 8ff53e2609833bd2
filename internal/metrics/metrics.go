package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPServerHandlingSeconds is a histogram for HTTP request latencies
	HTTPServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of HTTP requests handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "code"},
	)

	// GRPCServerHandlingSeconds is a histogram for gRPC request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	// InferenceLatencySeconds is a histogram for inference-only latency
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Histogram of detector call latency (seconds), excluding slot wait.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// InferenceDetections is a histogram of detections returned per inference
	InferenceDetections = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_detections",
			Help:    "Histogram of the number of detections returned per inference.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 300},
		},
	)

	// SlotWaitSeconds is a histogram of time spent waiting for an inference slot
	SlotWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "admission_slot_wait_seconds",
			Help:    "Histogram of time (seconds) spent waiting for an inference slot.",
			Buckets: []float64{0, .001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SlotCapacity is the configured number of inference slots
	SlotCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_slot_capacity",
			Help: "Configured number of concurrent inference slots.",
		},
	)

	// SlotsInUse is the number of inference slots currently held
	SlotsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_slots_in_use",
			Help: "Number of inference slots currently held.",
		},
	)

	// SlotWaiting is the number of callers blocked waiting for a slot
	SlotWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_waiting",
			Help: "Number of requests waiting for an inference slot.",
		},
	)

	// AdmissionRejected counts callers that never obtained a slot
	AdmissionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_rejected_total",
			Help: "Requests that gave up waiting for an inference slot, by reason.",
		},
		[]string{"reason"},
	)

	// Rejections counts failed requests by error kind
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_rejections_total",
			Help: "Rejected inference requests by error kind.",
		},
		[]string{"kind"},
	)

	// CacheLookups counts result cache lookups by outcome
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_lookups_total",
			Help: "Result cache lookups by outcome (hit, miss, error).",
		},
		[]string{"outcome"},
	)

	// LiveFrameSeconds is a histogram of live loop per-frame processing time
	LiveFrameSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "live_frame_seconds",
			Help:    "Histogram of live loop frame processing time (seconds).",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordHTTPLatency records the latency of an HTTP request
func RecordHTTPLatency(method, route, code string, seconds float64) {
	HTTPServerHandlingSeconds.WithLabelValues(method, route, code).Observe(seconds)
}

// RecordGRPCLatency records the latency of a gRPC call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordInferenceLatency records the latency of a detector call
func RecordInferenceLatency(seconds float64) {
	InferenceLatencySeconds.Observe(seconds)
}

// RecordDetections records the number of detections of one inference
func RecordDetections(n int) {
	InferenceDetections.Observe(float64(n))
}

// RecordSlotWait records how long a caller waited for a slot
func RecordSlotWait(seconds float64) {
	SlotWaitSeconds.Observe(seconds)
}

// SetSlotCapacity sets the configured slot count
func SetSlotCapacity(n int) {
	SlotCapacity.Set(float64(n))
}

// SetSlotsInUse sets the number of held slots
func SetSlotsInUse(n int64) {
	SlotsInUse.Set(float64(n))
}

// SetSlotWaiting sets the number of blocked callers
func SetSlotWaiting(n int64) {
	SlotWaiting.Set(float64(n))
}

// RecordAdmissionRejected counts a caller that did not get a slot
func RecordAdmissionRejected(reason string) {
	AdmissionRejected.WithLabelValues(reason).Inc()
}

// RecordRejection counts a failed request by error kind
func RecordRejection(kind string) {
	Rejections.WithLabelValues(kind).Inc()
}

// RecordCacheLookup counts a result cache lookup
func RecordCacheLookup(outcome string) {
	CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordLiveFrame records the processing time of one live loop frame
func RecordLiveFrame(seconds float64) {
	LiveFrameSeconds.Observe(seconds)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
