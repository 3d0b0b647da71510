package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"kind"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"kind", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"kind"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_task_retries_total",
			Help: "Total number of task retries",
		},
		[]string{"kind"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmesh_queue_depth",
			Help: "Current number of tasks in the ready queue",
		},
	)

	QueueInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmesh_queue_inflight",
			Help: "Current number of leased in-flight tasks",
		},
	)

	QueueLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_queue_latency_seconds",
			Help:    "Time spent in queue before processing",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"kind"},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmesh_active_workers",
			Help: "Current number of active workers",
		},
	)

	WorkerBusyTime = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_worker_busy_seconds_total",
			Help: "Total time workers spent processing tasks",
		},
		[]string{"worker_id"},
	)

	WorkerIdleTime = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_worker_idle_seconds_total",
			Help: "Total time workers spent idle",
		},
		[]string{"worker_id"},
	)

	// DLQ metrics
	DLQSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmesh_dlq_size",
			Help: "Current number of entries in the dead letter queue",
		},
	)

	DLQAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_dlq_added_total",
			Help: "Total number of tasks routed to the dead letter queue",
		},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmesh_breaker_state",
			Help: "Circuit breaker state per kind (0=closed, 1=open, 2=half_open)",
		},
		[]string{"kind"},
	)

	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_breaker_trips_total",
			Help: "Total number of times a breaker tripped open",
		},
		[]string{"kind"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Storage metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_store_operation_duration_seconds",
			Help:    "Backing store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_store_errors_total",
			Help: "Total number of backing store errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmesh_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission.
func RecordTaskSubmission(kind string) {
	TasksSubmitted.WithLabelValues(kind).Inc()
}

// RecordTaskCompletion records a task completion.
func RecordTaskCompletion(kind, status string, duration float64) {
	TasksCompleted.WithLabelValues(kind, status).Inc()
	TaskDuration.WithLabelValues(kind).Observe(duration)
}

// RecordTaskRetry records a task retry.
func RecordTaskRetry(kind string) {
	TaskRetries.WithLabelValues(kind).Inc()
}

// UpdateQueueDepth updates the ready-queue depth gauge.
func UpdateQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}

// UpdateQueueInFlight updates the in-flight lease count gauge.
func UpdateQueueInFlight(count float64) {
	QueueInFlight.Set(count)
}

// RecordQueueLatency records the time a task spent in queue.
func RecordQueueLatency(kind string, latency float64) {
	QueueLatency.WithLabelValues(kind).Observe(latency)
}

// SetActiveWorkers sets the active workers gauge.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// RecordWorkerBusyTime records time spent processing.
func RecordWorkerBusyTime(workerID string, duration float64) {
	WorkerBusyTime.WithLabelValues(workerID).Add(duration)
}

// SetDLQSize sets the DLQ size gauge.
func SetDLQSize(size float64) {
	DLQSize.Set(size)
}

// IncrementDLQAdded increments the DLQ added counter.
func IncrementDLQAdded() {
	DLQAdded.Inc()
}

// SetBreakerState reports a breaker's numeric state for kind.
func SetBreakerState(kind string, state int) {
	BreakerState.WithLabelValues(kind).Set(float64(state))
}

// RecordBreakerTrip records a breaker tripping open for kind.
func RecordBreakerTrip(kind string) {
	BreakerTrips.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStoreOperation records a backing store operation's duration.
func RecordStoreOperation(operation string, duration float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordStoreError records a backing store error.
func RecordStoreError(operation string) {
	StoreErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
