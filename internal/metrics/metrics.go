package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job/instance lifecycle metrics.
	JobsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_jobs_triggered_total",
			Help: "Total number of job instances created",
		},
		[]string{"group", "run_type"},
	)

	InstancesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_instances_completed_total",
			Help: "Total number of instances reaching a terminal run state",
		},
		[]string{"group", "run_state"},
	)

	InstanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "disjob_instance_duration_seconds",
			Help:    "Time from instance creation to terminal run state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15), // 100ms to ~27min
		},
		[]string{"group"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_task_retries_total",
			Help: "Total number of task retries scheduled by the retry cascade",
		},
		[]string{"group"},
	)

	// Scanner metrics: two counters, each labelled by sweep loop.
	ScannerSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_scanner_sweeps_total",
			Help: "Total number of scanner sweep iterations that acquired the cluster lock and ran",
		},
		[]string{"scanner"},
	)

	ScannerItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_scanner_items_processed_total",
			Help: "Total number of rows a scanner sweep acted on",
		},
		[]string{"scanner"},
	)

	// Dispatch metrics.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "disjob_dispatch_duration_seconds",
			Help:    "Time spent selecting a worker and invoking its receive RPC",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"route_strategy"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_dispatch_failures_total",
			Help: "Total number of dispatch attempts that failed to reach a worker",
		},
		[]string{"group"},
	)

	// Registry metrics.
	RegisteredServers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "disjob_registered_servers",
			Help: "Current number of servers discovered by the registry",
		},
		[]string{"group", "role"},
	)

	// RPC fabric metrics.
	RPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_rpc_retries_total",
			Help: "Total number of rpcfabric retry attempts beyond the first",
		},
		[]string{"method"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "disjob_rpc_duration_seconds",
			Help:    "rpcfabric Invoke call duration, including retries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"method"},
	)

	// HTTP metrics.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "disjob_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics.
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "disjob_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disjob_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

func RecordJobTriggered(group, runType string) {
	JobsTriggered.WithLabelValues(group, runType).Inc()
}

func RecordInstanceCompletion(group, runState string, duration float64) {
	InstancesCompleted.WithLabelValues(group, runState).Inc()
	InstanceDuration.WithLabelValues(group).Observe(duration)
}

func RecordTaskRetry(group string) {
	TaskRetries.WithLabelValues(group).Inc()
}

func RecordScannerSweep(scanner string, itemsProcessed int) {
	ScannerSweeps.WithLabelValues(scanner).Inc()
	ScannerItemsProcessed.WithLabelValues(scanner).Add(float64(itemsProcessed))
}

func RecordDispatch(routeStrategy string, duration float64) {
	DispatchDuration.WithLabelValues(routeStrategy).Observe(duration)
}

func RecordDispatchFailure(group string) {
	DispatchFailures.WithLabelValues(group).Inc()
}

func SetRegisteredServers(group, role string, count float64) {
	RegisteredServers.WithLabelValues(group, role).Set(count)
}

func RecordRPCRetry(method string) {
	RPCRetries.WithLabelValues(method).Inc()
}

func RecordRPCDuration(method string, duration float64) {
	RPCDuration.WithLabelValues(method).Observe(duration)
}

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
