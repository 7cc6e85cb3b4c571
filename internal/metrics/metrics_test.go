package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, JobsTriggered)
	assert.NotNil(t, InstancesCompleted)
	assert.NotNil(t, InstanceDuration)
	assert.NotNil(t, TaskRetries)

	assert.NotNil(t, ScannerSweeps)
	assert.NotNil(t, ScannerItemsProcessed)

	assert.NotNil(t, DispatchDuration)
	assert.NotNil(t, DispatchFailures)

	assert.NotNil(t, RegisteredServers)

	assert.NotNil(t, RPCRetries)
	assert.NotNil(t, RPCDuration)

	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)

	assert.NotNil(t, WebSocketConnections)
	assert.NotNil(t, WebSocketMessages)
}

func TestRecordJobTriggered(t *testing.T) {
	JobsTriggered.Reset()

	RecordJobTriggered("default", "schedule")
	RecordJobTriggered("default", "manual")

	// Just ensure no panic.
}

func TestRecordInstanceCompletion(t *testing.T) {
	InstancesCompleted.Reset()
	InstanceDuration.Reset()

	RecordInstanceCompletion("default", "completed", 1.5)
	RecordInstanceCompletion("default", "failed", 0.5)

	// Just ensure no panic.
}

func TestRecordTaskRetry(t *testing.T) {
	TaskRetries.Reset()

	RecordTaskRetry("default")
	RecordTaskRetry("default")

	// Just ensure no panic.
}

func TestRecordScannerSweep(t *testing.T) {
	ScannerSweeps.Reset()
	ScannerItemsProcessed.Reset()

	RecordScannerSweep("triggering", 5)
	RecordScannerSweep("waiting", 0)
	RecordScannerSweep("running", 2)

	// Just ensure no panic.
}

func TestRecordDispatch(t *testing.T) {
	DispatchDuration.Reset()

	RecordDispatch("round_robin", 0.01)
	RecordDispatch("broadcast", 0.02)

	// Just ensure no panic.
}

func TestRecordDispatchFailure(t *testing.T) {
	DispatchFailures.Reset()

	RecordDispatchFailure("default")
	RecordDispatchFailure("default")

	// Just ensure no panic.
}

func TestSetRegisteredServers(t *testing.T) {
	SetRegisteredServers("default", "worker", 3)
	SetRegisteredServers("default", "supervisor", 1)

	// Just ensure no panic.
}

func TestRecordRPCRetry(t *testing.T) {
	RPCRetries.Reset()

	RecordRPCRetry("/worker/rpc/receive")

	// Just ensure no panic.
}

func TestRecordRPCDuration(t *testing.T) {
	RPCDuration.Reset()

	RecordRPCDuration("/worker/rpc/receive", 0.02)
	RecordRPCDuration("/supervisor/rpc/checkpoint", 0.01)

	// Just ensure no panic.
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestDuration.Reset()
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("GET", "/api/v1/jobs", "200", 0.05)
	RecordHTTPRequest("POST", "/api/v1/jobs", "201", 0.1)
	RecordHTTPRequest("GET", "/api/v1/jobs/123", "404", 0.01)

	// Just ensure no panic.
}

func TestSetWebSocketConnections(t *testing.T) {
	SetWebSocketConnections(0)
	SetWebSocketConnections(10)
	SetWebSocketConnections(5)

	// Just ensure no panic.
}

func TestRecordWebSocketMessage(t *testing.T) {
	WebSocketMessages.Reset()

	RecordWebSocketMessage("instance.completed")
	RecordWebSocketMessage("instance.failed")

	// Just ensure no panic.
}
