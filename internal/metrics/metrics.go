// Package metrics provides application-level metrics collection.
// This is a lightweight metrics foundation using atomic counters.
// For production observability, consider integrating with Prometheus or similar.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds broadcast subsystem metrics using atomic counters for
// thread safety.
type Metrics struct {
	// Broadcast metrics
	broadcastsTotal  atomic.Int64
	broadcastsFailed atomic.Int64
	nonceConflicts   atomic.Int64
	conflictRetries  atomic.Int64
	tasksCancelled   atomic.Int64

	// Queue metrics
	queueHighWater atomic.Int64

	// RPC metrics
	rpcCallsTotal   atomic.Int64
	rpcErrorsTotal  atomic.Int64
	rpcLatencyNanos atomic.Int64

	// Nonce store metrics
	nonceAllocations atomic.Int64
	nonceOverrides   atomic.Int64
}

// Global is the global metrics instance.
// Use this for recording metrics throughout the application.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordBroadcast records a completed broadcast and its outcome.
func (m *Metrics) RecordBroadcast(err error) {
	m.broadcastsTotal.Add(1)
	if err != nil {
		m.broadcastsFailed.Add(1)
	}
}

// RecordNonceConflict records a node-reported nonce conflict.
func (m *Metrics) RecordNonceConflict() {
	m.nonceConflicts.Add(1)
}

// RecordConflictRetry records a resend triggered by a nonce conflict.
func (m *Metrics) RecordConflictRetry() {
	m.conflictRetries.Add(1)
}

// RecordTaskCancelled records a task cancelled before it became active.
func (m *Metrics) RecordTaskCancelled() {
	m.tasksCancelled.Add(1)
}

// RecordQueueDepth updates the queue-depth high-water mark.
func (m *Metrics) RecordQueueDepth(depth int64) {
	for {
		hw := m.queueHighWater.Load()
		if depth <= hw || m.queueHighWater.CompareAndSwap(hw, depth) {
			return
		}
	}
}

// RecordRPCCall records an RPC call with its duration and success status.
func (m *Metrics) RecordRPCCall(duration time.Duration, err error) {
	m.rpcCallsTotal.Add(1)
	m.rpcLatencyNanos.Add(duration.Nanoseconds())
	if err != nil {
		m.rpcErrorsTotal.Add(1)
	}
}

// RecordNonceAllocation records a nonce handed out by the manager.
func (m *Metrics) RecordNonceAllocation() {
	m.nonceAllocations.Add(1)
}

// RecordNonceOverride records a pending-nonce override.
func (m *Metrics) RecordNonceOverride() {
	m.nonceOverrides.Add(1)
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	BroadcastsTotal  int64
	BroadcastsFailed int64
	NonceConflicts   int64
	ConflictRetries  int64
	TasksCancelled   int64
	QueueHighWater   int64
	RPCCallsTotal    int64
	RPCErrorsTotal   int64
	RPCLatencyNanos  int64
	NonceAllocations int64
	NonceOverrides   int64
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BroadcastsTotal:  m.broadcastsTotal.Load(),
		BroadcastsFailed: m.broadcastsFailed.Load(),
		NonceConflicts:   m.nonceConflicts.Load(),
		ConflictRetries:  m.conflictRetries.Load(),
		TasksCancelled:   m.tasksCancelled.Load(),
		QueueHighWater:   m.queueHighWater.Load(),
		RPCCallsTotal:    m.rpcCallsTotal.Load(),
		RPCErrorsTotal:   m.rpcErrorsTotal.Load(),
		RPCLatencyNanos:  m.rpcLatencyNanos.Load(),
		NonceAllocations: m.nonceAllocations.Load(),
		NonceOverrides:   m.nonceOverrides.Load(),
	}
}

// RPCLatencyAvgMs returns the average RPC latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) RPCLatencyAvgMs() float64 {
	calls := m.rpcCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	nanos := m.rpcLatencyNanos.Load()
	return float64(nanos) / float64(calls) / 1e6
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.broadcastsTotal.Store(0)
	m.broadcastsFailed.Store(0)
	m.nonceConflicts.Store(0)
	m.conflictRetries.Store(0)
	m.tasksCancelled.Store(0)
	m.queueHighWater.Store(0)
	m.rpcCallsTotal.Store(0)
	m.rpcErrorsTotal.Store(0)
	m.rpcLatencyNanos.Store(0)
	m.nonceAllocations.Store(0)
	m.nonceOverrides.Store(0)
}
