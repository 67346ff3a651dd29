/*
Package metrics provides Prometheus metrics for hareadfs.

# Overview

The Collector is handed to the union dispatcher and to the health monitor as
their Recorder, so every request, every backend attempt and every probe is
counted. It uses a private registry; Handler exposes it for scraping.

	┌─────────────┐      ┌──────────────┐
	│ Dispatcher  │      │   Monitor    │
	│  / Merger   │      │  (probes)    │
	└──────┬──────┘      └──────┬───────┘
	       │ RecordOperation    │ RecordProbe
	       │ RecordAttempt      │ RecordBackendState
	       ▼                    ▼
	┌─────────────────────────────────┐
	│           Collector             │
	│   private prometheus.Registry   │
	└───────────────┬─────────────────┘
	                │ Handler()
	                ▼
	         GET /metrics (internal/api)

# Metrics

	<ns>_operations_total{operation,status}           status: success, not_found, timeout, error
	<ns>_operation_duration_seconds{operation}
	<ns>_backend_attempts_total{backend,operation,outcome}
	<ns>_backend_state{backend}                       0 unknown, 1 healthy, 2 blocked
	<ns>_probes_total{backend,outcome}
	<ns>_probe_consecutive_timeouts{backend}
	<ns>_orphaned_workers                             after WatchExecutor
	<ns>_abandoned_calls_total                        after WatchExecutor

The Go runtime and process collectors are registered as well.

A collector built with Enabled false records nothing and its Handler answers
404, so callers never need to check before recording.
*/
package metrics
