/*
Package metrics provides Prometheus metrics collection and exposition for
walletcore, plus the health aggregation the supervisor's HTTP surface is
built on.

Metrics are defined and registered at package init using the Prometheus
client library, and exposed via the /metrics HTTP endpoint for scraping.
Gauges that reflect durable-store state (job/watcher/withdrawal counts
by status, wallet locks held) are populated by a Collector that polls
pkg/dbstore on an interval; counters and histograms on the request/
processing path are updated inline by the job queue, transfer watcher,
withdrawal orchestrator, supervisor, and node client themselves.

# Metrics Catalog

Job & watcher engine:

	walletcore_jobs_total{status}                    - Gauge, polled from dbstore
	walletcore_jobs_enqueued_total{trigger}           - Counter
	walletcore_jobs_processed_total{outcome}          - Counter
	walletcore_job_processing_duration_seconds        - Histogram
	walletcore_watchers_active_total{status}          - Gauge, polled from dbstore
	walletcore_watcher_iterations_total{outcome}      - Counter

Wallet worker / supervisor:

	walletcore_wallet_workers_running                 - Gauge
	walletcore_wallet_workers_spawned_total            - Counter
	walletcore_wallet_workers_reaped_total{reason}    - Counter
	walletcore_supervisor_poll_duration_seconds        - Histogram

Wallet locks:

	walletcore_wallet_locks_held_total                 - Gauge, polled from dbstore

Withdrawal orchestrator:

	walletcore_withdrawals_total{status}               - Gauge, polled from dbstore
	walletcore_withdrawal_transitions_total{from,to}  - Counter
	walletcore_withdrawal_duration_seconds{outcome}   - Histogram

Wallet node client:

	walletcore_node_requests_total{operation,status}  - Counter
	walletcore_node_request_duration_seconds{operation} - Histogram
	walletcore_node_retries_total{operation}           - Counter

# Usage

Updating counters/histograms inline:

	metrics.JobsEnqueuedTotal.WithLabelValues("manual").Inc()

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.JobProcessingDuration)

The Collector handles the status-grouped gauges; callers don't Set them
directly:

	collector := metrics.NewCollector(store, nodeChecker, pgChecker)
	collector.Start()
	defer collector.Stop()

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Health Aggregation

pkg/metrics also tracks component health (see health.go), fed by the
Collector's periodic checks of the wallet node and Postgres via
pkg/health. HealthHandler/ReadyHandler/LivenessHandler expose this as
/health, /ready, and /live; GetReadiness treats "postgres" and
"wallet_node" as the critical components a readiness probe depends on.

# See Also

  - pkg/dbstore - source of the status-grouped aggregate counts
  - pkg/health - Checker implementations the Collector runs
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
