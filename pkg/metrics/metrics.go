package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job & watcher engine metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletcore_jobs_total",
			Help: "Total number of refresh jobs by status",
		},
		[]string{"status"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_jobs_enqueued_total",
			Help: "Total number of refresh jobs enqueued, by trigger",
		},
		[]string{"trigger"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_jobs_processed_total",
			Help: "Total number of refresh jobs processed, by outcome",
		},
		[]string{"outcome"},
	)

	JobProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletcore_job_processing_duration_seconds",
			Help:    "Time taken to process a single refresh job",
			Buckets: prometheus.DefBuckets,
		},
	)

	WatchersActiveTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletcore_watchers_active_total",
			Help: "Total number of watchers by status",
		},
		[]string{"status"},
	)

	WatcherIterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_watcher_iterations_total",
			Help: "Total number of transfer watcher poll iterations, by outcome",
		},
		[]string{"outcome"},
	)

	// Wallet worker / supervisor metrics
	WalletWorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletcore_wallet_workers_running",
			Help: "Number of wallet worker processes currently tracked by the supervisor",
		},
	)

	WalletWorkersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "walletcore_wallet_workers_spawned_total",
			Help: "Total number of wallet worker processes spawned",
		},
	)

	WalletWorkersReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_wallet_workers_reaped_total",
			Help: "Total number of wallet worker processes reaped, by exit reason",
		},
		[]string{"reason"},
	)

	SupervisorPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletcore_supervisor_poll_duration_seconds",
			Help:    "Time taken for one supervisor poll cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Wallet lock metrics
	WalletLocksHeldTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletcore_wallet_locks_held_total",
			Help: "Number of wallet locks currently held",
		},
	)

	// Withdrawal orchestrator metrics
	WithdrawalsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletcore_withdrawals_total",
			Help: "Total number of withdrawals by status",
		},
		[]string{"status"},
	)

	WithdrawalTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_withdrawal_transitions_total",
			Help: "Total number of withdrawal state transitions",
		},
		[]string{"from", "to"},
	)

	WithdrawalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletcore_withdrawal_duration_seconds",
			Help:    "Time from REQUESTED to a terminal state, by outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"outcome"},
	)

	// Node client metrics
	NodeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_node_requests_total",
			Help: "Total number of requests to the wallet node, by operation and status",
		},
		[]string{"operation", "status"},
	)

	NodeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletcore_node_request_duration_seconds",
			Help:    "Wallet node request duration in seconds, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	NodeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletcore_node_retries_total",
			Help: "Total number of retried wallet node requests, by operation",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(JobProcessingDuration)
	prometheus.MustRegister(WatchersActiveTotal)
	prometheus.MustRegister(WatcherIterationsTotal)

	prometheus.MustRegister(WalletWorkersRunning)
	prometheus.MustRegister(WalletWorkersSpawnedTotal)
	prometheus.MustRegister(WalletWorkersReapedTotal)
	prometheus.MustRegister(SupervisorPollDuration)

	prometheus.MustRegister(WalletLocksHeldTotal)

	prometheus.MustRegister(WithdrawalsTotal)
	prometheus.MustRegister(WithdrawalTransitionsTotal)
	prometheus.MustRegister(WithdrawalDuration)

	prometheus.MustRegister(NodeRequestsTotal)
	prometheus.MustRegister(NodeRequestDuration)
	prometheus.MustRegister(NodeRetriesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
