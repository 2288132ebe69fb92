// Package metrics holds every Prometheus collector taiji-proxyd exposes.
// Grouped by subsystem rather than by package, following the teacher's flat
// promauto var-block convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Filter-chain matcher.
	FCMSnapshotGenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_fcm_snapshot_generations_total",
		Help: "Total number of FCM snapshots successfully built and published, by listener",
	}, []string{"listener"})

	FCMBuildErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_fcm_build_errors_total",
		Help: "Total number of rejected FCM snapshot builds, by listener",
	}, []string{"listener"})

	FCMDrainingChains = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taiji_fcm_draining_filter_chains",
		Help: "Number of filter chains currently awaiting drain, by listener",
	}, []string{"listener"})

	FCMLookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_fcm_lookup_total",
		Help: "Total number of FCM filter-chain lookups by listener and outcome",
	}, []string{"listener", "outcome"}) // outcome: "matched", "default", "no_match"

	// Thread-aware load balancer.
	LBHostsHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taiji_lb_hosts_healthy",
		Help: "Number of healthy hosts in the priority set, by cluster and priority",
	}, []string{"cluster", "priority"})

	LBPanicModeActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taiji_lb_panic_mode_active",
		Help: "Whether the load balancer is operating in panic mode (1) or not (0), by cluster",
	}, []string{"cluster"})

	LBHealthyPanicTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_lb_healthy_panic_total",
		Help: "Total number of chooseHost calls that fell back to panic-mode host selection, by cluster",
	}, []string{"cluster"})

	LBSnapshotGenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_lb_snapshot_generations_total",
		Help: "Total number of LB snapshots rebuilt and published, by cluster",
	}, []string{"cluster"})

	LBOverloadProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_lb_overload_probes_total",
		Help: "Total number of bounded-load probe-sequence steps taken, by cluster",
	}, []string{"cluster"})

	LBChooseHostDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taiji_lb_choose_host_duration_seconds",
		Help:    "chooseHost latency in seconds, by cluster",
		Buckets: prometheus.DefBuckets,
	}, []string{"cluster"})

	// Config and discovery, extending the teacher's CSV/watcher metrics.
	ConfigReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_config_reload_total",
		Help: "Total number of config reload attempts, by source",
	}, []string{"source"}) // source: "listener_yaml", "hosts_csv", "redis_discovery", "cron"

	ConfigReloadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_config_reload_errors_total",
		Help: "Total number of config reload errors, by source",
	}, []string{"source"})

	ConfigLastLoadTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taiji_config_last_load_timestamp_seconds",
		Help: "Timestamp of the last successful config reload, by source",
	}, []string{"source"})

	WatcherRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taiji_watcher_restarts_total",
		Help: "Total number of file watcher restarts, by watched file",
	}, []string{"file"})
)
