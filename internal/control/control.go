// Package control schedules the periodic safety-net rebuild spec.md §1
// describes alongside event-triggered reloads ("control thread...
// periodically rebuilds"), using github.com/robfig/cron/v3, the teacher's
// declared-but-unexercised scheduling dependency.
package control

import (
	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/taijiproxy/taiji/internal/metrics"
)

// RebuildFunc performs one full build-and-publish cycle for a single
// control-plane object (an fcm.Manager's Replace, or an lb.Manager's
// Refresh). It is independent of any fsnotify/pub-sub trigger.
type RebuildFunc func() error

// Coordinator runs every registered RebuildFunc on its own cron schedule,
// so a coalesced or missed file-watch event can never leave a snapshot
// permanently stale (spec.md §1, §7 "the data plane never observes partial
// updates" — a safety-net rebuild is just another full Build/refresh pass).
type Coordinator struct {
	cron *cron.Cron
	log  logr.Logger
}

// NewCoordinator creates an empty, unstarted Coordinator.
func NewCoordinator(log logr.Logger) *Coordinator {
	return &Coordinator{
		cron: cron.New(),
		log:  log,
	}
}

// Register schedules fn to run on every tick of schedule (standard 5-field
// cron syntax), labelled name for logs and the taiji_config_reload_total
// metric's "source" dimension.
func (c *Coordinator) Register(name, schedule string, fn RebuildFunc) error {
	_, err := c.cron.AddFunc(schedule, func() {
		metrics.ConfigReloadTotal.WithLabelValues(name).Inc()
		if err := fn(); err != nil {
			metrics.ConfigReloadErrorsTotal.WithLabelValues(name).Inc()
			c.log.Error(err, "periodic safety-net rebuild failed", "task", name)
			return
		}
		metrics.ConfigLastLoadTimestamp.WithLabelValues(name).SetToCurrentTime()
	})
	if err != nil {
		return err
	}
	c.log.Info("registered periodic safety-net rebuild", "task", name, "schedule", schedule)
	return nil
}

// Start begins running scheduled jobs in the background.
func (c *Coordinator) Start() { c.cron.Start() }

// Stop halts the scheduler and returns a channel that is closed once every
// in-flight job has finished.
func (c *Coordinator) Stop() <-chan struct{} { return c.cron.Stop().Done() }
