// Package redisdiscovery feeds PrioritySet topology updates from a Redis
// pub/sub channel, wiring github.com/redis/go-redis/v9 — one of the
// teacher's declared-but-unexercised dependencies — into the priority-set
// discovery path spec.md §6 describes abstractly as "read-only view ...
// exposes a callback registration".
package redisdiscovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// hostUpdate is the wire shape published to the discovery channel: one
// entry per host, grouped implicitly by Priority/Locality fields.
type hostUpdate struct {
	Address  string `json:"address"`
	Weight   uint32 `json:"weight"`
	Priority uint32 `json:"priority"`
	Locality string `json:"locality"`
	Healthy  bool   `json:"healthy"`
}

// Subscribe connects to addr and applies every message published on
// channel to ps, until ctx is canceled. Malformed messages are logged and
// skipped; the subscription itself is expected to be supervised by the
// caller's own restart loop (mirrors internal/config.Watch's discipline,
// but over a pub/sub connection rather than a file).
func Subscribe(ctx context.Context, log logr.Logger, addr, channel string, ps *lbtypes.PrioritySet) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	pubsub := client.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe to %q failed: %w", channel, err)
	}
	log.Info("subscribed to redis discovery channel", "channel", channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return fmt.Errorf("redis pub/sub channel closed")
			}
			metrics.ConfigReloadTotal.WithLabelValues("redis_discovery").Inc()
			if err := applyUpdate(ps, msg.Payload); err != nil {
				metrics.ConfigReloadErrorsTotal.WithLabelValues("redis_discovery").Inc()
				log.Error(err, "discarding malformed discovery update")
				continue
			}
			metrics.ConfigLastLoadTimestamp.WithLabelValues("redis_discovery").SetToCurrentTime()
		}
	}
}

func applyUpdate(ps *lbtypes.PrioritySet, payload string) error {
	var updates []hostUpdate
	if err := json.Unmarshal([]byte(payload), &updates); err != nil {
		return fmt.Errorf("invalid discovery payload: %w", err)
	}

	byPriority := make(map[uint32]*lbtypes.HostSet)
	maxPriority := uint32(0)
	for _, u := range updates {
		hs, ok := byPriority[u.Priority]
		if !ok {
			hs = &lbtypes.HostSet{
				Priority:                u.Priority,
				HostsPerLocality:        make(map[lbtypes.LocalityID][]*lbtypes.Host),
				HealthyHostsPerLocality: make(map[lbtypes.LocalityID][]*lbtypes.Host),
			}
			byPriority[u.Priority] = hs
			if u.Priority > maxPriority {
				maxPriority = u.Priority
			}
		}

		host := &lbtypes.Host{Address: u.Address, Weight: u.Weight}
		host.Healthy.Store(u.Healthy)
		locality := lbtypes.LocalityID(u.Locality)

		hs.Hosts = append(hs.Hosts, host)
		hs.HostsPerLocality[locality] = append(hs.HostsPerLocality[locality], host)
		if u.Healthy {
			hs.HealthyHosts = append(hs.HealthyHosts, host)
			hs.HealthyHostsPerLocality[locality] = append(hs.HealthyHostsPerLocality[locality], host)
		}
	}

	sets := make([]*lbtypes.HostSet, maxPriority+1)
	for p := uint32(0); p <= maxPriority; p++ {
		if hs, ok := byPriority[p]; ok {
			sets[p] = hs
		} else {
			sets[p] = &lbtypes.HostSet{Priority: p}
		}
	}

	ps.Update(sets)
	return nil
}
