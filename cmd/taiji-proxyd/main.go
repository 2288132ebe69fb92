// Command taiji-proxyd is the excluded collaborator spec.md §6 leaves
// unspecified: the process that actually accepts connections, wires the
// filter-chain matcher (internal/fcm) and thread-aware load balancer
// (internal/lb) together, and serves them over a real listening socket.
// Structurally this is the teacher's main() — CSV/YAML loading, fsnotify
// watchers, a Prometheus endpoint, signal-driven graceful shutdown — with
// the single-map subdomain router replaced by the FCM+TA-LB control plane.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taijiproxy/taiji/internal/config"
	"github.com/taijiproxy/taiji/internal/config/hosts"
	"github.com/taijiproxy/taiji/internal/config/listener"
	"github.com/taijiproxy/taiji/internal/control"
	"github.com/taijiproxy/taiji/internal/discovery/redisdiscovery"
	"github.com/taijiproxy/taiji/internal/fcm"
	"github.com/taijiproxy/taiji/internal/lb"
	"github.com/taijiproxy/taiji/internal/lb/hasher/boundedload"
	"github.com/taijiproxy/taiji/internal/lb/hasher/rendezvous"
	"github.com/taijiproxy/taiji/internal/lb/hasher/ringhash"
	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
	"github.com/taijiproxy/taiji/internal/logging"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// clusterStats aggregates active-request counts across every host in a
// PrioritySet, satisfying boundedload.ClusterStats without the overload
// formula needing its own bookkeeping.
type clusterStats struct {
	priorities *lbtypes.PrioritySet
}

func (c *clusterStats) UpstreamRequestsActive() int64 {
	var total int64
	for _, hs := range c.priorities.HostSets() {
		for _, h := range hs.Hosts {
			total += h.ActiveRequests.Load()
		}
	}
	return total
}

func main() {
	log := logging.New(getenv("LOG_VERBOSE", "") == "1")
	log.Info("starting taiji-proxyd")

	listenAddr := getenv("LISTEN_ADDR", ":9443")
	metricsAddr := getenv("METRICS_ADDR", ":9901")
	listenerPath := getenv("LISTENER_CONFIG_PATH", "config/listener.yaml")
	hostsPath := getenv("HOSTS_CSV_PATH", "config/hosts.csv")
	cluster := getenv("CLUSTER_NAME", "default")
	hashBalanceFactor := uint64(150)
	if v, err := strconv.ParseUint(getenv("HASH_BALANCE_FACTOR", "150"), 10, 32); err == nil {
		hashBalanceFactor = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fcmMgr := fcm.NewManager(cluster)
	reloadListener := func() error {
		in, err := listener.Load(listenerPath, fcmMgr.Current())
		if err != nil {
			return err
		}
		_, err = fcmMgr.Replace(in)
		return err
	}
	config.Watch(ctx, log, listenerPath, "listener_yaml", reloadListener)

	warnHosts := func(format string, args ...any) {
		logging.Warn(log, "hosts CSV warning", "detail", fmt.Sprintf(format, args...))
	}
	ps, err := hosts.LoadNew(hostsPath, warnHosts)
	if err != nil {
		log.Error(err, "failed to load initial host topology")
		os.Exit(1)
	}
	if v := os.Getenv("PANIC_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error(err, "invalid PANIC_THRESHOLD, keeping default", "value", v)
		} else {
			ps.SetPanicThreshold(threshold)
		}
	}
	config.Watch(ctx, log, hostsPath, "hosts_csv", func() error {
		return hosts.LoadInto(hostsPath, ps, warnHosts)
	})

	stats := &clusterStats{priorities: ps}
	newHasher := func(weights lbtypes.NormalizedHostWeightVector) lbtypes.Hasher {
		var inner lbtypes.Hasher
		if getenv("HASH_POLICY", "ring") == "rendezvous" {
			inner = rendezvous.New(weights)
		} else {
			inner = ringhash.New(weights)
		}
		return boundedload.New(inner, weights, uint32(hashBalanceFactor), cluster, stats)
	}
	lbMgr := lb.NewManager(cluster, ps, newHasher, getenv("LOCALITY_WEIGHTED", "") == "1")
	if err := lbMgr.Refresh(); err != nil {
		log.Error(err, "failed initial LB snapshot build")
		os.Exit(1)
	}

	coordinator := control.NewCoordinator(log)
	if err := coordinator.Register("cron", getenv("SAFETY_NET_SCHEDULE", "@every 5m"), func() error {
		if err := reloadListener(); err != nil {
			return err
		}
		return lbMgr.Refresh()
	}); err != nil {
		log.Error(err, "failed to schedule safety-net rebuild")
		os.Exit(1)
	}
	coordinator.Start()
	defer func() { <-coordinator.Stop() }()

	if redisAddr := os.Getenv("REDIS_DISCOVERY_ADDR"); redisAddr != "" {
		channel := getenv("REDIS_DISCOVERY_CHANNEL", "taiji.hosts")
		go func() {
			if err := redisdiscovery.Subscribe(ctx, log, redisAddr, channel, ps); err != nil && ctx.Err() == nil {
				log.Error(err, "redis discovery subscription ended")
			}
		}()
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server stopped unexpectedly")
		}
	}()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Error(err, "failed to bind listen address", "addr", listenAddr)
		os.Exit(1)
	}
	log.Info("proxy listening", "addr", listenAddr)

	go acceptLoop(ctx, log, ln, fcmMgr, lbMgr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	cancel()
	_ = ln.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "metrics server shutdown error")
	}
	log.Info("taiji-proxyd stopped")
}

func acceptLoop(ctx context.Context, log logr.Logger, ln net.Listener, fcmMgr *fcm.Manager, lbMgr *lb.Manager) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(err, "accept error")
			continue
		}
		go handleConn(conn, fcmMgr, lbMgr)
	}
}

func handleConn(conn net.Conn, fcmMgr *fcm.Manager, lbMgr *lb.Manager) {
	defer func() { _ = conn.Close() }()

	sock := newConnSocket(conn)
	snap := fcmMgr.Current()
	fc := snap.FindFilterChain(sock)
	if fc == nil {
		return
	}
	fc.Acquire()
	defer fc.Release()

	remote := conn.RemoteAddr().String()
	host, ok := lbMgr.ChooseHost(&lb.Context{
		ComputeHash: func() (uint64, bool) {
			if remote == "" {
				return 0, false
			}
			return xxhash.Sum64String(remote), true
		},
		HostSelectionRetryCount: 2,
		ShouldSelectAnotherHost: func(h *lbtypes.Host) bool { return !h.Healthy.Load() },
	})
	if !ok {
		return
	}

	timeout := fc.TransportSocketConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	upstream, err := net.DialTimeout("tcp", host.Address, timeout)
	if err != nil {
		return
	}
	defer func() { _ = upstream.Close() }()

	host.ActiveRequests.Add(1)
	defer host.ActiveRequests.Add(-1)

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { _, _ = io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// connSocket adapts a net.Conn into fcm.ConnectionSocket. TLS ClientHello
// inspection (SNI/ALPN) is left to an excluded collaborator (spec.md §6);
// without it RequestedServerName/RequestedApplicationProtocols read as
// "any" (empty), matching findFilterChain's documented "any" sentinel.
type connSocket struct {
	localAddr  netAddrInfo
	remoteAddr netAddrInfo
	localOrUDS bool
}

type netAddrInfo struct {
	ip   netip.Addr
	port uint16
}

func newConnSocket(conn net.Conn) *connSocket {
	return &connSocket{
		localAddr:  parseAddr(conn.LocalAddr()),
		remoteAddr: parseAddr(conn.RemoteAddr()),
		localOrUDS: isLocalOrUDS(conn),
	}
}

// isLocalOrUDS implements spec.md §4.3 scenario 3's source-type dimension:
// true for loopback TCP peers and for any Unix-domain-socket listener,
// matching Envoy's own "local" classification (source_type: local).
func isLocalOrUDS(conn net.Conn) bool {
	if conn.RemoteAddr().Network() == "unix" {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}

func parseAddr(addr net.Addr) netAddrInfo {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return netAddrInfo{}
	}
	ip, _ := netip.ParseAddr(host)
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return netAddrInfo{ip: ip, port: uint16(port)}
}

func (c *connSocket) DestinationPort() uint16                  { return c.localAddr.port }
func (c *connSocket) DestinationIP() netip.Addr                { return c.localAddr.ip }
func (c *connSocket) RequestedServerName() string               { return "" }
func (c *connSocket) DetectedTransportProtocol() string          { return "raw_buffer" }
func (c *connSocket) RequestedApplicationProtocols() []string   { return nil }
func (c *connSocket) DirectRemoteIP() netip.Addr                { return c.remoteAddr.ip }
func (c *connSocket) RemoteIP() netip.Addr                      { return c.remoteAddr.ip }
func (c *connSocket) RemoteSourcePort() uint16                  { return c.remoteAddr.port }
func (c *connSocket) LocalOrUDS() bool                          { return c.localOrUDS }
