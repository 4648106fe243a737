// zenohd is a Go zenoh-pico session daemon: it opens one unicast session,
// declares subscribers/queryables from its config, and exposes Prometheus
// metrics plus a read-only introspection endpoint.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zenoh-pico-go/zenohpico/internal/config"
	zenohmetrics "github.com/zenoh-pico-go/zenohpico/internal/metrics"
	"github.com/zenoh-pico-go/zenohpico/internal/server"
	"github.com/zenoh-pico-go/zenohpico/internal/session"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// statsPollInterval is how often the registry gauges are refreshed from
// session.Stats(). The registries change only on Declare/Undeclare calls,
// which this daemon only performs at startup, so a coarse poll is enough.
const statsPollInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger := newLogger(cfg.Log)
	logger.Info("zenohd starting",
		slog.String("mode", cfg.Session.Mode),
		slog.String("connect", cfg.Session.Connect),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := zenohmetrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger); err != nil {
		logger.Error("zenohd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("zenohd stopped")
	return 0
}

// runDaemon opens the session, declares startup entities, and runs the
// metrics/introspection HTTP servers until a termination signal arrives,
// mirroring cmd/gobfd/main.go's runServers errgroup shape.
func runDaemon(cfg *config.Config, collector *zenohmetrics.Collector, reg *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zid, err := randomZID()
	if err != nil {
		return fmt.Errorf("generate zid: %w", err)
	}

	sess, err := session.Open(ctx, session.Config{
		Connect:      firstEndpoint(cfg.Session.Connect),
		Mode:         sessionMode(cfg.Session.Mode),
		ZID:          zid,
		SNResolution: cfg.Session.SNResolution,
		BatchSize:    cfg.Session.BatchSize,
		Lease:        cfg.Session.Lease,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	collector.RegisterTransport()
	defer func() {
		collector.UnregisterTransport()
		if cErr := sess.Close(); cErr != nil {
			logger.Warn("session close failed", slog.String("error", cErr.Error()))
		}
	}()

	logger.Info("session open", slog.String("remote_zid", sess.RemoteZID().String()))

	if err := declareStartupEntities(sess, cfg, logger); err != nil {
		return fmt.Errorf("declare startup entities: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	introspectSrv := newIntrospectionServer(sess, logger)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error {
		logger.Info("introspection server listening", slog.String("addr", introspectAddr))
		return listenAndServe(gCtx, &lc, introspectSrv, introspectAddr)
	})

	g.Go(func() error {
		return pollStats(gCtx, sess, collector)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv, introspectSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// introspectAddr is the listen address for the /session introspection
// endpoint. Kept separate from the metrics address so either can be
// firewalled independently.
const introspectAddr = ":9101"

// declareStartupEntities declares every configured subscription and
// queryable, mirroring cmd/gobfd/main.go's reconcileSessions startup pass,
// generalized from BFD's diff-based reconciliation to a one-shot declare
// loop since session identities are not hot-reloadable (spec.md §6 lists
// subscribe/queryable as startup-only declarations).
func declareStartupEntities(sess *session.Session, cfg *config.Config, logger *slog.Logger) error {
	for _, sub := range cfg.Subscribe {
		key := sub.Key
		if _, err := sess.DeclareSubscriber(key, func(s session.Sample) {
			logger.Debug("sample received", slog.String("key", key), slog.Int("payload_len", len(s.Payload)))
		}); err != nil {
			return fmt.Errorf("declare subscriber %q: %w", key, err)
		}
		logger.Info("declared subscriber", slog.String("key", key))
	}

	for _, q := range cfg.Queryable {
		key := q.Key
		if _, err := sess.DeclareQueryable(key, q.Complete, func(query session.Query) {
			logger.Debug("query received", slog.String("key", key))
		}); err != nil {
			return fmt.Errorf("declare queryable %q: %w", key, err)
		}
		logger.Info("declared queryable", slog.String("key", key), slog.Bool("complete", q.Complete))
	}

	return nil
}

// pollStats periodically copies session.Stats() into the registry gauges.
func pollStats(ctx context.Context, sess *session.Session, collector *zenohmetrics.Collector) error {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := sess.Stats()
			collector.SetSubscriptions(stats.Subscriptions)
			collector.SetQueryables(stats.Queryables)
		}
	}
}

// -------------------------------------------------------------------------
// Systemd integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// -------------------------------------------------------------------------
// Server setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newIntrospectionServer(sess *session.Session, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	path, handler := server.New(introspectedSession{sess}, logger)
	mux.Handle(path, handler)
	return &http.Server{
		Addr:              introspectAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// introspectedSession adapts *session.Session to server.New, whose view
// expects RemoteZID to return a value with a String method.
type introspectedSession struct{ *session.Session }

func (s introspectedSession) RemoteZID() interface{ String() string } {
	return s.Session.RemoteZID()
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// firstEndpoint returns the first comma-separated endpoint in a
// session.connect list. The session layer dials a single unicast peer
// (spec.md §4.5); multi-endpoint fan-out is Open Question territory,
// recorded in DESIGN.md.
func firstEndpoint(connect string) string {
	if i := strings.IndexByte(connect, ','); i >= 0 {
		return connect[:i]
	}
	return connect
}

func sessionMode(mode string) session.Mode {
	if mode == "peer" {
		return session.ModePeer
	}
	return session.ModeClient
}

// randomZID generates a fresh 16-byte random session identifier, mirroring
// zenoh-pico's default ZID generation (a random id, not a user-stable one,
// unless overridden by future session.Config fields).
func randomZID() (wire.ZID, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return wire.ZID{}, fmt.Errorf("read random bytes: %w", err)
	}
	return wire.NewZID(buf[:]), nil
}
