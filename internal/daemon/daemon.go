package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/novellama/internal/config"
	"github.com/harun/novellama/internal/logger"
	"github.com/harun/novellama/internal/observability"
	"github.com/harun/novellama/internal/tracing"
	"github.com/harun/novellama/pkg/completion"
	"github.com/harun/novellama/pkg/gateway"
	"github.com/harun/novellama/pkg/httpapi"
	"github.com/harun/novellama/pkg/session"
	"github.com/harun/novellama/pkg/tokenizer"
	"github.com/harun/novellama/pkg/translator"
)

// AuditLogName is the audit log file inside the data directory.
const AuditLogName = "audit.log"

// Options carries process details that are not part of the config file.
type Options struct {
	// ConfigPath is watched for log level changes when the file exists.
	ConfigPath string
	Version    string
}

// Daemon owns the translation service and every server in front of it.
type Daemon struct {
	config *config.Config
	opts   Options
	logger *logger.Logger

	store      session.Store
	stats      *session.StatsReporter
	translator *translator.Service

	apiServer     *httpapi.Server
	gatewayServer *gateway.Server
	watcher       *config.Watcher
	lifecycle     *LifecycleManager

	mu             sync.Mutex
	running        bool
	startTime      time.Time
	listener       net.Listener
	serveErr       chan error
	tracingEnabled bool
}

// Status represents daemon status
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	ActiveSessions int
	StoredSessions int
}

// newCompletionClient is replaced in tests.
var newCompletionClient = completion.New

// New wires the store, completion client, translator and servers.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if opts.Version == "" {
		opts.Version = "dev"
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		opts:     opts,
		logger:   log,
		serveErr: make(chan error, 1),
	}

	if err := tracing.InitOpenTelemetry("novellama", opts.Version); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initialize(); err != nil {
		if d.store != nil {
			_ = d.store.Close()
		}
		_ = observability.CloseAuditLogger()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, AuditLogName)); err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	store, err := session.Open(session.Config{
		Driver: cfg.Storage.Driver,
		Dir:    cfg.Storage.Dir,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = store
	d.stats = session.NewStatsReporter(store, cfg.Storage.StatsSchedule)

	client, err := newCompletionClient(completion.Config{
		Provider:    cfg.Completion.Provider,
		APIKey:      cfg.Completion.APIKey,
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Model,
		Temperature: completion.Float(cfg.Completion.Temperature),
	})
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	svc, err := translator.New(translator.Options{
		Store:       store,
		Client:      client,
		Counter:     tokenizer.NewCounter(cfg.Model),
		Model:       cfg.Model,
		MaxMessages: cfg.Context.MaxMessages,
		MaxTokens:   cfg.Context.MaxTokens,
		Timeout:     time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create translator: %w", err)
	}
	d.translator = svc

	api, err := httpapi.NewServer(httpapi.ServerOptions{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		CORSOrigin:         cfg.Server.CORSOrigin,
	}, svc, zl)
	if err != nil {
		return fmt.Errorf("failed to create HTTP API server: %w", err)
	}
	d.apiServer = api

	if cfg.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			SharedSecret: cfg.Gateway.SharedSecret,
			Translator:   svc,
			Logger:       zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		handler := gw.Handler()
		api.Mount("/ws", handler)
		api.Mount("/rpc", handler)
		d.gatewayServer = gw
	}

	d.logger.Info().
		Str("provider", client.Provider()).
		Str("model", cfg.Model).
		Str("storage", cfg.Storage.Driver).
		Bool("gateway", cfg.Gateway.Enabled).
		Msg("Daemon initialized")

	return nil
}

// Start writes the pid file and starts serving. It returns once the API
// listener is bound.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("version", d.opts.Version).Msg("Starting novellama daemon")

	listener, err := net.Listen("tcp", d.apiServer.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.apiServer.Addr(), err)
	}

	if err := d.lifecycle.Start(); err != nil {
		listener.Close()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.stats.Start(); err != nil {
		logger.Warn().Err(err).Msg("Session stats reporter not started")
	}

	if d.gatewayServer != nil {
		d.gatewayServer.Start()
	}

	d.startWatcher()

	d.mu.Lock()
	d.running = true
	d.startTime = time.Now()
	d.listener = listener
	d.mu.Unlock()

	go func() {
		if err := d.apiServer.Serve(listener); err != nil {
			d.serveErr <- err
		}
	}()

	logger.Info().Str("addr", listener.Addr().String()).Msg("Daemon started")
	return nil
}

func (d *Daemon) startWatcher() {
	if d.opts.ConfigPath == "" {
		return
	}
	if _, err := os.Stat(d.opts.ConfigPath); err != nil {
		return
	}

	watcher, err := config.NewWatcher(config.NewLoader(d.opts.ConfigPath), d.applyConfig)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher not created")
		return
	}
	if err := watcher.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher not started")
		_ = watcher.Stop()
		return
	}
	d.watcher = watcher
}

// applyConfig applies the settings that can change without a restart. Only
// the log level qualifies; everything else is read once at startup.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Msg("Ignoring log level from reloaded config")
	}
}

// Addr returns the bound API address, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Stop shuts everything down in reverse start order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping novellama daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
		d.watcher = nil
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway")
		}
	}

	if err := d.apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop HTTP API server")
	}
	// Covers a Stop that races the serve goroutine before it registered its server.
	_ = d.listener.Close()

	d.stats.Stop()

	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.CloseAuditLogger(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit log")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := Status{
		Running:        d.running,
		StartTime:      d.startTime,
		ActiveSessions: d.translator.ActiveSessions(),
		StoredSessions: d.stats.Last(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, or until the API server fails, then
// stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case err := <-d.serveErr:
		d.logger.Error().Err(err).Msg("HTTP API server failed")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetTranslator returns the translation service
func (d *Daemon) GetTranslator() *translator.Service {
	return d.translator
}

// GetGatewayServer returns the gateway, or nil when it is disabled
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
