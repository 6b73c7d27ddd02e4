package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/agentgate/internal/config"
	"github.com/harun/agentgate/internal/logger"
	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/gateway"
	"github.com/harun/agentgate/pkg/prompts"
	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/robfig/cron/v3"
)

// Daemon owns the long-lived components of the service: the thread index,
// the agent registry and the HTTP gateway in front of them.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	index         threadindex.Store
	registry      *agent.Registry
	server        *gateway.Server
	promptWatcher *prompts.Watcher
	scheduler     *cron.Cron

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
	auditEnabled   bool
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool
	Addr      string
	Uptime    time.Duration
	StartTime time.Time
	Agents    int
}

// New wires every component from cfg. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Environment: cfg.Tracing.Environment,
			SampleRatio: cfg.Tracing.SampleRatio,
			Attributes:  cfg.Tracing.Attributes,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().
				Str("service", cfg.Tracing.ServiceName).
				Float64("sample_ratio", cfg.Tracing.SampleRatio).
				Msg("Tracing initialized")
		}
	}

	if err := d.initialize(); err != nil {
		d.release()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initialize() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := d.config.Logging.AuditFile
	if auditPath == "" {
		auditPath = filepath.Join(d.config.DataDir, "audit.log")
	}
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.auditEnabled = true
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	index, err := threadindex.Open(d.ctx, d.config.Store)
	if err != nil {
		return fmt.Errorf("failed to open thread index: %w", err)
	}
	d.index = index
	d.logger.Info().
		Str("backend", d.config.Store.Backend).
		Str("path", d.config.Store.Path).
		Msg("Thread index opened")

	source, err := d.promptSource()
	if err != nil {
		return err
	}

	entries, err := agent.Builtin(agent.Deps{
		Providers:    agent.NewProviders(d.config.Providers),
		Prompts:      source,
		Logger:       d.logger.Component("agent"),
		DefaultModel: d.config.Models.Default,
	})
	if err != nil {
		return fmt.Errorf("failed to build agents: %w", err)
	}

	d.registry, err = agent.NewRegistry(d.config.Agents.Default, entries...)
	if err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}
	d.logger.Info().Int("agents", len(entries)).Str("default", d.registry.Default()).Msg("Agent registry initialized")

	d.server, err = gateway.NewServer(gateway.Config{
		Server:         d.config.Server,
		Models:         d.config.Models,
		Registry:       d.registry,
		Index:          d.index,
		HistoryDefault: d.config.Agents.HistoryDefault,
		Logger:         d.logger.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	if spec := d.config.Store.StatsSchedule; spec != "" {
		d.scheduler = cron.New()
		if _, err := d.scheduler.AddFunc(spec, d.refreshIndexStats); err != nil {
			return fmt.Errorf("failed to schedule index stats: %w", err)
		}
	}

	return nil
}

// promptSource returns the built-in prompts, or a live set reloaded from the
// configured prompts file.
func (d *Daemon) promptSource() (agent.PromptSource, error) {
	path := d.config.Agents.PromptsFile
	if path == "" {
		return prompts.Default(), nil
	}

	live, err := prompts.NewLive(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	d.promptWatcher, err = prompts.NewWatcher(live, 0, d.logger.GetZerolog())
	if err != nil {
		d.logger.Warn().Err(err).Msg("Prompts hot reload disabled")
		d.promptWatcher = nil
	}
	d.logger.Info().Str("path", path).Str("version", live.Current().Version).Msg("Prompts loaded")
	return live, nil
}

// refreshIndexStats recounts indexed users. Appends keep the gauge current
// for this process; the refresh also counts users added by other processes
// sharing the index.
func (d *Daemon) refreshIndexStats() {
	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()

	users, err := d.index.Users(ctx)
	switch {
	case errors.Is(err, threadindex.ErrEmpty):
		observability.SetKnownUsers(0)
	case err != nil:
		d.logger.Warn().Err(err).Msg("Failed to refresh index stats")
	default:
		observability.SetKnownUsers(len(users))
	}
}

// Start opens the listener and writes the PID file.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting agentgate daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.server.Start(); err != nil {
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	if d.promptWatcher != nil {
		if err := d.promptWatcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start prompts watcher")
		}
	}

	if d.scheduler != nil {
		d.refreshIndexStats()
		d.scheduler.Start()
		logger.Info().Str("schedule", d.config.Store.StatsSchedule).Msg("Index stats job scheduled")
	}

	d.running = true
	d.startTime = time.Now()

	logger.Info().Str("addr", d.server.Addr()).Msg("Daemon started successfully")
	return nil
}

// Stop drains the gateway and releases every resource New acquired.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping agentgate daemon")

	if err := d.server.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// release closes the index and watcher and flushes tracing and audit output.
func (d *Daemon) release() {
	d.cancel()

	if d.promptWatcher != nil {
		if err := d.promptWatcher.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop prompts watcher")
		}
		d.promptWatcher = nil
	}

	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close thread index")
		}
		d.index = nil
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if d.auditEnabled {
		if err := observability.GetAuditLogger().Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close audit logger")
		}
		d.auditEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Agents:  len(d.registry.Infos()),
	}

	if d.running {
		status.Addr = d.server.Addr()
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// Registry returns the agent registry.
func (d *Daemon) Registry() *agent.Registry {
	return d.registry
}
