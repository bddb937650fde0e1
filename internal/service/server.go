// Package service runs the polling loop and fans each snapshot out to the
// registry, the message publisher and the monitoring service.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-apsecu/internal/api"
	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/validation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SnapshotReader is the read side the poller drives.
type SnapshotReader interface {
	domain.SnapshotSource

	// Update runs a read cycle if one is due, or unconditionally when force is set
	Update(ctx context.Context, force bool) (bool, error)
}

// Poller reads the ECU on a fixed interval. Cycles never overlap and a
// failed cycle is not retried before the next tick.
type Poller struct {
	config     *config.Config
	reader     SnapshotReader
	validator  *validation.Validator
	publisher  domain.MessagePublisher
	monitoring domain.MonitoringService
	registry   domain.Registry
	apiServer  *api.Server
	interval   time.Duration
	logger     zerolog.Logger

	// forceRead makes every tick read when the reader's staleness guard is off.
	forceRead bool

	mutex     sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	// Metrics
	cyclesRun     int64
	cyclesSkipped int64
	cyclesFailed  int64
	lastCycle     atomic.Value // time.Time
	lastError     atomic.Value // string
}

// NewPoller creates a poller. The HTTP API is created when enabled in cfg.
func NewPoller(cfg *config.Config, reader SnapshotReader,
	publisher domain.MessagePublisher, monitoring domain.MonitoringService) (*Poller, error) {
	level, err := validation.ParseLevel(cfg.Validation.Level)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "poller").Logger()

	interval := cfg.ECU.UpdateInterval
	if interval <= 0 {
		interval = domain.DefaultUpdateInterval
	}

	registry := domain.NewDeviceRegistry()

	p := &Poller{
		config:     cfg,
		reader:     reader,
		validator:  validation.NewValidator(level, log.Logger),
		publisher:  publisher,
		monitoring: monitoring,
		registry:   registry,
		interval:   interval,
		logger:     logger,
		forceRead:  !cfg.ECU.AutoUpdate,
	}

	if cfg.API.Enabled {
		p.apiServer = api.NewServer(cfg, reader, registry)
	}

	return p, nil
}

// SetVersion forwards the build version to the HTTP API.
func (p *Poller) SetVersion(version string) {
	if p.apiServer != nil {
		p.apiServer.SetVersion(version)
	}
}

// Registry returns the device registry fed by the poller.
func (p *Poller) Registry() domain.Registry {
	return p.registry
}

// Start runs the first poll immediately and then one per interval.
func (p *Poller) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isRunning {
		return fmt.Errorf("poller is already running")
	}

	if p.apiServer != nil {
		if err := p.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	p.startTime = time.Now()
	p.stopChan = make(chan struct{})
	p.isRunning = true

	p.wg.Add(1)
	go p.pollLoop(ctx)

	p.logger.Info().
		Str("ecu", p.config.ECUAddress()).
		Dur("interval", p.interval).
		Bool("force_read", p.forceRead).
		Msg("Poller started")

	if p.forceRead {
		p.logger.Warn().Msg("ECU auto update disabled, reading on every tick regardless of snapshot age")
	}

	return nil
}

// Stop ends the polling loop and closes the API server, publisher and
// monitoring service.
func (p *Poller) Stop(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.isRunning {
		return fmt.Errorf("poller is not running")
	}

	close(p.stopChan)
	p.wg.Wait()
	p.isRunning = false

	if p.apiServer != nil {
		if err := p.apiServer.Stop(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	if err := p.publisher.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to close message publisher")
	}

	if err := p.monitoring.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to close monitoring service")
	}

	p.logger.Info().Msg("Poller stopped")
	return nil
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	_ = p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			_ = p.Poll(ctx)
		}
	}
}

// Poll runs one read cycle if due and distributes the result. Errors from
// the fan-out targets are logged, not returned.
func (p *Poller) Poll(ctx context.Context) error {
	p.lastCycle.Store(time.Now())

	ran, err := p.reader.Update(ctx, p.forceRead)
	if err != nil {
		atomic.AddInt64(&p.cyclesFailed, 1)
		p.lastError.Store(err.Error())
		p.logger.Warn().Err(err).Msg("Poll failed")
		return err
	}
	if !ran {
		atomic.AddInt64(&p.cyclesSkipped, 1)
		p.logger.Debug().Time("next_update", p.reader.NextUpdate()).Msg("Snapshot still fresh, skipping")
		return nil
	}
	atomic.AddInt64(&p.cyclesRun, 1)

	snapshot := p.reader.Snapshot()
	p.distribute(ctx, &snapshot)
	return nil
}

func (p *Poller) distribute(ctx context.Context, snapshot *domain.Snapshot) {
	result := p.validator.ValidateSnapshot(snapshot)
	for _, finding := range result.Errors {
		p.logger.Warn().
			Str("rule", finding.Rule).
			Str("inverter", finding.Inverter).
			Interface("value", finding.Value).
			Msg(finding.Message)
	}
	for _, finding := range result.Warnings {
		p.logger.Info().
			Str("rule", finding.Rule).
			Str("inverter", finding.Inverter).
			Interface("value", finding.Value).
			Msg(finding.Message)
	}

	if err := p.registry.RecordSnapshot(snapshot, p.config.ECUAddress()); err != nil {
		p.logger.Error().Err(err).Msg("Failed to update registry")
	}

	if result.HasCriticalErrors() {
		p.logger.Warn().Str("ecu_id", snapshot.EcuID).Msg("Not publishing snapshot with critical validation errors")
		return
	}

	if err := p.publisher.Publish(ctx, p.config.MQTT.Topic, snapshot); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", p.config.MQTT.Topic).
			Msg("Failed to publish snapshot")
	}

	if err := p.monitoring.Send(ctx, snapshot); err != nil {
		p.logger.Error().Err(err).Msg("Failed to send to monitoring service")
	}
}

// GetMetrics returns poller statistics.
func (p *Poller) GetMetrics() map[string]interface{} {
	p.mutex.Lock()
	running := p.isRunning
	start := p.startTime
	p.mutex.Unlock()

	metrics := map[string]interface{}{
		"is_running":     running,
		"interval":       p.interval.String(),
		"cycles_run":     atomic.LoadInt64(&p.cyclesRun),
		"cycles_skipped": atomic.LoadInt64(&p.cyclesSkipped),
		"cycles_failed":  atomic.LoadInt64(&p.cyclesFailed),
		"error_log_size": len(p.reader.Errors()),
		"ecus_seen":      len(p.registry.GetAllEcus()),
	}
	if !start.IsZero() {
		metrics["uptime"] = time.Since(start).Seconds()
	}
	if last, ok := p.lastCycle.Load().(time.Time); ok {
		metrics["last_cycle"] = last
	}
	if lastErr, ok := p.lastError.Load().(string); ok {
		metrics["last_error"] = lastErr
	}

	return metrics
}
