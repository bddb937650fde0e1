// Package session runs read cycles against one ECU and owns the resulting snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/parser"
	"github.com/resident-x/go-apsecu/internal/protocol"
	"github.com/rs/zerolog"
)

// ErrUnknownEcuID is returned when no device-info response has provided the
// id needed for the inverter queries.
var ErrUnknownEcuID = errors.New("ecu id unknown")

// Reader performs read cycles: device info, then inverter data and signal
// strength, decoded in that order. It implements domain.SnapshotSource.
type Reader struct {
	exchanger  domain.Exchanger
	parser     *parser.Parser
	commands   *protocol.CommandBuilder
	interval   time.Duration
	autoUpdate bool
	logger     zerolog.Logger
	now        func() time.Time

	// cycleMu serializes read cycles; mu guards snapshot.
	cycleMu  sync.Mutex
	mu       sync.RWMutex
	snapshot *domain.Snapshot
}

// NewReader creates a reader whose snapshot is already stale, so the first
// Update always reads.
func NewReader(cfg *config.Config, exchanger domain.Exchanger, p *parser.Parser, logger zerolog.Logger) *Reader {
	interval := cfg.ECU.UpdateInterval
	if interval <= 0 {
		interval = domain.DefaultUpdateInterval
	}

	return &Reader{
		exchanger:  exchanger,
		parser:     p,
		commands:   protocol.NewCommandBuilder(),
		interval:   interval,
		autoUpdate: cfg.ECU.AutoUpdate,
		logger:     logger.With().Str("component", "reader").Logger(),
		now:        time.Now,
		snapshot:   domain.NewSnapshot(time.Now(), interval),
	}
}

// Update runs a read cycle when force is set, or when auto update is enabled
// and the snapshot is stale. It reports whether a cycle ran.
//
// Fields decoded before a failure are kept: a device-info response with zero
// lifetime energy is applied and then ends the cycle with the anomaly.
func (r *Reader) Update(ctx context.Context, force bool) (bool, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.mu.RLock()
	working := r.snapshot.Clone()
	r.mu.RUnlock()

	if !force && (!r.autoUpdate || !working.IsStale(r.now(), r.interval)) {
		return false, nil
	}

	err := r.cycle(ctx, &working)

	r.mu.Lock()
	r.snapshot = &working
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn().Err(err).Msg("Read cycle failed")
		return true, err
	}

	r.logger.Info().
		Str("ecu_id", working.EcuID).
		Str("timestamp", working.Timestamp).
		Int("current_power", working.CurrentPower).
		Int("inverters", len(working.Inverters)).
		Msg("Read cycle complete")

	return true, nil
}

// cycle applies each successfully decoded response to working.
func (r *Reader) cycle(ctx context.Context, working *domain.Snapshot) error {
	ecuBuf, err := r.exchanger.Exchange(ctx, r.commands.EcuInfoCommand())
	if err != nil {
		return fmt.Errorf("device info exchange: %w", err)
	}

	info, err := r.parser.DecodeEcuInfo(ecuBuf)
	working.ApplyEcuInfo(info)
	if err != nil {
		return fmt.Errorf("device info: %w", err)
	}

	if working.EcuID == "" {
		return ErrUnknownEcuID
	}

	invCommand, err := r.commands.InverterDataCommand(working.EcuID)
	if err != nil {
		return err
	}
	invBuf, err := r.exchanger.Exchange(ctx, invCommand)
	if err != nil {
		return fmt.Errorf("inverter data exchange: %w", err)
	}

	sigCommand, err := r.commands.SignalCommand(working.EcuID)
	if err != nil {
		return err
	}
	sigBuf, err := r.exchanger.Exchange(ctx, sigCommand)
	if err != nil {
		return fmt.Errorf("signal exchange: %w", err)
	}

	data, err := r.parser.DecodeInverterData(invBuf, sigBuf, working)
	if err != nil {
		return fmt.Errorf("inverter data: %w", err)
	}
	working.ApplyInverterData(data)

	return nil
}

// Snapshot returns a copy of the current snapshot.
func (r *Reader) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshot.Clone()
}

// Errors returns a copy of the accumulated error log.
func (r *Reader) Errors() []string {
	return r.parser.Errors()
}

// NextUpdate returns the time after which the snapshot is stale.
func (r *Reader) NextUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshot.NextUpdate(r.interval)
}

// Interval returns the minimum time between read cycles.
func (r *Reader) Interval() time.Duration {
	return r.interval
}
