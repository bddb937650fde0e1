// Package parser decodes APsystems ECU response frames.
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/rs/zerolog"
)

// Parser decodes the device-info, inverter-data and signal responses of an
// ECU. It keeps no reference to the buffers it is given.
type Parser struct {
	logger   zerolog.Logger
	location *time.Location
	errors   *ErrorLog
}

// NewParser creates a new Parser instance. Device timestamps are interpreted
// in the configured timezone.
func NewParser(cfg *config.Config, logger zerolog.Logger) (*Parser, error) {
	location := time.Local
	if cfg != nil && cfg.Timezone != "" && !strings.EqualFold(cfg.Timezone, "local") {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		location = loc
	}

	return &Parser{
		logger:   logger.With().Str("component", "parser").Logger(),
		location: location,
		errors:   NewErrorLog(),
	}, nil
}

// SetCustomLogger allows updating the logger (useful for tests).
func (p *Parser) SetCustomLogger(logger *zerolog.Logger) {
	p.logger = logger.With().Str("component", "parser").Logger()
}

// Errors returns a copy of the accumulated error log.
func (p *Parser) Errors() []string {
	return p.errors.Entries()
}

// ErrorLog returns the log the parser appends to.
func (p *Parser) ErrorLog() *ErrorLog {
	return p.errors
}

// logf logs a message at debug level.
func (p *Parser) logf(format string, args ...interface{}) {
	p.logger.Debug().Msgf(format, args...)
}

// record appends err to the error log before it is handed to the caller.
func (p *Parser) record(err error) error {
	p.errors.Add(err.Error())
	p.logger.Warn().Err(err).Msg("Decode failed")
	return err
}

// validate runs ValidateFrame and records a violation.
func (p *Parser) validate(buf []byte, command string) ([]byte, error) {
	frame, err := ValidateFrame(buf, command)
	if err != nil {
		return nil, p.record(err)
	}
	p.logf("%s frame (%d bytes): %x", command, len(frame), frame)
	return frame, nil
}
