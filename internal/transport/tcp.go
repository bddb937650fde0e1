// Package transport exchanges command strings with an ECU over TCP.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/protocol"
	"github.com/rs/zerolog"
)

// TCPExchanger implements domain.Exchanger. Every command uses its own
// connection, and only one exchange runs at a time.
type TCPExchanger struct {
	address     string
	timeout     time.Duration
	settleDelay time.Duration
	bufferSize  int
	logger      zerolog.Logger
	mu          sync.Mutex
}

// NewTCPExchanger creates an exchanger for the ECU configured in cfg.
func NewTCPExchanger(cfg *config.Config, logger zerolog.Logger) *TCPExchanger {
	return &TCPExchanger{
		address:     cfg.ECUAddress(),
		timeout:     cfg.ECU.Timeout,
		settleDelay: cfg.ECU.SettleDelay,
		bufferSize:  cfg.ECU.BufferSize,
		logger:      logger.With().Str("component", "transport").Logger(),
	}
}

// Address returns the host:port this exchanger connects to.
func (e *TCPExchanger) Address() string {
	return e.address
}

// Exchange sends command and returns the response in a buffer of the
// configured size. The buffer is zero padded past the received bytes.
func (e *TCPExchanger) Exchange(ctx context.Context, command string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dialer := &net.Dialer{Timeout: e.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", e.address, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			e.logger.Debug().Err(closeErr).Msg("Error closing connection")
		}
	}()

	deadline := time.Now().Add(e.timeout + e.settleDelay)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Unblock pending I/O when the context ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	e.logger.Debug().
		Str("address", e.address).
		Str("command", command).
		Msg("Sending command")

	if _, err := conn.Write([]byte(command)); err != nil {
		return nil, e.ioError(ctx, "write", err)
	}

	if e.settleDelay > 0 {
		timer := time.NewTimer(e.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("exchange cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	buf := make([]byte, e.bufferSize)
	n, err := readResponse(conn, buf)
	if err != nil {
		return nil, e.ioError(ctx, "read", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("empty response from %s", e.address)
	}

	e.logger.Debug().
		Int("bytes", n).
		Str("data", protocol.FormatFrameHex(buf[:n])).
		Msg("Received response")

	return buf, nil
}

// readResponse fills buf until the frame suffix arrives, the buffer is full
// or the peer closes the connection.
func readResponse(r io.Reader, buf []byte) (int, error) {
	suffix := []byte(protocol.FrameSuffix)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if bytes.Contains(buf[:n], suffix) {
			return n, nil
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (e *TCPExchanger) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("exchange cancelled during %s: %w", op, ctx.Err())
	}
	return fmt.Errorf("failed to %s %s: %w", op, e.address, err)
}
