// Package simulator provides a TCP server that answers ECU queries with
// synthetic frames, for local development and end-to-end tests.
package simulator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/resident-x/go-apsecu/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Inverter describes one simulated inverter.
type Inverter struct {
	UID         string
	SubType     string
	Online      bool
	Signal      byte
	Power       []int
	Voltage     []int
	Frequency   float64
	Temperature int
}

// Fleet is the state reported by a simulated ECU.
type Fleet struct {
	EcuID          string
	Variant        string
	Firmware       string
	LifetimeEnergy float64
	TodayEnergy    float64
	Inverters      []Inverter
}

// DefaultFleet returns an ECU with one inverter of each supported family
// and one offline inverter.
func DefaultFleet() Fleet {
	return Fleet{
		EcuID:          "216200001234",
		Variant:        protocol.EcuVariantA,
		Firmware:       "ECU_R_1.2.22",
		LifetimeEnergy: 1234.5,
		TodayEnergy:    1.5,
		Inverters: []Inverter{
			{
				UID: "408000012345", SubType: "01", Online: true, Signal: 204,
				Power: []int{120, 125}, Voltage: []int{230, 231},
				Frequency: 50.0, Temperature: 31,
			},
			{
				UID: "501000023456", SubType: "02", Online: true, Signal: 178,
				Power: []int{90, 92, 88, 95}, Voltage: []int{229, 230, 231},
				Frequency: 50.1, Temperature: 35,
			},
			{
				UID: "801000056789", SubType: "03", Online: true, Signal: 230,
				Power: []int{70, 71, 69, 72}, Voltage: []int{232},
				Frequency: 49.9, Temperature: 29,
			},
			{
				UID: "408000099999", SubType: "01", Online: false, Signal: 0,
				Power: []int{0, 0}, Voltage: []int{0, 0},
			},
		},
	}
}

// Options configures a simulated ECU.
type Options struct {
	Fleet Fleet

	// Jitter varies power readings by up to this many watts per response.
	Jitter int

	// Clock supplies the device timestamp; time.Now when nil.
	Clock func() time.Time
}

// Server answers device-info, inverter-data and signal queries, one query
// per connection, the way the ECU does.
type Server struct {
	options  Options
	commands *protocol.CommandBuilder
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	rng      *rand.Rand
	served   map[string]int
	wg       sync.WaitGroup
}

// NewServer creates a simulated ECU.
func NewServer(options Options) *Server {
	if options.Clock == nil {
		options.Clock = time.Now
	}

	return &Server{
		options:  options,
		commands: protocol.NewCommandBuilder(),
		logger:   log.With().Str("component", "simulator").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		served:   make(map[string]int),
	}
}

// Start listens on addr and serves until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("ecu_id", s.options.Fleet.EcuID).
		Int("inverters", len(s.options.Fleet.Inverters)).
		Msg("Simulated ECU listening")

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Served returns how many queries of a command tag were answered.
func (s *Server) Served(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[tag]
}

// Close stops accepting connections and waits for open ones to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return nil
	}

	err := listener.Close()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("Accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	request, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to read query")
		return
	}

	response, err := s.Respond(request)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", string(bytes.TrimSpace(request))).Msg("Query not answered")
		return
	}

	if _, err := conn.Write(response); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// Respond builds the response frame for a raw query.
func (s *Server) Respond(request []byte) ([]byte, error) {
	info, err := s.commands.ParseCommand(request)
	if err != nil {
		return nil, err
	}

	fleet := s.options.Fleet
	if info.Tag != protocol.TagEcuInfo && info.EcuID != fleet.EcuID {
		return nil, fmt.Errorf("query for unknown ecu %q", info.EcuID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var frame []byte
	switch info.Tag {
	case protocol.TagEcuInfo:
		frame, err = s.ecuInfoFrame(fleet)
	case protocol.TagInverterData:
		frame, err = s.inverterDataFrame(fleet)
	case protocol.TagSignal:
		frame, err = s.signalFrame(fleet)
	default:
		return nil, fmt.Errorf("unsupported command tag %s", info.Tag)
	}
	if err != nil {
		return nil, err
	}

	s.served[info.Tag]++
	s.logger.Debug().
		Str("command", protocol.CommandName(info.Tag)).
		Str("frame", protocol.FormatFrameHex(frame)).
		Msg("Answered query")

	return frame, nil
}

func (s *Server) ecuInfoFrame(fleet Fleet) ([]byte, error) {
	power, online := 0, 0
	for _, inv := range fleet.Inverters {
		if !inv.Online {
			continue
		}
		online++
		for _, p := range inv.Power {
			power += p
		}
	}

	return protocol.EncodeEcuInfo(protocol.EcuInfoFields{
		EcuID:                fleet.EcuID,
		Variant:              fleet.Variant,
		LifetimeEnergy:       fleet.LifetimeEnergy,
		CurrentPower:         power,
		TodayEnergy:          fleet.TodayEnergy,
		QtyOfInverters:       len(fleet.Inverters),
		QtyOfOnlineInverters: online,
		Firmware:             fleet.Firmware,
	})
}

func (s *Server) inverterDataFrame(fleet Fleet) ([]byte, error) {
	fields := protocol.InverterDataFields{
		Timestamp: s.options.Clock().Format("20060102150405"),
	}

	for _, inv := range fleet.Inverters {
		record := protocol.InverterFields{
			UID:         inv.UID,
			Online:      inv.Online,
			SubType:     inv.SubType,
			Frequency:   inv.Frequency,
			Temperature: inv.Temperature,
			Power:       s.vary(inv.Power, inv.Online),
			Voltage:     inv.Voltage,
		}
		fields.Inverters = append(fields.Inverters, record)
	}

	return protocol.EncodeInverterData(fields)
}

func (s *Server) signalFrame(fleet Fleet) ([]byte, error) {
	entries := make([]protocol.SignalFields, 0, len(fleet.Inverters))
	for _, inv := range fleet.Inverters {
		entries = append(entries, protocol.SignalFields{UID: inv.UID, Strength: inv.Signal})
	}
	return protocol.EncodeSignal(entries)
}

// vary applies the configured jitter to online power readings.
func (s *Server) vary(power []int, online bool) []int {
	out := make([]int, len(power))
	copy(out, power)
	if !online || s.options.Jitter <= 0 {
		return out
	}

	for i := range out {
		out[i] += s.rng.Intn(2*s.options.Jitter+1) - s.options.Jitter
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}
