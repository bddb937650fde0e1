// Package domain provides core domain models and interfaces for the go-apsecu application
package domain

import (
	"context"
	"fmt"
	"time"
)

// Model identifies the inverter family reported in a per-inverter record.
type Model int

const (
	ModelUnsupported Model = iota
	ModelYC600
	ModelYC1000
	ModelQS1
)

// String returns the model name as reported to consumers.
func (m Model) String() string {
	switch m {
	case ModelYC600:
		return "YC600/DS3/DS3D-L/DS3-H"
	case ModelYC1000:
		return "YC1000/QT2"
	case ModelQS1:
		return "QS1"
	default:
		return "unsupported"
	}
}

// MarshalText renders the model by name in JSON output.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a model name as produced by MarshalText.
func (m *Model) UnmarshalText(text []byte) error {
	for _, candidate := range []Model{ModelUnsupported, ModelYC600, ModelYC1000, ModelQS1} {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown inverter model %q", text)
}

// InverterRecord holds the decoded state of a single inverter.
type InverterRecord struct {
	UID         string   `json:"uid"`
	Online      bool     `json:"online"`
	Signal      int      `json:"signal"`
	Model       Model    `json:"model"`
	ChannelQty  int      `json:"channel_qty"`
	Power       []int    `json:"power"`
	Voltage     []int    `json:"voltage"`
	Frequency   *float64 `json:"frequency,omitempty"`
	Temperature *int     `json:"temperature,omitempty"`
}

// Clone returns a deep copy of the record.
func (r InverterRecord) Clone() InverterRecord {
	out := r
	out.Power = copyInts(r.Power)
	out.Voltage = copyInts(r.Voltage)
	if r.Frequency != nil {
		f := *r.Frequency
		out.Frequency = &f
	}
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	return out
}

func copyInts(in []int) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	return out
}

// EcuInfo is the partial snapshot update produced from a device-info response.
type EcuInfo struct {
	EcuID          string
	LifetimeEnergy float64
	CurrentPower   int
	TodayEnergy    float64

	// Variant is the layout tag found at offset 25. Counts and firmware are
	// only meaningful when HasInverterCounts is set.
	Variant              string
	HasInverterCounts    bool
	QtyOfInverters       int
	QtyOfOnlineInverters int
	Firmware             string
}

// InverterData is the partial snapshot update produced from an inverter-data response.
type InverterData struct {
	Timestamp  string
	LastUpdate int64
	Inverters  map[string]InverterRecord
}

// SignalMap maps inverter uid to signal strength in percent.
type SignalMap map[string]int

// Exchanger sends a command to the ECU and returns its raw response buffer.
type Exchanger interface {
	// Exchange writes the command and returns the raw response, possibly zero padded
	Exchange(ctx context.Context, command string) ([]byte, error)
}

// MessagePublisher defines the interface for publishing decoded snapshots.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// MonitoringService defines the interface for external monitoring services.
type MonitoringService interface {
	// Send publishes a snapshot to the monitoring service
	Send(ctx context.Context, snapshot *Snapshot) error

	// Connect establishes a connection to the service
	Connect() error

	// Close terminates the connection to the service
	Close() error
}

// SnapshotSource exposes the current read model of an ECU reader.
type SnapshotSource interface {
	// Snapshot returns a copy of the most recent snapshot
	Snapshot() Snapshot

	// Errors returns a copy of the accumulated error log
	Errors() []string

	// NextUpdate returns the time after which the snapshot is considered stale
	NextUpdate() time.Time
}

// Registry keeps track of ECUs and inverters seen across decode cycles.
type Registry interface {
	// RegisterEcu adds or updates an ECU in the registry
	RegisterEcu(id, firmware, address string) error

	// RecordInverter adds or updates an inverter under an ECU
	RecordInverter(ecuID string, record InverterRecord) error

	// RecordSnapshot registers a snapshot's ECU and all of its inverters
	RecordSnapshot(snapshot *Snapshot, address string) error

	// GetEcu retrieves information about an ECU
	GetEcu(id string) (*EcuDevice, bool)

	// GetAllEcus returns information about all ECUs
	GetAllEcus() []*EcuDevice

	// GetInverters returns all inverters for an ECU
	GetInverters(ecuID string) ([]*InverterInfo, bool)
}

// EcuDevice contains information about a polled ECU.
type EcuDevice struct {
	ID          string
	Address     string
	Firmware    string
	LastContact time.Time
	Inverters   map[string]*InverterInfo
}

// InverterInfo contains registry information about an inverter.
type InverterInfo struct {
	UID         string
	Model       Model
	FirstSeen   time.Time
	LastContact time.Time
	LastOnline  time.Time
}
