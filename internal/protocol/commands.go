// Package protocol provides command generation and frame encoding for APsystems ECU communication.
package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Command tags found at bytes 9-12 of every request and response frame.
const (
	TagEcuInfo      = "0001"
	TagInverterData = "0002"
	TagSignal       = "0030"
)

// Frame constants shared by requests and responses.
const (
	SignatureStart  = "APS"
	SignatureEnd    = "END"
	FrameSuffix     = SignatureEnd + "\n"
	ProtocolVersion = "11"
	EcuIDLength     = 12

	// headerLen covers signature, version, checksum and command tag.
	headerLen = len(SignatureStart) + len(ProtocolVersion) + 4 + 4
)

// Human readable command names used in diagnostics.
const (
	CommandNameEcuInfo      = "ECU Query"
	CommandNameInverterData = "Inverter data"
	CommandNameSignal       = "Signal Query"
)

// CommandName returns the diagnostic name of a command tag.
func CommandName(tag string) string {
	switch tag {
	case TagEcuInfo:
		return CommandNameEcuInfo
	case TagInverterData:
		return CommandNameInverterData
	case TagSignal:
		return CommandNameSignal
	default:
		return "Unknown command " + tag
	}
}

// BuildFrame assembles a frame: start signature, protocol version, a 4-digit
// decimal length covering everything from "APS" through "END", the command
// tag, the payload and the "END\n" suffix. Requests and responses share it.
func BuildFrame(tag string, payload []byte) []byte {
	length := headerLen + len(payload) + len(SignatureEnd)

	var buf bytes.Buffer
	buf.Grow(length + 1)
	buf.WriteString(SignatureStart)
	buf.WriteString(ProtocolVersion)
	buf.WriteString(fmt.Sprintf("%04d", length))
	buf.WriteString(tag)
	buf.Write(payload)
	buf.WriteString(FrameSuffix)

	return buf.Bytes()
}

// CommandBuilder creates the query strings sent to the ECU.
type CommandBuilder struct{}

// NewCommandBuilder creates a new command builder instance.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// EcuInfoCommand returns the device-info query.
func (cb *CommandBuilder) EcuInfoCommand() string {
	return string(BuildFrame(TagEcuInfo, nil))
}

// InverterDataCommand returns the inverter-data query for an ECU.
func (cb *CommandBuilder) InverterDataCommand(ecuID string) (string, error) {
	return cb.ecuCommand(TagInverterData, ecuID)
}

// SignalCommand returns the signal-strength query for an ECU.
func (cb *CommandBuilder) SignalCommand(ecuID string) (string, error) {
	return cb.ecuCommand(TagSignal, ecuID)
}

func (cb *CommandBuilder) ecuCommand(tag, ecuID string) (string, error) {
	if len(ecuID) != EcuIDLength {
		return "", fmt.Errorf("ecu id must be %d characters, got %q", EcuIDLength, ecuID)
	}
	return string(BuildFrame(tag, []byte(ecuID))), nil
}

// CommandInfo describes a parsed request.
type CommandInfo struct {
	Tag   string
	EcuID string
}

// ParseCommand decodes a request as produced by CommandBuilder.
func (cb *CommandBuilder) ParseCommand(data []byte) (*CommandInfo, error) {
	data = bytes.TrimRight(data, "\r\n")
	if len(data) < headerLen+len(SignatureEnd) {
		return nil, fmt.Errorf("command too short: %d bytes", len(data))
	}
	if string(data[:3]) != SignatureStart {
		return nil, fmt.Errorf("invalid start signature %q", data[:3])
	}
	if !bytes.HasSuffix(data, []byte(SignatureEnd)) {
		return nil, fmt.Errorf("missing end signature")
	}

	length, err := strconv.Atoi(string(data[5:9]))
	if err != nil {
		return nil, fmt.Errorf("invalid length field %q: %w", data[5:9], err)
	}
	if length != len(data) {
		return nil, fmt.Errorf("length field %d does not match command length %d", length, len(data))
	}

	info := &CommandInfo{Tag: string(data[9:13])}
	info.EcuID = string(data[13 : len(data)-len(SignatureEnd)])

	return info, nil
}

// FormatFrameHex returns a hex representation of frame data for logging.
func FormatFrameHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return hex.EncodeToString(data)
}
