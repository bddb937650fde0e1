package parser

import (
	"errors"
	"fmt"
)

// Sentinel errors matched through errors.Is.
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrDecode            = errors.New("decode error")
	ErrAnomalousReading  = errors.New("anomalous reading")
)

// ProtocolViolation reports a frame whose checksum or signatures are wrong.
// Nothing from such a frame may be merged into a snapshot.
type ProtocolViolation struct {
	Command  string
	Reason   string
	Expected string
	Actual   string
	Raw      []byte
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("%s on '%s': expected %s, got %s data=%x",
		e.Reason, e.Command, e.Expected, e.Actual, e.Raw)
}

// Is matches ErrProtocolViolation.
func (e *ProtocolViolation) Is(target error) bool {
	return target == ErrProtocolViolation
}

// DecodeError reports a scalar field that could not be extracted.
type DecodeError struct {
	Command string
	Kind    string
	Offset  int
	Raw     []byte
	Err     error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("unable to convert %s at location=%d", e.Kind, e.Offset)
	if e.Command != "" {
		msg += fmt.Sprintf(" in '%s'", e.Command)
	}
	msg += fmt.Sprintf(" raw=%x", e.Raw)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// AnomalousReading reports a structurally valid frame carrying a suspicious
// value. The decoded fields travel alongside it and remain usable.
type AnomalousReading struct {
	Command string
	Field   string
	Reason  string
	Raw     []byte
}

func (e *AnomalousReading) Error() string {
	return fmt.Sprintf("anomalous %s in '%s': %s data=%x", e.Field, e.Command, e.Reason, e.Raw)
}

// Is matches ErrAnomalousReading.
func (e *AnomalousReading) Is(target error) bool {
	return target == ErrAnomalousReading
}
