package parser

import (
	"bytes"
	"strconv"

	"github.com/resident-x/go-apsecu/internal/protocol"
)

// Offsets of the fixed frame header.
const (
	offsetChecksum = 5
	offsetTag      = 9
	offsetPayload  = 13
)

// effectiveFrame returns the logical frame inside a possibly zero-padded
// buffer: everything up to and including the byte after the first "END".
func effectiveFrame(buf []byte) []byte {
	idx := bytes.Index(buf, []byte(protocol.SignatureEnd))
	if idx < 0 {
		return nil
	}
	end := idx + len(protocol.SignatureEnd) + 1
	if end > len(buf) {
		end = len(buf)
	}
	return buf[:end]
}

// ValidateFrame checks the length checksum and the start and end signatures
// of a response buffer and returns the validated frame. The returned slice
// aliases buf.
func ValidateFrame(buf []byte, command string) ([]byte, error) {
	frame := effectiveFrame(buf)
	if frame == nil {
		return nil, &ProtocolViolation{
			Command:  command,
			Reason:   "missing end signature",
			Expected: protocol.SignatureEnd,
			Actual:   "none",
			Raw:      buf,
		}
	}

	if len(frame) < offsetChecksum+4 {
		return nil, &ProtocolViolation{
			Command:  command,
			Reason:   "could not extract checksum",
			Expected: "4 digits",
			Actual:   strconv.Itoa(len(frame)) + " byte frame",
			Raw:      frame,
		}
	}

	field := frame[offsetChecksum : offsetChecksum+4]
	checksum, err := strconv.Atoi(string(field))
	if err != nil {
		return nil, &ProtocolViolation{
			Command:  command,
			Reason:   "could not extract checksum",
			Expected: "4 digits",
			Actual:   strconv.Quote(string(field)),
			Raw:      frame,
		}
	}

	datalen := len(frame) - 1
	if checksum != datalen {
		return nil, &ProtocolViolation{
			Command:  command,
			Reason:   "checksum failed",
			Expected: "checksum=" + strconv.Itoa(datalen),
			Actual:   "checksum=" + strconv.Itoa(checksum),
			Raw:      frame,
		}
	}

	if start := string(frame[:3]); start != protocol.SignatureStart {
		return nil, &ProtocolViolation{
			Command:  command,
			Reason:   "incorrect start signature",
			Expected: protocol.SignatureStart,
			Actual:   strconv.Quote(start),
			Raw:      frame,
		}
	}

	if end := string(frame[len(frame)-4 : len(frame)-1]); end != protocol.SignatureEnd {
		return nil, &ProtocolViolation{
			Command:  command,
			Reason:   "incorrect end signature",
			Expected: protocol.SignatureEnd,
			Actual:   strconv.Quote(end),
			Raw:      frame,
		}
	}

	return frame, nil
}

// hasTag reports whether the command tag at bytes 9-12 equals tag.
func hasTag(buf []byte, tag string) bool {
	return len(buf) >= offsetPayload && string(buf[offsetTag:offsetPayload]) == tag
}
