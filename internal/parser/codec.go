package parser

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"unicode/utf8"
)

// Field kinds reported in DecodeError.
const (
	kindInt16     = "int16"
	kindInt32     = "int32"
	kindShortInt  = "short int"
	kindUID       = "uid"
	kindASCII     = "ascii string"
	kindTimestamp = "timestamp"
	kindByte      = "byte"
)

const uidLength = 6

var errShortRead = errors.New("short read")

// span returns buf[off:off+n] or a DecodeError when the buffer is too short.
func span(buf []byte, off, n int, kind string) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(buf) {
		var raw []byte
		if off >= 0 && off < len(buf) {
			raw = buf[off:]
		}
		return nil, &DecodeError{Kind: kind, Offset: off, Raw: raw, Err: errShortRead}
	}
	return buf[off : off+n], nil
}

// int16At reads a big-endian unsigned 16-bit value.
func int16At(buf []byte, off int) (int, error) {
	raw, err := span(buf, off, 2, kindInt16)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(raw)), nil
}

// int32At reads a big-endian unsigned 32-bit value.
func int32At(buf []byte, off int) (int, error) {
	raw, err := span(buf, off, 4, kindInt32)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(raw)), nil
}

// shortIntAt reads one byte and interprets its two hex digits as an octal
// number. Bytes with a hex digit outside 0-7 fail.
func shortIntAt(buf []byte, off int) (int, error) {
	raw, err := span(buf, off, 1, kindShortInt)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(hex.EncodeToString(raw), 8, 64)
	if err != nil {
		return 0, &DecodeError{Kind: kindShortInt, Offset: off, Raw: raw, Err: err}
	}
	return int(v), nil
}

// byteAt reads a single raw byte.
func byteAt(buf []byte, off int) (int, error) {
	raw, err := span(buf, off, 1, kindByte)
	if err != nil {
		return 0, err
	}
	return int(raw[0]), nil
}

// present reports whether any byte exists at off. The device uses such
// fields as placeholders, not as booleans.
func present(buf []byte, off int) bool {
	return off >= 0 && off < len(buf)
}

// uidAt renders 6 bytes as a 12-character lowercase hex identifier.
func uidAt(buf []byte, off int) (string, error) {
	raw, err := span(buf, off, uidLength, kindUID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// asciiAt decodes amount bytes as text.
func asciiAt(buf []byte, off, amount int) (string, error) {
	raw, err := span(buf, off, amount, kindASCII)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", &DecodeError{Kind: kindASCII, Offset: off, Raw: raw, Err: errors.New("invalid utf-8")}
	}
	return string(raw), nil
}

// timestampAt renders BCD bytes as hex digits, keeps the first amount digits
// and slices them positionally into "YYYY-MM-DD hh:mm:ss".
func timestampAt(buf []byte, off, amount int) (string, error) {
	raw, err := span(buf, off, (amount+1)/2, kindTimestamp)
	if err != nil {
		return "", err
	}
	digits := hex.EncodeToString(raw)
	if len(digits) > amount {
		digits = digits[:amount]
	}
	return cut(digits, 0, 4) + "-" + cut(digits, 4, 6) + "-" + cut(digits, 6, 8) + " " +
		cut(digits, 8, 10) + ":" + cut(digits, 10, 12) + ":" + cut(digits, 12, 14), nil
}

// cut is s[i:j] clamped to the string length.
func cut(s string, i, j int) string {
	if i > len(s) {
		i = len(s)
	}
	if j > len(s) {
		j = len(s)
	}
	return s[i:j]
}

// fieldReader extracts fields from one frame and keeps the first failure,
// so a decoder can read a whole layout and check once.
type fieldReader struct {
	buf     []byte
	command string
	err     error
}

func newFieldReader(buf []byte, command string) *fieldReader {
	return &fieldReader{buf: buf, command: command}
}

func (r *fieldReader) fail(err error) {
	if r.err != nil {
		return
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		decodeErr.Command = r.command
	}
	r.err = err
}

func (r *fieldReader) int16(off int) int {
	if r.err != nil {
		return 0
	}
	v, err := int16At(r.buf, off)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *fieldReader) int32(off int) int {
	if r.err != nil {
		return 0
	}
	v, err := int32At(r.buf, off)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *fieldReader) shortInt(off int) int {
	if r.err != nil {
		return 0
	}
	v, err := shortIntAt(r.buf, off)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *fieldReader) rawByte(off int) int {
	if r.err != nil {
		return 0
	}
	v, err := byteAt(r.buf, off)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *fieldReader) uid(off int) string {
	if r.err != nil {
		return ""
	}
	v, err := uidAt(r.buf, off)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *fieldReader) ascii(off, amount int) string {
	if r.err != nil {
		return ""
	}
	v, err := asciiAt(r.buf, off, amount)
	if err != nil {
		r.fail(err)
	}
	return v
}

// decimal reads amount ASCII digits as a base-10 number.
func (r *fieldReader) decimal(off, amount int) int {
	s := r.ascii(off, amount)
	if r.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		r.fail(&DecodeError{Kind: kindASCII, Offset: off, Raw: []byte(s), Err: err})
		return 0
	}
	return v
}

func (r *fieldReader) timestamp(off, amount int) string {
	if r.err != nil {
		return ""
	}
	v, err := timestampAt(r.buf, off, amount)
	if err != nil {
		r.fail(err)
	}
	return v
}
