package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt16At(t *testing.T) {
	buf := []byte{0x00, 0x01, 0xff, 0xfe}

	v, err := int16At(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = int16At(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 0xfffe, v)

	_, err = int16At(buf, 3)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestInt32At(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x30, 0x39, 0x00}

	v, err := int32At(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 12345, v)

	_, err = int32At(buf, 2)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, kindInt32, decodeErr.Kind)
	assert.Equal(t, 2, decodeErr.Offset)
	assert.Equal(t, []byte{0x30, 0x39, 0x00}, decodeErr.Raw)
}

func TestShortIntAtUsesOctal(t *testing.T) {
	tests := []struct {
		name    string
		in      byte
		want    int
		wantErr bool
	}{
		{"zero", 0x00, 0, false},
		{"one", 0x01, 1, false},
		{"ten is eight", 0x10, 8, false},
		{"seventy seven", 0x77, 63, false},
		{"digit eight", 0x08, 0, true},
		{"digit nine", 0x19, 0, true},
		{"hex letter", 0x1a, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := shortIntAt([]byte{tt.in}, 0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestPresent(t *testing.T) {
	buf := []byte{0x00, 0x00}

	assert.True(t, present(buf, 0))
	assert.True(t, present(buf, 1))
	assert.False(t, present(buf, 2))
	assert.False(t, present(buf, -1))
}

func TestUIDAt(t *testing.T) {
	buf := []byte{0xff, 0x40, 0x80, 0x00, 0x01, 0x23, 0x45}

	uid, err := uidAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "408000012345", uid)

	_, err = uidAt(buf, 2)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestASCIIAt(t *testing.T) {
	s, err := asciiAt([]byte("APS11"), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "APS", s)

	_, err = asciiAt([]byte{0xff, 0xfe}, 0, 2)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = asciiAt([]byte("AP"), 0, 3)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestTimestampAt(t *testing.T) {
	buf := []byte{0x20, 0x24, 0x07, 0x01, 0x12, 0x30, 0x45}

	ts, err := timestampAt(buf, 0, 14)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01 12:30:45", ts)

	ts, err = timestampAt(buf, 0, 13)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01 12:30:4", ts)

	ts, err = timestampAt(buf, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01 ::", ts)

	_, err = timestampAt(buf, 1, 14)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFieldReaderKeepsFirstError(t *testing.T) {
	r := newFieldReader([]byte{0x00, 0x05}, "ECU Query")

	assert.Equal(t, 5, r.int16(0))
	assert.Equal(t, 0, r.int32(0))
	assert.Equal(t, "", r.uid(0))
	assert.Equal(t, 0, r.int16(0), "reads after a failure return zero values")

	var decodeErr *DecodeError
	require.True(t, errors.As(r.err, &decodeErr))
	assert.Equal(t, kindInt32, decodeErr.Kind)
	assert.Equal(t, "ECU Query", decodeErr.Command)
	assert.Contains(t, decodeErr.Error(), "ECU Query")
}

func TestFieldReaderDecimal(t *testing.T) {
	r := newFieldReader([]byte("011abc"), "ECU Query")
	assert.Equal(t, 11, r.decimal(0, 3))
	require.NoError(t, r.err)

	assert.Equal(t, 0, r.decimal(3, 3))
	assert.ErrorIs(t, r.err, ErrDecode)
}
