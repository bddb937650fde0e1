package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Response layout variants of the device-info frame.
const (
	EcuVariantA = "01"
	EcuVariantB = "02"
)

// DefaultInverterStatus fills bytes 13-16 of an inverter-data response. The
// decoder reads a "00" tag at offset 14 and a "01" tag at offset 15.
const DefaultInverterStatus = "0001"

// EcuInfoFields are the values carried by a device-info response.
type EcuInfoFields struct {
	EcuID                string
	Variant              string
	LifetimeEnergy       float64 // kWh, one decimal on the wire
	CurrentPower         int     // W
	TodayEnergy          float64 // kWh, two decimals on the wire
	QtyOfInverters       int
	QtyOfOnlineInverters int
	Firmware             string
}

// InverterFields are the values carried by one inverter record.
type InverterFields struct {
	UID         string
	Online      bool
	SubType     string
	Frequency   float64
	Temperature int
	Power       []int
	Voltage     []int
}

// InverterDataFields are the values carried by an inverter-data response.
type InverterDataFields struct {
	// Status overrides bytes 13-16; DefaultInverterStatus when empty.
	Status string
	// Timestamp holds 14 decimal digits, YYYYMMDDhhmmss.
	Timestamp string
	// Count overrides the declared record count; len(Inverters) when zero.
	Count     int
	Inverters []InverterFields
}

// SignalFields is one entry of a signal response.
type SignalFields struct {
	UID      string
	Strength byte
}

type recordLayout struct {
	size    int
	power   []int
	voltage []int
}

var recordLayouts = map[string]recordLayout{
	"01": {size: 21, power: []int{13, 17}, voltage: []int{15, 19}},
	"04": {size: 21, power: []int{13, 17}, voltage: []int{15, 19}},
	"05": {size: 21, power: []int{13, 17}, voltage: []int{15, 19}},
	"02": {size: 27, power: []int{13, 17, 21, 25}, voltage: []int{15, 19, 23}},
	"03": {size: 23, power: []int{13, 17, 19, 21}, voltage: []int{15}},
}

// unknownRecordSize is consumed by records with an unrecognized sub-type.
const unknownRecordSize = 9

// EncodeEcuInfo builds a device-info response.
func EncodeEcuInfo(f EcuInfoFields) ([]byte, error) {
	if len(f.EcuID) != EcuIDLength {
		return nil, fmt.Errorf("ecu id must be %d characters, got %q", EcuIDLength, f.EcuID)
	}
	if len(f.Variant) != 2 {
		return nil, fmt.Errorf("variant must be 2 characters, got %q", f.Variant)
	}
	if len(f.Firmware) > 999 {
		return nil, fmt.Errorf("firmware too long: %d bytes", len(f.Firmware))
	}

	// Payload offsets are relative to byte 13 of the frame.
	payload := make([]byte, 26)
	copy(payload[0:12], f.EcuID)
	copy(payload[12:14], f.Variant)
	binary.BigEndian.PutUint32(payload[14:18], uint32(math.Round(f.LifetimeEnergy*10)))
	binary.BigEndian.PutUint32(payload[18:22], uint32(f.CurrentPower))
	binary.BigEndian.PutUint32(payload[22:26], uint32(math.Round(f.TodayEnergy*100)))

	vsl := []byte(fmt.Sprintf("%03d", len(f.Firmware)))

	switch f.Variant {
	case EcuVariantA:
		// 39-45 unused, 46 qty, 48 online, 50-51 unused, 52 vsl, 55 firmware
		tail := make([]byte, 16)
		binary.BigEndian.PutUint16(tail[7:9], uint16(f.QtyOfInverters))
		binary.BigEndian.PutUint16(tail[9:11], uint16(f.QtyOfOnlineInverters))
		copy(tail[13:16], vsl)
		payload = append(payload, tail...)
		payload = append(payload, f.Firmware...)
	case EcuVariantB:
		// 39 qty, 41 online, 43-48 unused, 49 vsl, 52 firmware
		tail := make([]byte, 13)
		binary.BigEndian.PutUint16(tail[0:2], uint16(f.QtyOfInverters))
		binary.BigEndian.PutUint16(tail[2:4], uint16(f.QtyOfOnlineInverters))
		copy(tail[10:13], vsl)
		payload = append(payload, tail...)
		payload = append(payload, f.Firmware...)
	}

	return BuildFrame(TagEcuInfo, payload), nil
}

// EncodeInverterData builds an inverter-data response.
func EncodeInverterData(f InverterDataFields) ([]byte, error) {
	status := f.Status
	if status == "" {
		status = DefaultInverterStatus
	}
	if len(status) != 4 {
		return nil, fmt.Errorf("status must be 4 characters, got %q", status)
	}
	stamp, err := hex.DecodeString(f.Timestamp)
	if err != nil || len(stamp) != 7 {
		return nil, fmt.Errorf("timestamp must be 14 digits, got %q", f.Timestamp)
	}

	count := f.Count
	if count == 0 {
		count = len(f.Inverters)
	}

	payload := make([]byte, 13)
	copy(payload[0:4], status)
	binary.BigEndian.PutUint16(payload[4:6], uint16(count))
	copy(payload[6:13], stamp)

	for i, inv := range f.Inverters {
		record, err := encodeInverterRecord(inv)
		if err != nil {
			return nil, fmt.Errorf("inverter %d: %w", i, err)
		}
		payload = append(payload, record...)
	}

	return BuildFrame(TagInverterData, payload), nil
}

func encodeInverterRecord(inv InverterFields) ([]byte, error) {
	uid, err := hex.DecodeString(inv.UID)
	if err != nil || len(uid) != 6 {
		return nil, fmt.Errorf("uid must be 12 hex characters, got %q", inv.UID)
	}
	if len(inv.SubType) != 2 {
		return nil, fmt.Errorf("sub-type must be 2 characters, got %q", inv.SubType)
	}

	layout, known := recordLayouts[inv.SubType]
	if !known {
		layout = recordLayout{size: unknownRecordSize}
	}

	record := make([]byte, layout.size)
	copy(record[0:6], uid)
	if inv.Online {
		record[6] = 0x01
	}
	copy(record[7:9], inv.SubType)
	if !known {
		return record, nil
	}

	binary.BigEndian.PutUint16(record[9:11], uint16(math.Round(inv.Frequency*10)))
	binary.BigEndian.PutUint16(record[11:13], uint16(inv.Temperature+100))
	if len(inv.Power) != len(layout.power) || len(inv.Voltage) != len(layout.voltage) {
		return nil, fmt.Errorf("sub-type %s needs %d power and %d voltage values",
			inv.SubType, len(layout.power), len(layout.voltage))
	}
	for i, off := range layout.power {
		binary.BigEndian.PutUint16(record[off:off+2], uint16(inv.Power[i]))
	}
	for i, off := range layout.voltage {
		binary.BigEndian.PutUint16(record[off:off+2], uint16(inv.Voltage[i]))
	}

	return record, nil
}

// EncodeSignal builds a signal-strength response.
func EncodeSignal(entries []SignalFields) ([]byte, error) {
	payload := []byte("00")
	for _, entry := range entries {
		uid, err := hex.DecodeString(entry.UID)
		if err != nil || len(uid) != 6 {
			return nil, fmt.Errorf("uid must be 12 hex characters, got %q", entry.UID)
		}
		payload = append(payload, uid...)
		payload = append(payload, entry.Strength)
	}

	return BuildFrame(TagSignal, payload), nil
}

// Pad zero-fills a frame up to size, as the ECU transport returns it.
func Pad(frame []byte, size int) []byte {
	if len(frame) >= size {
		return frame
	}
	padded := make([]byte, size)
	copy(padded, frame)
	return padded
}
