package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/protocol"
)

// Inverter-data header offsets.
const (
	offsetDataStatus      = 14
	offsetRecordStatus    = 15
	offsetInverterQty     = 17
	offsetTimestamp       = 19
	offsetInverterRecords = 26

	timestampDigits = 14

	statusOK        = "00"
	statusRecords   = "01"
	subTypeLength   = 2
	unknownStride   = 9
	offsetOnline    = 6
	offsetSubType   = 7
	offsetFreq      = 9
	offsetTemp      = 11
	temperatureBias = 100
)

// recordLayout describes one per-inverter record format. Offsets are relative
// to the record start; stride is the record size.
type recordLayout struct {
	model    domain.Model
	channels int
	power    []int
	voltage  []int
	stride   int
}

func (l recordLayout) supported() bool {
	return l.model != domain.ModelUnsupported
}

var (
	yc600Layout = recordLayout{
		model:    domain.ModelYC600,
		channels: 2,
		power:    []int{13, 17},
		voltage:  []int{15, 19},
		stride:   21,
	}
	yc1000Layout = recordLayout{
		model:    domain.ModelYC1000,
		channels: 4,
		power:    []int{13, 17, 21, 25},
		voltage:  []int{15, 19, 23},
		stride:   27,
	}
	qs1Layout = recordLayout{
		model:    domain.ModelQS1,
		channels: 4,
		power:    []int{13, 17, 19, 21},
		voltage:  []int{15},
		stride:   23,
	}
	unsupportedLayout = recordLayout{
		model:  domain.ModelUnsupported,
		stride: unknownStride,
	}
)

// recordLayouts maps the sub-type tag at record offset 7 to its layout.
var recordLayouts = map[string]recordLayout{
	"01": yc600Layout,
	"04": yc600Layout,
	"05": yc600Layout,
	"02": yc1000Layout,
	"03": qs1Layout,
}

func layoutFor(subType string) recordLayout {
	if layout, ok := recordLayouts[subType]; ok {
		return layout
	}
	return unsupportedLayout
}

// DecodeInverterData decodes an inverter-data response together with the
// signal response captured in the same cycle. The returned update always
// carries a fresh inverter mapping; it is empty when the buffer has another
// command tag or a data status other than "00". Timestamp and LastUpdate are
// only set when the header was decoded.
func (p *Parser) DecodeInverterData(invBuf, sigBuf []byte, snapshot *domain.Snapshot) (*domain.InverterData, error) {
	data := &domain.InverterData{Inverters: make(map[string]domain.InverterRecord)}

	if !hasTag(invBuf, protocol.TagInverterData) {
		p.logf("Skipping inverter decode: command tag mismatch")
		return data, nil
	}

	frame, err := p.validate(invBuf, protocol.CommandNameInverterData)
	if err != nil {
		return nil, err
	}

	r := newFieldReader(frame, protocol.CommandNameInverterData)
	status := r.ascii(offsetDataStatus, 2)
	if r.err != nil {
		return nil, p.record(r.err)
	}
	if status != statusOK {
		p.logf("Skipping inverter records: data status %q", status)
		return data, nil
	}

	timestamp := r.timestamp(offsetTimestamp, timestampDigits)
	qty := r.int16(offsetInverterQty)
	if r.err != nil {
		return nil, p.record(r.err)
	}

	stamp, err := deviceTime(timestamp, p.location)
	if err != nil {
		return nil, p.record(&DecodeError{
			Command: protocol.CommandNameInverterData,
			Kind:    kindTimestamp,
			Offset:  offsetTimestamp,
			Raw:     frame[offsetTimestamp:offsetInverterRecords],
			Err:     err,
		})
	}

	signal, err := p.DecodeSignal(sigBuf, snapshot)
	if err != nil {
		return nil, err
	}

	cursor := offsetInverterRecords
	for i := 0; i < qty; i++ {
		// A record status other than "01" ends the pass without an error.
		if tag := r.ascii(offsetRecordStatus, 2); tag != statusRecords {
			p.logf("Stopping after %d of %d inverter records: record status %q", i, qty, tag)
			break
		}

		record, stride := decodeRecord(r, cursor, signal)
		if r.err != nil {
			return nil, p.record(r.err)
		}
		data.Inverters[record.UID] = record
		cursor += stride
	}
	if r.err != nil {
		return nil, p.record(r.err)
	}

	data.Timestamp = timestamp
	data.LastUpdate = stamp.Unix()

	p.logf("Decoded %d inverter records at %s", len(data.Inverters), timestamp)
	return data, nil
}

// decodeRecord reads one inverter record at cursor and returns it with the
// number of bytes it occupies.
func decodeRecord(r *fieldReader, cursor int, signal domain.SignalMap) (domain.InverterRecord, int) {
	uid := r.uid(cursor)
	online := r.shortInt(cursor+offsetOnline) != 0
	layout := layoutFor(r.ascii(cursor+offsetSubType, subTypeLength))

	record := domain.InverterRecord{
		UID:        uid,
		Online:     online,
		Signal:     signal[uid],
		Model:      layout.model,
		ChannelQty: layout.channels,
		Power:      make([]int, 0, len(layout.power)),
		Voltage:    make([]int, 0, len(layout.voltage)),
	}

	if !layout.supported() {
		return record, layout.stride
	}

	frequency := float64(r.int16(cursor+offsetFreq)) / 10
	record.Frequency = &frequency
	if online {
		temperature := r.int16(cursor+offsetTemp) - temperatureBias
		record.Temperature = &temperature
	}
	for _, off := range layout.power {
		record.Power = append(record.Power, r.int16(cursor+off))
	}
	for _, off := range layout.voltage {
		record.Voltage = append(record.Voltage, r.int16(cursor+off))
	}

	return record, layout.stride
}

// deviceTime converts a "YYYY-MM-DD hh:mm:ss" device timestamp to a time in
// loc. Out-of-range fields such as second 60 roll over into the next unit.
func deviceTime(timestamp string, loc *time.Location) (time.Time, error) {
	parts := strings.FieldsFunc(timestamp, func(r rune) bool {
		return r == '-' || r == ' ' || r == ':'
	})
	if len(parts) != 6 {
		return time.Time{}, fmt.Errorf("timestamp %q: expected 6 fields, got %d", timestamp, len(parts))
	}

	var v [6]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", timestamp, err)
		}
		v[i] = n
	}

	return time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, loc), nil
}
