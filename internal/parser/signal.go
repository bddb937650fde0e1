package parser

import (
	"math"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/protocol"
)

const offsetSignalRecords = 15

// strengthPercent normalizes a raw 0-255 strength to 0-100, rounding half
// away from zero.
func strengthPercent(raw int) int {
	return int(math.Round(float64(raw) / 255 * 100))
}

// DecodeSignal decodes a signal-strength response into uid -> percent. It
// reads exactly snapshot.QtyOfInverters entries and returns an empty map when
// that count is unknown or the buffer carries another command tag.
func (p *Parser) DecodeSignal(buf []byte, snapshot *domain.Snapshot) (domain.SignalMap, error) {
	signal := domain.SignalMap{}

	if !hasTag(buf, protocol.TagSignal) {
		p.logf("Skipping signal decode: command tag mismatch")
		return signal, nil
	}

	frame, err := p.validate(buf, protocol.CommandNameSignal)
	if err != nil {
		return nil, err
	}

	if snapshot == nil || snapshot.QtyOfInverters == 0 {
		p.logf("Skipping signal decode: inverter count unknown")
		return signal, nil
	}

	r := newFieldReader(frame, protocol.CommandNameSignal)
	cursor := offsetSignalRecords
	for i := 0; i < snapshot.QtyOfInverters; i++ {
		uid := r.uid(cursor)
		cursor += uidLength
		strength := r.rawByte(cursor)
		cursor++
		if r.err != nil {
			return nil, p.record(r.err)
		}
		signal[uid] = strengthPercent(strength)
	}

	p.logf("Decoded signal strength for %d inverters", len(signal))
	return signal, nil
}
