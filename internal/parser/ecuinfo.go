package parser

import (
	"fmt"

	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/protocol"
)

// Device-info offsets shared by both layout variants.
const (
	offsetEcuID          = 13
	offsetEcuVariant     = 25
	offsetLifetimeEnergy = 27
	offsetCurrentPower   = 31
	offsetTodayEnergy    = 35

	firmwareLengthDigits = 3
)

// ecuLayout locates the inverter counts and firmware for one variant.
type ecuLayout struct {
	qty            int
	online         int
	firmwareLength int
	firmware       int
}

var ecuLayouts = map[string]ecuLayout{
	protocol.EcuVariantA: {qty: 46, online: 48, firmwareLength: 52, firmware: 55},
	protocol.EcuVariantB: {qty: 39, online: 41, firmwareLength: 49, firmware: 52},
}

// DecodeEcuInfo decodes a device-info response. It returns nil, nil when the
// buffer does not carry the device-info command tag.
//
// A zero lifetime energy is reported as an AnomalousReading together with the
// decoded fields. An online count above the total is clamped and logged.
func (p *Parser) DecodeEcuInfo(buf []byte) (*domain.EcuInfo, error) {
	if !hasTag(buf, protocol.TagEcuInfo) {
		p.logf("Skipping ECU info decode: command tag mismatch")
		return nil, nil
	}

	frame, err := p.validate(buf, protocol.CommandNameEcuInfo)
	if err != nil {
		return nil, err
	}

	r := newFieldReader(frame, protocol.CommandNameEcuInfo)
	info := &domain.EcuInfo{
		EcuID:          r.ascii(offsetEcuID, protocol.EcuIDLength),
		LifetimeEnergy: float64(r.int32(offsetLifetimeEnergy)) / 10,
		CurrentPower:   r.int32(offsetCurrentPower),
		TodayEnergy:    float64(r.int32(offsetTodayEnergy)) / 100,
		Variant:        r.ascii(offsetEcuVariant, 2),
	}

	if layout, ok := ecuLayouts[info.Variant]; ok {
		info.HasInverterCounts = true
		info.QtyOfInverters = r.int16(layout.qty)
		info.QtyOfOnlineInverters = r.int16(layout.online)
		vsl := r.decimal(layout.firmwareLength, firmwareLengthDigits)
		info.Firmware = r.ascii(layout.firmware, vsl)
	} else if r.err == nil {
		p.logf("Unknown ECU layout variant %q, inverter counts not available", info.Variant)
	}

	if r.err != nil {
		return nil, p.record(r.err)
	}

	p.logger.Debug().
		Str("ecu_id", info.EcuID).
		Float64("lifetime_energy", info.LifetimeEnergy).
		Int("current_power", info.CurrentPower).
		Float64("today_energy", info.TodayEnergy).
		Int("qty_of_inverters", info.QtyOfInverters).
		Int("qty_of_online_inverters", info.QtyOfOnlineInverters).
		Str("firmware", info.Firmware).
		Msg("Decoded ECU info")

	if info.QtyOfOnlineInverters > info.QtyOfInverters {
		_ = p.record(&AnomalousReading{
			Command: protocol.CommandNameEcuInfo,
			Field:   "qty_of_online_inverters",
			Reason: fmt.Sprintf("%d online inverters reported for %d inverters, clamped",
				info.QtyOfOnlineInverters, info.QtyOfInverters),
			Raw: frame,
		})
		info.QtyOfOnlineInverters = info.QtyOfInverters
	}

	if info.LifetimeEnergy == 0 {
		return info, p.record(&AnomalousReading{
			Command: protocol.CommandNameEcuInfo,
			Field:   "lifetime_energy",
			Reason:  "ECU returned 0 for lifetime energy, this is either a glitch from the ECU or a brand new installed ECU",
			Raw:     frame,
		})
	}

	return info, nil
}
