package domain

import (
	"time"
)

// DefaultUpdateInterval is the minimum time between two read cycles.
const DefaultUpdateInterval = 300 * time.Second

// Snapshot is the decoded state of an ECU and its inverters.
type Snapshot struct {
	LastUpdate           int64                     `json:"last_update"`
	Timestamp            string                    `json:"timestamp"`
	EcuID                string                    `json:"ecu_id"`
	Inverters            map[string]InverterRecord `json:"inverters"`
	LifetimeEnergy       float64                   `json:"lifetime_energy"`
	CurrentPower         int                       `json:"current_power"`
	TodayEnergy          float64                   `json:"today_energy"`
	QtyOfInverters       int                       `json:"qty_of_inverters"`
	QtyOfOnlineInverters int                       `json:"qty_of_online_inverters"`
	Firmware             string                    `json:"firmware"`
}

// NewSnapshot creates an empty snapshot that is already stale at now, so the
// first read cycle always runs.
func NewSnapshot(now time.Time, interval time.Duration) *Snapshot {
	return &Snapshot{
		LastUpdate: now.Unix() - int64(interval/time.Second) - 1,
		Inverters:  make(map[string]InverterRecord),
	}
}

// NextUpdate returns the earliest time the next read cycle is due.
func (s *Snapshot) NextUpdate(interval time.Duration) time.Time {
	return time.Unix(s.LastUpdate, 0).Add(interval)
}

// IsStale reports whether a new read cycle is due at now.
func (s *Snapshot) IsStale(now time.Time, interval time.Duration) bool {
	return now.After(s.NextUpdate(interval))
}

// ApplyEcuInfo merges a device-info update. Counts and firmware are left
// untouched when the update carried an unknown layout variant.
func (s *Snapshot) ApplyEcuInfo(info *EcuInfo) {
	if info == nil {
		return
	}
	s.EcuID = info.EcuID
	s.LifetimeEnergy = info.LifetimeEnergy
	s.CurrentPower = info.CurrentPower
	s.TodayEnergy = info.TodayEnergy
	if info.HasInverterCounts {
		s.QtyOfInverters = info.QtyOfInverters
		s.QtyOfOnlineInverters = info.QtyOfOnlineInverters
		s.Firmware = info.Firmware
	}
}

// ApplyInverterData replaces the inverter mapping wholesale.
func (s *Snapshot) ApplyInverterData(data *InverterData) {
	if data == nil {
		return
	}
	if data.Timestamp != "" {
		s.Timestamp = data.Timestamp
		s.LastUpdate = data.LastUpdate
	}
	inverters := make(map[string]InverterRecord, len(data.Inverters))
	for uid, rec := range data.Inverters {
		inverters[uid] = rec.Clone()
	}
	s.Inverters = inverters
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	out.Inverters = make(map[string]InverterRecord, len(s.Inverters))
	for uid, rec := range s.Inverters {
		out.Inverters[uid] = rec.Clone()
	}
	return out
}

// OnlineInverters returns the records currently reported online.
func (s *Snapshot) OnlineInverters() []InverterRecord {
	online := make([]InverterRecord, 0, len(s.Inverters))
	for _, rec := range s.Inverters {
		if rec.Online {
			online = append(online, rec)
		}
	}
	return online
}
