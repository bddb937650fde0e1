// Package domain provides core domain implementations.
package domain

import (
	"fmt"
	"sync"
	"time"
)

// DeviceRegistry implements the Registry interface.
type DeviceRegistry struct {
	ecus  map[string]*EcuDevice
	mutex sync.RWMutex
	now   func() time.Time
}

// NewDeviceRegistry creates a new device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		ecus: make(map[string]*EcuDevice),
		now:  time.Now,
	}
}

// RegisterEcu adds or updates an ECU in the registry.
func (r *DeviceRegistry) RegisterEcu(id, firmware, address string) error {
	if id == "" {
		return fmt.Errorf("ecu id cannot be empty")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	ecu, exists := r.ecus[id]
	if !exists {
		ecu = &EcuDevice{
			ID:        id,
			Inverters: make(map[string]*InverterInfo),
		}
		r.ecus[id] = ecu
	}

	ecu.Address = address
	if firmware != "" {
		ecu.Firmware = firmware
	}
	ecu.LastContact = r.now()

	return nil
}

// RecordInverter adds or updates an inverter in the registry.
func (r *DeviceRegistry) RecordInverter(ecuID string, record InverterRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ecu, exists := r.ecus[ecuID]
	if !exists {
		return fmt.Errorf("ecu %s not found", ecuID)
	}

	now := r.now()
	inverter, exists := ecu.Inverters[record.UID]
	if !exists {
		inverter = &InverterInfo{
			UID:       record.UID,
			FirstSeen: now,
		}
		ecu.Inverters[record.UID] = inverter
	}

	inverter.Model = record.Model
	inverter.LastContact = now
	if record.Online {
		inverter.LastOnline = now
	}

	return nil
}

// RecordSnapshot registers the snapshot's ECU and all of its inverters.
func (r *DeviceRegistry) RecordSnapshot(snapshot *Snapshot, address string) error {
	if err := r.RegisterEcu(snapshot.EcuID, snapshot.Firmware, address); err != nil {
		return err
	}
	for _, record := range snapshot.Inverters {
		if err := r.RecordInverter(snapshot.EcuID, record); err != nil {
			return err
		}
	}
	return nil
}

// GetEcu retrieves information about an ECU.
func (r *DeviceRegistry) GetEcu(id string) (*EcuDevice, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ecu, exists := r.ecus[id]
	if !exists {
		return nil, false
	}

	return ecu.clone(), true
}

// GetAllEcus returns information about all ECUs.
func (r *DeviceRegistry) GetAllEcus() []*EcuDevice {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ecus := make([]*EcuDevice, 0, len(r.ecus))
	for _, ecu := range r.ecus {
		ecus = append(ecus, ecu.clone())
	}

	return ecus
}

// GetInverters returns all inverters for an ECU.
func (r *DeviceRegistry) GetInverters(ecuID string) ([]*InverterInfo, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ecu, exists := r.ecus[ecuID]
	if !exists {
		return nil, false
	}

	inverters := make([]*InverterInfo, 0, len(ecu.Inverters))
	for _, inverter := range ecu.Inverters {
		copied := *inverter
		inverters = append(inverters, &copied)
	}

	return inverters, true
}

// clone copies the device so callers never share registry state.
func (e *EcuDevice) clone() *EcuDevice {
	out := *e
	out.Inverters = make(map[string]*InverterInfo, len(e.Inverters))
	for uid, inverter := range e.Inverters {
		copied := *inverter
		out.Inverters[uid] = &copied
	}
	return &out
}
