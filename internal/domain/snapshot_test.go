package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotIsStale(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	snapshot := NewSnapshot(now, DefaultUpdateInterval)

	assert.Equal(t, now.Unix()-301, snapshot.LastUpdate)
	assert.True(t, snapshot.IsStale(now, DefaultUpdateInterval))
	assert.NotNil(t, snapshot.Inverters)
}

func TestSnapshotFreshness(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	snapshot := &Snapshot{LastUpdate: now.Unix()}

	assert.WithinDuration(t, now.Add(DefaultUpdateInterval), snapshot.NextUpdate(DefaultUpdateInterval), 0)
	assert.False(t, snapshot.IsStale(now.Add(time.Minute), DefaultUpdateInterval))
	assert.False(t, snapshot.IsStale(now.Add(DefaultUpdateInterval), DefaultUpdateInterval))
	assert.True(t, snapshot.IsStale(now.Add(DefaultUpdateInterval+time.Second), DefaultUpdateInterval))
}

func TestApplyEcuInfo(t *testing.T) {
	snapshot := NewSnapshot(time.Now(), DefaultUpdateInterval)
	snapshot.QtyOfInverters = 3
	snapshot.QtyOfOnlineInverters = 2
	snapshot.Firmware = "old"

	snapshot.ApplyEcuInfo(&EcuInfo{
		EcuID:          "216200001234",
		LifetimeEnergy: 1234.5,
		CurrentPower:   512,
		TodayEnergy:    3.21,
		Variant:        "09",
	})

	assert.Equal(t, "216200001234", snapshot.EcuID)
	assert.Equal(t, 1234.5, snapshot.LifetimeEnergy)
	assert.Equal(t, 512, snapshot.CurrentPower)
	assert.Equal(t, 3.21, snapshot.TodayEnergy)
	assert.Equal(t, 3, snapshot.QtyOfInverters, "unknown variant leaves counts untouched")
	assert.Equal(t, "old", snapshot.Firmware)

	snapshot.ApplyEcuInfo(&EcuInfo{
		EcuID:                "216200001234",
		Variant:              "01",
		HasInverterCounts:    true,
		QtyOfInverters:       8,
		QtyOfOnlineInverters: 7,
		Firmware:             "ECU_R_1.2.3",
	})
	assert.Equal(t, 8, snapshot.QtyOfInverters)
	assert.Equal(t, 7, snapshot.QtyOfOnlineInverters)
	assert.Equal(t, "ECU_R_1.2.3", snapshot.Firmware)

	snapshot.ApplyEcuInfo(nil)
	assert.Equal(t, "216200001234", snapshot.EcuID)
}

func TestApplyInverterDataReplacesMapping(t *testing.T) {
	snapshot := NewSnapshot(time.Now(), DefaultUpdateInterval)
	snapshot.Inverters["stale0000000"] = InverterRecord{UID: "stale0000000"}

	data := &InverterData{
		Timestamp:  "2024-07-01 12:30:45",
		LastUpdate: 1719837045,
		Inverters: map[string]InverterRecord{
			"408000012345": {UID: "408000012345", Power: []int{1, 2}},
		},
	}
	snapshot.ApplyInverterData(data)

	assert.Equal(t, "2024-07-01 12:30:45", snapshot.Timestamp)
	assert.Equal(t, int64(1719837045), snapshot.LastUpdate)
	require.Len(t, snapshot.Inverters, 1)
	assert.Contains(t, snapshot.Inverters, "408000012345")

	data.Inverters["408000012345"].Power[0] = 99
	assert.Equal(t, 1, snapshot.Inverters["408000012345"].Power[0], "snapshot must not alias decoder output")
}

func TestApplyInverterDataWithoutTimestampKeepsLastUpdate(t *testing.T) {
	snapshot := &Snapshot{LastUpdate: 100, Timestamp: "x", Inverters: map[string]InverterRecord{"a": {}}}

	snapshot.ApplyInverterData(&InverterData{Inverters: map[string]InverterRecord{}})

	assert.Equal(t, int64(100), snapshot.LastUpdate)
	assert.Equal(t, "x", snapshot.Timestamp)
	assert.Empty(t, snapshot.Inverters)
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	temp := 30
	snapshot := &Snapshot{
		EcuID: "216200001234",
		Inverters: map[string]InverterRecord{
			"408000012345": {UID: "408000012345", Power: []int{5}, Temperature: &temp},
		},
	}

	clone := snapshot.Clone()
	clone.Inverters["408000012345"].Power[0] = 7
	*clone.Inverters["408000012345"].Temperature = 99
	delete(clone.Inverters, "408000012345")

	require.Contains(t, snapshot.Inverters, "408000012345")
	assert.Equal(t, 5, snapshot.Inverters["408000012345"].Power[0])
	assert.Equal(t, 30, *snapshot.Inverters["408000012345"].Temperature)
}

func TestOnlineInverters(t *testing.T) {
	snapshot := &Snapshot{Inverters: map[string]InverterRecord{
		"a": {UID: "a", Online: true},
		"b": {UID: "b", Online: false},
	}}

	online := snapshot.OnlineInverters()
	require.Len(t, online, 1)
	assert.Equal(t, "a", online[0].UID)
}
