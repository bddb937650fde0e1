package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/parser"
	"github.com/resident-x/go-apsecu/internal/protocol"
	"github.com/resident-x/go-apsecu/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testEcuID  = "216200001234"
	testUID    = "408000012345"
	ecuCommand = "APS1100160001END\n"
	invCommand = "APS1100280002216200001234END\n"
	sigCommand = "APS1100280030216200001234END\n"
)

func ecuFrame(t *testing.T, lifetime float64) []byte {
	t.Helper()
	frame, err := protocol.EncodeEcuInfo(protocol.EcuInfoFields{
		EcuID:                testEcuID,
		Variant:              protocol.EcuVariantA,
		LifetimeEnergy:       lifetime,
		CurrentPower:         245,
		TodayEnergy:          1.5,
		QtyOfInverters:       1,
		QtyOfOnlineInverters: 1,
		Firmware:             "ECU_R_1.2.3",
	})
	require.NoError(t, err)
	return protocol.Pad(frame, 1024)
}

func invFrame(t *testing.T) []byte {
	t.Helper()
	frame, err := protocol.EncodeInverterData(protocol.InverterDataFields{
		Timestamp: "20240701123045",
		Inverters: []protocol.InverterFields{{
			UID: testUID, Online: true, SubType: "01",
			Frequency: 50, Temperature: 30,
			Power: []int{120, 125}, Voltage: []int{230, 231},
		}},
	})
	require.NoError(t, err)
	return protocol.Pad(frame, 1024)
}

func sigFrame(t *testing.T) []byte {
	t.Helper()
	frame, err := protocol.EncodeSignal([]protocol.SignalFields{{UID: testUID, Strength: 204}})
	require.NoError(t, err)
	return protocol.Pad(frame, 1024)
}

func newTestReader(t *testing.T, exchanger domain.Exchanger, autoUpdate bool) (*Reader, *time.Time) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ECU.AutoUpdate = autoUpdate

	p, err := parser.NewParser(cfg, zerolog.Nop())
	require.NoError(t, err)

	reader := NewReader(cfg, exchanger, p, zerolog.Nop())
	clock := time.Date(2024, 7, 1, 12, 31, 0, 0, time.UTC)
	reader.now = func() time.Time { return clock }
	reader.snapshot = domain.NewSnapshot(clock, reader.interval)
	return reader, &clock
}

func expectFullCycle(t *testing.T, exchanger *mocks.MockExchanger) {
	t.Helper()
	mock.InOrder(
		exchanger.On("Exchange", mock.Anything, ecuCommand).Return(ecuFrame(t, 1234.5), nil).Once(),
		exchanger.On("Exchange", mock.Anything, invCommand).Return(invFrame(t), nil).Once(),
		exchanger.On("Exchange", mock.Anything, sigCommand).Return(sigFrame(t), nil).Once(),
	)
}

func TestUpdateFullCycle(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	expectFullCycle(t, exchanger)
	reader, _ := newTestReader(t, exchanger, true)

	ran, err := reader.Update(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, ran)
	exchanger.AssertExpectations(t)

	snapshot := reader.Snapshot()
	assert.Equal(t, testEcuID, snapshot.EcuID)
	assert.Equal(t, 1234.5, snapshot.LifetimeEnergy)
	assert.Equal(t, 245, snapshot.CurrentPower)
	assert.Equal(t, 1.5, snapshot.TodayEnergy)
	assert.Equal(t, 1, snapshot.QtyOfInverters)
	assert.Equal(t, 1, snapshot.QtyOfOnlineInverters)
	assert.Equal(t, "ECU_R_1.2.3", snapshot.Firmware)
	assert.Equal(t, "2024-07-01 12:30:45", snapshot.Timestamp)
	assert.Equal(t, time.Date(2024, 7, 1, 12, 30, 45, 0, time.UTC).Unix(), snapshot.LastUpdate)

	require.Contains(t, snapshot.Inverters, testUID)
	inv := snapshot.Inverters[testUID]
	assert.Equal(t, 80, inv.Signal)
	assert.Equal(t, domain.ModelYC600, inv.Model)
	assert.Equal(t, []int{120, 125}, inv.Power)

	assert.Equal(t, time.Date(2024, 7, 1, 12, 35, 45, 0, time.UTC), reader.NextUpdate().UTC())
	assert.Empty(t, reader.Errors())
}

func TestUpdateSkipsFreshSnapshot(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	expectFullCycle(t, exchanger)
	reader, clock := newTestReader(t, exchanger, true)

	_, err := reader.Update(context.Background(), false)
	require.NoError(t, err)

	ran, err := reader.Update(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, ran, "snapshot is fresh until last_update + interval")

	*clock = clock.Add(5 * time.Minute)
	expectFullCycle(t, exchanger)
	ran, err = reader.Update(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, ran)
	exchanger.AssertNumberOfCalls(t, "Exchange", 6)
}

func TestUpdateForce(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	expectFullCycle(t, exchanger)
	reader, _ := newTestReader(t, exchanger, false)

	ran, err := reader.Update(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, ran, "auto update disabled")
	exchanger.AssertNotCalled(t, "Exchange", mock.Anything, mock.Anything)

	ran, err = reader.Update(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ran)
	exchanger.AssertExpectations(t)
}

func TestUpdateZeroLifetimeAbortsCycle(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	exchanger.On("Exchange", mock.Anything, ecuCommand).Return(ecuFrame(t, 0), nil).Once()
	reader, _ := newTestReader(t, exchanger, true)

	ran, err := reader.Update(context.Background(), false)
	assert.True(t, ran)
	require.Error(t, err)
	assert.ErrorIs(t, err, parser.ErrAnomalousReading)
	exchanger.AssertExpectations(t)
	exchanger.AssertNumberOfCalls(t, "Exchange", 1)

	snapshot := reader.Snapshot()
	assert.Equal(t, testEcuID, snapshot.EcuID, "device info is applied before the abort")
	assert.Empty(t, snapshot.Inverters)
	assert.Len(t, reader.Errors(), 1)
}

func TestUpdateKeepsInvertersOnInverterFailure(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	expectFullCycle(t, exchanger)
	reader, clock := newTestReader(t, exchanger, true)

	_, err := reader.Update(context.Background(), false)
	require.NoError(t, err)

	*clock = clock.Add(10 * time.Minute)
	exchanger.On("Exchange", mock.Anything, ecuCommand).Return(ecuFrame(t, 2000), nil).Once()
	exchanger.On("Exchange", mock.Anything, invCommand).Return(nil, errors.New("connection reset")).Once()

	_, err = reader.Update(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverter data exchange")

	snapshot := reader.Snapshot()
	assert.Equal(t, 2000.0, snapshot.LifetimeEnergy)
	assert.Contains(t, snapshot.Inverters, testUID, "previous inverter mapping survives")
	assert.Equal(t, "2024-07-01 12:30:45", snapshot.Timestamp)
}

func TestUpdateProtocolViolationLeavesSnapshot(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	bad := ecuFrame(t, 10)
	bad[0] = 'X'
	exchanger.On("Exchange", mock.Anything, ecuCommand).Return(bad, nil).Once()
	reader, _ := newTestReader(t, exchanger, true)
	before := reader.Snapshot()

	_, err := reader.Update(context.Background(), false)
	assert.ErrorIs(t, err, parser.ErrProtocolViolation)
	assert.Equal(t, before, reader.Snapshot())
	assert.Len(t, reader.Errors(), 1)
}

func TestUpdateUnknownEcuID(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	exchanger.On("Exchange", mock.Anything, ecuCommand).
		Return(protocol.Pad(protocol.BuildFrame(protocol.TagSignal, nil), 64), nil).Once()
	reader, _ := newTestReader(t, exchanger, true)

	_, err := reader.Update(context.Background(), false)
	assert.ErrorIs(t, err, ErrUnknownEcuID)
}

func TestUpdateTransportError(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	exchanger.On("Exchange", mock.Anything, ecuCommand).Return(nil, context.DeadlineExceeded).Once()
	reader, _ := newTestReader(t, exchanger, true)

	ran, err := reader.Update(context.Background(), false)
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshotIsACopy(t *testing.T) {
	exchanger := &mocks.MockExchanger{}
	expectFullCycle(t, exchanger)
	reader, _ := newTestReader(t, exchanger, true)

	_, err := reader.Update(context.Background(), false)
	require.NoError(t, err)

	snapshot := reader.Snapshot()
	snapshot.Inverters[testUID].Power[0] = 0
	delete(snapshot.Inverters, testUID)

	again := reader.Snapshot()
	require.Contains(t, again.Inverters, testUID)
	assert.Equal(t, 120, again.Inverters[testUID].Power[0])
}

func TestNewReaderStartsStale(t *testing.T) {
	reader, _ := newTestReader(t, &mocks.MockExchanger{}, true)

	assert.True(t, reader.NextUpdate().Before(time.Now()))
	assert.Equal(t, domain.DefaultUpdateInterval, reader.Interval())
}
