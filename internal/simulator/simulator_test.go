package simulator

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/resident-x/go-apsecu/internal/parser"
	"github.com/resident-x/go-apsecu/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)
}

func testParser(t *testing.T) *parser.Parser {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	p, err := parser.NewParser(cfg, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestRespond_EcuInfo(t *testing.T) {
	sim := NewServer(Options{Fleet: DefaultFleet(), Clock: fixedClock})
	commands := protocol.NewCommandBuilder()

	frame, err := sim.Respond([]byte(commands.EcuInfoCommand()))
	require.NoError(t, err)

	info, err := testParser(t).DecodeEcuInfo(frame)
	require.NoError(t, err)
	assert.Equal(t, "216200001234", info.EcuID)
	assert.Equal(t, 1234.5, info.LifetimeEnergy)
	assert.Equal(t, 120+125+90+92+88+95+70+71+69+72, info.CurrentPower)
	assert.Equal(t, 4, info.QtyOfInverters)
	assert.Equal(t, 3, info.QtyOfOnlineInverters)
	assert.Equal(t, "ECU_R_1.2.22", info.Firmware)
	assert.Equal(t, 1, sim.Served(protocol.TagEcuInfo))
}

func TestRespond_InverterDataAndSignal(t *testing.T) {
	sim := NewServer(Options{Fleet: DefaultFleet(), Clock: fixedClock})
	commands := protocol.NewCommandBuilder()

	invCmd, err := commands.InverterDataCommand("216200001234")
	require.NoError(t, err)
	sigCmd, err := commands.SignalCommand("216200001234")
	require.NoError(t, err)

	invFrame, err := sim.Respond([]byte(invCmd))
	require.NoError(t, err)
	sigFrame, err := sim.Respond([]byte(sigCmd))
	require.NoError(t, err)

	snapshot := &domain.Snapshot{QtyOfInverters: 4}
	data, err := testParser(t).DecodeInverterData(invFrame, sigFrame, snapshot)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-01 12:30:45", data.Timestamp)
	require.Len(t, data.Inverters, 4)

	yc600 := data.Inverters["408000012345"]
	assert.True(t, yc600.Online)
	assert.Equal(t, domain.ModelYC600, yc600.Model)
	assert.Equal(t, []int{120, 125}, yc600.Power)
	assert.Equal(t, 80, yc600.Signal)

	yc1000 := data.Inverters["501000023456"]
	assert.Equal(t, domain.ModelYC1000, yc1000.Model)
	assert.Equal(t, []int{229, 230, 231}, yc1000.Voltage)

	qs1 := data.Inverters["801000056789"]
	assert.Equal(t, domain.ModelQS1, qs1.Model)
	assert.Equal(t, 90, qs1.Signal)

	assert.False(t, data.Inverters["408000099999"].Online)
	assert.Equal(t, 1, sim.Served(protocol.TagInverterData))
	assert.Equal(t, 1, sim.Served(protocol.TagSignal))
}

func TestRespond_Rejects(t *testing.T) {
	sim := NewServer(Options{Fleet: DefaultFleet()})
	commands := protocol.NewCommandBuilder()

	other, err := commands.InverterDataCommand("216200009999")
	require.NoError(t, err)

	tests := []struct {
		name    string
		request []byte
	}{
		{"garbage", []byte("hello\n")},
		{"unknown ecu", []byte(other)},
		{"unknown tag", protocol.BuildFrame("0099", []byte("216200001234"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.Respond(tt.request)
			assert.Error(t, err)
		})
	}
}

func TestVary(t *testing.T) {
	sim := NewServer(Options{Fleet: DefaultFleet(), Jitter: 5})

	for i := 0; i < 50; i++ {
		power := sim.vary([]int{100, 2}, true)
		assert.InDelta(t, 100, power[0], 5)
		assert.GreaterOrEqual(t, power[1], 0)
	}

	assert.Equal(t, []int{0, 0}, sim.vary([]int{0, 0}, false))
}

func TestServer_TCP(t *testing.T) {
	sim := NewServer(Options{Fleet: DefaultFleet(), Clock: fixedClock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sim.Start(ctx, "127.0.0.1:0"))
	t.Cleanup(func() { _ = sim.Close() })
	require.NotEmpty(t, sim.Addr())

	conn, err := net.DialTimeout("tcp", sim.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(protocol.NewCommandBuilder().EcuInfoCommand()))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	response, err := io.ReadAll(conn)
	require.NoError(t, err)

	frame, err := parser.ValidateFrame(response, protocol.CommandNameEcuInfo)
	require.NoError(t, err)
	assert.Equal(t, protocol.TagEcuInfo, string(frame[9:13]))
}

func TestServer_CloseBeforeStart(t *testing.T) {
	sim := NewServer(Options{Fleet: DefaultFleet()})
	assert.Empty(t, sim.Addr())
	assert.NoError(t, sim.Close())
}
