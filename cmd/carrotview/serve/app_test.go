package serve

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/sim"
	"github.com/temoto/carrotview/state"
	telenet "github.com/temoto/carrotview/tele/net"
)

type syncBuffer struct {
	sync.Mutex
	b bytes.Buffer
}

func (sb *syncBuffer) Write(p []byte) (int, error) {
	sb.Lock()
	defer sb.Unlock()
	return sb.b.Write(p)
}

func (sb *syncBuffer) String() string {
	sb.Lock()
	defer sb.Unlock()
	return sb.b.String()
}

func (sb *syncBuffer) Reset() {
	sb.Lock()
	sb.b.Reset()
	sb.Unlock()
}

func testApp(t testing.TB, input string) (*app, *syncBuffer, *int) {
	log := log2.NewTest(t, log2.LDebug)
	fs := state.NewMockFullReader(map[string]string{"test": input})
	config, err := state.ReadConfig(log, fs, "test")
	require.NoError(t, err)
	out := &syncBuffer{}
	stops := new(int)
	a, err := newApp(log, config, out, func() { *stops++ })
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })
	return a, out, stops
}

const testConfig = `
server {
	listen = ["tcp://127.0.0.1:0"]
	period_ms = 20
}
console { advertise = "192.0.2.7" }
`

func TestManualModes(t *testing.T) {
	t.Parallel()
	a, out, _ := testApp(t, testConfig+`source { mode = "manual" }`)

	a.exec("2")
	assert.Contains(t, out.String(), "mode cruise")
	s := a.snapshot()
	assert.True(t, s.ControlsState.Enabled)
	assert.True(t, s.ControlsState.Active)
	assert.Equal(t, 20.0, s.CarState.VEgo)

	a.exec("1")
	s = a.snapshot()
	assert.True(t, s.ControlsState.Enabled)
	assert.False(t, s.ControlsState.Active)
	assert.Equal(t, sim.ModeReady, a.manual.Mode())

	a.exec(" 0 ")
	s = a.snapshot()
	assert.False(t, s.ControlsState.Enabled)
	assert.Equal(t, 0.0, s.CarState.VEgo)
}

func TestModeNeedsManual(t *testing.T) {
	t.Parallel()
	a, out, _ := testApp(t, testConfig)
	require.Nil(t, a.manual)
	a.exec("2")
	assert.Contains(t, out.String(), "mode commands need source.mode=manual")
}

func TestStatusAndClients(t *testing.T) {
	t.Parallel()
	a, out, _ := testApp(t, testConfig+`source { seed = 3 }`)

	a.exec("status")
	assert.Contains(t, out.String(), "no snapshot yet")
	out.Reset()

	ctx := context.Background()
	require.NoError(t, a.server.Listen(ctx, a.config.ListenOptions()))
	addr, ok := a.server.Addr("tcp://127.0.0.1:0")
	require.True(t, ok)
	c, err := telenet.Dial(ctx, "tcp://"+addr, telenet.ClientOptions{Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Receive(ctx)
	require.NoError(t, err)

	a.exec("status")
	assert.Contains(t, out.String(), "km/h")
	assert.Contains(t, out.String(), `server {"conn":1`)
	out.Reset()

	a.exec("clients")
	assert.Contains(t, out.String(), "clients=1")
	assert.Contains(t, out.String(), "state=authenticated")
}

func TestStatusLine(t *testing.T) {
	t.Parallel()
	a, _, _ := testApp(t, testConfig+`source { mode = "manual" }`)
	a.exec("2")
	line := a.status(a.snapshot())
	assert.Equal(t, " 72.0km/h | autopilot active | tracks= 0 | battery=100% | clients= 0", line)
}

func TestQRAndQuit(t *testing.T) {
	t.Parallel()
	a, out, stops := testApp(t, testConfig)

	a.exec("qr")
	assert.Contains(t, out.String(), "tcp listener not found")
	out.Reset()

	require.NoError(t, a.server.Listen(context.Background(), a.config.ListenOptions()))
	a.exec("qr")
	assert.Contains(t, out.String(), "connect to 192.0.2.7:")
	assert.Contains(t, out.String(), "██")

	a.exec("nope")
	assert.Contains(t, out.String(), `unknown command "nope"`)
	assert.Equal(t, 0, *stops)
	a.exec("q")
	assert.Equal(t, 1, *stops)
}

func TestSnapshotTicks(t *testing.T) {
	t.Parallel()
	a, _, _ := testApp(t, testConfig)
	require.NoError(t, a.server.Listen(context.Background(), a.config.ListenOptions()))
	assert.Eventually(t, func() bool {
		_, ok := a.lastSnapshot()
		return ok && a.server.Stat().Ticks.Value() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}
