package state

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/carrotview/log2"
	telenet "github.com/temoto/carrotview/tele/net"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, []string{"tcp://0.0.0.0:8080"}, c.ListenURLs())
			assert.Equal(t, SourceScenario, c.SourceMode())
			assert.True(t, c.ConsoleEnabled())
			assert.True(t, c.ConsoleQR())
			assert.True(t, c.CompressionSupported())
			assert.False(t, c.Mqtt.Enable)

			so := c.ServerOptions(nil)
			assert.Equal(t, telenet.DefaultPeriod, so.Period)
			assert.Equal(t, telenet.DefaultHandshakeTimeout, so.HandshakeTimeout)
			assert.Equal(t, telenet.DefaultWriteTimeout, so.WriteTimeout)
			assert.Equal(t, time.Second, so.AcceptPoll)
			assert.True(t, so.CompressionSupported)
			los := c.ListenOptions()
			require.Len(t, los, 1)
			assert.Equal(t, 3*time.Second, los[0].TCPUserTimeout)
		}, ""},

		{"server", `
server {
	listen = ["tcp://127.0.0.1:9000", "ws://0.0.0.0:9001/telemetry"]
	period_ms = 50
	handshake_timeout_ms = 2000
	read_limit = 4096
}
auth {
	token_prefix = "fleet"
	compression_supported = false
}`,
			func(t testing.TB, c *Config) {
				so := c.ServerOptions(nil)
				assert.Equal(t, 50*time.Millisecond, so.Period)
				assert.Equal(t, 2*time.Second, so.HandshakeTimeout)
				assert.Equal(t, "fleet", so.TokenPrefix)
				assert.False(t, so.CompressionSupported)
				los := c.ListenOptions()
				require.Len(t, los, 2)
				assert.Equal(t, "ws://0.0.0.0:9001/telemetry", los[1].URL)
				assert.Equal(t, uint32(4096), los[1].ReadLimit)
			},
			"",
		},

		{"manual-mqtt", `
source { mode = "manual" }
mqtt {
	enable = true
	broker = "tcp://10.0.0.1:1883"
	topic = "car/1"
	qos = 1
}
console {
	qr = false
	advertise = "192.168.1.5"
}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, SourceManual, c.SourceMode())
				assert.False(t, c.ConsoleQR())
				assert.True(t, c.ConsoleEnabled())
				assert.Equal(t, "192.168.1.5", c.Console.Advertise)
				mo := c.MqttOptions(nil)
				assert.Equal(t, "tcp://10.0.0.1:1883", mo.Broker)
				assert.Equal(t, "car/1", mo.Topic)
				assert.Equal(t, byte(1), mo.QoS)
			},
			"",
		},

		{"syntax", `server {`, nil, "config unmarshal source=test"},
		{"bad-scheme", `server { listen = ["udp://0.0.0.0:1"] }`, nil, "listen url=udp://0.0.0.0:1 scheme not supported"},
		{"no-port", `server { listen = ["tcp://localhost"] }`, nil, "missing port"},
		{"bad-mode", `source { mode = "replay" }`, nil, "source.mode=replay not valid"},
		{"negative", `server { write_timeout_ms = -1 }`, nil, "server.write_timeout_ms=-1 not valid"},
		{"mqtt-no-broker", `mqtt { enable = true }`, nil, "empty broker"},
		{"huge-read-limit", `server { read_limit = 20000000 }`, nil, "read_limit=20000000 max=10485760"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{"test": c.input})
			config, err := ReadConfig(log, fs, "test")
			if c.expectErr == "" {
				require.NoError(t, err)
				if c.check != nil {
					c.check(t, config)
				}
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			}
		})
	}
}

func TestReadConfigInclude(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{
		"main": `
include "local" { optional = true }
include "extra" {}
debug { log_debug = true }`,
		"extra": `server { period_ms = 200 }`,
	})
	c, err := ReadConfig(log, fs, "main")
	require.NoError(t, err)
	assert.True(t, c.Debug.LogDebug)
	assert.Equal(t, 200, c.Server.PeriodMs)

	fs = NewMockFullReader(map[string]string{
		"a": `include "b" {}`,
		"b": `include "a" {}`,
	})
	_, err = ReadConfig(log, fs, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include loop")

	_, err = ReadConfig(log, NewMockFullReader(nil), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(errors.Cause(err)))
}

func TestReadConfigFile(t *testing.T) {
	t.Parallel()
	dir, err := ioutil.TempDir("", "carrotview-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "main.hcl")
	require.NoError(t, ioutil.WriteFile(path, []byte("include \"sub.hcl\" {}\nsource { seed = 7 }\n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "sub.hcl"), []byte(`server { listen = ["tcp://127.0.0.1:0"] }`), 0644))

	log := log2.NewTest(t, log2.LDebug)
	c, err := ReadConfigFile(log, path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Source.Seed)
	assert.Equal(t, []string{"tcp://127.0.0.1:0"}, c.ListenURLs())

	_, err = ReadConfigFile(log, filepath.Join(dir, "nope.hcl"))
	assert.Error(t, err)
}
