// Package state reads carrotview HCL configuration.
package state

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/log2"
	telemqtt "github.com/temoto/carrotview/tele/mqtt"
	telenet "github.com/temoto/carrotview/tele/net"
)

const DefaultConfigName = "carrotview.hcl"

const (
	SourceScenario = "scenario"
	SourceManual   = "manual"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Server struct {
		Listen             []string `hcl:"listen"`
		PeriodMs           int      `hcl:"period_ms"`
		HandshakeTimeoutMs int      `hcl:"handshake_timeout_ms"`
		WriteTimeoutMs     int      `hcl:"write_timeout_ms"`
		AcceptPollMs       int      `hcl:"accept_poll_ms"`
		ReadLimit          int      `hcl:"read_limit"`
		TCPUserTimeoutMs   int      `hcl:"tcp_user_timeout_ms"`
	} `hcl:"server"`
	Auth struct {
		TokenPrefix          string `hcl:"token_prefix"`
		ServerVersion        string `hcl:"server_version"`
		CompressionSupported *bool  `hcl:"compression_supported"`
	} `hcl:"auth"`
	Source struct {
		Mode string `hcl:"mode"`
		Seed int    `hcl:"seed"`
	} `hcl:"source"`
	Mqtt struct {
		Enable   bool   `hcl:"enable"`
		Broker   string `hcl:"broker"`
		ClientID string `hcl:"client_id"`
		Topic    string `hcl:"topic"`
		QoS      int    `hcl:"qos"`
		Retain   bool   `hcl:"retain"`
	} `hcl:"mqtt"`
	Console struct {
		Enable    *bool  `hcl:"enable"`
		QR        *bool  `hcl:"qr"`
		Advertise string `hcl:"advertise"` // address shown to phone, default is first non-loopback IP
	} `hcl:"console"`
	Debug struct {
		LogDebug bool   `hcl:"log_debug"`
		Listen   string `hcl:"listen"` // expvar /debug/vars
	} `hcl:"debug"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func boolDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func (c *Config) ConsoleEnabled() bool       { return boolDefault(c.Console.Enable, true) }
func (c *Config) ConsoleQR() bool            { return boolDefault(c.Console.QR, true) }
func (c *Config) CompressionSupported() bool { return boolDefault(c.Auth.CompressionSupported, true) }
func (c *Config) SourceMode() string {
	if c.Source.Mode == "" {
		return SourceScenario
	}
	return c.Source.Mode
}

func (c *Config) ListenURLs() []string {
	if len(c.Server.Listen) == 0 {
		return []string{"tcp://0.0.0.0:8080"}
	}
	return c.Server.Listen
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	errs := make([]error, 0)
	for _, u := range c.ListenURLs() {
		if _, err := telenet.ParseListenURL(u); err != nil {
			errs = append(errs, errors.Annotate(err, "config server.listen"))
		}
	}
	durations := []struct {
		name string
		v    int
	}{
		{"server.period_ms", c.Server.PeriodMs},
		{"server.handshake_timeout_ms", c.Server.HandshakeTimeoutMs},
		{"server.write_timeout_ms", c.Server.WriteTimeoutMs},
		{"server.accept_poll_ms", c.Server.AcceptPollMs},
		{"server.read_limit", c.Server.ReadLimit},
		{"server.tcp_user_timeout_ms", c.Server.TCPUserTimeoutMs},
	}
	for _, d := range durations {
		if d.v < 0 {
			errs = append(errs, errors.NotValidf("config %s=%d", d.name, d.v))
		}
	}
	if c.Server.ReadLimit > telenet.MaxFrameLen {
		errs = append(errs, errors.NotValidf("config server.read_limit=%d max=%d", c.Server.ReadLimit, telenet.MaxFrameLen))
	}
	switch c.SourceMode() {
	case SourceScenario, SourceManual:
	default:
		errs = append(errs, errors.NotValidf("config source.mode=%s", c.Source.Mode))
	}
	if c.Mqtt.Enable && c.Mqtt.Broker == "" {
		errs = append(errs, errors.NotValidf("config mqtt.enable=true with empty broker"))
	}
	if c.Mqtt.QoS < 0 || c.Mqtt.QoS > 2 {
		errs = append(errs, errors.NotValidf("config mqtt.qos=%d", c.Mqtt.QoS))
	}
	return helpers.FoldErrors(errs)
}

// ServerOptions without Source, Sinks and callbacks which are runtime objects.
func (c *Config) ServerOptions(log *log2.Log) telenet.ServerOptions {
	return telenet.ServerOptions{
		Log:                  log,
		TokenPrefix:          c.Auth.TokenPrefix,
		ServerVersion:        c.Auth.ServerVersion,
		CompressionSupported: c.CompressionSupported(),
		Period:               helpers.IntMillisecondDefault(c.Server.PeriodMs, telenet.DefaultPeriod),
		HandshakeTimeout:     helpers.IntMillisecondDefault(c.Server.HandshakeTimeoutMs, telenet.DefaultHandshakeTimeout),
		WriteTimeout:         helpers.IntMillisecondDefault(c.Server.WriteTimeoutMs, telenet.DefaultWriteTimeout),
		AcceptPoll:           helpers.IntMillisecondDefault(c.Server.AcceptPollMs, telenet.DefaultAcceptPoll),
	}
}

func (c *Config) ListenOptions() []telenet.ListenOptions {
	urls := c.ListenURLs()
	los := make([]telenet.ListenOptions, len(urls))
	for i, u := range urls {
		los[i] = telenet.ListenOptions{
			URL:            u,
			ReadLimit:      uint32(c.Server.ReadLimit),
			TCPUserTimeout: helpers.IntMillisecondDefault(c.Server.TCPUserTimeoutMs, 3*time.Second),
		}
	}
	return los
}

func (c *Config) MqttOptions(log *log2.Log) telemqtt.Options {
	return telemqtt.Options{
		Broker:   c.Mqtt.Broker,
		ClientID: c.Mqtt.ClientID,
		Topic:    c.Mqtt.Topic,
		QoS:      byte(c.Mqtt.QoS),
		Retain:   c.Mqtt.Retain,
		Log:      log,
	}
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values override.
// Includes are resolved relative to directory of first name.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}
	sources := make([]ConfigSource, len(names))
	for i, name := range names {
		sources[i] = ConfigSource{Name: name}
	}
	return readConfig(log, fs, sources)
}

// ReadConfigFile reads path from disk. Empty path means optional DefaultConfigName.
func ReadConfigFile(log *log2.Log, path string) (*Config, error) {
	source := ConfigSource{Name: path}
	if path == "" {
		source = ConfigSource{Name: DefaultConfigName, Optional: true}
	}
	return readConfig(log, NewOsFullReader(), []ConfigSource{source})
}

func readConfig(log *log2.Log, fs FullReader, sources []ConfigSource) (*Config, error) {
	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(sources[0].Name)
		if err := osfs.SetBase(dir); err != nil {
			return nil, errors.Trace(err)
		}
		sources[0].Name = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, source := range sources {
		c.read(log, fs, source, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}
