package serve

import (
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/helpers/cli"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/sim"
	"github.com/temoto/carrotview/state"
	"github.com/temoto/carrotview/tele"
	telemqtt "github.com/temoto/carrotview/tele/mqtt"
	telenet "github.com/temoto/carrotview/tele/net"
)

// 5 seconds at 10 Hz
const statusEvery = 50

const usage = `commands:
  0        idle (enabled=false active=false)
  1        ready (enabled=true active=false)
  2        cruise (enabled=true active=true speed=20)
  status   last snapshot and counters
  clients  connected clients
  qr       connect address as QR code
  q        quit
`

var suggests = []prompt.Suggest{
	{Text: "0", Description: "idle"},
	{Text: "1", Description: "ready"},
	{Text: "2", Description: "cruise"},
	{Text: "status", Description: "last snapshot and counters"},
	{Text: "clients", Description: "connected clients"},
	{Text: "qr", Description: "connect address as QR code"},
	{Text: "q", Description: "quit"},
}

type app struct {
	config *state.Config
	last   atomic.Value // tele.Snapshot
	log    *log2.Log
	manual *sim.Manual // nil unless source.mode=manual
	mirror *telemqtt.Mirror
	out    io.Writer
	outMu  sync.Mutex
	server *telenet.Server
	source tele.SnapshotFunc
	stop   func()
	ticks  uint64
}

func newApp(log *log2.Log, config *state.Config, out io.Writer, stop func()) (*app, error) {
	a := &app{
		config: config,
		log:    log,
		out:    out,
		stop:   stop,
	}
	switch config.SourceMode() {
	case state.SourceManual:
		a.manual = sim.NewManual()
		a.source = a.manual.Snapshot
	default:
		a.source = sim.NewScenario(helpers.RandSeed(int64(config.Source.Seed))).Snapshot
	}

	opt := config.ServerOptions(log)
	opt.Source = a.snapshot
	if config.Mqtt.Enable {
		m, err := telemqtt.NewMirror(config.MqttOptions(log))
		if err != nil {
			return nil, errors.Annotate(err, "mqtt mirror")
		}
		a.mirror = m
		opt.Sinks = append(opt.Sinks, m)
	}
	a.server = telenet.NewServer(opt)
	return a, nil
}

func (a *app) close() error {
	err := a.server.Close()
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	return err
}

func (a *app) snapshot() tele.Snapshot {
	s := a.source()
	a.last.Store(s)
	if atomic.AddUint64(&a.ticks, 1)%statusEvery == 0 {
		a.log.Info(a.status(s))
	}
	return s
}

func (a *app) lastSnapshot() (tele.Snapshot, bool) {
	s, ok := a.last.Load().(tele.Snapshot)
	return s, ok
}

func (a *app) status(s tele.Snapshot) string {
	autopilot := "manual"
	if s.ControlsState.Enabled {
		autopilot = "autopilot"
	}
	active := "standby"
	if s.ControlsState.Active {
		active = "active"
	}
	line := fmt.Sprintf("%5.1fkm/h | %s %s | tracks=%2d | battery=%3d%% | clients=%2d",
		s.CarState.VEgo*3.6, autopilot, active, len(s.LiveTracks),
		s.DeviceState.BatteryPercent, a.server.Registry().Len())
	if s.ControlsState.AlertText != "" {
		line += " | alert: " + s.ControlsState.AlertText
	}
	return line
}

func (a *app) printf(format string, args ...interface{}) {
	a.outMu.Lock()
	fmt.Fprintf(a.out, format, args...)
	a.outMu.Unlock()
}

// exec runs one console command.
func (a *app) exec(line string) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
	case "0", "1", "2":
		if a.manual == nil {
			a.printf("mode commands need source.mode=%s\n", state.SourceManual)
			return
		}
		mode, err := sim.ParseMode(line)
		if err == nil {
			err = a.manual.SetMode(mode)
		}
		if err != nil {
			a.printf("error: %v\n", err)
			return
		}
		a.log.Infof("manual mode=%s", mode)
		a.printf("mode %s\n", mode)

	case "status":
		if s, ok := a.lastSnapshot(); ok {
			a.printf("%s\n", a.status(s))
		} else {
			a.printf("no snapshot yet\n")
		}
		a.printf("server %s\n", a.server.Stat().String())
		if a.mirror != nil {
			a.printf("mqtt %s\n", a.mirror.Stat().String())
		}

	case "clients":
		conns := a.server.Registry().Conns()
		sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectedAt().Before(conns[j].ConnectedAt()) })
		a.printf("clients=%d\n", len(conns))
		for _, c := range conns {
			a.printf("  %s since=%s stat=%s\n", c, time.Since(c.ConnectedAt()).Truncate(time.Second), c.Stat().String())
		}

	case "qr":
		addr, err := a.advertise()
		if err != nil {
			a.printf("error: %v\n", err)
			return
		}
		a.printQR(addr)

	case "q", "quit", "exit":
		a.stop()

	case "help", "?":
		a.printf("%s", usage)

	default:
		a.printf("unknown command %q\n%s", line, usage)
	}
}

func (a *app) printQR(addr string) {
	qr, err := cli.QRString(addr)
	if err != nil {
		a.printf("error: %v\n", err)
		return
	}
	a.printf("%s\nconnect to %s\n", qr, addr)
}

// advertise returns host:port for phone app, first tcp listener port.
func (a *app) advertise() (string, error) {
	var port string
	for _, u := range a.config.ListenURLs() {
		if !strings.HasPrefix(u, "tcp://") {
			continue
		}
		addr, ok := a.server.Addr(u)
		if !ok {
			continue
		}
		_, p, err := net.SplitHostPort(addr)
		if err != nil {
			return "", errors.Trace(err)
		}
		port = p
		break
	}
	if port == "" {
		return "", errors.NotFoundf("tcp listener")
	}
	host := a.config.Console.Advertise
	if host == "" {
		host = localIP()
	}
	return net.JoinHostPort(host, port), nil
}

// localIP finds address of default route interface, no packets are sent.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	return "127.0.0.1"
}
