package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/cmd/carrotview/subcmd"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/helpers/cli"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/state"
	"github.com/temoto/carrotview/tele"
	telenet "github.com/temoto/carrotview/tele/net"
)

const modName = "watch"

const summaryEvery = 50

var Mod = subcmd.Mod{Name: modName, Usage: "URL  connect and print snapshot summary", Main: Main}

func Main(ctx context.Context, log *log2.Log, config *state.Config, args []string) error {
	if len(args) != 1 {
		return errors.Errorf("%s: expected URL argument, like tcp://127.0.0.1:8080", modName)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer cli.NotifyStop(cancel)()

	w := &watcher{
		backoff: helpers.Backoff{Min: time.Second, Max: 30 * time.Second, K: 2},
		log:     log,
		opt: telenet.ClientOptions{
			Log:         log,
			TokenPrefix: config.Auth.TokenPrefix,
		},
		out: os.Stdout,
		url: args[0],
	}
	w.run(ctx)
	return nil
}

type watcher struct {
	backoff helpers.Backoff
	count   uint64
	log     *log2.Log
	opt     telenet.ClientOptions
	out     io.Writer
	url     string
}

// run reconnects until ctx is done. Not authorized is final.
func (w *watcher) run(ctx context.Context) {
	for ctx.Err() == nil {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Cause(err) == tele.ErrNotAuthorized {
			w.log.Errorf("%s url=%s err=%v", modName, w.url, err)
			return
		}
		delay := w.backoff.DelayAfter(false)
		w.log.Errorf("%s url=%s err=%v reconnect in %v", modName, w.url, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (w *watcher) session(ctx context.Context) error {
	c, err := telenet.Dial(ctx, w.url, w.opt)
	if err != nil {
		return errors.Trace(err)
	}
	defer c.Close()
	info := c.Info()
	w.log.Infof("connected %s server_version=%s compression_supported=%t",
		c, info.ServerVersion, info.CompressionSupported)
	w.backoff.Reset()

	for {
		s, err := c.Receive(ctx)
		if err != nil {
			return errors.Annotate(err, "receive")
		}
		w.count++
		if w.count%summaryEvery == 0 {
			fmt.Fprintln(w.out, Summary(&s))
		}
	}
}

// Summary is one human readable line about snapshot.
func Summary(s *tele.Snapshot) string {
	autopilot := "off"
	switch {
	case s.ControlsState.Active:
		autopilot = "active"
	case s.ControlsState.Enabled:
		autopilot = "standby"
	}
	line := fmt.Sprintf("%5.1fkm/h cruise=%.0fkm/h gear=%s steer=%+.1f autopilot=%s tracks=%d",
		s.CarState.VEgo*3.6, s.CarState.VCruise*3.6, s.CarState.GearShifter,
		s.CarState.SteeringAngleDeg, autopilot, len(s.LiveTracks))
	if t, ok := s.Closest(); ok {
		line += fmt.Sprintf(" closest=%.1fm", t.DRel)
	}
	line += fmt.Sprintf(" battery=%d%%", s.DeviceState.BatteryPercent)
	if s.ControlsState.AlertText != "" {
		line += fmt.Sprintf(" alert=%q", s.ControlsState.AlertText)
	}
	return line
}
