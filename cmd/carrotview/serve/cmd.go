package serve

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/carrotview/cmd/carrotview/subcmd"
	"github.com/temoto/carrotview/helpers/cli"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/state"
)

const modName = "serve"

var Mod = subcmd.Mod{Name: modName, Usage: "run telemetry server (default)", Main: Main}

func Main(ctx context.Context, log *log2.Log, config *state.Config, args []string) error {
	if len(args) != 0 {
		return errors.Errorf("%s: unexpected arguments %q", modName, args)
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }
	defer cli.NotifyStop(stop)()

	a, err := newApp(log, config, os.Stdout, stop)
	if err != nil {
		return errors.Annotate(err, "init")
	}
	if err = a.server.Listen(ctx, config.ListenOptions()); err != nil {
		_ = a.close()
		return errors.Annotate(err, "listen")
	}
	for _, addr := range a.server.Addrs() {
		log.Infof("listening %s", addr)
	}

	expvar.Publish("carrotview_server", a.server.Stat())
	if a.mirror != nil {
		expvar.Publish("carrotview_mqtt", a.mirror.Stat())
	}
	var debugServer *http.Server
	if config.Debug.Listen != "" {
		// expvar registers /debug/vars in default mux
		debugServer = &http.Server{Addr: config.Debug.Listen}
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("debug listen=%s err=%v", config.Debug.Listen, err)
			}
		}()
	}

	subcmd.SdNotify(log, daemon.SdNotifyReady)
	log.Infof("%s init complete, running", modName)

	if config.ConsoleQR() {
		if addr, err := a.advertise(); err == nil {
			a.printQR(addr)
		}
	}
	if config.ConsoleEnabled() {
		a.printf("%s", usage)
		go cli.MainLoop("carrotview", a.exec, cli.Completer(suggests))
	}

	select {
	case <-stopCh:
		log.Infof("stopping")
	case <-a.server.Done():
	}
	subcmd.SdNotify(log, daemon.SdNotifyStopping)
	if debugServer != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = debugServer.Shutdown(shutCtx)
		cancel()
	}
	if err = a.close(); err != nil {
		return errors.Annotate(err, "listener failed")
	}
	return nil
}
