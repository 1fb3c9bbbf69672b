// Support sub-commands in carrotview application.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/state"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(ctx context.Context, log *log2.Log, config *state.Config, args []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, errors.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, errors.NotFoundf("command='%s'", command)
	}
	return found, nil
}

func Usage(modules []Mod) string {
	ss := make([]string, len(modules))
	for i, m := range modules {
		ss[i] = fmt.Sprintf("  %-8s %s", m.Name, m.Usage)
	}
	return strings.Join(ss, "\n")
}

// SdNotify returns true when running under systemd.
func SdNotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Errorf("sdnotify: %s", errors.ErrorStack(err))
	}
	return ok
}
