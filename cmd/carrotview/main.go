package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/cmd/carrotview/serve"
	"github.com/temoto/carrotview/cmd/carrotview/subcmd"
	"github.com/temoto/carrotview/cmd/carrotview/watch"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/state"
)

var modules = []subcmd.Mod{
	serve.Mod,
	watch.Mod,
}

func main() {
	log := log2.NewStderr(log2.LInfo)
	log.SetFlags(log2.LInteractiveFlags)

	flagset := flag.NewFlagSet("carrotview", flag.ExitOnError)
	configPath := flagset.String("config", "", "config file, default "+state.DefaultConfigName+" if exists")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "usage: carrotview [-config path] [command] [args]\ncommands:\n%s\n", subcmd.Usage(modules))
		flagset.PrintDefaults()
	}
	_ = flagset.Parse(os.Args[1:])

	command := serve.Mod.Name
	args := flagset.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify(log, "start") {
		// under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	config, err := state.ReadConfigFile(log, *configPath)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if config.Debug.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	log.Debugf("config=%+v", config)

	if err := mod.Main(context.Background(), log, config, args); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
