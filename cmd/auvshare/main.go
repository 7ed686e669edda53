package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/auvshare/cmd/auvshare/control"
	"github.com/temoto/auvshare/cmd/auvshare/serve"
	"github.com/temoto/auvshare/cmd/auvshare/sub"
	"github.com/temoto/auvshare/cmd/auvshare/subcmd"
	"github.com/temoto/auvshare/log2"
	"github.com/temoto/auvshare/state"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	serve.Mod,
	sub.Mod,
	control.Mod,
}

func main() {
	flagset := flag.NewFlagSet("auvshare", flag.ExitOnError)
	flagConfig := flagset.String("config", "auvshare.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "usage: auvshare [-config path] [command] [args]\ncommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		flagset.PrintDefaults()
	}
	_ = flagset.Parse(os.Args[1:])

	command := "serve"
	args := flagset.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	ctx, _ := state.NewContext(log)
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	log.Debugf("config=%+v", config)

	if err := mod.Main(ctx, config, args); err != nil {
		log.Fatalf("%s: %s", mod.Name, errors.ErrorStack(err))
	}
}
