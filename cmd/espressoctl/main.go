// Command espressoctl is a thin driver binary: load a config file, build a
// Machine, and run until interrupted. It loads no HLE scripts. Grounded on the teacher's cmd-style main wiring (flags in,
// managers built, StartAll, block on signal, StopAll).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	espresso "github.com/espresso-core/espresso"
	"github.com/espresso-core/espresso/coreconfig"
	"github.com/espresso-core/espresso/corelog"
)

func main() {
	configPath := flag.String("config", "", "path to an espressoctl config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := corelog.New(os.Stderr, *debug)

	memSize := uint32(64 << 20)
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			log.Error("failed to open config", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg, err := coreconfig.Parse(f)
		f.Close()
		if err != nil {
			log.Error("failed to parse config", "err", err)
			os.Exit(1)
		}
		memSize, err = cfg.Uint32("guest_memory_bytes", memSize)
		if err != nil {
			log.Error("bad config value", "err", err)
			os.Exit(1)
		}
	}

	machine, err := espresso.NewMachine(memSize, nil)
	if err != nil {
		log.Error("failed to build machine", "err", err)
		os.Exit(1)
	}
	defer machine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine.Start(ctx)
	log.Info("espresso machine running", "cores", espresso.NumCores, "guest_memory_bytes", memSize)

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := machine.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, "machine stopped with error:", err)
		os.Exit(1)
	}
}
