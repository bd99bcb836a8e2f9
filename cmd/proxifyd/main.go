// Command proxifyd is the proxy-pool control daemon: it loads a pool of
// upstream HTTP/SOCKS proxies, keeps them warmed up in the background, and
// serves client requests over the TLV control protocol described in
// SPEC_FULL.md.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/gruf/go-logger/v2/log"

	"github.com/andreasbank/proxify/internal/config"
	"github.com/andreasbank/proxify/internal/daemon"
	"github.com/andreasbank/proxify/internal/pool"
	"github.com/andreasbank/proxify/internal/verbosity"
)

func usage(code int) {
	fmt.Printf("Usage: %s [-d|--debug <0..4>] [-c|--config <conn-string>]\n", os.Args[0])
	os.Exit(code)
}

func main() {
	var debugLvl uint64 = uint64(verbosity.Errors)
	var connStr string

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-d", "--debug":
			if i+1 >= len(args) {
				usage(1)
			}
			i++
			v, err := strconv.ParseUint(args[i], 10, 32)
			if err != nil {
				usage(1)
			}
			debugLvl = v
		case "-c", "--config":
			if i+1 >= len(args) {
				usage(1)
			}
			i++
			connStr = args[i]
		default:
			usage(1)
		}
	}

	lvl, err := verbosity.ToLogLevel(verbosity.Level(debugLvl))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	log.SetLevel(lvl)

	log.Infof("Configuration: '%s'", connStr)
	cfg, err := config.Parse(connStr)
	if err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	p, err := pool.New(cfg.Proxies)
	if err != nil {
		log.Fatalf("Failed to build proxy pool: %v", err)
	}
	log.Infof("Loaded %d proxies", p.Len())

	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < int(cfg.NrPrepareThreads); i++ {
		go pool.RunPreparer(ctx, p, i)
	}

	d := &daemon.Daemon{BindAddr: cfg.BindAddr, BindPort: cfg.BindPort, Pool: p}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.ListenAndServe(ctx)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signals:
		log.Infof("Signal %v received, shutting down...", sig)
		cancel()
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("Daemon exited: %v", err)
		}
		return
	}

	select {
	case <-serveErr:
		log.Infof("Shutdown complete")
	case <-time.After(30 * time.Second):
		log.Fatal("Daemon still running after 30s, forcibly exiting")
	}
}
