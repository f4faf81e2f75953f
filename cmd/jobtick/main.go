package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"jobtick/handlers/maintenance"
	"jobtick/handlers/shell"
	"jobtick/handlers/speedtest"
	"jobtick/internal/app"
	logx "jobtick/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	// Built-in job types. Embedders register their own before Start.
	log := a.Logger()
	must := func(err error) {
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
	}
	must(a.Registry().Register("shell", shell.New(shell.Options{Log: log})))
	must(a.Registry().Register("speedtest", speedtest.New(speedtest.Options{Log: log})))
	must(a.Registry().Register("maintenance", maintenance.New(maintenance.Options{Store: a.Store(), Log: log})))

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := startWatchdog(ctx, log)

	select {
	case <-ctx.Done():
	case <-a.Done():
		// Fatal internal error; shut down cleanly anyway.
		if err := a.Err(); err != nil {
			log.Error("exiting on internal error", logx.Err(err))
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopWatchdog()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	_ = a.Stop(stopCtx)
	stopCancel()
}

// startWatchdog sends WATCHDOG=1 keepalives when systemd asks for them.
// Returns a no-op stopper when no watchdog is configured.
func startWatchdog(ctx context.Context, log logx.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	return func() {
		cancel()
		<-done
	}
}
