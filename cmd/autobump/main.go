package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"autobump/internal/app"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "./config.yaml", "path to config file (yaml or json)")
	headless := pflag.Bool("headless", false, "run without the operator console")
	pflag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := app.Options{ConfigPath: *cfgPath}
	if !*headless {
		opts.In, opts.Out = os.Stdin, os.Stdout
	}
	a, err := app.New(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	// SIGINT asks the scheduler to change mode; SIGTERM stops the process.
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sigs:
				if s == syscall.SIGTERM {
					cancel()
					return
				}
				a.Interrupt()
			}
		}
	}()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
