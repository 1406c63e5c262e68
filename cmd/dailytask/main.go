package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dailytask/internal/app"
)

func main() {
	var (
		cfgPath string
		runTask string
		debug   bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&runTask, "run", "", "run one task (billing|attendance) and exit")
	flag.BoolVar(&debug, "debug", false, "debug logging plus one immediate attendance check-in, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if debug {
		a.ForceDebugLogging()
		if runTask == "" {
			runTask = app.TaskAttendance
		}
	}

	if runTask != "" {
		code := runOnce(ctx, a, runTask)
		a.Stop(context.Background())
		os.Exit(code)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		a.Stop(context.Background())
		os.Exit(1)
	}

	<-ctx.Done()
	a.Stop(context.Background())
}

func runOnce(ctx context.Context, a *app.App, taskType string) int {
	switch taskType {
	case app.TaskBilling:
		a.Runner().DailyBills(ctx)
	case app.TaskAttendance:
		a.Runner().CheckIn(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown task %q (want billing or attendance)\n", taskType)
		return 2
	}
	return 0
}
