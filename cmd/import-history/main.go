package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	service "github.com/okian/meterbridge/internal/app"
	"github.com/okian/meterbridge/internal/backfill"
	"github.com/okian/meterbridge/internal/config"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		from    = flag.String("from", "", "First day to import (YYYY-MM-DD)")
		to      = flag.String("to", "", "Last day to import (YYYY-MM-DD, default today)")
		logFile = flag.String("log", "", "Also write log output to this file")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		backfill.ShowHelp(os.Stdout)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}

	first, last, err := backfill.ParseRange(*from, *to, model.DayOf(time.Now(), cfg.Location()))
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		backfill.ShowHelp(os.Stderr)
		return 1
	}

	closeLog, err := backfill.SetupLogging(*logFile, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = closeLog() }()
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	svc, cleanup, err := service.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return 1
	}
	defer func() { _ = cleanup() }()

	if _, err := backfill.Run(ctx, backfill.Config{From: first, To: last}, svc, log); err != nil {
		log.Error(ctx, "history import failed", logger.Error(err))
		return 1
	}
	return 0
}
