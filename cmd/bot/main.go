package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_gatekeeper_bot/internal/announce"
	"tg_gatekeeper_bot/internal/approval"
	"tg_gatekeeper_bot/internal/calendar"
	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/health"
	"tg_gatekeeper_bot/internal/logging"
	"tg_gatekeeper_bot/internal/telegram"
)

const (
	alertTimeout            = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	schedulerStopTimeout    = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":        "startup",
		"main_chat_id": cfg.MainChatID,
		"calendar_url": cfg.CalendarURL,
	}).Info("configuration loaded")

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	fetcher := calendar.NewFetcher(cfg, logger)
	ledger := approval.NewLedger(cfg, tgClient, logger)
	router := telegram.NewRouter(cfg, tgClient, ledger, fetcher, logger)
	tgClient.Attach(router)

	scheduler := announce.NewScheduler(fetcher, tgClient, logger)
	healthServer := health.NewServer(cfg.HTTPPort, fetcher, logger)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	alert := func(text string) {
		alertCtx, cancelAlert := context.WithTimeout(context.Background(), alertTimeout)
		defer cancelAlert()

		if err := tgClient.Alert(alertCtx, text); err != nil {
			logger.WithError(err).Warn("failed to send admin alert")
		}
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	healthErr := make(chan error, 1)
	go func() {
		healthErr <- healthServer.ListenAndServe()
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)

		if err := scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("announcement scheduler error")
		}
	}()

	tgDone := make(chan struct{})
	go func() {
		tgClient.Start(runCtx)
		close(tgDone)
	}()

	alert("🟢 gatekeeper started")

	exitCode := 0
	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-healthErr:
		if err != nil {
			logger.WithError(err).Error("health server error")
			alert("🆘 gatekeeper failed to start")
			exitCode = 1
		} else {
			logger.WithField("event", "health_stopped_early").Warn("health server stopped before shutdown signal")
		}
	}

	cancelRun()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	schedulerCtx, cancelScheduler := context.WithTimeout(context.Background(), schedulerStopTimeout)
	select {
	case <-schedulerDone:
	case <-schedulerCtx.Done():
		logger.WithField("event", "scheduler_shutdown_timeout").Warn("timed out waiting for scheduler to stop")
	}
	cancelScheduler()

	if exitCode == 0 {
		alert("🆘 gatekeeper stopped")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
