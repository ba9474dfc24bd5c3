package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"untisched/internal/app"
	"untisched/internal/config"
	appLog "untisched/internal/log"
	"untisched/internal/notify"
	"untisched/internal/store"
	"untisched/internal/untis"
	"untisched/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("untisched starting", "version", "0.1.0-dev")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone, falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"server_url", conf.School.ServerURL,
		"school", conf.School.LoginName,
		"horizon_days", conf.HorizonDays,
		"refresh", conf.RefreshCron,
		"once", flags.once,
	)

	db, err := store.Open(conf.StorePath)
	if err != nil {
		appLog.Error("failed to open store", err, "path", conf.StorePath)
		os.Exit(1)
	}
	defer db.Close()

	sessions := untis.NewSessionStore(db)
	client := untis.NewClient(untis.Config{
		ServerURL: conf.School.ServerURL,
		School:    conf.School.LoginName,
		SearchURL: conf.SearchURL,
	}, sessions)

	reminders := notify.NewReminders(notify.NewTimerNotifier(nil), loc)
	application := app.New(conf, db, client, reminders, loc)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		runOnce(ctx, application)
		return
	}

	// Periodic refresh, honoring the user's auto-refresh setting at
	// each tick rather than at startup.
	sched := cron.New()
	_, err = sched.AddFunc(conf.RefreshCron, func() {
		prefs := db.ReadPreferences()
		if !prefs.Settings.AutoRefresh {
			appLog.Debug("auto refresh disabled, skipping tick")
			return
		}
		refreshCtx, done := context.WithTimeout(ctx, 2*time.Minute)
		defer done()
		if _, err := application.Refresh(refreshCtx, time.Now().In(loc)); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	server := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, application).Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("untisched exiting")
}

// runOnce performs a single fetch+organize cycle and prints nothing;
// useful for cron-driven setups and smoke tests.
func runOnce(ctx context.Context, application *app.App) {
	view, err := application.Refresh(ctx, time.Now().In(application.Location()))
	if err != nil {
		appLog.Error("refresh failed", err)
		os.Exit(1)
	}
	total := 0
	for _, d := range view.Days {
		total += len(d.Entries)
	}
	appLog.Info("refresh complete", "days", len(view.Days), "entries", total, "stale", view.Stale)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/untisched/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+organize cycle and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
