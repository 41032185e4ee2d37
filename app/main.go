package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/api"
	"github.com/lysyi3m/mp-comb/app/auth"
	"github.com/lysyi3m/mp-comb/app/browser"
	"github.com/lysyi3m/mp-comb/app/cfg"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/extractor"
	"github.com/lysyi3m/mp-comb/app/ingest"
	"github.com/lysyi3m/mp-comb/app/notify"
	"github.com/lysyi3m/mp-comb/app/proxy"
	"github.com/lysyi3m/mp-comb/app/settings"
	"github.com/lysyi3m/mp-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogging(appCfg.Debug)

	slog.Info("Starting MP Comb", "version", appCfg.Version, "timezone", appCfg.Timezone)

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	credentialRepo := database.NewCredentialRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	articleRepo := database.NewArticleRepository(db)
	settingsStore := settings.NewStore(database.NewSettingRepository(db))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appCfg.SettingsFile != "" {
		seeded, err := settingsStore.SeedFile(ctx, appCfg.SettingsFile)
		if err != nil {
			slog.Error("Failed to seed settings", "file", appCfg.SettingsFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Settings seeded", "file", appCfg.SettingsFile, "inserted", seeded)
	}

	chrome, err := browser.NewChrome(browser.ChromeOptions{
		ExecPath:  appCfg.BrowserPath,
		Headless:  appCfg.Headless,
		UserAgent: appCfg.UserAgent,
	})
	if err != nil {
		slog.Error("Failed to launch browser", "error", err)
		os.Exit(1)
	}
	pages := browser.NewPool(chrome, appCfg.BrowserPoolSize)
	defer pages.Close()
	slog.Info("Browser launched", "contexts", pages.Size(), "headless", appCfg.Headless)

	var notifier accounts.Notifier = notify.LogNotifier{}
	if appCfg.MailEnabled() {
		mailer := notify.NewMailer(notify.MailConfig{
			Host:     appCfg.SMTPHost,
			Port:     appCfg.SMTPPort,
			User:     appCfg.SMTPUser,
			Password: appCfg.SMTPPassword,
			From:     appCfg.SMTPFrom,
			To:       appCfg.SMTPTo,
		})
		defer mailer.Wait()
		notifier = mailer
		slog.Info("Credential alerts enabled", "to", appCfg.SMTPTo)
	}

	pool := accounts.NewPool(credentialRepo, notifier, accounts.Config{
		DailyQuota: appCfg.DailyQuota,
		Cooldown:   appCfg.BlockedCooldown,
	})

	logins := auth.NewManager(pages, credentialRepo, auth.Config{TTL: appCfg.LoginTTL})
	go logins.Run(ctx)

	engine := extractor.NewEngine(pages, extractor.Config{
		Timeout:        appCfg.ExtractTimeout,
		BacklogTimeout: appCfg.BacklogTimeout,
	})
	pipeline := ingest.NewPipeline(sourceRepo, articleRepo, engine, pool, settingsStore)

	scheduler := tasks.NewScheduler(pipeline, articleRepo, engine, settingsStore, tasks.Config{
		Interval: appCfg.SchedulerInterval,
		Workers:  pages.Size(),
	})
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(api.Services{
		Logins:    logins,
		Accounts:  pool,
		Sources:   pipeline,
		Articles:  articleRepo,
		Settings:  settingsStore,
		Scheduler: scheduler,
		Images: proxy.New(proxy.Config{
			UserAgent: appCfg.UserAgent,
			Timeout:   appCfg.ExtractTimeout,
		}),
	})

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		slog.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
