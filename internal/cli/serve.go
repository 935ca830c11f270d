package cli

import (
	"github.com/spf13/cobra"

	"github.com/leadloft/leadloft/internal/alerts"
	"github.com/leadloft/leadloft/internal/api"
	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/health"
	"github.com/leadloft/leadloft/internal/intake"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/oauth"
	"github.com/leadloft/leadloft/internal/processor"
	"github.com/leadloft/leadloft/internal/store"
	"github.com/leadloft/leadloft/internal/telegram"
	"github.com/leadloft/leadloft/internal/token"
)

func newServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
}

func runServe(flags *GlobalFlags) error {
	cfg, loader, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, flags)

	// Reload the config file on change. Only the log level takes effect
	// without a restart; everything else is wired at startup.
	if loader != nil {
		loader.SetOnChange(func(updated *config.Config) {
			if !flags.Verbose {
				logger.SetLevel(logging.LogLevel(updated.Server.LogLevel))
			}
			logger.Info("configuration reloaded", "log_level", updated.Server.LogLevel)
		})
		if err := loader.StartWatcher(); err != nil {
			logger.Warn("config watcher unavailable", "error", err.Error())
		} else {
			defer loader.StopWatcher()
		}
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer sqlStore.Close()

	m := metrics.NewMetrics("leadloft")
	tokens := token.NewManager(sqlStore, cfg.Google, logger, m)
	flow := oauth.NewFlow(cfg.Google)

	sinks := []intake.Sink{intake.NewStoreSink(sqlStore, logger, m)}
	if cfg.Intake.WebhookURL != "" {
		// The webhook is a relay, not the source of truth. Its outages
		// must not block the cursor, so its failures are swallowed.
		webhook := intake.NewWebhookSink(cfg.Intake.WebhookURL, cfg.Intake.Timeout, logger, m)
		sinks = append(sinks, intake.NewBestEffort(webhook, logger))
	}
	sink := intake.NewFanout(sinks...)

	proc := processor.NewProcessor(sqlStore, tokens, sink, cfg.Google, logger, m)

	var notifier telegram.Notifier
	if cfg.Alerts.Enabled && cfg.Alerts.TelegramToken != "" {
		bot, err := telegram.NewBotNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			// Alerting is best-effort; the pipeline runs without it.
			logger.Error("telegram notifier unavailable", "error", err.Error())
		} else {
			notifier = bot
		}
	}
	alertSvc := alerts.NewService(cfg.Alerts, notifier, logger)

	ctx, cancel := api.SetupSignalHandler()
	defer cancel()

	if cfg.Health.Enabled {
		checker := health.NewChecker(sqlStore, tokens, alertSvc, cfg.Google, cfg.Health, logger, m)
		go checker.Run(ctx)
	}

	server := api.NewServer(cfg, sqlStore, tokens, flow, proc, logger, m)
	logger.Info("starting leadloft", "version", Version)
	return server.Run(ctx)
}
