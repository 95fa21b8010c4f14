package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"TrendSentinel/internal/alert"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/config"
	"TrendSentinel/internal/logger"
	"TrendSentinel/internal/metrics"
	"TrendSentinel/internal/monitor"
	"TrendSentinel/internal/notifier"
	"TrendSentinel/internal/recorder"
	"TrendSentinel/internal/scheduler"
	"TrendSentinel/internal/store"
	"TrendSentinel/internal/symbols"
	"TrendSentinel/internal/watchlist"
)

func main() {
	cfgPath := config.DefaultPath
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		log.Fatal().Err(err).Msg("log setup")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("config", cfgPath).Msg("TrendSentinel starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	health := metrics.NewHealth()

	// Providers
	registry, err := collector.NewDefaultRegistry(cfg.RegistryConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("init providers")
	}
	log.Info().Strs("providers", registry.Names()).Msg("data providers ready")
	normalizer := collector.NewNormalizer(registry, cfg.NormalizerConfig())
	normalizer.SetObserver(m.ObserveFetch)

	// State
	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open state store")
	}
	defer st.Close()

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.HistoryEnabled() {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		} else {
			rec = sr
		}
	}
	defer rec.Close()

	// Symbol catalogue
	index := symbols.NewIndex(registry.Listers(), symbols.Config{
		Limit:       cfg.Index.Limit,
		ListTimeout: cfg.Index.ListTimeout,
	})
	index.SetSizeObserver(m.SetIndexSize)
	health.IndexState = func() string { return index.State().String() }

	// Notifiers
	var notifiers notifier.Multi
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Providers.Proxy)
		notifiers = append(notifiers, tn)
	}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, notifier.NewWebhookNotifier(cfg.Webhook.URL))
	}
	var sink notifier.Notifier = notifiers
	if len(notifiers) == 0 {
		log.Warn().Msg("no notification channel configured, alerts go to the log")
		sink = notifier.LogNotifier{}
	}

	mon := monitor.New(monitor.Deps{
		Watchlist: watchlist.New(st),
		Alerts:    alert.NewEngine(st, cfg.Fetch.HistoryLen),
		Fetcher:   normalizer,
		Registry:  registry,
		Index:     index,
		Notifier:  sink,
		Recorder:  rec,
		Metrics:   m,
		Health:    health,
	}, monitor.Config{
		Workers:      cfg.Fetch.Workers,
		MaxBars:      cfg.Fetch.MaxBars,
		HistoryLen:   cfg.Fetch.HistoryLen,
		CheckTimeout: cfg.Fetch.CheckTimeout,
	})

	if _, err := mon.Install(ctx, cfg.Watchlist); err != nil {
		log.Fatal().Err(err).Msg("install watchlist")
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m, health)
		srv.Start()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	go index.Run(ctx, cfg.Index.RefreshInterval)

	sched := scheduler.NewScheduler(ctx, mon)
	if err := sched.RegisterAll(cfg.Schedule.CheckCrons, cfg.Schedule.WeeklyCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil && cfg.Telegram.Commands {
		go tn.StartPolling(ctx, mon.HandleCommand)
		log.Info().Msg("telegram command polling started")
	}

	if !cfg.Schedule.SkipInitialCheck {
		go sched.RunCheckNow()
	}

	log.Info().Msg("TrendSentinel is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
	mon.Wait()
}
