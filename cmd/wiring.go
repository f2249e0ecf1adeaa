package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"homevoice/pkg/audio"
	"homevoice/pkg/bus"
	"homevoice/pkg/bus/amqp"
	"homevoice/pkg/cache"
	cacheredis "homevoice/pkg/cache/redis"
	cachesqlite "homevoice/pkg/cache/sqlite"
	"homevoice/pkg/channel"
	"homevoice/pkg/channel/telegram"
	"homevoice/pkg/config"
	"homevoice/pkg/dispatch"
	"homevoice/pkg/ingest"
	"homevoice/pkg/logger"
	"homevoice/pkg/outcome"
	"homevoice/pkg/payload"
	"homevoice/pkg/stt"
)

const (
	telegramChannelName = "telegram"
	sqlitePurgeInterval = time.Minute
)

// pipeline holds the shared infrastructure every mode starts from.
type pipeline struct {
	cfg      *config.Config
	log      *slog.Logger
	store    cache.Store
	broker   bus.Broker
	payloads *payload.Repository
}

// setup loads configuration and installs the process logger. Terminal UIs
// pass tui so records are discarded unless a log file is configured.
func setup(component string, tui bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var appLogger *slog.Logger
	if tui && !logsToFile(cfg.Logging) {
		appLogger = logger.Discard()
	} else {
		appLogger, err = logger.New(cfg.Logging)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	slog.SetDefault(appLogger)

	return cfg, slog.Default().With("component", component), nil
}

func logsToFile(cfg config.LoggingConfig) bool {
	return strings.TrimSpace(cfg.File) != "" || strings.TrimSpace(os.Getenv("HOMEVOICE_LOG_FILE")) != ""
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	store, err := openCache(ctx, cfg.Cache, log)
	if err != nil {
		return nil, err
	}

	broker, err := openBroker(cfg.Broker, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info("Pipeline infrastructure ready", "broker", cfg.Broker.Driver, "cache", cfg.Cache.Driver, "payload_ttl", cfg.Cache.PayloadTTL())

	return &pipeline{
		cfg:      cfg,
		log:      log,
		store:    store,
		broker:   broker,
		payloads: payload.NewRepository(store, cfg.Cache.PayloadTTL()),
	}, nil
}

func (p *pipeline) Close() error {
	return errors.Join(p.broker.Close(), p.store.Close())
}

// distributed reports whether the broker reaches other processes.
func (p *pipeline) distributed() bool {
	return p.cfg.Broker.Driver != config.BrokerMemory
}

func (p *pipeline) newIngest() *ingest.Service {
	return ingest.NewService(p.payloads, p.broker, p.cfg.Queues.Command, p.log,
		ingest.WithMaxAudioBytes(p.cfg.Gateway.MaxAudioBytes),
	)
}

func (p *pipeline) newWorker(transcriber stt.Transcriber) *dispatch.Worker {
	retry := dispatch.DefaultRetryConfig()
	if p.cfg.Worker.PublishAttempts > 0 {
		retry.MaxAttempts = p.cfg.Worker.PublishAttempts
	}

	return dispatch.NewWorker(
		p.payloads,
		audio.NewConverter(p.cfg.Audio, p.log),
		transcriber,
		outcome.NewRouter(p.broker, p.cfg.Queues, p.log),
		dispatch.Options{TranscribeTimeout: p.cfg.STT.Timeout(), Retry: retry},
		p.log,
	)
}

// newTracker watches the outcome queues. Passing an empty name skips a queue.
func (p *pipeline) newTracker(successQueue string, errorQueue string) *outcome.Tracker {
	return outcome.NewTracker(p.broker, successQueue, errorQueue, p.log)
}

// observe logs delivery events when the broker is in-process.
func (p *pipeline) observe(ctx context.Context) {
	if mb, ok := p.broker.(*bus.MemoryBroker); ok {
		go bus.LogEvents(ctx, mb, p.log)
	}
}

func openCache(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (cache.Store, error) {
	switch cfg.Driver {
	case config.CacheMemory, "":
		return cache.NewMemoryStore(), nil
	case config.CacheRedis:
		store, err := cacheredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		return store, nil
	case config.CacheSQLite:
		store, err := cachesqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		go purgeExpired(ctx, store, sqlitePurgeInterval, log)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

func openBroker(cfg config.BrokerConfig, log *slog.Logger) (bus.Broker, error) {
	switch cfg.Driver {
	case config.BrokerMemory, "":
		return bus.NewMemoryBroker(cfg.MaxDeliveries, log), nil
	case config.BrokerAMQP:
		broker, err := amqp.Dial(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		return broker, nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Driver)
	}
}

type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// purgeExpired removes expired rows until ctx ends. Reads already ignore
// expired rows; this only bounds the file size.
func purgeExpired(ctx context.Context, store purger, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.Purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("Cache purge failed", "error", err)
				}
				continue
			}
			if purged > 0 {
				log.Debug("Cache purged", "rows", purged)
			}
		}
	}
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	if len(adapters) == 0 {
		return "none"
	}

	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

// quiet reports whether err is the normal end of a run.
func quiet(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
