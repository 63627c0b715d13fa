package storefront

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/internal/retry"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/fjod/go_cart/storefront/internal/upload"
)

// FromConfig opens the store selected by cfg and builds the Storefront
// with the configured uploader and notifier.
func FromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Storefront, error) {
	log = logger.OrNop(log)
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     retry.Exponential(cfg.Retry.InitialDelay, cfg.Retry.MaxDelay, 2),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Debug("retrying backend call",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		},
	}

	deps := Deps{
		Store:     store,
		Namespace: cfg.Store.Namespace,
		Logger:    log,
		Backend: backend.Options{
			BaseURL:     cfg.Backend.BaseURL,
			Timeout:     cfg.RequestTimeout,
			RateLimit:   cfg.Backend.RateLimitRPS,
			RateBurst:   cfg.Backend.RateLimitBurst,
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
			ReadPolicy:  policy,
		},
		Checkout: checkout.Options{
			ShippingTTL:  cfg.ShippingTTL,
			NotifyPolicy: policy,
		},
	}
	if cfg.Upload.URL != "" {
		deps.Checkout.Uploader = upload.NewHTTPUploader(cfg.Upload.URL, cfg.Upload.Preset, cfg.RequestTimeout)
	}

	var kafkaNotifier *notify.KafkaNotifier
	if cfg.Notifier.Kind == "kafka" {
		kafkaNotifier = notify.NewKafkaNotifier(cfg.Notifier.KafkaTopic, cfg.Notifier.KafkaBrokers...)
		deps.Checkout.Notifier = kafkaNotifier
		deps.Closers = []io.Closer{kafkaNotifier}
	}

	sf, err := Open(ctx, deps)
	if err != nil {
		return nil, err
	}
	if kafkaNotifier == nil {
		// the HTTP notifier needs the client Open builds
		sf.Checkout.SetNotifier(notify.NewHTTPNotifier(sf.Backend))
	}
	return sf, nil
}

// OpenStore opens the local store for the configured driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return storage.NewRedisStore(client), nil
	case "sqlite", "":
		store, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
