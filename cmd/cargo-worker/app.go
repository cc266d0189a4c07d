package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/CargoFlow/config"
	"github.com/BearBump/CargoFlow/internal/broker/kafka"
	"github.com/BearBump/CargoFlow/internal/cache/rediscache"
	"github.com/BearBump/CargoFlow/internal/integrations/telegram"
	"github.com/BearBump/CargoFlow/internal/integrations/telegram/fake"
	"github.com/BearBump/CargoFlow/internal/integrations/telegram/gatewayhttp"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/notify"
	"github.com/BearBump/CargoFlow/internal/services/sweeper"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
)

type workerFactories struct {
	newStorage        func(cfg *config.Config) (*pgcargo.Storage, func(), error)
	newProducer       func(cfg *config.Config) notify.Publisher
	newConsumer       func(cfg *config.Config) *kafka.Consumer
	newRateLimiter    func(cfg *config.Config) notify.RateLimiter
	newTelegramClient func(cfg *config.Config) telegram.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (*pgcargo.Storage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgcargo.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) notify.Publisher {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newConsumer: func(cfg *config.Config) *kafka.Consumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			topic := cfg.Kafka.NotificationsTopicName
			if topic == "" {
				topic = notify.Topic
			}
			group := cfg.CargoFlow.KafkaConsumerGroup
			if group == "" {
				group = "cargo-worker"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) notify.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newTelegramClient: func(cfg *config.Config) telegram.Client {
			// Без настроенного шлюза уведомления уходят в лог через fake.
			if cfg.CargoFlow.TelegramGatewayBaseURL != "" {
				return gatewayhttp.New(cfg.CargoFlow.TelegramGatewayBaseURL, cfg.CargoFlow.TelegramGatewayAPIKey)
			}
			return fake.New()
		},
	}
}

// runConsumeLoop крутит Consume до отмены контекста. Сбой доставки одного
// уведомления не должен останавливать sweeper и outbox-диспетчер: незакомми-
// ченное сообщение будет перечитано после перезапуска цикла.
func runConsumeLoop(
	ctx context.Context,
	restartDelay time.Duration,
	consume func(context.Context, func(key, value []byte) error) error,
	handle func(ctx context.Context, key, value []byte) error,
) {
	for {
		err := consume(ctx, func(key, value []byte) error {
			return handle(ctx, key, value)
		})
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consume failed, restarting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func RunCargoWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	list, err := st.ListStatuses(ctx)
	if err != nil {
		return err
	}
	statuses := lifecycle.NewStatusSet(list)
	if err := statuses.Validate(); err != nil {
		return err
	}

	sweepInterval := time.Duration(cfg.CargoFlow.SweepIntervalSeconds) * time.Second
	sw := sweeper.New(st, statuses).WithSettings(sweepInterval)

	dispatcher := notify.NewDispatcher(st, f.newProducer(cfg), notify.DispatcherConfig{
		Interval:  time.Duration(cfg.CargoFlow.OutboxIntervalSeconds) * time.Second,
		BatchSize: cfg.CargoFlow.OutboxBatchSize,
		Lease:     time.Duration(cfg.CargoFlow.OutboxLeaseSeconds) * time.Second,
		Backoff:   time.Duration(cfg.CargoFlow.OutboxBackoffSeconds) * time.Second,
	})

	sender := notify.NewSender(f.newTelegramClient(cfg), f.newRateLimiter(cfg))
	if cfg.CargoFlow.NotifyRateLimitPerMinute > 0 {
		sender.WithLimit(int64(cfg.CargoFlow.NotifyRateLimitPerMinute), time.Minute)
	}
	consumer := f.newConsumer(cfg)
	defer func() { _ = consumer.Close() }()

	errCh := make(chan error, 4)
	go func() { errCh <- sw.Run(ctx) }()
	go func() { errCh <- dispatcher.Run(ctx) }()
	go func() {
		slog.Info("kafka consumer started", "topic", notify.Topic)
		runConsumeLoop(ctx, 5*time.Second, consumer.Consume, sender.Handle)
	}()
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:   cfg.CargoFlow.WorkerHTTPAddr,
			sweeper:    sw,
			dispatcher: dispatcher,
			cfg:        cfg,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
