package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/api"
	"github.com/septivank/water-meter-relay/internal/auth"
	"github.com/septivank/water-meter-relay/internal/config"
	"github.com/septivank/water-meter-relay/internal/db"
	"github.com/septivank/water-meter-relay/internal/hub"
	"github.com/septivank/water-meter-relay/internal/mq"
	"github.com/septivank/water-meter-relay/internal/relay"
	"github.com/septivank/water-meter-relay/internal/repository"
	"github.com/septivank/water-meter-relay/internal/service"
)

// ProvideBackend opens the telemetry store selected by STORE_DRIVER
func ProvideBackend(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		// the pool's own lifecycle hook pings, creates the schema and closes it
		pool, err := db.NewPool(lc, logger, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(pool), nil

	case config.DriverSQLite:
		store, err := repository.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.Store.SQLitePath))
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// ProvideStore exposes the ingestion side of the backend
func ProvideStore(backend repository.Backend) repository.Store {
	return backend
}

// ProvideCatalog exposes the read side of the backend
func ProvideCatalog(backend repository.Backend) repository.Catalog {
	return backend
}

// ProvideMQConnection connects to RabbitMQ, or returns nil when no broker is configured
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("RABBITMQ_URL not set, reading events and queue ingress disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideEventPublisher returns the AMQP publisher, or a no-op one without a broker
func ProvideEventPublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (service.EventPublisher, error) {
	if conn == nil {
		return service.NopPublisher{}, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingKey, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideRegistry creates the connection registry
func ProvideRegistry(logger *zap.Logger) *hub.Registry {
	return hub.NewRegistry(logger)
}

// ProvideResolver creates the token resolver
func ProvideResolver(cfg *config.Config, logger *zap.Logger) *auth.Resolver {
	resolver := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.QueryParam)
	if !resolver.Enabled() {
		logger.Warn("JWT_SECRET not set, every relay connection is anonymous and /api is closed")
	}
	return resolver
}

// ProvideIngestor creates the ingestor
func ProvideIngestor(store repository.Store, publisher service.EventPublisher, logger *zap.Logger) *service.Ingestor {
	return service.NewIngestor(store, publisher, logger)
}

// ProvideBroadcaster creates the broadcaster on top of the registry
func ProvideBroadcaster(registry *hub.Registry, logger *zap.Logger) *service.Broadcaster {
	return service.NewBroadcaster(registry, logger)
}

// ProvidePipeline creates the telemetry pipeline
func ProvidePipeline(ingestor *service.Ingestor, broadcaster *service.Broadcaster, logger *zap.Logger) *service.Pipeline {
	return service.NewPipeline(ingestor, broadcaster, logger)
}

// ProvideRelayHandler creates the websocket handler
func ProvideRelayHandler(cfg *config.Config, resolver *auth.Resolver, registry *hub.Registry, pipeline *service.Pipeline, logger *zap.Logger) *relay.Handler {
	return relay.NewHandler(cfg.Relay, resolver, registry, pipeline, logger)
}

// ProvideDeviceHandler creates the device status handler
func ProvideDeviceHandler(catalog repository.Catalog, cfg *config.Config, logger *zap.Logger) *api.DeviceHandler {
	return api.NewDeviceHandler(catalog, cfg.Meter, logger)
}

// ProvideRouter creates the HTTP router
func ProvideRouter(relayHandler *relay.Handler, devices *api.DeviceHandler, resolver *auth.Resolver, logger *zap.Logger) http.Handler {
	return api.NewRouter(relayHandler, devices, resolver, logger)
}

func startIngress(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	pipeline *service.Pipeline,
) error {
	if conn == nil || !cfg.RabbitMQ.IngressEnabled() {
		return nil
	}

	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.IngestQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler: func(ctx context.Context, body []byte) error {
			// no originating connection: nothing to acknowledge, failures go to the DLQ
			return pipeline.HandleMessage(ctx, body, nil)
		},
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting telemetry ingress consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("telemetry ingress stopped")
			return nil
		},
	})

	return nil
}
