package di

import (
	"context"
	"fmt"
	"time"

	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/internal/domain/service"
	"FinPilot/internal/handler/api"
	"FinPilot/internal/repository"
	"FinPilot/internal/service/ratelimit"
	"FinPilot/internal/services/health"
	"FinPilot/internal/services/model"
	"FinPilot/internal/services/notify"
	"FinPilot/internal/usecase"
	"FinPilot/pkg/cache"
	pkgch "FinPilot/pkg/clickhouse"
	"FinPilot/pkg/config"
	xhttp "FinPilot/pkg/http"
	pkgkafka "FinPilot/pkg/kafka"
	"FinPilot/pkg/logger"
	"FinPilot/pkg/metrics"
	"FinPilot/pkg/server"
	pkgsqlite "FinPilot/pkg/sqlite"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideStore opens the run store on the configured driver.
func ProvideStore(cfg *config.Config, log *logger.Logger) (*repository.SQLStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var (
		store *repository.SQLStore
		err   error
	)
	switch cfg.Store.Driver {
	case "clickhouse":
		client, cerr := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if cerr != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", cerr)
		}
		store, err = repository.NewClickHouseStore(ctx, client, cfg.ClickHouse.Database)
		if err != nil {
			_ = client.Close()
		}
	default:
		client, cerr := pkgsqlite.NewClient(pkgsqlite.WithPath(cfg.Store.SQLitePath))
		if cerr != nil {
			return nil, nil, fmt.Errorf("sqlite client: %w", cerr)
		}
		store, err = repository.NewSQLiteStore(ctx, client)
		if err != nil {
			_ = client.Close()
		}
	}
	if err != nil {
		return nil, nil, err
	}
	log.Info("store ready", logger.String("driver", cfg.Store.Driver))

	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn("store close error", logger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideCache returns Redis when enabled, an in-process cache otherwise.
func ProvideCache(cfg *config.Config, log *logger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache()
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	log.Info("redis cache connected", logger.String("host", cfg.Redis.Host), logger.Int("port", cfg.Redis.Port))
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Warn("redis close error", logger.Error(err))
		}
	}, nil
}

// ProvideKafkaProducer creates the shared producer and, when log collection is
// on, ships aggregated error logs through it. It returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	log.Info("kafka producer ready", logger.Strings("brokers", cfg.Kafka.Brokers))

	if cfg.Log.Collect {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.Log.FlushEvery,
			Topic:        cfg.Kafka.LogTopic,
			Publisher:    repository.NewKafkaPublisher(producer, cfg.Kafka.LogTopic),
		})
	}
	return producer, func() {
		log.RemoveCollector()
		if err := producer.Close(); err != nil {
			log.Warn("kafka producer close error", logger.Error(err))
		}
	}, nil
}

// ProvideNotificationTransport picks the outbound channel for pushes.
func ProvideNotificationTransport(cfg *config.Config, producer *pkgkafka.Producer, log *logger.Logger) (service.NotificationTransport, error) {
	switch cfg.Notify.Transport {
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("notify transport kafka: producer not configured")
		}
		return notify.NewKafkaTransport(repository.NewKafkaPublisher(producer, cfg.Kafka.NotifyTopic), log), nil
	case "webhook":
		return notify.NewWebhookTransport(xhttp.NewClient(xhttp.WithTimeout(10*time.Second)), cfg.Notify.WebhookURL, log), nil
	default:
		return notify.NewLogTransport(log), nil
	}
}

// ProvideDispatcher creates the notification dispatcher.
func ProvideDispatcher(transport service.NotificationTransport, m domrepo.Metrics, log *logger.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(transport, m, log)
}

// ProvideHealthProbe registers every configured data source.
func ProvideHealthProbe(cfg *config.Config, m domrepo.Metrics, log *logger.Logger) *health.Probe {
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Health.Timeout))
	sources := make([]health.Source, 0, len(cfg.Health.Sources))
	for _, sc := range cfg.Health.Sources {
		sources = append(sources, health.Source{
			Name:    sc.Name,
			Checker: health.NewHTTPChecker(client, sc.URL, sc.DegradedOver),
		})
	}
	return health.NewProbe(sources, m, log)
}

// ProvideModelRunner builds the configured runner, backed by the artifact
// file when a fallback path is set.
func ProvideModelRunner(cfg *config.Config, log *logger.Logger) service.ModelRunner {
	var primary service.ModelRunner
	switch cfg.Model.Mode {
	case "command":
		primary = model.NewCommandRunner(cfg.Model.Command, cfg.Model.Args, cfg.Model.Timeout)
	case "file":
		return model.NewFileRunner(cfg.Model.FallbackPath)
	default:
		primary = model.NewHTTPRunner(cfg.Model.ServiceURL, cfg.Model.RunPath, cfg.Model.Timeout)
	}
	if cfg.Model.FallbackPath == "" {
		return primary
	}
	return model.NewFallbackRunner(primary, model.NewFileRunner(cfg.Model.FallbackPath), log)
}

// ProvideModelInvoker creates the model-run use case.
func ProvideModelInvoker(runner service.ModelRunner, store *repository.SQLStore, m domrepo.Metrics, log *logger.Logger) *usecase.ModelRunUseCase {
	return usecase.NewModelRunUseCase(runner, store, m, log)
}

// ProvidePipelineSteps builds the step list.
func ProvidePipelineSteps(
	cfg *config.Config,
	probe *health.Probe,
	invoker *usecase.ModelRunUseCase,
	store *repository.SQLStore,
	dispatcher *notify.Dispatcher,
	log *logger.Logger,
) *usecase.PipelineSteps {
	return usecase.NewPipelineSteps(usecase.StepConfig{
		MaxSourcesDown: cfg.Pipeline.MaxSourcesDown,
		BacktestMaxAge: cfg.Pipeline.BacktestMaxAge,
	}, probe, invoker, store, dispatcher, log)
}

// ProvideOrchestrator creates the pipeline orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	steps *usecase.PipelineSteps,
	store *repository.SQLStore,
	invoker *usecase.ModelRunUseCase,
	dispatcher *notify.Dispatcher,
	c cache.Service,
	m domrepo.Metrics,
	log *logger.Logger,
) *usecase.Orchestrator {
	retry := usecase.NewRetryController(usecase.RetryPolicy{
		MaxRetries: cfg.Pipeline.MaxRetries,
		BaseDelay:  cfg.Pipeline.BaseDelay,
		MaxDelay:   cfg.Pipeline.MaxDelay,
		Jitter:     cfg.Pipeline.Jitter,
	})
	return usecase.NewOrchestrator(steps, store, invoker, dispatcher,
		usecase.WithRetryController(retry),
		usecase.WithStatusCache(c),
		usecase.WithOrchestratorMetrics(m),
		usecase.WithOrchestratorLogger(log),
	)
}

// ProvideScheduler creates the daily scheduler and rearms it after every run.
func ProvideScheduler(cfg *config.Config, orch *usecase.Orchestrator, c cache.Service, log *logger.Logger) *usecase.Scheduler {
	hour, minute := cfg.ScheduleClock()
	s := usecase.NewScheduler(orch, hour, minute, c, log)
	orch.OnFinish(func(usecase.ExecuteResult) { s.Rearm() })
	return s
}

// ProvideTriggerConsumer creates the Kafka consumer for manual triggers. It
// returns nil when Kafka is disabled.
func ProvideTriggerConsumer(cfg *config.Config, orch *usecase.Orchestrator, m domrepo.Metrics, log *logger.Logger) (*server.TriggerConsumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.TriggerTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	handler := usecase.NewKafkaTriggerHandler(cfg.Kafka.TriggerTopic, orch, m, log)
	return &server.TriggerConsumer{Consumer: consumer, Handler: handler}, nil
}

// ProvidePipelineHandler creates the operator HTTP handler.
func ProvidePipelineHandler(cfg *config.Config, orch *usecase.Orchestrator, store *repository.SQLStore, probe *health.Probe, log *logger.Logger) *api.PipelineHandler {
	var opts []api.HandlerOption
	if cfg.Server.TriggerBurst > 0 {
		opts = append(opts, api.WithTriggerLimiter(ratelimit.New(cfg.Server.TriggerBurst, cfg.Server.TriggerEvery)))
	}
	return api.NewPipelineHandler(log, orch, store, probe, opts...)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, handler *api.PipelineHandler, log *logger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(log),
	)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	store *repository.SQLStore,
	orch *usecase.Orchestrator,
	scheduler *usecase.Scheduler,
	consumer *server.TriggerConsumer,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, log, store, orch, scheduler, consumer, httpServer)
}
