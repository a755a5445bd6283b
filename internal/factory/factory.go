package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"otp-dispatch-service/internal/client"
	"otp-dispatch-service/internal/config"
	"otp-dispatch-service/internal/handler"
	"otp-dispatch-service/internal/hashing"
	"otp-dispatch-service/internal/metrics"
	"otp-dispatch-service/internal/model"
	chrepo "otp-dispatch-service/internal/repository/clickhouse"
	redisrepo "otp-dispatch-service/internal/repository/redis"
	"otp-dispatch-service/internal/service"
	"otp-dispatch-service/internal/transport"
	"otp-dispatch-service/internal/util"
	"otp-dispatch-service/internal/worker"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Repositories
	rateWindows  *redisrepo.RateWindowCache
	queueCache   *redisrepo.QueueCache
	metricsCache *redisrepo.MetricsCache
	otpCache     *redisrepo.OTPCache
	dispatchLog  *chrepo.DispatchLog

	// Services and workers
	otpService    *service.OTPService
	statusService *service.StatusService
	pool          *worker.Pool
	depthMonitor  *worker.DepthMonitor

	// Observability
	promRegistry *prometheus.Registry
	ops          *metrics.Metrics

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	f.initializeRepositories()
	f.initializeObservability()
	f.initializeServices()
	if err := f.initializeWorkers(); err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Int("dispatch_workers", cfg.Dispatch.Workers),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	producer, err := client.NewKafkaProducer(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	f.kafkaProducer = producer

	if f.config.Clickhouse.Enabled {
		chClient, err := client.NewClickHouseClient(f.config, util.Get())
		if err != nil {
			// The audit log is best effort; dispatch must not depend on it.
			util.Warn("ClickHouse initialization failed - proceeding without audit log", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	return nil
}

func (f *Factory) initializeRepositories() {
	limits := make(map[model.Channel]int, len(f.config.Dispatch.Limits))
	for name, rps := range f.config.Dispatch.Limits {
		limits[model.Channel(name)] = rps
	}

	f.rateWindows = redisrepo.NewRateWindowCache(f.redisClient, limits)
	f.queueCache = redisrepo.NewQueueCache(f.redisClient)
	f.metricsCache = redisrepo.NewMetricsCache(f.redisClient)
	f.otpCache = redisrepo.NewOTPCache(f.redisClient)

	if f.clickhouseClient != nil {
		f.dispatchLog = chrepo.NewDispatchLog(f.clickhouseClient)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := f.dispatchLog.EnsureSchema(ctx); err != nil {
			util.Warn("failed to ensure audit schema - proceeding without audit log", util.ErrorField(err))
			f.dispatchLog = nil
		}
	}
}

func (f *Factory) initializeObservability() {
	f.promRegistry = prometheus.NewRegistry()
	f.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f.ops = metrics.New(f.promRegistry)
}

func (f *Factory) initializeServices() {
	limits := make(map[model.Channel]int, len(f.config.Dispatch.Limits))
	for name, rps := range f.config.Dispatch.Limits {
		limits[model.Channel(name)] = rps
	}

	jobQueue := worker.NewKafkaJobQueue(f.kafkaProducer)
	hasher := hashing.NewHasher(hashing.DefaultParams())

	f.statusService = service.NewStatusService(f.queueCache, f.metricsCache, limits, util.Get())
	f.otpService = service.NewOTPService(
		f.queueCache,
		f.otpCache,
		hasher,
		jobQueue,
		f.statusService,
		f.config.OTP,
		util.Get(),
	)
}

func (f *Factory) initializeWorkers() error {
	senders := map[model.Channel]transport.Sender{
		model.ChannelEmail:    transport.NewEmailSender(f.config.Email),
		model.ChannelWhatsApp: transport.NewWhatsAppSender(f.config.WhatsApp),
	}

	var audit worker.AuditSink
	if f.dispatchLog != nil {
		audit = f.dispatchLog
	}

	coordinator := worker.NewCoordinator(
		f.rateWindows,
		f.queueCache,
		f.metricsCache,
		senders,
		worker.NewKafkaJobQueue(f.kafkaProducer),
		audit,
		f.ops,
		f.config.Dispatch,
		util.Get(),
	)

	sources := make([]worker.JobSource, 0, f.config.Dispatch.Workers)
	for i := 0; i < f.config.Dispatch.Workers; i++ {
		consumer, err := client.NewKafkaConsumer(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("kafka consumer %d: %w", i, err)
		}
		sources = append(sources, worker.NewKafkaJobSource(consumer, util.Get()))
	}

	f.pool = worker.NewPool(coordinator, sources, util.Get())
	f.depthMonitor = worker.NewDepthMonitor(f.queueCache, f.ops, 5*time.Second, util.Get())
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Pool() *worker.Pool {
	return f.pool
}

func (f *Factory) DepthMonitor() *worker.DepthMonitor {
	return f.depthMonitor
}

// Router builds the HTTP router with all handlers wired.
func (f *Factory) Router() http.Handler {
	var failures handler.FailureLog
	if f.dispatchLog != nil {
		failures = f.dispatchLog
	}
	queueHandler := handler.NewQueueHandler(
		f.otpService,
		f.statusService,
		failures,
		f.config.AdminAPIKey,
		util.Get(),
	)
	return handler.NewRouter(queueHandler, f.promRegistry, util.Get())
}

// Close releases all clients. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Sync()
	})
}
