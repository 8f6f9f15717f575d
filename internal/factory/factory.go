package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"shadowlog/internal/bucketing"
	"shadowlog/internal/client"
	"shadowlog/internal/config"
	"shadowlog/internal/encryption"
	"shadowlog/internal/handler"
	"shadowlog/internal/hashing"
	"shadowlog/internal/logwriter"
	redisrepo "shadowlog/internal/repository/redis"
	"shadowlog/internal/repository/scylla"
	"shadowlog/internal/service"
	"shadowlog/internal/tls"
	"shadowlog/internal/trap"
	"shadowlog/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	logWriter      *logwriter.Writer
	serviceFactory *service.ServiceFactory
	trapServer     *trap.Server

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and builds everything the process runs.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	return New(cfg)
}

// New builds the factory from an already loaded config.
func New(cfg *config.Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.TLS.Enabled {
		factory.tlsManager = tls.NewTLSManager(cfg.Dashboard.TLS)
	}

	if err := factory.initializeClients(); err != nil {
		factory.closeClients()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.closeClients()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	writer, err := logwriter.Open(cfg.AttackLog.Path, cfg.AttackLog.MaxBytes, cfg.AttackLog.Backups, util.L())
	if err != nil {
		factory.closeClients()
		return nil, fmt.Errorf("failed to open attack log: %w", err)
	}
	factory.logWriter = writer

	factory.initializeTrap()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("attack_log", cfg.AttackLog.Path),
		util.Strings("sinks", factory.sinkNames()),
		util.Bool("dashboard_tls", factory.tlsManager != nil),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients connects every enabled backend and runs its health
// check and schema setup. Failures are fatal only in production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error
	logger := util.L()

	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	if f.config.Scylla.Enabled {
		if c, err := scylla.NewScyllaClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			if err := c.EnsureSchema(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla schema: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and schema ready")
			}
		}
	}

	if f.config.Kafka.Enabled {
		if p, err := client.NewKafkaProducer(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = p
			if err := p.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("kafka health check: %w", err))
			} else {
				util.Info("Kafka producer initialized")
			}
		}
	}

	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else if err := c.EnsureIndex(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch index: %w", err))
			} else {
				util.Info("Elasticsearch client initialized and healthy", util.String("index", c.Index()))
			}
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else if err := c.EnsureSchema(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse schema: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	var keys encryption.KeyService
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		keys = kmsClient
	}

	em, err := encryption.NewEncryptionManager(f.config, keys)
	if err != nil {
		return err
	}
	f.encryptionManager = em

	util.Info("Managers initialized successfully",
		util.Int("event_buckets", f.bucketingManager.GetEventBuckets()),
		util.Bool("encrypt_forwarded_passwords", f.config.Forwarding.EncryptPasswords),
	)
	return nil
}

func (f *Factory) initializeTrap() {
	cfg := f.config
	logger := util.L()

	whitelist := trap.NewWhitelist(cfg.Trap.Whitelist)
	enricher := trap.NewEnricher(nil)
	h := trap.NewHandler(trap.HandlerConfig{
		Banner:       cfg.Trap.Banner,
		FailDelay:    cfg.Trap.FailDelay,
		ReadTimeout:  cfg.Trap.ReadTimeout,
		MaxLineBytes: cfg.Trap.MaxLineBytes,
	}, whitelist, enricher, f.ServiceFactory().CaptureService(), logger)

	f.trapServer = trap.NewServer(h, cfg.Trap.MaxConnections, logger)
}

// sinks lists the forwarding targets whose clients came up.
func (f *Factory) sinks() []service.Sink {
	var sinks []service.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, service.NewKafkaSink(f.kafkaProducer))
	}
	if f.redisClient != nil {
		sinks = append(sinks, service.NewRedisStatsSink(f.AttackStatsCache()))
	}
	if f.esClient != nil {
		sinks = append(sinks, service.NewElasticsearchSink(f.esClient))
	}
	if f.clickhouseClient != nil {
		sinks = append(sinks, service.NewClickHouseSink(f.clickhouseClient))
	}
	if f.scyllaClient != nil {
		sinks = append(sinks, service.NewScyllaSink(scylla.NewAttackEventRepository(f.scyllaClient, util.L())))
	}
	return sinks
}

func (f *Factory) sinkNames() []string {
	names := []string{}
	if f.serviceFactory != nil {
		if fw := f.serviceFactory.Forwarder(); fw != nil {
			names = fw.SinkNames()
		}
	}
	return names
}

// AttackStatsCache is nil unless Redis is enabled and reachable.
func (f *Factory) AttackStatsCache() *redisrepo.AttackStatsCache {
	if f.redisClient == nil {
		return nil
	}
	return redisrepo.NewAttackStatsCache(f.redisClient, util.L())
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		cfg := service.ServiceFactoryConfig{
			Writer:   f.logWriter,
			LogPath:  f.config.AttackLog.Path,
			TrapPort: f.config.Trap.Port,
			Sinks:    f.sinks(),
			Forwarder: service.ForwarderConfig{
				QueueSize:        f.config.Forwarding.QueueSize,
				Workers:          f.config.Forwarding.Workers,
				Timeout:          f.config.Forwarding.Timeout,
				EncryptPasswords: f.config.Forwarding.EncryptPasswords,
			},
		}
		if cache := f.AttackStatsCache(); cache != nil {
			cfg.Stats = cache
		}
		f.serviceFactory = service.NewServiceFactory(cfg, f.bucketingManager, f.encryptionManager, util.L())
	}
	return f.serviceFactory
}

// DashboardHandler wires the dashboard service to the HTTP layer.
func (f *Factory) DashboardHandler() *handler.DashboardHandler {
	return handler.NewDashboardHandler(f.ServiceFactory().DashboardService(), f, util.L())
}

// DashboardAuth is nil when no dashboard credentials are configured.
func (f *Factory) DashboardAuth() *handler.BasicAuth {
	if f.config.Dashboard.User == "" {
		return nil
	}
	return handler.NewBasicAuth(f.config.Dashboard.User, f.config.Dashboard.PasswordHash, f.hasher, util.L())
}

// ==============================
// Health Checks
// ==============================

// HealthCheck reports "ok" or the error text for the attack log and each
// enabled backend.
func (f *Factory) HealthCheck(ctx context.Context) map[string]string {
	status := make(map[string]string)
	report := func(name string, err error) {
		if err != nil {
			status[name] = err.Error()
			return
		}
		status[name] = "ok"
	}

	report("attack_log", f.checkAttackLog())

	if f.redisClient != nil {
		report("redis", f.redisClient.HealthCheck(ctx))
	}
	if f.scyllaClient != nil {
		report("scylla", f.scyllaClient.HealthCheck(ctx))
	}
	if f.esClient != nil {
		report("elasticsearch", f.esClient.HealthCheck(ctx))
	}
	if f.clickhouseClient != nil {
		report("clickhouse", f.clickhouseClient.HealthCheck(ctx))
	}
	if f.kafkaProducer != nil {
		report("kafka", f.kafkaProducer.HealthCheck(ctx))
	}

	return status
}

func (f *Factory) checkAttackLog() error {
	if f.logWriter == nil {
		return fmt.Errorf("attack log not open")
	}
	if _, err := os.Stat(f.logWriter.Path()); err != nil {
		return fmt.Errorf("attack log: %w", err)
	}
	return nil
}

// Close drains the forwarder, then closes clients, the attack log and the
// logger, in that order. It is safe to call more than once.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.serviceFactory != nil {
			ctx, cancel := context.WithTimeout(context.Background(), f.config.Forwarding.Timeout+5*time.Second)
			f.serviceFactory.Cleanup(ctx)
			cancel()
			util.Info("Service factory cleaned up")
		}

		f.closeClients()

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		if f.logWriter != nil {
			if err := f.logWriter.Close(); err != nil {
				util.Error("Failed to close attack log", util.ErrorField(err))
			} else {
				util.Info("Attack log closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) closeClients() {
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.Close(); err != nil {
			util.Error("Failed to close ClickHouse client", util.ErrorField(err))
		} else {
			util.Info("ClickHouse client closed")
		}
	}

	if f.esClient != nil {
		if err := f.esClient.Close(); err != nil {
			util.Error("Failed to close Elasticsearch client", util.ErrorField(err))
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.Close(); err != nil {
			util.Error("Failed to close Kafka producer", util.ErrorField(err))
		} else {
			util.Info("Kafka producer closed")
		}
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.Close(); err != nil {
			util.Error("Failed to close ScyllaDB client", util.ErrorField(err))
		} else {
			util.Info("ScyllaDB client closed")
		}
	}

	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			util.Error("Failed to close Redis client", util.ErrorField(err))
		} else {
			util.Info("Redis client closed")
		}
	}
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) TrapServer() *trap.Server {
	return f.trapServer
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}
