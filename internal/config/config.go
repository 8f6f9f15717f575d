package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"shadowlog/internal/util"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DefaultBanner = "Ubuntu 18.04.6 LTS (GNU/Linux 5.4.0-generic)"
)

type Config struct {
	Environment   string
	Logging       LoggingConfig
	Trap          TrapConfig
	AttackLog     AttackLogConfig
	Dashboard     DashboardConfig
	Forwarding    ForwardingConfig
	Kafka         KafkaConfig
	Redis         RedisConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Scylla        ScyllaConfig
	Bucketing     BucketingConfig
	KMS           KMSConfig
	Hashing       HashingConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

// TrapConfig drives the listener and the per-connection fake login.
type TrapConfig struct {
	BindIP         string
	Port           int
	Whitelist      []string
	Banner         string
	FailDelay      time.Duration
	ReadTimeout    time.Duration // 0 disables the read deadline
	MaxConnections int           // 0 means unbounded
	MaxLineBytes   int
}

type AttackLogConfig struct {
	Path     string
	MaxBytes int64
	Backups  int
}

type DashboardConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	PasswordHash string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLS          TLSConfig
}

type TLSConfig struct {
	Enabled  bool
	AutoCert bool
	Domain   string
	CertFile string
	KeyFile  string
	CertDir  string
	Email    string
}

type ForwardingConfig struct {
	QueueSize        int
	Workers          int
	Timeout          time.Duration
	EncryptPasswords bool
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type ScyllaConfig struct {
	Enabled  bool
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type BucketingConfig struct {
	EventBuckets int
}

type KMSConfig struct {
	Enabled        bool
	KeyID          string
	Region         string
	LocalMasterKey string // base64, used when KMS is disabled
	DataKeyTTL     time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

var loaded *Config

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", EnvDevelopment),
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "console"),
		},
		Trap: TrapConfig{
			BindIP:         util.GetEnv("TRAP_BIND_IP", "0.0.0.0"),
			Port:           util.GetEnvInt("TRAP_PORT", 2222),
			Whitelist:      util.GetEnvList("TRAP_WHITELIST", []string{"127.0.0.1", "192.168.0.113"}),
			Banner:         util.GetEnv("TRAP_BANNER", DefaultBanner),
			FailDelay:      util.GetEnvDuration("TRAP_FAIL_DELAY", time.Second),
			ReadTimeout:    util.GetEnvDuration("TRAP_READ_TIMEOUT", 0),
			MaxConnections: util.GetEnvInt("TRAP_MAX_CONNECTIONS", 0),
			MaxLineBytes:   util.GetEnvInt("TRAP_MAX_LINE_BYTES", 1024),
		},
		AttackLog: AttackLogConfig{
			Path:     util.GetEnv("ATTACK_LOG_PATH", "honeypot_attacks.log"),
			MaxBytes: util.GetEnvInt64("ATTACK_LOG_MAX_BYTES", 1_000_000),
			Backups:  util.GetEnvInt("ATTACK_LOG_BACKUPS", 3),
		},
		Dashboard: DashboardConfig{
			Enabled:      util.GetEnvBool("DASHBOARD_ENABLED", true),
			Host:         util.GetEnv("DASHBOARD_HOST", "0.0.0.0"),
			Port:         util.GetEnvInt("DASHBOARD_PORT", 5000),
			User:         util.GetEnv("DASHBOARD_USER", ""),
			PasswordHash: util.GetEnv("DASHBOARD_PASSWORD_HASH", ""),
			ReadTimeout:  util.GetEnvDuration("DASHBOARD_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: util.GetEnvDuration("DASHBOARD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("DASHBOARD_IDLE_TIMEOUT", 60*time.Second),
			TLS: TLSConfig{
				Enabled:  util.GetEnvBool("DASHBOARD_TLS_ENABLED", false),
				AutoCert: util.GetEnvBool("DASHBOARD_TLS_AUTOCERT", false),
				Domain:   util.GetEnv("DASHBOARD_TLS_DOMAIN", "localhost"),
				CertFile: util.GetEnv("DASHBOARD_TLS_CERT_FILE", ""),
				KeyFile:  util.GetEnv("DASHBOARD_TLS_KEY_FILE", ""),
				CertDir:  util.GetEnv("DASHBOARD_TLS_CERT_DIR", "./certs"),
				Email:    util.GetEnv("DASHBOARD_TLS_EMAIL", ""),
			},
		},
		Forwarding: ForwardingConfig{
			QueueSize:        util.GetEnvInt("FORWARD_QUEUE_SIZE", 1024),
			Workers:          util.GetEnvInt("FORWARD_WORKERS", 4),
			Timeout:          util.GetEnvDuration("FORWARD_TIMEOUT", 5*time.Second),
			EncryptPasswords: util.GetEnvBool("ENCRYPT_FORWARDED_PASSWORDS", false),
		},
		Kafka: KafkaConfig{
			Enabled: util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers: util.GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   util.GetEnv("KAFKA_TOPIC", "honeypot.attacks"),
		},
		Redis: RedisConfig{
			Enabled:  util.GetEnvBool("REDIS_ENABLED", false),
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 20),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_INDEX", "honeypot-attacks"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "default"),
		},
		Scylla: ScyllaConfig{
			Enabled:  util.GetEnvBool("SCYLLA_ENABLED", false),
			Nodes:    util.GetEnvList("SCYLLA_NODES", []string{"localhost"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "honeypot"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Bucketing: BucketingConfig{
			EventBuckets: util.GetEnvInt("EVENT_BUCKETS", 64),
		},
		KMS: KMSConfig{
			Enabled:        util.GetEnvBool("KMS_ENABLED", false),
			KeyID:          util.GetEnv("KMS_KEY_ID", ""),
			Region:         util.GetEnv("KMS_REGION", "us-east-1"),
			LocalMasterKey: util.GetEnv("KMS_LOCAL_MASTER_KEY", ""),
			DataKeyTTL:     util.GetEnvDuration("KMS_DATA_KEY_TTL", 24*time.Hour),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  util.GetEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    util.GetEnvInt("ARGON2_ITERATIONS", 3),
			Argon2Parallelism: util.GetEnvInt("ARGON2_PARALLELISM", 2),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the last loaded config, loading it on first use.
func Get() *Config {
	if loaded == nil {
		return LoadConfig()
	}
	return loaded
}

// Validate rejects values the trap cannot run with.
func (c *Config) Validate() error {
	if c.Trap.Port <= 0 || c.Trap.Port > 65535 {
		return fmt.Errorf("TRAP_PORT out of range: %d", c.Trap.Port)
	}
	if c.Trap.MaxLineBytes < 16 {
		return fmt.Errorf("TRAP_MAX_LINE_BYTES too small: %d", c.Trap.MaxLineBytes)
	}
	if c.Trap.MaxConnections < 0 {
		return fmt.Errorf("TRAP_MAX_CONNECTIONS must not be negative")
	}
	if c.AttackLog.Path == "" {
		return fmt.Errorf("ATTACK_LOG_PATH is required")
	}
	if c.AttackLog.MaxBytes < 0 || c.AttackLog.Backups < 0 {
		return fmt.Errorf("attack log rotation values must not be negative")
	}
	if c.Dashboard.Enabled && (c.Dashboard.User == "") != (c.Dashboard.PasswordHash == "") {
		return fmt.Errorf("DASHBOARD_USER and DASHBOARD_PASSWORD_HASH must be set together")
	}
	if c.Bucketing.EventBuckets <= 0 {
		return fmt.Errorf("EVENT_BUCKETS must be positive")
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return fmt.Errorf("KMS_KEY_ID is required when KMS is enabled")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// TrapAddress is the host:port the trap binds.
func (c *Config) TrapAddress() string {
	return net.JoinHostPort(c.Trap.BindIP, strconv.Itoa(c.Trap.Port))
}

// GetServerAddress is the host:port of the dashboard.
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Dashboard.Host, strconv.Itoa(c.Dashboard.Port))
}
