package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"shadowlog/internal/config"
	"shadowlog/internal/util"
)

// Statements used by the repositories. Queries are built per call from
// these strings; gocql caches the prepared form per session.
const (
	stmtCreateAttackEvents = `
        CREATE TABLE IF NOT EXISTS attack_events (
            event_bucket int,
            event_date text,
            event_time timestamp,
            event_id uuid,
            ip_address inet,
            source_address text,
            username text,
            password text,
            password_encrypted boolean,
            encrypted_password blob,
            password_dek blob,
            password_key_id text,
            region text,
            threat_level int,
            PRIMARY KEY ((event_bucket, event_date), event_time, event_id)
        ) WITH CLUSTERING ORDER BY (event_time DESC, event_id ASC)`

	stmtInsertAttackEvent = `
        INSERT INTO attack_events (
            event_bucket, event_date, event_time, event_id, ip_address, source_address,
            username, password, password_encrypted, encrypted_password, password_dek,
            password_key_id, region, threat_level
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	if cfg.IsDevelopment() {
		if err := ensureKeyspace(cfg); err != nil {
			return nil, err
		}
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = scyllaConfig.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}, nil
}

func newCluster(cfg *config.Config) *gocql.ClusterConfig {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}
	return cluster
}

// ensureKeyspace creates a single-replica keyspace for local development.
func ensureKeyspace(cfg *config.Config) error {
	cluster := newCluster(cfg)
	cluster.Consistency = gocql.One

	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create scylla bootstrap session: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %q
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, cfg.Scylla.Keyspace)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Scylla.Keyspace, err)
	}
	return nil
}

// EnsureSchema creates the tables the repositories write to.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	if err := s.Session.Query(stmtCreateAttackEvents).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create attack_events: %w", err)
	}
	return nil
}

func (s *ScyllaClient) Close() error {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
	return nil
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry runs query up to maxRetries+1 times with a linear pause.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = query.Exec(); lastErr == nil {
			return nil
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
