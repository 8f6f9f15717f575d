package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"shadowlog/internal/config"
	"shadowlog/internal/util"
)

const createAttackEventsTable = `
CREATE TABLE IF NOT EXISTS attack_events (
	event_id       UUID,
	event_time     DateTime,
	event_date     Date,
	source_address String,
	username       String,
	password       String,
	encrypted      UInt8,
	region         LowCardinality(String),
	threat_level   UInt8
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_date, source_address, event_time)`

const insertAttackEvent = `INSERT INTO attack_events
	(event_id, event_time, event_date, source_address, username, password, encrypted, region, threat_level)`

type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
	mu     sync.RWMutex
}

// NewClickHouseClient opens a native-protocol connection, with TLS in
// production or for secure URLs.
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse
	secure := cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") || strings.HasPrefix(chConfig.URL, "clickhouses://")

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL, secure)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if secure {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
		if caCertPath := util.GetEnv("CLICKHOUSE_CA_FILE", ""); caCertPath != "" {
			caCert, err := os.ReadFile(caCertPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			caCertPool := x509.NewCertPool()
			if !caCertPool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append CA cert")
			}
			tlsConfig.RootCAs = caCertPool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("url", chConfig.URL),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

// EnsureSchema creates the attack_events table if it does not exist.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.conn.Exec(ctx, createAttackEventsTable); err != nil {
		return fmt.Errorf("failed to create attack_events: %w", err)
	}
	return nil
}

// InsertAttackEvents sends rows as one batch. Each row must follow the
// column order of insertAttackEvent.
func (c *ClickHouseClient) InsertAttackEvents(ctx context.Context, rows [][]interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	batch, err := c.conn.PrepareBatch(ctx, insertAttackEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}

	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			util.Error("Failed to close ClickHouse connection", zap.Error(err))
			return err
		}
		util.Info("ClickHouse connection closed")
	}
	return nil
}

// extractHostPort strips any scheme and adds the native-protocol default port.
func extractHostPort(url string, secure bool) string {
	clean := url
	if i := strings.Index(clean, "://"); i >= 0 {
		clean = clean[i+3:]
	}
	clean = strings.TrimSuffix(clean, "/")
	if !strings.Contains(clean, ":") {
		if secure {
			return clean + ":9440"
		}
		return clean + ":9000"
	}
	return clean
}

func extractHostname(url string) string {
	return strings.Split(extractHostPort(url, false), ":")[0]
}
