package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"shadowlog/internal/client"
	"shadowlog/internal/models"
	redisrepo "shadowlog/internal/repository/redis"
	"shadowlog/internal/repository/scylla"

	"github.com/google/uuid"
)

// KafkaSink publishes JSON events keyed by source address.
type KafkaSink struct {
	producer *client.KafkaProducer
}

func NewKafkaSink(producer *client.KafkaProducer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, ev *models.AttackEvent) error {
	value, headers, err := kafkaMessage(ev)
	if err != nil {
		return err
	}
	return s.producer.ProduceMessage(ctx, []byte(ev.SourceAddress), value, headers)
}

func kafkaMessage(ev *models.AttackEvent) ([]byte, map[string]string, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event: %w", err)
	}
	return value, map[string]string{
		"event_id":     ev.EventID,
		"region":       ev.Region,
		"threat_level": strconv.Itoa(ev.ThreatLevel),
	}, nil
}

// RedisStatsSink feeds the live counters the dashboard reads.
type RedisStatsSink struct {
	cache *redisrepo.AttackStatsCache
}

func NewRedisStatsSink(cache *redisrepo.AttackStatsCache) *RedisStatsSink {
	return &RedisStatsSink{cache: cache}
}

func (s *RedisStatsSink) Name() string { return "redis" }

func (s *RedisStatsSink) Publish(ctx context.Context, ev *models.AttackEvent) error {
	return s.cache.Record(ctx, ev)
}

// ElasticsearchSink indexes each event under its id, so retries overwrite.
type ElasticsearchSink struct {
	es *client.ESClient
}

func NewElasticsearchSink(es *client.ESClient) *ElasticsearchSink {
	return &ElasticsearchSink{es: es}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Publish(ctx context.Context, ev *models.AttackEvent) error {
	return s.es.IndexDocument(ctx, ev.EventID, ev)
}

type ClickHouseSink struct {
	ch *client.ClickHouseClient
}

func NewClickHouseSink(ch *client.ClickHouseClient) *ClickHouseSink {
	return &ClickHouseSink{ch: ch}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Publish(ctx context.Context, ev *models.AttackEvent) error {
	row, err := clickHouseRow(ev)
	if err != nil {
		return err
	}
	return s.ch.InsertAttackEvents(ctx, [][]interface{}{row})
}

// clickHouseRow follows the column order of the attack_events insert:
// event_id, event_time, event_date, source_address, username, password,
// encrypted, region, threat_level.
func clickHouseRow(ev *models.AttackEvent) ([]interface{}, error) {
	id, err := uuid.Parse(ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("event id %q: %w", ev.EventID, err)
	}
	var encrypted uint8
	if ev.PasswordEncrypted {
		encrypted = 1
	}
	return []interface{}{
		id,
		ev.EventTime,
		ev.EventTime,
		ev.SourceAddress,
		ev.Username,
		ev.Password,
		encrypted,
		ev.Region,
		uint8(min(max(ev.ThreatLevel, 0), 255)),
	}, nil
}

type ScyllaSink struct {
	repo *scylla.AttackEventRepository
}

func NewScyllaSink(repo *scylla.AttackEventRepository) *ScyllaSink {
	return &ScyllaSink{repo: repo}
}

func (s *ScyllaSink) Name() string { return "scylla" }

func (s *ScyllaSink) Publish(ctx context.Context, ev *models.AttackEvent) error {
	return s.repo.Insert(ctx, ev)
}
