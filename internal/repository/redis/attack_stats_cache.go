package redis

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"shadowlog/internal/client"
	"shadowlog/internal/models"
)

const (
	statsPrefix     = "shadowlog:"
	keyTotal        = statsPrefix + "attacks:total"
	keyRegions      = statsPrefix + "attacks:regions"
	keySources      = statsPrefix + "attacks:sources"
	keyUsernames    = statsPrefix + "attacks:usernames"
	defaultTopCount = 10
)

// Count is a member of a ranked breakdown.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// AttackStats is the live view kept in Redis.
type AttackStats struct {
	Total        int64            `json:"total"`
	Regions      map[string]int64 `json:"regions"`
	TopSources   []Count          `json:"top_sources"`
	TopUsernames []Count          `json:"top_usernames"`
}

// AttackStatsCache keeps running counters over every forwarded event.
type AttackStatsCache struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewAttackStatsCache(client *client.RedisClient, logger *zap.Logger) *AttackStatsCache {
	return &AttackStatsCache{client: client, logger: logger}
}

// Record updates every counter in one MULTI/EXEC. Passwords are never
// stored here.
func (c *AttackStatsCache) Record(ctx context.Context, ev *models.AttackEvent) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, keyTotal)
	pipe.HIncrBy(ctx, keyRegions, ev.Region, 1)
	pipe.ZIncrBy(ctx, keySources, 1, ev.SourceAddress)
	pipe.ZIncrBy(ctx, keyUsernames, 1, ev.Username)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record attack stats: %w", err)
	}
	c.logger.Debug("Attack stats updated", zap.String("event_id", ev.EventID))
	return nil
}

// Snapshot reads the counters with the top n sources and usernames.
func (c *AttackStatsCache) Snapshot(ctx context.Context, n int) (*AttackStats, error) {
	if n <= 0 {
		n = defaultTopCount
	}

	stats := &AttackStats{Regions: make(map[string]int64)}

	total, err := c.client.Get(ctx, keyTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to read total: %w", err)
	}
	if total != "" {
		if stats.Total, err = strconv.ParseInt(total, 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt total %q: %w", total, err)
		}
	}

	regions, err := c.client.HGetAll(ctx, keyRegions)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions: %w", err)
	}
	for region, v := range regions {
		count, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		stats.Regions[region] = count
	}

	if stats.TopSources, err = c.top(ctx, keySources, n); err != nil {
		return nil, err
	}
	if stats.TopUsernames, err = c.top(ctx, keyUsernames, n); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *AttackStatsCache) top(ctx context.Context, key string, n int) ([]Count, error) {
	zs, err := c.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	out := make([]Count, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Count{Key: member, Count: int64(z.Score)})
	}
	return out, nil
}
