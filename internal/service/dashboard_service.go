package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"shadowlog/internal/model"
	redisrepo "shadowlog/internal/repository/redis"

	"go.uber.org/zap"
)

const (
	DefaultRecentLimit = 15
	MaxRecentLimit     = 500
	topCount           = 10
	maxScanLine        = 1 << 20
)

// StatsSource is the live counter store, when one is configured.
type StatsSource interface {
	Snapshot(ctx context.Context, n int) (*redisrepo.AttackStats, error)
}

// Stats is the breakdown served to the dashboard. Source tells where the
// numbers came from: "redis" or "file".
type Stats struct {
	Total        int64             `json:"total"`
	Regions      map[string]int64  `json:"regions"`
	TopSources   []redisrepo.Count `json:"top_sources"`
	TopUsernames []redisrepo.Count `json:"top_usernames"`
	Source       string            `json:"source"`
}

// DashboardService reads the attack log for the read-only dashboard. It
// never writes to it.
type DashboardService struct {
	logPath  string
	trapPort int
	stats    StatsSource
	logger   *zap.Logger
}

func NewDashboardService(logPath string, trapPort int, stats StatsSource, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{logPath: logPath, trapPort: trapPort, stats: stats, logger: logger}
}

func (s *DashboardService) TrapPort() int {
	return s.trapPort
}

// Recent returns up to limit records from the active log, newest first,
// plus the number of lines in that file. A missing file is empty.
func (s *DashboardService) Recent(limit int) ([]*model.AttackRecord, int, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	ring := make([]string, 0, limit)
	next := 0
	total := 0
	err := s.scan(func(line string) {
		total++
		if len(ring) < limit {
			ring = append(ring, line)
			return
		}
		ring[next] = line
		next = (next + 1) % limit
	})
	if err != nil {
		return nil, 0, err
	}

	records := make([]*model.AttackRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		line := ring[(next+i)%len(ring)]
		rec, err := model.ParseLine(line)
		if err != nil {
			s.logger.Debug("Skipping malformed attack log line", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// Stats prefers the live counters and falls back to the active log file.
func (s *DashboardService) Stats(ctx context.Context) (*Stats, error) {
	if s.stats != nil {
		snap, err := s.stats.Snapshot(ctx, topCount)
		if err == nil {
			return &Stats{
				Total:        snap.Total,
				Regions:      snap.Regions,
				TopSources:   snap.TopSources,
				TopUsernames: snap.TopUsernames,
				Source:       "redis",
			}, nil
		}
		s.logger.Warn("Live stats unavailable, reading attack log", zap.Error(err))
	}
	return s.fileStats()
}

func (s *DashboardService) fileStats() (*Stats, error) {
	stats := &Stats{Regions: make(map[string]int64), Source: "file"}
	sources := make(map[string]int64)
	usernames := make(map[string]int64)

	err := s.scan(func(line string) {
		rec, err := model.ParseLine(line)
		if err != nil {
			return
		}
		stats.Total++
		stats.Regions[rec.Region]++
		sources[rec.SourceAddress]++
		usernames[rec.Username]++
	})
	if err != nil {
		return nil, err
	}

	stats.TopSources = topN(sources, topCount)
	stats.TopUsernames = topN(usernames, topCount)
	return stats, nil
}

func (s *DashboardService) scan(fn func(line string)) error {
	f, err := os.Open(s.logPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open attack log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			fn(line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read attack log: %w", err)
	}
	return nil
}

func topN(counts map[string]int64, n int) []redisrepo.Count {
	out := make([]redisrepo.Count, 0, len(counts))
	for k, v := range counts {
		out = append(out, redisrepo.Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
