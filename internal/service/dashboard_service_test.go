package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	redisrepo "shadowlog/internal/repository/redis"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attacks.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecentNewestFirst(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("2024-06-01 10:00:%02d|IP:203.0.113.%d|USER:u%d|PASS:p|LOC:CN (China)|LVL:20", i, i, i))
	}
	svc := NewDashboardService(writeLog(t, lines...), 2222, nil, nil)

	recs, total, err := svc.Recent(15)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if total != 20 || len(recs) != 15 {
		t.Fatalf("total=%d len=%d, want 20/15", total, len(recs))
	}
	if recs[0].Username != "u19" || recs[14].Username != "u5" {
		t.Errorf("order = %s .. %s, want u19 .. u5", recs[0].Username, recs[14].Username)
	}
}

func TestRecentDefaultsAndLegacyLines(t *testing.T) {
	path := writeLog(t,
		"2024-06-01 10:00:00|IP:198.51.100.1|USER:admin|PASS:admin",
		"garbage",
		"2024-06-01 10:00:01|IP:198.51.100.2|USER:root|PASS:1234|LOC:US (USA)|LVL:90",
	)
	svc := NewDashboardService(path, 2222, nil, nil)

	recs, total, err := svc.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(recs) != 2 {
		t.Fatalf("total=%d len=%d", total, len(recs))
	}
	if recs[1].Region != "UNKNOWN" || recs[1].ThreatLevel != 50 {
		t.Errorf("legacy defaults = %q/%d", recs[1].Region, recs[1].ThreatLevel)
	}
}

func TestRecentMissingFile(t *testing.T) {
	svc := NewDashboardService(filepath.Join(t.TempDir(), "none.log"), 2222, nil, nil)
	recs, total, err := svc.Recent(10)
	if err != nil || total != 0 || len(recs) != 0 {
		t.Errorf("Recent on missing file = %v, %d, %v", recs, total, err)
	}
}

func TestFileStats(t *testing.T) {
	path := writeLog(t,
		"2024-06-01 10:00:00|IP:1.1.1.1|USER:root|PASS:a|LOC:RU (Russia)|LVL:10",
		"2024-06-01 10:00:01|IP:1.1.1.1|USER:root|PASS:b|LOC:RU (Russia)|LVL:10",
		"2024-06-01 10:00:02|IP:2.2.2.2|USER:admin|PASS:c|LOC:US (USA)|LVL:10",
	)
	st, err := NewDashboardService(path, 2222, nil, nil).Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Source != "file" || st.Total != 3 || st.Regions["RU (Russia)"] != 2 {
		t.Errorf("Stats() = %+v", st)
	}
	if len(st.TopSources) != 2 || st.TopSources[0].Key != "1.1.1.1" || st.TopSources[0].Count != 2 {
		t.Errorf("TopSources = %+v", st.TopSources)
	}
	if st.TopUsernames[0].Key != "root" {
		t.Errorf("TopUsernames = %+v", st.TopUsernames)
	}
}

type fakeStats struct {
	snap *redisrepo.AttackStats
	err  error
}

func (f fakeStats) Snapshot(ctx context.Context, n int) (*redisrepo.AttackStats, error) {
	return f.snap, f.err
}

func TestStatsPrefersLiveCounters(t *testing.T) {
	path := writeLog(t, "2024-06-01 10:00:00|IP:1.1.1.1|USER:root|PASS:a|LOC:RU (Russia)|LVL:10")

	live := fakeStats{snap: &redisrepo.AttackStats{Total: 99, Regions: map[string]int64{"CN (China)": 99}}}
	st, err := NewDashboardService(path, 2222, live, nil).Stats(context.Background())
	if err != nil || st.Source != "redis" || st.Total != 99 {
		t.Errorf("Stats() = %+v, %v", st, err)
	}

	down := fakeStats{err: errors.New("connection refused")}
	st, err = NewDashboardService(path, 2222, down, nil).Stats(context.Background())
	if err != nil || st.Source != "file" || st.Total != 1 {
		t.Errorf("fallback Stats() = %+v, %v", st, err)
	}
}
