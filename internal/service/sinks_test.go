package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shadowlog/internal/client"
	"shadowlog/internal/config"
	"shadowlog/internal/models"
	redisrepo "shadowlog/internal/repository/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func sampleEvent() *models.AttackEvent {
	return &models.AttackEvent{
		EventBucket:   7,
		EventDate:     "2026-03-01",
		EventTime:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventID:       uuid.NewString(),
		SourceAddress: "203.0.113.9",
		Username:      "root",
		Password:      "toor",
		Region:        "RU (Russia)",
		ThreatLevel:   91,
	}
}

func encryptedEvent() *models.AttackEvent {
	ev := sampleEvent()
	ev.Password = ""
	ev.PasswordEncrypted = true
	ev.EncryptedPassword = []byte{1, 2, 3}
	ev.PasswordDEK = []byte{4, 5, 6}
	ev.PasswordKeyID = "local:abc"
	return ev
}

func TestClickHouseRow(t *testing.T) {
	tests := []struct {
		name          string
		ev            *models.AttackEvent
		wantPassword  string
		wantEncrypted uint8
	}{
		{"plaintext", sampleEvent(), "toor", 0},
		{"encrypted", encryptedEvent(), "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := clickHouseRow(tt.ev)
			if err != nil {
				t.Fatalf("clickHouseRow: %v", err)
			}
			if len(row) != 9 {
				t.Fatalf("row has %d columns, want 9", len(row))
			}
			if row[0] != uuid.MustParse(tt.ev.EventID) {
				t.Errorf("event_id = %v", row[0])
			}
			if row[1] != tt.ev.EventTime || row[2] != tt.ev.EventTime {
				t.Errorf("event_time/event_date = %v/%v", row[1], row[2])
			}
			if row[3] != "203.0.113.9" || row[4] != "root" || row[5] != tt.wantPassword {
				t.Errorf("source/user/password = %v/%v/%v", row[3], row[4], row[5])
			}
			if row[6] != tt.wantEncrypted {
				t.Errorf("encrypted = %#v, want %d", row[6], tt.wantEncrypted)
			}
			if row[7] != "RU (Russia)" || row[8] != uint8(91) {
				t.Errorf("region/threat_level = %v/%#v", row[7], row[8])
			}
		})
	}
}

func TestClickHouseRowRejectsBadID(t *testing.T) {
	ev := sampleEvent()
	ev.EventID = "not-a-uuid"
	if _, err := clickHouseRow(ev); err == nil {
		t.Fatal("expected error for malformed event id")
	}
}

func TestKafkaMessage(t *testing.T) {
	ev := encryptedEvent()
	value, headers, err := kafkaMessage(ev)
	if err != nil {
		t.Fatalf("kafkaMessage: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if _, ok := decoded["password"]; ok {
		t.Error("encrypted event carries a plaintext password field")
	}
	if decoded["password_encrypted"] != true || decoded["username"] != "root" {
		t.Errorf("decoded = %v", decoded)
	}
	want := map[string]string{"event_id": ev.EventID, "region": "RU (Russia)", "threat_level": "91"}
	for k, v := range want {
		if headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, headers[k], v)
		}
	}
}

func TestRedisStatsSinkPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := client.NewRedisClient(&config.Config{
		Redis: config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2},
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	cache := redisrepo.NewAttackStatsCache(rc, zap.NewNop())
	sink := NewRedisStatsSink(cache)
	ctx := context.Background()

	for _, ev := range []*models.AttackEvent{sampleEvent(), encryptedEvent()} {
		if err := sink.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	stats, err := cache.Snapshot(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Regions["RU (Russia)"] != 2 {
		t.Errorf("stats = %+v", stats)
	}
	for _, k := range mr.Keys() {
		if v, err := mr.Get(k); err == nil && strings.Contains(v, "toor") {
			t.Errorf("password stored under %s", k)
		}
	}
}

type esRequest struct {
	method string
	path   string
	body   string
}

func newTestESClient(t *testing.T, status int, respBody string) (*client.ESClient, *[]esRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []esRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = io.WriteString(w, `{"version":{"number":"8.19.0"}}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, esRequest{r.Method, r.URL.Path, string(body)})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)

	es, err := client.NewElasticsearchClient(&config.Config{
		Environment:   config.EnvDevelopment,
		Elasticsearch: config.ElasticsearchConfig{URL: srv.URL, Index: "honeypot-attacks"},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewElasticsearchClient: %v", err)
	}
	return es, &reqs
}

func TestElasticsearchSinkPublish(t *testing.T) {
	es, reqs := newTestESClient(t, http.StatusCreated, `{"result":"created"}`)
	ev := sampleEvent()

	if err := NewElasticsearchSink(es).Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(*reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(*reqs))
	}
	req := (*reqs)[0]
	if req.method != http.MethodPut || req.path != "/honeypot-attacks/_doc/"+ev.EventID {
		t.Errorf("request = %s %s", req.method, req.path)
	}
	if !strings.Contains(req.body, `"username":"root"`) {
		t.Errorf("body = %s", req.body)
	}
}

func TestElasticsearchSinkPublishError(t *testing.T) {
	es, _ := newTestESClient(t, http.StatusBadRequest,
		`{"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [ip_address]"}}`)

	err := NewElasticsearchSink(es).Publish(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "mapper_parsing_exception") {
		t.Fatalf("Publish() = %v, want mapper_parsing_exception", err)
	}
}
