package factory

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shadowlog/internal/config"
	"shadowlog/internal/handler"
	"shadowlog/internal/model"
	"shadowlog/internal/trap"

	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("ATTACK_LOG_PATH", filepath.Join(t.TempDir(), "attacks.log"))
	t.Setenv("TRAP_FAIL_DELAY", "0")
	return config.LoadConfig()
}

func TestNewWithoutBackends(t *testing.T) {
	f, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	if f.ServiceFactory().Forwarder() != nil {
		t.Error("forwarder created with no sinks")
	}
	if f.DashboardAuth() != nil {
		t.Error("auth enabled without credentials")
	}
	if f.TLSManager() != nil {
		t.Error("TLS manager created with TLS disabled")
	}

	health := f.HealthCheck(context.Background())
	if len(health) != 1 || health["attack_log"] != "ok" {
		t.Errorf("HealthCheck() = %v", health)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trap.Port = 0
	if _, err := New(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestTrapToDashboard(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trap.Whitelist = nil
	f, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ln, err := trap.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- f.TrapServer().Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 512)
	var got strings.Builder
	for !strings.Contains(got.String(), trap.UsernamePrompt) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("reading banner: %v", err)
		}
		got.Write(buf[:n])
	}
	_, _ = conn.Write([]byte("root\n"))
	for !strings.Contains(got.String(), trap.PasswordPrompt) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("reading password prompt: %v", err)
		}
		got.Write(buf[:n])
	}
	_, _ = conn.Write([]byte("toor\n"))
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	conn.Close()

	_ = ln.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	f.TrapServer().Wait()

	router := handler.NewRouter(f.DashboardHandler(), handler.RouterConfig{}, zap.NewNop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attacks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"username":"root"`) || !strings.Contains(body, `"password":"toor"`) {
		t.Errorf("capture missing from dashboard: %s", body)
	}

	records, total, err := f.ServiceFactory().DashboardService().Recent(1)
	if err != nil || total != 1 || records[0].Region != trap.LocalRegion {
		t.Errorf("Recent() = %v, %d, %v", records, total, err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	f, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	f.ServiceFactory().CaptureService().Append(
		model.NewAttackRecord(time.Now(), "203.0.113.1", "a", "b", "RU", 10))

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.closed:
	default:
		t.Error("closed channel still open")
	}

	health := f.HealthCheck(context.Background())
	if health["attack_log"] != "ok" {
		t.Errorf("attack log should still exist after close: %v", health)
	}
}

func TestDashboardAuthConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1

	hashFactory, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := hashFactory.Hasher().HashPassword("watchtower")
	hashFactory.Close()
	if err != nil {
		t.Fatal(err)
	}

	cfg.Dashboard.User = "ops"
	cfg.Dashboard.PasswordHash = hash
	f, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	router := handler.NewRouter(f.DashboardHandler(), handler.RouterConfig{Auth: f.DashboardAuth()}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.SetBasicAuth("ops", "watchtower")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authorized status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}
}
