package handler

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"shadowlog/internal/model"
	"shadowlog/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AttackReader is the read side of the attack log.
type AttackReader interface {
	Recent(limit int) ([]*model.AttackRecord, int, error)
	Stats(ctx context.Context) (*service.Stats, error)
	TrapPort() int
}

// HealthChecker reports per-component status, "ok" or an error string.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]string
}

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type Meta struct {
	Total    int `json:"total"`
	Returned int `json:"returned"`
}

type DashboardHandler struct {
	reader AttackReader
	health HealthChecker
	logger *zap.Logger
}

func NewDashboardHandler(reader AttackReader, health HealthChecker, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{reader: reader, health: health, logger: logger}
}

func (h *DashboardHandler) RegisterRoutes(router chi.Router) {
	router.Get("/attacks", h.ListAttacks)
	router.Get("/stats", h.GetStats)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>ShadowLog</title>
<style>
body { background: #0d1117; color: #c9d1d9; font-family: monospace; margin: 2em; }
h1 { color: #f85149; }
table { border-collapse: collapse; width: 100%; }
th, td { border-bottom: 1px solid #30363d; padding: 4px 8px; text-align: left; }
th { color: #8b949e; }
.high { color: #f85149; }
</style>
</head>
<body>
<h1>ShadowLog</h1>
<p>Total interceptions: <strong>{{.Total}}</strong> &middot; trap port {{.TrapPort}}</p>
<table>
<tr><th>Time</th><th>Source</th><th>Username</th><th>Password</th><th>Region</th><th>Threat</th></tr>
{{range .Records}}<tr>
<td>{{.Timestamp.Format "2006-01-02 15:04:05"}}</td>
<td>{{.SourceAddress}}</td>
<td>{{.Username}}</td>
<td>{{.Password}}</td>
<td>{{.Region}}</td>
<td{{if ge .ThreatLevel 80}} class="high"{{end}}>{{.ThreatLevel}}</td>
</tr>
{{else}}<tr><td colspan="6">No interceptions yet.</td></tr>
{{end}}</table>
</body>
</html>
`))

type indexView struct {
	Total    int
	TrapPort int
	Records  []*model.AttackRecord
}

// Index renders the most recent interceptions.
func (h *DashboardHandler) Index(w http.ResponseWriter, r *http.Request) {
	records, total, err := h.reader.Recent(service.DefaultRecentLimit)
	if err != nil {
		h.logger.Error("Failed to read attack log", zap.Error(err))
		http.Error(w, "attack log unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	view := indexView{Total: total, TrapPort: h.reader.TrapPort(), Records: records}
	if err := indexTemplate.Execute(w, view); err != nil {
		h.logger.Error("Failed to render dashboard", zap.Error(err))
	}
}

// ListAttacks handles GET /api/v1/attacks?limit=N
func (h *DashboardHandler) ListAttacks(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, service.MaxRecentLimit)
	}

	records, total, err := h.reader.Recent(limit)
	if err != nil {
		h.logger.Error("Failed to read attack log", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "attack log unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    records,
		Meta:    &Meta{Total: total, Returned: len(records)},
	})
}

// GetStats handles GET /api/v1/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to compute stats", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	respondWithJSON(w, http.StatusOK, Response{Success: true, Data: stats})
}

// Health reports 503 when any component is failing.
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{}
	if h.health != nil {
		components = h.health.HealthCheck(ctx)
	}

	status, code := "healthy", http.StatusOK
	for _, v := range components {
		if v != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	respondWithJSON(w, code, map[string]any{
		"status":     status,
		"service":    "shadowlog",
		"components": components,
	})
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, Response{Success: false, Error: message})
}
