package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/capstack/internal/database"
	"github.com/aristath/capstack/internal/modules/stack"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Profile: database.ProfileLedger,
		Name:    "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := stack.NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, err)

	return New(Config{
		Port:      0,
		Log:       zerolog.Nop(),
		HistoryDB: db,
		Allocator: stack.NewAllocator(zerolog.Nop()),
		Repo:      repo,
		DevMode:   true,
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRootEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Capital Stack Allocator Backend"}`, w.Body.String())
}

func TestAPIRoutesMounted(t *testing.T) {
	srv := setupTestServer(t)

	body := map[string]interface{}{
		"project": map[string]interface{}{
			"name": "Harbor Point",
			"tdc":  5_000_000,
			"noi":  450_000,
		},
		"options": []map[string]interface{}{
			{"name": "SeniorDebt", "kind": "debt", "annual_cost": 0.06, "max_share": 0.65, "enforce_dscr": true},
			{"name": "CommonEquity", "kind": "equity", "annual_cost": 0.12},
		},
	}
	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/optimize", bytes.NewReader(bodyBytes))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var result stack.CapitalStack
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "Harbor Point", result.ProjectName)

	req = httptest.NewRequest("GET", "/api/history", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var records []stack.HistoryRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	assert.Len(t, records, 1)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/test", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "running", response["backend"])
	assert.Equal(t, "connected", response["database"])
	assert.Equal(t, "connected", response["connection_status"])
	assert.Equal(t, "disabled", response["cache"])
	assert.Contains(t, response, "system")
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/nope", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
