package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/adaiter/internal/config"
	"github.com/copyleftdev/adaiter/internal/logging"
	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
	"github.com/copyleftdev/adaiter/internal/session"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: "test"}
	cfg.HTTP.Port = 8080
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stdout"
	cfg.Sessions.Max = 2

	d := adaptive.DefaultConfig()
	cfg.Controller = config.Controller{
		Mode:               string(d.Mode),
		Factor:             d.Factor,
		Patience:           d.Patience,
		Threshold:          d.Threshold,
		ThresholdMode:      string(d.ThresholdMode),
		InitialIterTerm:    d.InitialIterTerm,
		MaxIter:            d.MaxIter,
		Verbose:            d.Verbose,
		EarlyStopThreshold: d.EarlyStopThreshold,
	}
	return cfg
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := testConfig(t)
	logger := logging.New(logging.DebugLevel, io.Discard)
	srv := NewServer(cfg, logger, session.NewRegistry(session.WithCapacity(cfg.Sessions.Max)))

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(logger))
	srv.RegisterRoutes(r)
	return srv, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateAndStep(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions", `{"patience": 1, "threshold": 0.1, "max_iter": 5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id := created["session_id"].(string)
	require.NotEmpty(t, id)

	state := created["state"].(map[string]interface{})
	assert.Nil(t, state["best"])
	assert.Equal(t, 1.0, state["iter_term"])
	cfg := created["config"].(map[string]interface{})
	assert.Equal(t, "min", cfg["mode"])
	assert.Equal(t, 5.0, cfg["max_iter"])

	var last map[string]interface{}
	for i := 0; i < 3; i++ {
		rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/step", `{"metric": 1.0}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		last = decode(t, rec)
	}
	state = last["state"].(map[string]interface{})
	assert.Equal(t, 2.0, state["iter_term"])
	assert.Equal(t, 1.0, state["best"])
	assert.Equal(t, 0.0, state["num_bad_epochs"])
	assert.Equal(t, 3.0, state["last_epoch"])
	assert.Equal(t, "none", state["stop_reason"])

	summary := last["summary"].(map[string]interface{})
	assert.Equal(t, 3.0, summary["observations"])
	assert.Equal(t, 1.0, summary["mean"])

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["session_id"])

	rec = do(t, h, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["sessions"], 1)

	rec = do(t, h, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStepEarlyStop(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions", `{"mode": "max", "early_stop_threshold": 0.95}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["session_id"].(string)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/step", `{"metric": 0.96, "epoch": 7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode(t, rec)["state"].(map[string]interface{})
	assert.Equal(t, true, state["should_stop"])
	assert.Equal(t, "threshold", state["stop_reason"])
	assert.Equal(t, 7.0, state["last_epoch"])
	assert.Nil(t, state["best"])
}

func TestCreateValidation(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode": "median"}`},
		{"zero factor", `{"factor": 0}`},
		{"negative patience", `{"patience": -1}`},
		{"unknown threshold mode", `{"threshold_mode": "pct"}`},
		{"unknown field", `{"patients": 3}`},
		{"malformed", `{"mode":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestStepValidation(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["session_id"].(string)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/step", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/step", `{"metric": 1, "epoch": -2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/nope/step", `{"metric": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCapacity(t *testing.T) {
	_, h := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/sessions", `{}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/sessions", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeleteUnknown(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodDelete, "/api/v1/sessions/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(logger))
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := do(t, r, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
	assert.Contains(t, buf.String(), "boom")
}

func TestClose(t *testing.T) {
	srv, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/sessions", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, srv.Close())
	assert.Equal(t, 0, srv.sessions.Len())
}
