package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/copyleftdev/adaiter/internal/config"
	"github.com/copyleftdev/adaiter/internal/logging"
	"github.com/copyleftdev/adaiter/internal/optimization"
	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
	"github.com/copyleftdev/adaiter/internal/session"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server exposes controller sessions over REST and JSON-RPC 2.0.
type Server struct {
	cfg      *config.Config
	logger   Logger
	sessions *session.Registry
	validate *validator.Validate
}

// NewServer creates a new server instance backed by sessions.
func NewServer(cfg *config.Config, logger Logger, sessions *session.Registry) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		validate: validator.New(),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleStatus)
		r.Post("/{id}/step", s.handleStep)
		r.Delete("/{id}", s.handleDelete)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// Close drops every session.
func (s *Server) Close() error {
	return s.sessions.Close()
}

// createSessionRequest carries a partial controller configuration. Omitted
// fields fall back to the process defaults.
type createSessionRequest struct {
	Mode               *string  `json:"mode" validate:"omitempty,oneof=min max"`
	Factor             *float64 `json:"factor" validate:"omitempty,gt=0"`
	Patience           *int     `json:"patience" validate:"omitempty,gte=0"`
	Threshold          *float64 `json:"threshold" validate:"omitempty,gte=0"`
	ThresholdMode      *string  `json:"threshold_mode" validate:"omitempty,oneof=rel abs"`
	InitialIterTerm    *float64 `json:"initial_iter_term"`
	MaxIter            *float64 `json:"max_iter"`
	Verbose            *bool    `json:"verbose"`
	EarlyStopThreshold *float64 `json:"early_stop_threshold"`
}

func (req createSessionRequest) apply(base adaptive.Config) adaptive.Config {
	cfg := base
	if req.Mode != nil {
		cfg.Mode = adaptive.Mode(*req.Mode)
	}
	if req.Factor != nil {
		cfg.Factor = *req.Factor
	}
	if req.Patience != nil {
		cfg.Patience = *req.Patience
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.ThresholdMode != nil {
		cfg.ThresholdMode = adaptive.ThresholdMode(*req.ThresholdMode)
	}
	if req.InitialIterTerm != nil {
		cfg.InitialIterTerm = *req.InitialIterTerm
	}
	if req.MaxIter != nil {
		cfg.MaxIter = *req.MaxIter
	}
	if req.Verbose != nil {
		cfg.Verbose = *req.Verbose
	}
	if req.EarlyStopThreshold != nil {
		cfg.EarlyStopThreshold = *req.EarlyStopThreshold
	}
	return cfg
}

type stepRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	Metric    *float64 `json:"metric" validate:"required"`
	Epoch     *int     `json:"epoch" validate:"omitempty,gte=0"`
}

type sessionIDRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type stateResponse struct {
	IterTerm     float64  `json:"iter_term"`
	Best         *float64 `json:"best"`
	NumBadEpochs int      `json:"num_bad_epochs"`
	LastEpoch    int      `json:"last_epoch"`
	ShouldStop   bool     `json:"should_stop"`
	StopReason   string   `json:"stop_reason"`
}

type summaryResponse struct {
	Observations int      `json:"observations"`
	Mean         *float64 `json:"mean"`
	StdDev       *float64 `json:"stddev"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	Last         *float64 `json:"last"`
}

type sessionResponse struct {
	ID      string          `json:"session_id"`
	Config  adaptive.Config `json:"config"`
	State   stateResponse   `json:"state"`
	Summary summaryResponse `json:"summary"`
	Created string          `json:"created"`
	Updated string          `json:"updated"`
}

// finite returns nil for values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toResponse(snap session.Snapshot) sessionResponse {
	return sessionResponse{
		ID:     snap.ID,
		Config: snap.Config,
		State: stateResponse{
			IterTerm:     snap.State.IterTerm,
			Best:         finite(snap.State.Best),
			NumBadEpochs: snap.State.NumBadEpochs,
			LastEpoch:    snap.State.LastEpoch,
			ShouldStop:   snap.State.ShouldStop,
			StopReason:   snap.State.StopReason.String(),
		},
		Summary: summaryResponse{
			Observations: snap.Summary.Observations,
			Mean:         finite(snap.Summary.Mean),
			StdDev:       finite(snap.Summary.StdDev),
			Min:          finite(snap.Summary.Min),
			Max:          finite(snap.Summary.Max),
			Last:         finite(snap.Summary.Last),
		},
		Created: snap.Created.UTC().Format(time.RFC3339Nano),
		Updated: snap.Updated.UTC().Format(time.RFC3339Nano),
	}
}

// requestError marks failures caused by the caller's input.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func (s *Server) check(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return &requestError{err: errors.New(strings.Join(msgs, "; "))}
		}
		return &requestError{err: err}
	}
	return nil
}

func (s *Server) createSession(req createSessionRequest) (sessionResponse, error) {
	if err := s.check(req); err != nil {
		return sessionResponse{}, err
	}
	snap, err := s.sessions.Create(req.apply(s.cfg.Controller.Adaptive()))
	if err != nil {
		if errors.Is(err, optimization.ErrInvalidConfiguration) {
			return sessionResponse{}, &requestError{err: err}
		}
		return sessionResponse{}, err
	}
	s.logger.Info("Session created", map[string]interface{}{
		"session_id": snap.ID,
		"mode":       snap.Config.Mode.String(),
		"max_iter":   snap.Config.MaxIter,
	})
	return toResponse(snap), nil
}

func (s *Server) stepSession(id string, req stepRequest) (sessionResponse, error) {
	if err := s.check(req); err != nil {
		return sessionResponse{}, err
	}
	snap, err := s.sessions.Step(id, *req.Metric, req.Epoch)
	if err != nil {
		return sessionResponse{}, err
	}
	s.logger.Debug("Session stepped", map[string]interface{}{
		"session_id":  id,
		"metric":      *req.Metric,
		"iter_term":   snap.State.IterTerm,
		"should_stop": snap.State.ShouldStop,
	})
	return toResponse(snap), nil
}

func (s *Server) sessionStatus(id string) (sessionResponse, error) {
	snap, err := s.sessions.Get(id)
	if err != nil {
		return sessionResponse{}, err
	}
	return toResponse(snap), nil
}

func (s *Server) deleteSession(id string) error {
	if err := s.sessions.Delete(id); err != nil {
		return err
	}
	s.logger.Info("Session deleted", map[string]interface{}{"session_id": id})
	return nil
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrCapacity):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &requestError{err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// handleCreate handles POST /api/v1/sessions
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.createSession(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleList handles GET /api/v1/sessions
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.sessions.List()
	out := make([]sessionResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toResponse(snap))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// handleStatus handles GET /api/v1/sessions/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.sessionStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStep handles POST /api/v1/sessions/{id}/step
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.stepSession(chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDelete handles DELETE /api/v1/sessions/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteSession(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
