package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ballotengine "evoting/contexts/voting-core/ballot-engine"
	ballotdomainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	ballothttp "evoting/contexts/voting-core/ballot-engine/transport/http"
	_ "evoting/internal/platform/httpserver/docs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Server exposes the ballot engine over HTTP.
type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	addr    string
	ballots ballotengine.Module
	metrics prometheus.Gatherer
	server  *http.Server
}

// New builds the server. metrics may be nil, in which case /metrics is not
// served.
func New(
	ballots ballotengine.Module,
	metrics prometheus.Gatherer,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		ballots: ballots,
		metrics: metrics,
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}

	s.mux.HandleFunc("POST /v1/elections/{kind}/{election_id}/ballots", s.handleStartBallot)
	s.mux.HandleFunc("GET /v1/elections/{kind}/{election_id}/ballot", s.handleBallotStatus)
	s.mux.HandleFunc("GET /v1/elections/{kind}/{election_id}/tally", s.handleTally)
	s.mux.HandleFunc("GET /v1/elections/{kind}/{election_id}/tally/verify", s.handleVerifyTally)

	s.mux.HandleFunc("PUT /v1/ballots/{ballot_id}/selections/{position_id}", s.handleCastSelection)
	s.mux.HandleFunc("PUT /v1/ballots/{ballot_id}/selections", s.handleCastSlate)
	s.mux.HandleFunc("POST /v1/ballots/{ballot_id}/submit", s.handleSubmitBallot)
	s.mux.HandleFunc("POST /v1/ballots/{ballot_id}/abandon", s.handleAbandonBallot)

	s.mux.HandleFunc("POST /v1/admin/ballots/reap", s.handleReapBallots)
}

func (s *Server) handleStartBallot(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.ballots.Handler.StartBallotHandler(r.Context(), voterID, r.PathValue("kind"), r.PathValue("election_id"))
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleBallotStatus(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.ballots.Handler.BallotStatusHandler(r.Context(), voterID, r.PathValue("kind"), r.PathValue("election_id"))
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ballots.Handler.TallyHandler(r.Context(), r.PathValue("kind"), r.PathValue("election_id"))
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyTally(w http.ResponseWriter, r *http.Request) {
	resp, err := s.ballots.Handler.VerifyTallyHandler(r.Context(), r.PathValue("kind"), r.PathValue("election_id"))
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastSelection(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ballothttp.CastSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBallotError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.ballots.Handler.CastSelectionHandler(
		r.Context(),
		voterID,
		r.PathValue("ballot_id"),
		r.PathValue("position_id"),
		req,
	)
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastSlate(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ballothttp.CastSlateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBallotError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.ballots.Handler.CastSlateHandler(r.Context(), voterID, r.PathValue("ballot_id"), req)
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitBallot(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.ballots.Handler.SubmitBallotHandler(r.Context(), voterID, r.PathValue("ballot_id"))
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAbandonBallot(w http.ResponseWriter, r *http.Request) {
	voterID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.ballots.Handler.AbandonBallotHandler(r.Context(), voterID, r.PathValue("ballot_id"))
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReapBallots(w http.ResponseWriter, r *http.Request) {
	adminID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if adminID == "" {
		adminID = strings.TrimSpace(r.Header.Get("X-Admin-Id"))
	}
	if adminID == "" {
		writeBallotError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	resp, err := s.ballots.Handler.ReapExpiredHandler(r.Context())
	if err != nil {
		writeBallotDomainError(w, err)
		return
	}
	s.logger.Info("manual ballot reap completed",
		"event", "http_ballot_reap_completed",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"admin_id", adminID,
		"expired_count", resp.ExpiredCount,
	)
	writeJSON(w, http.StatusOK, resp)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeBallotError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return userID, true
}

func writeBallotDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ballotdomainerrors.ErrInvariantViolation):
		writeBallotError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	case errors.Is(err, ballotdomainerrors.ErrTemporarilyUnavailable):
		writeBallotError(w, http.StatusServiceUnavailable, "temporarily_unavailable", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrBallotExpired):
		writeBallotError(w, http.StatusGone, "ballot_expired", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrAlreadySubmitted):
		writeBallotError(w, http.StatusConflict, "already_submitted", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrAlreadyVoted):
		writeBallotError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrBallotNotOpen):
		writeBallotError(w, http.StatusConflict, "ballot_not_open", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrNotEligible):
		writeBallotError(w, http.StatusForbidden, "not_eligible", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrBallotNotOwned):
		writeBallotError(w, http.StatusForbidden, "ballot_not_owned", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrElectionNotVotable):
		writeBallotError(w, http.StatusUnprocessableEntity, "election_not_votable", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrTooManyChoices):
		writeBallotError(w, http.StatusUnprocessableEntity, "too_many_choices", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrInvalidSelection):
		writeBallotError(w, http.StatusUnprocessableEntity, "invalid_selection", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrIncompleteBallot):
		writeBallotError(w, http.StatusUnprocessableEntity, "incomplete_ballot", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrInvalidInput):
		writeBallotError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrElectionNotFound):
		writeBallotError(w, http.StatusNotFound, "election_not_found", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrBallotNotFound):
		writeBallotError(w, http.StatusNotFound, "ballot_not_found", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrPositionNotFound):
		writeBallotError(w, http.StatusNotFound, "position_not_found", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrCandidateNotFound):
		writeBallotError(w, http.StatusNotFound, "candidate_not_found", err.Error())
	case errors.Is(err, ballotdomainerrors.ErrVoterNotFound):
		writeBallotError(w, http.StatusNotFound, "voter_not_found", err.Error())
	case ballotdomainerrors.KindOf(err) == ballotdomainerrors.KindCanceled:
		writeBallotError(w, http.StatusServiceUnavailable, "request_canceled", err.Error())
	default:
		writeBallotError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeBallotError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ballothttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
