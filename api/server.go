// Package api exposes the ledger operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"voteledger"
	"voteledger/blockchain"
	"voteledger/service"
	"voteledger/storage"
)

const (
	contentTypeJSON        = "application/json"
	adminSignatureHeader   = "X-Admin-Signature"
	defaultShutdownTimeout = 5 * time.Second
)

// Authorizer decides whether a repair request comes from an admin.
type Authorizer interface {
	AuthorizeRepair(electionID, replicaID, signature string) error
}

type Server struct {
	ledger            *service.LedgerService
	authorizer        Authorizer
	httpServer        *http.Server
	addr              string
	readHeaderTimeout time.Duration
	logger            zerolog.Logger
}

// NewServer creates a server listening on the port once started.
func NewServer(ledger *service.LedgerService, authorizer Authorizer, port int, readHeaderTimeout time.Duration) *Server {
	return &Server{
		ledger:            ledger,
		authorizer:        authorizer,
		addr:              fmt.Sprintf(":%d", port),
		readHeaderTimeout: readHeaderTimeout,
		logger:            voteledger.Logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the router of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/elections/{election}", func(r chi.Router) {
		r.Post("/replicas", s.handleRegisterReplica)
		r.Post("/replicas/{replica}/repair", s.handleRepair)
		r.Post("/votes", s.handleCastVote)
		r.Get("/chain", s.handleGetChain)
		r.Get("/audit", s.handleAudit)
		r.Get("/statistics", s.handleStatistics)
	})

	return r
}

// Start starts listening in the background.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server started")
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown HTTP server: %v", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn().Err(err).Msg("error encoding response")
	}
}

// writeError maps the ledger errors to distinct status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case xerrors.Is(err, service.ErrUnknownElection),
		xerrors.Is(err, storage.ErrReplicaNotFound):
		status = http.StatusNotFound
	case xerrors.Is(err, service.ErrUnknownCandidate):
		status = http.StatusBadRequest
	case xerrors.Is(err, service.ErrDuplicateVote),
		xerrors.Is(err, storage.ErrReplicaExists),
		xerrors.Is(err, blockchain.ErrConsensusAmbiguous):
		status = http.StatusConflict
	case xerrors.Is(err, blockchain.ErrInvalidChain):
		status = http.StatusUnprocessableEntity
	case xerrors.Is(err, service.ErrWriteFailure),
		xerrors.Is(err, service.ErrNoReplicas):
		status = http.StatusServiceUnavailable
	case xerrors.Is(err, service.ErrUnauthorized):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}

	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleRegisterReplica(w http.ResponseWriter, r *http.Request) {
	var req RegisterReplicaRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid request body"))
			return
		}
	}

	id, err := s.ledger.RegisterReplica(r.Context(), chi.URLParam(r, "election"), req.ReplicaID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, NewDataResponse(RegisterReplicaResponse{ReplicaID: id}))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid request body"))
		return
	}

	if req.CandidateID == "" || req.VoterID == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing candidate_id or voter_id"))
		return
	}

	receipt, err := s.ledger.CastVote(r.Context(), chi.URLParam(r, "election"), req.CandidateID, req.VoterID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, NewDataResponse(receipt))
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "election")

	consensus, err := s.ledger.Consensus(r.Context(), electionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewDataResponse(ChainResponse{
		ElectionID:  electionID,
		Fingerprint: string(consensus.Fingerprint),
		Length:      len(consensus.Chain),
		Members:     consensus.Members,
		Replicas:    consensus.Total,
		IsValid:     blockchain.IsValidChain(consensus.Chain, electionID),
		Blocks:      consensus.Chain,
	}))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Audit(r.Context(), chi.URLParam(r, "election"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewDataResponse(report))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Statistics(r.Context(), chi.URLParam(r, "election"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewDataResponse(stats))
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	electionID := chi.URLParam(r, "election")
	replicaID := chi.URLParam(r, "replica")

	err := s.authorizer.AuthorizeRepair(electionID, replicaID, r.Header.Get(adminSignatureHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.ledger.Repair(r.Context(), replicaID, electionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewDataResponse(result))
}
