// Package gateway exposes the milestone escrow workflow over HTTP. It is a
// thin boundary: request decoding, actor extraction and status mapping live
// here, every decision lives in the workflow engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"milevault/currency"
	"milevault/escrow"
	"milevault/observability/logging"
	"milevault/project"
	"milevault/reputation"
	"milevault/workflow"
)

const requestTimeout = 60 * time.Second

// Core is the slice of the workflow engine the gateway drives.
type Core interface {
	CreateProject(ctx context.Context, in workflow.CreateProjectInput) (*project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	ListProjects(ctx context.Context) ([]*project.Project, error)
	AcceptProject(ctx context.Context, id, freelancerAddress string) (*project.Project, error)
	SubmitWork(ctx context.Context, id string, index int, in workflow.SubmitInput) (*project.Milestone, error)
	ApproveWork(ctx context.Context, id string, index int, clientAddress string) (*project.Milestone, error)
	ReleasePayment(ctx context.Context, id string, index int, freelancerSeed string) (*project.Milestone, error)
}

// Reputations computes advisory freelancer scores.
type Reputations interface {
	Compute(ctx context.Context, address string) reputation.Profile
}

// Wallets is the demo wallet surface backed by the test-network faucet.
type Wallets interface {
	NewFundedWallet(ctx context.Context) (address, seed string, err error)
	Balance(ctx context.Context, address string) (string, error)
}

// Config carries the gateway's dependencies.
type Config struct {
	Core        Core
	Reputations Reputations
	Wallets     Wallets
	Convert     *currency.Converter
	Log         *slog.Logger
}

// Server is the HTTP front-end.
type Server struct {
	core        Core
	reputations Reputations
	wallets     Wallets
	convert     *currency.Converter
	log         *slog.Logger
	router      http.Handler
}

// New constructs the configured router.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		core:        cfg.Core,
		reputations: cfg.Reputations,
		wallets:     cfg.Wallets,
		convert:     cfg.Convert,
		log:         log,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/projects", s.CreateProject)
		api.Get("/projects", s.ListProjects)
		api.Get("/projects/{id}", s.GetProject)
		api.Post("/projects/{id}/accept", s.AcceptProject)
		api.Post("/projects/{id}/milestones/{index}/submit", s.SubmitWork)
		api.Post("/projects/{id}/milestones/{index}/approve", s.ApproveWork)
		api.Post("/projects/{id}/milestones/{index}/release", s.ReleasePayment)
		api.Get("/reputation/{address}", s.GetReputation)
		if s.wallets != nil {
			api.Post("/wallet", s.CreateWallet)
			api.Get("/wallet/{address}/balance", s.GetBalance)
		}
	})

	return r
}

// CreateProject decodes a project definition, legacy aliases included, and
// creates it with one escrow per milestone.
func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	in, err := s.decodeCreateProject(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.core.CreateProject(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.core.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.core.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) AcceptProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FreelancerAddress string `json:"freelancer_address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.core.AcceptProject(r.Context(), chi.URLParam(r, "id"), req.FreelancerAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) SubmitWork(w http.ResponseWriter, r *http.Request) {
	index, err := milestoneIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Description   string `json:"description"`
		AttachmentRef string `json:"attachment_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	m, err := s.core.SubmitWork(r.Context(), chi.URLParam(r, "id"), index, workflow.SubmitInput{
		Description:   req.Description,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) ApproveWork(w http.ResponseWriter, r *http.Request) {
	index, err := milestoneIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		ClientAddress string `json:"client_address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	m, err := s.core.ApproveWork(r.Context(), chi.URLParam(r, "id"), index, req.ClientAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	index, err := milestoneIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := decodeRelease(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := s.core.ReleasePayment(r.Context(), chi.URLParam(r, "id"), index, req.FreelancerSeed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) GetReputation(w http.ResponseWriter, r *http.Request) {
	profile := s.reputations.Compute(r.Context(), chi.URLParam(r, "address"))
	s.writeJSON(w, http.StatusOK, profile)
}

// CreateWallet creates and funds a throwaway test-network wallet. Demo only;
// the seed is returned to the caller and never stored.
func (s *Server) CreateWallet(w http.ResponseWriter, r *http.Request) {
	address, seed, err := s.wallets.NewFundedWallet(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("demo wallet funded", "address", address, logging.Seed("seed", seed))
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"address": address,
		"seed":    seed,
	})
}

func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallets.Balance(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"balance_drops": balance})
}

func milestoneIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		return 0, errBadRequest("milestone index must be a non-negative integer")
	}
	return index, nil
}

type errorResponse struct {
	Error   string                   `json:"error"`
	Reason  string                   `json:"reason,omitempty"`
	Created []workflow.CreatedEscrow `json:"created_escrows,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var badReq *requestError
	var partial *workflow.PartialCreateError
	switch {
	case errors.As(err, &badReq):
		status = http.StatusBadRequest
	case errors.Is(err, workflow.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrDeadlineNotReached):
		status = http.StatusConflict
		resp.Reason = string(escrow.ReasonOf(err))
	case errors.As(err, &partial):
		status = http.StatusBadGateway
		resp.Created = partial.Created
	case errors.Is(err, escrow.ErrTimeout), errors.Is(err, escrow.ErrUnavailable):
		status = http.StatusGatewayTimeout
		resp.Reason = string(escrow.ReasonOf(err))
	case escrow.ReasonOf(err) != "":
		status = http.StatusBadGateway
		resp.Reason = string(escrow.ReasonOf(err))
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "err", err)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "err", err)
	}
}
