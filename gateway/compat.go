package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"milevault/workflow"
)

const maxRequestBody = 1 << 20 // 1 MiB

// legacyDeadline is the release delay applied to milestones created through
// the legacy single-milestone schema, which carried no deadline field.
const legacyDeadline = 24 * time.Hour

// requestError marks boundary-level decoding failures.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func errBadRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errBadRequest("read request body: %v", err)
	}
	if len(body) == 0 {
		return errBadRequest("request body required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errBadRequest("invalid JSON payload: %v", err)
	}
	return nil
}

// createProjectRequest is the canonical schema plus the field aliases of the
// previous API generation. Aliases are resolved here, in one place; nothing
// past the boundary ever sees them.
type createProjectRequest struct {
	ClientSeed        string             `json:"client_seed"`
	FreelancerAddress string             `json:"freelancer_address"`
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	Milestones        []milestoneRequest `json:"milestones"`

	// Legacy aliases.
	EmployerSeed string `json:"employer_seed"`
	AmountDrops  string `json:"amount_drops"`
}

type milestoneRequest struct {
	Name     string    `json:"name"`
	Amount   string    `json:"amount"`
	Deadline time.Time `json:"deadline"`

	// Legacy alias.
	AmountDrops string `json:"amount_drops"`
}

type releaseRequest struct {
	FreelancerSeed string `json:"freelancer_seed"`

	// Legacy alias.
	Seed string `json:"seed"`
}

// decodeCreateProject resolves the legacy aliases into the canonical create
// input. A legacy body names the client seed employer_seed and describes a
// single milestone by its drops amount; it becomes a one-milestone project
// with a default deadline.
func (s *Server) decodeCreateProject(r *http.Request) (workflow.CreateProjectInput, error) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		return workflow.CreateProjectInput{}, err
	}

	seed := req.ClientSeed
	if seed == "" {
		seed = req.EmployerSeed
	}
	in := workflow.CreateProjectInput{
		ClientSeed:        seed,
		FreelancerAddress: req.FreelancerAddress,
		Title:             req.Title,
		Description:       req.Description,
	}

	milestones := req.Milestones
	if len(milestones) == 0 && req.AmountDrops != "" {
		if in.Title == "" {
			in.Title = "milestone escrow"
		}
		milestones = []milestoneRequest{{Name: "milestone 1", AmountDrops: req.AmountDrops}}
	}
	for i, m := range milestones {
		amount := m.Amount
		if amount == "" && m.AmountDrops != "" {
			if s.convert == nil {
				return workflow.CreateProjectInput{}, errBadRequest("milestone %d: amount_drops not supported", i)
			}
			converted, err := s.convert.FromDrops(m.AmountDrops)
			if err != nil {
				return workflow.CreateProjectInput{}, errBadRequest("milestone %d: amount_drops: %v", i, err)
			}
			amount = converted
		}
		deadline := m.Deadline
		if deadline.IsZero() {
			deadline = time.Now().UTC().Add(legacyDeadline)
		}
		in.Milestones = append(in.Milestones, workflow.MilestoneInput{
			Name:     strings.TrimSpace(m.Name),
			Amount:   amount,
			Deadline: deadline,
		})
	}
	return in, nil
}

func decodeRelease(r *http.Request) (releaseRequest, error) {
	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.FreelancerSeed == "" {
		req.FreelancerSeed = req.Seed
	}
	return req, nil
}
