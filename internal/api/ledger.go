package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gymsub/gymsub/internal/domain"
)

// ─── Roster API ─────────────────────────────────────────────────────────────
//
// GET    /api/trainers                 all trainers by name
// POST   /api/trainers                 {"name"}
// POST   /api/trainers/import          {"names": [...]}
// GET    /api/trainers/{id}
// PATCH  /api/trainers/{id}            {"name"}
// DELETE /api/trainers/{id}            cascades to substitutions and balances
// GET    /api/substitutions            ?trainer=&from=&to=&q=
// POST   /api/substitutions            {"absent_trainer_id","substitute_trainer_id","date","notes"}
// DELETE /api/substitutions/{id}       reverts the balance effect
// GET    /api/balances                 ?trainer=
// GET    /api/balances/between         ?a=&b=

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidInput, field)
	}
	return d, nil
}

// ─── Trainers ───────────────────────────────────────────────────────────────

type trainerRequest struct {
	Name string `json:"name"`
}

// GET /api/trainers
func (s *Server) handleListTrainers(w http.ResponseWriter, r *http.Request) {
	trainers, err := s.roster.ListTrainers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if trainers == nil {
		trainers = []domain.Trainer{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trainers": trainers,
	})
}

// POST /api/trainers
func (s *Server) handleAddTrainer(w http.ResponseWriter, r *http.Request) {
	var req trainerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	tr, err := s.roster.AddTrainer(r.Context(), req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

// POST /api/trainers/import
func (s *Server) handleImportTrainers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	res, err := s.roster.ImportTrainers(r.Context(), req.Names)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if res.Added == nil {
		res.Added = []domain.Trainer{}
	}
	if res.Skipped == nil {
		res.Skipped = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/trainers/{id}
func (s *Server) handleGetTrainer(w http.ResponseWriter, r *http.Request) {
	tr, err := s.roster.GetTrainer(r.Context(), domain.TrainerID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// PATCH /api/trainers/{id}
func (s *Server) handleRenameTrainer(w http.ResponseWriter, r *http.Request) {
	var req trainerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	tr, err := s.roster.RenameTrainer(r.Context(), domain.TrainerID(chi.URLParam(r, "id")), req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// DELETE /api/trainers/{id}
func (s *Server) handleRemoveTrainer(w http.ResponseWriter, r *http.Request) {
	id := domain.TrainerID(chi.URLParam(r, "id"))
	res, err := s.roster.RemoveTrainer(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trainer_id":            id,
		"substitutions_removed": res.Substitutions,
		"balances_removed":      res.Balances,
	})
}

// ─── Substitutions ──────────────────────────────────────────────────────────

type substitutionRequest struct {
	Absent     domain.TrainerID `json:"absent_trainer_id"`
	Substitute domain.TrainerID `json:"substitute_trainer_id"`
	Date       string           `json:"date"`
	Notes      string           `json:"notes"`
}

// GET /api/substitutions
func (s *Server) handleListSubstitutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	subs, err := s.roster.ListSubstitutions(r.Context(), domain.SubstitutionFilter{
		Trainer: domain.TrainerID(q.Get("trainer")),
		From:    from,
		To:      to,
		Query:   q.Get("q"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if subs == nil {
		subs = []domain.Substitution{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"substitutions": subs,
	})
}

// POST /api/substitutions
func (s *Server) handleAddSubstitution(w http.ResponseWriter, r *http.Request) {
	var req substitutionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	res, err := s.roster.AddSubstitution(r.Context(), req.Absent, req.Substitute, date, req.Notes)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// DELETE /api/substitutions/{id}
func (s *Server) handleRemoveSubstitution(w http.ResponseWriter, r *http.Request) {
	res, err := s.roster.RemoveSubstitution(r.Context(), domain.SubstitutionID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Summary ────────────────────────────────────────────────────────────────

// GET /api/summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.roster.Summary(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ─── Balances ───────────────────────────────────────────────────────────────

// GET /api/balances
func (s *Server) handleListBalances(w http.ResponseWriter, r *http.Request) {
	bals, err := s.roster.ListBalances(r.Context(), domain.TrainerID(r.URL.Query().Get("trainer")))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if bals == nil {
		bals = []domain.Balance{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balances": bals,
	})
}

// GET /api/balances/between
func (s *Server) handleBalanceBetween(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pb, err := s.roster.BalanceBetween(r.Context(), domain.TrainerID(q.Get("a")), domain.TrainerID(q.Get("b")))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}
