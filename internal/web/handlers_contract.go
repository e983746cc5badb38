package web

import (
	"net/http"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/logging"
)

// handleContractValidate serves POST /api/import/validate.
func (s *Server) handleContractValidate(w http.ResponseWriter, r *http.Request) {
	var req core.ValidateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	resp, err := s.contract.ValidateImport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "owner_id", req.OwnerID).Info("import validated",
		"records", len(req.Records),
		"invalid", len(resp.ValidationErrors),
		"conflicts", len(resp.Conflicts),
	)
	writeJSON(w, http.StatusOK, resp)
}

// handleContractExecute serves POST /api/import/execute. Row failures are
// part of the outcome; only a failure of the whole batch is an error.
func (s *Server) handleContractExecute(w http.ResponseWriter, r *http.Request) {
	var req core.ExecuteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	outcome, err := s.contract.ExecuteImport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if outcome.Errors == nil {
		outcome.Errors = []core.RowError{}
	}

	logging.WithFields(r.Context(), "owner_id", req.OwnerID).Info("import executed",
		"created", outcome.Created,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped,
		"failed", outcome.Failed(),
	)
	writeJSON(w, http.StatusOK, outcome)
}
