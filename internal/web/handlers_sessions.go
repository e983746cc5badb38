package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/logging"
	"github.com/loliloopp/PassDesk-sub001/internal/spreadsheet"
)

const (
	// multipartMemory is the part of an upload kept in memory; the rest spills to disk.
	multipartMemory = 8 << 20

	// formOverhead is allowed on top of the file size for the other form parts.
	formOverhead = 1 << 20

	// maxJSONBody bounds JSON request bodies. Contract requests carry whole files.
	maxJSONBody = 64 << 20

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// resolutionRequest is the body of the resolution endpoints.
type resolutionRequest struct {
	Resolution core.Resolution `json:"resolution"`
}

// handleCreateSession reads an uploaded spreadsheet into a new session.
//
// Form fields: file (xlsx or csv), ownerId.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	sess, err := s.service.CreateSession(r.FormValue("ownerId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := sess.Load(upload.name, upload.sheet.Headers, upload.sheet.Rows); err != nil {
		_ = s.service.DeleteSession(sess.ID)
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(core.ContextWithSessionID(r.Context(), sess.ID),
		"owner_id", sess.OwnerID,
	).Info("file uploaded", "file", upload.name, "rows", len(upload.sheet.Rows))

	writeJSON(w, http.StatusCreated, sess.View())
}

// handleReplaceFile loads a new file into a session that is back at the
// upload step.
func (s *Server) handleReplaceFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	if err := sess.Load(upload.name, upload.sheet.Headers, upload.sheet.Rows); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("file replaced", "file", upload.name, "rows", len(upload.sheet.Rows))
	writeJSON(w, http.StatusOK, sess.View())
}

type upload struct {
	name  string
	sheet spreadsheet.Sheet
}

// readUpload parses the multipart form and reads its file part. On success
// the caller owns r.MultipartForm.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, spreadsheet.ErrFileTooLarge)
			return upload{}, false
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return upload{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		s.respondError(w, r, fmt.Errorf("%w: no file provided", errBadRequest))
		return upload{}, false
	}
	defer file.Close()

	sheet, err := spreadsheet.Read(file, header.Filename, maxSize)
	if err != nil {
		r.MultipartForm.RemoveAll()
		if !errors.Is(err, spreadsheet.ErrFileTooLarge) {
			err = fmt.Errorf("%w: %w", errBadRequest, err)
		}
		s.respondError(w, r, err)
		return upload{}, false
	}
	return upload{name: header.Filename, sheet: sheet}, true
}

// handleListSessions lists open sessions, optionally for one owner.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.service.Sessions(r.URL.Query().Get("ownerId"))
	out := make([]core.SessionView, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.View()
	}
	writeJSON(w, http.StatusOK, out)
}

// session loads the session named in the URL or writes the error.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.service.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidate runs validation and conflict detection. Rows that fail
// validation are part of the view, not an error.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Validate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetResolution(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req resolutionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := sess.SetResolution(chi.URLParam(r, "inn"), req.Resolution); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req resolutionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := sess.ResolveAll(req.Resolution); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleProceed(w http.ResponseWriter, r *http.Request) {
	s.step(w, r, (*core.Session).Proceed)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.step(w, r, (*core.Session).Back)
}

func (s *Server) step(w http.ResponseWriter, r *http.Request, move func(*core.Session) error) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := move(sess); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleExecute starts the batch and returns at once. Clients poll the
// session for progress and the outcome.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.service.StartExecute(sess.ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("execution started", "owner_id", sess.OwnerID)
	writeJSON(w, http.StatusAccepted, sess.View())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.service.ResetSession(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleReport downloads the session's errors, conflicts and outcome as xlsx.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := spreadsheet.WriteReport(&buf, spreadsheet.ReportFromView(sess.View())); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeFile(w, fmt.Sprintf("import-report-%s.xlsx", sess.ID), buf.Bytes())
}

// handleTemplate downloads an empty workbook with the canonical headers.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := spreadsheet.WriteTemplate(&buf); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeFile(w, "employees-template.xlsx", buf.Bytes())
}

func writeFile(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decodeJSON reads a bounded JSON body into v or writes a 400.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}
