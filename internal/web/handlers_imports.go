package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/JonMunkholm/maintrack/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

// formSlack covers multipart framing and the small form fields sent next
// to the file.
const formSlack = 1 << 20

// readUpload returns the name and bytes of the "file" form field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+formSlack)
	if err := r.ParseMultipartForm(formSlack); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", nil, fmt.Errorf("%w: more than %d bytes", core.ErrFileTooLarge, limit)
		}
		return "", nil, fmt.Errorf("%w: %v", core.ErrNoFile, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, core.ErrNoFile
	}
	defer file.Close()

	data, err := core.ReadUpload(file, limit)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func importMode(r *http.Request) (core.ImportMode, error) {
	return core.ParseImportMode(chi.URLParam(r, "mode"))
}

// handleAutodetect parses the uploaded file and proposes a column mapping
// plus the saved templates that fit its header.
func (s *Server) handleAutodetect(w http.ResponseWriter, r *http.Request) {
	mode, err := importMode(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name, data, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	table, err := s.service.ParseUpload(name, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Header    []string             `json:"header"`
		Rows      int                  `json:"rows"`
		Mapping   core.Mapping         `json:"mapping"`
		Templates []core.TemplateMatch `json:"templates"`
	}{
		Header:    table.Header,
		Rows:      len(table.Rows),
		Mapping:   s.service.Autodetect(table.Header),
		Templates: core.MatchTemplates(s.service.Snapshot().Templates, mode, table.Header),
	})
}

func parseMissingRows(v string) (core.MissingRowPolicy, error) {
	switch core.MissingRowPolicy(strings.TrimSpace(v)) {
	case "", core.MissingIgnore:
		return core.MissingIgnore, nil
	case core.MissingMarkDiscontinued:
		return core.MissingMarkDiscontinued, nil
	}
	return "", fmt.Errorf("%w: missing=%q", core.ErrUnknownMode, v)
}

// previewRequest reads the optional form fields that steer a preview:
// mapping and flags as JSON objects, templateId and missing.
func previewRequest(r *http.Request) (core.PreviewRequest, error) {
	var req core.PreviewRequest
	if v := r.FormValue("mapping"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Mapping); err != nil {
			return req, fmt.Errorf("%w: mapping: %v", core.ErrInvalidTemplate, err)
		}
	}
	req.Flags = core.AllUpdates()
	if v := r.FormValue("flags"); v != "" {
		req.Flags = core.UpdateFlags{}
		if err := json.Unmarshal([]byte(v), &req.Flags); err != nil {
			return req, fmt.Errorf("%w: flags: %v", core.ErrInvalidTemplate, err)
		}
	}
	policy, err := parseMissingRows(r.FormValue("missing"))
	if err != nil {
		return req, err
	}
	req.MissingRows = policy
	req.TemplateID = strings.TrimSpace(r.FormValue("templateId"))
	return req, nil
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	mode, err := importMode(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name, data, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := previewRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req.Mode, req.FileName, req.Data = mode, name, data

	h, err := s.service.PreviewImport(withAuditMeta(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.renderPreview(w, r, h, http.StatusCreated)
}

func (s *Server) renderPreview(w http.ResponseWriter, r *http.Request, h *core.PreviewHandle, status int) {
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = templates.PreviewTable(h).Render(r.Context(), w)
		return
	}
	writeJSON(w, status, h)
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	h, err := s.service.GetPreview(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.renderPreview(w, r, h, http.StatusOK)
}

func (s *Server) handleDiscardPreview(w http.ResponseWriter, r *http.Request) {
	s.service.DiscardPreview(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplyPreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ApplyPreview(withAuditMeta(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = templates.ApplyResult(res).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
