package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/go-chi/chi/v5"
)

type templateRequest struct {
	Mode    core.ImportMode `json:"mode"`
	Name    string          `json:"name"`
	Mapping core.Mapping    `json:"mapping"`
	Headers []string        `json:"headers"`
}

func decodeTemplate(w http.ResponseWriter, r *http.Request) (templateRequest, error) {
	var req templateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", core.ErrInvalidTemplate, err)
	}
	return req, nil
}

// handleListTemplates lists templates, optionally for one mode.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	var mode core.ImportMode
	if v := r.URL.Query().Get("mode"); v != "" {
		m, err := core.ParseImportMode(v)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		mode = m
	}
	writeJSON(w, http.StatusOK, s.service.ListTemplates(mode))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTemplate(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mode, err := core.ParseImportMode(string(req.Mode))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.service.CreateTemplate(withAuditMeta(r), core.MappingTemplate{
		Mode:    mode,
		Name:    req.Name,
		Mapping: req.Mapping,
		Headers: req.Headers,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTemplate(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.service.UpdateTemplate(withAuditMeta(r), chi.URLParam(r, "id"), req.Name, req.Mapping, req.Headers)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(withAuditMeta(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
