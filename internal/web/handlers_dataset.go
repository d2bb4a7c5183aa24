package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/JonMunkholm/maintrack/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

type decodeResponse struct {
	Repaired bool     `json:"repaired"`
	Reset    []string `json:"reset,omitempty"`
	Dropped  int      `json:"dropped"`
	Revision int64    `json:"revision"`
}

func (s *Server) decodeResponse(rep core.DecodeReport) decodeResponse {
	return decodeResponse{
		Repaired: rep.Repaired(),
		Reset:    rep.Reset,
		Dropped:  rep.Dropped,
		Revision: s.service.Snapshot().Revision,
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := templates.Dashboard(s.service.Stats(), s.service.ListWorkOrders(core.WorkOrderOpen))
	if err := page.Render(r.Context(), w); err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"revision": s.service.Snapshot().Revision,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		core.DatasetStats
		Import core.ImportLimiterStatus `json:"import"`
	}{s.service.Stats(), s.service.LimiterStatus()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportDataset()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := fmt.Sprintf("maintrack-%s.json", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(data)
}

// handleImportBackup replaces the dataset with an uploaded backup, sent
// either as the raw JSON body or as the "file" form field.
func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_, d, err := s.readUpload(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data = d
	} else {
		d, err := core.ReadUpload(r.Body, s.cfg.Import.MaxFileSize)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data = d
	}

	rep, err := s.service.ImportDataset(withAuditMeta(r), data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.decodeResponse(rep))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.service.ListSnapshots(r.Context(), queryLimit(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	rep, err := s.service.RestoreSnapshot(withAuditMeta(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.decodeResponse(rep))
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	rep, err := s.service.RepairDataset(withAuditMeta(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
