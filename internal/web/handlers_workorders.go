package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/go-chi/chi/v5"
)

// queryLimit reads a positive integer query parameter, falling back to def.
func queryLimit(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	status := core.WorkOrderStatus(r.URL.Query().Get("status"))
	switch status {
	case "", core.WorkOrderOpen, core.WorkOrderFulfilled:
	default:
		http.Error(w, fmt.Sprintf("unknown status %q", status), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.service.ListWorkOrders(status))
}

func (s *Server) handleGenerateWorkOrders(w http.ResponseWriter, r *http.Request) {
	created, err := s.service.GenerateWorkOrders(withAuditMeta(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Created    int              `json:"created"`
		WorkOrders []core.WorkOrder `json:"workOrders"`
	}{len(created), created})
}

// handleFulfillWorkOrder closes one order. The body is optional:
// {"fulfilledOn": "2024-05-01"}.
func (s *Server) handleFulfillWorkOrder(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "seq")
	seq, err := strconv.Atoi(raw)
	if err != nil {
		s.fail(w, r, fmt.Errorf("OS %q: %w", raw, core.ErrWorkOrderNotFound))
		return
	}

	var body struct {
		FulfilledOn string `json:"fulfilledOn"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	o, err := s.service.FulfillWorkOrder(withAuditMeta(r), seq, body.FulfilledOn)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleScanReports(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.ScanReports(withAuditMeta(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, "limit", s.cfg.Audit.TimelineLimit)
	writeJSON(w, http.StatusOK, s.service.Timeline(r.URL.Query().Get("equip"), limit))
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.AuditLog(queryLimit(r, "limit", s.cfg.Audit.LogLimit)))
}
