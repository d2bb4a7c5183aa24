// Package metrics provides Prometheus metrics for imports, work orders,
// report scans, dataset persistence and HTTP requests.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements core.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	PreviewsBuilt  *prometheus.CounterVec
	PreviewChanges *prometheus.CounterVec
	ImportsApplied *prometheus.CounterVec
	ImportDuration *prometheus.HistogramVec
	RecordsApplied *prometheus.CounterVec
	WorkOrders     prometheus.Counter
	WorkOrdersDone prometheus.Counter
	ReportScans    *prometheus.CounterVec
	DatasetSaves   *prometheus.CounterVec
	DatasetSize    prometheus.Gauge
	SaveDuration   prometheus.Histogram
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,

		PreviewsBuilt: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_previews_built_total",
				Help: "Total number of import previews built",
			},
			[]string{"mode"},
		),
		PreviewChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_preview_changes_total",
				Help: "Changes proposed by import previews, by kind",
			},
			[]string{"mode", "kind"},
		),
		ImportsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_imports_applied_total",
				Help: "Total number of preview applies",
			},
			[]string{"mode", "status"},
		),
		ImportDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maintrack_import_apply_duration_seconds",
				Help:    "Time taken to apply and persist a preview",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"mode"},
		),
		RecordsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_records_applied_total",
				Help: "Records changed by applied imports, by outcome",
			},
			[]string{"mode", "outcome"},
		),
		WorkOrders: f.NewCounter(prometheus.CounterOpts{
			Name: "maintrack_work_orders_opened_total",
			Help: "Total number of work orders opened",
		}),
		WorkOrdersDone: f.NewCounter(prometheus.CounterOpts{
			Name: "maintrack_work_orders_fulfilled_total",
			Help: "Total number of work orders fulfilled",
		}),
		ReportScans: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_report_scan_files_total",
				Help: "Report files seen by scans, by outcome",
			},
			[]string{"outcome"},
		),
		DatasetSaves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_dataset_saves_total",
				Help: "Total number of dataset saves",
			},
			[]string{"status"},
		),
		DatasetSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "maintrack_dataset_size_bytes",
			Help: "Size of the last saved dataset",
		}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "maintrack_dataset_save_duration_seconds",
			Help:    "Time taken to persist the dataset",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintrack_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maintrack_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrPreviewStale):
		return "stale"
	case errors.Is(err, core.ErrImportBusy):
		return "busy"
	default:
		return "error"
	}
}

func (r *Recorder) PreviewBuilt(mode core.ImportMode, p *core.Preview) {
	m := string(mode)
	r.PreviewsBuilt.WithLabelValues(m).Inc()
	r.PreviewChanges.WithLabelValues(m, "create").Add(float64(p.Summary.Create))
	r.PreviewChanges.WithLabelValues(m, "update").Add(float64(p.Summary.Update))
	r.PreviewChanges.WithLabelValues(m, "discontinue").Add(float64(p.Summary.Discontinue))
	r.PreviewChanges.WithLabelValues(m, "invalid").Add(float64(p.Summary.Invalid))
}

func (r *Recorder) ImportApplied(mode core.ImportMode, res core.ApplyResult, elapsed time.Duration, err error) {
	m := string(mode)
	r.ImportsApplied.WithLabelValues(m, status(err)).Inc()
	if err != nil {
		return
	}
	r.ImportDuration.WithLabelValues(m).Observe(elapsed.Seconds())
	r.RecordsApplied.WithLabelValues(m, "created").Add(float64(res.Created))
	r.RecordsApplied.WithLabelValues(m, "updated").Add(float64(res.Updated))
	r.RecordsApplied.WithLabelValues(m, "discontinued").Add(float64(res.Discontinued))
	r.RecordsApplied.WithLabelValues(m, "skipped").Add(float64(res.Skipped))
}

func (r *Recorder) WorkOrdersOpened(n int) { r.WorkOrders.Add(float64(n)) }

func (r *Recorder) WorkOrderFulfilled() { r.WorkOrdersDone.Inc() }

func (r *Recorder) ReportsScanned(sum core.ReportScanSummary) {
	r.ReportScans.WithLabelValues("pdf").Add(float64(sum.PDFs))
	r.ReportScans.WithLabelValues("linked").Add(float64(sum.Linked))
	r.ReportScans.WithLabelValues("updated").Add(float64(sum.Updated))
	r.ReportScans.WithLabelValues("missing_equipment").Add(float64(sum.MissingEquipment))
}

func (r *Recorder) DatasetSaved(size int, elapsed time.Duration, err error) {
	r.DatasetSaves.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	r.DatasetSize.Set(float64(size))
	r.SaveDuration.Observe(elapsed.Seconds())
}

// Middleware records request counts and durations by chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		r.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(ww.status)).Inc()
		r.HTTPDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
