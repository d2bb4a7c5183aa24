package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/maintrack/internal/logging"
	"github.com/google/uuid"
)

// DefaultPreviewTTL is how long an unapplied preview is kept.
const DefaultPreviewTTL = 30 * time.Minute

// DatasetStore persists the dataset as one encoded blob.
// Load returns nil data when nothing has been saved yet.
type DatasetStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// ReportSource lists inspection report files.
type ReportSource interface {
	ListReports(ctx context.Context) ([]ReportFile, error)
}

// Observer receives operational measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	PreviewBuilt(mode ImportMode, p *Preview)
	ImportApplied(mode ImportMode, res ApplyResult, elapsed time.Duration, err error)
	WorkOrdersOpened(n int)
	WorkOrderFulfilled()
	ReportsScanned(sum ReportScanSummary)
	DatasetSaved(size int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) PreviewBuilt(ImportMode, *Preview)                           {}
func (nopObserver) ImportApplied(ImportMode, ApplyResult, time.Duration, error) {}
func (nopObserver) WorkOrdersOpened(int)                                        {}
func (nopObserver) WorkOrderFulfilled()                                         {}
func (nopObserver) ReportsScanned(ReportScanSummary)                            {}
func (nopObserver) DatasetSaved(int, time.Duration, error)                      {}

// ServiceConfig holds the tunables of a Service. Zero values take defaults.
type ServiceConfig struct {
	PreviewTTL       time.Duration
	MaxWait          time.Duration
	MaxFileSize      int64
	WorkOrderHorizon int
	Limits           Limits
	// Candidates is extra header vocabulary tried before the defaults.
	Candidates Candidates
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithReportSource enables report scans.
func WithReportSource(src ReportSource) Option {
	return func(s *Service) { s.reports = src }
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the dataset and runs every operation on it.
//
// The dataset is copy-on-write: writers work on a Clone while holding the
// import limiter, persist it, and only then swap it in. Readers take the
// current pointer and never see a partially applied change.
type Service struct {
	store      DatasetStore
	reports    ReportSource
	observer   Observer
	limiter    *ImportLimiter
	cfg        ServiceConfig
	candidates Candidates
	now        func() time.Time

	mu sync.RWMutex
	ds *Dataset

	previewMu sync.Mutex
	previews  map[string]*PreviewHandle
}

// NewService loads the dataset from store, repairing legacy records.
func NewService(ctx context.Context, store DatasetStore, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = DefaultPreviewTTL
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.WorkOrderHorizon <= 0 {
		cfg.WorkOrderHorizon = DefaultWorkOrderHorizonDays
	}
	if cfg.Limits.AuditEntries <= 0 || cfg.Limits.TimelineEvents <= 0 {
		def := DefaultLimits()
		if cfg.Limits.AuditEntries <= 0 {
			cfg.Limits.AuditEntries = def.AuditEntries
		}
		if cfg.Limits.TimelineEvents <= 0 {
			cfg.Limits.TimelineEvents = def.TimelineEvents
		}
	}

	s := &Service{
		store:      store,
		observer:   nopObserver{},
		limiter:    NewImportLimiter(cfg.MaxWait),
		cfg:        cfg,
		candidates: DefaultCandidates().Merge(cfg.Candidates),
		now:        time.Now,
		previews:   make(map[string]*PreviewHandle),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load(ctx context.Context) error {
	data, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	ds, report := DecodeDataset(data)
	if report.Corrupt {
		slog.Warn("stored dataset is not valid JSON, starting empty")
	} else if report.Repaired() {
		slog.Warn("stored dataset repaired on load",
			"reset_collections", strings.Join(report.Reset, ","),
			"dropped_records", report.Dropped,
		)
	}

	s.mu.Lock()
	s.ds = ds
	s.mu.Unlock()

	if _, err := s.RepairDataset(ctx); err != nil {
		return fmt.Errorf("repair dataset: %w", err)
	}
	return nil
}

// errNoChange makes mutate skip the save.
var errNoChange = errors.New("no change")

// mutate runs fn against a clone of the dataset and commits the clone if fn
// succeeds. Only one mutate runs at a time.
func (s *Service) mutate(ctx context.Context, operation string, fn func(ds *Dataset, j Journal, now time.Time) error) error {
	if err := s.limiter.Acquire(ctx, operation); err != nil {
		return err
	}
	defer s.limiter.Release()

	work := s.Snapshot().Clone()
	now := s.now()
	j := NewDatasetJournal(work, now, s.cfg.Limits, AuditMetaFromContext(ctx))

	if err := fn(work, j, now); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}

	work.Revision++
	if err := s.persist(ctx, work); err != nil {
		return err
	}

	s.mu.Lock()
	s.ds = work
	s.mu.Unlock()
	return nil
}

func (s *Service) persist(ctx context.Context, ds *Dataset) error {
	data, err := ds.Encode()
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	start := time.Now()
	err = s.store.Save(ctx, data)
	s.observer.DatasetSaved(len(data), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	return nil
}

// Snapshot returns the current dataset. Callers must not modify it.
func (s *Service) Snapshot() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ds
}

// Config returns the effective configuration.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// LimiterStatus reports the writer currently holding the dataset.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForDrain blocks until the running writer, if any, finishes.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// =============================================================================
// Import preview and apply
// =============================================================================

// PreviewRequest describes an uploaded import file.
type PreviewRequest struct {
	Mode        ImportMode
	FileName    string
	Data        []byte
	Mapping     Mapping
	TemplateID  string
	Flags       UpdateFlags
	MissingRows MissingRowPolicy
}

// PreviewHandle is a cached preview awaiting apply.
type PreviewHandle struct {
	ID        string          `json:"id"`
	FileName  string          `json:"fileName"`
	Header    []string        `json:"header"`
	Mapping   Mapping         `json:"mapping"`
	Preview   *Preview        `json:"preview"`
	Templates []TemplateMatch `json:"templates"`
	Revision  int64           `json:"revision"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// ParseUpload decodes an import file, enforcing size and emptiness rules.
func (s *Service) ParseUpload(fileName string, data []byte) (*Table, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(data))
	}
	t, err := Parse(data, fileName)
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, ErrEmptyFile
	}
	return t, nil
}

// Autodetect maps header to roles using the configured vocabulary.
func (s *Service) Autodetect(header []string) Mapping {
	return Autodetect(header, s.candidates)
}

// PreviewImport parses an upload and builds its preview against the current
// dataset. The mapping comes from the request, else from the named
// template, else from the best matching template of the mode, else from
// autodetection.
func (s *Service) PreviewImport(ctx context.Context, req PreviewRequest) (*PreviewHandle, error) {
	mode, err := ParseImportMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	table, err := s.ParseUpload(req.FileName, req.Data)
	if err != nil {
		return nil, err
	}

	ds := s.Snapshot()
	matches := MatchTemplates(ds.Templates, mode, table.Header)
	mapping := req.Mapping.Clone()
	switch {
	case mapping.Mapped() > 0:
	case req.TemplateID != "":
		idx := ds.FindTemplate(req.TemplateID)
		if idx < 0 {
			return nil, fmt.Errorf("template %s: %w", req.TemplateID, ErrTemplateNotFound)
		}
		mapping = ds.Templates[idx].Mapping.Clone()
	case len(matches) > 0:
		mapping = matches[0].Template.Mapping.Clone()
	}
	if mapping.Mapped() == 0 {
		mapping = s.Autodetect(table.Header)
	}

	p, err := Build(ds, table, mapping, mode, BuildOptions{Flags: req.Flags, MissingRows: req.MissingRows})
	if err != nil {
		return nil, err
	}
	s.observer.PreviewBuilt(mode, p)

	now := s.now()
	h := &PreviewHandle{
		ID:        uuid.NewString(),
		FileName:  req.FileName,
		Header:    table.Header,
		Mapping:   mapping,
		Preview:   p,
		Templates: matches,
		Revision:  ds.Revision,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.PreviewTTL),
	}

	s.previewMu.Lock()
	s.prunePreviewsLocked(now)
	s.previews[h.ID] = h
	s.previewMu.Unlock()

	logging.ForImport(ctx, string(mode), req.FileName, h.ID).Info("import preview built",
		"rows", len(table.Rows),
		"create", p.Summary.Create,
		"update", p.Summary.Update,
		"discontinue", p.Summary.Discontinue,
		"invalid", p.Summary.Invalid,
	)
	return h, nil
}

// GetPreview returns a cached preview.
func (s *Service) GetPreview(id string) (*PreviewHandle, error) {
	s.previewMu.Lock()
	defer s.previewMu.Unlock()

	h, ok := s.previews[id]
	if !ok || s.now().After(h.ExpiresAt) {
		return nil, fmt.Errorf("preview %s: %w", id, ErrPreviewNotFound)
	}
	return h, nil
}

// DiscardPreview drops a cached preview.
func (s *Service) DiscardPreview(id string) {
	s.previewMu.Lock()
	delete(s.previews, id)
	s.previewMu.Unlock()
}

// PrunePreviews drops expired previews and returns how many were removed.
func (s *Service) PrunePreviews() int {
	s.previewMu.Lock()
	defer s.previewMu.Unlock()
	return s.prunePreviewsLocked(s.now())
}

func (s *Service) prunePreviewsLocked(now time.Time) int {
	n := 0
	for id, h := range s.previews {
		if now.After(h.ExpiresAt) {
			delete(s.previews, id)
			n++
		}
	}
	return n
}

// ApplyPreview commits a cached preview. A preview built against an older
// revision of the dataset is rejected with ErrPreviewStale.
func (s *Service) ApplyPreview(ctx context.Context, id string) (ApplyResult, error) {
	h, err := s.GetPreview(id)
	if err != nil {
		return ApplyResult{}, err
	}

	var res ApplyResult
	start := time.Now()
	err = s.mutate(ctx, "apply "+string(h.Preview.Mode), func(ds *Dataset, j Journal, now time.Time) error {
		if ds.Revision != h.Revision {
			return fmt.Errorf("preview %s built at revision %d, dataset at %d: %w",
				id, h.Revision, ds.Revision, ErrPreviewStale)
		}
		var applyErr error
		res, applyErr = Apply(ds, h.Preview, now, j)
		return applyErr
	})
	s.observer.ImportApplied(h.Preview.Mode, res, time.Since(start), err)

	log := logging.ForImport(ctx, string(h.Preview.Mode), h.FileName, id)
	if err != nil && !errors.Is(err, ErrPreviewStale) {
		log.Error("import apply failed", "error", err)
		return res, err
	}
	s.DiscardPreview(id)
	if err != nil {
		return res, err
	}

	log.Info("import applied",
		"created", res.Created,
		"updated", res.Updated,
		"discontinued", res.Discontinued,
		"skipped", res.Skipped,
		"plans_deactivated", res.PlansDeactivated,
		"invalid", res.Invalid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// =============================================================================
// Work orders and reports
// =============================================================================

func today(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// GenerateWorkOrders opens work orders for plans due within the horizon.
func (s *Service) GenerateWorkOrders(ctx context.Context) ([]WorkOrder, error) {
	var opened []WorkOrder
	err := s.mutate(ctx, "work orders", func(ds *Dataset, j Journal, now time.Time) error {
		opened = GenerateWorkOrders(ds, today(now), s.cfg.WorkOrderHorizon, now, j)
		if len(opened) == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observer.WorkOrdersOpened(len(opened))
	return opened, nil
}

// FulfillWorkOrder closes open order seq. fulfilledOn may be blank.
func (s *Service) FulfillWorkOrder(ctx context.Context, seq int, fulfilledOn string) (WorkOrder, error) {
	var o WorkOrder
	err := s.mutate(ctx, "fulfil work order", func(ds *Dataset, j Journal, now time.Time) error {
		var ferr error
		o, ferr = FulfillWorkOrder(ds, seq, fulfilledOn, today(now), now, j)
		return ferr
	})
	if err != nil {
		return WorkOrder{}, err
	}
	s.observer.WorkOrderFulfilled()
	logging.FromContext(ctx).Info("work order fulfilled", "seq", o.Sequence, "plan_key", o.PlanKey, "date", o.FulfilledAt)
	return o, nil
}

// ScanReports links the newest report PDF per identity tag to its equipment
// and closes open work orders that now have a report.
func (s *Service) ScanReports(ctx context.Context) (ReportScanSummary, error) {
	if s.reports == nil {
		return ReportScanSummary{}, ErrNoReportSource
	}
	files, err := s.reports.ListReports(ctx)
	if err != nil {
		return ReportScanSummary{}, fmt.Errorf("list reports: %w", err)
	}

	var sum ReportScanSummary
	err = s.mutate(ctx, "report scan", func(ds *Dataset, j Journal, now time.Time) error {
		sum = LinkReports(ds, files, now, j)
		sum.Fulfilled = FulfillWithReports(ds, today(now), now, j)
		j.AppendAuditLog(ActionReportScan, sum.String())
		return nil
	})
	if err != nil {
		return ReportScanSummary{}, err
	}
	s.observer.ReportsScanned(sum)
	logging.FromContext(ctx).Info("report scan completed",
		"pdfs", sum.PDFs,
		"matched", sum.Matched,
		"linked", sum.Linked,
		"updated", sum.Updated,
		"missing_equipment", sum.MissingEquipment,
		"fulfilled", sum.Fulfilled,
	)
	return sum, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// RepairDataset backfills legacy fields and saves when anything changed.
func (s *Service) RepairDataset(ctx context.Context) (RepairReport, error) {
	var rep RepairReport
	err := s.mutate(ctx, "repair", func(ds *Dataset, j Journal, _ time.Time) error {
		rep = ds.Repair()
		if !rep.Changed() {
			return errNoChange
		}
		j.AppendAuditLog(ActionDatasetRepair, fmt.Sprintf(
			"sectors_linked=%d plan_sequences=%d plan_keys=%d work_order_numbers=%d",
			rep.SectorsLinked, rep.PlanSequences, rep.PlanKeys, rep.WorkOrderNumbers))
		return nil
	})
	if err != nil {
		return RepairReport{}, err
	}
	if rep.Changed() {
		logging.FromContext(ctx).Info("dataset repaired",
			"sectors_linked", rep.SectorsLinked,
			"plan_sequences", rep.PlanSequences,
			"plan_keys", rep.PlanKeys,
			"work_order_numbers", rep.WorkOrderNumbers,
		)
	}
	return rep, nil
}

// ExportDataset returns the encoded dataset for backup.
func (s *Service) ExportDataset() ([]byte, error) {
	return s.Snapshot().Encode()
}

// ImportDataset replaces the dataset with a backup. Damaged collections are
// repaired the same way as on load; a blob that is not a JSON object fails
// with ErrInvalidBackup.
func (s *Service) ImportDataset(ctx context.Context, data []byte) (DecodeReport, error) {
	return s.replaceDataset(ctx, "dataset import", ActionDatasetImport, "", data)
}

func (s *Service) replaceDataset(ctx context.Context, operation string, action AuditAction, source string, data []byte) (DecodeReport, error) {
	imported, report := DecodeDataset(data)
	if report.Corrupt || len(strings.TrimSpace(string(data))) == 0 {
		return report, ErrInvalidBackup
	}
	imported.Repair()

	err := s.mutate(ctx, operation, func(ds *Dataset, j Journal, _ time.Time) error {
		imported.Revision = ds.Revision
		*ds = *imported
		details := fmt.Sprintf(
			"equipment=%d plans=%d work_orders=%d reset=%s dropped=%d",
			len(ds.Equipment), len(ds.Plans), len(ds.WorkOrders),
			strings.Join(report.Reset, ","), report.Dropped)
		if source != "" {
			details = "source=" + source + " " + details
		}
		j.AppendAuditLog(action, details)
		return nil
	})
	if err != nil {
		return report, err
	}

	s.previewMu.Lock()
	clear(s.previews)
	s.previewMu.Unlock()
	return report, nil
}

// =============================================================================
// Mapping templates
// =============================================================================

// ListTemplates returns the templates for mode, or all when mode is "".
func (s *Service) ListTemplates(mode ImportMode) []MappingTemplate {
	return TemplatesForMode(s.Snapshot().Templates, mode)
}

// CreateTemplate saves a mapping template.
func (s *Service) CreateTemplate(ctx context.Context, t MappingTemplate) (MappingTemplate, error) {
	var out MappingTemplate
	err := s.mutate(ctx, "template", func(ds *Dataset, j Journal, now time.Time) error {
		var terr error
		out, terr = ds.AddTemplate(t, now)
		if terr != nil {
			return terr
		}
		j.AppendAuditLog(ActionTemplateCreate, fmt.Sprintf("%s %q", out.Mode, out.Name))
		return nil
	})
	return out, err
}

// UpdateTemplate changes a template's name, mapping and headers.
func (s *Service) UpdateTemplate(ctx context.Context, id, name string, mapping Mapping, headers []string) (MappingTemplate, error) {
	var out MappingTemplate
	err := s.mutate(ctx, "template", func(ds *Dataset, _ Journal, now time.Time) error {
		var terr error
		out, terr = ds.UpdateTemplate(id, name, mapping, headers, now)
		return terr
	})
	return out, err
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	return s.mutate(ctx, "template", func(ds *Dataset, j Journal, _ time.Time) error {
		if err := ds.DeleteTemplate(id); err != nil {
			return err
		}
		j.AppendAuditLog(ActionTemplateDelete, id)
		return nil
	})
}

// =============================================================================
// Queries
// =============================================================================

// DatasetStats is the dashboard summary.
type DatasetStats struct {
	Revision         int64           `json:"revision"`
	Equipment        int             `json:"equipment"`
	ActiveEquipment  int             `json:"activeEquipment"`
	Plans            int             `json:"plans"`
	ActivePlans      int             `json:"activePlans"`
	Sectors          int             `json:"sectors"`
	Types            int             `json:"types"`
	Reports          int             `json:"reports"`
	WorkOrders       WorkOrderCounts `json:"workOrders"`
	PendingPreviews  int             `json:"pendingPreviews"`
	LastAuditEntryAt time.Time       `json:"lastAuditEntryAt,omitzero"`
}

// Stats summarizes the current dataset.
func (s *Service) Stats() DatasetStats {
	ds := s.Snapshot()
	st := DatasetStats{
		Revision:   ds.Revision,
		Equipment:  len(ds.Equipment),
		Plans:      len(ds.Plans),
		Sectors:    len(ds.Sectors),
		Types:      len(ds.Types),
		Reports:    len(ds.Reports),
		WorkOrders: CountWorkOrders(ds.WorkOrders, today(s.now()), s.cfg.WorkOrderHorizon),
	}
	for _, e := range ds.Equipment {
		if e.Status != StatusDiscontinued {
			st.ActiveEquipment++
		}
	}
	for _, p := range ds.Plans {
		if p.Active {
			st.ActivePlans++
		}
	}
	if len(ds.Logs) > 0 {
		st.LastAuditEntryAt = ds.Logs[0].At
	}

	s.previewMu.Lock()
	st.PendingPreviews = len(s.previews)
	s.previewMu.Unlock()
	return st
}

// WorkOrderView is a work order with its due state.
type WorkOrderView struct {
	WorkOrder
	State DueState `json:"state"`
}

// ListWorkOrders returns work orders, newest sequence first. status filters
// by "open" or "fulfilled"; blank returns all.
func (s *Service) ListWorkOrders(status WorkOrderStatus) []WorkOrderView {
	ds := s.Snapshot()
	t := today(s.now())
	out := make([]WorkOrderView, 0, len(ds.WorkOrders))
	for _, o := range ds.WorkOrders {
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, WorkOrderView{WorkOrder: o, State: ClassifyWorkOrder(o, t, s.cfg.WorkOrderHorizon)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	return out
}

// Timeline returns up to limit events, newest first, optionally for one
// equipment key.
func (s *Service) Timeline(equipmentKey string, limit int) []TimelineEvent {
	ds := s.Snapshot()
	out := make([]TimelineEvent, 0)
	for _, ev := range ds.Events {
		if equipmentKey != "" && ev.EquipmentKey != equipmentKey {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// AuditLog returns up to limit audit entries, newest first.
func (s *Service) AuditLog(limit int) []AuditEntry {
	logs := s.Snapshot().Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return append([]AuditEntry(nil), logs...)
}
