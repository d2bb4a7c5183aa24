package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error
}

func (m *memStore) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memStore) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

type fakeReports struct {
	files []ReportFile
	err   error
}

func (f fakeReports) ListReports(context.Context) ([]ReportFile, error) {
	return f.files, f.err
}

func newTestService(t *testing.T, store *memStore, cfg ServiceConfig, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s, err := NewService(context.Background(), store, cfg, opts...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return s
}

var equipmentCSV = []byte("TASY,Descrição,Setor\n1234,Monitor,UTI\n5678,Bomba,UTI\n")

func TestNewService(t *testing.T) {
	store := &memStore{}
	s := newTestService(t, store, ServiceConfig{})

	if store.saves != 0 {
		t.Errorf("empty store saved %d times on load, want 0", store.saves)
	}
	if got := s.Config(); got.PreviewTTL != DefaultPreviewTTL || got.WorkOrderHorizon != DefaultWorkOrderHorizonDays {
		t.Errorf("Config() = %+v, want defaults", got)
	}
	if s.Snapshot().Revision != 0 {
		t.Errorf("Revision = %d, want 0", s.Snapshot().Revision)
	}
}

func TestNewService_RepairsLegacyData(t *testing.T) {
	store := &memStore{data: []byte(`{"revision":4,"plans":[{"equipKey":"tasy:1","activity":"Preventiva","nextDate":"01/04/2024"}]}`)}
	s := newTestService(t, store, ServiceConfig{})

	ds := s.Snapshot()
	if store.saves != 1 || ds.Revision != 5 {
		t.Errorf("saves = %d, revision = %d, want 1 and 5", store.saves, ds.Revision)
	}
	if ds.Plans[0].Sequence != 1 || ds.Plans[0].PlanKey != "tasy:1::preventiva" {
		t.Errorf("plan = %+v, want backfilled sequence and key", ds.Plans[0])
	}
	if len(ds.Logs) != 1 || ds.Logs[0].Action != ActionDatasetRepair {
		t.Errorf("Logs = %+v, want one repair entry", ds.Logs)
	}
}

func TestService_PreviewAndApply(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newTestService(t, store, ServiceConfig{})

	h, err := s.PreviewImport(ctx, PreviewRequest{Mode: "equipamentos", FileName: "equip.csv", Data: equipmentCSV})
	if err != nil {
		t.Fatalf("PreviewImport() error = %v", err)
	}
	if h.Mapping.Get(RoleName) != "descricao" || h.Mapping.Get(RoleSector) != "setor" {
		t.Errorf("autodetected mapping = %+v", h.Mapping)
	}
	if h.Preview.Summary.Create != 2 || !h.ExpiresAt.Equal(testNow.Add(DefaultPreviewTTL)) {
		t.Errorf("handle = %+v, want 2 creates expiring after the TTL", h)
	}
	if s.Snapshot().Revision != 0 || len(s.Snapshot().Equipment) != 0 {
		t.Fatal("PreviewImport() changed the dataset")
	}

	res, err := s.ApplyPreview(ctx, h.ID)
	if err != nil {
		t.Fatalf("ApplyPreview() error = %v", err)
	}
	if res.Created != 2 || res.SectorsCreated != 1 {
		t.Errorf("result = %+v, want 2 created and 1 sector", res)
	}

	st := s.Stats()
	if st.Revision != 1 || st.Equipment != 2 || st.ActiveEquipment != 2 || st.Sectors != 1 || st.PendingPreviews != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
	if _, err := s.GetPreview(h.ID); !errors.Is(err, ErrPreviewNotFound) {
		t.Errorf("GetPreview(applied) error = %v, want ErrPreviewNotFound", err)
	}

	exported, err := s.ExportDataset()
	if err != nil {
		t.Fatalf("ExportDataset() error = %v", err)
	}
	if ds, _ := DecodeDataset(exported); len(ds.Equipment) != 2 {
		t.Errorf("exported equipment = %d, want 2", len(ds.Equipment))
	}
	if logs := s.AuditLog(1); len(logs) != 1 || logs[0].Action != ActionImportEquipment {
		t.Errorf("AuditLog(1) = %+v", logs)
	}
}

func TestService_ApplyStalePreview(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, &memStore{}, ServiceConfig{})

	first, _ := s.PreviewImport(ctx, PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: equipmentCSV})
	second, _ := s.PreviewImport(ctx, PreviewRequest{Mode: ModeSectors, FileName: "b.csv", Data: []byte("Setor\nEmergência\n")})

	if _, err := s.ApplyPreview(ctx, first.ID); err != nil {
		t.Fatalf("ApplyPreview(first) error = %v", err)
	}
	if _, err := s.ApplyPreview(ctx, second.ID); !errors.Is(err, ErrPreviewStale) {
		t.Fatalf("ApplyPreview(second) error = %v, want ErrPreviewStale", err)
	}
	if _, err := s.GetPreview(second.ID); !errors.Is(err, ErrPreviewNotFound) {
		t.Errorf("stale preview kept: %v", err)
	}
	if got := len(s.Snapshot().Sectors); got != 1 {
		t.Errorf("Sectors = %d, want 1 (stale preview not applied)", got)
	}
}

func TestService_ApplyBusy(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, &memStore{}, ServiceConfig{MaxWait: 20 * time.Millisecond})
	h, _ := s.PreviewImport(ctx, PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: equipmentCSV})

	if !s.limiter.TryAcquire("test") {
		t.Fatal("TryAcquire() = false on an idle limiter")
	}
	if _, err := s.ApplyPreview(ctx, h.ID); !errors.Is(err, ErrImportBusy) {
		t.Errorf("ApplyPreview() while busy error = %v, want ErrImportBusy", err)
	}
	if st := s.LimiterStatus(); !st.Busy || st.Operation != "test" {
		t.Errorf("LimiterStatus() = %+v, want busy with test", st)
	}
	s.limiter.Release()

	if _, err := s.ApplyPreview(ctx, h.ID); err != nil {
		t.Errorf("ApplyPreview() after release error = %v", err)
	}
}

func TestService_SaveFailureKeepsDataset(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newTestService(t, store, ServiceConfig{})
	h, _ := s.PreviewImport(ctx, PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: equipmentCSV})

	store.err = errors.New("disk full")
	if _, err := s.ApplyPreview(ctx, h.ID); !errors.Is(err, store.err) {
		t.Fatalf("ApplyPreview() error = %v, want the store error", err)
	}
	if ds := s.Snapshot(); ds.Revision != 0 || len(ds.Equipment) != 0 {
		t.Errorf("dataset changed after failed save: revision %d, %d equipment", ds.Revision, len(ds.Equipment))
	}
	if _, err := s.GetPreview(h.ID); err != nil {
		t.Errorf("preview dropped after failed save: %v", err)
	}
}

func TestService_UploadErrors(t *testing.T) {
	s := newTestService(t, &memStore{}, ServiceConfig{MaxFileSize: 64})

	tests := []struct {
		name string
		req  PreviewRequest
		want error
	}{
		{name: "no data", req: PreviewRequest{Mode: ModeEquipment, FileName: "a.csv"}, want: ErrEmptyFile},
		{name: "header only", req: PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: []byte("TASY,Nome\n")}, want: ErrEmptyFile},
		{name: "too large", req: PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: make([]byte, 65)}, want: ErrFileTooLarge},
		{name: "unknown mode", req: PreviewRequest{Mode: "x", FileName: "a.csv", Data: equipmentCSV}, want: ErrUnknownMode},
		{name: "unknown template", req: PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: equipmentCSV, TemplateID: "nope"}, want: ErrTemplateNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.PreviewImport(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("PreviewImport() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_PreviewExpiry(t *testing.T) {
	now := testNow
	s := newTestService(t, &memStore{}, ServiceConfig{}, WithClock(func() time.Time { return now }))

	h, err := s.PreviewImport(context.Background(), PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: equipmentCSV})
	if err != nil {
		t.Fatalf("PreviewImport() error = %v", err)
	}

	now = now.Add(DefaultPreviewTTL + time.Minute)
	if _, err := s.GetPreview(h.ID); !errors.Is(err, ErrPreviewNotFound) {
		t.Errorf("GetPreview(expired) error = %v, want ErrPreviewNotFound", err)
	}
	if n := s.PrunePreviews(); n != 1 {
		t.Errorf("PrunePreviews() = %d, want 1", n)
	}
}

func TestService_Templates(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, &memStore{}, ServiceConfig{})

	tpl, err := s.CreateTemplate(ctx, MappingTemplate{
		Mode:    ModeSectors,
		Name:    "Unidades",
		Mapping: Mapping{RoleSector: "unidade"},
		Headers: []string{"Unidade", "Andar"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	h, err := s.PreviewImport(ctx, PreviewRequest{
		Mode:       ModeSectors,
		FileName:   "unidades.csv",
		Data:       []byte("Unidade,Andar\nEmergência,1\nPediatria,2\n"),
		TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("PreviewImport(template) error = %v", err)
	}
	if h.Preview.Summary.Create != 2 {
		t.Errorf("Summary = %+v, want 2 creates through the template mapping", h.Preview.Summary)
	}
	if len(h.Templates) != 1 || h.Templates[0].Template.ID != tpl.ID {
		t.Errorf("suggested templates = %+v, want the saved template", h.Templates)
	}

	// Without a mapping or template id the best match seeds the mapping.
	// "Ala" is not in the autodetect vocabulary.
	if _, err := s.CreateTemplate(ctx, MappingTemplate{
		Mode:    ModeSectors,
		Name:    "Alas",
		Mapping: Mapping{RoleSector: "ala"},
		Headers: []string{"Ala", "Andar"},
	}); err != nil {
		t.Fatalf("CreateTemplate(Alas) error = %v", err)
	}
	h, err = s.PreviewImport(ctx, PreviewRequest{
		Mode:     ModeSectors,
		FileName: "alas.csv",
		Data:     []byte("Ala,Andar\nEmergência,1\n"),
	})
	if err != nil {
		t.Fatalf("PreviewImport(matched) error = %v", err)
	}
	if got := h.Mapping.Get(RoleSector); got != "ala" {
		t.Errorf("seeded mapping sector = %q, want %q", got, "ala")
	}
	if h.Preview.Summary.Create != 1 {
		t.Errorf("Summary = %+v, want 1 create through the matched template", h.Preview.Summary)
	}

	if _, err := s.UpdateTemplate(ctx, tpl.ID, "Unidades 2", tpl.Mapping, tpl.Headers); err != nil {
		t.Errorf("UpdateTemplate() error = %v", err)
	}
	if got := s.ListTemplates(ModeSectors); len(got) != 2 || got[1].Name != "Unidades 2" {
		t.Errorf("ListTemplates() = %+v", got)
	}
	if err := s.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Errorf("DeleteTemplate() error = %v", err)
	}
	if got := s.ListTemplates(""); len(got) != 1 {
		t.Errorf("ListTemplates() after delete = %d, want 1", len(got))
	}
}

func TestService_ImportDataset(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, &memStore{}, ServiceConfig{})
	h, _ := s.PreviewImport(ctx, PreviewRequest{Mode: ModeEquipment, FileName: "a.csv", Data: equipmentCSV})

	for _, bad := range []string{"", "not json", "[1,2]"} {
		if _, err := s.ImportDataset(ctx, []byte(bad)); !errors.Is(err, ErrInvalidBackup) {
			t.Errorf("ImportDataset(%q) error = %v, want ErrInvalidBackup", bad, err)
		}
	}

	backup, _ := fixtureDataset().Encode()
	if _, err := s.ImportDataset(ctx, backup); err != nil {
		t.Fatalf("ImportDataset() error = %v", err)
	}
	ds := s.Snapshot()
	if len(ds.Equipment) != 3 || len(ds.Plans) != 2 || ds.Revision != 1 {
		t.Errorf("imported dataset: %d equipment, %d plans, revision %d", len(ds.Equipment), len(ds.Plans), ds.Revision)
	}
	if _, err := s.GetPreview(h.ID); !errors.Is(err, ErrPreviewNotFound) {
		t.Errorf("preview survived a dataset import: %v", err)
	}
}

func TestService_WorkOrdersAndReports(t *testing.T) {
	ctx := context.Background()
	src := fakeReports{files: []ReportFile{{ID: "f1", Name: "Laudo TASY 1234.pdf", Link: "https://files/f1"}}}
	s := newTestService(t, &memStore{}, ServiceConfig{WorkOrderHorizon: 60}, WithReportSource(src))

	backup, _ := fixtureDataset().Encode()
	if _, err := s.ImportDataset(ctx, backup); err != nil {
		t.Fatalf("ImportDataset() error = %v", err)
	}

	opened, err := s.GenerateWorkOrders(ctx)
	if err != nil {
		t.Fatalf("GenerateWorkOrders() error = %v", err)
	}
	if len(opened) != 1 || opened[0].PlanKey != "tasy:1234::calibração" {
		t.Fatalf("opened = %+v, want the calibration plan due 09/04/2024", opened)
	}
	rev := s.Snapshot().Revision
	if again, _ := s.GenerateWorkOrders(ctx); len(again) != 0 || s.Snapshot().Revision != rev {
		t.Errorf("second run opened %d orders and moved the revision", len(again))
	}

	if _, err := s.FulfillWorkOrder(ctx, opened[0].Sequence, ""); !errors.Is(err, ErrNoReportLinked) {
		t.Errorf("FulfillWorkOrder() before scan error = %v, want ErrNoReportLinked", err)
	}

	sum, err := s.ScanReports(ctx)
	if err != nil {
		t.Fatalf("ScanReports() error = %v", err)
	}
	if sum.Linked != 1 || sum.Fulfilled != 1 {
		t.Errorf("ScanReports() = %+v, want 1 linked and 1 fulfilled", sum)
	}

	views := s.ListWorkOrders(WorkOrderFulfilled)
	if len(views) != 1 || views[0].State != DueFulfilled || views[0].ReportLink != "https://files/f1" {
		t.Errorf("ListWorkOrders(fulfilled) = %+v", views)
	}
	if events := s.Timeline("tasy:1234", 0); len(events) != 2 {
		t.Errorf("Timeline() = %d events, want report link and fulfilment", len(events))
	}
}

func TestService_ScanReportsWithoutSource(t *testing.T) {
	s := newTestService(t, &memStore{}, ServiceConfig{})
	if _, err := s.ScanReports(context.Background()); !errors.Is(err, ErrNoReportSource) {
		t.Errorf("ScanReports() error = %v, want ErrNoReportSource", err)
	}
}
