package core

import (
	"testing"
	"time"
)

func TestExtractIdentityTag(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "Laudo TASY_1234 2024.pdf", want: "1234"},
		{name: "tasy-77.pdf", want: "77"},
		{name: "Tasy.  900 calibração.pdf", want: "900"},
		{name: "TASY1234.PDF", want: "1234"},
		{name: "relatorio geral.pdf", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractIdentityTag(tt.name); got != tt.want {
				t.Errorf("ExtractIdentityTag(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestReportFileIsPDF(t *testing.T) {
	tests := []struct {
		file ReportFile
		want bool
	}{
		{file: ReportFile{Name: "a.PDF"}, want: true},
		{file: ReportFile{Name: "a", ContentType: "application/pdf"}, want: true},
		{file: ReportFile{Name: "a.docx"}, want: false},
	}
	for _, tt := range tests {
		if got := tt.file.IsPDF(); got != tt.want {
			t.Errorf("IsPDF(%+v) = %v, want %v", tt.file, got, tt.want)
		}
	}
}

func TestLinkReports(t *testing.T) {
	ds := NewDataset()
	ds.Equipment = []Equipment{{IdentityTag: "1234", Name: "Monitor", Status: StatusActive}}

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	files := []ReportFile{
		{ID: "new", Name: "TASY 1234 fev.pdf", Link: "https://files/new", ModifiedAt: feb},
		{ID: "old", Name: "TASY 1234 jan.pdf", Link: "https://files/old", ModifiedAt: jan},
		{ID: "doc", Name: "TASY 1234.docx", Link: "https://files/doc", ModifiedAt: feb},
		{ID: "none", Name: "inventario.pdf", Link: "https://files/none"},
		{ID: "lost", Name: "TASY 9999.pdf", Link: "https://files/lost"},
	}
	j := NewDatasetJournal(ds, testNow, DefaultLimits(), AuditMeta{})

	sum := LinkReports(ds, files, testNow, j)

	want := ReportScanSummary{PDFs: 4, Matched: 3, Linked: 1, MissingEquipment: 1}
	if sum != want {
		t.Fatalf("LinkReports() = %+v, want %+v", sum, want)
	}
	e := ds.Equipment[0]
	if e.ReportFileID != "new" || e.ReportLink != "https://files/new" || !e.ReportModifiedAt.Equal(feb) {
		t.Errorf("equipment report fields = %+v, want the newest file", e)
	}
	if len(ds.Reports) != 1 || ds.Reports[0].ID != "report:new" || ds.Reports[0].EquipmentKey != "tasy:1234" {
		t.Errorf("Reports = %+v", ds.Reports)
	}
	if len(ds.Events) != 1 || ds.Events[0].Type != EventReports {
		t.Errorf("Events = %+v, want one reports event", ds.Events)
	}

	again := LinkReports(ds, files, testNow.Add(time.Hour), j)
	if again.Linked != 0 || again.Updated != 1 {
		t.Errorf("rescan = %+v, want the existing report updated", again)
	}
	if len(ds.Events) != 1 {
		t.Errorf("rescan added %d events, want none", len(ds.Events)-1)
	}
	if !ds.Reports[0].ScannedAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ScannedAt = %v, want the rescan time", ds.Reports[0].ScannedAt)
	}
}

func TestLatestReport(t *testing.T) {
	ds := NewDataset()
	ds.Reports = []Report{
		{ID: "1", IdentityTag: "1234", Link: "https://files/1", ScannedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", EquipmentKey: "tasy:1234", Link: "https://files/2", ModifiedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "3", IdentityTag: "1234", Link: "", ModifiedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "4", IdentityTag: "5678", Link: "https://files/4"},
	}

	r, ok := ds.LatestReport(Equipment{IdentityTag: "1234"})
	if !ok || r.ID != "1" {
		t.Errorf("LatestReport() = %+v, %v, want report 1 (scan time used when modified time is unset)", r, ok)
	}
	if _, ok := ds.LatestReport(Equipment{AssetTag: "P-1"}); ok {
		t.Error("LatestReport() found a report for unrelated equipment")
	}
}
