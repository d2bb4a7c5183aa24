package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func csvTable(lines ...string) *Table {
	return ParseDelimited(strings.Join(lines, "\n"), DetectDelimiter)
}

var equipmentMapping = Mapping{
	RoleIdentityTag: "TASY",
	RoleAssetTag:    "Patrimônio",
	RoleName:        "Nome",
	RoleSector:      "Setor",
	RoleType:        "Tipo",
	RoleStatus:      "Situação",
}

var planMapping = Mapping{
	RoleIdentityTag: "TASY",
	RoleActivity:    "Atividade",
	RoleLastDate:    "Última",
	RolePeriodicity: "Periodicidade",
	RoleNextDate:    "DATA_FINAL",
}

// fixtureDataset has two active monitors in the ICU, one discontinued pump
// and two plans for TASY 1234.
func fixtureDataset() *Dataset {
	ds := NewDataset()
	ds.Sectors = []Sector{{ID: 1, Name: "UTI"}, {ID: 2, Name: "Centro Cirúrgico"}}
	ds.Types = []EquipmentType{{ID: 1, Name: "Monitor"}}
	ds.Equipment = []Equipment{
		{IdentityTag: "1234", Name: "Monitor", SectorID: 1, TypeID: 1, Status: StatusActive, ReceivesPreventiveMaintenance: true},
		{IdentityTag: "5678", Name: "Monitor 2", SectorID: 1, TypeID: 1, Status: StatusActive, ReceivesPreventiveMaintenance: true},
		{AssetTag: "P-77", Name: "Bomba", Status: StatusDiscontinued, ReceivesPreventiveMaintenance: true},
	}
	ds.Plans = []MaintenancePlan{
		{Sequence: 1, PlanKey: "tasy:1234::preventiva", EquipmentKey: "tasy:1234", IdentityTag: "1234",
			Activity: "Preventiva", LastDate: "01/01/2024", PeriodicityDays: 180, NextDate: "29/06/2024", Active: true},
		{Sequence: 2, PlanKey: "tasy:1234::calibração", EquipmentKey: "tasy:1234", IdentityTag: "1234",
			Activity: "Calibração", LastDate: "10/01/2024", PeriodicityDays: 90, NextDate: "09/04/2024", Active: true},
	}
	return ds
}

func TestParseImportMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ImportMode
		wantErr bool
	}{
		{input: "equipment", want: ModeEquipment},
		{input: "Equipamentos", want: ModeEquipment},
		{input: "setores", want: ModeSectors},
		{input: "manut", want: ModePlans},
		{input: " datas ", want: ModeDates},
		{input: "invoices", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseImportMode(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownMode) {
					t.Errorf("ParseImportMode(%q) error = %v, want ErrUnknownMode", tt.input, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseImportMode(%q) = %q, %v, want %q", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestBuild_UnknownMode(t *testing.T) {
	_, err := Build(NewDataset(), csvTable("tasy", "1"), equipmentMapping, "invoices", BuildOptions{})
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Build() error = %v, want ErrUnknownMode", err)
	}
}

func TestBuild_DoesNotMutateDataset(t *testing.T) {
	ds := fixtureDataset()
	before, _ := ds.Encode()

	tables := map[ImportMode]*Table{
		ModeEquipment: csvTable("TASY,Nome,Setor,Tipo", "1234,Monitor Philips,Nova UTI,Ventilador", "9000,Desfibrilador,Emergência,Desfibrilador"),
		ModeSectors:   csvTable("Setor", "Emergência"),
		ModePlans:     csvTable("TASY;Atividade;Última;Periodicidade", "1234;Preventiva;01/02/2024;30"),
		ModeDates:     csvTable("TASY;DATA_FINAL", "1234;15/05/2024"),
	}
	m := equipmentMapping.Clone()
	for role, label := range planMapping {
		m[role] = label
	}

	for mode, table := range tables {
		opts := BuildOptions{Flags: AllUpdates(), MissingRows: MissingMarkDiscontinued}
		if _, err := Build(ds, table, m, mode, opts); err != nil {
			t.Fatalf("Build(%s) error = %v", mode, err)
		}
	}

	after, _ := ds.Encode()
	if !bytes.Equal(before, after) {
		t.Error("Build() modified the dataset")
	}
}

// ----------------------------------------------------------------------------
// Equipment mode
// ----------------------------------------------------------------------------

func TestBuildEquipment_Creates(t *testing.T) {
	table := csvTable(
		"TASY,Patrimônio,Nome,Setor,Tipo,Situação",
		"9000,,Desfibrilador,Emergência,Desfibrilador,Inativo",
		",P-10,Balança,uti,Balança,",
		",,Sem identificação,UTI,,",
		"9000,,Duplicado,UTI,,",
		"9100,,Ventilador,emergência,desfibrilador,",
	)

	p, err := Build(NewDataset(), table, equipmentMapping, ModeEquipment, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if p.Summary.Create != 3 || p.Summary.Invalid != 1 {
		t.Fatalf("Summary = %+v, want 3 creates and 1 invalid", p.Summary)
	}
	if got := p.Invalid[0].Reason; got != "Sem TASY/Patrimônio" {
		t.Errorf("Invalid[0].Reason = %q, want %q", got, "Sem TASY/Patrimônio")
	}

	first := p.Changes[0].(CreateEquipment)
	if first.EquipmentKey != "tasy:9000" || first.After.Name != "Desfibrilador" {
		t.Errorf("first create = %+v, want tasy:9000 Desfibrilador (first row wins)", first)
	}
	if first.After.Status != StatusActive {
		t.Errorf("create status = %q, want active when the status flag is off", first.After.Status)
	}

	second := p.Changes[1].(CreateEquipment)
	if second.EquipmentKey != "asset:P-10" {
		t.Errorf("second create key = %q, want %q", second.EquipmentKey, "asset:P-10")
	}

	wantSectors := []string{"Emergência", "uti"}
	if strings.Join(p.MissingSectors, "|") != strings.Join(wantSectors, "|") {
		t.Errorf("MissingSectors = %q, want %q", p.MissingSectors, wantSectors)
	}
	wantTypes := []string{"Desfibrilador", "Balança"}
	if strings.Join(p.MissingTypes, "|") != strings.Join(wantTypes, "|") {
		t.Errorf("MissingTypes = %q, want %q", p.MissingTypes, wantTypes)
	}
}

func TestBuildEquipment_StatusFlagOnCreate(t *testing.T) {
	table := csvTable("TASY,Nome,Situação", "9000,Desfibrilador,Inativo")

	p, _ := Build(NewDataset(), table, equipmentMapping, ModeEquipment, BuildOptions{Flags: UpdateFlags{Status: true}})

	c := p.Changes[0].(CreateEquipment)
	if c.After.Status != StatusDiscontinued {
		t.Errorf("create status = %q, want %q", c.After.Status, StatusDiscontinued)
	}
}

func TestBuildEquipment_UpdatesFollowFlags(t *testing.T) {
	table := csvTable(
		"TASY,Nome,Setor,Tipo",
		"1234,Monitor Philips,Centro Cirúrgico,monitor",
		"5678,  monitor   2 ,uti,Monitor",
	)

	tests := []struct {
		name       string
		flags      UpdateFlags
		wantFields []string
	}{
		{name: "no flags", flags: UpdateFlags{}, wantFields: nil},
		{name: "name only", flags: UpdateFlags{Name: true}, wantFields: []string{FieldName}},
		{name: "name and sector", flags: UpdateFlags{Name: true, Sector: true}, wantFields: []string{FieldName, FieldSector}},
		{name: "type matches case-insensitively", flags: UpdateFlags{Type: true}, wantFields: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Build(fixtureDataset(), table, equipmentMapping, ModeEquipment, BuildOptions{Flags: tt.flags})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if len(tt.wantFields) == 0 {
				if len(p.Changes) != 0 {
					t.Fatalf("Changes = %d, want none", len(p.Changes))
				}
				return
			}
			if len(p.Changes) != 1 {
				t.Fatalf("Changes = %d, want 1 (row 5678 matches after whitespace and case folding)", len(p.Changes))
			}
			u := p.Changes[0].(UpdateEquipment)
			if u.EquipmentKey != "tasy:1234" {
				t.Errorf("update key = %q, want %q", u.EquipmentKey, "tasy:1234")
			}
			if len(u.Fields) != len(tt.wantFields) {
				t.Errorf("Fields = %v, want %v", u.Fields, tt.wantFields)
			}
			for _, f := range tt.wantFields {
				if _, ok := u.Fields[f]; !ok {
					t.Errorf("Fields missing %q", f)
				}
			}
		})
	}
}

func TestBuildEquipment_SectorChangeResolvesExisting(t *testing.T) {
	table := csvTable("TASY,Setor", "1234,2")

	p, _ := Build(fixtureDataset(), table, equipmentMapping, ModeEquipment, BuildOptions{Flags: UpdateFlags{Sector: true}})

	u := p.Changes[0].(UpdateEquipment)
	if u.After.SectorID != 2 || u.After.SectorName != "Centro Cirúrgico" {
		t.Errorf("After = %+v, want sector id 2 Centro Cirúrgico", u.After)
	}
	if got := u.Fields[FieldSector]; got.Before != "UTI" || got.After != "Centro Cirúrgico" {
		t.Errorf("Fields[sector] = %+v, want UTI -> Centro Cirúrgico", got)
	}
	if len(p.MissingSectors) != 0 {
		t.Errorf("MissingSectors = %q, want none", p.MissingSectors)
	}
}

func TestBuildEquipment_MarkMissing(t *testing.T) {
	table := csvTable("TASY,Nome", "1234,Monitor")

	p, _ := Build(fixtureDataset(), table, equipmentMapping, ModeEquipment, BuildOptions{MissingRows: MissingMarkDiscontinued})

	if got := p.CountKind(KindDiscontinueEquipment); got != 1 {
		t.Fatalf("discontinue count = %d, want 1", got)
	}
	d := p.Changes[0].(DiscontinueEquipment)
	if d.EquipmentKey != "tasy:5678" {
		t.Errorf("discontinued %q, want %q", d.EquipmentKey, "tasy:5678")
	}
	if p.Summary.Discontinue != 1 {
		t.Errorf("Summary.Discontinue = %d, want 1", p.Summary.Discontinue)
	}

	ignored, _ := Build(fixtureDataset(), table, equipmentMapping, ModeEquipment, BuildOptions{MissingRows: MissingIgnore})
	if !ignored.Empty() {
		t.Errorf("ignore policy produced %d changes, want none", len(ignored.Changes))
	}
}

// ----------------------------------------------------------------------------
// Sector mode
// ----------------------------------------------------------------------------

func TestBuildSectors(t *testing.T) {
	table := csvTable("Setor,Código", "Emergência,1", "  emergência ,2", "uti,3", ",4", "Pediatria,5")
	m := Mapping{RoleSector: "setor"}

	p, _ := Build(fixtureDataset(), table, m, ModeSectors, BuildOptions{})

	if p.Summary.Create != 2 || p.Summary.Invalid != 1 {
		t.Fatalf("Summary = %+v, want 2 creates and 1 invalid", p.Summary)
	}
	if got := p.Changes[0].(CreateSector).Name; got != "Emergência" {
		t.Errorf("first sector = %q, want %q", got, "Emergência")
	}
	if got := p.Invalid[0].Reason; got != "Sem setor" {
		t.Errorf("Invalid[0].Reason = %q, want %q", got, "Sem setor")
	}
}

// ----------------------------------------------------------------------------
// Plan mode
// ----------------------------------------------------------------------------

func TestBuildPlans_Create(t *testing.T) {
	table := csvTable("TASY;Atividade;Última;Periodicidade", "1234;Calibração;10/01/2024;90")

	p, err := Build(NewDataset(), table, planMapping, ModePlans, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(p.Changes) != 1 {
		t.Fatalf("Changes = %d, want 1", len(p.Changes))
	}

	c := p.Changes[0].(CreatePlan)
	if c.PlanKey != "tasy:1234::calibração" {
		t.Errorf("PlanKey = %q, want %q", c.PlanKey, "tasy:1234::calibração")
	}
	if c.After.NextDate != "09/04/2024" {
		t.Errorf("NextDate = %q, want %q", c.After.NextDate, "09/04/2024")
	}
	if c.After.PeriodicityDays != 90 || !c.After.Active {
		t.Errorf("After = %+v, want 90 days and active", c.After)
	}
}

func TestBuildPlans_NextDateFallsBackToColumn(t *testing.T) {
	table := csvTable("TASY;Atividade;Última;Periodicidade;DATA_FINAL", "1234;Preventiva;31/02/2024;30;2024-05-01")

	p, _ := Build(NewDataset(), table, planMapping, ModePlans, BuildOptions{})

	c := p.Changes[0].(CreatePlan)
	if c.After.NextDate != "01/05/2024" {
		t.Errorf("NextDate = %q, want the normalized DATA_FINAL column", c.After.NextDate)
	}
}

func TestBuildPlans_InvalidReasons(t *testing.T) {
	table := csvTable(
		"TASY;Atividade;Última;Periodicidade",
		";Preventiva;01/01/2024;30",
		"1;;01/01/2024;30",
		"2;Preventiva;;30",
		"3;Preventiva;01/01/2024;mensal",
		"4;Preventiva;31/02/2024;30",
		"5;Preventiva;01/01/2024;99999999999999999999",
	)

	p, _ := Build(NewDataset(), table, planMapping, ModePlans, BuildOptions{})

	want := []string{
		"Sem TASY",
		"Sem atividade (TASY 1)",
		"Sem última preventiva (TASY 2)",
		"Sem periodicidade (TASY 3)",
		"Data inválida (TASY 4)",
		"Periodicidade inválida (TASY 5)",
	}
	if len(p.Invalid) != len(want) {
		t.Fatalf("Invalid = %d, want %d", len(p.Invalid), len(want))
	}
	for i, reason := range want {
		if p.Invalid[i].Reason != reason {
			t.Errorf("Invalid[%d].Reason = %q, want %q", i, p.Invalid[i].Reason, reason)
		}
	}
}

func TestBuildPlans_Updates(t *testing.T) {
	table := csvTable(
		"TASY;Atividade;Última;Periodicidade",
		"1234;Preventiva;01/02/2024;180",
		"1234;PREVENTIVA;01/03/2024;180",
		"1234;Calibração;10/01/2024;60",
	)

	p, _ := Build(fixtureDataset(), table, planMapping, ModePlans, BuildOptions{Flags: UpdateFlags{Dates: true}})
	if len(p.Changes) != 2 {
		t.Fatalf("Changes = %d, want 2 (duplicate key skipped)", len(p.Changes))
	}
	u := p.Changes[0].(UpdatePlan)
	if u.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", u.Sequence)
	}
	if got := u.Fields[FieldNextDate].After; got != "30/07/2024" {
		t.Errorf("next date = %q, want %q", got, "30/07/2024")
	}

	p, _ = Build(fixtureDataset(), table, planMapping, ModePlans, BuildOptions{Flags: UpdateFlags{Periodicity: true}})
	if len(p.Changes) != 1 {
		t.Fatalf("Changes = %d, want 1 periodicity update", len(p.Changes))
	}
	u = p.Changes[0].(UpdatePlan)
	if got := u.Fields[FieldPeriodicity]; got.Before != "90" || got.After != "60" {
		t.Errorf("Fields[periodicity] = %+v, want 90 -> 60", got)
	}
}

// ----------------------------------------------------------------------------
// Date-correction mode
// ----------------------------------------------------------------------------

func TestBuildDates(t *testing.T) {
	table := csvTable(
		"TASY;DATA_FINAL",
		"1234;15/05/2024",
		"1234;20/05/2024",
		"7777;15/05/2024",
		"5678;",
	)

	p, _ := Build(fixtureDataset(), table, planMapping, ModeDates, BuildOptions{})

	if got := p.CountKind(KindUpdatePlan); got != 2 {
		t.Fatalf("updates = %d, want 2 (one per plan of TASY 1234)", got)
	}
	for _, ch := range p.Changes {
		u := ch.(UpdatePlan)
		if len(u.Fields) != 1 || u.Fields[FieldNextDate].After != "15/05/2024" {
			t.Errorf("update %d fields = %+v, want next_date only", u.Sequence, u.Fields)
		}
	}

	wantInvalid := []string{"Sem planejamento (TASY 7777)", "Sem DATA_FINAL (TASY 5678)"}
	if len(p.Invalid) != len(wantInvalid) {
		t.Fatalf("Invalid = %d, want %d", len(p.Invalid), len(wantInvalid))
	}
	for i, reason := range wantInvalid {
		if p.Invalid[i].Reason != reason {
			t.Errorf("Invalid[%d].Reason = %q, want %q", i, p.Invalid[i].Reason, reason)
		}
	}
}

func TestBuildDates_RejectsImpossibleDate(t *testing.T) {
	table := csvTable("TASY;DATA_FINAL", "1234;31/02/2024", "5678;05-15-24")

	p, _ := Build(fixtureDataset(), table, planMapping, ModeDates, BuildOptions{})

	if len(p.Changes) != 0 {
		t.Errorf("Changes = %d, want 0", len(p.Changes))
	}
	want := []string{"Data inválida (TASY 1234)", "Data inválida (TASY 5678)"}
	if len(p.Invalid) != len(want) {
		t.Fatalf("Invalid = %d, want %d", len(p.Invalid), len(want))
	}
	for i, reason := range want {
		if p.Invalid[i].Reason != reason {
			t.Errorf("Invalid[%d].Reason = %q, want %q", i, p.Invalid[i].Reason, reason)
		}
	}
}

func TestChangeJSON(t *testing.T) {
	ch := CreateSector{Name: "UTI"}

	b, err := json.Marshal(ch)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := string(b); got != `{"type":"CREATE_SECTOR","name":"UTI"}` {
		t.Errorf("Marshal() = %s", got)
	}

	p := newPreview(ModeSectors)
	p.add(ch)
	b, _ = json.Marshal(p)
	if !bytes.Contains(b, []byte(`"changes":[{"type":"CREATE_SECTOR"`)) {
		t.Errorf("preview JSON does not tag changes: %s", b)
	}
}
