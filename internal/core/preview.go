package core

// preview.go defines the import preview: the typed change list the diff
// builders produce and the applier consumes.
//
// Building a preview never mutates the dataset, so a preview can be shown to
// the user and discarded without side effects. Every change is one of the
// variants below; Apply switches over them exhaustively.

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ImportMode selects which diff builder processes an import file.
type ImportMode string

const (
	ModeEquipment ImportMode = "equipment"
	ModeSectors   ImportMode = "sectors"
	ModePlans     ImportMode = "plans"
	ModeDates     ImportMode = "dates"
)

// ImportModes lists the supported modes.
var ImportModes = []ImportMode{ModeEquipment, ModeSectors, ModePlans, ModeDates}

// ParseImportMode accepts a mode name or one of its legacy aliases.
func ParseImportMode(s string) (ImportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equipment", "equip", "equipamentos":
		return ModeEquipment, nil
	case "sectors", "setores":
		return ModeSectors, nil
	case "plans", "manut", "manutencoes":
		return ModePlans, nil
	case "dates", "datas":
		return ModeDates, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ChangeKind tags each change variant.
type ChangeKind string

const (
	KindCreateEquipment      ChangeKind = "CREATE_EQUIPMENT"
	KindUpdateEquipment      ChangeKind = "UPDATE_EQUIPMENT"
	KindDiscontinueEquipment ChangeKind = "DISCONTINUE_EQUIPMENT"
	KindCreatePlan           ChangeKind = "CREATE_PLAN"
	KindUpdatePlan           ChangeKind = "UPDATE_PLAN"
	KindCreateSector         ChangeKind = "CREATE_SECTOR"
)

// Field names used in FieldDiff.
const (
	FieldName        = "name"
	FieldSector      = "sector"
	FieldModel       = "model"
	FieldAssetTag    = "asset_tag"
	FieldType        = "type"
	FieldStatus      = "status"
	FieldReportLink  = "report_link"
	FieldLastDate    = "last_date"
	FieldNextDate    = "next_date"
	FieldPeriodicity = "periodicity"
	FieldActivity    = "activity"
)

// FieldChange is the before/after value of one field.
type FieldChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// FieldDiff maps field names to their change.
type FieldDiff map[string]FieldChange

// Change is one entry of a preview. The set of implementations is closed.
type Change interface {
	Kind() ChangeKind
	Key() string
	isChange()
}

// EquipmentDraft holds incoming equipment values. For creates every field
// is populated; for updates only the fields named in the diff are.
type EquipmentDraft struct {
	IdentityTag string          `json:"tasy,omitempty"`
	AssetTag    string          `json:"patrimonio,omitempty"`
	Name        string          `json:"name,omitempty"`
	Model       string          `json:"model,omitempty"`
	SectorID    int             `json:"sectorId,omitempty"`
	SectorName  string          `json:"sectorName,omitempty"`
	TypeName    string          `json:"typeName,omitempty"`
	Status      EquipmentStatus `json:"status,omitempty"`
	ReportLink  string          `json:"reportLink,omitempty"`
}

// CreateEquipment adds a new equipment record.
type CreateEquipment struct {
	EquipmentKey string         `json:"key"`
	After        EquipmentDraft `json:"after"`
}

// UpdateEquipment overwrites the diffed fields of an existing record.
type UpdateEquipment struct {
	EquipmentKey string         `json:"key"`
	Before       Equipment      `json:"before"`
	After        EquipmentDraft `json:"after"`
	Fields       FieldDiff      `json:"fields"`
}

// DiscontinueEquipment marks an existing record discontinued.
type DiscontinueEquipment struct {
	EquipmentKey string    `json:"key"`
	Before       Equipment `json:"before"`
}

// CreatePlan adds a maintenance plan. Sequence and timestamps are assigned
// on apply.
type CreatePlan struct {
	PlanKey string          `json:"key"`
	After   MaintenancePlan `json:"after"`
}

// UpdatePlan overwrites the diffed fields of an existing plan. Sequence
// identifies the plan when several share a key.
type UpdatePlan struct {
	PlanKey  string          `json:"key"`
	Sequence int             `json:"seq"`
	Before   MaintenancePlan `json:"before"`
	After    MaintenancePlan `json:"after"`
	Fields   FieldDiff       `json:"fields"`
}

// CreateSector adds a sector.
type CreateSector struct {
	Name string `json:"name"`
}

func (CreateEquipment) Kind() ChangeKind      { return KindCreateEquipment }
func (UpdateEquipment) Kind() ChangeKind      { return KindUpdateEquipment }
func (DiscontinueEquipment) Kind() ChangeKind { return KindDiscontinueEquipment }
func (CreatePlan) Kind() ChangeKind           { return KindCreatePlan }
func (UpdatePlan) Kind() ChangeKind           { return KindUpdatePlan }
func (CreateSector) Kind() ChangeKind         { return KindCreateSector }

func (c CreateEquipment) Key() string      { return c.EquipmentKey }
func (c UpdateEquipment) Key() string      { return c.EquipmentKey }
func (c DiscontinueEquipment) Key() string { return c.EquipmentKey }
func (c CreatePlan) Key() string           { return c.PlanKey }
func (c UpdatePlan) Key() string           { return c.PlanKey }
func (c CreateSector) Key() string         { return strings.ToLower(collapseSpaces(c.Name)) }

func (CreateEquipment) isChange()      {}
func (UpdateEquipment) isChange()      {}
func (DiscontinueEquipment) isChange() {}
func (CreatePlan) isChange()           {}
func (UpdatePlan) isChange()           {}
func (CreateSector) isChange()         {}

// marshalTagged encodes body as a JSON object with a leading "type" member.
func marshalTagged[T any](kind ChangeKind, body T) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(kind)
	if len(b) <= 2 {
		return []byte(`{"type":` + string(tag) + `}`), nil
	}
	return append([]byte(`{"type":`+string(tag)+`,`), b[1:]...), nil
}

func (c CreateEquipment) MarshalJSON() ([]byte, error) {
	type plain CreateEquipment
	return marshalTagged(c.Kind(), plain(c))
}

func (c UpdateEquipment) MarshalJSON() ([]byte, error) {
	type plain UpdateEquipment
	return marshalTagged(c.Kind(), plain(c))
}

func (c DiscontinueEquipment) MarshalJSON() ([]byte, error) {
	type plain DiscontinueEquipment
	return marshalTagged(c.Kind(), plain(c))
}

func (c CreatePlan) MarshalJSON() ([]byte, error) {
	type plain CreatePlan
	return marshalTagged(c.Kind(), plain(c))
}

func (c UpdatePlan) MarshalJSON() ([]byte, error) {
	type plain UpdatePlan
	return marshalTagged(c.Kind(), plain(c))
}

func (c CreateSector) MarshalJSON() ([]byte, error) {
	type plain CreateSector
	return marshalTagged(c.Kind(), plain(c))
}

// InvalidRow is a skipped input row and the reason it was skipped.
type InvalidRow struct {
	Reason string `json:"reason"`
	Row    Row    `json:"row"`
}

// PreviewSummary counts the changes of a preview by kind.
type PreviewSummary struct {
	Create      int `json:"create"`
	Update      int `json:"update"`
	Discontinue int `json:"discontinue"`
	Invalid     int `json:"invalid"`
}

// Preview is the result of a diff build.
type Preview struct {
	Mode    ImportMode     `json:"mode"`
	Summary PreviewSummary `json:"summary"`
	Changes []Change       `json:"changes"`
	Invalid []InvalidRow   `json:"invalid"`

	// MissingTypes and MissingSectors are referenced by changes but do not
	// exist yet; Apply creates them before committing the changes.
	MissingTypes   []string `json:"missingTypes"`
	MissingSectors []string `json:"missingSectors"`

	Flags UpdateFlags `json:"flags"`
}

// BuildOptions configure a diff build.
type BuildOptions struct {
	Flags       UpdateFlags
	MissingRows MissingRowPolicy
}

// Build compares table against ds and returns the preview for mode.
// ds is only read. Data-quality problems are reported as invalid rows;
// the only error is an unknown mode.
func Build(ds *Dataset, t *Table, m Mapping, mode ImportMode, opts BuildOptions) (*Preview, error) {
	if t == nil {
		t = &Table{}
	}
	var p *Preview
	switch mode {
	case ModeEquipment:
		p = buildEquipmentPreview(ds, t, m, opts)
	case ModeSectors:
		p = buildSectorPreview(ds, t, m)
	case ModePlans:
		p = buildPlanPreview(ds, t, m, opts)
	case ModeDates:
		p = buildDatePreview(ds, t, m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	p.Flags = opts.Flags
	p.summarize()
	return p, nil
}

func newPreview(mode ImportMode) *Preview {
	return &Preview{
		Mode:           mode,
		Changes:        []Change{},
		Invalid:        []InvalidRow{},
		MissingTypes:   []string{},
		MissingSectors: []string{},
	}
}

func (p *Preview) add(c Change) {
	p.Changes = append(p.Changes, c)
}

func (p *Preview) reject(row Row, format string, args ...any) {
	p.Invalid = append(p.Invalid, InvalidRow{Reason: fmt.Sprintf(format, args...), Row: row})
}

func (p *Preview) summarize() {
	s := PreviewSummary{Invalid: len(p.Invalid)}
	for _, c := range p.Changes {
		switch c.Kind() {
		case KindCreateEquipment, KindCreatePlan, KindCreateSector:
			s.Create++
		case KindUpdateEquipment, KindUpdatePlan:
			s.Update++
		case KindDiscontinueEquipment:
			s.Discontinue++
		}
	}
	p.Summary = s
}

// CountKind returns the number of changes of kind k.
func (p *Preview) CountKind(k ChangeKind) int {
	n := 0
	for _, c := range p.Changes {
		if c.Kind() == k {
			n++
		}
	}
	return n
}

// Empty reports whether the preview has nothing to apply.
func (p *Preview) Empty() bool {
	return len(p.Changes) == 0 && len(p.MissingTypes) == 0 && len(p.MissingSectors) == 0
}

// referenceCollector records type and sector names that changes refer to
// but the dataset does not contain yet.
type referenceCollector struct {
	ds      *Dataset
	p       *Preview
	types   map[string]bool
	sectors map[string]bool
}

func newReferenceCollector(ds *Dataset, p *Preview) *referenceCollector {
	return &referenceCollector{ds: ds, p: p, types: map[string]bool{}, sectors: map[string]bool{}}
}

func (r *referenceCollector) typeName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if _, ok := r.ds.findTypeByName(name); ok {
		return
	}
	k := strings.ToLower(collapseSpaces(name))
	if r.types[k] {
		return
	}
	r.types[k] = true
	r.p.MissingTypes = append(r.p.MissingTypes, name)
}

func (r *referenceCollector) sector(id int, name string) {
	name = strings.TrimSpace(name)
	if id != 0 || name == "" {
		return
	}
	if _, ok := r.ds.findSectorByName(name); ok {
		return
	}
	k := strings.ToLower(collapseSpaces(name))
	if r.sectors[k] {
		return
	}
	r.sectors[k] = true
	r.p.MissingSectors = append(r.p.MissingSectors, name)
}
