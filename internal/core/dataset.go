package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default caps for the append-only collections.
const (
	DefaultAuditLogLimit = 500
	DefaultTimelineLimit = 2000
)

// datasetCollections lists the JSON collection names DecodeDataset repairs.
var datasetCollections = []string{
	"types", "sectors", "equipment", "plans", "workOrders",
	"reports", "events", "logs", "templates",
}

// DecodeReport describes what DecodeDataset had to discard.
type DecodeReport struct {
	// Corrupt is set when the blob was not a JSON object at all.
	Corrupt bool
	// Reset lists collections that were missing or not arrays, plus
	// "revision" when the stored counter did not decode.
	Reset []string
	// Dropped counts elements that failed to decode inside valid arrays.
	Dropped int
}

// Repaired reports whether decoding changed anything.
func (r DecodeReport) Repaired() bool {
	return r.Corrupt || len(r.Reset) > 0 || r.Dropped > 0
}

// DecodeDataset decodes a stored dataset blob. Structural damage never fails
// the load: a collection that is missing or not an array becomes empty, and
// malformed elements are dropped.
func DecodeDataset(data []byte) (*Dataset, DecodeReport) {
	ds := NewDataset()
	var report DecodeReport

	if len(strings.TrimSpace(string(data))) == 0 {
		return ds, report
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		report.Corrupt = true
		return ds, report
	}

	if rev, ok := raw["revision"]; ok {
		if err := json.Unmarshal(rev, &ds.Revision); err != nil {
			ds.Revision = 0
			report.Reset = append(report.Reset, "revision")
		}
	}

	for _, name := range datasetCollections {
		var ok bool
		var dropped int
		switch name {
		case "types":
			ds.Types, ok, dropped = decodeCollection[EquipmentType](raw[name])
		case "sectors":
			ds.Sectors, ok, dropped = decodeCollection[Sector](raw[name])
		case "equipment":
			ds.Equipment, ok, dropped = decodeCollection[Equipment](raw[name])
		case "plans":
			ds.Plans, ok, dropped = decodeCollection[MaintenancePlan](raw[name])
		case "workOrders":
			ds.WorkOrders, ok, dropped = decodeCollection[WorkOrder](raw[name])
		case "reports":
			ds.Reports, ok, dropped = decodeCollection[Report](raw[name])
		case "events":
			ds.Events, ok, dropped = decodeCollection[TimelineEvent](raw[name])
		case "logs":
			ds.Logs, ok, dropped = decodeCollection[AuditEntry](raw[name])
		case "templates":
			ds.Templates, ok, dropped = decodeCollection[MappingTemplate](raw[name])
		}
		if !ok {
			report.Reset = append(report.Reset, name)
		}
		report.Dropped += dropped
	}

	return ds, report
}

// decodeCollection decodes a JSON array element by element.
// ok is false when raw is absent or not an array.
func decodeCollection[T any](raw json.RawMessage) (items []T, ok bool, dropped int) {
	items = []T{}
	if len(raw) == 0 {
		return items, false, 0
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return items, false, 0
	}
	for _, e := range elems {
		var v T
		if err := json.Unmarshal(e, &v); err != nil {
			dropped++
			continue
		}
		items = append(items, v)
	}
	return items, true, dropped
}

// Encode serializes the dataset for storage.
func (ds *Dataset) Encode() ([]byte, error) {
	return json.Marshal(ds)
}

// Clone returns a deep copy, so an apply can run against a copy the caller
// may discard.
func (ds *Dataset) Clone() *Dataset {
	c := &Dataset{Revision: ds.Revision}
	c.Types = append([]EquipmentType{}, ds.Types...)
	c.Sectors = append([]Sector{}, ds.Sectors...)
	c.Equipment = append([]Equipment{}, ds.Equipment...)
	c.Plans = append([]MaintenancePlan{}, ds.Plans...)
	c.WorkOrders = append([]WorkOrder{}, ds.WorkOrders...)
	c.Reports = append([]Report{}, ds.Reports...)
	c.Events = append([]TimelineEvent{}, ds.Events...)
	c.Logs = append([]AuditEntry{}, ds.Logs...)
	c.Templates = make([]MappingTemplate, len(ds.Templates))
	for i, t := range ds.Templates {
		t.Mapping = t.Mapping.Clone()
		t.Headers = append([]string(nil), t.Headers...)
		c.Templates[i] = t
	}
	return c
}

// =============================================================================
// Lookups
// =============================================================================

// FindEquipment returns the index of the equipment with the given key, or -1.
func (ds *Dataset) FindEquipment(key string) int {
	if key == "" {
		return -1
	}
	for i := range ds.Equipment {
		if ds.Equipment[i].Key() == key {
			return i
		}
	}
	return -1
}

// FindEquipmentByTag returns the index of the equipment with the given
// identity tag, or -1.
func (ds *Dataset) FindEquipmentByTag(tag string) int {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return -1
	}
	for i := range ds.Equipment {
		if strings.TrimSpace(ds.Equipment[i].IdentityTag) == tag {
			return i
		}
	}
	return -1
}

// FindPlan returns the index of the plan with the given sequence number when
// seq is positive, otherwise of the active plan with the given key (falling
// back to any plan with that key). Returns -1 if nothing matches.
func (ds *Dataset) FindPlan(seq int, planKey string) int {
	if seq > 0 {
		for i := range ds.Plans {
			if ds.Plans[i].Sequence == seq {
				return i
			}
		}
	}
	fallback := -1
	for i := range ds.Plans {
		if ds.Plans[i].Key() != planKey {
			continue
		}
		if ds.Plans[i].Active {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

// TypeName returns the name of the type with the given id, or "".
func (ds *Dataset) TypeName(id int) string {
	for _, t := range ds.Types {
		if t.ID == id {
			return t.Name
		}
	}
	return ""
}

// SectorName returns the name of the sector with the given id, or "".
func (ds *Dataset) SectorName(id int) string {
	for _, s := range ds.Sectors {
		if s.ID == id {
			return s.Name
		}
	}
	return ""
}

// EquipmentSectorName resolves the sector an equipment belongs to.
// The sector id wins over the legacy free-text field when both are set.
func (ds *Dataset) EquipmentSectorName(e Equipment) string {
	if e.SectorID != 0 {
		if name := ds.SectorName(e.SectorID); name != "" {
			return name
		}
	}
	return strings.TrimSpace(e.LegacySector)
}

func (ds *Dataset) findTypeByName(name string) (int, bool) {
	for _, t := range ds.Types {
		if sameText(t.Name, name) {
			return t.ID, true
		}
	}
	return 0, false
}

func (ds *Dataset) findSectorByName(name string) (int, bool) {
	for _, s := range ds.Sectors {
		if sameText(s.Name, name) {
			return s.ID, true
		}
	}
	return 0, false
}

// ResolveSector resolves spreadsheet sector input: a numeric value matching
// a sector id, then a case-insensitive name match. An unmatched value is
// returned as a new sector name with id 0.
func (ds *Dataset) ResolveSector(input string) (id int, name string) {
	val := strings.TrimSpace(input)
	if val == "" {
		return 0, ""
	}
	if n, err := strconv.Atoi(val); err == nil && strconv.Itoa(n) == val {
		for _, s := range ds.Sectors {
			if s.ID == n {
				return s.ID, s.Name
			}
		}
	}
	if id, ok := ds.findSectorByName(val); ok {
		return id, ds.SectorName(id)
	}
	return 0, val
}

// =============================================================================
// Match-or-create helpers
// =============================================================================

// EnsureType returns the id of the type named name (case-insensitive),
// appending a new type with id max+1 if none exists. Returns 0 for a blank name.
func (ds *Dataset) EnsureType(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0
	}
	if id, ok := ds.findTypeByName(name); ok {
		return id
	}
	id := 1
	for _, t := range ds.Types {
		if t.ID >= id {
			id = t.ID + 1
		}
	}
	ds.Types = append(ds.Types, EquipmentType{ID: id, Name: name})
	return id
}

// EnsureSector is EnsureType for sectors.
func (ds *Dataset) EnsureSector(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0
	}
	if id, ok := ds.findSectorByName(name); ok {
		return id
	}
	id := 1
	for _, s := range ds.Sectors {
		if s.ID >= id {
			id = s.ID + 1
		}
	}
	ds.Sectors = append(ds.Sectors, Sector{ID: id, Name: name})
	return id
}

// NextPlanSequence returns max(existing plan sequence, 0) + 1.
func (ds *Dataset) NextPlanSequence() int {
	maxSeq := 0
	for _, p := range ds.Plans {
		if p.Sequence > maxSeq {
			maxSeq = p.Sequence
		}
	}
	return maxSeq + 1
}

// NextWorkOrderSequence returns max(existing work order sequence, 0) + 1.
func (ds *Dataset) NextWorkOrderSequence() int {
	maxSeq := 0
	for _, o := range ds.WorkOrders {
		if o.Sequence > maxSeq {
			maxSeq = o.Sequence
		}
	}
	return maxSeq + 1
}

// deactivatePlans sets active=false on every plan referencing equipmentKey.
func (ds *Dataset) deactivatePlans(equipmentKey string, now time.Time) int {
	n := 0
	for i := range ds.Plans {
		if ds.Plans[i].EquipmentKey != equipmentKey {
			continue
		}
		ds.Plans[i].Active = false
		ds.Plans[i].UpdatedAt = now
		n++
	}
	return n
}

// =============================================================================
// Legacy repair
// =============================================================================

// RepairReport counts the legacy fields Repair backfilled.
type RepairReport struct {
	SectorsLinked    int `json:"sectorsLinked"`
	PlanSequences    int `json:"planSequences"`
	PlanKeys         int `json:"planKeys"`
	WorkOrderNumbers int `json:"workOrderNumbers"`
}

// Changed reports whether Repair modified the dataset.
func (r RepairReport) Changed() bool {
	return r.SectorsLinked+r.PlanSequences+r.PlanKeys+r.WorkOrderNumbers > 0
}

// Repair backfills fields that older datasets lack: sector ids from the
// legacy free-text sector, plan sequence numbers and plan keys, and work
// order sequence numbers.
func (ds *Dataset) Repair() RepairReport {
	var r RepairReport

	for i := range ds.Equipment {
		e := &ds.Equipment[i]
		if e.SectorID != 0 || strings.TrimSpace(e.LegacySector) == "" {
			continue
		}
		e.SectorID = ds.EnsureSector(e.LegacySector)
		r.SectorsLinked++
	}

	seq := ds.NextPlanSequence() - 1
	for i := range ds.Plans {
		p := &ds.Plans[i]
		if p.Sequence == 0 {
			seq++
			p.Sequence = seq
			r.PlanSequences++
		}
		if p.PlanKey == "" {
			p.PlanKey = PlanKey(p.EquipmentKey, p.Activity)
			r.PlanKeys++
		}
	}

	osSeq := ds.NextWorkOrderSequence() - 1
	for i := range ds.WorkOrders {
		if ds.WorkOrders[i].Sequence == 0 {
			osSeq++
			ds.WorkOrders[i].Sequence = osSeq
			r.WorkOrderNumbers++
		}
	}

	return r
}

// =============================================================================
// Journal
// =============================================================================

// Journal receives the side effects of dataset mutations: equipment timeline
// events and audit log entries. Both are fire-and-forget.
type Journal interface {
	AppendTimelineEvent(ev TimelineEvent)
	AppendAuditLog(action AuditAction, details string)
}

// Limits caps the append-only collections.
type Limits struct {
	AuditEntries   int
	TimelineEvents int
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{AuditEntries: DefaultAuditLogLimit, TimelineEvents: DefaultTimelineLimit}
}

// DatasetJournal writes journal entries into the dataset itself, newest first.
type DatasetJournal struct {
	ds     *Dataset
	now    time.Time
	limits Limits
	meta   AuditMeta
}

// NewDatasetJournal returns a journal writing into ds.
func NewDatasetJournal(ds *Dataset, now time.Time, limits Limits, meta AuditMeta) *DatasetJournal {
	if limits.AuditEntries <= 0 {
		limits.AuditEntries = DefaultAuditLogLimit
	}
	if limits.TimelineEvents <= 0 {
		limits.TimelineEvents = DefaultTimelineLimit
	}
	return &DatasetJournal{ds: ds, now: now, limits: limits, meta: meta}
}

// AppendTimelineEvent prepends ev, filling in id, type and time.
func (j *DatasetJournal) AppendTimelineEvent(ev TimelineEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Type == "" {
		ev.Type = EventEquipment
	}
	if ev.At.IsZero() {
		ev.At = j.now
	}
	ev.IdentityTag = strings.TrimSpace(ev.IdentityTag)
	j.ds.Events = prependCapped(j.ds.Events, ev, j.limits.TimelineEvents)
}

// AppendAuditLog prepends an audit entry for action.
func (j *DatasetJournal) AppendAuditLog(action AuditAction, details string) {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		At:        j.now,
		Action:    action,
		Severity:  determineSeverity(action),
		Details:   details,
		IPAddress: j.meta.IPAddress,
		UserAgent: j.meta.UserAgent,
	}
	j.ds.Logs = prependCapped(j.ds.Logs, entry, j.limits.AuditEntries)
}

func prependCapped[T any](items []T, item T, limit int) []T {
	out := make([]T, 0, min(len(items)+1, limit))
	out = append(out, item)
	for _, it := range items {
		if len(out) >= limit {
			break
		}
		out = append(out, it)
	}
	return out
}
