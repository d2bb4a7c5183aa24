package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ApplyResult counts what an apply committed.
type ApplyResult struct {
	Mode             ImportMode `json:"mode"`
	Created          int        `json:"created"`
	Updated          int        `json:"updated"`
	Discontinued     int        `json:"discontinued"`
	Skipped          int        `json:"skipped"`
	PlansDeactivated int        `json:"plansDeactivated"`
	TypesCreated     int        `json:"typesCreated"`
	SectorsCreated   int        `json:"sectorsCreated"`
	Invalid          int        `json:"invalid"`
}

// String renders the counts for the audit log.
func (r ApplyResult) String() string {
	return fmt.Sprintf("created=%d updated=%d discontinued=%d skipped=%d plans_deactivated=%d types_created=%d sectors_created=%d invalid=%d",
		r.Created, r.Updated, r.Discontinued, r.Skipped, r.PlansDeactivated,
		r.TypesCreated, r.SectorsCreated, r.Invalid)
}

// Apply commits the changes of p to ds in order. A malformed change stops
// the apply with an error and leaves ds partially modified; callers apply to
// a Clone and discard it on error. Creates whose target already exists and
// updates whose target is gone are skipped.
func Apply(ds *Dataset, p *Preview, now time.Time, j Journal) (ApplyResult, error) {
	if p == nil {
		return ApplyResult{}, errors.New("apply: nil preview")
	}
	res := ApplyResult{Mode: p.Mode, Invalid: len(p.Invalid)}
	typesBefore, sectorsBefore := len(ds.Types), len(ds.Sectors)

	for _, name := range p.MissingTypes {
		ds.EnsureType(name)
	}
	for _, name := range p.MissingSectors {
		ds.EnsureSector(name)
	}

	for i, ch := range p.Changes {
		var err error
		switch c := ch.(type) {
		case CreateEquipment:
			err = applyCreateEquipment(ds, c, now, &res)
		case UpdateEquipment:
			err = applyUpdateEquipment(ds, c, now, &res)
		case DiscontinueEquipment:
			err = applyDiscontinueEquipment(ds, c, now, &res)
		case CreateSector:
			err = applyCreateSector(ds, c, &res)
		case CreatePlan:
			err = applyCreatePlan(ds, c, now, j, &res)
		case UpdatePlan:
			err = applyUpdatePlan(ds, c, p.Mode, now, j, &res)
		default:
			err = fmt.Errorf("unsupported change type %T", ch)
		}
		if err != nil {
			return res, fmt.Errorf("change %d (%s): %w", i, describeChange(ch), err)
		}
	}

	res.TypesCreated = len(ds.Types) - typesBefore
	res.SectorsCreated = len(ds.Sectors) - sectorsBefore

	if j != nil {
		j.AppendAuditLog(importAuditAction(p.Mode), res.String())
	}
	return res, nil
}

func describeChange(ch Change) string {
	if ch == nil {
		return "nil"
	}
	return string(ch.Kind()) + " " + ch.Key()
}

func applyCreateEquipment(ds *Dataset, c CreateEquipment, now time.Time, res *ApplyResult) error {
	d := c.After
	key := EquipmentKey(d.IdentityTag, d.AssetTag)
	if key == "" || key != c.EquipmentKey {
		return fmt.Errorf("key %q does not match record key %q", c.EquipmentKey, key)
	}
	if ds.FindEquipment(key) >= 0 {
		res.Skipped++
		return nil
	}

	sectorID := d.SectorID
	if sectorID == 0 {
		sectorID = ds.EnsureSector(d.SectorName)
	}
	status := d.Status
	if status == "" {
		status = StatusActive
	}
	ds.Equipment = append(ds.Equipment, Equipment{
		IdentityTag:                   strings.TrimSpace(d.IdentityTag),
		AssetTag:                      strings.TrimSpace(d.AssetTag),
		Name:                          d.Name,
		Model:                         d.Model,
		SectorID:                      sectorID,
		TypeID:                        ds.EnsureType(d.TypeName),
		Status:                        status,
		ReceivesPreventiveMaintenance: true,
		ReportLink:                    d.ReportLink,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	})
	res.Created++
	return nil
}

func applyUpdateEquipment(ds *Dataset, c UpdateEquipment, now time.Time, res *ApplyResult) error {
	if len(c.Fields) == 0 {
		return errors.New("update without fields")
	}
	idx := ds.FindEquipment(c.EquipmentKey)
	if idx < 0 {
		res.Skipped++
		return nil
	}

	// Sector and type may append to their collections; resolve them before
	// taking a pointer into ds.Equipment.
	sectorID, typeID := 0, 0
	if _, ok := c.Fields[FieldSector]; ok {
		sectorID = c.After.SectorID
		if sectorID == 0 {
			sectorID = ds.EnsureSector(c.After.SectorName)
		}
	}
	if _, ok := c.Fields[FieldType]; ok {
		typeID = ds.EnsureType(c.After.TypeName)
	}

	e := &ds.Equipment[idx]
	keepFlag := e.ReceivesPreventiveMaintenance
	for field := range c.Fields {
		switch field {
		case FieldName:
			e.Name = c.After.Name
		case FieldModel:
			e.Model = c.After.Model
		case FieldAssetTag:
			e.AssetTag = c.After.AssetTag
		case FieldSector:
			e.SectorID = sectorID
			e.LegacySector = ""
		case FieldType:
			e.TypeID = typeID
		case FieldStatus:
			e.Status = c.After.Status
		case FieldReportLink:
			e.ReportLink = c.After.ReportLink
		default:
			return fmt.Errorf("unknown equipment field %q", field)
		}
	}
	e.ReceivesPreventiveMaintenance = keepFlag
	if e.Status == "" {
		e.Status = StatusActive
	}
	e.UpdatedAt = now
	res.Updated++

	if e.Status == StatusDiscontinued {
		res.PlansDeactivated += ds.deactivatePlans(c.EquipmentKey, now)
	}
	return nil
}

func applyDiscontinueEquipment(ds *Dataset, c DiscontinueEquipment, now time.Time, res *ApplyResult) error {
	if c.EquipmentKey == "" {
		return errors.New("empty equipment key")
	}
	idx := ds.FindEquipment(c.EquipmentKey)
	if idx < 0 {
		res.Skipped++
		return nil
	}
	e := &ds.Equipment[idx]
	e.Status = StatusDiscontinued
	e.UpdatedAt = now
	res.Discontinued++
	res.PlansDeactivated += ds.deactivatePlans(c.EquipmentKey, now)
	return nil
}

func applyCreateSector(ds *Dataset, c CreateSector, res *ApplyResult) error {
	name := collapseSpaces(c.Name)
	if name == "" {
		return errors.New("empty sector name")
	}
	if _, exists := ds.findSectorByName(name); exists {
		res.Skipped++
		return nil
	}
	ds.EnsureSector(name)
	res.Created++
	return nil
}

func applyCreatePlan(ds *Dataset, c CreatePlan, now time.Time, j Journal, res *ApplyResult) error {
	plan := c.After
	if plan.EquipmentKey == "" {
		return errors.New("plan without equipment key")
	}
	key := c.PlanKey
	if key == "" {
		key = PlanKey(plan.EquipmentKey, plan.Activity)
	}
	if idx := ds.FindPlan(0, key); idx >= 0 && ds.Plans[idx].Active {
		res.Skipped++
		return nil
	}

	plan.Sequence = ds.NextPlanSequence()
	plan.PlanKey = key
	plan.Active = true
	plan.CreatedAt = now
	plan.UpdatedAt = now
	ds.Plans = append(ds.Plans, plan)
	res.Created++

	if j != nil {
		j.AppendTimelineEvent(TimelineEvent{
			EquipmentKey: plan.EquipmentKey,
			IdentityTag:  plan.IdentityTag,
			Type:         EventMaintenance,
			Title:        "Plano criado (importação)",
			Details:      fmt.Sprintf("#%d %s, próxima %s", plan.Sequence, plan.Activity, orDash(plan.NextDate)),
		})
	}
	return nil
}

func applyUpdatePlan(ds *Dataset, c UpdatePlan, mode ImportMode, now time.Time, j Journal, res *ApplyResult) error {
	if len(c.Fields) == 0 {
		return errors.New("update without fields")
	}
	idx := ds.FindPlan(c.Sequence, c.PlanKey)
	if idx < 0 {
		res.Skipped++
		return nil
	}

	plan := &ds.Plans[idx]
	for field := range c.Fields {
		switch field {
		case FieldLastDate:
			plan.LastDate = c.After.LastDate
		case FieldNextDate:
			plan.NextDate = c.After.NextDate
		case FieldPeriodicity:
			plan.PeriodicityDays = c.After.PeriodicityDays
		case FieldActivity:
			plan.Activity = c.After.Activity
		default:
			return fmt.Errorf("unknown plan field %q", field)
		}
	}
	if plan.PlanKey == "" {
		plan.PlanKey = PlanKey(plan.EquipmentKey, plan.Activity)
	}
	plan.UpdatedAt = now
	res.Updated++

	if j == nil {
		return nil
	}
	ev := TimelineEvent{
		EquipmentKey: plan.EquipmentKey,
		IdentityTag:  plan.IdentityTag,
		Type:         EventMaintenance,
		Title:        "Plano atualizado (importação)",
		Details:      fmt.Sprintf("#%d %s: %s", plan.Sequence, plan.Activity, describeFields(c.Fields)),
	}
	if mode == ModeDates {
		ch := c.Fields[FieldNextDate]
		ev.Title = "Próxima data corrigida (importação)"
		ev.Details = fmt.Sprintf("#%d %s: %s -> %s", plan.Sequence, plan.Activity, orDash(ch.Before), orDash(ch.After))
	}
	j.AppendTimelineEvent(ev)
	return nil
}

// describeFields renders a diff in field order for timeline details.
func describeFields(fields FieldDiff) string {
	order := []string{FieldLastDate, FieldNextDate, FieldPeriodicity, FieldActivity}
	var parts []string
	for _, f := range order {
		if ch, ok := fields[f]; ok {
			parts = append(parts, f+" "+orDash(ch.Before)+" -> "+orDash(ch.After))
		}
	}
	return strings.Join(parts, "; ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" || s == "0" {
		return "-"
	}
	return s
}
