package core

import (
	"strconv"
	"strings"
)

// =============================================================================
// Equipment mode
// =============================================================================

func buildEquipmentPreview(ds *Dataset, t *Table, m Mapping, opts BuildOptions) *Preview {
	p := newPreview(ModeEquipment)
	refs := newReferenceCollector(ds, p)
	flags := opts.Flags

	current := make(map[string]int, len(ds.Equipment))
	for i := range ds.Equipment {
		if k := ds.Equipment[i].Key(); k != "" {
			if _, dup := current[k]; !dup {
				current[k] = i
			}
		}
	}
	seen := make(map[string]bool)

	for _, row := range t.Rows {
		tag := strings.TrimSpace(row.Pick(m.Get(RoleIdentityTag)))
		asset := strings.TrimSpace(row.Pick(m.Get(RoleAssetTag)))
		name := strings.TrimSpace(row.Pick(m.Get(RoleName)))
		model := strings.TrimSpace(row.Pick(m.Get(RoleModel)))
		typeName := strings.TrimSpace(row.Pick(m.Get(RoleType)))
		status := ParseEquipmentStatus(row.Pick(m.Get(RoleStatus)))
		link := strings.TrimSpace(row.Pick(m.Get(RoleReportLink)))
		sectorID, sectorName := ds.ResolveSector(row.Pick(m.Get(RoleSector)))

		key := EquipmentKey(tag, asset)
		if key == "" {
			p.reject(row, "Sem TASY/Patrimônio")
			continue
		}
		// Repeated keys in one file: the first row wins.
		if seen[key] {
			continue
		}
		seen[key] = true

		idx, exists := current[key]
		if !exists {
			draft := EquipmentDraft{
				IdentityTag: tag,
				AssetTag:    asset,
				Name:        name,
				Model:       model,
				SectorID:    sectorID,
				SectorName:  sectorName,
				TypeName:    typeName,
				Status:      StatusActive,
				ReportLink:  link,
			}
			if flags.Status && status != "" {
				draft.Status = status
			}
			refs.sector(sectorID, sectorName)
			refs.typeName(typeName)
			p.add(CreateEquipment{EquipmentKey: key, After: draft})
			continue
		}

		cur := ds.Equipment[idx]
		fields := FieldDiff{}
		var after EquipmentDraft

		if flags.Name && name != "" && !sameText(name, cur.Name) {
			fields[FieldName] = FieldChange{Before: cur.Name, After: name}
			after.Name = name
		}
		if flags.Sector && sectorName != "" {
			if before := ds.EquipmentSectorName(cur); !sameText(sectorName, before) {
				fields[FieldSector] = FieldChange{Before: before, After: sectorName}
				after.SectorID = sectorID
				after.SectorName = sectorName
				refs.sector(sectorID, sectorName)
			}
		}
		if flags.Model && model != "" && !sameText(model, cur.Model) {
			fields[FieldModel] = FieldChange{Before: cur.Model, After: model}
			after.Model = model
		}
		if flags.AssetTag && asset != "" && !sameText(asset, cur.AssetTag) {
			fields[FieldAssetTag] = FieldChange{Before: cur.AssetTag, After: asset}
			after.AssetTag = asset
		}
		if flags.Type && typeName != "" {
			if before := ds.TypeName(cur.TypeID); !sameText(typeName, before) {
				fields[FieldType] = FieldChange{Before: before, After: typeName}
				after.TypeName = typeName
				refs.typeName(typeName)
			}
		}
		if flags.Status && status != "" && status != cur.Status {
			fields[FieldStatus] = FieldChange{Before: string(cur.Status), After: string(status)}
			after.Status = status
		}
		if flags.ReportLink && link != "" && link != cur.ReportLink {
			fields[FieldReportLink] = FieldChange{Before: cur.ReportLink, After: link}
			after.ReportLink = link
		}

		if len(fields) > 0 {
			p.add(UpdateEquipment{EquipmentKey: key, Before: cur, After: after, Fields: fields})
		}
	}

	if opts.MissingRows == MissingMarkDiscontinued {
		for _, e := range ds.Equipment {
			k := e.Key()
			if k == "" || seen[k] || e.Status == StatusDiscontinued {
				continue
			}
			seen[k] = true
			p.add(DiscontinueEquipment{EquipmentKey: k, Before: e})
		}
	}

	return p
}

// =============================================================================
// Sector mode
// =============================================================================

func buildSectorPreview(ds *Dataset, t *Table, m Mapping) *Preview {
	p := newPreview(ModeSectors)
	seen := make(map[string]bool)

	for _, row := range t.Rows {
		name := collapseSpaces(row.Pick(m.Get(RoleSector)))
		if name == "" {
			p.reject(row, "Sem setor")
			continue
		}
		k := strings.ToLower(name)
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, exists := ds.findSectorByName(name); exists {
			continue
		}
		p.add(CreateSector{Name: name})
	}
	return p
}

// =============================================================================
// Plan mode
// =============================================================================

func buildPlanPreview(ds *Dataset, t *Table, m Mapping, opts BuildOptions) *Preview {
	p := newPreview(ModePlans)
	flags := opts.Flags

	// Index plans by key, preferring the active plan when several share one.
	current := make(map[string]int, len(ds.Plans))
	for i := range ds.Plans {
		k := ds.Plans[i].Key()
		if j, ok := current[k]; ok && ds.Plans[j].Active {
			continue
		}
		current[k] = i
	}
	seen := make(map[string]bool)

	for _, row := range t.Rows {
		tag := strings.TrimSpace(row.Pick(m.Get(RoleIdentityTag)))
		activity := collapseSpaces(row.Pick(m.Get(RoleActivity)))
		last := NormalizeDate(row.Pick(m.Get(RoleLastDate)))
		period := ToPositiveIntText(row.Pick(m.Get(RolePeriodicity)))
		nextFromFile := NormalizeDate(row.Pick(m.Get(RoleNextDate)))

		switch {
		case tag == "":
			p.reject(row, "Sem TASY")
			continue
		case activity == "":
			p.reject(row, "Sem atividade (TASY %s)", tag)
			continue
		case last == "":
			p.reject(row, "Sem última preventiva (TASY %s)", tag)
			continue
		case period == "":
			p.reject(row, "Sem periodicidade (TASY %s)", tag)
			continue
		}

		equipKey := EquipmentKey(tag, "")
		if idx := ds.FindEquipmentByTag(tag); idx >= 0 {
			equipKey = ds.Equipment[idx].Key()
		}
		periodDays, err := strconv.Atoi(period)
		if err != nil {
			p.reject(row, "Periodicidade inválida (TASY %s)", tag)
			continue
		}
		next := AddDays(last, periodDays)
		if next == "" {
			next = nextFromFile
		}
		if _, ok := ParseDate(next); !ok {
			p.reject(row, "Data inválida (TASY %s)", tag)
			continue
		}

		key := PlanKey(equipKey, activity)
		if seen[key] {
			continue
		}
		seen[key] = true

		idx, exists := current[key]
		if !exists {
			p.add(CreatePlan{PlanKey: key, After: MaintenancePlan{
				PlanKey:         key,
				EquipmentKey:    equipKey,
				IdentityTag:     tag,
				Activity:        activity,
				LastDate:        last,
				PeriodicityDays: periodDays,
				NextDate:        next,
				Active:          true,
			}})
			continue
		}

		cur := ds.Plans[idx]
		after := cur
		fields := FieldDiff{}
		if flags.Dates {
			if last != cur.LastDate {
				fields[FieldLastDate] = FieldChange{Before: cur.LastDate, After: last}
				after.LastDate = last
			}
			if next != "" && next != cur.NextDate {
				fields[FieldNextDate] = FieldChange{Before: cur.NextDate, After: next}
				after.NextDate = next
			}
		}
		if flags.Periodicity && periodDays != cur.PeriodicityDays {
			fields[FieldPeriodicity] = FieldChange{
				Before: strconv.Itoa(cur.PeriodicityDays),
				After:  period,
			}
			after.PeriodicityDays = periodDays
		}
		if flags.Activity && activity != strings.TrimSpace(cur.Activity) {
			fields[FieldActivity] = FieldChange{Before: cur.Activity, After: activity}
			after.Activity = activity
		}

		if len(fields) > 0 {
			p.add(UpdatePlan{PlanKey: key, Sequence: cur.Sequence, Before: cur, After: after, Fields: fields})
		}
	}
	return p
}

// =============================================================================
// Date-correction mode
// =============================================================================

func buildDatePreview(ds *Dataset, t *Table, m Mapping) *Preview {
	p := newPreview(ModeDates)
	touched := make(map[int]bool)

	for _, row := range t.Rows {
		tag := strings.TrimSpace(row.Pick(m.Get(RoleIdentityTag)))
		next := NormalizeDate(row.Pick(m.Get(RoleNextDate)))
		if tag == "" {
			p.reject(row, "Sem TASY")
			continue
		}
		if next == "" {
			p.reject(row, "Sem DATA_FINAL (TASY %s)", tag)
			continue
		}
		if _, ok := ParseDate(next); !ok {
			p.reject(row, "Data inválida (TASY %s)", tag)
			continue
		}

		equipKey := EquipmentKey(tag, "")
		matched := false
		for i, plan := range ds.Plans {
			if strings.TrimSpace(plan.IdentityTag) != tag && plan.EquipmentKey != equipKey {
				continue
			}
			matched = true
			if touched[i] || plan.NextDate == next {
				continue
			}
			touched[i] = true
			after := plan
			after.NextDate = next
			p.add(UpdatePlan{
				PlanKey:  plan.Key(),
				Sequence: plan.Sequence,
				Before:   plan,
				After:    after,
				Fields:   FieldDiff{FieldNextDate: {Before: plan.NextDate, After: next}},
			})
		}
		if !matched {
			p.reject(row, "Sem planejamento (TASY %s)", tag)
		}
	}
	return p
}
