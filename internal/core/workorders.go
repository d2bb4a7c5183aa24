package core

import (
	"fmt"
	"strings"
	"time"
)

// DefaultWorkOrderHorizonDays is how far ahead of a plan's next date its
// work order (OS) is opened.
const DefaultWorkOrderHorizonDays = 30

// DueState classifies an open work order or plan against today.
type DueState string

const (
	DueOverdue    DueState = "overdue"
	DueSoon       DueState = "due_soon"
	DueOnSchedule DueState = "on_schedule"
	DueFulfilled  DueState = "fulfilled"
	DueUnknown    DueState = "unknown"
)

// ClassifyDue returns the state of a canonical due date.
func ClassifyDue(due string, today time.Time, horizon int) DueState {
	days, ok := DaysUntil(due, today)
	switch {
	case !ok:
		return DueUnknown
	case days < 0:
		return DueOverdue
	case days <= horizon:
		return DueSoon
	default:
		return DueOnSchedule
	}
}

// ClassifyWorkOrder returns the due state of o.
func ClassifyWorkOrder(o WorkOrder, today time.Time, horizon int) DueState {
	if o.Status == WorkOrderFulfilled {
		return DueFulfilled
	}
	return ClassifyDue(o.DueDate, today, horizon)
}

// WorkOrderCounts summarizes open work orders for the dashboard.
type WorkOrderCounts struct {
	Open    int `json:"open"`
	Overdue int `json:"overdue"`
	DueSoon int `json:"dueSoon"`
}

// CountWorkOrders tallies open orders by due state.
func CountWorkOrders(orders []WorkOrder, today time.Time, horizon int) WorkOrderCounts {
	var c WorkOrderCounts
	for _, o := range orders {
		if o.Status != WorkOrderOpen {
			continue
		}
		c.Open++
		switch ClassifyWorkOrder(o, today, horizon) {
		case DueOverdue:
			c.Overdue++
		case DueSoon:
			c.DueSoon++
		}
	}
	return c
}

// GenerateWorkOrders opens a work order for every active plan whose next
// date is within horizon days of today (overdue plans included), unless an
// open order for the same plan and due date already exists. Plans of
// discontinued equipment, or equipment excluded from preventive maintenance,
// are skipped. Returns the orders opened.
func GenerateWorkOrders(ds *Dataset, today time.Time, horizon int, now time.Time, j Journal) []WorkOrder {
	if horizon <= 0 {
		horizon = DefaultWorkOrderHorizonDays
	}
	open := make(map[string]bool)
	for _, o := range ds.WorkOrders {
		if o.Status == WorkOrderOpen {
			open[o.PlanKey+"@"+o.DueDate] = true
		}
	}

	var opened []WorkOrder
	for _, p := range ds.Plans {
		if !p.Active {
			continue
		}
		days, ok := DaysUntil(p.NextDate, today)
		if !ok || days > horizon {
			continue
		}
		if idx := ds.FindEquipment(p.EquipmentKey); idx >= 0 {
			e := ds.Equipment[idx]
			if e.Status == StatusDiscontinued || !e.ReceivesPreventiveMaintenance {
				continue
			}
		}
		key := p.Key()
		if open[key+"@"+p.NextDate] {
			continue
		}
		open[key+"@"+p.NextDate] = true

		o := WorkOrder{
			Sequence:     ds.NextWorkOrderSequence(),
			PlanKey:      key,
			EquipmentKey: p.EquipmentKey,
			IdentityTag:  p.IdentityTag,
			Activity:     p.Activity,
			DueDate:      p.NextDate,
			Status:       WorkOrderOpen,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		ds.WorkOrders = append(ds.WorkOrders, o)
		opened = append(opened, o)
	}

	if len(opened) > 0 && j != nil {
		j.AppendAuditLog(ActionWorkOrdersOpened, fmt.Sprintf("opened=%d horizon_days=%d", len(opened), horizon))
	}
	return opened
}

// FindWorkOrder returns the index of the order with sequence seq, or -1.
func (ds *Dataset) FindWorkOrder(seq int) int {
	for i := range ds.WorkOrders {
		if ds.WorkOrders[i].Sequence == seq {
			return i
		}
	}
	return -1
}

// equipmentForOrder resolves an order's equipment by key, then by tag.
func (ds *Dataset) equipmentForOrder(o WorkOrder) (Equipment, bool) {
	if idx := ds.FindEquipment(o.EquipmentKey); idx >= 0 {
		return ds.Equipment[idx], true
	}
	if idx := ds.FindEquipmentByTag(o.IdentityTag); idx >= 0 {
		return ds.Equipment[idx], true
	}
	return Equipment{}, false
}

// FulfillWorkOrder closes open order seq against the equipment's latest
// report. The fulfilment date is fulfilledOn when given, else the order's
// due date, else today. The plan's last date moves to the fulfilment date
// and its next date is recomputed from the periodicity.
func FulfillWorkOrder(ds *Dataset, seq int, fulfilledOn string, today, now time.Time, j Journal) (WorkOrder, error) {
	idx := ds.FindWorkOrder(seq)
	if idx < 0 {
		return WorkOrder{}, fmt.Errorf("OS %d: %w", seq, ErrWorkOrderNotFound)
	}
	if ds.WorkOrders[idx].Status != WorkOrderOpen {
		return WorkOrder{}, fmt.Errorf("OS %d: %w", seq, ErrWorkOrderNotOpen)
	}
	eq, ok := ds.equipmentForOrder(ds.WorkOrders[idx])
	if !ok {
		return WorkOrder{}, fmt.Errorf("OS %d: %w", seq, ErrNoReportLinked)
	}
	report, ok := ds.LatestReport(eq)
	if !ok {
		return WorkOrder{}, fmt.Errorf("OS %d: %w", seq, ErrNoReportLinked)
	}

	date := NormalizeDate(fulfilledOn)
	if _, valid := ParseDate(date); !valid {
		date = ds.WorkOrders[idx].DueDate
	}
	if _, valid := ParseDate(date); !valid {
		date = FormatDate(today)
	}

	closeWorkOrder(ds, idx, date, report, now, j)
	return ds.WorkOrders[idx], nil
}

// FulfillWithReports closes every open order whose equipment has a linked
// report, dated today. Returns the number closed.
func FulfillWithReports(ds *Dataset, today, now time.Time, j Journal) int {
	n := 0
	date := FormatDate(today)
	for i := range ds.WorkOrders {
		if ds.WorkOrders[i].Status != WorkOrderOpen {
			continue
		}
		eq, ok := ds.equipmentForOrder(ds.WorkOrders[i])
		if !ok {
			continue
		}
		report, ok := ds.LatestReport(eq)
		if !ok {
			continue
		}
		closeWorkOrder(ds, i, date, report, now, j)
		n++
	}
	return n
}

func closeWorkOrder(ds *Dataset, idx int, date string, report Report, now time.Time, j Journal) {
	o := &ds.WorkOrders[idx]
	o.Status = WorkOrderFulfilled
	o.FulfilledAt = date
	o.ReportLink = report.Link
	o.UpdatedAt = now

	if p := ds.FindPlan(0, o.PlanKey); p >= 0 {
		plan := &ds.Plans[p]
		plan.LastDate = date
		if next := AddDays(date, plan.PeriodicityDays); next != "" {
			plan.NextDate = next
		}
		plan.UpdatedAt = now
	}

	if j == nil {
		return
	}
	name := report.FileName
	if strings.TrimSpace(name) == "" {
		name = "Laudo"
	}
	j.AppendTimelineEvent(TimelineEvent{
		EquipmentKey: o.EquipmentKey,
		IdentityTag:  o.IdentityTag,
		Type:         EventMaintenance,
		Title:        "OS atendida",
		Details:      fmt.Sprintf("OS #%d %s %s", o.Sequence, orDash(o.Activity), name),
	})
	j.AppendAuditLog(ActionWorkOrderFulfill, fmt.Sprintf("seq=%d plan=%s date=%s", o.Sequence, o.PlanKey, date))
}
