package core

import (
	"encoding/json"
	"time"
)

// DefaultActivity is the activity assumed when a plan row leaves it blank.
const DefaultActivity = "preventive"

// EquipmentStatus is the lifecycle state of an equipment record.
type EquipmentStatus string

const (
	StatusActive       EquipmentStatus = "active"
	StatusDiscontinued EquipmentStatus = "discontinued"
)

// WorkOrderStatus is the lifecycle state of a work order (OS).
type WorkOrderStatus string

const (
	WorkOrderOpen      WorkOrderStatus = "open"
	WorkOrderFulfilled WorkOrderStatus = "fulfilled"
)

// EquipmentType is a lookup row. IDs are dense integers assigned max+1.
type EquipmentType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Sector is a lookup row with the same id scheme as EquipmentType.
type Sector struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Equipment is a registered device, identified by its EquipmentKey.
type Equipment struct {
	IdentityTag string          `json:"tasy,omitempty"`
	AssetTag    string          `json:"patrimonio,omitempty"`
	Name        string          `json:"name"`
	Model       string          `json:"model,omitempty"`
	SectorID    int             `json:"sectorId,omitempty"`
	TypeID      int             `json:"typeId,omitempty"`
	Status      EquipmentStatus `json:"status"`

	// LegacySector is the free-text sector of records created before sectors
	// became a lookup table. Repair converts it into SectorID.
	LegacySector string `json:"sector,omitempty"`

	ReceivesPreventiveMaintenance bool `json:"receivesPreventiveMaintenance"`

	ReportLink       string    `json:"reportLink,omitempty"`
	ReportFileID     string    `json:"reportFileId,omitempty"`
	ReportFileName   string    `json:"reportFileName,omitempty"`
	ReportModifiedAt time.Time `json:"reportModifiedAt,omitzero"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the equipment's natural key.
func (e Equipment) Key() string {
	return EquipmentKey(e.IdentityTag, e.AssetTag)
}

// UnmarshalJSON defaults ReceivesPreventiveMaintenance to true for records
// written before the flag existed.
func (e *Equipment) UnmarshalJSON(data []byte) error {
	type alias Equipment
	a := alias{ReceivesPreventiveMaintenance: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Equipment(a)
	return nil
}

// MaintenancePlan schedules one periodic activity for one piece of equipment.
type MaintenancePlan struct {
	Sequence        int    `json:"seq"`
	PlanKey         string `json:"planKey"`
	EquipmentKey    string `json:"equipKey"`
	IdentityTag     string `json:"tasy,omitempty"`
	Activity        string `json:"activity"`
	LastDate        string `json:"lastDate,omitempty"`
	PeriodicityDays int    `json:"periodicityDays,omitempty"`
	NextDate        string `json:"nextDate,omitempty"`
	Active          bool   `json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the stored plan key, deriving it for legacy records.
func (p MaintenancePlan) Key() string {
	if p.PlanKey != "" {
		return p.PlanKey
	}
	return PlanKey(p.EquipmentKey, p.Activity)
}

// UnmarshalJSON treats plans stored without an active flag as active.
func (p *MaintenancePlan) UnmarshalJSON(data []byte) error {
	type alias MaintenancePlan
	a := alias{Active: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = MaintenancePlan(a)
	return nil
}

// WorkOrder (OS) is generated from a plan whose next date is approaching.
type WorkOrder struct {
	Sequence     int             `json:"seq"`
	PlanKey      string          `json:"planKey"`
	EquipmentKey string          `json:"equipKey"`
	IdentityTag  string          `json:"tasy,omitempty"`
	Activity     string          `json:"activity"`
	DueDate      string          `json:"dueDate"`
	Status       WorkOrderStatus `json:"status"`
	FulfilledAt  string          `json:"fulfilledAt,omitempty"`
	ReportLink   string          `json:"reportLink,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Report is an inspection report (laudo) file linked to equipment.
type Report struct {
	ID           string    `json:"id"`
	FileID       string    `json:"fileId"`
	FileName     string    `json:"fileName"`
	Link         string    `json:"link"`
	IdentityTag  string    `json:"tasy"`
	EquipmentKey string    `json:"equipKey"`
	ModifiedAt   time.Time `json:"modifiedAt,omitzero"`
	ScannedAt    time.Time `json:"scannedAt"`
}

// TimelineEvent is one entry in an equipment's history.
type TimelineEvent struct {
	ID           string    `json:"id"`
	EquipmentKey string    `json:"equipKey"`
	IdentityTag  string    `json:"tasy,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Details      string    `json:"details,omitempty"`
	At           time.Time `json:"at"`
}

// Timeline event types.
const (
	EventEquipment   = "equipment"
	EventMaintenance = "maintenance"
	EventReports     = "reports"
)

// Dataset is the complete maintenance dataset. It is owned by a single
// writer; the import engine reads it during build and mutates it during apply.
type Dataset struct {
	Revision   int64             `json:"revision"`
	Types      []EquipmentType   `json:"types"`
	Sectors    []Sector          `json:"sectors"`
	Equipment  []Equipment       `json:"equipment"`
	Plans      []MaintenancePlan `json:"plans"`
	WorkOrders []WorkOrder       `json:"workOrders"`
	Reports    []Report          `json:"reports"`
	Events     []TimelineEvent   `json:"events"`
	Logs       []AuditEntry      `json:"logs"`
	Templates  []MappingTemplate `json:"templates"`
}

// NewDataset returns an empty dataset with every collection initialized.
func NewDataset() *Dataset {
	return &Dataset{
		Types:      []EquipmentType{},
		Sectors:    []Sector{},
		Equipment:  []Equipment{},
		Plans:      []MaintenancePlan{},
		WorkOrders: []WorkOrder{},
		Reports:    []Report{},
		Events:     []TimelineEvent{},
		Logs:       []AuditEntry{},
		Templates:  []MappingTemplate{},
	}
}
