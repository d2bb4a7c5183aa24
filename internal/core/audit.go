package core

import (
	"context"
	"time"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionImportEquipment  AuditAction = "import_equipment_apply"
	ActionImportSectors    AuditAction = "import_sectors_apply"
	ActionImportPlans      AuditAction = "import_plans_apply"
	ActionImportDates      AuditAction = "import_dates_apply"
	ActionWorkOrdersOpened AuditAction = "work_orders_opened"
	ActionWorkOrderFulfill AuditAction = "work_order_fulfilled"
	ActionReportScan       AuditAction = "report_scan"
	ActionDatasetRepair    AuditAction = "dataset_repair"
	ActionDatasetImport    AuditAction = "dataset_import"
	ActionDatasetRestore   AuditAction = "dataset_restore"
	ActionTemplateCreate   AuditAction = "template_create"
	ActionTemplateDelete   AuditAction = "template_delete"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string        `json:"id"`
	At        time.Time     `json:"at"`
	Action    AuditAction   `json:"action"`
	Severity  AuditSeverity `json:"severity"`
	Details   string        `json:"details,omitempty"`
	IPAddress string        `json:"ipAddress,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
}

// AuditMeta carries request metadata recorded with each audit entry.
type AuditMeta struct {
	IPAddress string
	UserAgent string
}

type auditMetaKey struct{}

// ContextWithAuditMeta attaches request metadata for audit entries.
func ContextWithAuditMeta(ctx context.Context, meta AuditMeta) context.Context {
	return context.WithValue(ctx, auditMetaKey{}, meta)
}

// AuditMetaFromContext returns the metadata stored by ContextWithAuditMeta,
// or the zero value.
func AuditMetaFromContext(ctx context.Context) AuditMeta {
	meta, _ := ctx.Value(auditMetaKey{}).(AuditMeta)
	return meta
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImportEquipment, ActionImportPlans, ActionImportDates:
		return SeverityHigh
	case ActionDatasetImport, ActionDatasetRestore:
		return SeverityCritical
	case ActionTemplateCreate, ActionTemplateDelete:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// importAuditAction maps an import mode to its audit action.
func importAuditAction(mode ImportMode) AuditAction {
	switch mode {
	case ModeEquipment:
		return ActionImportEquipment
	case ModeSectors:
		return ActionImportSectors
	case ModePlans:
		return ActionImportPlans
	default:
		return ActionImportDates
	}
}
