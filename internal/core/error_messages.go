package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Users quote the code; support staff look it up below.
//
//	FILE001  file too large              FILE004  no file provided
//	FILE002  spreadsheet decoder missing FILE005  empty file
//	FILE003  encoding error
//
//	IMP001   unknown import mode         IMP004   import already in progress
//	IMP002   preview not found/expired   IMP005   invalid dataset backup
//	IMP003   preview is stale
//
//	TPL001   template not found          TPL002   invalid template
//
//	WO001    work order not found        WO003    no report linked
//	WO002    work order is not open      RPT001   report source not configured
//
//	STO001   storage unreachable         STO003   storage timeout
//	STO002   storage connection reset    STO004   snapshots not supported
//	                                     STO005   snapshot not found
//
//	REQ001   request cancelled           REQ002   request timed out
//	RATE001  too many requests           ERR000   anything else
//
// Patterns are matched case-insensitively with strings.Contains against the
// full error chain text. The first match wins, so specific patterns come first.

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Their texts contain the patterns below, so wrapping them
// with %w keeps the mapping intact.
var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrDecoderUnavailable = errors.New("spreadsheet decoder unavailable")
	ErrEncoding           = errors.New("encoding error")
	ErrNoFile             = errors.New("no file provided")
	ErrEmptyFile          = errors.New("empty file")

	ErrUnknownMode     = errors.New("unknown import mode")
	ErrPreviewNotFound = errors.New("preview not found")
	ErrPreviewStale    = errors.New("preview is stale")
	ErrImportBusy      = errors.New("import already in progress")
	ErrInvalidBackup   = errors.New("invalid dataset backup")

	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")

	ErrWorkOrderNotFound = errors.New("work order not found")
	ErrWorkOrderNotOpen  = errors.New("work order is not open")
	ErrNoReportLinked    = errors.New("no report linked")
	ErrNoReportSource    = errors.New("report source not configured")
	ErrRateLimited       = errors.New("rate limit exceeded")

	ErrSnapshotsUnsupported = errors.New("snapshots not supported")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// File errors
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the spreadsheet into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "decoder unavailable",
		msg: UserMessage{
			Message: "This spreadsheet format cannot be read",
			Action:  "Save the sheet as .xlsx or CSV and try again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file as UTF-8 CSV",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Select a spreadsheet or CSV file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no data rows",
			Action:  "Check that the first sheet has a header and rows",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Import errors
	// =========================================================================
	{
		pattern: "unknown import mode",
		msg: UserMessage{
			Message: "Unknown import mode",
			Action:  "Choose equipment, sectors, plans or dates",
			Code:    "IMP001",
		},
	},
	{
		pattern: "preview not found",
		msg: UserMessage{
			Message: "Preview not found",
			Action:  "The preview may have expired. Upload the file again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "preview is stale",
		msg: UserMessage{
			Message: "The data changed after this preview was built",
			Action:  "Build a new preview before applying",
			Code:    "IMP003",
		},
	},
	{
		pattern: "import already in progress",
		msg: UserMessage{
			Message: "Another import is being applied",
			Action:  "Wait for it to finish and try again",
			Code:    "IMP004",
		},
	},
	{
		pattern: "invalid dataset backup",
		msg: UserMessage{
			Message: "The backup file is not a valid dataset",
			Action:  "Use a file produced by the export",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// Mapping templates
	// =========================================================================
	{
		pattern: "template not found",
		msg: UserMessage{
			Message: "Mapping template not found",
			Action:  "Refresh the template list",
			Code:    "TPL001",
		},
	},
	{
		pattern: "invalid template",
		msg: UserMessage{
			Message: "Mapping template is incomplete",
			Action:  "Give the template a name and map at least one column",
			Code:    "TPL002",
		},
	},

	// =========================================================================
	// Work orders and reports
	// =========================================================================
	{
		pattern: "work order not found",
		msg: UserMessage{
			Message: "Work order not found",
			Action:  "Refresh the work order list",
			Code:    "WO001",
		},
	},
	{
		pattern: "work order is not open",
		msg: UserMessage{
			Message: "This work order is already fulfilled",
			Action:  "No action needed",
			Code:    "WO002",
		},
	},
	{
		pattern: "no report linked",
		msg: UserMessage{
			Message: "No inspection report is linked to this equipment",
			Action:  "Upload the report PDF and run a report scan first",
			Code:    "WO003",
		},
	},
	{
		pattern: "report source not configured",
		msg: UserMessage{
			Message: "Report storage is not configured",
			Action:  "Ask an administrator to configure the reports bucket",
			Code:    "RPT001",
		},
	},

	// =========================================================================
	// Request and storage errors
	// =========================================================================
	{
		pattern: "snapshots not supported",
		msg: UserMessage{
			Message: "The configured storage keeps no snapshots",
			Action:  "Use the dataset export for backups",
			Code:    "STO004",
		},
	},
	{
		pattern: "snapshot not found",
		msg: UserMessage{
			Message: "Snapshot not found",
			Action:  "Refresh the snapshot list",
			Code:    "STO005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try again or import a smaller file",
			Code:    "REQ002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach storage",
			Action:  "Please try again in a few moments",
			Code:    "STO001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Storage connection was interrupted",
			Action:  "Please try again",
			Code:    "STO002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Storage operation timed out",
			Action:  "Please try again later",
			Code:    "STO003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the ERR000 message when no pattern matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
