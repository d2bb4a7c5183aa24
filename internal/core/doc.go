// Package core implements the maintenance dataset and its import engine.
//
// The dataset holds equipment, equipment types, sectors, maintenance plans,
// work orders (OS), inspection reports, an equipment timeline and an audit
// log. It is persisted as a single JSON blob through a [DatasetStore].
//
// # Import Pipeline
//
// Spreadsheet and CSV exports are reconciled against the dataset in two
// steps, so nothing changes until a person has reviewed the result:
//
//  1. [Parse] decodes the file into a [Table] with normalized headers.
//     Workbooks go through decoders registered with [RegisterFormat].
//  2. A [Mapping] assigns header labels to roles, either saved in a
//     [MappingTemplate] or found by [Autodetect].
//  3. [Build] compares the rows with the dataset for one [ImportMode] and
//     returns a [Preview]: typed [Change] records plus invalid rows.
//  4. [Apply] commits the preview, creating referenced types and sectors,
//     numbering plans, cascading discontinuation to plans and journaling
//     timeline events and an audit entry.
//
// Build never mutates the dataset. Apply mutates it in place and stops at
// the first malformed change, so [Service] applies to a clone and swaps it
// in only after a successful save.
//
// # Work Orders and Reports
//
// [GenerateWorkOrders] opens an OS for each active plan due within the
// horizon. [LinkReports] attaches the newest report PDF per identity tag to
// its equipment; an OS is fulfilled only against a linked report.
//
// # Error Handling
//
// Row-level data problems never fail an import; they are reported as
// [InvalidRow] entries. Operational failures use the sentinel errors in
// error_messages.go, which [MapError] turns into coded user messages.
package core
