// Package report renders a device's command history as a downloadable
// document for maintenance records and incident reviews.
//
// Two formats are supported: an XLSX workbook with a summary sheet and a
// commands sheet, and a single-table A4 PDF. Both take the same CommandLog,
// built from the device and one page of audit entries.
package report
