package model

import (
	"fmt"
	"strings"
)

// ExportFormat is the format a task result can be exported to.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ParseExportFormat parses a format name (case insensitive).
func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q: %w", s, ErrNotValid)
}

// DefaultFilename is the name used when the server doesn't provide one.
func (f ExportFormat) DefaultFilename() string { return "ocr_result." + string(f) }

// Export is an exported task result document.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}
