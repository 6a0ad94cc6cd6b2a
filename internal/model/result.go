package model

import (
	"strings"
	"time"
)

// Result is the structured OCR output of a completed task.
type Result struct {
	TaskID    string
	Status    RemoteStatus
	Pages     []PageResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PageResult is the recognition output of a single document page.
type PageResult struct {
	PageNumber     int
	ExtractedText  string
	Confidence     float64
	StructuredData *StructuredData
}

// StructuredData is the document data extracted from a page (invoice fields, tables...).
type StructuredData struct {
	Type   string
	Fields []StructuredField
	Tables []TableData
}

// StructuredField is a single key/value extracted from a page.
type StructuredField struct {
	Key        string
	Value      string
	Confidence float64
}

// TableData is a table extracted from a page.
type TableData struct {
	Headers []string
	Rows    [][]string
}

// Text returns the text of all the pages in page order separated by a blank line.
func (r Result) Text() string {
	texts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		if p.ExtractedText == "" {
			continue
		}
		texts = append(texts, p.ExtractedText)
	}
	return strings.Join(texts, "\n\n")
}

// AverageConfidence returns the mean confidence of the pages, 0 if there are no pages.
func (r Result) AverageConfidence() float64 {
	if len(r.Pages) == 0 {
		return 0
	}

	var sum float64
	for _, p := range r.Pages {
		sum += p.Confidence
	}
	return sum / float64(len(r.Pages))
}
