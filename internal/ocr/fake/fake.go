package fake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr/local"
)

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Pages is the number of pages every document has.
	Pages int
	// PageDelay is the time each page takes to be recognized.
	PageDelay time.Duration
	// FailPage makes the recognition of a page fail when it returns an error.
	FailPage func(doc local.Document, page int) error
}

func (c *EngineConfig) defaults() error {
	if c.Pages <= 0 {
		c.Pages = 1
	}

	if c.PageDelay < 0 {
		return fmt.Errorf("page delay can't be negative")
	}

	if c.FailPage == nil {
		c.FailPage = func(local.Document, int) error { return nil }
	}

	return nil
}

// Engine is a fake implementation of the local.Engine interface.
// It simulates the recognition without running any OCR.
type Engine struct {
	pages     int
	pageDelay time.Duration
	failPage  func(doc local.Document, page int) error
}

var _ local.Engine = &Engine{}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		pages:     cfg.Pages,
		pageDelay: cfg.PageDelay,
		failPage:  cfg.FailPage,
	}, nil
}

// FailNamed returns a FailPage func that fails the documents with the name
// containing the substring.
func FailNamed(substr string) func(doc local.Document, page int) error {
	return func(doc local.Document, _ int) error {
		if strings.Contains(doc.Name, substr) {
			return fmt.Errorf("could not recognize %s", doc.Name)
		}
		return nil
	}
}

func (e *Engine) PageCount(local.Document) (int, error) { return e.pages, nil }

func (e *Engine) RecognizePage(ctx context.Context, doc local.Document, page int) (model.PageResult, error) {
	if e.pageDelay > 0 {
		t := time.NewTimer(e.pageDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return model.PageResult{}, ctx.Err()
		case <-t.C:
		}
	}

	if err := e.failPage(doc, page); err != nil {
		return model.PageResult{}, err
	}

	return model.PageResult{
		PageNumber:    page,
		ExtractedText: fmt.Sprintf("%s page %d", doc.Name, page),
		Confidence:    0.9,
		StructuredData: &model.StructuredData{
			Type: "document",
			Fields: []model.StructuredField{
				{Key: "filename", Value: doc.Name, Confidence: 1},
				{Key: "size", Value: fmt.Sprintf("%d", len(doc.Data)), Confidence: 1},
			},
		},
	}, nil
}
