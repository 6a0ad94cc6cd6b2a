// Package tesseract has a local OCR engine backed by Tesseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr/local"
)

// EngineConfig is the configuration for the Tesseract engine.
type EngineConfig struct {
	// Languages are the Tesseract trained data names (e.g. eng, chi_tra).
	Languages []string
}

func (c *EngineConfig) defaults() error {
	if len(c.Languages) == 0 {
		c.Languages = []string{"eng"}
	}
	return nil
}

// Engine recognizes images with Tesseract. Multi page documents (PDF) are not
// supported, they need to be rasterized first.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

var _ local.Engine = &Engine{}

// NewEngine creates a new Tesseract engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		languages:     cfg.Languages,
		clientFactory: gosseract.NewClient,
	}, nil
}

func (e *Engine) PageCount(doc local.Document) (int, error) {
	if !strings.HasPrefix(doc.ContentType, "image/") {
		return 0, fmt.Errorf("%s documents are not supported by tesseract: %w", doc.ContentType, model.ErrNotValid)
	}
	return 1, nil
}

func (e *Engine) RecognizePage(ctx context.Context, doc local.Document, page int) (model.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return model.PageResult{}, err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(doc.Data); err != nil {
		return model.PageResult{}, fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		return model.PageResult{}, fmt.Errorf("set languages: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return model.PageResult{}, fmt.Errorf("recognize text: %w", err)
	}

	return model.PageResult{
		PageNumber:    page,
		ExtractedText: strings.TrimSpace(text),
		Confidence:    wordsConfidence(c),
	}, nil
}

// wordsConfidence returns the mean word confidence (0..1).
func wordsConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}

	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
