package ocr

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/slok/ocrtrack/internal/model"
)

// UTF-8 BOM so spreadsheet apps detect the CSV encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type exportPageJSON struct {
	PageNumber     int                   `json:"page_number"`
	ExtractedText  string                `json:"extracted_text"`
	StructuredData *exportStructuredJSON `json:"structured_data"`
	Confidence     float64               `json:"confidence"`
}

type exportStructuredJSON struct {
	Type   string            `json:"type,omitempty"`
	Fields []exportFieldJSON `json:"fields"`
	Tables []exportTableJSON `json:"tables"`
}

type exportFieldJSON struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type exportTableJSON struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// EncodeExport encodes a result the same way the OCR service exports it, for the
// backends that recognize locally. XLSX is only available on the service.
func EncodeExport(res *model.Result, sourceName string, format model.ExportFormat) (*model.Export, error) {
	if res == nil {
		return nil, fmt.Errorf("missing result: %w", model.ErrNotFound)
	}

	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	if base == "" || base == "." {
		base = "ocr_result"
	}

	switch format {
	case model.ExportFormatJSON:
		data, err := encodeJSON(res)
		if err != nil {
			return nil, err
		}
		return &model.Export{Filename: base + "_ocr.json", ContentType: "application/json", Data: data}, nil
	case model.ExportFormatCSV:
		data, err := encodeCSV(res)
		if err != nil {
			return nil, err
		}
		return &model.Export{Filename: base + "_ocr.csv", ContentType: "text/csv; charset=utf-8", Data: data}, nil
	}

	return nil, fmt.Errorf("%q export is not supported locally: %w", format, model.ErrNotValid)
}

func encodeJSON(res *model.Result) ([]byte, error) {
	pages := make([]exportPageJSON, 0, len(res.Pages))
	for _, p := range res.Pages {
		page := exportPageJSON{
			PageNumber:    p.PageNumber,
			ExtractedText: p.ExtractedText,
			Confidence:    p.Confidence,
		}
		if sd := p.StructuredData; sd != nil {
			s := &exportStructuredJSON{Type: sd.Type, Fields: []exportFieldJSON{}, Tables: []exportTableJSON{}}
			for _, f := range sd.Fields {
				s.Fields = append(s.Fields, exportFieldJSON{Key: f.Key, Value: f.Value, Confidence: f.Confidence})
			}
			for _, t := range sd.Tables {
				s.Tables = append(s.Tables, exportTableJSON{Headers: t.Headers, Rows: t.Rows})
			}
			page.StructuredData = s
		}
		pages = append(pages, page)
	}

	data, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("could not encode json: %w", err)
	}
	return data, nil
}

func encodeCSV(res *model.Result) ([]byte, error) {
	var b bytes.Buffer
	b.Write(utf8BOM)

	w := csv.NewWriter(&b)
	_ = w.Write([]string{"page", "text", "document_type", "confidence"})
	for _, p := range res.Pages {
		docType := ""
		if p.StructuredData != nil {
			docType = p.StructuredData.Type
		}
		_ = w.Write([]string{
			strconv.Itoa(p.PageNumber),
			p.ExtractedText,
			docType,
			strconv.FormatFloat(p.Confidence, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("could not encode csv: %w", err)
	}

	return b.Bytes(), nil
}
