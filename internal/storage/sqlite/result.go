package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

// Results are stored as JSON documents with these shapes.
type resultDoc struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status,omitempty"`
	Pages     []pageDoc `json:"pages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type pageDoc struct {
	Number     int      `json:"number"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Data       *dataDoc `json:"data,omitempty"`
}

type dataDoc struct {
	Type   string     `json:"type"`
	Fields []fieldDoc `json:"fields,omitempty"`
	Tables []tableDoc `json:"tables,omitempty"`
}

type fieldDoc struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type tableDoc struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

func encodeResult(r *model.Result) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}

	doc := resultDoc{
		TaskID:    r.TaskID,
		Status:    string(r.Status),
		Pages:     make([]pageDoc, 0, len(r.Pages)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, p := range r.Pages {
		pd := pageDoc{Number: p.PageNumber, Text: p.ExtractedText, Confidence: p.Confidence}
		if sd := p.StructuredData; sd != nil {
			pd.Data = &dataDoc{Type: sd.Type}
			for _, f := range sd.Fields {
				pd.Data.Fields = append(pd.Data.Fields, fieldDoc(f))
			}
			for _, t := range sd.Tables {
				pd.Data.Tables = append(pd.Data.Tables, tableDoc(t))
			}
		}
		doc.Pages = append(doc.Pages, pd)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeResult(data string) (*model.Result, error) {
	var doc resultDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, err
	}

	r := &model.Result{
		TaskID:    doc.TaskID,
		Status:    model.RemoteStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, pd := range doc.Pages {
		p := model.PageResult{PageNumber: pd.Number, ExtractedText: pd.Text, Confidence: pd.Confidence}
		if pd.Data != nil {
			p.StructuredData = &model.StructuredData{Type: pd.Data.Type}
			for _, f := range pd.Data.Fields {
				p.StructuredData.Fields = append(p.StructuredData.Fields, model.StructuredField(f))
			}
			for _, t := range pd.Data.Tables {
				p.StructuredData.Tables = append(p.StructuredData.Tables, model.TableData(t))
			}
		}
		r.Pages = append(r.Pages, p)
	}

	return r, nil
}
