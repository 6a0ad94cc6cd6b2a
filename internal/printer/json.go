package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// taskItem represents a task in the list output.
type taskItem struct {
	LocalID   string        `json:"local_id"`
	ID        string        `json:"id,omitempty"`
	File      string        `json:"file"`
	SizeBytes int64         `json:"size_bytes"`
	Status    string        `json:"status"`
	Progress  int           `json:"progress"`
	Error     string        `json:"error,omitempty"`
	Result    *resultOutput `json:"result,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// historyItem represents a finished task in the history output.
type historyItem struct {
	LocalID    string        `json:"local_id"`
	TaskID     string        `json:"task_id,omitempty"`
	File       string        `json:"file"`
	SizeBytes  int64         `json:"size_bytes"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Result     *resultOutput `json:"result,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// resultOutput represents a task result output.
type resultOutput struct {
	TaskID     string       `json:"task_id"`
	Status     string       `json:"status"`
	Confidence float64      `json:"confidence"`
	Pages      []pageOutput `json:"pages"`
}

type pageOutput struct {
	PageNumber     int             `json:"page_number"`
	ExtractedText  string          `json:"extracted_text"`
	Confidence     float64         `json:"confidence"`
	StructuredData *structuredData `json:"structured_data,omitempty"`
}

type structuredData struct {
	Type   string            `json:"document_type"`
	Fields map[string]string `json:"fields,omitempty"`
}

type remoteTaskItem struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	FileType  string    `json:"file_type"`
	SizeBytes int64     `json:"size_bytes"`
	Pages     int       `json:"pages"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type remoteHistoryOutput struct {
	Tasks []remoteTaskItem `json:"tasks"`
	Total int              `json:"total"`
}

// exportOutput represents a stored export output.
type exportOutput struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

func newResultOutput(r model.Result) *resultOutput {
	out := &resultOutput{
		TaskID:     r.TaskID,
		Status:     string(r.Status),
		Confidence: r.AverageConfidence(),
		Pages:      make([]pageOutput, 0, len(r.Pages)),
	}

	for _, p := range r.Pages {
		po := pageOutput{
			PageNumber:    p.PageNumber,
			ExtractedText: p.ExtractedText,
			Confidence:    p.Confidence,
		}
		if p.StructuredData != nil {
			po.StructuredData = &structuredData{Type: p.StructuredData.Type}
			if len(p.StructuredData.Fields) > 0 {
				po.StructuredData.Fields = make(map[string]string, len(p.StructuredData.Fields))
				for _, f := range p.StructuredData.Fields {
					po.StructuredData.Fields[f.Key] = f.Value
				}
			}
		}
		out.Pages = append(out.Pages, po)
	}

	return out
}

// PrintTasks prints the tasks in JSON format.
func (j *JSONPrinter) PrintTasks(tasks []model.TaskRecord) error {
	items := make([]taskItem, len(tasks))
	for i, t := range tasks {
		items[i] = taskItem{
			LocalID:   t.LocalID,
			ID:        t.ID,
			File:      t.File.Name,
			SizeBytes: t.File.Size,
			Status:    string(t.Status),
			Progress:  t.Progress,
			Error:     t.ErrorMessage,
			CreatedAt: t.CreatedAt.UTC(),
			UpdatedAt: t.UpdatedAt.UTC(),
		}
		if t.Result != nil {
			items[i].Result = newResultOutput(*t.Result)
		}
	}

	return j.encode(items)
}

// PrintResult prints a task result in JSON format.
func (j *JSONPrinter) PrintResult(result model.Result) error {
	return j.encode(newResultOutput(result))
}

// PrintHistory prints the finished tasks in JSON format.
func (j *JSONPrinter) PrintHistory(entries []model.HistoryEntry) error {
	items := make([]historyItem, len(entries))
	for i, e := range entries {
		items[i] = historyItem{
			LocalID:    e.LocalID,
			TaskID:     e.TaskID,
			File:       e.FileName,
			SizeBytes:  e.SizeBytes,
			Status:     string(e.Status),
			Error:      e.ErrorMessage,
			CreatedAt:  e.CreatedAt.UTC(),
			FinishedAt: e.FinishedAt.UTC(),
		}
		if e.Result != nil {
			items[i].Result = newResultOutput(*e.Result)
		}
	}

	return j.encode(items)
}

// PrintRemoteHistory prints a page of the OCR service history in JSON format.
func (j *JSONPrinter) PrintRemoteHistory(history model.RemoteHistory) error {
	out := remoteHistoryOutput{
		Tasks: make([]remoteTaskItem, len(history.Tasks)),
		Total: history.Total,
	}
	for i, t := range history.Tasks {
		out.Tasks[i] = remoteTaskItem{
			ID:        t.ID,
			File:      t.FileName,
			FileType:  t.FileType,
			SizeBytes: t.SizeBytes,
			Pages:     t.PageCount,
			Status:    string(t.Status),
			Progress:  t.Progress,
			Error:     t.ErrorMessage,
			CreatedAt: t.CreatedAt.UTC(),
			UpdatedAt: t.UpdatedAt.UTC(),
		}
	}

	return j.encode(out)
}

// PrintExport prints where an export has been stored in JSON format.
func (j *JSONPrinter) PrintExport(path string, size int64) error {
	return j.encode(exportOutput{Path: path, SizeBytes: size})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
