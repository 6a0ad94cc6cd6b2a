package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

// --- JSON wire types ---

type taskJSON struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"error_message"`
}

type resultJSON struct {
	TaskID    string           `json:"task_id"`
	Status    string           `json:"status"`
	Results   []pageResultJSON `json:"results"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

type pageResultJSON struct {
	PageNumber     int                 `json:"page_number"`
	ExtractedText  string              `json:"extracted_text"`
	Confidence     float64             `json:"confidence"`
	StructuredData *structuredDataJSON `json:"structured_data"`
}

type structuredDataJSON struct {
	Type   string `json:"type"`
	Fields []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"fields"`
	Tables []struct {
		Headers []string   `json:"headers"`
		Rows    [][]string `json:"rows"`
	} `json:"tables"`
}

func (r resultJSON) toModel() *model.Result {
	pages := make([]model.PageResult, 0, len(r.Results))
	for _, p := range r.Results {
		page := model.PageResult{
			PageNumber:    p.PageNumber,
			ExtractedText: p.ExtractedText,
			Confidence:    p.Confidence,
		}

		if sd := p.StructuredData; sd != nil {
			data := &model.StructuredData{Type: sd.Type}
			for _, f := range sd.Fields {
				data.Fields = append(data.Fields, model.StructuredField{Key: f.Key, Value: f.Value, Confidence: f.Confidence})
			}
			for _, t := range sd.Tables {
				data.Tables = append(data.Tables, model.TableData{Headers: t.Headers, Rows: t.Rows})
			}
			page.StructuredData = data
		}

		pages = append(pages, page)
	}

	return &model.Result{
		TaskID:    r.TaskID,
		Status:    model.RemoteStatus(r.Status),
		Pages:     pages,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

// The server sends naive UTC timestamps.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// --- ocr.Backend implementation ---

// Upload uploads the document and returns the created task ID.
func (c *Client) Upload(ctx context.Context, file model.SourceFile) (string, error) {
	id, err := c.upload(ctx, file)
	if err != nil {
		return "", newUploadError(err)
	}

	c.logger.Debugf("Uploaded %s as task %s", file.Name, id)
	return id, nil
}

func (c *Client) upload(ctx context.Context, file model.SourceFile) (string, error) {
	if file.Open == nil {
		return "", fmt.Errorf("file %s can't be opened: %w", file.Name, model.ErrNotValid)
	}

	r, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("could not open file: %w", err)
	}
	defer r.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// The server validates the part content type.
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	h.Set("Content-Type", file.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("could not create multipart: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("could not read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("could not close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/ocr/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var task taskJSON
	if err := c.do(req, &task); err != nil {
		return "", err
	}
	if task.ID == "" {
		return "", fmt.Errorf("missing task id on upload response: %w", model.ErrNotValid)
	}

	return task.ID, nil
}

// Process runs the recognition of an uploaded task, blocks until the server has
// finished.
func (c *Client) Process(ctx context.Context, taskID string) (*model.Result, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/ocr/process/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, &model.ProcessError{Err: err}
	}

	var res resultJSON
	if err := c.do(req, &res); err != nil {
		return nil, newProcessError(err)
	}

	result := res.toModel()
	if result.Status == model.RemoteStatusFailed {
		return nil, &model.ProcessError{Message: "OCR processing failed"}
	}
	if result.TaskID == "" {
		result.TaskID = taskID
	}

	return result, nil
}

// Result gets the stored result of a task.
func (c *Client) Result(ctx context.Context, taskID string) (*model.Result, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/ocr/result/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}

	var res resultJSON
	if err := c.do(req, &res); err != nil {
		return nil, fmt.Errorf("could not get result of task %s: %w", taskID, err)
	}

	return res.toModel(), nil
}

func newUploadError(err error) *model.UploadError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &model.UploadError{Message: apiErr.Detail, Err: err}
	}
	return &model.UploadError{Err: err}
}

func newProcessError(err error) *model.ProcessError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &model.ProcessError{Message: apiErr.Detail, Err: err}
	}
	return &model.ProcessError{Err: err}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
