package printer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/printer"
	"github.com/slok/ocrtrack/internal/storage"
)

func init() {
	color.NoColor = true
}

func resultFixture() model.Result {
	return model.Result{
		TaskID:    "t1",
		Status:    model.RemoteStatusCompleted,
		UpdatedAt: time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC),
		Pages: []model.PageResult{
			{
				PageNumber:    1,
				ExtractedText: "Invoice 42",
				Confidence:    0.9,
				StructuredData: &model.StructuredData{
					Type:   "invoice",
					Fields: []model.StructuredField{{Key: "total", Value: "42.00", Confidence: 0.8}},
				},
			},
			{PageNumber: 2, ExtractedText: "Thanks", Confidence: 0.7},
		},
	}
}

func tasksFixture() []model.TaskRecord {
	res := resultFixture()
	return []model.TaskRecord{
		{
			LocalID:  "L1",
			ID:       "t1",
			File:     model.SourceFile{Name: "invoice.pdf", Size: 1536},
			Status:   model.TaskStatusCompleted,
			Progress: 100,
			Result:   &res,
		},
		{
			LocalID:      "L2",
			File:         model.SourceFile{Name: "notes.png", Size: 10},
			Status:       model.TaskStatusFailed,
			ErrorMessage: "file too large",
		},
	}
}

func TestTablePrinterPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintTasks(tasksFixture())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "FILE")
	assert.Contains(t, lines[1], "invoice.pdf")
	assert.Contains(t, lines[1], "1.5 KiB")
	assert.Contains(t, lines[1], "completed")
	assert.Contains(t, lines[1], "100%")
	assert.Contains(t, lines[2], "failed")
	assert.Contains(t, lines[2], "file too large")
}

func TestTablePrinterPrintTasksEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printer.NewTablePrinter(&buf).PrintTasks(nil))
	assert.Empty(t, buf.String())
}

func TestTablePrinterPrintResult(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintResult(resultFixture())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Task:        t1")
	assert.Contains(t, out, "Pages:       2")
	assert.Contains(t, out, "Confidence:  80.0%")
	assert.Contains(t, out, "--- Page 1 (90.0%) ---\nInvoice 42")
	assert.Contains(t, out, "Document type: invoice")
	assert.Contains(t, out, "total  42.00  80.0%")
	assert.Contains(t, out, "--- Page 2 (70.0%) ---\nThanks")
}

func TestJSONPrinterPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintTasks(tasksFixture())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"local_id": "L1"`)
	assert.Contains(t, out, `"status": "completed"`)
	assert.Contains(t, out, `"document_type": "invoice"`)
	assert.Contains(t, out, `"total": "42.00"`)
	assert.Contains(t, out, `"error": "file too large"`)
}

func historyFixture() []model.HistoryEntry {
	res := resultFixture()
	return []model.HistoryEntry{
		{
			LocalID:    "L1",
			TaskID:     "t1",
			FileName:   "invoice.pdf",
			SizeBytes:  2048,
			Status:     model.TaskStatusCompleted,
			Result:     &res,
			FinishedAt: time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC),
		},
		{
			LocalID:      "L2",
			FileName:     "notes.png",
			SizeBytes:    10,
			Status:       model.TaskStatusFailed,
			ErrorMessage: "file too large",
		},
	}
}

func TestTablePrinterPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintHistory(historyFixture()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "CONFIDENCE")
	assert.Contains(t, lines[1], "t1")
	assert.Contains(t, lines[1], "2.0 KiB")
	assert.Contains(t, lines[1], "80.0%")
	assert.True(t, strings.HasPrefix(lines[2], "-"))
	assert.Contains(t, lines[2], "failed")
	assert.Contains(t, lines[2], "file too large")
}

func TestTablePrinterPrintHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printer.NewTablePrinter(&buf).PrintHistory(nil))
	assert.Empty(t, buf.String())
}

func TestJSONPrinterPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintHistory(historyFixture()))

	out := buf.String()
	assert.Contains(t, out, `"task_id": "t1"`)
	assert.Contains(t, out, `"finished_at": "2026-01-30T10:00:00Z"`)
	assert.Contains(t, out, `"extracted_text": "Invoice 42"`)
	assert.Contains(t, out, `"error": "file too large"`)
}

func remoteHistoryFixture() model.RemoteHistory {
	updated := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	return model.RemoteHistory{
		Tasks: []model.RemoteTask{
			{ID: "t2", FileName: "scan.png", FileType: "image", SizeBytes: 2048, PageCount: 1, Status: model.RemoteStatusCompleted, Progress: 100, CreatedAt: updated, UpdatedAt: updated},
			{ID: "t1", FileName: "big.pdf", FileType: "pdf", SizeBytes: 1024, PageCount: 3, Status: model.RemoteStatusFailed, ErrorMessage: "OCR engine error", CreatedAt: updated, UpdatedAt: updated},
		},
		Total: 12,
	}
}

func TestTablePrinterPrintRemoteHistory(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintRemoteHistory(remoteHistoryFixture()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "TASK ID"))
	assert.Contains(t, lines[1], "scan.png")
	assert.Contains(t, lines[1], "100%")
	assert.Contains(t, lines[2], "OCR engine error")
	assert.Equal(t, "Showing 2 of 12 tasks", lines[4])
}

func TestTablePrinterPrintRemoteHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintRemoteHistory(model.RemoteHistory{Total: 3}))
	assert.Equal(t, "No tasks (3 in the history)\n", buf.String())
}

func TestJSONPrinterPrintRemoteHistory(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintRemoteHistory(remoteHistoryFixture()))

	out := buf.String()
	assert.Contains(t, out, `"total": 12`)
	assert.Contains(t, out, `"id": "t2"`)
	assert.Contains(t, out, `"pages": 3`)
	assert.Contains(t, out, `"error": "OCR engine error"`)
	assert.Contains(t, out, `"updated_at": "2026-01-30T10:00:00Z"`)
}

func TestJSONPrinterPrintExport(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintExport("/tmp/invoice_ocr.csv", 20)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path": "/tmp/invoice_ocr.csv", "size_bytes": 20}`, buf.String())
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}

func TestProgressBar(t *testing.T) {
	tests := map[string]struct {
		progress int
		width    int
		exp      string
	}{
		"empty":        {progress: 0, width: 10, exp: "[          ]"},
		"half":         {progress: 50, width: 10, exp: "[=====     ]"},
		"full":         {progress: 100, width: 10, exp: "[==========]"},
		"over the top": {progress: 150, width: 4, exp: "[====]"},
		"negative":     {progress: -5, width: 4, exp: "[    ]"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, printer.ProgressBar(test.progress, test.width))
		})
	}
}

func TestProgressPrinterObserve(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewProgressPrinter(&buf, 4)

	task := model.TaskRecord{LocalID: "L1", File: model.SourceFile{Name: "a.pdf"}, Status: model.TaskStatusProcessing}
	other := model.TaskRecord{LocalID: "L2", File: model.SourceFile{Name: "b.pdf"}, Status: model.TaskStatusPending}

	p.Observe(storage.Snapshot{Version: 1, Tasks: []model.TaskRecord{task, other}})

	// Unchanged tasks are not printed again.
	task.Progress = 50
	p.Observe(storage.Snapshot{Version: 2, Tasks: []model.TaskRecord{task, other}})
	p.Observe(storage.Snapshot{Version: 3, Tasks: []model.TaskRecord{task, other}})

	other.Status = model.TaskStatusFailed
	other.ErrorMessage = "boom"
	p.Observe(storage.Snapshot{Version: 4, Tasks: []model.TaskRecord{task, other}})

	exp := "[    ]   0% a.pdf processing\n" +
		"[    ]   0% b.pdf pending\n" +
		"[==  ]  50% a.pdf processing\n" +
		"[    ]   0% b.pdf failed: boom\n"
	assert.Equal(t, exp, buf.String())
}
