package printer

import "github.com/slok/ocrtrack/internal/model"

// Printer knows how to print OCR task information in different formats.
type Printer interface {
	PrintTasks(tasks []model.TaskRecord) error
	PrintResult(result model.Result) error
	PrintHistory(entries []model.HistoryEntry) error
	PrintRemoteHistory(history model.RemoteHistory) error
	PrintExport(path string, size int64) error
	PrintMessage(msg string) error
}
