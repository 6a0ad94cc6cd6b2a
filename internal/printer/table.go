package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/slok/ocrtrack/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

var (
	statusColors = map[model.TaskStatus]*color.Color{
		model.TaskStatusPending:    color.New(color.FgWhite),
		model.TaskStatusUploading:  color.New(color.FgCyan),
		model.TaskStatusProcessing: color.New(color.FgYellow),
		model.TaskStatusCompleted:  color.New(color.FgGreen),
		model.TaskStatusFailed:     color.New(color.FgRed, color.Bold),
	}
	headerColor = color.New(color.Bold)
)

// ColorStatus returns the status colored, colors are disabled with color.NoColor.
func ColorStatus(s model.TaskStatus) string {
	c, ok := statusColors[s]
	if !ok {
		return string(s)
	}
	return c.Sprint(string(s))
}

// PrintTasks prints the tasks in a table format.
func (t *TablePrinter) PrintTasks(tasks []model.TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, headerColor.Sprint("#\tFILE\tSIZE\tSTATUS\tPROGRESS\tTASK ID\tUPDATED\tERROR"))

	// Print rows.
	for i, task := range tasks {
		id := task.ID
		if id == "" {
			id = "-"
		}
		errMsg := task.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			i,
			task.File.Name,
			FormatBytes(task.File.Size),
			ColorStatus(task.Status),
			task.Progress,
			id,
			TimeAgo(task.UpdatedAt),
			errMsg,
		)
	}

	return nil
}

// PrintResult prints the recognized text of a result page by page.
func (t *TablePrinter) PrintResult(result model.Result) error {
	fmt.Fprintf(t.writer, "Task:        %s\n", result.TaskID)
	fmt.Fprintf(t.writer, "Status:      %s\n", result.Status)
	fmt.Fprintf(t.writer, "Pages:       %d\n", len(result.Pages))
	fmt.Fprintf(t.writer, "Confidence:  %s\n", FormatConfidence(result.AverageConfidence()))
	if !result.UpdatedAt.IsZero() {
		fmt.Fprintf(t.writer, "Updated:     %s\n", FormatTimestamp(result.UpdatedAt))
	}

	for _, p := range result.Pages {
		fmt.Fprintf(t.writer, "\n%s\n", headerColor.Sprintf("--- Page %d (%s) ---", p.PageNumber, FormatConfidence(p.Confidence)))
		fmt.Fprintln(t.writer, p.ExtractedText)

		if p.StructuredData != nil && len(p.StructuredData.Fields) > 0 {
			fmt.Fprintf(t.writer, "\nDocument type: %s\n", p.StructuredData.Type)
			tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
			for _, f := range p.StructuredData.Fields {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Key, f.Value, FormatConfidence(f.Confidence))
			}
			tw.Flush()
		}
	}

	return nil
}

// PrintHistory prints the finished tasks in a table format.
func (t *TablePrinter) PrintHistory(entries []model.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, headerColor.Sprint("TASK ID\tFILE\tSIZE\tSTATUS\tPAGES\tCONFIDENCE\tFINISHED\tERROR"))

	for _, e := range entries {
		id := e.TaskID
		if id == "" {
			id = "-"
		}
		pages, confidence := "-", "-"
		if e.Result != nil {
			pages = fmt.Sprintf("%d", len(e.Result.Pages))
			confidence = FormatConfidence(e.Result.AverageConfidence())
		}
		errMsg := e.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id,
			e.FileName,
			FormatBytes(e.SizeBytes),
			ColorStatus(e.Status),
			pages,
			confidence,
			TimeAgo(e.FinishedAt),
			errMsg,
		)
	}

	return nil
}

// PrintRemoteHistory prints a page of the OCR service history in a table format.
func (t *TablePrinter) PrintRemoteHistory(history model.RemoteHistory) error {
	if len(history.Tasks) == 0 {
		fmt.Fprintf(t.writer, "No tasks (%d in the history)\n", history.Total)
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headerColor.Sprint("TASK ID\tFILE\tSIZE\tPAGES\tSTATUS\tPROGRESS\tUPDATED\tERROR"))

	for _, task := range history.Tasks {
		errMsg := task.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d%%\t%s\t%s\n",
			task.ID,
			task.FileName,
			FormatBytes(task.SizeBytes),
			task.PageCount,
			task.Status,
			task.Progress,
			TimeAgo(task.UpdatedAt),
			errMsg,
		)
	}
	tw.Flush()

	fmt.Fprintf(t.writer, "\nShowing %d of %d tasks\n", len(history.Tasks), history.Total)
	return nil
}

// PrintExport prints where an export has been stored.
func (t *TablePrinter) PrintExport(path string, size int64) error {
	fmt.Fprintf(t.writer, "Exported %s (%s)\n", path, FormatBytes(size))
	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
