package printer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/storage"
)

const defaultBarWidth = 30

// ProgressBar returns a text bar of width filled up to progress (0..100).
func ProgressBar(progress, width int) string {
	if width <= 0 {
		width = defaultBarWidth
	}
	progress = min(max(progress, 0), 100)

	filled := progress * width / 100
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

type taskView struct {
	status   model.TaskStatus
	progress int
}

// ProgressPrinter prints a line every time the status or the progress of a task
// changes. Its Observe method is a storage.Observer.
type ProgressPrinter struct {
	writer io.Writer
	width  int

	mu   sync.Mutex
	last map[string]taskView
}

// NewProgressPrinter creates a new progress printer.
func NewProgressPrinter(w io.Writer, barWidth int) *ProgressPrinter {
	return &ProgressPrinter{
		writer: w,
		width:  barWidth,
		last:   map[string]taskView{},
	}
}

var _ storage.Observer = (&ProgressPrinter{}).Observe

// Observe prints the changed tasks of the snapshot.
func (p *ProgressPrinter) Observe(s storage.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range s.Tasks {
		view := taskView{status: t.Status, progress: t.Progress}
		if last, ok := p.last[t.LocalID]; ok && last == view {
			continue
		}
		p.last[t.LocalID] = view

		line := fmt.Sprintf("%s %3d%% %s %s", ProgressBar(t.Progress, p.width), t.Progress, t.File.Name, ColorStatus(t.Status))
		if t.Status == model.TaskStatusFailed && t.ErrorMessage != "" {
			line += ": " + t.ErrorMessage
		}
		fmt.Fprintln(p.writer, line)
	}
}
