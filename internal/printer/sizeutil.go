package printer

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatBytes returns a human-readable byte size string.
// Examples: "0 B", "512 B", "1.5 KiB", "700 MiB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatConfidence returns a 0..1 confidence as a percentage.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.1f%%", c*100)
}
