package transfer

import (
	"fmt"
	"strconv"
	"strings"
)

// ProgressBarWidth is the number of cells in the progress bar of a status line.
const ProgressBarWidth = 30

const (
	barFilled = "█"
	barEmpty  = "░"
	separator = "    "
)

// ProgressBar returns a bar of width cells filled proportionally to percent.
func ProgressBar(percent float64, width int) string {
	n := int(percent * float64(width) / 100)
	if n < 0 {
		n = 0
	} else if n > width {
		n = width
	}
	return strings.Repeat(barFilled, n) + strings.Repeat(barEmpty, width-n)
}

// StatusLine formats the snapshot for fixed-width terminal output, e.g.
//
//	42.17%    ████████████░░░░░░░░░░░░░░░░░░    1.3 MB/s ↓    0.2 MB/s ↑    12 peers    downloading    true
func (s Snapshot) StatusLine() string {
	percent := s.Progress * 100
	fields := []string{
		fmt.Sprintf("%.2f%%", percent),
		ProgressBar(percent, ProgressBarWidth),
		fmt.Sprintf("%.1f MB/s ↓", megabytes(s.DownloadRate)),
		fmt.Sprintf("%.1f MB/s ↑", megabytes(s.UploadRate)),
		fmt.Sprintf("%d peers", s.NumPeers),
		s.State,
		strconv.FormatBool(!s.IsPaused),
	}
	return strings.Join(fields, separator)
}

func megabytes(n int64) float64 {
	return float64(n) / 1024 / 1024
}
