package app

import (
	"fmt"
	"time"

	"github.com/brensch/marcreport/internal/orchestrator"
)

// --- Progress Messages ---

// ProgressMsg updates the overall progress bar.
type ProgressMsg struct {
	Completed int
	Failed    int
	Total     int
	Records   int
	Archive   string // archive that just completed
}

// ArchiveMsg updates the row for one archive.
type ArchiveMsg struct {
	Archive string
	Status  string // StatusProcessing, StatusComplete or StatusError
	Records int
	Skipped int
	Rows    int
	Elapsed time.Duration
	ErrMsg  string
}

// DoneMsg signals that the run has finished.
type DoneMsg struct {
	Summary orchestrator.Summary
	Err     error
}

// Archive statuses shown in the file table.
const (
	StatusProcessing = "Processing"
	StatusComplete   = "Complete"
	StatusError      = "Error"
)

// NewProgress converts an orchestrator progress update.
func NewProgress(p orchestrator.Progress) ProgressMsg {
	return ProgressMsg{
		Completed: p.Completed,
		Failed:    p.Failed,
		Total:     p.Total,
		Records:   p.Records,
		Archive:   p.Archive,
	}
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress: %d/%d", p.Completed, p.Total)
}

func (a ArchiveMsg) String() string {
	return fmt.Sprintf("Archive %s: %s", a.Archive, a.Status)
}

func (d DoneMsg) Error() string {
	if d.Err != nil {
		return d.Err.Error()
	}
	return ""
}
