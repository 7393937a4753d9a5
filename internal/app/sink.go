package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/marcreport/internal/orchestrator"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Sink forwards orchestrator events to a running program.
type Sink struct {
	s Sender
}

var _ orchestrator.EventSink = (*Sink)(nil)

func NewSink(s Sender) *Sink {
	return &Sink{s: s}
}

func (k *Sink) ArchiveStarted(_ context.Context, archive string) {
	k.s.Send(ArchiveMsg{Archive: archive, Status: StatusProcessing})
}

func (k *Sink) ArchiveFinished(_ context.Context, res orchestrator.ArchiveResult) {
	k.s.Send(ArchiveMsg{
		Archive: res.Archive,
		Status:  StatusComplete,
		Records: res.Records,
		Skipped: res.Skipped,
		Rows:    len(res.Rows),
		Elapsed: res.Duration,
	})
}

func (k *Sink) ArchiveFailed(_ context.Context, f orchestrator.Failure) {
	k.s.Send(ArchiveMsg{Archive: f.Archive, Status: StatusError, ErrMsg: f.Error()})
}

// Progress is suitable for orchestrator.Options.Progress.
func (k *Sink) Progress(p orchestrator.Progress) {
	k.s.Send(NewProgress(p))
}

// Done reports the end of the run.
func (k *Sink) Done(summary orchestrator.Summary, err error) {
	k.s.Send(DoneMsg{Summary: summary, Err: err})
}
