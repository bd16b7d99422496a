// Package session keeps a UI's view of who is using the shared machine in step
// with the server, merging request/response calls with pushed events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const defaultQueueSize = 32

// Options configures a Session.
type Options struct {
	// PluginID is the identity pushed events must carry to be handled.
	PluginID       string
	HistoryLimit   int
	CaptureTimeout time.Duration
	QueueSize      int
	Logger         *log.Logger
	// OnChange, if set, receives a snapshot after every committed change.
	OnChange func(View)
}

// View is a snapshot of everything the presentation layer renders.
type View struct {
	StatusMessage    string
	IsPrinting       bool
	IsNotPrinting    bool
	Holder           *OperatorSummary
	History          []OperatorSummary
	Operators        []OperatorSummary
	Selected         string
	CanAssign        bool
	UnknownTagSeen   bool
	Capturing        bool
	CaptureLabel     string
	RegistrationOpen bool
}

// Session wires the components for one attached UI. It is created by the
// hosting UI layer and lives as long as the UI does.
type Session struct {
	Directory    *OperatorDirectory
	Tracker      *OccupancyTracker
	Capture      *TagCaptureSession
	Registration *RegistrationFlow
	Router       *EventRouter

	transport Transport
	queue     chan Message
	onChange  func(View)
}

func New(t Transport, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	s := &Session{
		transport: t,
		queue:     make(chan Message, opts.QueueSize),
		onChange:  opts.OnChange,
	}
	s.Directory = NewOperatorDirectory(t)
	s.Tracker = NewOccupancyTracker(t, opts.HistoryLimit, opts.Logger)
	s.Registration = NewRegistrationFlow(t, opts.Logger)
	s.Capture = NewTagCaptureSession(s.Registration, opts.CaptureTimeout, opts.Logger)
	s.Router = NewEventRouter(opts.PluginID, s.Tracker, s.Capture, opts.Logger)

	s.Directory.notify = s.changed
	s.Tracker.notify = s.changed
	s.Registration.notify = s.changed
	s.Capture.notify = s.changed
	s.Router.notify = s.changed
	return s
}

// Attach loads the operator list and the current holder.
func (s *Session) Attach(ctx context.Context) error {
	return errors.Join(s.Directory.Refresh(ctx), s.Tracker.Refresh(ctx))
}

// Run handles queued push events until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.Router.Run(ctx, s.queue)
}

// Deliver queues a push message for Run. It blocks while the queue is full.
func (s *Session) Deliver(ctx context.Context, msg Message) error {
	select {
	case s.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue exposes the inbound queue so a push reader can feed it directly.
func (s *Session) Queue() chan<- Message {
	return s.queue
}

// Start attributes the machine to the selected operator.
func (s *Session) Start(ctx context.Context) error {
	username := s.Directory.Selected()
	if username == "" {
		return &ValidationError{Field: "operator", Reason: "no operator selected"}
	}
	return s.Tracker.RequestStart(ctx, username)
}

func (s *Session) Finished(ctx context.Context) error {
	return s.Tracker.RequestFinished(ctx)
}

func (s *Session) Failed(ctx context.Context) error {
	return s.Tracker.RequestFailed(ctx)
}

// FakeTag asks the server to emit a made-up tag scan.
func (s *Session) FakeTag(ctx context.Context) error {
	if err := s.transport.NotifyFakeTag(ctx); err != nil {
		return transportErr("notify fake tag", err)
	}
	return nil
}

// View builds a snapshot of the observable state.
func (s *Session) View() View {
	v := View{
		IsPrinting:       s.Tracker.IsPrinting(),
		Holder:           s.Tracker.Holder(),
		History:          s.Tracker.History(),
		Operators:        s.Directory.Operators(),
		Selected:         s.Directory.Selected(),
		UnknownTagSeen:   s.Router.UnknownTagSeen(),
		Capturing:        s.Capture.Waiting(),
		CaptureLabel:     s.Capture.Label(),
		RegistrationOpen: s.Registration.IsOpen(),
	}
	v.IsNotPrinting = !v.IsPrinting
	v.CanAssign = v.Selected != ""
	v.StatusMessage = statusMessage(v)
	return v
}

func statusMessage(v View) string {
	switch {
	case v.Holder != nil && v.Holder.PrintInPrivate:
		return "Printing in private"
	case v.Holder != nil:
		return fmt.Sprintf("%s is printing", v.Holder.Label())
	case v.IsPrinting:
		return "Starting..."
	default:
		return "Who's Printing?"
	}
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange(s.View())
	}
}
