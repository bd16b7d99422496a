package session

import (
	"log"
	"sync"
	"time"
)

// CaptureState is the state of a TagCaptureSession.
type CaptureState int

const (
	CaptureInactive CaptureState = iota
	CaptureWaiting
)

func (s CaptureState) String() string {
	switch s {
	case CaptureWaiting:
		return "waiting"
	default:
		return "inactive"
	}
}

// tagSink receives a captured tag id.
type tagSink interface {
	SetTagID(tagID string)
}

// TagCaptureSession redirects the next tag scan into the registration draft.
type TagCaptureSession struct {
	sink    tagSink
	timeout time.Duration
	logger  *log.Logger
	notify  func()

	mu       sync.Mutex
	state    CaptureState
	captured string
	gen      uint64
	timer    *time.Timer
}

// NewTagCaptureSession creates an inactive session. A waiting capture reverts
// to inactive after timeout; zero disables the timeout.
func NewTagCaptureSession(sink tagSink, timeout time.Duration, logger *log.Logger) *TagCaptureSession {
	if logger == nil {
		logger = log.Default()
	}
	return &TagCaptureSession{sink: sink, timeout: timeout, logger: logger, notify: func() {}}
}

// BeginCapture starts waiting for a tag and forgets any previously captured id.
func (s *TagCaptureSession) BeginCapture() {
	s.mu.Lock()
	s.state = CaptureWaiting
	s.captured = ""
	s.gen++
	s.stopTimerLocked()
	if s.timeout > 0 {
		gen := s.gen
		s.timer = time.AfterFunc(s.timeout, func() { s.expire(gen) })
	}
	s.mu.Unlock()

	s.logger.Printf("tag capture started")
	s.notify()
}

// Consume hands tagID to the registration draft if a capture is waiting.
// It reports whether the tag was taken.
func (s *TagCaptureSession) Consume(tagID string) bool {
	s.mu.Lock()
	if s.state != CaptureWaiting {
		s.mu.Unlock()
		s.logger.Printf("ignoring tag %s: no capture in progress", tagID)
		return false
	}
	s.state = CaptureInactive
	s.captured = tagID
	s.stopTimerLocked()
	s.mu.Unlock()

	s.sink.SetTagID(tagID)
	s.logger.Printf("captured tag %s", tagID)
	s.notify()
	return true
}

// Cancel stops waiting without touching the draft.
func (s *TagCaptureSession) Cancel() {
	s.mu.Lock()
	if s.state != CaptureWaiting {
		s.mu.Unlock()
		return
	}
	s.state = CaptureInactive
	s.stopTimerLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *TagCaptureSession) expire(gen uint64) {
	s.mu.Lock()
	if s.state != CaptureWaiting || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = CaptureInactive
	s.timer = nil
	s.mu.Unlock()

	s.logger.Printf("tag capture timed out after %s", s.timeout)
	s.notify()
}

func (s *TagCaptureSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *TagCaptureSession) State() CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TagCaptureSession) Waiting() bool {
	return s.State() == CaptureWaiting
}

// Captured returns the id taken by the last successful Consume, if any.
func (s *TagCaptureSession) Captured() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured
}

// Label is the text for the capture button.
func (s *TagCaptureSession) Label() string {
	if s.Waiting() {
		return "Scan your tag now..."
	}
	return "Read tag"
}
