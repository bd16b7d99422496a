package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Draft holds the fields of the registration dialog.
type Draft struct {
	Username        string
	Password        string
	ConfirmPassword string
	KeyfobID        string
	DisplayName     string
	EmailAddress    string
	PhoneNumber     string
	TwitterHandle   string
	MastodonHandle  string
	PrintInPrivate  bool
}

// Validate checks the draft before anything is sent.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Username) == "" {
		return &ValidationError{Field: "username", Reason: "required"}
	}
	if d.Password == "" {
		return &ValidationError{Field: "password", Reason: "required"}
	}
	if d.Password != d.ConfirmPassword {
		return &ValidationError{Field: "confirmPassword", Reason: "passwords do not match"}
	}
	return nil
}

func (d Draft) registration() Registration {
	return Registration{
		Username:       strings.TrimSpace(d.Username),
		Password:       d.Password,
		KeyfobID:       d.KeyfobID,
		DisplayName:    d.DisplayName,
		EmailAddress:   d.EmailAddress,
		PhoneNumber:    d.PhoneNumber,
		TwitterHandle:  d.TwitterHandle,
		MastodonHandle: d.MastodonHandle,
		PrintInPrivate: d.PrintInPrivate,
	}
}

// RegistrationFlow owns the registration dialog and its draft.
type RegistrationFlow struct {
	transport Transport
	logger    *log.Logger
	notify    func()

	mu    sync.Mutex
	draft Draft
	open  bool
}

func NewRegistrationFlow(t Transport, logger *log.Logger) *RegistrationFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &RegistrationFlow{transport: t, logger: logger, notify: func() {}}
}

// Open shows the registration dialog. The draft is kept from any earlier attempt.
func (f *RegistrationFlow) Open() {
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	f.notify()
}

// Close hides the dialog without discarding the draft.
func (f *RegistrationFlow) Close() {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.notify()
}

func (f *RegistrationFlow) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Draft returns a copy of the pending draft.
func (f *RegistrationFlow) Draft() Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

// Update applies edit to the pending draft.
func (f *RegistrationFlow) Update(edit func(*Draft)) {
	f.mu.Lock()
	edit(&f.draft)
	f.mu.Unlock()
	f.notify()
}

// SetTagID stores a captured tag identifier in the draft.
func (f *RegistrationFlow) SetTagID(tagID string) {
	f.Update(func(d *Draft) { d.KeyfobID = tagID })
}

// Submit validates the draft and sends the create-operator request. On
// success the draft is cleared and the dialog closed, unless the draft was
// edited during the request; on failure the draft is left as it was so the
// user can retry.
func (f *RegistrationFlow) Submit(ctx context.Context) error {
	draft := f.Draft()
	if err := draft.Validate(); err != nil {
		return err
	}

	reg := draft.registration()
	f.logger.Printf("registering operator %s", reg.Username)
	if err := f.transport.RegisterOperator(ctx, reg); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, transportErr("register operator", err))
	}

	// Edits made while the request was in flight, such as a captured tag,
	// belong to a new attempt and are kept.
	f.mu.Lock()
	edited := f.draft != draft
	if !edited {
		f.draft = Draft{}
		f.open = false
	}
	f.mu.Unlock()
	if edited {
		f.logger.Printf("draft changed while registering %s; keeping it", reg.Username)
	}

	f.notify()
	return nil
}
