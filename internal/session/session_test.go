package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a scripted Transport. Holders are returned in order; the
// last one repeats.
type fakeTransport struct {
	mu          sync.Mutex
	operators   []OperatorSummary
	holders     []*OperatorSummary
	holderErr   error
	commandErr  error
	registerErr error

	started     []string
	failed      int
	finished    int
	fakeTags    int
	registered  []Registration
	holderCalls int

	// onRegister, if set, runs inside RegisterOperator before it returns.
	onRegister func()
}

func (f *fakeTransport) ListOperators(ctx context.Context) ([]OperatorSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holderErr != nil {
		return nil, f.holderErr
	}
	return f.operators, nil
}

func (f *fakeTransport) CurrentHolder(ctx context.Context) (*OperatorSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holderCalls++
	if f.holderErr != nil {
		return nil, f.holderErr
	}
	if len(f.holders) == 0 {
		return nil, nil
	}
	h := f.holders[0]
	if len(f.holders) > 1 {
		f.holders = f.holders[1:]
	}
	return h, nil
}

func (f *fakeTransport) NotifyStarted(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, username)
	return f.commandErr
}

func (f *fakeTransport) NotifyFailed(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
	return f.commandErr
}

func (f *fakeTransport) NotifyFinished(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished++
	return f.commandErr
}

func (f *fakeTransport) NotifyFakeTag(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fakeTags++
	return f.commandErr
}

func (f *fakeTransport) RegisterOperator(ctx context.Context, reg Registration) error {
	f.mu.Lock()
	f.registered = append(f.registered, reg)
	hook := f.onRegister
	err := f.registerErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// setHolders replaces the scripted CurrentHolder responses.
func (f *fakeTransport) setHolders(holders ...*OperatorSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holders = holders
}

var (
	alice = OperatorSummary{Username: "alice", DisplayName: "Alice"}
	bob   = OperatorSummary{Username: "bob", DisplayName: "Bob"}
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestSession(t *testing.T, ft *fakeTransport) *Session {
	t.Helper()
	return New(ft, Options{PluginID: "whosprinting", Logger: quietLogger(), CaptureTimeout: time.Minute})
}

func TestOccupancyTracker_HolderHistoryScenario(t *testing.T) {
	ft := &fakeTransport{operators: []OperatorSummary{alice, bob}}
	s := newTestSession(t, ft)
	ctx := context.Background()

	require.NoError(t, s.Directory.Refresh(ctx))
	assert.Equal(t, []OperatorSummary{alice, bob}, s.Directory.Operators())

	ft.setHolders(&alice)
	require.NoError(t, s.Tracker.Refresh(ctx))
	assert.True(t, s.Tracker.IsPrinting())
	assert.Equal(t, &alice, s.Tracker.Holder())
	assert.Empty(t, s.Tracker.History())

	ft.setHolders(nil)
	require.NoError(t, s.Tracker.Refresh(ctx))
	assert.False(t, s.Tracker.IsPrinting())
	assert.True(t, s.Tracker.IsNotPrinting())
	assert.Nil(t, s.Tracker.Holder())
	assert.Equal(t, []OperatorSummary{alice}, s.Tracker.History())

	ft.setHolders(&bob)
	require.NoError(t, s.Tracker.Refresh(ctx))
	assert.Equal(t, &bob, s.Tracker.Holder())
	assert.Equal(t, []OperatorSummary{alice}, s.Tracker.History())
}

func TestOccupancyTracker_RefreshIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	tr := NewOccupancyTracker(ft, 0, quietLogger())
	ctx := context.Background()

	ft.setHolders(&alice)
	require.NoError(t, tr.Refresh(ctx))
	require.NoError(t, tr.Refresh(ctx))
	assert.Empty(t, tr.History())

	ft.setHolders(nil)
	require.NoError(t, tr.Refresh(ctx))
	require.NoError(t, tr.Refresh(ctx))
	assert.Len(t, tr.History(), 1, "a vacancy is recorded once no matter how often it is observed")
}

func TestOccupancyTracker_HistoryGrowsOncePerVacancy(t *testing.T) {
	ft := &fakeTransport{}
	tr := NewOccupancyTracker(ft, 0, quietLogger())
	ctx := context.Background()

	sequence := []*OperatorSummary{nil, &alice, &alice, nil, nil, &bob, &alice, nil, &bob, nil}
	vacancies := 0
	var prev *OperatorSummary
	for _, h := range sequence {
		ft.setHolders(h)
		require.NoError(t, tr.Refresh(ctx))
		if prev != nil && h == nil {
			vacancies++
		}
		prev = h
		assert.Len(t, tr.History(), vacancies)
	}
	assert.Equal(t, []OperatorSummary{alice, alice, bob}, tr.History())
}

func TestOccupancyTracker_HistoryLimit(t *testing.T) {
	ft := &fakeTransport{}
	tr := NewOccupancyTracker(ft, 2, quietLogger())
	ctx := context.Background()

	carol := OperatorSummary{Username: "carol"}
	for _, h := range []*OperatorSummary{&alice, nil, &bob, nil, &carol, nil} {
		ft.setHolders(h)
		require.NoError(t, tr.Refresh(ctx))
	}
	assert.Equal(t, []OperatorSummary{bob, carol}, tr.History())
}

func TestOccupancyTracker_RequestStartIsOptimistic(t *testing.T) {
	t.Run("confirmed by refresh", func(t *testing.T) {
		ft := &fakeTransport{}
		tr := NewOccupancyTracker(ft, 0, quietLogger())
		ctx := context.Background()

		require.NoError(t, tr.RequestStart(ctx, "alice"))
		assert.True(t, tr.IsPrinting())
		assert.Nil(t, tr.Holder(), "holder is only set from a server response")
		assert.Equal(t, []string{"alice"}, ft.started)

		ft.setHolders(&alice)
		require.NoError(t, tr.Refresh(ctx))
		assert.Equal(t, &alice, tr.Holder())
		assert.True(t, tr.IsPrinting())
	})

	t.Run("contradicted by refresh", func(t *testing.T) {
		ft := &fakeTransport{}
		tr := NewOccupancyTracker(ft, 0, quietLogger())
		ctx := context.Background()

		require.NoError(t, tr.RequestStart(ctx, "alice"))
		ft.setHolders(nil)
		require.NoError(t, tr.Refresh(ctx))
		assert.False(t, tr.IsPrinting())
		assert.Empty(t, tr.History(), "nothing was confirmed so nothing is vacated")
	})
}

func TestOccupancyTracker_TransportFailures(t *testing.T) {
	ft := &fakeTransport{}
	tr := NewOccupancyTracker(ft, 0, quietLogger())
	ctx := context.Background()

	ft.setHolders(&alice)
	require.NoError(t, tr.Refresh(ctx))

	ft.holderErr = errors.New("connection refused")
	err := tr.Refresh(ctx)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "get occupancy", te.Op)
	assert.Equal(t, &alice, tr.Holder(), "a failed refresh leaves state untouched")
	assert.Empty(t, tr.History())

	ft.holderErr = nil
	ft.commandErr = errors.New("503")
	err = tr.RequestFinished(ctx)
	require.ErrorAs(t, err, &te)
	assert.False(t, tr.IsPrinting(), "the optimistic flag stays applied")
	assert.Equal(t, &alice, tr.Holder())

	ft.commandErr = nil
	require.NoError(t, tr.Refresh(ctx))
	assert.True(t, tr.IsPrinting(), "the next successful refresh wins")
}

func TestOccupancyTracker_RequestFailed(t *testing.T) {
	ft := &fakeTransport{}
	tr := NewOccupancyTracker(ft, 0, quietLogger())

	require.NoError(t, tr.RequestStart(context.Background(), "bob"))
	require.NoError(t, tr.RequestFailed(context.Background()))
	assert.False(t, tr.IsPrinting())
	assert.Equal(t, 1, ft.failed)
}

func TestOperatorDirectory_Selection(t *testing.T) {
	ft := &fakeTransport{operators: []OperatorSummary{alice, bob}}
	d := NewOperatorDirectory(ft)
	ctx := context.Background()

	assert.False(t, d.CanAssign())
	var ve *ValidationError
	assert.ErrorAs(t, d.Select("alice"), &ve, "cannot select before the list is loaded")

	require.NoError(t, d.Refresh(ctx))
	require.NoError(t, d.Select("bob"))
	assert.True(t, d.CanAssign())

	ft.operators = []OperatorSummary{alice}
	require.NoError(t, d.Refresh(ctx))
	assert.Equal(t, []OperatorSummary{alice}, d.Operators())
	assert.Empty(t, d.Selected(), "selection of an operator no longer listed is dropped")
	assert.False(t, d.CanAssign())
}

func TestTagCaptureSession_ConsumeWhileInactive(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	s.Registration.SetTagID("KEEP")

	assert.False(t, s.Capture.Consume("LATE"))
	assert.Equal(t, "KEEP", s.Registration.Draft().KeyfobID)
}

func TestTagCaptureSession_BeginThenConsume(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)

	s.Capture.BeginCapture()
	assert.Equal(t, CaptureWaiting, s.Capture.State())

	assert.True(t, s.Capture.Consume("ABC123"))
	assert.Equal(t, "ABC123", s.Registration.Draft().KeyfobID)
	assert.Equal(t, CaptureInactive, s.Capture.State())
	assert.Equal(t, "ABC123", s.Capture.Captured())

	assert.False(t, s.Capture.Consume("XYZ999"))
	assert.Equal(t, "ABC123", s.Registration.Draft().KeyfobID)

	s.Capture.BeginCapture()
	assert.Empty(t, s.Capture.Captured())
}

func TestTagCaptureSession_Cancel(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)

	s.Capture.BeginCapture()
	s.Capture.Cancel()
	assert.False(t, s.Capture.Waiting())
	assert.False(t, s.Capture.Consume("ABC123"))
	assert.Empty(t, s.Registration.Draft().KeyfobID)
}

func TestTagCaptureSession_Timeout(t *testing.T) {
	flow := NewRegistrationFlow(&fakeTransport{}, quietLogger())
	c := NewTagCaptureSession(flow, 20*time.Millisecond, quietLogger())

	c.BeginCapture()
	assert.Eventually(t, func() bool { return !c.Waiting() }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Consume("ABC123"))
	assert.Empty(t, flow.Draft().KeyfobID)
}

func TestTagCaptureSession_StaleTimerDoesNotEndNewCapture(t *testing.T) {
	flow := NewRegistrationFlow(&fakeTransport{}, quietLogger())
	c := NewTagCaptureSession(flow, time.Hour, quietLogger())

	c.BeginCapture()
	c.mu.Lock()
	staleGen := c.gen
	c.mu.Unlock()

	c.BeginCapture()
	c.expire(staleGen)
	assert.True(t, c.Waiting())
	c.Cancel()
}

func TestRegistrationFlow_Submit(t *testing.T) {
	fill := func(d *Draft) {
		d.Username = "carol"
		d.Password = "s3cret"
		d.ConfirmPassword = "s3cret"
		d.DisplayName = "Carol"
		d.EmailAddress = "carol@example.com"
		d.TwitterHandle = "@carol"
		d.KeyfobID = "ABC123"
		d.PrintInPrivate = true
	}

	t.Run("mismatched confirmation never reaches the transport", func(t *testing.T) {
		ft := &fakeTransport{}
		f := NewRegistrationFlow(ft, quietLogger())
		f.Update(fill)
		f.Update(func(d *Draft) { d.ConfirmPassword = "other" })

		err := f.Submit(context.Background())
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "confirmPassword", ve.Field)
		assert.Empty(t, ft.registered)
	})

	t.Run("success clears the draft and closes the dialog", func(t *testing.T) {
		ft := &fakeTransport{}
		f := NewRegistrationFlow(ft, quietLogger())
		f.Open()
		f.Update(fill)

		require.NoError(t, f.Submit(context.Background()))
		require.Len(t, ft.registered, 1)
		assert.Equal(t, Registration{
			Username:       "carol",
			Password:       "s3cret",
			KeyfobID:       "ABC123",
			DisplayName:    "Carol",
			EmailAddress:   "carol@example.com",
			TwitterHandle:  "@carol",
			PrintInPrivate: true,
		}, ft.registered[0])
		assert.Equal(t, Draft{}, f.Draft())
		assert.False(t, f.IsOpen())
	})

	t.Run("tag captured during the request survives success", func(t *testing.T) {
		ft := &fakeTransport{}
		s := newTestSession(t, ft)
		s.Registration.Open()
		s.Registration.Update(func(d *Draft) {
			d.Username, d.Password, d.ConfirmPassword = "dave", "pw", "pw"
		})
		ft.onRegister = func() {
			s.Capture.BeginCapture()
			require.True(t, s.Capture.Consume("ABC123"))
		}

		require.NoError(t, s.Registration.Submit(context.Background()))
		require.Len(t, ft.registered, 1)
		assert.Empty(t, ft.registered[0].KeyfobID)
		assert.Equal(t, "ABC123", s.Registration.Draft().KeyfobID)
		assert.True(t, s.Registration.IsOpen())
	})

	t.Run("transport failure keeps the draft", func(t *testing.T) {
		ft := &fakeTransport{registerErr: errors.New("boom")}
		f := NewRegistrationFlow(ft, quietLogger())
		f.Open()
		f.Update(fill)

		err := f.Submit(context.Background())
		assert.ErrorIs(t, err, ErrRegistrationFailed)
		var te *TransportError
		assert.ErrorAs(t, err, &te)
		assert.Equal(t, "carol", f.Draft().Username)
		assert.True(t, f.IsOpen())
	})
}

func TestEventRouter_DropsForeignEvents(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	ctx := context.Background()
	s.Capture.BeginCapture()
	before := s.View()

	for _, ev := range []PushEvent{
		{Kind: OccupancyChanged},
		{Kind: TagSeen, TagID: "T1"},
		{Kind: UnknownTagSeen, TagID: "T2"},
	} {
		require.NoError(t, s.Router.Handle(ctx, "someotherplugin", ev))
	}

	assert.Equal(t, before, s.View())
	assert.Zero(t, ft.holderCalls)
}

func TestEventRouter_UnknownTagWhileInactive(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	s.Registration.SetTagID("KEEP")

	require.NoError(t, s.Router.Handle(context.Background(), "whosprinting", PushEvent{Kind: UnknownTagSeen, TagID: "T9"}))
	assert.True(t, s.View().UnknownTagSeen)
	assert.Equal(t, "KEEP", s.Registration.Draft().KeyfobID)
}

func TestEventRouter_UnknownTagWhileCapturing(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	s.Capture.BeginCapture()

	require.NoError(t, s.Router.Handle(context.Background(), "whosprinting", PushEvent{Kind: UnknownTagSeen, TagID: "T9"}))
	assert.False(t, s.View().UnknownTagSeen)
	assert.Equal(t, "T9", s.Registration.Draft().KeyfobID)
	assert.False(t, s.Capture.Waiting())
}

func TestEventRouter_KnownTagGoesToCapture(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	ctx := context.Background()

	require.NoError(t, s.Router.Handle(ctx, "whosprinting", PushEvent{Kind: TagSeen, TagID: "K1"}))
	assert.Empty(t, s.Registration.Draft().KeyfobID)

	s.Capture.BeginCapture()
	require.NoError(t, s.Router.Handle(ctx, "whosprinting", PushEvent{Kind: TagSeen, TagID: "K1"}))
	assert.Equal(t, "K1", s.Registration.Draft().KeyfobID)
	assert.False(t, s.View().UnknownTagSeen)
}

func TestEventRouter_OccupancyChangedClearsFlagAndRefreshes(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	ctx := context.Background()

	require.NoError(t, s.Router.Handle(ctx, "whosprinting", PushEvent{Kind: UnknownTagSeen, TagID: "T9"}))
	require.True(t, s.Router.UnknownTagSeen())

	ft.setHolders(&alice)
	require.NoError(t, s.Router.Handle(ctx, "whosprinting", PushEvent{Kind: OccupancyChanged}))
	assert.False(t, s.Router.UnknownTagSeen())
	assert.Equal(t, &alice, s.Tracker.Holder())
	assert.Equal(t, 1, ft.holderCalls)
}

func TestSession_RunProcessesQueueInOrder(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	ft.setHolders(&alice, nil, &bob)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Deliver(ctx, Message{Source: "whosprinting", Event: PushEvent{Kind: OccupancyChanged}}))
	}

	assert.Eventually(t, func() bool {
		h := s.Tracker.Holder()
		return h != nil && h.Username == "bob"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []OperatorSummary{alice}, s.Tracker.History())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSession_StartRequiresSelection(t *testing.T) {
	ft := &fakeTransport{operators: []OperatorSummary{alice}}
	s := newTestSession(t, ft)
	ctx := context.Background()

	var ve *ValidationError
	require.ErrorAs(t, s.Start(ctx), &ve)
	assert.Empty(t, ft.started)

	require.NoError(t, s.Attach(ctx))
	require.NoError(t, s.Directory.Select("alice"))
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, []string{"alice"}, ft.started)
	assert.Equal(t, "Starting...", s.View().StatusMessage)
}

func TestSession_ViewAndOnChange(t *testing.T) {
	ft := &fakeTransport{operators: []OperatorSummary{alice, bob}}
	var mu sync.Mutex
	var views []View
	s := New(ft, Options{
		PluginID: "whosprinting",
		Logger:   quietLogger(),
		OnChange: func(v View) {
			mu.Lock()
			views = append(views, v)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	ft.setHolders(&alice)
	require.NoError(t, s.Attach(ctx))

	v := s.View()
	assert.Equal(t, "Alice is printing", v.StatusMessage)
	assert.True(t, v.IsPrinting)
	assert.False(t, v.IsNotPrinting)
	assert.Len(t, v.Operators, 2)
	assert.Equal(t, "Read tag", v.CaptureLabel)

	mu.Lock()
	assert.NotEmpty(t, views)
	last := views[len(views)-1]
	mu.Unlock()
	assert.Equal(t, v, last)

	ft.setHolders(&OperatorSummary{Username: "bob", PrintInPrivate: true})
	require.NoError(t, s.Tracker.Refresh(ctx))
	assert.Equal(t, "Printing in private", s.View().StatusMessage)
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    Message
		wantErr error
	}{
		{
			name:  "occupancy changed",
			input: `{"plugin":"whosprinting","data":{"eventEvent":"WhosPrinting","eventPayload":{"username":"alice","printInPrivate":false}}}`,
			want:  Message{Source: "whosprinting", Event: PushEvent{Kind: OccupancyChanged}},
		},
		{
			name:  "known tag",
			input: `{"plugin":"whosprinting","data":{"eventEvent":"RfidTagSeen","eventPayload":{"tagId":"ABC123"}}}`,
			want:  Message{Source: "whosprinting", Event: PushEvent{Kind: TagSeen, TagID: "ABC123"}},
		},
		{
			name:  "unknown tag from another plugin",
			input: `{"plugin":"other","data":{"eventEvent":"UnknownRfidTagSeen","eventPayload":{"tagId":"T9"}}}`,
			want:  Message{Source: "other", Event: PushEvent{Kind: UnknownTagSeen, TagID: "T9"}},
		},
		{
			name:    "host event",
			input:   `{"plugin":"whosprinting","data":{"eventEvent":"PrintStarted","eventPayload":{}}}`,
			wantErr: ErrUnhandledEvent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.input))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Decode([]byte(`{"plugin":"whosprinting","data":{"eventEvent":"RfidTagSeen","eventPayload":{}}}`))
	assert.Error(t, err, "tag events need a tag id")

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestOccupancyTracker_PrivateHolderStaysAnonymousInHistory(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft)
	ctx := context.Background()
	dave := OperatorSummary{Username: "dave", DisplayName: "Dave Secret", PrintInPrivate: true}

	ft.setHolders(&dave, nil)
	require.NoError(t, s.Tracker.Refresh(ctx))
	assert.Equal(t, "Printing in private", s.View().StatusMessage)

	require.NoError(t, s.Tracker.Refresh(ctx))
	history := s.View().History
	require.Len(t, history, 1)
	assert.Equal(t, PrivateLabel, history[0].PublicLabel())
	assert.Equal(t, "Alice", alice.PublicLabel())
}
