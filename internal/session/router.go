package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Wire names of the push events the router understands.
const (
	WireOccupancyChanged = "WhosPrinting"
	WireTagSeen          = "RfidTagSeen"
	WireUnknownTagSeen   = "UnknownRfidTagSeen"
)

// ErrUnhandledEvent is returned by Decode for well-formed messages of a kind
// the router has no use for, such as host job events.
var ErrUnhandledEvent = errors.New("unhandled event")

// EventKind classifies a push event.
type EventKind int

const (
	OccupancyChanged EventKind = iota
	TagSeen
	UnknownTagSeen
)

func (k EventKind) String() string {
	switch k {
	case OccupancyChanged:
		return WireOccupancyChanged
	case TagSeen:
		return WireTagSeen
	case UnknownTagSeen:
		return WireUnknownTagSeen
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// PushEvent is one notification from the push channel. TagID is set for the tag kinds.
type PushEvent struct {
	Kind  EventKind
	TagID string
}

// Message is a push event together with the identity of the plugin that sent it.
type Message struct {
	Source string
	Event  PushEvent
}

type wireMessage struct {
	Plugin string `json:"plugin"`
	Data   struct {
		EventEvent   string          `json:"eventEvent"`
		EventPayload json.RawMessage `json:"eventPayload"`
	} `json:"data"`
}

// Decode parses a plugin message as sent on the push channel.
func Decode(data []byte) (Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return Message{}, fmt.Errorf("decode push message: %w", err)
	}

	msg := Message{Source: wm.Plugin}
	switch wm.Data.EventEvent {
	case WireOccupancyChanged:
		msg.Event.Kind = OccupancyChanged
		return msg, nil
	case WireTagSeen, WireUnknownTagSeen:
		var payload struct {
			TagID string `json:"tagId"`
		}
		if len(wm.Data.EventPayload) > 0 {
			if err := json.Unmarshal(wm.Data.EventPayload, &payload); err != nil {
				return Message{}, fmt.Errorf("decode %s payload: %w", wm.Data.EventEvent, err)
			}
		}
		if payload.TagID == "" {
			return Message{}, fmt.Errorf("%s without tagId", wm.Data.EventEvent)
		}
		msg.Event.Kind = TagSeen
		if wm.Data.EventEvent == WireUnknownTagSeen {
			msg.Event.Kind = UnknownTagSeen
		}
		msg.Event.TagID = payload.TagID
		return msg, nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnhandledEvent, wm.Data.EventEvent)
	}
}

type refresher interface {
	Refresh(ctx context.Context) error
}

type tagConsumer interface {
	Waiting() bool
	Consume(tagID string) bool
}

// EventRouter dispatches push events for one plugin identity.
type EventRouter struct {
	identity string
	tracker  refresher
	capture  tagConsumer
	logger   *log.Logger
	notify   func()

	handling sync.Mutex

	mu         sync.Mutex
	unknownTag bool
}

func NewEventRouter(identity string, tracker refresher, capture tagConsumer, logger *log.Logger) *EventRouter {
	if logger == nil {
		logger = log.Default()
	}
	return &EventRouter{
		identity: identity,
		tracker:  tracker,
		capture:  capture,
		logger:   logger,
		notify:   func() {},
	}
}

// Handle processes one event. Events from another source are dropped without
// side effects. The returned error is the refresh failure of an
// OccupancyChanged event, if any.
func (r *EventRouter) Handle(ctx context.Context, source string, ev PushEvent) error {
	if source != r.identity {
		return nil
	}

	r.handling.Lock()
	defer r.handling.Unlock()

	switch ev.Kind {
	case OccupancyChanged:
		r.setUnknownTag(false)
		return r.tracker.Refresh(ctx)
	case UnknownTagSeen:
		if r.capture.Waiting() && r.capture.Consume(ev.TagID) {
			return nil
		}
		r.logger.Printf("unknown tag %s seen", ev.TagID)
		r.setUnknownTag(true)
	case TagSeen:
		r.capture.Consume(ev.TagID)
	default:
		r.logger.Printf("dropping event of unknown kind %v", ev.Kind)
	}
	return nil
}

// Run handles messages from queue one at a time until ctx is done or queue is closed.
func (r *EventRouter) Run(ctx context.Context, queue <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-queue:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, msg.Source, msg.Event); err != nil {
				r.logger.Printf("handling %s: %v", msg.Event.Kind, err)
			}
		}
	}
}

// UnknownTagSeen reports whether an unregistered tag was scanned since the
// last occupancy change.
func (r *EventRouter) UnknownTagSeen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unknownTag
}

func (r *EventRouter) setUnknownTag(v bool) {
	r.mu.Lock()
	changed := r.unknownTag != v
	r.unknownTag = v
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}
