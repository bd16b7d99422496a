package occupancy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"whosprinting-backend/config"
	"whosprinting-backend/internal/events"
	"whosprinting-backend/internal/metrics"
	"whosprinting-backend/internal/model"
	"whosprinting-backend/internal/notification"
	"whosprinting-backend/internal/store"
)

// ErrUnknownOperator is returned by Start for a username that is not registered.
var ErrUnknownOperator = errors.New("unknown operator")

// Dispatcher queues vacancy notifications.
type Dispatcher interface {
	Dispatch(v notification.Vacancy)
}

// Service owns the authoritative holder of the machine and announces every
// change on the push channel.
type Service struct {
	machineID   string
	machineName string
	store       store.Store
	events      events.Publisher
	notifier    Dispatcher
	now         func() time.Time

	// Serializes transitions so the push order matches the store order.
	mu sync.Mutex
}

// NewService creates the occupancy service. notifier may be nil.
func NewService(cfg *config.Config, s store.Store, pub events.Publisher, notifier Dispatcher) *Service {
	return &Service{
		machineID:   cfg.Plugin.ID,
		machineName: cfg.Plugin.MachineName,
		store:       s,
		events:      pub,
		notifier:    notifier,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Current returns the holder, or nil when the machine is free.
func (s *Service) Current(ctx context.Context) (*model.Operator, error) {
	return s.store.CurrentHolder(ctx, s.machineID)
}

// History returns up to limit finished occupancies, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]model.OccupancyHistory, error) {
	return s.store.History(ctx, s.machineID, limit)
}

// Start makes username the holder. Starting again for the current holder
// publishes nothing.
func (s *Service) Start(ctx context.Context, username string) error {
	op, err := s.store.FindOperator(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownOperator, username)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced, changed, err := s.store.StartOccupancy(ctx, s.machineID, op.ID, s.now())
	if err != nil {
		return err
	}
	if !changed {
		log.Printf("%s is already printing", op.Username)
		return nil
	}
	if replaced != nil {
		metrics.OccupancyTransitions.WithLabelValues(string(model.OutcomeReplaced)).Inc()
	}
	metrics.OccupancyTransitions.WithLabelValues("started").Inc()
	log.Printf("Set who's printing to: %s", op.Username)

	s.events.Publish(ctx, events.PrintStarted, map[string]any{"name": s.machineName, "whosPrinting": op.Username})
	s.publishWhosPrinting(ctx, op)
	return nil
}

// Finish ends the current occupancy with outcome. Finishing a free machine
// still announces the (unchanged) state.
func (s *Service) Finish(ctx context.Context, outcome model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, err := s.store.CurrentHolder(ctx, s.machineID)
	if err != nil {
		return err
	}
	archived, err := s.store.EndOccupancy(ctx, s.machineID, outcome, s.now())
	if err != nil {
		return err
	}

	event := events.PrintDone
	if outcome == model.OutcomeFailed {
		event = events.PrintFailed
	}
	s.events.Publish(ctx, event, map[string]any{"name": s.machineName, "whosPrinting": ""})
	s.publishWhosPrinting(ctx, nil)

	if archived == nil {
		return nil
	}
	metrics.OccupancyTransitions.WithLabelValues(string(outcome)).Inc()

	if s.notifier != nil {
		v := notification.Vacancy{MachineName: s.machineName, Outcome: outcome}
		if holder != nil {
			v.PreviousHolder = holder.Username
		}
		s.notifier.Dispatch(v)
	}
	return nil
}

func (s *Service) publishWhosPrinting(ctx context.Context, op *model.Operator) {
	if op == nil {
		s.events.Publish(ctx, events.WhosPrinting, map[string]any{"username": "", "printInPrivate": false})
		return
	}
	s.events.Publish(ctx, events.WhosPrinting, map[string]any{"username": op.Username, "printInPrivate": op.PrintInPrivate})
}
