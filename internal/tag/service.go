package tag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"whosprinting-backend/config"
	"whosprinting-backend/internal/events"
	"whosprinting-backend/internal/metrics"
	"whosprinting-backend/internal/model"
	"whosprinting-backend/internal/parse"
	"whosprinting-backend/internal/store"
)

// ErrInvalidTag is returned for scans whose identifier cannot be normalized.
var ErrInvalidTag = errors.New("invalid tag id")

// Starter claims the machine for an operator.
type Starter interface {
	Start(ctx context.Context, username string) error
}

// Service turns raw scans from the sensor subsystem into push events.
type Service struct {
	cfg     config.TagConfig
	store   store.Store
	events  events.Publisher
	starter Starter
}

func NewService(cfg config.TagConfig, s store.Store, pub events.Publisher, starter Starter) *Service {
	return &Service{cfg: cfg, store: s, events: pub, starter: starter}
}

// Scan resolves raw to an operator and publishes RfidTagSeen, or
// UnknownRfidTagSeen when no operator carries the tag. The resolved operator
// is returned, nil for an unknown tag.
func (s *Service) Scan(ctx context.Context, raw string) (*model.Operator, error) {
	tagID, err := parse.TagID(raw, s.cfg.MinLength)
	if err != nil {
		metrics.TagScans.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}

	op, err := s.store.FindOperatorByTag(ctx, tagID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("Unknown tag %s seen", tagID)
		metrics.TagScans.WithLabelValues("unknown").Inc()
		s.events.Publish(ctx, events.UnknownRfidTagSeen, map[string]any{"tagId": tagID})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Printf("Tag %s belongs to %s", tagID, op.Username)
	metrics.TagScans.WithLabelValues("known").Inc()
	s.events.Publish(ctx, events.RfidTagSeen, map[string]any{"tagId": tagID, "username": op.Username})

	if s.cfg.RaiseStartOnSwipe && s.starter != nil {
		if err := s.starter.Start(ctx, op.Username); err != nil {
			return op, fmt.Errorf("start on swipe for %s: %w", op.Username, err)
		}
	}
	return op, nil
}

// FakeScan simulates a scan of a freshly made-up tag. It returns the tag id.
func (s *Service) FakeScan(ctx context.Context) (string, error) {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	if _, err := s.Scan(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}
