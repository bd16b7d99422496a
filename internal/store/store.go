package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whosprinting-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	ListOperators(ctx context.Context) ([]model.Operator, error)
	FindOperator(ctx context.Context, username string) (*model.Operator, error)
	FindOperatorByTag(ctx context.Context, tagID string) (*model.Operator, error)
	CreateOperator(ctx context.Context, op *model.Operator) error
	UpdateOperator(ctx context.Context, username string, profile OperatorProfile) error

	CurrentHolder(ctx context.Context, machineID string) (*model.Operator, error)
	StartOccupancy(ctx context.Context, machineID string, operatorID int64, now time.Time) (replaced *model.OccupancyHistory, changed bool, err error)
	EndOccupancy(ctx context.Context, machineID string, outcome model.Outcome, now time.Time) (*model.OccupancyHistory, error)
	History(ctx context.Context, machineID string, limit int) ([]model.OccupancyHistory, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// ListOperators returns all operators ordered by username.
func (s *gormStore) ListOperators(ctx context.Context) ([]model.Operator, error) {
	var operators []model.Operator
	if err := s.db.WithContext(ctx).Order("username").Find(&operators).Error; err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}
	return operators, nil
}

func (s *gormStore) FindOperator(ctx context.Context, username string) (*model.Operator, error) {
	return findOperator(s.db.WithContext(ctx), "username = ?", username)
}

func (s *gormStore) FindOperatorByTag(ctx context.Context, tagID string) (*model.Operator, error) {
	return findOperator(s.db.WithContext(ctx), "keyfob_id = ?", tagID)
}

func findOperator(tx *gorm.DB, query string, arg any) (*model.Operator, error) {
	var op model.Operator
	err := tx.Where(query, arg).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find operator: %w", err)
	}
	return &op, nil
}

// CreateOperator inserts op. Username and tag id must both be unused.
func (s *gormStore) CreateOperator(ctx context.Context, op *model.Operator) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findOperator(tx, "username = ?", op.Username); err == nil {
			return fmt.Errorf("username %q: %w", op.Username, ErrDuplicate)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := checkTagFree(tx, op.KeyfobID, ""); err != nil {
			return err
		}
		if err := tx.Create(op).Error; err != nil {
			return fmt.Errorf("failed to create operator %s: %w", op.Username, err)
		}
		return nil
	})
}

// UpdateOperator replaces the profile fields of username.
func (s *gormStore) UpdateOperator(ctx context.Context, username string, p OperatorProfile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkTagFree(tx, p.KeyfobID, username); err != nil {
			return err
		}
		res := tx.Model(&model.Operator{}).Where("username = ?", username).Updates(map[string]any{
			"display_name":     p.DisplayName,
			"email_address":    p.EmailAddress,
			"phone_number":     p.PhoneNumber,
			"twitter_handle":   p.TwitterHandle,
			"mastodon_handle":  p.MastodonHandle,
			"keyfob_id":        p.KeyfobID,
			"print_in_private": p.PrintInPrivate,
		})
		if res.Error != nil {
			return fmt.Errorf("failed to update operator %s: %w", username, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// checkTagFree fails with ErrDuplicate when tagID belongs to an operator other than owner.
func checkTagFree(tx *gorm.DB, tagID *string, owner string) error {
	if tagID == nil || *tagID == "" {
		return nil
	}
	existing, err := findOperator(tx, "keyfob_id = ?", *tagID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Username == owner {
		return nil
	}
	return fmt.Errorf("tag %s: %w", *tagID, ErrDuplicate)
}

// CurrentHolder returns the operator holding machineID, or nil when it is free.
func (s *gormStore) CurrentHolder(ctx context.Context, machineID string) (*model.Operator, error) {
	var open model.OccupancyOpen
	err := s.db.WithContext(ctx).Preload("Operator").Where("machine_id = ?", machineID).First(&open).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch occupancy for %s: %w", machineID, err)
	}
	return &open.Operator, nil
}

// StartOccupancy makes operatorID the holder of machineID. Starting again for
// the current holder changes nothing and reports changed=false. A different
// holder is archived first with OutcomeReplaced and the archived record is
// returned.
func (s *gormStore) StartOccupancy(ctx context.Context, machineID string, operatorID int64, now time.Time) (*model.OccupancyHistory, bool, error) {
	var replaced *model.OccupancyHistory
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, found, err := fetchOpen(tx, machineID)
		if err != nil {
			return err
		}
		if found {
			if current.OperatorID == operatorID {
				return nil
			}
			replaced, err = archiveRecord(tx, current, model.OutcomeReplaced, now)
			if err != nil {
				return err
			}
		}

		open := model.OccupancyOpen{MachineID: machineID, OperatorID: operatorID, StartedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "machine_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"operator_id", "started_at"}),
		}).Create(&open).Error; err != nil {
			return fmt.Errorf("failed to open occupancy for %s: %w", machineID, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return replaced, changed, nil
}

// EndOccupancy archives the current holder of machineID. It returns nil when
// the machine was already free.
func (s *gormStore) EndOccupancy(ctx context.Context, machineID string, outcome model.Outcome, now time.Time) (*model.OccupancyHistory, error) {
	var archived *model.OccupancyHistory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, found, err := fetchOpen(tx, machineID)
		if err != nil || !found {
			return err
		}
		archived, err = archiveRecord(tx, current, outcome, now)
		if err != nil {
			return err
		}
		if err := tx.Delete(&model.OccupancyOpen{}, "machine_id = ?", machineID).Error; err != nil {
			return fmt.Errorf("failed to delete open occupancy for %s: %w", machineID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

func fetchOpen(tx *gorm.DB, machineID string) (model.OccupancyOpen, bool, error) {
	var open model.OccupancyOpen
	err := tx.Where("machine_id = ?", machineID).First(&open).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return open, false, nil
	}
	if err != nil {
		return open, false, fmt.Errorf("failed to fetch open occupancy for %s: %w", machineID, err)
	}
	return open, true, nil
}

// archiveRecord writes the history row for an occupancy that just ended.
func archiveRecord(tx *gorm.DB, open model.OccupancyOpen, outcome model.Outcome, now time.Time) (*model.OccupancyHistory, error) {
	record := model.OccupancyHistory{
		MachineID:   open.MachineID,
		OperatorID:  open.OperatorID,
		Outcome:     outcome,
		PeriodStart: open.StartedAt,
		PeriodEnd:   now,
	}
	if err := tx.Omit("Operator").Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to archive occupancy for %s: %w", open.MachineID, err)
	}
	log.Printf("Archived occupancy of %s by operator %d (%s)", open.MachineID, open.OperatorID, outcome)
	return &record, nil
}

// History returns the most recent finished occupancies of machineID, newest first.
func (s *gormStore) History(ctx context.Context, machineID string, limit int) ([]model.OccupancyHistory, error) {
	var records []model.OccupancyHistory
	q := s.db.WithContext(ctx).Preload("Operator").Where("machine_id = ?", machineID).Order("period_end DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", machineID, err)
	}
	return records, nil
}

// SaveSubscription creates or replaces a push subscription.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}
