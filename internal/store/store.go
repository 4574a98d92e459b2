package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zenflow-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	SessionLogStore
	SubscriptionStore
}

// SessionLogStore persists the partial absence log and the permanent sessions.
// Every method commits before it returns.
type SessionLogStore interface {
	AppendPartialLog(ctx context.Context, entry *model.PartialLog) error
	ListPartialLogs(ctx context.Context) ([]model.PartialLog, error)
	LogOnPermanent(ctx context.Context, now time.Time) (*model.PermanentSession, error)
	LogOffPermanent(ctx context.Context, now time.Time) (*model.PermanentSession, error)
	GetActivePermanentSession(ctx context.Context) (*model.PermanentSession, error)
	ListPermanentSessions(ctx context.Context, limit int) ([]model.PermanentSession, error)
}

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// AppendPartialLog inserts one completed absence.
func (s *gormStore) AppendPartialLog(ctx context.Context, entry *model.PartialLog) error {
	return wrap("append partial log", s.db.WithContext(ctx).Create(entry).Error)
}

// ListPartialLogs returns every partial log, most recent first.
func (s *gormStore) ListPartialLogs(ctx context.Context) ([]model.PartialLog, error) {
	logs := make([]model.PartialLog, 0)
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&logs).Error; err != nil {
		return nil, wrap("list partial logs", err)
	}
	return logs, nil
}

// LogOnPermanent closes whatever session is active and opens a new one.
// The session date is now's calendar date in now's own location; callers
// pass now already converted to the tracker's configured location so both
// ledgers date entries the same way.
func (s *gormStore) LogOnPermanent(ctx context.Context, now time.Time) (*model.PermanentSession, error) {
	session := model.PermanentSession{
		Date:      now.Format(model.DateLayout),
		LogOnTime: now,
		IsActive:  true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := closeActive(tx, now); err != nil {
			return err
		}
		return tx.Create(&session).Error
	})
	if err != nil {
		return nil, wrap("log on permanent", err)
	}
	return &session, nil
}

// LogOffPermanent closes the active session. It returns nil without error
// when no session is active.
func (s *gormStore) LogOffPermanent(ctx context.Context, now time.Time) (*model.PermanentSession, error) {
	var closed *model.PermanentSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := findActive(tx)
		if err != nil || active == nil {
			return err
		}
		if err := closeActive(tx, now); err != nil {
			return err
		}
		active.IsActive = false
		active.LogOffTime = &now
		closed = active
		return nil
	})
	if err != nil {
		return nil, wrap("log off permanent", err)
	}
	return closed, nil
}

// GetActivePermanentSession returns the most recent active session, or nil.
func (s *gormStore) GetActivePermanentSession(ctx context.Context) (*model.PermanentSession, error) {
	active, err := findActive(s.db.WithContext(ctx))
	if err != nil {
		return nil, wrap("get active permanent session", err)
	}
	return active, nil
}

// ListPermanentSessions returns up to limit sessions, newest first.
// A non-positive limit returns all of them.
func (s *gormStore) ListPermanentSessions(ctx context.Context, limit int) ([]model.PermanentSession, error) {
	sessions := make([]model.PermanentSession, 0)
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, wrap("list permanent sessions", err)
	}
	return sessions, nil
}

func findActive(tx *gorm.DB) (*model.PermanentSession, error) {
	var sessions []model.PermanentSession
	if err := tx.Where("is_active = ?", true).Order("id DESC").Limit(1).Find(&sessions).Error; err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func closeActive(tx *gorm.DB, now time.Time) error {
	return tx.Model(&model.PermanentSession{}).
		Where("is_active = ?", true).
		Updates(map[string]any{"is_active": false, "log_off_time": now}).Error
}

// SaveSubscription creates the subscription or refreshes its keys.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
	return wrap("save subscription", err)
}

// GetSubscription looks up a subscription by endpoint.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, wrap("get subscription", err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription. Deleting a missing one is not an error.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	return wrap("delete subscription", err)
}

// ListSubscriptions returns every registered push subscription.
func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, wrap("list subscriptions", err)
	}
	return subs, nil
}
