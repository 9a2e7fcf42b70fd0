package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps sessions in the sessions table of the system of record.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLStore returns a Store backed by db. The sessions table must exist.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: db is required")
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Get loads the session for userID.
func (s *SQLStore) Get(ctx context.Context, userID string) (*Session, error) {
	var rec models.SessionRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", userID, err)
	}
	st, err := Decode(Step(rec.Step), rec.Payload)
	if err != nil {
		return nil, err
	}
	return &Session{
		UserID:      rec.UserID,
		ChatID:      rec.ChatID,
		RequestCode: rec.RequestCode,
		State:       st,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// Set upserts the session keyed by its UserID.
func (s *SQLStore) Set(ctx context.Context, sess *Session) error {
	if sess == nil || sess.UserID == "" {
		return fmt.Errorf("session: user id is required")
	}
	step, payload, err := Encode(sess.State)
	if err != nil {
		return err
	}
	sess.UpdatedAt = s.now()
	rec := models.SessionRecord{
		UserID:      sess.UserID,
		Step:        string(step),
		ChatID:      sess.ChatID,
		RequestCode: sess.RequestCode,
		Payload:     payload,
		UpdatedAt:   sess.UpdatedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"step", "chat_id", "request_code", "payload", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("session: set %s: %w", sess.UserID, err)
	}
	return nil
}

// Delete removes the session for userID. Deleting a missing session is not
// an error.
func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.SessionRecord{}).Error
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", userID, err)
	}
	return nil
}
