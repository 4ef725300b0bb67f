package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/messaging"
	"example.com/backstage/services/auction/internal/models"
)

// maxErrorLength bounds last_error so a verbose transport error cannot bloat the row
const maxErrorLength = 1024

// Store persists outbox rows
type Store struct {
	db *gorm.DB
}

// NewStore creates a new outbox store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Enqueue writes env through tx so it commits or rolls back with the change it describes
func (s *Store) Enqueue(ctx context.Context, tx *gorm.DB, aggregateID string, env contracts.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	row := &models.OutboxEvent{
		EventID:     env.EventID,
		AggregateID: aggregateID,
		EventType:   env.EventType,
		Payload:     payload,
		CreatedAt:   env.OccurredAt,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrapf(err, "failed to enqueue %s for auction %s", env.EventType, aggregateID)
	}
	return nil
}

// FetchPending returns up to limit rows that are the oldest unpublished row of
// their auction, skipping the auctions in exclude. Rows that have failed
// fewer times come first so repeatedly failing auctions cannot fill a batch.
func (s *Store) FetchPending(ctx context.Context, limit int, exclude []string) ([]models.OutboxEvent, error) {
	heads := s.db.Model(&models.OutboxEvent{}).
		Select("MIN(id)").
		Where("published_at IS NULL").
		Group("aggregate_id")

	query := s.db.WithContext(ctx).Where("id IN (?)", heads)
	if len(exclude) > 0 {
		query = query.Where("aggregate_id NOT IN ?", exclude)
	}

	var rows []models.OutboxEvent
	err := query.
		Order("attempt_count ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch pending outbox rows")
	}
	return rows, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"published_at":  now,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    nil,
		}).Error
	return errors.Wrapf(err, "failed to mark outbox row %d published", id)
}

func (s *Store) MarkFailed(ctx context.Context, id uint, cause error) error {
	msg := messaging.Truncate(cause.Error(), maxErrorLength)

	err := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    msg,
		}).Error
	return errors.Wrapf(err, "failed to mark outbox row %d failed", id)
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("published_at IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pending outbox rows")
	}
	return count, nil
}
