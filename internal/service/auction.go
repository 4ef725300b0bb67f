package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"example.com/backstage/services/auction/internal/models"
	"example.com/backstage/services/auction/internal/publisher"
	"example.com/backstage/services/auction/internal/repository"
)

// ErrNotFound is returned for an unknown auction id
var ErrNotFound = repository.ErrNotFound

// EventPublisher queues auction events inside a mutation's transaction
type EventPublisher interface {
	Created(ctx context.Context, tx *gorm.DB, auction models.Auction) error
	Updated(ctx context.Context, tx *gorm.DB, before, after models.Auction) (bool, error)
	Deleted(ctx context.Context, tx *gorm.DB, id string) error
}

// CreateAuctionInput is the payload for a new auction
type CreateAuctionInput struct {
	Seller  string `json:"seller" binding:"required"`
	Make    string `json:"make" binding:"required"`
	Model   string `json:"model" binding:"required"`
	Color   string `json:"color" binding:"required"`
	Mileage int    `json:"mileage" binding:"gte=0"`
	Year    int    `json:"year" binding:"required"`
}

// UpdateAuctionInput changes only the fields present in the request
type UpdateAuctionInput struct {
	Make    *string `json:"make"`
	Model   *string `json:"model"`
	Color   *string `json:"color"`
	Mileage *int    `json:"mileage" binding:"omitempty,gte=0"`
	Year    *int    `json:"year"`
}

// AuctionService is the primary store write path. Every mutation and its
// event commit in one transaction.
type AuctionService struct {
	db        *gorm.DB
	repo      repository.AuctionRepository
	publisher EventPublisher
	logger    zerolog.Logger
}

// NewAuctionService creates a new auction service
func NewAuctionService(db *gorm.DB, repo repository.AuctionRepository, publisher EventPublisher, logger zerolog.Logger) *AuctionService {
	return &AuctionService{
		db:        db,
		repo:      repo,
		publisher: publisher,
		logger:    logger.With().Str("component", "auction_service").Logger(),
	}
}

func (s *AuctionService) Create(ctx context.Context, input CreateAuctionInput) (*models.Auction, error) {
	now := time.Now().UTC()
	auction := &models.Auction{
		ID:        uuid.NewString(),
		Seller:    input.Seller,
		Make:      input.Make,
		Model:     input.Model,
		Color:     input.Color,
		Mileage:   input.Mileage,
		Year:      input.Year,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, auction); err != nil {
			return err
		}
		return s.publisher.Created(ctx, tx, *auction)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("auction_id", auction.ID).Msg("Created auction")
	return auction, nil
}

// Update applies input and returns the resulting auction. An input that
// changes nothing writes nothing and queues no event.
func (s *AuctionService) Update(ctx context.Context, id string, input UpdateAuctionInput) (*models.Auction, error) {
	var result *models.Auction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		before := *current
		after := before
		input.applyTo(&after)

		columns := changedColumns(before, after)
		if len(columns) == 0 {
			result = current
			return nil
		}

		after.UpdatedAt = time.Now().UTC()
		columns["updated_at"] = after.UpdatedAt
		if err := repo.UpdateColumns(ctx, id, columns); err != nil {
			return err
		}
		if _, err := s.publisher.Updated(ctx, tx, before, after); err != nil {
			return err
		}

		result = &after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("auction_id", id).Msg("Updated auction")
	return result, nil
}

func (s *AuctionService) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return s.publisher.Deleted(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("auction_id", id).Msg("Deleted auction")
	return nil
}

func (s *AuctionService) Get(ctx context.Context, id string) (*models.Auction, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns every auction, or only those updated after since
func (s *AuctionService) List(ctx context.Context, since *time.Time) ([]models.Auction, error) {
	auctions, err := s.repo.List(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list auctions")
	}
	return auctions, nil
}

// changedColumns maps the fields that differ between before and after to
// their column names
func changedColumns(before, after models.Auction) map[string]interface{} {
	diff := publisher.BuildUpdated(before, after)
	columns := make(map[string]interface{})
	if diff.Make != nil {
		columns["make"] = *diff.Make
	}
	if diff.Model != nil {
		columns["model"] = *diff.Model
	}
	if diff.Color != nil {
		columns["color"] = *diff.Color
	}
	if diff.Mileage != nil {
		columns["mileage"] = *diff.Mileage
	}
	if diff.Year != nil {
		columns["year"] = *diff.Year
	}
	return columns
}

func (in UpdateAuctionInput) applyTo(auction *models.Auction) {
	if in.Make != nil {
		auction.Make = *in.Make
	}
	if in.Model != nil {
		auction.Model = *in.Model
	}
	if in.Color != nil {
		auction.Color = *in.Color
	}
	if in.Mileage != nil {
		auction.Mileage = *in.Mileage
	}
	if in.Year != nil {
		auction.Year = *in.Year
	}
}
