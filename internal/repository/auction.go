package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/auction/internal/models"
)

// AuctionRepository defines the primary store operations on auctions
type AuctionRepository interface {
	WithTx(tx *gorm.DB) AuctionRepository
	Create(ctx context.Context, auction *models.Auction) error
	UpdateColumns(ctx context.Context, id string, columns map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Auction, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Auction, error)
	List(ctx context.Context, updatedSince *time.Time) ([]models.Auction, error)
}

type auctionRepository struct {
	db *gorm.DB
}

// NewAuctionRepository creates a new auction repository
func NewAuctionRepository(db *gorm.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *auctionRepository) WithTx(tx *gorm.DB) AuctionRepository {
	return &auctionRepository{db: tx}
}

// Create inserts a new auction
func (r *auctionRepository) Create(ctx context.Context, auction *models.Auction) error {
	if err := r.db.WithContext(ctx).Create(auction).Error; err != nil {
		return errors.Wrap(err, "failed to create auction")
	}
	return nil
}

// UpdateColumns writes only the given columns of an existing auction
func (r *auctionRepository) UpdateColumns(ctx context.Context, id string, columns map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Auction{}).Where("id = ?", id).Updates(columns)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update auction %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an auction, returning ErrNotFound when nothing was deleted
func (r *auctionRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Auction{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to delete auction %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID gets an auction by ID
func (r *auctionRepository) GetByID(ctx context.Context, id string) (*models.Auction, error) {
	return r.get(r.db.WithContext(ctx), id)
}

// GetByIDForUpdate reads an auction and locks its row until the surrounding
// transaction ends
func (r *auctionRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Auction, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *auctionRepository) get(db *gorm.DB, id string) (*models.Auction, error) {
	var auction models.Auction
	err := db.Where("id = ?", id).First(&auction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to get auction %s", id)
	}
	return &auction, nil
}

// List returns every auction ordered by make, optionally only those updated
// after updatedSince
func (r *auctionRepository) List(ctx context.Context, updatedSince *time.Time) ([]models.Auction, error) {
	query := r.db.WithContext(ctx).Model(&models.Auction{}).Order("make ASC").Order("id ASC")
	if updatedSince != nil {
		query = query.Where("updated_at > ?", updatedSince.UTC())
	}

	var auctions []models.Auction
	if err := query.Find(&auctions).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list auctions")
	}
	return auctions, nil
}
