package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/auction/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would get its own in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Auction{}, &models.OutboxEvent{}))
	return db
}

func TestAuctionRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewAuctionRepository(newTestDB(t))

	auction := &models.Auction{ID: "A1", Seller: "bob", Make: "Ford", Model: "Focus", Color: "Blue", Mileage: 100, Year: 2018}
	require.NoError(t, repo.Create(ctx, auction))

	got, err := repo.GetByID(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, "Focus", got.Model)
	require.False(t, got.CreatedAt.IsZero())

	require.NoError(t, repo.UpdateColumns(ctx, "A1", map[string]interface{}{"mileage": 2500}))

	got, err = repo.GetByIDForUpdate(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, 2500, got.Mileage)
	require.Equal(t, "Focus", got.Model)
	require.ErrorIs(t, repo.UpdateColumns(ctx, "missing", map[string]interface{}{"mileage": 1}), ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "A1"))

	_, err = repo.GetByID(ctx, "A1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "A1"), ErrNotFound)
}

func TestAuctionRepositoryList(t *testing.T) {
	ctx := context.Background()
	repo := NewAuctionRepository(newTestDB(t))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, a := range []models.Auction{
		{ID: "1", Seller: "s", Make: "Toyota", Model: "Corolla", Color: "White", Year: 2010},
		{ID: "2", Seller: "s", Make: "Audi", Model: "A4", Color: "Black", Year: 2015},
		{ID: "3", Seller: "s", Make: "Ford", Model: "GT", Color: "Red", Year: 2020},
	} {
		a := a
		a.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		a.UpdatedAt = a.CreatedAt
		require.NoError(t, repo.Create(ctx, &a))
	}

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"Audi", "Ford", "Toyota"}, []string{all[0].Make, all[1].Make, all[2].Make})

	since := base.Add(30 * time.Minute)
	recent, err := repo.List(ctx, &since)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestAuctionRepositoryWithTxRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewAuctionRepository(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.WithTx(tx).Create(ctx, &models.Auction{ID: "A1", Seller: "s", Make: "Ford", Model: "Focus", Color: "Red"}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	_, err = repo.GetByID(ctx, "A1")
	require.ErrorIs(t, err, ErrNotFound)
}
