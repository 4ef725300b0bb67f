package outbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/database"
	"example.com/backstage/services/auction/internal/messaging"
	"example.com/backstage/services/auction/internal/metrics"
	"example.com/backstage/services/auction/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []messaging.OutboundMessage
	failFor map[string]bool
}

func (f *fakeSender) Send(_ context.Context, msg messaging.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[msg.AggregateID] {
		return errors.New("amqp link detached")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func enqueue(t *testing.T, db *gorm.DB, store *Store, evt contracts.Event) contracts.Envelope {
	t.Helper()

	env, err := contracts.NewEnvelope(evt, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(context.Background(), db, evt.AuctionID(), env))
	return env
}

func TestRelayPublishesPendingInOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)
	sender := &fakeSender{}
	relay := NewRelay(store, sender, 10, time.Second, metrics.NewNop(), zerolog.Nop())

	first := enqueue(t, db, store, contracts.AuctionCreated{ID: "A1", Seller: "alice", Make: "Ford", Model: "GT", Color: "White", Mileage: 10, Year: 2020})
	second := enqueue(t, db, store, contracts.AuctionDeleted{ID: "A1"})

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, first.EventID, sender.sent[0].MessageID)
	assert.Equal(t, contracts.AuctionCreatedType, sender.sent[0].Subject)
	assert.Equal(t, second.EventID, sender.sent[1].MessageID)

	// the body is the envelope the consumer decodes
	evt, env, err := contracts.Decode(sender.sent[1].Body)
	require.NoError(t, err)
	assert.Equal(t, second.EventID, env.EventID)
	assert.Equal(t, contracts.AuctionDeleted{ID: "A1"}, evt)

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "published rows are not sent again")
}

func TestRelayFailureHoldsBackOnlyThatAuction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)
	sender := &fakeSender{failFor: map[string]bool{"A1": true}}
	relay := NewRelay(store, sender, 10, time.Second, metrics.NewNop(), zerolog.Nop())

	enqueue(t, db, store, contracts.AuctionUpdated{ID: "A1", Make: strPtr("Toyota")})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "A1"})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "B2"})

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "B2", sender.sent[0].AggregateID)

	var rows []models.OutboxEvent
	require.NoError(t, db.Where("published_at IS NULL").Order("id ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Contains(t, *rows[0].LastError, "amqp link detached")
	assert.Zero(t, rows[1].AttemptCount, "later row of the same auction is not attempted")

	sender.failFor = nil
	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sender.sent, 3)
	assert.Equal(t, contracts.AuctionUpdatedType, sender.sent[1].Subject)
	assert.Equal(t, contracts.AuctionDeletedType, sender.sent[2].Subject)
}

func TestRelayFailingAuctionDoesNotStarveOthers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)
	sender := &fakeSender{failFor: map[string]bool{"A1": true}}
	relay := NewRelay(store, sender, 2, time.Second, metrics.NewNop(), zerolog.Nop())

	enqueue(t, db, store, contracts.AuctionUpdated{ID: "A1", Make: strPtr("Toyota")})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "A1"})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "B2"})

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "B2", sender.sent[0].AggregateID)

	for i := 0; i < 5; i++ {
		_, err := relay.RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, sender.sent, 1, "B2 is sent once and A1 stays held back")

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)
}

func TestRelayFailingAuctionsFillingBatchDoNotStarveOthers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)
	sender := &fakeSender{failFor: map[string]bool{"A1": true, "C3": true}}
	relay := NewRelay(store, sender, 2, time.Second, metrics.NewNop(), zerolog.Nop())

	enqueue(t, db, store, contracts.AuctionDeleted{ID: "A1"})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "C3"})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "B2"})

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rows that already failed go behind untried ones")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "B2", sender.sent[0].AggregateID)
}

func TestFetchPendingReturnsOldestRowPerAuction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)

	first := enqueue(t, db, store, contracts.AuctionUpdated{ID: "A1", Make: strPtr("Toyota")})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "A1"})
	other := enqueue(t, db, store, contracts.AuctionDeleted{ID: "B2"})
	enqueue(t, db, store, contracts.AuctionDeleted{ID: "C3"})

	rows, err := store.FetchPending(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, first.EventID, rows[0].EventID)
	assert.Equal(t, other.EventID, rows[1].EventID)
	assert.Equal(t, "C3", rows[2].AggregateID)

	rows, err = store.FetchPending(ctx, 10, []string{"A1", "C3"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B2", rows[0].AggregateID)

	require.NoError(t, store.MarkFailed(ctx, rows[0].ID, errors.New("boom")))
	rows, err = store.FetchPending(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first.EventID, rows[0].EventID)
}

func TestMarkFailedKeepsLastErrorValidUTF8(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)

	enqueue(t, db, store, contracts.AuctionDeleted{ID: "A1"})
	rows, err := store.FetchPending(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, store.MarkFailed(ctx, rows[0].ID, errors.New("x"+strings.Repeat("é", 2000))))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, rows[0].ID).Error)
	require.NotNil(t, row.LastError)
	assert.True(t, utf8.ValidString(*row.LastError))
	assert.LessOrEqual(t, len(*row.LastError), maxErrorLength)
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStore(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&models.Auction{ID: "A1", Seller: "alice"}).Error)
		env, err := contracts.NewEnvelope(contracts.AuctionDeleted{ID: "A1"}, time.Now())
		require.NoError(t, err)
		require.NoError(t, store.Enqueue(ctx, tx, "A1", env))
		return errors.New("abort")
	})
	require.Error(t, err)

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func strPtr(v string) *string { return &v }
