package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auction/config"
	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/models"
	"example.com/backstage/services/auction/internal/readstore"
	"example.com/backstage/services/auction/internal/reconcile"
	"example.com/backstage/services/auction/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockAuctionService struct {
	mock.Mock
}

func (m *MockAuctionService) Create(ctx context.Context, input service.CreateAuctionInput) (*models.Auction, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Auction), args.Error(1)
}

func (m *MockAuctionService) Update(ctx context.Context, id string, input service.UpdateAuctionInput) (*models.Auction, error) {
	args := m.Called(ctx, id, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Auction), args.Error(1)
}

func (m *MockAuctionService) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAuctionService) Get(ctx context.Context, id string) (*models.Auction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Auction), args.Error(1)
}

func (m *MockAuctionService) List(ctx context.Context, since *time.Time) ([]models.Auction, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]models.Auction), args.Error(1)
}

func newTestServer() *Server {
	return NewServer(config.ServerConfig{Address: ":0"}, nil, zerolog.Nop())
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	rec := serve(newTestServer(), http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDKey))
}

func TestListAuctionsWithDateFilter(t *testing.T) {
	svc := new(MockAuctionService)
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.On("List", mock.Anything, mock.MatchedBy(func(got *time.Time) bool {
		return got != nil && got.Equal(since)
	})).Return([]models.Auction{
		{ID: "A1", Seller: "alice", Make: "Ford", Model: "GT", Color: "White", Mileage: 10, Year: 2020},
	}, nil)

	s := newTestServer()
	s.RegisterAuctionRoutes(svc)

	rec := serve(s, http.MethodGet, "/api/auctions?date=2024-05-01T12:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []contracts.AuctionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Ford", records[0].Make)
	svc.AssertExpectations(t)
}

func TestListAuctionsRejectsBadDate(t *testing.T) {
	s := newTestServer()
	s.RegisterAuctionRoutes(new(MockAuctionService))

	rec := serve(s, http.MethodGet, "/api/auctions?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAuction(t *testing.T) {
	svc := new(MockAuctionService)
	input := service.CreateAuctionInput{Seller: "alice", Make: "Ford", Model: "GT", Color: "White", Mileage: 0, Year: 2020}
	svc.On("Create", mock.Anything, input).Return(&models.Auction{ID: "A1", Seller: "alice", Make: "Ford", Model: "GT", Color: "White", Year: 2020}, nil)

	s := newTestServer()
	s.RegisterAuctionRoutes(svc)

	rec := serve(s, http.MethodPost, "/api/auctions", `{"seller":"alice","make":"Ford","model":"GT","color":"White","mileage":0,"year":2020}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/auctions/A1", rec.Header().Get("Location"))
	svc.AssertExpectations(t)
}

func TestCreateAuctionValidatesInput(t *testing.T) {
	s := newTestServer()
	s.RegisterAuctionRoutes(new(MockAuctionService))

	rec := serve(s, http.MethodPost, "/api/auctions", `{"seller":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAuctionPassesOnlyPresentFields(t *testing.T) {
	svc := new(MockAuctionService)
	svc.On("Update", mock.Anything, "A1", mock.MatchedBy(func(in service.UpdateAuctionInput) bool {
		return in.Mileage != nil && *in.Mileage == 0 && in.Make == nil && in.Color == nil
	})).Return(&models.Auction{ID: "A1", Make: "Ford"}, nil)

	s := newTestServer()
	s.RegisterAuctionRoutes(svc)

	rec := serve(s, http.MethodPut, "/api/auctions/A1", `{"mileage":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestDeleteUnknownAuction(t *testing.T) {
	svc := new(MockAuctionService)
	svc.On("Delete", mock.Anything, "missing").Return(service.ErrNotFound)

	s := newTestServer()
	s.RegisterAuctionRoutes(svc)

	rec := serve(s, http.MethodDelete, "/api/auctions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeStatus struct {
	state reconcile.State
}

func (f fakeStatus) State() reconcile.State { return f.state }
func (f fakeStatus) Escalated() bool         { return false }
func (f fakeStatus) Attempts() int           { return 2 }

func TestSearchItemAndStatus(t *testing.T) {
	store := readstore.NewMemoryStore()
	brand := "Toyota"
	require.NoError(t, store.Upsert(context.Background(), readstore.Item{ID: "B2", Make: &brand}))

	s := newTestServer()
	s.RegisterSearchRoutes(store, fakeStatus{state: reconcile.StateRetryWait})

	rec := serve(s, http.MethodGet, "/api/search/items/B2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var item readstore.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "Toyota", *item.Make)
	assert.Nil(t, item.Model)

	rec = serve(s, http.MethodGet, "/api/search/items/X", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retry_wait"`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer()
	s.RegisterMetrics(reg)

	rec := serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total 1")
}
