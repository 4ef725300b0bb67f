package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/backstage/services/auction/internal/contracts"
	"example.com/backstage/services/auction/internal/models"
	"example.com/backstage/services/auction/internal/service"
)

// AuctionService is the primary store write and read path
type AuctionService interface {
	Create(ctx context.Context, input service.CreateAuctionInput) (*models.Auction, error)
	Update(ctx context.Context, id string, input service.UpdateAuctionInput) (*models.Auction, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Auction, error)
	List(ctx context.Context, since *time.Time) ([]models.Auction, error)
}

type auctionHandler struct {
	svc AuctionService
}

// RegisterAuctionRoutes mounts the auction API under /api/auctions
func (s *Server) RegisterAuctionRoutes(svc AuctionService) {
	h := &auctionHandler{svc: svc}

	auctions := s.router.Group("/api/auctions")
	{
		auctions.GET("", h.list)
		auctions.GET("/:id", h.get)
		auctions.POST("", h.create)
		auctions.PUT("/:id", h.update)
		auctions.DELETE("/:id", h.delete)
	}
}

// list serves the listing the search bootstrap reads; ?date= keeps only
// auctions updated after it
func (h *auctionHandler) list(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be RFC3339"})
			return
		}
		since = &parsed
	}

	auctions, err := h.svc.List(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	records := make([]contracts.AuctionRecord, 0, len(auctions))
	for _, auction := range auctions {
		records = append(records, auction.Record())
	}
	c.JSON(http.StatusOK, records)
}

func (h *auctionHandler) get(c *gin.Context) {
	auction, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction.Record())
}

func (h *auctionHandler) create(c *gin.Context) {
	var input service.CreateAuctionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auction, err := h.svc.Create(c.Request.Context(), input)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.Header("Location", "/api/auctions/"+auction.ID)
	c.JSON(http.StatusCreated, auction.Record())
}

func (h *auctionHandler) update(c *gin.Context) {
	var input service.UpdateAuctionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auction, err := h.svc.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction.Record())
}

func (h *auctionHandler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
