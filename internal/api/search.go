package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/backstage/services/auction/internal/readstore"
	"example.com/backstage/services/auction/internal/reconcile"
)

// BootstrapStatus reports read store bootstrap progress
type BootstrapStatus interface {
	State() reconcile.State
	Escalated() bool
	Attempts() int
}

type searchHandler struct {
	store  readstore.Store
	status BootstrapStatus
}

// RegisterSearchRoutes mounts the read store lookups and the bootstrap status
func (s *Server) RegisterSearchRoutes(store readstore.Store, status BootstrapStatus) {
	h := &searchHandler{store: store, status: status}

	s.router.GET("/api/search/items/:id", h.getItem)
	s.router.GET("/status", h.getStatus)
}

func (h *searchHandler) getItem(c *gin.Context) {
	item, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, readstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *searchHandler) getStatus(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusOK, gin.H{"bootstrap": "disabled"})
		return
	}

	state := h.status.State()
	code := http.StatusOK
	if state != reconcile.StateComplete {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"bootstrap": state,
		"attempts":  h.status.Attempts(),
		"escalated": h.status.Escalated(),
	})
}
