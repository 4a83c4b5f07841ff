package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler serves the public catalog.
type Handler struct {
	service *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the read-only catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/packs", h.ListPacks)
	r.GET("/packs/:id", h.GetPack)
}

// ListPacks handles GET /packs
func (h *Handler) ListPacks(c *gin.Context) {
	packs, err := h.service.ListPacks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list packs",
		})
		return
	}
	if packs == nil {
		packs = []*Pack{}
	}
	c.JSON(http.StatusOK, gin.H{"packs": packs, "count": len(packs)})
}

// GetPack handles GET /packs/:id
func (h *Handler) GetPack(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pack_not_found", "message": "Pack not found"})
		return
	}

	pack, err := h.service.GetPack(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pack_not_found", "message": "Pack not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load pack",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pack": pack})
}
