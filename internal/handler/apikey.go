package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/npai/quota-engine/internal/registry"
)

type APIKeyHandler struct {
	registry *registry.Registry
}

func NewAPIKeyHandler(reg *registry.Registry) *APIKeyHandler {
	return &APIKeyHandler{registry: reg}
}

func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		DeveloperID string `json:"developer_id" binding:"required"`
		Tier        string `json:"tier" binding:"required"`
		Name        string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	apiKey, raw, err := h.registry.Generate(ctx, req.DeveloperID, req.Tier, req.Name)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownTier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      apiKey.ID,
		"key_id":  apiKey.KeyID,
		"key":     raw,
		"tier":    apiKey.Tier,
		"message": "Save this key - it won't be shown again",
	})
}

func (h *APIKeyHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	if developerID := c.Query("developer_id"); developerID != "" {
		keys, err := h.registry.ListByDeveloper(ctx, developerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, keys)
		return
	}

	keys, err := h.registry.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, keys)
}

func (h *APIKeyHandler) Get(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	apiKey, err := h.registry.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if apiKey == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}

	c.JSON(http.StatusOK, apiKey)
}

func (h *APIKeyHandler) Suspend(c *gin.Context) {
	h.lifecycle(c, h.registry.Suspend, "API key suspended")
}

func (h *APIKeyHandler) Reactivate(c *gin.Context) {
	h.lifecycle(c, h.registry.Reactivate, "API key reactivated")
}

func (h *APIKeyHandler) Revoke(c *gin.Context) {
	h.lifecycle(c, h.registry.Revoke, "API key revoked")
}

func (h *APIKeyHandler) lifecycle(c *gin.Context, op func(ctx context.Context, id string) error, message string) {
	id := c.Param("id")

	err := op(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": message, "id": id})
	case errors.Is(err, registry.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
	case errors.Is(err, registry.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
