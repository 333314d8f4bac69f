package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardbinder/collector/internal/models"
	"github.com/cardbinder/collector/internal/services"
)

type CollectionHandler struct {
	collection *services.CollectionService
	snapshots  *services.SnapshotService
}

func NewCollectionHandler(collection *services.CollectionService, snapshots *services.SnapshotService) *CollectionHandler {
	return &CollectionHandler{collection: collection, snapshots: snapshots}
}

// GetCollection returns the user's full ledger.
func (h *CollectionHandler) GetCollection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	entries, err := h.collection.Entries(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load collection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// AddToCollection adds copies of a printing, merging into an existing row.
func (h *CollectionHandler) AddToCollection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.AddToCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	entry, err := h.collection.Add(userID, req.PrintingID, req.Foil, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// EditEntry changes an entry's quantity or foil state. Omitted fields keep
// their current value.
func (h *CollectionHandler) EditEntry(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	entryID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	var req models.EditLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Foil == nil && req.Quantity == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to change"})
		return
	}

	// Load the row so omitted fields default to what is stored
	entries, err := h.collection.Entries(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load collection"})
		return
	}
	var current *models.LedgerEntry
	for i := range entries {
		if entries[i].ID == uint(entryID) {
			current = &entries[i]
			break
		}
	}
	if current == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	newFoil := current.Foil
	if req.Foil != nil {
		newFoil = *req.Foil
	}
	newQuantity := current.Quantity
	if req.Quantity != nil {
		newQuantity = *req.Quantity
	}

	result, err := h.collection.Edit(userID, uint(entryID), newFoil, newQuantity)
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteEntry removes a ledger row entirely.
func (h *CollectionHandler) DeleteEntry(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	entryID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	err = h.collection.Delete(userID, uint(entryID))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "entry deleted"})
}

// GetStats summarizes the collection.
func (h *CollectionHandler) GetStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := h.collection.Stats(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetValueHistory returns the recorded daily value snapshots.
func (h *CollectionHandler) GetValueHistory(c *gin.Context) {
	period := c.DefaultQuery("period", "month")

	snapshots, err := h.snapshots.GetHistory(period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ValueHistoryResponse{Period: period, Snapshots: snapshots})
}
