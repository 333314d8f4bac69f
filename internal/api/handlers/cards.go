package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cardbinder/collector/internal/database"
	"github.com/cardbinder/collector/internal/models"
	"github.com/cardbinder/collector/internal/services"
)

// SearchCards queries the catalog and folds every hit into the local store,
// so search is also how new printings enter the database. Results the store
// already knows cost no inserts.
func SearchCards(catalog services.CatalogAPI, importer *services.Importer, imports *ImportHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
			return
		}

		records, err := catalog.Search(c.Request.Context(), query)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "card catalog unavailable"})
			return
		}
		if len(records) == 0 {
			c.JSON(http.StatusOK, gin.H{"printings": []models.Printing{}, "count": 0})
			return
		}

		created, err := importer.ImportPrintings(c.Request.Context(), records)
		if err != nil {
			log.Printf("Search: failed to store results: %v", err)
		} else {
			imports.dispatchPrintingTasks(created)
		}

		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ScryfallID
		}
		var printings []models.Printing
		err = database.GetDB().Where("scryfall_id IN ?", ids).
			Preload("Card").Preload("CardSet").
			Find(&printings).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load printings"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"printings": printings, "count": len(printings)})
	}
}

// GetPrinting returns one stored printing with its card and set.
func GetPrinting(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printing id"})
		return
	}

	var printing models.Printing
	err = database.GetDB().Preload("Card").Preload("CardSet").
		First(&printing, uint(id)).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "printing not found"})
		return
	}
	c.JSON(http.StatusOK, printing)
}

// GetSets lists the sets the store knows about.
func GetSets(c *gin.Context) {
	var sets []models.CardSet
	if err := database.GetDB().Order("name").Find(&sets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sets": sets, "count": len(sets)})
}

// GetPriceHistory returns a printing's stored daily price points.
func GetPriceHistory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printing id"})
		return
	}

	var points []models.PricePoint
	err = database.GetDB().Where("printing_id = ?", uint(id)).
		Order("day ASC").Find(&points).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load price history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points, "count": len(points)})
}

// EnsureAssets queues asset caching for a stored printing on demand.
func EnsureAssets(assets *services.AssetService, dispatcher services.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printing id"})
			return
		}

		var printing models.Printing
		err = database.GetDB().Preload("CardSet").First(&printing, uint(id)).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "printing not found"})
			return
		}

		printingID := printing.ID
		code := printing.CardSet.Code
		number := printing.CollectorNumber
		dispatcher.Enqueue("fetch_card_art", func(ctx context.Context) error {
			return assets.EnsureAsset(ctx, services.AssetArt, printingID, code, number)
		})
		dispatcher.Enqueue("fetch_card_image", func(ctx context.Context) error {
			return assets.EnsureAsset(ctx, services.AssetImage, printingID, code, number)
		})
		dispatcher.Enqueue("fetch_set_icon", func(ctx context.Context) error {
			return assets.EnsureSetIcon(ctx, code)
		})
		c.JSON(http.StatusAccepted, gin.H{"message": "asset fetch queued"})
	}
}
