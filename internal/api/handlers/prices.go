package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cardbinder/collector/internal/database"
	"github.com/cardbinder/collector/internal/models"
	"github.com/cardbinder/collector/internal/services"
)

type PriceHandler struct {
	sync       *services.PriceSyncService
	rates      services.RatesAPI
	dispatcher services.Dispatcher
}

func NewPriceHandler(sync *services.PriceSyncService, rates services.RatesAPI, dispatcher services.Dispatcher) *PriceHandler {
	return &PriceHandler{sync: sync, rates: rates, dispatcher: dispatcher}
}

type refreshRequest struct {
	PrintingID  *uint  `json:"printing_id"`
	SetCode     string `json:"set_code"`
	MissingOnly bool   `json:"missing_only"`
}

// Refresh queues a price reconciliation pass. The scope narrows from one
// printing, to one set, to missing-only, to the stalest batch.
func (h *PriceHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	switch {
	case req.PrintingID != nil:
		printingID := *req.PrintingID
		h.dispatcher.Enqueue("price_refresh_one", func(ctx context.Context) error {
			_, err := h.sync.SyncOne(ctx, printingID)
			return err
		})
	case req.SetCode != "":
		setCode := req.SetCode
		h.dispatcher.Enqueue("price_refresh_set", func(ctx context.Context) error {
			_, err := h.sync.SyncSet(ctx, setCode)
			return err
		})
	case req.MissingOnly:
		h.dispatcher.Enqueue("price_refresh_missing", func(ctx context.Context) error {
			_, err := h.sync.SyncMissing(ctx)
			return err
		})
	default:
		h.dispatcher.Enqueue("price_refresh_stalest", func(ctx context.Context) error {
			_, err := h.sync.SyncStalest(ctx)
			return err
		})
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "price refresh queued"})
}

// Status reports the background sync's last run.
func (h *PriceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.Status())
}

// RefreshRates queues an exchange rate update from the rates provider.
func (h *PriceHandler) RefreshRates(c *gin.Context) {
	h.dispatcher.Enqueue("rates_refresh", func(ctx context.Context) error {
		return services.RefreshRates(ctx, database.GetDB(), h.rates)
	})
	c.JSON(http.StatusAccepted, gin.H{"message": "rate refresh queued"})
}

// GetRates returns the stored exchange rates, USD-based.
func (h *PriceHandler) GetRates(c *gin.Context) {
	var stored []models.ExchangeRate
	err := database.GetDB().Order("code").Find(&stored).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rates"})
		return
	}

	rates := make(map[string]float64, len(stored))
	for _, r := range stored {
		rates[r.Code] = r.Rate
	}
	c.JSON(http.StatusOK, gin.H{"base": "USD", "rates": rates})
}
