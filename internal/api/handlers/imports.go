package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cardbinder/collector/internal/database"
	"github.com/cardbinder/collector/internal/models"
	"github.com/cardbinder/collector/internal/services"
)

type ImportHandler struct {
	importer   *services.Importer
	assets     *services.AssetService
	prices     *services.PriceSyncService
	dispatcher services.Dispatcher
}

func NewImportHandler(importer *services.Importer, assets *services.AssetService, prices *services.PriceSyncService, dispatcher services.Dispatcher) *ImportHandler {
	return &ImportHandler{
		importer:   importer,
		assets:     assets,
		prices:     prices,
		dispatcher: dispatcher,
	}
}

// Upload accepts a CSV of {scryfall id, foil quantity, quantity} rows,
// records the batch, processes it, and queues price and asset work for any
// printings the import created.
func (h *ImportHandler) Upload(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing csv file upload"})
		return
	}
	defer file.Close()

	inputs, err := parseImportCSV(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid csv: " + err.Error()})
		return
	}
	if len(inputs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csv contains no rows"})
		return
	}

	batch, err := h.importer.CreateBatch(userID, inputs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save import"})
		return
	}

	result, created, err := h.importer.ProcessBatch(c.Request.Context(), batch.ID)
	if err != nil {
		// The batch is saved; the client can resume it later
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "import interrupted: " + err.Error(),
			"batch_id": batch.ID,
		})
		return
	}

	h.dispatchPrintingTasks(created)
	c.JSON(http.StatusOK, result)
}

// Resume re-runs a batch's incomplete rows, typically after a catalog outage
// interrupted the original upload.
func (h *ImportHandler) Resume(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	batchID := c.Param("id")

	var batch models.ImportBatch
	err := database.GetDB().Where("id = ? AND user_id = ?", batchID, userID).First(&batch).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "import batch not found"})
		return
	}

	result, created, err := h.importer.ProcessBatch(c.Request.Context(), batchID)
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "import batch not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "import interrupted: " + err.Error(), "batch_id": batchID})
		return
	}

	h.dispatchPrintingTasks(created)
	c.JSON(http.StatusOK, result)
}

// parseImportCSV reads rows of scryfall id, foil quantity, quantity. A header
// row is detected and skipped; malformed quantities become zero so the batch
// records the row as skipped instead of rejecting the whole file.
func parseImportCSV(r io.Reader) ([]services.ImportRowInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var inputs []services.ImportRowInput
	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		if i == 0 && looksLikeHeader(record) {
			continue
		}

		in := services.ImportRowInput{ScryfallID: strings.TrimSpace(record[0])}
		if len(record) > 1 {
			in.FoilQuantity, _ = strconv.Atoi(strings.TrimSpace(record[1]))
		}
		if len(record) > 2 {
			in.Quantity, _ = strconv.Atoi(strings.TrimSpace(record[2]))
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func looksLikeHeader(record []string) bool {
	// Hex uuids never contain "id", header labels like "scryfall_id" do
	first := strings.ToLower(strings.TrimSpace(record[0]))
	return strings.Contains(first, "id")
}

// dispatchPrintingTasks queues the follow-up work a new printing needs:
// price resolution plus art and image caching. All of it is idempotent, so
// a duplicate dispatch is harmless.
func (h *ImportHandler) dispatchPrintingTasks(created []models.Printing) {
	if len(created) == 0 {
		return
	}

	setCodes := h.setCodesFor(created)

	ids := make([]uint, len(created))
	for i, p := range created {
		ids[i] = p.ID
	}
	h.dispatcher.Enqueue("sync_new_prices", func(ctx context.Context) error {
		_, err := h.prices.SyncPrintingIDs(ctx, ids)
		return err
	})

	for _, p := range created {
		printing := p
		code := setCodes[p.CardSetID]
		h.dispatcher.Enqueue("fetch_card_art", func(ctx context.Context) error {
			return h.assets.EnsureAsset(ctx, services.AssetArt, printing.ID, code, printing.CollectorNumber)
		})
		h.dispatcher.Enqueue("fetch_card_image", func(ctx context.Context) error {
			return h.assets.EnsureAsset(ctx, services.AssetImage, printing.ID, code, printing.CollectorNumber)
		})
	}
	for _, code := range setCodes {
		icon := code
		h.dispatcher.Enqueue("fetch_set_icon", func(ctx context.Context) error {
			return h.assets.EnsureSetIcon(ctx, icon)
		})
	}
}

func (h *ImportHandler) setCodesFor(created []models.Printing) map[uint]string {
	setIDs := make(map[uint]bool)
	for _, p := range created {
		setIDs[p.CardSetID] = true
	}
	ids := make([]uint, 0, len(setIDs))
	for id := range setIDs {
		ids = append(ids, id)
	}

	var sets []models.CardSet
	if err := database.GetDB().Where("id IN ?", ids).Find(&sets).Error; err != nil {
		log.Printf("Import: failed to load set codes: %v", err)
		return map[uint]string{}
	}
	codes := make(map[uint]string, len(sets))
	for _, s := range sets {
		codes[s.ID] = s.Code
	}
	return codes
}
