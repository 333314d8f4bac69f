// Package metrics provides Prometheus metrics for the collector service.
// Scrape these at /metrics for dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gorm.io/gorm"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Catalog (Scryfall) API Metrics
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_catalog_requests_total",
			Help: "Total catalog service requests by operation",
		},
		[]string{"operation"}, // "set", "printing", "bulk", "search"
	)

	CatalogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_catalog_errors_total",
			Help: "Catalog service calls that failed",
		},
	)

	// Pricing (TCGPlayer) API Metrics
	PriceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_price_requests_total",
			Help: "Total pricing service requests by operation",
		},
		[]string{"operation"}, // "login", "prices", "search"
	)

	PriceUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_price_updates_total",
			Help: "Total number of printing prices updated",
		},
	)

	PriceBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_price_batch_duration_seconds",
			Help:    "Time taken to process a price sync run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Import Metrics
	ImportedPrintingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_imported_printings_total",
			Help: "Printings created by the import reconciler",
		},
	)

	ImportSkippedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_import_skipped_rows_total",
			Help: "Upload rows skipped for validation or lookup failures",
		},
	)

	// Task Dispatcher Metrics
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_tasks_enqueued_total",
			Help: "Background tasks enqueued by name",
		},
		[]string{"task"},
	)

	TaskFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_task_failures_total",
			Help: "Background tasks that ended in error or panic",
		},
		[]string{"task"},
	)

	// Asset Metrics
	AssetFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_asset_fetches_total",
			Help: "Asset fetches by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "fetched", "cached", "failed"
	)

	// Collection Metrics
	CollectionCardsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_collection_cards_total",
			Help: "Total number of cards across all ledgers",
		},
	)

	CollectionValueUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_collection_value_usd",
			Help: "Total estimated value of all collections in USD",
		},
	)

	PrintingDatabaseSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_printing_database_size",
			Help: "Number of printings known to the database",
		},
	)
)

// UpdateCollectionMetrics refreshes the collection gauges from the store.
// Called after price sync runs and ledger mutations.
func UpdateCollectionMetrics(db *gorm.DB) {
	var totalCards int64
	db.Table("ledger_entries").Select("COALESCE(SUM(quantity), 0)").Scan(&totalCards)
	CollectionCardsTotal.Set(float64(totalCards))

	var totalValue float64
	db.Table("ledger_entries").
		Select(`COALESCE(SUM(
			CASE WHEN ledger_entries.foil
				THEN COALESCE(printings.foil_price, 0)
				ELSE COALESCE(printings.price, 0)
			END * ledger_entries.quantity
		), 0)`).
		Joins("JOIN printings ON printings.id = ledger_entries.printing_id").
		Scan(&totalValue)
	CollectionValueUSD.Set(totalValue)

	var printings int64
	db.Table("printings").Count(&printings)
	PrintingDatabaseSize.Set(float64(printings))
}
