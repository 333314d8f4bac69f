package api

import (
	"os"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardbinder/collector/internal/api/handlers"
	"github.com/cardbinder/collector/internal/metrics"
	"github.com/cardbinder/collector/internal/services"
)

func SetupRouter(
	catalog services.CatalogAPI,
	importer *services.Importer,
	collection *services.CollectionService,
	priceSync *services.PriceSyncService,
	rates services.RatesAPI,
	assets *services.AssetService,
	assetStore *services.AssetStore,
	snapshots *services.SnapshotService,
	dispatcher services.Dispatcher,
) *gin.Engine {
	router := gin.Default()

	// CORS configuration - allow origins from environment or use defaults
	config := cors.DefaultConfig()
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-User-ID"}
	config.AllowCredentials = false
	router.Use(cors.New(config))

	router.Use(func(c *gin.Context) {
		c.Next()
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	})

	// Initialize handlers
	collectionHandler := handlers.NewCollectionHandler(collection, snapshots)
	importHandler := handlers.NewImportHandler(importer, assets, priceSync, dispatcher)
	priceHandler := handlers.NewPriceHandler(priceSync, rates, dispatcher)

	// Serve the cached card art, images, and set icons
	if assetStore != nil {
		router.Static("/assets/cards", assetStore.Dir())
	}

	// API routes
	api := router.Group("/api")
	{
		// Card routes
		cards := api.Group("/cards")
		{
			cards.GET("/search", handlers.SearchCards(catalog, importer, importHandler))
			cards.GET("/sets", handlers.GetSets)
			cards.GET("/:id", handlers.GetPrinting)
			cards.GET("/:id/prices", handlers.GetPriceHistory)
			cards.POST("/:id/assets", handlers.EnsureAssets(assets, dispatcher))
		}

		// Collection routes
		coll := api.Group("/collection")
		{
			coll.GET("", collectionHandler.GetCollection)
			coll.POST("", collectionHandler.AddToCollection)
			coll.PUT("/:id", collectionHandler.EditEntry)
			coll.DELETE("/:id", collectionHandler.DeleteEntry)
			coll.GET("/stats", collectionHandler.GetStats)
			coll.GET("/value-history", collectionHandler.GetValueHistory)
		}

		// Import routes
		imports := api.Group("/imports")
		{
			imports.POST("", importHandler.Upload)
			imports.POST("/:id/resume", importHandler.Resume)
		}

		// Price routes
		prices := api.Group("/prices")
		{
			prices.GET("/status", priceHandler.Status)
			prices.POST("/refresh", priceHandler.Refresh)
		}

		// Exchange rate routes
		rateRoutes := api.Group("/rates")
		{
			rateRoutes.GET("", priceHandler.GetRates)
			rateRoutes.POST("/refresh", priceHandler.RefreshRates)
		}

		// Deck routes
		decks := api.Group("/decks")
		{
			decks.GET("", handlers.GetDecks)
			decks.POST("", handlers.CreateDeck)
			decks.GET("/:id", handlers.GetDeck)
			decks.PUT("/:id", handlers.UpdateDeck)
			decks.DELETE("/:id", handlers.DeleteDeck)
			decks.POST("/:id/restore", handlers.RestoreDeck)
			decks.POST("/:id/cards", handlers.AddDeckCard)
			decks.DELETE("/:id/cards/:cardId", handlers.RemoveDeckCard)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
