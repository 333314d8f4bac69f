package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cardbinder/collector/internal/api"
	"github.com/cardbinder/collector/internal/database"
	"github.com/cardbinder/collector/internal/services"
)

func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./collector.db"
	}

	// Initialize database
	if err := database.Initialize(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	// Initialize the card catalog client
	catalogService := services.NewScryfallService()

	// Initialize the pricing client
	priceClient := services.NewTCGPlayerService(
		os.Getenv("TCGPLAYER_PUBLIC_KEY"),
		os.Getenv("TCGPLAYER_PRIVATE_KEY"),
	)

	// Initialize the exchange rate client
	ratesService := services.NewOpenExchangeRatesService(os.Getenv("OPENEXCHANGERATES_APP_ID"))

	// Initialize the asset cache
	assetDir := os.Getenv("ASSET_DIR")
	if assetDir == "" {
		assetDir = "./assets"
	}
	assetStore := services.NewAssetStore(assetDir, "/assets/cards")
	assetService := services.NewAssetService(assetStore, catalogService)

	// Initialize collection and import services
	collectionService := services.NewCollectionService(db)
	importer := services.NewImporter(db, catalogService, priceClient, collectionService)

	// Initialize price sync service
	priceSync := services.NewPriceSyncService(db, priceClient)

	// Initialize snapshot service for daily value tracking
	snapshotService := services.NewSnapshotService(db)

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background task dispatcher
	workers := 4
	if workersStr := os.Getenv("TASK_WORKERS"); workersStr != "" {
		if n, err := strconv.Atoi(workersStr); err == nil && n > 0 {
			workers = n
		}
	}
	dispatcher := services.NewPoolDispatcher(ctx, workers)

	// Start price sync in background with panic recovery
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in price sync: %v - restarting in 30 seconds", r)
					}
				}()
				priceSync.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Price sync restarting after panic recovery...")
			}
		}
	}()

	// Start snapshot service in background
	go snapshotService.Start(ctx)

	// Optionally refresh exchange rates on startup
	if os.Getenv("REFRESH_RATES_ON_STARTUP") == "true" {
		dispatcher.Enqueue("rates_refresh", func(ctx context.Context) error {
			return services.RefreshRates(ctx, db, ratesService)
		})
	}

	// Setup router
	router := api.SetupRouter(
		catalogService,
		importer,
		collectionService,
		priceSync,
		ratesService,
		assetService,
		assetStore,
		snapshotService,
		dispatcher,
	)

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the background loops
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let queued tasks drain before exiting
	dispatcher.Wait()

	log.Println("Server exited")
}
