package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/handlers"
	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
	"github.com/aigroupchat/backend/services/impl"
	"github.com/aigroupchat/backend/services/index"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize services
	store := impl.NewDocumentStore(db)
	embedder := impl.NewEmbedder(cfg)
	contextualizer := impl.NewContextualizer(cfg)
	registry := index.NewRegistry()
	metadataCache := impl.NewMetadataCache(&cfg.Redis)

	var reranker services.Reranker
	if cfg.Reranker.BaseURL != "" {
		reranker = impl.NewReranker(cfg)
	}

	agentService := impl.NewAgentService(db)
	retriever := impl.NewRetriever(cfg, store, embedder, agentService, registry, reranker)
	contextService := impl.NewContextService(cfg, retriever, store, metadataCache)

	ingestService, err := impl.NewIngestService(cfg, store, embedder, contextualizer, registry, metadataCache)
	if err != nil {
		log.Fatal("Failed to initialize ingest service:", err)
	}

	// Seed built-in agent personas
	if err := agentService.SeedDefaultAgents(context.Background()); err != nil {
		log.Fatal("Failed to seed default agents:", err)
	}

	// Warm the keyword indexes for owners with existing documents
	if err := warmIndexes(context.Background(), db, ingestService); err != nil {
		log.Printf("Warning: index warmup failed, indexes build lazily on ingest: %v", err)
	}

	// Initialize handlers
	documentHandlers := handlers.NewDocumentHandlers(ingestService, store, retriever, contextService, cfg.Server.MaxUploadBytes)
	agentHandlers := handlers.NewAgentHandlers(agentService)

	router := setupRouter(documentHandlers, agentHandlers, cfg)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Retrieval server starting on %s", cfg.GetServerAddress())
		log.Printf("Hybrid search: %v, rerank: %v, contextual retrieval: %v",
			cfg.Retrieval.UseHybridSearch, cfg.Retrieval.UseRerank, cfg.Contextual.Enabled)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

// migrate runs AutoMigrate plus the raw DDL gorm cannot express: the
// pgvector extension and the ANN index on section embeddings.
func migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Document{},
		&models.DocumentSection{},
		&models.Agent{},
		&models.AgentDocument{},
		&models.ContextualProcessingStat{},
	); err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_document_sections_embedding
		ON document_sections USING hnsw (embedding vector_cosine_ops)`).Error; err != nil {
		return fmt.Errorf("failed to create ANN index: %w", err)
	}

	return nil
}

// warmIndexes rebuilds the BM25 snapshot for every owner that already
// has documents, so the first query after boot sees hybrid results.
func warmIndexes(ctx context.Context, db *gorm.DB, ingest services.IngestService) error {
	var owners []string
	if err := db.WithContext(ctx).Model(&models.Document{}).Distinct("owner_id").Pluck("owner_id", &owners).Error; err != nil {
		return err
	}

	for _, owner := range owners {
		if err := ingest.RebuildIndex(ctx, owner); err != nil {
			return fmt.Errorf("owner %s: %w", owner, err)
		}
	}

	if len(owners) > 0 {
		log.Printf("Warmed keyword indexes for %d owners", len(owners))
	}
	return nil
}

func setupRouter(documentHandlers *handlers.DocumentHandlers, agentHandlers *handlers.AgentHandlers, cfg *config.Config) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "groupchat-retrieval",
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	documents := api.Group("/documents")
	{
		documents.POST("", documentHandlers.UploadDocument)
		documents.GET("", documentHandlers.ListDocuments)
		documents.POST("/search", documentHandlers.SearchDocuments)
		documents.POST("/context", documentHandlers.GetContext)
		documents.GET("/:id", documentHandlers.GetDocument)
		documents.DELETE("/:id", documentHandlers.DeleteDocument)
		documents.POST("/:id/contextualize", documentHandlers.ContextualizeDocument)
	}

	agents := api.Group("/agents")
	{
		agents.POST("", agentHandlers.CreateAgent)
		agents.GET("", agentHandlers.ListAgents)
		agents.GET("/:id", agentHandlers.GetAgent)
		agents.PATCH("/:id", agentHandlers.UpdateAgent)
		agents.DELETE("/:id", agentHandlers.DeleteAgent)

		agents.POST("/:id/documents", agentHandlers.LinkDocuments)
		agents.DELETE("/:id/documents/:doc_id", agentHandlers.UnlinkDocument)
	}

	api.GET("/contextual/stats", documentHandlers.GetContextualStats)

	return router
}
