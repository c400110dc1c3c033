package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/clock"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/admin"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/decay"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/items"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/retrieve"
	routesystem "github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/system"
	storemetrics "github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/metrics"
	registrycache "github.com/tessellated-ai/temporal-memory-service/internal/registry/cache"
	registryembed "github.com/tessellated-ai/temporal-memory-service/internal/registry/embed"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registryroute "github.com/tessellated-ai/temporal-memory-service/internal/registry/route"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/tessellated-ai/temporal-memory-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrystore.MemoryStore
	Router *gin.Engine
	// Port is the bound listener port; differs from config when port 0 was requested.
	Port int

	httpServer *http.Server
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.Store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for an OS-assigned port; the bound port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting temporal memory service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"vector", cfg.VectorType,
		"embedding", cfg.EmbedType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize stats cache and inject into context so handlers can read it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if statsCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithStatsCacheContext(ctx, statsCache)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Initialize embedder and vector store (optional, for semantic retrieval)
	var embedder registryembed.Embedder
	var vectorStore registryvector.VectorStore
	if cfg.EmbedType != "" && cfg.EmbedType != "none" {
		embedLoader, err := registryembed.Select(cfg.EmbedType)
		if err != nil {
			log.Warn("Embedder not available", "err", err)
		} else {
			embedder, err = embedLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize embedder", "err", err)
			}
		}
	}
	if cfg.VectorType != "" && cfg.VectorType != "none" {
		if embedder == nil {
			return nil, fmt.Errorf("vector store %q requires an embedding provider: set --embedding-kind to a value other than 'none'", cfg.VectorType)
		}
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			log.Warn("Vector store not available", "err", err)
		} else {
			vectorStore, err = vectorLoader(ctx)
			if err != nil {
				log.Warn("Failed to initialize vector store", "err", err)
			}
		}
	}

	retriever := service.NewRetriever(store, vectorStore, embedder, cfg, clock.System())
	decaySvc := service.NewDecayService(store, vectorStore, cfg, clock.System())

	// Mount memory API routes
	items.MountRoutes(router, store, cfg)
	retrieve.MountRoutes(router, retriever)
	decay.MountRoutes(router, decaySvc)
	admin.MountRoutes(ctx, router, store, decaySvc, cfg)

	// Mount management route plugins (health, ready, metrics) on the main router.
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Start background services
	indexer := service.NewBackgroundIndexer(store, embedder, vectorStore, cfg.VectorIndexerBatchSize, cfg.MaxEmbeddingDim)
	go indexer.Start(ctx)
	go decaySvc.Start(ctx)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Listener.Port))
	if err != nil {
		return nil, err
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Router:     router,
		Port:       port,
		httpServer: httpServer,
	}, nil
}
