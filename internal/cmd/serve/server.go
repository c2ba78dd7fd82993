package serve

import (
	"context"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	"github.com/convene/messenger-service/internal/config"
	"github.com/convene/messenger-service/internal/listing"
	"github.com/convene/messenger-service/internal/plugin/route/admin"
	"github.com/convene/messenger-service/internal/plugin/route/conversations"
	routesystem "github.com/convene/messenger-service/internal/plugin/route/system"
	"github.com/convene/messenger-service/internal/provision"
	registrycache "github.com/convene/messenger-service/internal/registry/cache"
	registrymembership "github.com/convene/messenger-service/internal/registry/membership"
	registrymigrate "github.com/convene/messenger-service/internal/registry/migrate"
	registryroute "github.com/convene/messenger-service/internal/registry/route"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ConversationStore
	Engine          *provision.Engine
	Router          *gin.Engine
	Addr            net.Addr
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	if s.closeMain != nil {
		return s.closeMain(ctx)
	}
	return nil
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual address: Server.Addr.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting messenger service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"membership", cfg.MembershipType,
		"cache", cfg.CacheType,
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

	// Initialize cache and inject into context so the store loader can read it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if previewCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithPreviewCacheContext(ctx, previewCache)
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

	// Initialize membership source
	membershipLoader, err := registrymembership.Select(cfg.MembershipType)
	if err != nil {
		return nil, err
	}
	source, err := membershipLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize membership source: %w", err)
	}

	engine := provision.New(store, source)
	view := listing.NewView(store, source)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware(cfg.RequireJustification))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	// Mount API routes
	conversations.MountRoutes(router, store, view, engine, auth)
	admin.MountRoutes(router, engine, auth)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		mgmtCfg.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
		mgmtAddr, closeFn, err := startHTTPServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "addr", mgmtAddr)
		closeManagement = closeFn
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	addr, closeMain, err := startHTTPServer(cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"addr", addr,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Engine:          engine,
		Router:          router,
		Addr:            addr,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}
