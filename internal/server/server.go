package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"anoa.com/notifyhub/internal/config"
	"anoa.com/notifyhub/internal/logging"
	"anoa.com/notifyhub/internal/middleware"
	"anoa.com/notifyhub/internal/realtime"
	"anoa.com/notifyhub/internal/realtime/relay"

	notiHttp "anoa.com/notifyhub/internal/modules/notification/delivery/http"
	notiWs "anoa.com/notifyhub/internal/modules/notification/delivery/ws"
	notifRepo "anoa.com/notifyhub/internal/modules/notification/repository"
	notifService "anoa.com/notifyhub/internal/modules/notification/service"

	searchService "anoa.com/notifyhub/internal/modules/search/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/meilisearch/meilisearch-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	registry   *realtime.Registry
	relay      *relay.Relay
	logger     zerolog.Logger
}

// NewServer wires the notification core. redisClient may be nil, which
// disables cross-instance relay; an empty MEILISEARCH_HOST disables search.
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) *Server {
	logger := logging.Component("server")

	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry, realtime.DispatcherOptions{
		SendTimeout: cfg.SendTimeout,
		Parallelism: cfg.DispatchParallelism,
	}, logging.Component("dispatcher"))

	var (
		publisher notifService.Publisher
		fanout    *relay.Relay
	)
	if redisClient != nil {
		fanout = relay.New(redisClient, cfg.RelayChannel, dispatcher, logging.Component("relay"))
		publisher = fanout
	}

	var (
		indexer   notifService.Indexer
		searchSvc searchService.HistorySearchService
	)
	if cfg.MeiliSearchHost != "" {
		meiliHost := cfg.MeiliSearchHost
		if !strings.HasPrefix(meiliHost, "http") {
			meiliHost = "http://" + meiliHost + ":7700"
		}
		meiliClient := meilisearch.New(meiliHost, meilisearch.WithAPIKey(cfg.MeiliMasterKey))
		searchSvc = searchService.NewHistorySearchService(meiliClient, logging.Component("search"))
		indexer = searchSvc
	}

	// Notification Module
	historyRepository := notifRepo.NewHistoryRepository(db, logging.Component("history"))
	notificationSvc := notifService.NewNotificationService(
		historyRepository,
		registry,
		dispatcher,
		publisher,
		indexer,
		notifService.Options{
			DefaultLimit: cfg.HistoryDefaultLimit,
			MaxLimit:     cfg.HistoryMaxLimit,
			SaveTimeout:  cfg.SaveTimeout,
		},
		logging.Component("notification"),
	)
	notificationHandler := notiHttp.NewNotificationHandler(notificationSvc, searchSvc)
	wsHandler := notiWs.NewHandler(notificationSvc, notiWs.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.ClientBuffer,
		PingInterval:   cfg.PingInterval,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 << 10,
	}, logging.Component("ws"))

	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logging.Component("http"), "/health", "/ws"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"connectedClients": registry.Count(),
		})
	})
	router.GET("/ws", wsHandler.ServeWS)

	api := router.Group("/api")
	notifications := api.Group("/notifications")
	{
		notifications.POST("/broadcast", notificationHandler.Broadcast)
		notifications.POST("/users/:userId", notificationHandler.SendToUser)
		notifications.POST("/channels/:channel", notificationHandler.SendToChannel)
		notifications.GET("/stats", notificationHandler.GetStats)
		notifications.GET("/history", notificationHandler.GetHistory)
		notifications.GET("/history/search-token", notificationHandler.GetSearchToken)
	}

	return &Server{
		engine: router,
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		registry: registry,
		relay:    fanout,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start launches background workers that must be running before traffic
// is accepted.
func (s *Server) Start(ctx context.Context) error {
	if s.relay == nil {
		s.logger.Info().Msg("REDIS_URL not set, cross-instance relay disabled")
		return nil
	}
	return s.relay.Start(ctx)
}

// Run starts background workers and serves HTTP until Shutdown.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("notification server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight ones, then closes
// every live websocket and the relay subscription.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	open := s.registry.Count()
	s.registry.CloseAll()
	s.logger.Info().Int("closed_connections", open).Msg("live connections closed")

	if s.relay != nil {
		if rerr := s.relay.Close(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

func setupCORS(router *gin.Engine, origins []string) {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = origins
	}

	router.Use(cors.New(corsConfig))
}
