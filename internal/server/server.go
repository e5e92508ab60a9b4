package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/crosspost/internal/config"
	"github.com/ifuryst/crosspost/internal/service"
)

const requestIDHeader = "X-Request-ID"

// Services are the dependencies behind the HTTP handlers.
type Services struct {
	DB            *gorm.DB
	Redis         *redis.Client
	Submissions   *service.SubmissionService
	Logs          *service.PostLogService
	Notifications *service.NotificationService
	Poster        *service.PosterService
	Scheduler     *service.Scheduler
}

type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Services
}

// NewServer connects to the database (and redis when enabled) and builds
// every service from the config.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = service.NewRedisClient(context.Background(), &cfg.Redis)
		if err != nil {
			return nil, err
		}
	}

	submissions := service.NewSubmissionService(db, logger)
	logs := service.NewPostLogService(db)
	notifications := service.NewNotificationService(db, cfg.Notifications, logger)

	posterService, err := service.NewPosterService(cfg, service.PosterDependencies{
		Submissions: submissions,
		Logs:        logs,
		Notifier:    notifications,
		Files:       service.NewFileStore(cfg.Files.RootDir),
		Redis:       redisClient,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize poster: %w", err)
	}

	return New(cfg, logger, Services{
		DB:            db,
		Redis:         redisClient,
		Submissions:   submissions,
		Logs:          logs,
		Notifications: notifications,
		Poster:        posterService,
		Scheduler:     service.NewScheduler(&cfg.Scheduler, logger, submissions, posterService),
	}), nil
}

// New builds the router around already constructed services.
func New(cfg *config.Config, logger *zap.Logger, services Services) *Server {
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		Services: services,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	s.Router.Use(requestID())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	s.Router.Use(s.corsMiddleware())
	s.Router.Use(gzip.Gzip(gzip.DefaultCompression))
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.Config.Server.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.Config.Server.AllowOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Writer.Header().Set(requestIDHeader, reqID)
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		api.GET("/websites", s.handleListWebsites)

		submissions := api.Group("/submissions")
		{
			submissions.POST("", s.handleCreateSubmission)
			submissions.GET("", s.handleListSubmissions)
			submissions.GET("/:id", s.handleGetSubmission)
			submissions.POST("/:id/schedule", s.handleScheduleSubmission)
			submissions.POST("/:id/queue", s.handleQueueSubmission)
			submissions.DELETE("/:id/queue", s.handleCancelSubmission)
			submissions.GET("/:id/logs", s.handleListLogs)
		}

		queue := api.Group("/queue")
		{
			queue.GET("", s.handleQueueStatus)
			queue.POST("/:type/cancel", s.handleCancelQueue)
		}

		api.GET("/notifications", s.handleListNotifications)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first so nothing new gets queued
	s.Scheduler.Stop()
	s.Poster.Close()
	s.Notifications.Wait()

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
