package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/connergroth/EcoVision/internal/auth"
	"github.com/connergroth/EcoVision/internal/config"
	"github.com/connergroth/EcoVision/internal/health"
	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
	"github.com/connergroth/EcoVision/internal/pipeline"
	"github.com/connergroth/EcoVision/internal/service"
	"github.com/connergroth/EcoVision/internal/stream"
)

// DetectionService runs detections and owns streaming gates
type DetectionService interface {
	Detect(ctx context.Context, req pipeline.DetectRequest) models.DetectionResponse
	Continuous(ctx context.Context, req pipeline.DetectRequest) models.StreamResponse
	OpenStream(userID string) *stream.Gate
	CloseStream(g *stream.Gate)
}

// LedgerReader serves leaderboard and history queries
type LedgerReader interface {
	Leaderboard(ctx context.Context, limit, offset int) (*models.Leaderboard, error)
	UserRank(ctx context.Context, userID string) (*models.UserRank, error)
	History(ctx context.Context, userID string, q ledger.HistoryQuery) (*models.ScanHistory, error)
	Scan(ctx context.Context, scanID string) (*models.ScanRecord, error)
	Summary(ctx context.Context, userID string) (*models.StatsSummary, error)
}

// TipsSource provides general recycling tips
type TipsSource interface {
	Tips(ctx context.Context) map[string]interface{}
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config         *config.ServerConfig
	router         *gin.Engine
	httpServer     *http.Server
	listener       net.Listener
	detector       DetectionService
	ledger         LedgerReader
	verifier       auth.Verifier
	streamVerifier auth.Verifier
	health         *health.Manager
	tips           TipsSource
	routesOnce     sync.Once
	baseCtx        context.Context
	cancel         context.CancelFunc
}

// NewServer creates a new web server service
func NewServer(cfg *config.ServerConfig, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		router:      router,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
}

// SetDependencies sets the detection pipeline, the ledger reader and the
// credential verifiers. streamVerifier backs websocket and continuous
// detection authentication and may be a cached wrapper of verifier.
func (s *Server) SetDependencies(det DetectionService, reader LedgerReader, verifier, streamVerifier auth.Verifier) {
	s.detector = det
	s.ledger = reader
	s.verifier = verifier
	s.streamVerifier = streamVerifier
	if s.streamVerifier == nil {
		s.streamVerifier = verifier
	}
}

// SetHealth mounts the health endpoints
func (s *Server) SetHealth(m *health.Manager) {
	s.health = m
}

// SetTips sets the recycling tips source
func (s *Server) SetTips(tips TipsSource) {
	s.tips = tips
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// websocket connections are hijacked; cancelling baseCtx ends them
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", addr)
			s.GetStatus().SetError(err)
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	defer s.cancel()
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound listen address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr()
	}
	return s.listener.Addr().String()
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	if s.health != nil {
		s.health.RegisterRoutes(s.router)
	}

	s.router.GET("/ws/detection/:user_id", s.handleDetectionStream)

	api := s.router.Group("/api/v1")
	api.Use(timeoutMiddleware(s.config.RequestTimeout))
	{
		// frame polling authenticates like the websocket
		api.POST("/continuous-detection", s.authMiddleware(true), bodyLimit(s.config.MaxUploadBytes), s.handleContinuousDetection)

		authed := api.Group("", s.authMiddleware(false))
		upload := authed.Group("", bodyLimit(s.config.MaxUploadBytes))
		upload.POST("/detect", s.handleDetect)
		upload.POST("/detect-base64", s.handleDetectBase64)

		authed.GET("/leaderboard", s.handleLeaderboard)
		authed.GET("/leaderboard/user-rank/:user_id", s.handleUserRank)
		authed.GET("/users/:user_id/scans", s.handleUserScans)
		authed.GET("/users/:user_id/stats/summary", s.handleStatsSummary)
		authed.GET("/scans/:scan_id", s.handleGetScan)
		authed.GET("/recycling-tips", s.handleRecyclingTips)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("HTTP request", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}

const requestIDKey = "request_id"

// requestID tags each request with an id, honouring an inbound X-Request-ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// corsMiddleware allows the configured origins. "*" allows any origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (origins["*"] || origins[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, Accept, Origin, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// timeoutMiddleware bounds the request context
func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bodyLimit caps the request body size
func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
