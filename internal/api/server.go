package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yourusername/camlink/internal/camera"
	"github.com/yourusername/camlink/internal/coordinator"
	"go.uber.org/zap"
)

// Server is the HTTP control surface: device state, derived camera views and
// camera actions. Actions execute in the request goroutine, independent of
// the poll cycle.
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
	router     *gin.Engine
	port       int

	coordinator *coordinator.Coordinator
	registry    *camera.Registry

	healthHandler    func() map[string]interface{}
	websocketHandler func(http.ResponseWriter, *http.Request)
}

// ServerConfig holds the API server configuration.
type ServerConfig struct {
	Port             int
	Production       bool
	Logger           *zap.Logger
	Coordinator      *coordinator.Coordinator
	Registry         *camera.Registry
	HealthHandler    func() map[string]interface{}
	WebSocketHandler func(http.ResponseWriter, *http.Request)
}

// NewServer creates a new API server.
func NewServer(config ServerConfig) *Server {
	if !config.Production {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggerMiddleware(config.Logger))

	server := &Server{
		logger:           config.Logger,
		router:           router,
		port:             config.Port,
		coordinator:      config.Coordinator,
		registry:         config.Registry,
		healthHandler:    config.HealthHandler,
		websocketHandler: config.WebSocketHandler,
	}

	server.setupRoutes()

	return server
}

// setupRoutes registers the route table.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/devices", s.handleDevices)
		v1.POST("/refresh", s.handleRefresh)

		v1.GET("/cameras/:serial", s.handleCamera)
		v1.GET("/cameras/:serial/stream", s.handleCameraStream)
		v1.POST("/cameras/:serial/ptz", s.handlePTZ)
		v1.POST("/cameras/:serial/motion-detection", s.handleMotionDetection)
		v1.POST("/cameras/:serial/alarm", s.handleSoundAlarm)
		v1.POST("/cameras/:serial/wake", s.handleWake)
		v1.POST("/cameras/:serial/alarm-sound", s.handleAlarmSound)
		v1.POST("/cameras/:serial/sensitivity", s.handleSensitivity)
	}

	if s.websocketHandler != nil {
		s.router.GET("/ws", gin.WrapF(s.websocketHandler))
	}
}

// Start starts the API server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server",
		zap.String("addr", addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stop shuts the API server down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	if s.httpServer != nil {
		return s.httpServer.Close()
	}

	return nil
}

// handleHealth reports service health.
func (s *Server) handleHealth(c *gin.Context) {
	var health map[string]interface{}

	if s.healthHandler != nil {
		health = s.healthHandler()
	} else {
		health = map[string]interface{}{
			"status": "ok",
			"time":   time.Now().UTC(),
		}
	}

	c.JSON(http.StatusOK, health)
}

// handleDevices returns the latest raw snapshot.
func (s *Server) handleDevices(c *gin.Context) {
	snapshot := s.coordinator.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"devices":             snapshot,
		"count":               len(snapshot),
		"last_update_success": s.coordinator.LastUpdateSuccess(),
	})
}

// handleRefresh triggers an on-demand refresh outside the schedule.
func (s *Server) handleRefresh(c *gin.Context) {
	snapshot, err := s.coordinator.Refresh(c.Request.Context())
	if err != nil {
		if errors.Is(err, coordinator.ErrRefreshInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		var reauth *coordinator.ReauthRequiredError
		if errors.As(err, &reauth) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": snapshot,
		"count":   len(snapshot),
	})
}

// cameraState is the derived view returned for one camera.
type cameraState struct {
	Serial                 string `json:"serial"`
	Name                   string `json:"name"`
	Available              bool   `json:"available"`
	IsOn                   bool   `json:"is_on"`
	IsRecording            bool   `json:"is_recording"`
	MotionDetectionEnabled bool   `json:"motion_detection_enabled"`
	SupportsStreaming      bool   `json:"supports_streaming"`
}

// handleCamera returns one camera's derived state.
func (s *Server) handleCamera(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, cameraState{
		Serial:                 cam.Serial(),
		Name:                   cam.Name(),
		Available:              cam.Available(),
		IsOn:                   cam.IsOn(),
		IsRecording:            cam.IsRecording(),
		MotionDetectionEnabled: cam.MotionDetectionEnabled(),
		SupportsStreaming:      cam.SupportsStreaming(),
	})
}

// handleCameraStream returns the derived RTSP source URL. The URL carries
// credentials; it is meant for the media consumer, not for logging.
func (s *Server) handleCameraStream(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	source := cam.StreamSource()
	if source == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stream available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream_url": source})
}

type ptzRequest struct {
	Direction string `json:"direction" binding:"required"`
	Speed     int    `json:"speed" binding:"required"`
}

// handlePTZ performs a bounded PTZ nudge.
func (s *Server) handlePTZ(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req ptzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.finishAction(c, cam.PerformPTZ(c.Request.Context(), req.Direction, req.Speed))
}

type motionDetectionRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// handleMotionDetection arms or disarms motion detection.
func (s *Server) handleMotionDetection(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req motionDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.finishAction(c, cam.SetMotionDetection(c.Request.Context(), *req.Enabled))
}

type soundAlarmRequest struct {
	Enable *int `json:"enable" binding:"required"`
}

// handleSoundAlarm triggers or clears the audible alarm.
func (s *Server) handleSoundAlarm(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req soundAlarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.finishAction(c, cam.SoundAlarm(c.Request.Context(), *req.Enable))
}

// handleWake wakes a sleeping camera.
func (s *Server) handleWake(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	s.finishAction(c, cam.WakeDevice(c.Request.Context()))
}

type alarmSoundRequest struct {
	Level int `json:"level" binding:"required"`
}

// handleAlarmSound sets the alarm sound level.
func (s *Server) handleAlarmSound(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req alarmSoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.finishAction(c, cam.SetAlarmSoundLevel(c.Request.Context(), req.Level))
}

type sensitivityRequest struct {
	Level int `json:"level" binding:"required"`
	Type  int `json:"type" binding:"required"`
}

// handleSensitivity sets the detection sensitivity threshold.
func (s *Server) handleSensitivity(c *gin.Context) {
	cam, err := s.registry.Get(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req sensitivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.finishAction(c, cam.SetDetectionSensitivity(c.Request.Context(), req.Level, req.Type))
}

// finishAction writes the standard action response: 400 for rejected input,
// 502 for vendor failures.
func (s *Server) finishAction(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if errors.Is(err, camera.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

// corsMiddleware is the CORS middleware.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// loggerMiddleware logs each request with a generated request ID.
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		requestID := uuid.NewString()
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(start)

		logger.Info("HTTP request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
