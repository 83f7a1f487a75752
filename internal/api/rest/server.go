package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/popy1987/smart-usbhub-server/internal/api/websocket"
	"github.com/popy1987/smart-usbhub-server/internal/config"
	"github.com/popy1987/smart-usbhub-server/internal/interfaces"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	controller interfaces.Controller
	logger     *zap.Logger
	server     *http.Server
	wsHub      *websocket.Hub
}

func NewServer(cfg *config.Config, controller interfaces.Controller, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:     gin.New(),
		controller: controller,
		logger:     logger,
		wsHub:      wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	// Device and channel operations, paths as clients expect them
	s.router.GET("/device/info", s.getDeviceInfo)

	channel := s.router.Group("/channel")
	{
		channel.GET("/power/:channel", s.getPower)
		channel.POST("/power", s.setPower)
		channel.GET("/dataline/:channel", s.getDataline)
		channel.POST("/dataline", s.setDataline)
	}

	// Live state feed
	s.router.GET("/ws/live", s.wsLiveConnection)
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"link":      s.controller.LinkState().String(),
		"timestamp": time.Now().Unix(),
	})
}
