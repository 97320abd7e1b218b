package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"emittr/fourinarow/internal/lobby"
	"emittr/fourinarow/internal/storage"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

type Server struct {
	router   *gin.Engine
	registry *lobby.Registry
	stats    storage.StatsProvider
	logger   *log.Logger
	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongWait     time.Duration
}

type Config struct {
	Registry    *lobby.Registry
	Store       storage.Store
	Logger      *log.Logger
	CORSOrigins []string

	PingInterval time.Duration
	PongWait     time.Duration
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	s := &Server{
		router:       router,
		registry:     cfg.Registry,
		logger:       cfg.Logger.WithPrefix("http"),
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if sp, ok := cfg.Store.(storage.StatsProvider); ok {
		s.stats = sp
	}

	router.GET("/health", s.handleHealth)
	router.GET("/leaderboard", s.handleLeaderboard)
	router.GET("/analytics", s.handleAnalytics)
	router.GET("/ws", s.handleWS)
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"sessions":     st.Sessions,
		"queued":       st.Queued,
		"disconnected": st.Disconnected,
	})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}
	rows, err := s.registry.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("leaderboard", "err", err)
		rows = nil
	}
	if rows == nil {
		rows = []storage.LeaderboardRow{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleAnalytics(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "analytics not available"})
		return
	}
	st, err := s.stats.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("analytics", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics unavailable"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "err", err)
		return
	}
	client := newClient(s, conn)
	go client.writePump()
	go client.readPump()
}
