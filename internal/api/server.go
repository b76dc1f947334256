// Package api exposes hybrid search over HTTP, mirroring the CLI query
// surface for dashboards and assistant integrations.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"retrace/internal/domain"
	"retrace/internal/usecase"
)

// StatsFunc supplies current index statistics for the status endpoint.
type StatsFunc func() (*domain.IndexStats, error)

// Server serves POST /search and GET /status.
type Server struct {
	engine   *gin.Engine
	searcher *usecase.Searcher
	stats    StatsFunc
	topK     int
	logger   *slog.Logger
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// NewServer creates the HTTP server around an already-wired searcher.
func NewServer(searcher *usecase.Searcher, stats StatsFunc, defaultTopK int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		searcher: searcher,
		stats:    stats,
		topK:     defaultTopK,
		logger:   logger,
	}

	engine.POST("/search", s.handleSearch)
	engine.GET("/status", s.handleStatus)

	return s
}

// Run blocks serving on addr.
func (s *Server) Run(addr string) error {
	s.logger.Info("search API listening", "addr", addr)
	return s.engine.Run(addr)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no query provided"})
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}

	s.logger.Info("search request", "remote", c.ClientIP(), "query", req.Query)
	results := s.searcher.Search(c.Request.Context(), req.Query, topK)
	if results == nil {
		results = []domain.Result{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleStatus(c *gin.Context) {
	stats, err := s.stats()
	if err != nil {
		s.logger.Error("failed to collect stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect index stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
