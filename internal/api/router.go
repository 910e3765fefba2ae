package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/FinRadar/internal/storage"
)

// Ledger 是 API 需要的运行台账能力，由 storage.Store 实现
type Ledger interface {
	LatestRun(ctx context.Context) (*storage.RunRecord, error)
	ListRuns(ctx context.Context, limit int, ok *bool) ([]storage.RunRecord, error)
	GetRun(ctx context.Context, id string) (*storage.RunRecord, error)
	ListChannels() ([]storage.Channel, error)
	WatchlistCodes() []string
	AddWatchedStock(code string) error
	RemoveWatchedStock(code string) error
}

// Trigger 手动触发一次运行；已有运行进行中时返回 false
type Trigger interface {
	Trigger() bool
}

type Server struct {
	ledger  Ledger
	trigger Trigger
}

func NewServer(ledger Ledger, trigger Trigger) *Server {
	return &Server{ledger: ledger, trigger: trigger}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/runs", s.listRuns)
		v1.POST("/runs", s.triggerRun)
		v1.GET("/runs/latest", s.latestRun)
		v1.GET("/runs/:id", s.getRun)
		v1.GET("/channels", s.listChannels)
		v1.GET("/watchlist", s.listWatchlist)
		v1.POST("/watchlist", s.addWatchlist)
		v1.DELETE("/watchlist/:code", s.removeWatchlist)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func internalError(c *gin.Context) {
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

func (s *Server) listRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	var filter *bool
	switch c.Query("status") {
	case "ok":
		v := true
		filter = &v
	case "failed":
		v := false
		filter = &v
	}

	runs, err := s.ledger.ListRuns(c.Request.Context(), limit, filter)
	if err != nil {
		internalError(c)
		return
	}
	respondOK(c, runs)
}

func (s *Server) latestRun(c *gin.Context) {
	rec, err := s.ledger.LatestRun(c.Request.Context())
	if err != nil {
		internalError(c)
		return
	}
	if rec == nil {
		fail(c, http.StatusNotFound, "not_found", "no run recorded yet")
		return
	}
	respondOK(c, rec)
}

func (s *Server) getRun(c *gin.Context) {
	rec, err := s.ledger.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c)
		return
	}
	if rec == nil {
		fail(c, http.StatusNotFound, "not_found", "run not found")
		return
	}
	respondOK(c, rec)
}

func (s *Server) triggerRun(c *gin.Context) {
	if s.trigger == nil {
		fail(c, http.StatusServiceUnavailable, "unavailable", "scheduler not running")
		return
	}
	if !s.trigger.Trigger() {
		fail(c, http.StatusConflict, "busy", "a run is already in progress")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": "ok", "message": "run started"})
}

func (s *Server) listChannels(c *gin.Context) {
	list, err := s.ledger.ListChannels()
	if err != nil {
		internalError(c)
		return
	}
	respondOK(c, list)
}

func (s *Server) listWatchlist(c *gin.Context) {
	codes := s.ledger.WatchlistCodes()
	if codes == nil {
		codes = []string{}
	}
	respondOK(c, codes)
}

func (s *Server) addWatchlist(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	code := storage.NormalizeStockCode(body.Code)
	if code == "" {
		fail(c, http.StatusBadRequest, "bad_request", "code must be up to 6 digits")
		return
	}
	if err := s.ledger.AddWatchedStock(code); err != nil {
		internalError(c)
		return
	}
	respondOK(c, gin.H{"code": code})
}

func (s *Server) removeWatchlist(c *gin.Context) {
	code := storage.NormalizeStockCode(c.Param("code"))
	if code == "" {
		fail(c, http.StatusBadRequest, "bad_request", "code must be up to 6 digits")
		return
	}
	if err := s.ledger.RemoveWatchedStock(code); err != nil {
		internalError(c)
		return
	}
	respondOK(c, gin.H{"code": code})
}
