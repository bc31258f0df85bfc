package sink

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/tina/internal/auth"
	"github.com/danmuck/tina/internal/observability"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// paramsRequest is the PUT /params body. Mode is required; an omitted tct
// keeps the current one.
type paramsRequest struct {
	Mode *protocol.Mode `json:"mode"`
	TCT  *uint8         `json:"tct"`
}

type Server struct {
	ID      string    `json:"id"`
	Addr    string    `json:"addr"`
	Started time.Time `json:"started"`

	reports   *ReportLog
	control   Control
	router    *gin.Engine
	writeAuth gin.HandlerFunc
	routes    sync.Once
}

func NewServer(id, addr string, corsOrigins []string, reports *ReportLog, control Control) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPObserver(log.Logger, id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		reports: reports,
		control: control,
		router:  r,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// RequireToken makes PUT routes demand a bearer token v accepts. Call it
// before the routes are registered.
func (s *Server) RequireToken(v auth.Validator) {
	s.writeAuth = auth.RequireToken(v)
}

// RegisterRoutes mounts the API once; Serve calls it too.
func (s *Server) RegisterRoutes() {
	s.routes.Do(s.registerRoutes)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		ready := s.reports.Len() > 0
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": version,
		})
	})

	r.GET("/reports", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"reports": s.reports.List(limit)})
	})

	r.GET("/reports/latest", func(c *gin.Context) {
		latest, ok := s.reports.Latest()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no epoch reported yet"})
			return
		}
		c.JSON(http.StatusOK, latest)
	})

	r.GET("/tree", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.control.Tree())
	})

	r.GET("/params", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.control.Tree().Params)
	})

	var writes []gin.HandlerFunc
	if s.writeAuth != nil {
		writes = append(writes, s.writeAuth)
	}
	r.PUT("/params", append(writes, func(c *gin.Context) {
		var req paramsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Mode == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
			return
		}
		p := s.control.Tree().Params
		p.Mode = *req.Mode
		if req.TCT != nil {
			p.TCT = *req.TCT
		}
		if err := p.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.control.SetParams(p); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, protocol.ErrInvalidMode), errors.Is(err, protocol.ErrInvalidTCT):
				status = http.StatusBadRequest
			case errors.Is(err, ErrLoopStopped):
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("sink", s.ID).Str("params", p.String()).Msg("execution parameters queued")
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "params": p})
	})...)
}

// Serve runs the API until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{Addr: s.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
