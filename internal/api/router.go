package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"facepresence/internal/attendance"
	"facepresence/internal/auth"
	"facepresence/internal/camera"
	"facepresence/internal/config"
	"facepresence/internal/detector"
	"facepresence/internal/httpmiddleware"
	"facepresence/internal/session"
	"facepresence/internal/store"
)

// SessionFactory builds a fresh, unstarted session for one identity. Every
// session gets its own frame source; nothing is shared between sessions.
type SessionFactory func(id auth.Identity) *session.Session

// Server exposes the capture pipeline over HTTP: the presentation layer
// polls session snapshots and issues the capture/teardown commands.
type Server struct {
	cfg      config.App
	manager  *session.Manager
	newSess  SessionFactory
	repo     *attendance.Repository
	db       *store.DB
	redis    *store.Redis
	log      *zap.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg config.App, manager *session.Manager, factory SessionFactory, repo *attendance.Repository, db *store.DB, redis *store.Redis, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		newSess: factory,
		repo:    repo,
		db:      db,
		redis:   redis,
		log:     log.Named("api"),
	}
}

// Router builds the gin engine with the full middleware stack.
func (s *Server) Router() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	r.POST("/v1/login", s.login)

	authGroup := r.Group("/v1", auth.RequireIdentity(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))
	authGroup.POST("/sessions", s.createSession)
	authGroup.GET("/sessions/:id", s.getSession)
	authGroup.POST("/sessions/:id/capture", s.triggerCapture)
	authGroup.DELETE("/sessions/:id", s.deleteSession)
	authGroup.GET("/records", s.listRecords)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	redisHealthy := s.redis.Healthy(c.Request.Context())
	dbHealthy := s.db != nil
	status := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Roll  string `json:"roll" binding:"required"`
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := auth.Identity{Roll: req.Roll, Name: req.Name, Email: req.Email}
	token, exp, err := auth.Issue(id, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token": token,
		"expires_at":   exp.Unix(),
	})
}

// createSession enters the camera view: acquires the stream and starts the
// detection loop for the authenticated identity.
func (s *Server) createSession(c *gin.Context) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	sess := s.newSess(id)
	if err := sess.Start(c.Request.Context()); err != nil {
		s.log.Warn("session start failed", zap.String("roll", id.Roll), zap.Error(err))
		switch {
		case errors.Is(err, camera.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "camera access denied"})
		case errors.Is(err, camera.ErrDeviceUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera unavailable"})
		case errors.Is(err, detector.ErrModelLoad):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face models not loaded, retry later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	s.manager.Add(sess)
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// triggerCapture is the one command of the read model; it only works for
// manual-policy sessions with a face in frame and the guard clear.
func (s *Server) triggerCapture(c *gin.Context) {
	sess, err := s.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	switch err := sess.TriggerCapture(); {
	case err == nil:
		c.JSON(http.StatusAccepted, sess.Snapshot())
	case errors.Is(err, session.ErrManualOnly):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session triggers automatically"})
	case errors.Is(err, session.ErrNoFace):
		c.JSON(http.StatusConflict, gin.H{"error": "no face present"})
	case errors.Is(err, session.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "submission already in flight"})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": "session closed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.manager.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listRecords(c *gin.Context) {
	id, _ := auth.IdentityFrom(c)
	roll := c.DefaultQuery("roll", id.Roll)
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	records, err := s.repo.ListRecords(c.Request.Context(), roll, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
