// Package server exposes the HTTP API and dashboard. All mutation goes
// through POST; PUT and DELETE are rejected globally so the API stays
// read-only at the HTTP-verb level.
package server

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
)

//go:embed dashboard
var dashboardFS embed.FS

// viewerCacheSize bounds the parsed-session cache for the messages endpoint.
const viewerCacheSize = 64

// chatTimeout bounds the synchronous chat endpoint.
const chatTimeout = 5 * time.Minute

// Server wires the runtime into a gin engine.
type Server struct {
	rt     *app.Runtime
	engine *gin.Engine
	viewer *lru.Cache[string, *models.ViewerSession]
}

// New builds the router. The returned server is ready to serve; nothing
// listens until Serve.
func New(rt *app.Runtime) (*Server, error) {
	viewer, err := lru.New[string, *models.ViewerSession](viewerCacheSize)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{rt: rt, engine: engine, viewer: viewer}
	s.installMiddleware()
	s.installRoutes()
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve runs the HTTP server until the listener fails or Shutdown is called
// on srv.
func (s *Server) Serve(srv *http.Server) error {
	srv.Handler = s.engine
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) installMiddleware() {
	logger := s.rt.Logger.With("component", "server")

	s.engine.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	})

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOriginFunc = func(origin string) bool {
		return origin == "" || hasLocalHost(origin)
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	s.engine.Use(cors.New(corsCfg))

	// Read-only guard: the API mutates only through POST and PATCH.
	s.engine.Use(func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPut, http.MethodDelete:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "read-only"})
		}
	})
}

func (s *Server) installRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/stats", s.handleRunsStats)
	api.GET("/runs/:id/messages", s.handleRunMessages)
	api.GET("/search", s.handleSearch)
	api.GET("/memories", s.handleMemories)
	api.GET("/memories/:id", s.handleMemory)
	api.GET("/connect", s.handleConnectList)
	api.POST("/connect", s.handleConnect)
	api.POST("/project/add", s.handleProjectAdd)
	api.POST("/project/remove", s.handleProjectRemove)
	api.POST("/chat", s.handleChat)
	api.POST("/sync", s.handleSyncStart)
	api.POST("/maintain", s.handleMaintainStart)
	api.GET("/config", s.handleConfigGet)
	api.PATCH("/config", s.handleConfigPatch)

	s.engine.GET("/metrics", gin.WrapH(s.rt.Metrics.Handler()))
	s.installDashboard()
}

// installDashboard serves the embedded single-page dashboard, or an external
// directory when the config names one.
func (s *Server) installDashboard() {
	if dir := s.rt.Config.Server.DashboardDir; dir != "" {
		s.engine.Static("/dashboard", dir)
	} else {
		sub, err := fs.Sub(dashboardFS, "dashboard")
		if err != nil {
			s.rt.Logger.Warn("embedded dashboard unavailable", "err", err)
			return
		}
		s.engine.StaticFS("/dashboard", http.FS(sub))
	}
	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/dashboard/")
	})
}

func hasLocalHost(origin string) bool {
	for _, prefix := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
