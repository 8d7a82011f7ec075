package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dotcommander/lerim/internal/actions"
	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/pipeline"
	"github.com/dotcommander/lerim/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.rt.Version})
}

func (s *Server) handleStatus(c *gin.Context) {
	report, err := actions.Status(s.rt)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRuns(c *gin.Context) {
	opts := store.ListOptions{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}
	if agent := c.Query("agent_type"); agent != "" {
		opts.AgentTypes = []string{agent}
	}
	opts.Since, opts.Until = scopeWindow(c)

	runs, total, err := store.ListWindow(s.rt.Sessions, opts)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": total})
}

func (s *Server) handleRunsStats(c *gin.Context) {
	since, until := scopeWindow(c)
	stats, err := store.StatsWindow(s.rt.Sessions, c.Query("agent_type"), since, until)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRunMessages(c *gin.Context) {
	runID := c.Param("id")

	rec, err := store.FetchSession(s.rt.Sessions, runID)
	if err != nil {
		abortErr(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}

	cacheKey := runID + "@" + rec.ContentHash
	if vs, ok := s.viewer.Get(cacheKey); ok {
		c.JSON(http.StatusOK, vs)
		return
	}

	adapter, err := s.rt.Adapters.Lookup(rec.AgentType)
	if err != nil {
		abortErr(c, err)
		return
	}
	vs, err := adapter.ReadSession(rec.SessionPath, runID)
	if err != nil {
		abortErr(c, err)
		return
	}
	s.viewer.Add(cacheKey, vs)
	c.JSON(http.StatusOK, vs)
}

func (s *Server) handleSearch(c *gin.Context) {
	opts := store.SearchOptions{
		Query:     c.Query("query"),
		AgentType: c.Query("agent_type"),
		Status:    c.Query("status"),
		Repo:      c.Query("repo"),
		Limit:     intQuery(c, "limit", 20),
		Offset:    intQuery(c, "offset", 0),
	}
	opts.Since, opts.Until = scopeWindow(c)
	results, total, err := store.SearchSessions(s.rt.Sessions, opts)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": total})
}

func (s *Server) handleMemories(c *gin.Context) {
	opts := memory.ListOptions{
		State: c.DefaultQuery("state", "active"),
		Limit: intQuery(c, "limit", 0),
	}
	if p := c.Query("type"); p != "" {
		opts.Primitive = models.Primitive(p)
	}

	var (
		entries []memory.Entry
		err     error
	)
	if q := c.Query("query"); q != "" {
		entries, err = memory.Search(s.rt.Layout.MemoryRoot(), q, opts)
	} else {
		entries, err = memory.List(s.rt.Layout.MemoryRoot(), opts)
	}
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": entries, "total": len(entries)})
}

func (s *Server) handleMemory(c *gin.Context) {
	entry, err := memory.Get(s.rt.Layout.MemoryRoot(), c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown memory"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleConnectList(c *gin.Context) {
	platforms, err := actions.ConnectList(s.rt)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platforms": platforms})
}

func (s *Server) handleConnect(c *gin.Context) {
	var req struct {
		Platform string `json:"platform" binding:"required"`
		Path     string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	platform, err := actions.Connect(s.rt, req.Platform, req.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, platform)
}

func (s *Server) handleProjectAdd(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := actions.ProjectAdd(s.rt, req.Path)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleProjectRemove(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := actions.ProjectRemove(s.rt, req.Name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": req.Name})
}

func (s *Server) handleChat(c *gin.Context) {
	var req struct {
		Question string `json:"question" binding:"required"`
		Limit    int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orch, err := s.rt.Orchestrator()
	if err != nil {
		abortErr(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), chatTimeout)
	defer cancel()

	answer, err := orch.Chat(ctx, req.Question, req.Limit)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// handleSyncStart launches a sync cycle in the background. Handlers never
// block on the LLM; the writer lock serializes concurrent requests.
func (s *Server) handleSyncStart(c *gin.Context) {
	var req struct {
		RunID       string `json:"run_id"`
		Agent       string `json:"agent"`
		Window      string `json:"window"`
		MaxSessions int    `json:"max_sessions"`
		Force       bool   `json:"force"`
		DryRun      bool   `json:"dry_run"`
	}
	_ = c.ShouldBindJSON(&req) // empty body is a plain cycle

	opts := pipeline.SyncOptions{
		RunID:       req.RunID,
		Window:      req.Window,
		MaxSessions: req.MaxSessions,
		Force:       req.Force,
		DryRun:      req.DryRun,
		Trigger:     "api",
	}
	if req.Agent != "" {
		opts.Platforms = []string{req.Agent}
	}

	jobID := uuid.NewString()
	go func() {
		if _, err := pipeline.Sync(context.Background(), s.rt, opts); err != nil {
			s.rt.Logger.Warn("background sync failed", "job_id", jobID, "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job_id": jobID})
}

func (s *Server) handleMaintainStart(c *gin.Context) {
	var req struct {
		Force  bool `json:"force"`
		DryRun bool `json:"dry_run"`
	}
	_ = c.ShouldBindJSON(&req)

	jobID := uuid.NewString()
	go func() {
		_, err := pipeline.Maintain(context.Background(), s.rt, pipeline.MaintainOptions{
			DryRun:     req.DryRun,
			IgnoreLock: req.Force,
			Trigger:    "api",
		})
		if err != nil {
			s.rt.Logger.Warn("background maintain failed", "job_id", jobID, "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job_id": jobID})
}

func (s *Server) handleConfigGet(c *gin.Context) {
	// The resolved tree is safe to serve whole: keys never live in config.
	c.JSON(http.StatusOK, s.rt.Config)
}

func (s *Server) handleConfigPatch(c *gin.Context) {
	var req struct {
		Patch map[string]any `json:"patch" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.PatchUserConfig(s.rt.Layout.ConfigPath(), req.Patch); err != nil {
		abortErr(c, err)
		return
	}
	// The file is the source of truth; the running process keeps its loaded
	// tree until restart.
	c.JSON(http.StatusOK, gin.H{"updated": true, "path": s.rt.Layout.ConfigPath()})
}

func abortErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func timeQuery(c *gin.Context, key string) *time.Time {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// scopeWindow resolves the since/until bounds for the list endpoints. The
// scope keyword (today|week|month|all) wins; explicit since/until RFC 3339
// params apply when scope is absent or "all".
func scopeWindow(c *gin.Context) (*time.Time, *time.Time) {
	var since time.Time
	now := time.Now().UTC()
	switch c.Query("scope") {
	case "today":
		since = now.Truncate(24 * time.Hour)
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	default:
		return timeQuery(c, "since"), timeQuery(c, "until")
	}
	return &since, nil
}
