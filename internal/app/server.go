package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kimhsiao/crafttrack/internal/config"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
	syncpkg "github.com/kimhsiao/crafttrack/internal/sync"
)

const shutdownTimeout = 10 * time.Second

// Router exposes status, sync and read-only record endpoints plus the event
// stream for a local UI.
func (a *App) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", gin.WrapH(a.Hub))

	api := r.Group("/api")
	{
		api.GET("/health", a.handleHealth)
		api.GET("/status", a.handleStatus)
		api.POST("/sync", a.handleSync)
		api.GET("/records/:kind", a.handleList)
		api.GET("/records/:kind/:id", a.handleGet)
		api.GET("/pending/:kind", a.handlePending)
	}
	return r
}

func (a *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (a *App) handleStatus(c *gin.Context) {
	st, err := a.Status(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (a *App) handleSync(c *gin.Context) {
	res, err := a.Sync(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResultSummary(res))
}

func (a *App) handleList(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	var list []models.Entity
	if project := c.Query("project"); project != "" {
		list, err = a.Gateway.ListByProject(c.Request.Context(), kind, project)
	} else {
		list, err = a.Gateway.List(c.Request.Context(), kind)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "count": len(list)})
}

func (a *App) handleGet(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := a.Gateway.Get(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (a *App) handlePending(c *gin.Context) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := a.Inspector.Pending(c.Request.Context(), kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "count": len(list)})
}

// ResultSummary flattens a pass result for JSON output.
func ResultSummary(r *syncpkg.SyncResult) gin.H {
	return gin.H{
		"skipped":     r.Skipped,
		"success":     r.Success,
		"pushed":      r.Pushed,
		"pulled":      r.Pulled,
		"deleted":     r.Deleted,
		"deferred":    r.Deferred,
		"kept":        r.Kept,
		"suppressed":  r.Suppressed,
		"pruned":      r.Pruned,
		"invalid":     r.Invalid,
		"errors":      r.Errors,
		"duration_ms": r.Duration.Milliseconds(),
	}
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrInvalid, errors.ErrValidation:
		return http.StatusBadRequest
	case errors.ErrSyncNotConfigured:
		return http.StatusConflict
	case errors.ErrNetworkUnreachable, errors.ErrStorageUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	c.JSON(statusFor(code), gin.H{"error": err.Error(), "code": code})
}

// Serve runs the trigger layer and the local server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if a.SyncConfigured() {
		a.Monitor.Start(ctx)
		a.Scheduler.Start(ctx)
	}
	if err := a.Backup.Start(ctx); err != nil {
		logging.Warn("Backup scheduler not started", map[string]interface{}{"error": err.Error()})
	}
	if err := a.Config.Watch(ctx, a.onConfigChange(ctx)); err != nil {
		logging.Warn("Config watch unavailable", map[string]interface{}{"error": err.Error()})
	}

	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// onConfigChange fires a pass when the sync toggle is switched on while the
// server runs.
func (a *App) onConfigChange(ctx context.Context) func(*config.Config) {
	enabled := a.Config.SyncEnabled()
	return func(cfg *config.Config) {
		now := cfg.SyncEnabled()
		was := enabled
		enabled = now
		if now == was {
			return
		}
		logging.Info("Cloud sync setting changed", map[string]interface{}{"enabled": now})
		if now && a.SyncConfigured() {
			a.Scheduler.TriggerSync(ctx)
		}
	}
}
