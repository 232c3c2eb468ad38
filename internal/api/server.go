// Package api — HTTP-поверхность админки: реестр схем, данные коллекций,
// выбор ссылок и файлы.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/metrics"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/permission"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/reference"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/storage"
)

// Server держит зависимости обработчиков. Коллекция данных адресуется
// id схемы.
type Server struct {
	Schemas  persistence.ConfigurationPersistence
	Data     datasource.DataSource
	Files    *storage.Uploader
	Notifier notify.Notifier
	Perms    permission.Source
	Builders map[string]*schema.Builder
	PageSize int
	DSLDir   string
	EnumsDir string
	// SchemasChanged зовётся после записи схем в реестр (индексы БД и т.п.).
	SchemasChanged func(ctx context.Context, schemas []schema.EntitySchema) error

	mu    sync.RWMutex
	enums reference.Catalog
}

func (s *Server) SetEnums(c reference.Catalog) {
	s.mu.Lock()
	s.enums = c
	s.mu.Unlock()
}

func (s *Server) Enums() reference.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enums
}

func (s *Server) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Discard
	}
	return s.Notifier
}

// userFrom: X-User — uid, X-Roles — роли через запятую. Без X-User — аноним.
func userFrom(c *gin.Context) *permission.User {
	uid := strings.TrimSpace(c.GetHeader("X-User"))
	if uid == "" {
		return nil
	}
	u := &permission.User{UID: uid}
	for _, r := range strings.Split(c.GetHeader("X-Roles"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			u.Roles = append(u.Roles, r)
		}
	}
	return u
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.From(c.Request.Context()).Debug("http request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), metrics.Middleware())

	r.GET("/metrics", metrics.Handler())
	r.GET("/healthz", func(c *gin.Context) {
		if !s.Schemas.Initialised() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/files/*key", s.serveFile)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", s.listSchemas)
		apiGroup.POST("/meta", s.createSchema)
		apiGroup.GET("/meta/:id", s.getSchema)
		apiGroup.PUT("/meta/:id", s.updateSchema)
		apiGroup.GET("/meta/:id/tree", s.schemaTree)
		apiGroup.POST("/meta/:id/move", s.moveProperty)
		apiGroup.GET("/enums/:name", s.enumValues)
		apiGroup.POST("/admin/reload", s.reload)

		// служебные маршруты коллекции — раньше /:id
		apiGroup.GET("/data/:collection/_count", s.count)
		apiGroup.GET("/data/:collection/_export", s.export)
		apiGroup.POST("/data/:collection/_bulk_delete", s.bulkDelete)

		apiGroup.GET("/data/:collection", s.list)
		apiGroup.POST("/data/:collection", s.create)
		apiGroup.GET("/data/:collection/:id", s.getOne)
		apiGroup.PUT("/data/:collection/:id", s.update)
		apiGroup.DELETE("/data/:collection/:id", s.deleteOne)
		apiGroup.PATCH("/data/:collection/:id/cells/:key", s.commitCell)

		apiGroup.GET("/references/:collection", s.references)
		apiGroup.POST("/references/:collection/_toggle", s.toggleReference)

		apiGroup.POST("/files", s.uploadFile)
		apiGroup.GET("/files/url", s.fileURL)
	}
	return r
}

// RunServer слушает addr до отмены ctx, затем ждёт активные запросы не
// дольше grace.
func RunServer(ctx context.Context, addr string, h http.Handler, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.From(ctx).Info("http server started", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.From(ctx).Info("http server stopped")
	return nil
}
