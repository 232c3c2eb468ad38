package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuhoffm/firecms/internal/dsl"
	"github.com/neuhoffm/firecms/internal/editor"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/reference"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/tree"
)

// ===== META HANDLERS =====

func (s *Server) listSchemas(c *gin.Context) {
	list, err := s.Schemas.ListSchemas(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSchema(c *gin.Context) {
	sc, err := s.Schemas.FindSchema(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) bindSchema(c *gin.Context) (schema.EntitySchema, bool) {
	var sc schema.EntitySchema
	if err := c.ShouldBindJSON(&sc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return sc, false
	}
	sc.ID = strings.TrimSpace(sc.ID)
	sc.Properties = schema.BindBuilders(sc.Properties, s.Builders)
	return sc, true
}

// createSchema: POST /api/meta. Пустой id выводится из имени.
func (s *Server) createSchema(c *gin.Context) {
	ctx := c.Request.Context()
	sc, ok := s.bindSchema(c)
	if !ok {
		return
	}
	if sc.ID == "" {
		sc.ID = schema.Slugify(sc.Name)
	}
	if _, err := s.Schemas.FindSchema(ctx, sc.ID); err == nil {
		c.JSON(http.StatusConflict, gin.H{"errors": []schema.FieldError{{
			Code: schema.ErrUniqueViolation, Field: "id", Message: "Schema '" + sc.ID + "' already exists",
		}}})
		return
	} else if !errors.Is(err, persistence.ErrSchemaNotFound) {
		writeError(c, err)
		return
	}
	saved, err := s.saveSchema(ctx, sc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// updateSchema: PUT /api/meta/:id. id схемы менять нельзя.
func (s *Server) updateSchema(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	sc, ok := s.bindSchema(c)
	if !ok {
		return
	}
	if sc.ID != "" && sc.ID != id {
		writeError(c, schema.FieldError{Code: schema.ErrReadOnly, Field: "id", Message: "id of an existing schema cannot be changed"})
		return
	}
	sc.ID = id
	if _, err := s.Schemas.FindSchema(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	saved, err := s.saveSchema(ctx, sc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) saveSchema(ctx context.Context, sc schema.EntitySchema) (schema.EntitySchema, error) {
	sc = schema.Normalize(sc)
	if err := s.Schemas.SaveSchema(ctx, sc); err != nil {
		return sc, err
	}
	s.schemasChanged(ctx, sc)
	notify.Send(ctx, s.notifier(), notify.Success, sc.ID, "Schema "+sc.Name+" saved")
	return sc, nil
}

// SyncSchemas передаёт хуку текущий список схем реестра.
func (s *Server) SyncSchemas(ctx context.Context) { s.schemasChanged(ctx) }

// schemasChanged передаёт хуку полный список схем реестра.
func (s *Server) schemasChanged(ctx context.Context, changed ...schema.EntitySchema) {
	if s.SchemasChanged == nil {
		return
	}
	all, err := s.Schemas.ListSchemas(ctx)
	if err != nil {
		logger.From(ctx).Error("list schemas failed", "err", err)
		return
	}
	if err := s.SchemasChanged(ctx, all); err != nil {
		ids := make([]string, 0, len(changed))
		for _, sc := range changed {
			ids = append(ids, sc.ID)
		}
		logger.From(ctx).Error("schema change hook failed", "schemas", ids, "err", err)
	}
}

type treeNode struct {
	ID       string          `json:"id"`
	Key      string          `json:"key"`
	DataType schema.DataType `json:"dataType,omitempty"`
	Builder  bool            `json:"builder,omitempty"`
	Children []treeNode      `json:"children,omitempty"`
}

func treeNodes(t tree.Tree, ids []string) []treeNode {
	out := make([]treeNode, 0, len(ids))
	for _, id := range ids {
		it := t.Items[id]
		n := treeNode{ID: id, Key: schema.LastSegment(id)}
		if pb := it.Data.Property; pb != nil {
			n.Builder = pb.IsBuilder()
			if p, ok := pb.Property(); ok {
				n.DataType = p.DataType
			}
		}
		n.Children = treeNodes(t, it.Children)
		out = append(out, n)
	}
	return out
}

// schemaTree: GET /api/meta/:id/tree — дерево свойств для drag-and-drop.
func (s *Server) schemaTree(c *gin.Context) {
	ed, err := editor.New(s.Schemas)
	if err != nil {
		writeError(c, err)
		return
	}
	defer ed.Close()
	if err := ed.Load(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	t := ed.Tree()
	c.JSON(http.StatusOK, gin.H{"rootId": t.RootID, "items": treeNodes(t, t.Items[t.RootID].Children)})
}

type moveReq struct {
	Path    string `json:"path" binding:"required"`
	Parent  string `json:"parent"` // пусто — корень
	Index   *int   `json:"index" binding:"required"`
	Confirm bool   `json:"confirm"`
}

// moveProperty: POST /api/meta/:id/move. Перенос в другого родителя без
// confirm отвечает 409 с текстом предупреждения и ничего не сохраняет.
func (s *Server) moveProperty(c *gin.Context) {
	ctx := c.Request.Context()
	var req moveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}
	ed, err := editor.New(s.Schemas,
		editor.WithNotifier(s.notifier()),
		editor.OnSaved(func(sc schema.EntitySchema) { s.schemasChanged(ctx, sc) }),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	defer ed.Close()
	if err := ed.Load(ctx, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	outcome, err := ed.MoveProperty(req.Path, req.Parent, *req.Index)
	if err != nil {
		writeError(c, err)
		return
	}
	if outcome == editor.MoveNeedsConfirmation {
		if !req.Confirm {
			c.JSON(http.StatusConflict, gin.H{
				"outcome":     outcome,
				"message":     tree.MoveConfirmationText,
				"pendingMove": ed.Snapshot().PendingMove,
			})
			return
		}
		if err := ed.ConfirmMove(); err != nil {
			writeError(c, err)
			return
		}
	}
	if err := ed.Save(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": editor.MoveApplied, "schema": ed.Draft()})
}

// enumValues: GET /api/enums/:name?at=YYYY-MM-DD — действующие значения справочника.
func (s *Server) enumValues(c *gin.Context) {
	at := time.Now()
	if v := c.Query("at"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date", "details": err.Error()})
			return
		}
		at = t
	}
	vals, err := s.Enums().EnumValues(c.Param("name"), at)
	if err != nil {
		writeError(c, fmt.Errorf("%s: %w", c.Param("name"), err))
		return
	}
	c.JSON(http.StatusOK, vals)
}

// Seed пишет схемы в реестр. overwrite=false — только отсутствующие.
// Возвращает число записанных.
func (s *Server) Seed(ctx context.Context, schemas []schema.EntitySchema, overwrite bool) (int, error) {
	n := 0
	for _, sc := range schemas {
		if !overwrite {
			_, err := s.Schemas.FindSchema(ctx, sc.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, persistence.ErrSchemaNotFound) {
				return n, err
			}
		}
		sc.Properties = schema.BindBuilders(sc.Properties, s.Builders)
		if err := s.Schemas.SaveSchema(ctx, schema.Normalize(sc)); err != nil {
			return n, fmt.Errorf("seed schema %s: %w", sc.ID, err)
		}
		n++
	}
	if n > 0 {
		s.schemasChanged(ctx, schemas...)
	}
	return n, nil
}

type reloadReq struct {
	DSLRoot   string `json:"dsl_root"`   // директория с *.dsl
	EnumsRoot string `json:"enums_root"` // директория со справочниками enum
}

// reload: POST /api/admin/reload — перечитать DSL и справочники. Схемы из
// DSL перезаписывают реестр; при блокирующих замечаниях линтера ничего не
// меняется.
func (s *Server) reload(c *gin.Context) {
	ctx := c.Request.Context()
	var req reloadReq
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	dslRoot := strings.TrimSpace(req.DSLRoot)
	if dslRoot == "" {
		dslRoot = s.DSLDir
	}
	enumsRoot := strings.TrimSpace(req.EnumsRoot)
	if enumsRoot == "" {
		enumsRoot = s.EnumsDir
	}

	entities, err := dsl.LoadAllEntities(dslRoot)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "DSL load error", "details": err.Error()})
		return
	}
	enums, err := reference.LoadEnumCatalog(enumsRoot)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Enum load error", "details": err.Error()})
		return
	}
	var blocking, warnings []dsl.Issue
	for _, is := range dsl.Lint(entities) {
		if is.Blocking() {
			blocking = append(blocking, is)
		} else {
			warnings = append(warnings, is)
		}
	}
	if len(blocking) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "schema has blocking issues",
			"issues":  blocking,
			"hint":    "fix DSL and retry",
			"dslRoot": dslRoot, "enumsRoot": enumsRoot,
		})
		return
	}
	schemas, err := dsl.Schemas(entities, enums, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}

	s.SetEnums(enums)
	n, err := s.Seed(ctx, schemas, true)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.From(ctx).Info("dsl reloaded", "schemas", n, "enums", len(enums), "warnings", len(warnings))
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"dslRoot":   dslRoot,
		"enumsRoot": enumsRoot,
		"schemas":   n,
		"enums":     len(enums),
		"warnings":  warnings,
	})
}
