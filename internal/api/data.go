package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/permission"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/table"
)

// collection строит описание коллекции по схеме :collection с фильтром и
// сортировкой из query-строки.
func (s *Server) collection(c *gin.Context) (table.Collection, bool) {
	sc, err := s.Schemas.FindSchema(c.Request.Context(), c.Param("collection"))
	if err != nil {
		writeError(c, err)
		return table.Collection{}, false
	}
	coll := table.Collection{
		Path:          sc.ID,
		Schema:        sc,
		InlineEditing: true,
		PageSize:      s.PageSize,
		Permissions:   s.Perms,
		Exportable:    true,
		Filter:        datasource.ParseConditions(c.Request.URL.Query(), "ids", "multi"),
		Sort:          datasource.ParseSort(c.Query("sort")),
	}
	if n, err := strconv.Atoi(c.Query("pageSize")); err == nil {
		if n <= 0 {
			coll.DisablePagination = true
		} else {
			coll.PageSize = min(n, 1000)
		}
	}
	return coll, true
}

func (s *Server) engine(c *gin.Context, coll table.Collection) (*table.Engine, error) {
	return table.New(s.Data, coll,
		table.WithUser(userFrom(c)),
		table.WithNotifier(s.notifier()),
	)
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ===== LIST / COUNT / EXPORT =====

func (s *Server) list(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	eng, err := s.engine(c, coll)
	if err != nil {
		writeError(c, err)
		return
	}
	defer eng.Close()
	if err := eng.Load(c.Request.Context(), queryInt(c, "page")); err != nil {
		writeError(c, err)
		return
	}
	snap := eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"columns":   snap.Columns,
		"rows":      snap.Rows,
		"total":     snap.Total,
		"page":      snap.Page,
		"pageSize":  snap.PageSize,
		"canCreate": permission.CanCreate(coll.Permissions, userFrom(c), coll.Path, nil),
	})
}

func (s *Server) count(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	n, err := s.Data.CountCollection(c.Request.Context(), coll.Path, coll.Filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// export: GET /api/data/:collection/_export — CSV по фильтру и сортировке.
func (s *Server) export(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	eng, err := s.engine(c, coll)
	if err != nil {
		writeError(c, err)
		return
	}
	defer eng.Close()
	// ids=a,b — экспорт только выбранных записей
	ids := splitIDs(c.Query("ids"))
	for _, id := range ids {
		en, err := s.Data.FetchEntity(c.Request.Context(), coll.Path, id)
		if err != nil {
			writeError(c, err)
			return
		}
		eng.SetSelected(en, true)
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+coll.Path+`.csv"`)
	if err := eng.Export(c.Request.Context(), c.Writer, len(ids) > 0); err != nil {
		// ошибка до первой строки: отвечаем JSON вместо файла
		if !c.Writer.Written() {
			c.Header("Content-Type", "")
			c.Header("Content-Disposition", "")
			writeError(c, err)
		}
	}
}

// ===== CRUD =====

func (s *Server) getOne(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	en, err := s.Data.FetchEntity(c.Request.Context(), coll.Path, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	eng, err := s.engine(c, coll)
	if err != nil {
		writeError(c, err)
		return
	}
	defer eng.Close()
	c.JSON(http.StatusOK, table.Row{Entity: en, Actions: eng.RowActions(en)})
}

type entityReq struct {
	ID     string         `json:"id"`
	Values map[string]any `json:"values" binding:"required"`
}

// uniquePaths — пути всех unique-свойств, включая вложенные в map.
func uniquePaths(props map[string]schema.PropertyOrBuilder, order []string, prefix string) []string {
	var out []string
	for _, k := range schema.OrderedKeys(props, order) {
		p, ok := props[k].Property()
		if !ok {
			continue
		}
		path := schema.JoinPath(prefix, k)
		if p.IsMap() {
			out = append(out, uniquePaths(p.Properties, p.PropertiesOrder, path)...)
			continue
		}
		if p.Unique() {
			out = append(out, path)
		}
	}
	return out
}

// checkUnique собирает все конфликты уникальности одной ошибкой.
func (s *Server) checkUnique(ctx context.Context, coll table.Collection, values map[string]any, exceptID string) error {
	var errs []schema.FieldError
	for _, path := range uniquePaths(coll.Schema.Properties, coll.Schema.PropertiesOrder, "") {
		v, ok := schema.ValueAt(values, path)
		if !ok || v == nil || v == "" {
			continue
		}
		free, err := s.Data.CheckUniqueField(ctx, coll.Path, path, v, exceptID)
		if err != nil {
			return err
		}
		if !free {
			errs = append(errs, schema.FieldError{Code: schema.ErrUniqueViolation, Field: path, Message: "Value for '" + path + "' must be unique"})
		}
	}
	if len(errs) > 0 {
		return &schema.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) save(ctx context.Context, coll table.Collection, req datasource.SaveRequest) (datasource.Entity, error) {
	values, err := schema.ValidateValues(coll.Schema, req.Values)
	if err != nil {
		return datasource.Entity{}, err
	}
	if err := s.checkUnique(ctx, coll, values, req.ID); err != nil {
		return datasource.Entity{}, err
	}
	req.Values = values
	en, err := s.Data.SaveEntity(ctx, req)
	if err != nil {
		notify.Send(ctx, s.notifier(), notify.Error, coll.Path, "Error saving entity: "+err.Error())
		return en, err
	}
	notify.Send(ctx, s.notifier(), notify.Success, coll.Path, "Entity "+en.ID+" saved")
	return en, nil
}

func (s *Server) create(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	var req entityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}
	if !permission.CanCreate(coll.Permissions, userFrom(c), coll.Path, nil) {
		writeError(c, errForbidden)
		return
	}
	en, err := s.save(c.Request.Context(), coll, datasource.SaveRequest{
		Path: coll.Path, ID: req.ID, Values: req.Values, Status: datasource.StatusNew,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, en)
}

// update: PUT — полная замена значений существующей сущности.
func (s *Server) update(c *gin.Context) {
	ctx := c.Request.Context()
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	var req entityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}
	cur, err := s.Data.FetchEntity(ctx, coll.Path, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !permission.CanEdit(coll.Permissions, &cur, userFrom(c), coll.Path, nil) {
		writeError(c, errForbidden)
		return
	}
	en, err := s.save(ctx, coll, datasource.SaveRequest{
		Path: coll.Path, ID: cur.ID, Values: req.Values, Status: datasource.StatusExisting,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, en)
}

type cellReq struct {
	Value any `json:"value"`
}

// commitCell: PATCH /api/data/:collection/:id/cells/:key — inline-правка
// одной ячейки через табличный движок.
func (s *Server) commitCell(c *gin.Context) {
	ctx := c.Request.Context()
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	var req cellReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}
	id, key := c.Param("id"), c.Param("key")
	coll.Filter = []datasource.Condition{{Field: "id", Op: datasource.OpEq, Values: []string{id}}}
	coll.Sort = nil
	eng, err := s.engine(c, coll)
	if err != nil {
		writeError(c, err)
		return
	}
	defer eng.Close()
	known := false
	for _, col := range eng.Columns() {
		known = known || col.Key == key
	}
	if !known {
		writeError(c, table.ErrUnknownColumn)
		return
	}
	if err := eng.Load(ctx, 0); err != nil {
		writeError(c, err)
		return
	}
	if err := eng.CommitCell(ctx, id, key, req.Value); err != nil {
		writeError(c, err)
		return
	}
	v, _ := eng.CellValue(id, key)
	c.JSON(http.StatusOK, gin.H{"cell": eng.CellStatus(id, key), "value": v})
}

// ===== DELETE =====

type deleteItem struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) deleteOne(c *gin.Context) {
	ctx := c.Request.Context()
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	en, err := s.Data.FetchEntity(ctx, coll.Path, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.deleteEntities(c, coll, []datasource.Entity{en})
	if err != nil {
		writeError(c, err)
		return
	}
	if res[0].Err != nil {
		writeError(c, res[0].Err)
		return
	}
	c.Status(http.StatusNoContent)
}

// deleteEntities: запрос на удаление и подтверждение одним шагом. Права
// проверяются на каждую сущность до удаления первой.
func (s *Server) deleteEntities(c *gin.Context, coll table.Collection, list []datasource.Entity) ([]table.DeleteResult, error) {
	eng, err := s.engine(c, coll)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	for _, en := range list {
		eng.SetSelected(en, true)
	}
	if _, err := eng.RequestDeleteSelected(); err != nil {
		return nil, err
	}
	return eng.Confirm(c.Request.Context())
}

type bulkDeleteReq struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// bulkDelete: POST /api/data/:collection/_bulk_delete {ids}. Ответ 207 с
// итогом по каждому id.
func (s *Server) bulkDelete(c *gin.Context) {
	ctx := c.Request.Context()
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	var req bulkDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}

	out := make([]deleteItem, len(req.IDs))
	var found []datasource.Entity
	pos := make(map[string]int, len(req.IDs))
	for i, id := range req.IDs {
		out[i].ID = id
		en, err := s.Data.FetchEntity(ctx, coll.Path, id)
		if err != nil {
			out[i].Code, out[i].Error = itemCode(err), err.Error()
			continue
		}
		if _, dup := pos[id]; dup {
			out[i].Code, out[i].Error = "duplicate", "id repeated in request"
			continue
		}
		pos[id] = i
		found = append(found, en)
	}
	if len(found) > 0 {
		res, err := s.deleteEntities(c, coll, found)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, r := range res {
			i := pos[r.Entity.ID]
			if r.Err != nil {
				out[i].Code, out[i].Error = itemCode(r.Err), r.Err.Error()
				continue
			}
			out[i].OK = true
		}
	}
	c.JSON(http.StatusMultiStatus, gin.H{"results": out})
}

func itemCode(err error) string {
	if errors.Is(err, datasource.ErrNotFound) {
		return schema.ErrNotFound
	}
	return "error"
}
