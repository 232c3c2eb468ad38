package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/refdialog"
)

func splitIDs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// references: GET /api/references/:collection?ids=a,b&multi=true&page=0 —
// уже выбранные записи и страница кандидатов. Остальные параметры — фильтр.
func (s *Server) references(c *gin.Context) {
	ctx := c.Request.Context()
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	multi := c.Query("multi") == "true"
	d, err := refdialog.New(s.Data, refdialog.Config{
		Path:       coll.Path,
		Multi:      multi,
		Filter:     coll.Filter,
		Sort:       coll.Sort,
		PageSize:   coll.PageSize,
		InitialIDs: splitIDs(c.Query("ids")),
		OnSingle:   func(*datasource.Entity) {},
		OnMulti:    func([]datasource.Entity) {},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer d.Close()
	if err := d.Open(ctx); err != nil {
		writeError(c, err)
		return
	}
	rows, err := d.Rows(ctx, queryInt(c, "page"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"multi": multi, "selected": d.Selected(), "rows": rows})
}

type toggleReq struct {
	Selected []string `json:"selected"`
	ID       string   `json:"id" binding:"required"`
	Multi    bool     `json:"multi"`
}

// toggleReference: POST /api/references/:collection/_toggle — клик по записи
// в диалоге. Одиночный режим отдаёт выбранную запись, множественный —
// новый набор.
func (s *Server) toggleReference(c *gin.Context) {
	ctx := c.Request.Context()
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	var req toggleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}
	en, err := s.Data.FetchEntity(ctx, coll.Path, req.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	var (
		single *datasource.Entity
		set    = []datasource.Entity{}
	)
	d, err := refdialog.New(s.Data, refdialog.Config{
		Path:       coll.Path,
		Multi:      req.Multi,
		Filter:     coll.Filter,
		InitialIDs: req.Selected,
		OnSingle:   func(e *datasource.Entity) { single = e },
		OnMulti:    func(es []datasource.Entity) { set = es },
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer d.Close()
	if err := d.Open(ctx); err != nil {
		writeError(c, err)
		return
	}
	if err := d.Click(en); err != nil {
		writeError(c, err)
		return
	}
	if req.Multi {
		c.JSON(http.StatusOK, gin.H{"selected": set})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": single})
}
