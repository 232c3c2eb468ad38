package table

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/metrics"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/permission"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/selection"
)

var (
	ErrNoDataSource  = errors.New("table: data source is required")
	ErrNotEditable   = errors.New("cell is not editable")
	ErrUnknownRow    = errors.New("row is not loaded")
	ErrUnknownColumn = errors.New("unknown column")
	ErrNotDeletable  = errors.New("entity cannot be deleted")
	ErrNoPending     = errors.New("no pending delete request")
	ErrClosed        = errors.New("table is closed")
)

type CellState string

const (
	CellIdle    CellState = ""
	CellPending CellState = "pending"
	CellSaved   CellState = "saved"
	CellError   CellState = "error"
)

type CellStatus struct {
	ID    string    `json:"id"`
	Key   string    `json:"key"`
	State CellState `json:"state"`
	Err   string    `json:"error,omitempty"`
}

type cellKey struct{ id, key string }

type RowActions struct {
	Copy   bool `json:"copy"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

type BulkActions struct {
	Delete bool `json:"delete"`
	Export bool `json:"export"`
}

type Row struct {
	Entity   datasource.Entity `json:"entity"`
	Selected bool              `json:"selected"`
	Actions  RowActions        `json:"actions"`
}

// Snapshot — неизменяемый срез состояния для отрисовки.
type Snapshot struct {
	Columns  []Column            `json:"columns"`
	Rows     []Row               `json:"rows"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	Loading  bool                `json:"loading"`
	LoadErr  string              `json:"loadError,omitempty"`
	Cells    []CellStatus        `json:"cells,omitempty"`
	Selected []datasource.Entity `json:"selected"`
	Bulk     BulkActions         `json:"bulk"`
	Pending  *DeleteRequest      `json:"pendingDelete,omitempty"`
}

type Option func(*Engine)

func WithUser(u *permission.User) Option { return func(e *Engine) { e.user = u } }

func WithEnv(env permission.Env) Option { return func(e *Engine) { e.env = env } }

func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithConcurrency ограничивает число одновременных удалений.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

type Engine struct {
	ds       datasource.DataSource
	coll     Collection
	columns  []Column
	user     *permission.User
	env      permission.Env
	notifier notify.Notifier

	concurrency int

	mu      sync.Mutex
	rows    []datasource.Entity
	saved   map[string]map[string]any // id -> последние сохранённые значения
	cells   map[cellKey]CellStatus
	cellSeq map[cellKey]uint64
	sel     *selection.Set
	total   int
	page    int
	loading bool
	loadErr error
	loadGen uint64
	pending *DeleteRequest
	closed  bool
	subs    map[int]func(Snapshot)
	nextSub int
}

func New(ds datasource.DataSource, coll Collection, opts ...Option) (*Engine, error) {
	if ds == nil {
		return nil, ErrNoDataSource
	}
	e := &Engine{
		ds:          ds,
		coll:        coll,
		columns:     coll.Columns(),
		notifier:    notify.Discard,
		concurrency: 4,
		saved:       make(map[string]map[string]any),
		cells:       make(map[cellKey]CellStatus),
		cellSeq:     make(map[cellKey]uint64),
		sel:         selection.New(),
		subs:        make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Collection() Collection { return e.coll }

func (e *Engine) Columns() []Column { return slices.Clone(e.columns) }

func (e *Engine) column(key string) (Column, bool) {
	for _, c := range e.columns {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

// Load грузит страницу и общее число записей. Результат, пришедший после
// Close или более свежего Load, отбрасывается.
func (e *Engine) Load(ctx context.Context, page int) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.loadGen++
	gen := e.loadGen
	e.loading = true
	e.mu.Unlock()
	e.emit()

	q := datasource.Query{
		Page:     max(page, 0),
		PageSize: e.coll.pageSize(),
		Filter:   e.coll.Filter,
		Sort:     e.coll.Sort,
	}
	var (
		rows  []datasource.Entity
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = e.ds.FetchCollection(gctx, e.coll.Path, q)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.ds.CountCollection(gctx, e.coll.Path, e.coll.Filter)
		return err
	})
	err := g.Wait()

	e.mu.Lock()
	if e.closed || gen != e.loadGen {
		e.mu.Unlock()
		return nil
	}
	e.loading = false
	e.loadErr = err
	if err == nil {
		e.rows, e.total, e.page = rows, total, q.Page
		clear(e.saved)
		clear(e.cells)
		for _, r := range rows {
			e.saved[r.ID] = maps.Clone(r.Values)
		}
	}
	e.mu.Unlock()
	e.emit()
	if err != nil {
		logger.From(ctx).Error("collection load failed", "path", e.coll.Path, "err", err)
		return fmt.Errorf("load %s: %w", e.coll.Path, err)
	}
	return nil
}

func (e *Engine) rowIndex(id string) int {
	return slices.IndexFunc(e.rows, func(r datasource.Entity) bool { return r.ID == id })
}

func (e *Engine) canEdit(row datasource.Entity) bool {
	return permission.CanEdit(e.coll.Permissions, &row, e.user, e.coll.Path, e.env)
}

func (e *Engine) actions(row datasource.Entity) RowActions {
	return RowActions{
		Copy:   permission.CanCreate(e.coll.Permissions, e.user, e.coll.Path, e.env),
		Edit:   e.canEdit(row),
		Delete: permission.CanDelete(e.coll.Permissions, &row, e.user, e.coll.Path, e.env),
	}
}

// RowActions — действия строки с учётом прав на конкретную сущность.
func (e *Engine) RowActions(row datasource.Entity) RowActions { return e.actions(row) }

func (e *Engine) editableLocked(id, key string) (datasource.Entity, Column, bool) {
	i := e.rowIndex(id)
	if i < 0 {
		return datasource.Entity{}, Column{}, false
	}
	col, ok := e.column(key)
	if !ok || col.Kind != KindProperty || !col.Writable || !e.coll.InlineEditing {
		return e.rows[i], col, false
	}
	return e.rows[i], col, e.canEdit(e.rows[i])
}

func (e *Engine) CanEditCell(id, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _, ok := e.editableLocked(id, key)
	return ok
}

// CellValue — видимое значение ячейки.
func (e *Engine) CellValue(id, key string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.rowIndex(id)
	if i < 0 {
		return nil, ErrUnknownRow
	}
	col, ok := e.column(key)
	if !ok {
		return nil, ErrUnknownColumn
	}
	return col.Value(e.rows[i]), nil
}

func (e *Engine) CellStatus(id, key string) CellStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.cells[cellKey{id, key}]; ok {
		return st
	}
	return CellStatus{ID: id, Key: key}
}

// CommitCell проверяет значение, при необходимости уникальность, обновляет
// видимую строку и сохраняет запись целиком. Ошибка сохранения не
// откатывает видимое значение: ячейка переходит в CellError.
func (e *Engine) CommitCell(ctx context.Context, id, key string, value any) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	row, col, ok := e.editableLocked(id, key)
	e.mu.Unlock()
	if row.ID == "" {
		return ErrUnknownRow
	}
	if !ok {
		metrics.CellCommits.WithLabelValues(e.coll.Path, "rejected").Inc()
		return ErrNotEditable
	}
	prop, _ := e.coll.Schema.Properties[key].Property()

	norm, err := schema.ValidateValue(key, prop, value)
	if err != nil {
		metrics.CellCommits.WithLabelValues(e.coll.Path, "rejected").Inc()
		return err
	}
	if col.Unique && norm != nil {
		free, err := e.ds.CheckUniqueField(ctx, e.coll.Path, key, norm, id)
		if err != nil {
			return fmt.Errorf("check unique %s.%s: %w", e.coll.Path, key, err)
		}
		if !free {
			metrics.CellCommits.WithLabelValues(e.coll.Path, "rejected").Inc()
			return schema.FieldError{Code: schema.ErrUniqueViolation, Field: key, Message: "Value for '" + key + "' must be unique"}
		}
	}

	ck := cellKey{id, key}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	i := e.rowIndex(id)
	if i < 0 {
		e.mu.Unlock()
		return ErrUnknownRow
	}
	e.rows[i].Values = schema.WithValueAt(e.rows[i].Values, key, norm)
	e.cellSeq[ck]++
	seq := e.cellSeq[ck]
	e.cells[ck] = CellStatus{ID: id, Key: key, State: CellPending}
	// в запись уходят сохранённые значения и правки, которые ещё в пути;
	// значения ячеек с ошибкой сохранения не отправляются
	carried := e.pendingLocked(id)
	values := maps.Clone(e.saved[id])
	if values == nil {
		values = map[string]any{}
	}
	for k, v := range carried {
		values[k] = v
	}
	for _, s := range e.sel.Items() {
		if s.ID == id && s.Path == e.rows[i].Path {
			e.sel.Add(e.rows[i])
		}
	}
	e.mu.Unlock()
	e.emit()

	_, err = e.ds.SaveEntity(ctx, datasource.SaveRequest{
		Path: e.coll.Path, ID: id, Values: values, Status: datasource.StatusExisting,
	})
	metrics.CellCommits.WithLabelValues(e.coll.Path, saveResult(err)).Inc()

	e.mu.Lock()
	// более поздняя правка той же ячейки или размонтирование
	if e.closed || e.cellSeq[ck] != seq {
		e.mu.Unlock()
		return err
	}
	switch {
	case err == nil:
		e.cells[ck] = CellStatus{ID: id, Key: key, State: CellSaved}
		saved := maps.Clone(e.saved[id])
		if saved == nil {
			saved = map[string]any{}
		}
		for k, v := range carried {
			saved[k] = v
		}
		e.saved[id] = saved
	case e.savedLocked(id, key, norm):
		// значение уже записано сохранением соседней ячейки
		e.cells[ck] = CellStatus{ID: id, Key: key, State: CellSaved}
		err = nil
	default:
		e.cells[ck] = CellStatus{ID: id, Key: key, State: CellError, Err: err.Error()}
	}
	e.mu.Unlock()
	e.emit()

	if err != nil {
		logger.From(ctx).Warn("cell save failed", "path", e.coll.Path, "id", id, "key", key, "err", err)
		notify.Send(ctx, e.notifier, notify.Error, e.coll.Path, "Error saving "+key+": "+err.Error())
		return fmt.Errorf("save %s/%s: %w", e.coll.Path, id, err)
	}
	return nil
}

// pendingLocked — видимые значения ячеек строки в состоянии CellPending.
func (e *Engine) pendingLocked(id string) map[string]any {
	i := e.rowIndex(id)
	out := map[string]any{}
	for ck, st := range e.cells {
		if ck.id != id || st.State != CellPending {
			continue
		}
		if v, ok := e.rows[i].Values[ck.key]; ok {
			out[ck.key] = v
		} else {
			out[ck.key] = nil
		}
	}
	return out
}

func (e *Engine) savedLocked(id, key string, v any) bool {
	got, ok := e.saved[id][key]
	return ok && reflect.DeepEqual(got, v)
}

// RevertCell возвращает последнее сохранённое значение ячейки.
func (e *Engine) RevertCell(id, key string) error {
	e.mu.Lock()
	i := e.rowIndex(id)
	if i < 0 {
		e.mu.Unlock()
		return ErrUnknownRow
	}
	ck := cellKey{id, key}
	values := maps.Clone(e.rows[i].Values)
	if v, ok := e.saved[id][key]; ok {
		values[key] = v
	} else {
		delete(values, key)
	}
	e.rows[i].Values = values
	e.cellSeq[ck]++
	delete(e.cells, ck)
	e.mu.Unlock()
	e.emit()
	return nil
}

// RetryCell повторно отправляет видимое значение ячейки.
func (e *Engine) RetryCell(ctx context.Context, id, key string) error {
	v, err := e.CellValue(id, key)
	if err != nil {
		return err
	}
	return e.CommitCell(ctx, id, key, v)
}

func (e *Engine) entityLocked(en datasource.Entity) datasource.Entity {
	if i := e.rowIndex(en.ID); i >= 0 && e.rows[i].Path == en.Path {
		return e.rows[i]
	}
	return en
}

// ToggleSelection возвращает true, если сущность теперь выбрана.
func (e *Engine) ToggleSelection(en datasource.Entity) bool {
	e.mu.Lock()
	on := e.sel.Toggle(e.entityLocked(en))
	e.mu.Unlock()
	e.emit()
	return on
}

func (e *Engine) SetSelected(en datasource.Entity, on bool) {
	e.mu.Lock()
	if on {
		e.sel.Add(e.entityLocked(en))
	} else {
		e.sel.Remove(en)
	}
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) ClearSelection() {
	e.mu.Lock()
	e.sel.Clear()
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) Selected() []datasource.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.Items()
}

func (e *Engine) bulkLocked() BulkActions {
	items := e.sel.Items()
	del := len(items) > 0
	for _, it := range items {
		if !permission.CanDelete(e.coll.Permissions, &it, e.user, e.coll.Path, e.env) {
			del = false
			break
		}
	}
	return BulkActions{Delete: del, Export: e.coll.Exportable}
}

// BulkActions: удаление доступно, только если каждую выбранную сущность
// можно удалить.
func (e *Engine) BulkActions() BulkActions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bulkLocked()
}

// Subscribe вызывает fn на каждое изменение состояния.
func (e *Engine) Subscribe(fn func(Snapshot)) (cancel func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	rows := make([]Row, 0, len(e.rows))
	for _, r := range e.rows {
		rows = append(rows, Row{Entity: r.Clone(), Selected: e.sel.Contains(r), Actions: e.actions(r)})
	}
	cells := make([]CellStatus, 0, len(e.cells))
	for _, c := range e.cells {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, func(a, b CellStatus) int {
		if a.ID != b.ID {
			return cmp.Compare(a.ID, b.ID)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	snap := Snapshot{
		Columns:  slices.Clone(e.columns),
		Rows:     rows,
		Total:    e.total,
		Page:     e.page,
		PageSize: e.coll.pageSize(),
		Loading:  e.loading,
		Cells:    cells,
		Selected: e.sel.Items(),
		Bulk:     e.bulkLocked(),
	}
	if e.loadErr != nil {
		snap.LoadErr = e.loadErr.Error()
	}
	if e.pending != nil {
		p := *e.pending
		snap.Pending = &p
	}
	return snap
}

func saveResult(err error) string {
	if err != nil {
		return "error"
	}
	return "saved"
}

func (e *Engine) emit() {
	e.mu.Lock()
	if e.closed || len(e.subs) == 0 {
		e.mu.Unlock()
		return
	}
	snap := e.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// Close отключает подписчиков; запоздавшие результаты отбрасываются.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	clear(e.subs)
}
