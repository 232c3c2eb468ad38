// Package editor — контроллер формы редактора схемы. Черновик схемы меняется
// только через методы контроллера; наружу уходят неизменяемые снимки.
package editor

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/neuhoffm/firecms/internal/debounce"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/tree"
)

var (
	ErrNoPersistence   = errors.New("editor: configuration persistence is required")
	ErrNotReady        = errors.New("schema registry is not initialised")
	ErrIDImmutable     = errors.New("id of an existing schema cannot be changed")
	ErrBuilderReadOnly = errors.New("builder properties are read-only")
	ErrNoPropertyForm  = errors.New("property form is not open")
	ErrNoPendingMove   = errors.New("no move waiting for confirmation")
	ErrNoDraft         = errors.New("no schema loaded")
	ErrClosed          = errors.New("editor is closed")
)

type FormMode string

const (
	FormNew  FormMode = "new"
	FormEdit FormMode = "edit"
)

// PropertyForm — открытая под-форма свойства.
type PropertyForm struct {
	Mode FormMode `json:"mode"`
	// Parent — map-свойство, куда добавляется новое ("" — корень).
	Parent   string          `json:"parent,omitempty"`
	Path     string          `json:"path,omitempty"`
	Property schema.Property `json:"property"`
}

type Option func(*Controller)

// WithAutoSubmit включает автосохранение после паузы window (0 — 300ms).
func WithAutoSubmit(window time.Duration) Option {
	return func(c *Controller) {
		c.autoSubmit = true
		c.window = window
	}
}

func WithClock(clock debounce.Clock) Option { return func(c *Controller) { c.clock = clock } }

func WithNotifier(n notify.Notifier) Option { return func(c *Controller) { c.notifier = n } }

// OnSaved вызывается с сохранённой схемой после успешного Save.
func OnSaved(fn func(schema.EntitySchema)) Option { return func(c *Controller) { c.onSaved = fn } }

type Controller struct {
	store      persistence.ConfigurationPersistence
	notifier   notify.Notifier
	onSaved    func(schema.EntitySchema)
	autoSubmit bool
	window     time.Duration
	clock      debounce.Clock
	deb        *debounce.Debouncer

	mu            sync.Mutex
	loaded        bool
	draft         schema.EntitySchema
	original      schema.EntitySchema
	lastSubmitted *schema.EntitySchema
	isNew         bool
	persisted     bool // хотя бы одно сохранение в реестре
	idTouched     bool
	form          *PropertyForm
	selected      string
	width         int
	pendingMove   *PendingMove
	errs          []schema.FieldError
	saving        bool
	closed        bool

	// кэш дерева и то, из чего оно построено
	tr         tree.Tree
	treeProps  map[string]schema.PropertyOrBuilder
	treeOrder  []string
	treeValid  bool
	treeBuilds int

	subs map[int]func(Snapshot)
	next int
}

func New(store persistence.ConfigurationPersistence, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, ErrNoPersistence
	}
	c := &Controller{
		store:    store,
		notifier: notify.Discard,
		width:    WideBreakpoint,
		subs:     make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.autoSubmit {
		c.deb = debounce.New(c.window, c.autoSave, c.clock)
	}
	return c, nil
}

func emptySchema() schema.EntitySchema {
	return schema.EntitySchema{Properties: map[string]schema.PropertyOrBuilder{}, PropertiesOrder: []string{}}
}

// NewSchema начинает черновик новой схемы.
func (c *Controller) NewSchema() {
	c.mu.Lock()
	c.reset(emptySchema(), true)
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) reset(s schema.EntitySchema, isNew bool) {
	c.loaded = true
	c.draft = s.Clone()
	c.original = s.Clone()
	c.lastSubmitted = nil
	c.isNew = isNew
	c.persisted = !isNew
	c.idTouched = false
	c.form = nil
	c.selected = ""
	c.pendingMove = nil
	c.errs = nil
	c.treeValid = false
	if c.deb != nil {
		c.deb.Cancel()
	}
}

// changedLocked — общая точка после любой правки черновика.
func (c *Controller) changedLocked() {
	if c.deb != nil {
		c.deb.Trigger()
	}
}

func (c *Controller) guard() error {
	if c.closed {
		return ErrClosed
	}
	if !c.loaded {
		return ErrNoDraft
	}
	return nil
}

// SetName меняет имя; для новой схемы с нетронутым id выводит id из имени.
func (c *Controller) SetName(name string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft.Name = name
	if c.isNew && !c.idTouched {
		c.draft.ID = schema.Slugify(name)
	}
	c.changedLocked()
	c.mu.Unlock()
	c.emit()
	return nil
}

// SetID — ручная правка id. После неё автовывод из имени отключается
// до конца сессии.
func (c *Controller) SetID(id string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.isNew {
		c.mu.Unlock()
		return ErrIDImmutable
	}
	c.idTouched = true
	c.draft.ID = id
	c.changedLocked()
	c.mu.Unlock()
	c.emit()
	return nil
}

func (c *Controller) SetDescription(d string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft.Description = d
	c.changedLocked()
	c.mu.Unlock()
	c.emit()
	return nil
}

// Draft — копия текущего черновика.
func (c *Controller) Draft() schema.EntitySchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Clone()
}

func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && !c.draft.Equal(c.original)
}

// Tree возвращает производное дерево; перестраивается только при
// изменении свойств или порядка.
func (c *Controller) Tree() tree.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.treeLocked()
}

func (c *Controller) treeLocked() tree.Tree {
	if c.treeValid && slices.Equal(c.treeOrder, c.draft.PropertiesOrder) &&
		schema.PropertiesEqual(c.treeProps, c.draft.Properties) {
		return c.tr
	}
	c.tr = tree.ToTree(c.draft.Properties, c.draft.PropertiesOrder)
	c.treeProps = c.draft.Properties
	c.treeOrder = c.draft.PropertiesOrder
	c.treeValid = true
	c.treeBuilds++
	return c.tr
}

// Close отключает подписчиков и таймер автосохранения.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	clear(c.subs)
	c.mu.Unlock()
	if c.deb != nil {
		c.deb.Cancel()
	}
}
