// Package refdialog — контроллер диалога выбора связанных записей:
// одиночный или множественный выбор из коллекции с предзагрузкой уже
// выбранных сущностей.
package refdialog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/selection"
)

type State string

const (
	Closed  State = "closed"
	Loading State = "loading"
	Ready   State = "ready"
)

var (
	ErrNoDataSource  = errors.New("refdialog: data source is required")
	ErrNoCallback    = errors.New("refdialog: selection callback is required")
	ErrNotSelectable = errors.New("entity does not match the dialog filter")
	ErrNotReady      = errors.New("dialog is not ready")
)

type Config struct {
	Path  string
	Multi bool
	// Filter ограничивает выбор и применяется при выборке.
	Filter     []datasource.Condition
	Sort       []datasource.SortKey
	PageSize   int
	InitialIDs []string

	OnSingle func(e *datasource.Entity)
	OnMulti  func(es []datasource.Entity)
}

type Snapshot struct {
	State    State               `json:"state"`
	Multi    bool                `json:"multi"`
	Selected []datasource.Entity `json:"selected"`
}

type Dialog struct {
	ds  datasource.DataSource
	cfg Config

	mu    sync.Mutex
	state State
	sel   *selection.Set
	gen   uint64
	subs  map[int]func(Snapshot)
	next  int
}

func New(ds datasource.DataSource, cfg Config) (*Dialog, error) {
	if ds == nil {
		return nil, ErrNoDataSource
	}
	if (cfg.Multi && cfg.OnMulti == nil) || (!cfg.Multi && cfg.OnSingle == nil) {
		return nil, ErrNoCallback
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Dialog{ds: ds, cfg: cfg, state: Closed, sel: selection.New(), subs: make(map[int]func(Snapshot))}, nil
}

// Open: Closed -> Loading -> Ready. Начальные id грузятся параллельно;
// ненайденные и упавшие молча отбрасываются. Состояние меняется только
// после завершения всех запросов.
func (d *Dialog) Open(ctx context.Context) error {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.state = Loading
	d.sel.Clear()
	ids := slices.Clone(d.cfg.InitialIDs)
	d.mu.Unlock()
	d.emit()

	found := make([]*datasource.Entity, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			e, err := d.ds.FetchEntity(gctx, d.cfg.Path, id)
			if err != nil {
				if !errors.Is(err, datasource.ErrNotFound) {
					logger.From(ctx).Warn("initial selection fetch failed", "path", d.cfg.Path, "id", id, "err", err)
				}
				return nil
			}
			found[i] = &e
			return nil
		})
	}
	_ = g.Wait()

	d.mu.Lock()
	// закрыли или переоткрыли, пока грузились
	if d.gen != gen || d.state != Loading {
		d.mu.Unlock()
		return nil
	}
	for _, e := range found {
		if e != nil {
			d.sel.Add(*e)
		}
	}
	d.state = Ready
	d.mu.Unlock()
	d.emit()
	return nil
}

// Rows — страница кандидатов; фильтр диалога применяется при выборке.
func (d *Dialog) Rows(ctx context.Context, page int) ([]datasource.Entity, error) {
	rows, err := d.ds.FetchCollection(ctx, d.cfg.Path, datasource.Query{
		Page: page, PageSize: d.cfg.PageSize, Filter: d.cfg.Filter, Sort: d.cfg.Sort,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", d.cfg.Path, err)
	}
	return rows, nil
}

func (d *Dialog) selectable(e datasource.Entity) bool {
	return e.Path == d.cfg.Path && datasource.MatchAll(d.cfg.Filter, e)
}

// Click: в одиночном режиме сразу отдаёт выбор и закрывается, во
// множественном переключает запись и отдаёт весь набор.
func (d *Dialog) Click(e datasource.Entity) error {
	d.mu.Lock()
	if d.state != Ready {
		d.mu.Unlock()
		return ErrNotReady
	}
	if !d.selectable(e) {
		d.mu.Unlock()
		return ErrNotSelectable
	}
	if !d.cfg.Multi {
		d.closeLocked()
		d.mu.Unlock()
		d.emit()
		picked := e
		d.cfg.OnSingle(&picked)
		return nil
	}
	d.sel.Toggle(e)
	items := d.sel.Items()
	d.mu.Unlock()
	d.emit()
	d.cfg.OnMulti(items)
	return nil
}

// Clear: одиночный режим — nil и закрытие; множественный — пустой набор.
func (d *Dialog) Clear() error {
	d.mu.Lock()
	if d.state != Ready {
		d.mu.Unlock()
		return ErrNotReady
	}
	if !d.cfg.Multi {
		d.closeLocked()
		d.mu.Unlock()
		d.emit()
		d.cfg.OnSingle(nil)
		return nil
	}
	d.sel.Clear()
	d.mu.Unlock()
	d.emit()
	d.cfg.OnMulti([]datasource.Entity{})
	return nil
}

func (d *Dialog) Close() {
	d.mu.Lock()
	d.closeLocked()
	d.mu.Unlock()
	d.emit()
}

func (d *Dialog) closeLocked() {
	d.state = Closed
	d.gen++
}

func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dialog) Selected() []datasource.Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sel.Items()
}

func (d *Dialog) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{State: d.state, Multi: d.cfg.Multi, Selected: d.sel.Items()}
}

func (d *Dialog) Subscribe(fn func(Snapshot)) (cancel func()) {
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Dialog) emit() {
	d.mu.Lock()
	snap := Snapshot{State: d.state, Multi: d.cfg.Multi, Selected: d.sel.Items()}
	subs := make([]func(Snapshot), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
