package editor

import (
	"context"
	"fmt"

	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/metrics"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/tree"
)

// Load открывает существующую схему. Реестр должен быть готов.
func (c *Controller) Load(ctx context.Context, id string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.store.Initialised() {
		return ErrNotReady
	}
	s, err := c.store.FindSchema(ctx, id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.reset(s, false)
	c.mu.Unlock()
	c.emit()
	return nil
}

// Save нормализует, проверяет и сохраняет черновик. Ошибка проверки
// остаётся в снимке (Errors), ошибка сохранения уходит уведомлением;
// черновик в обоих случаях не теряется.
func (c *Controller) Save(ctx context.Context) error {
	return c.save(ctx, "manual")
}

func (c *Controller) save(ctx context.Context, trigger string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	before := c.draft.Clone()
	s := schema.Normalize(before)
	if err := s.Validate(); err != nil {
		c.errs, _ = schema.FieldErrors(err)
		c.mu.Unlock()
		c.emit()
		metrics.SchemaSaves.WithLabelValues(trigger, "invalid").Inc()
		return err
	}
	c.errs = nil
	c.saving = true
	c.lastSubmitted = &before
	c.mu.Unlock()
	c.emit()

	err := c.store.SaveSchema(ctx, s)
	metrics.SchemaSaves.WithLabelValues(trigger, metrics.Result(err)).Inc()

	c.mu.Lock()
	c.saving = false
	if c.closed {
		c.mu.Unlock()
		return err
	}
	if err != nil {
		c.errs, _ = schema.FieldErrors(err)
		c.mu.Unlock()
		c.emit()
		logger.From(ctx).Error("schema save failed", "schema", s.ID, "err", err)
		notify.Send(ctx, c.notifier, notify.Error, s.ID, "Error saving schema: "+err.Error())
		return fmt.Errorf("save schema %s: %w", s.ID, err)
	}
	c.original = s.Clone()
	// пока сохраняли, черновик могли поменять: тогда правки остаются
	if c.draft.Equal(before) {
		c.draft = s.Clone()
	}
	c.persisted = true
	// автосохранение не завершает сессию новой схемы: id выводится из имени
	// и правится до явного Save
	if trigger == "manual" {
		c.isNew = false
	}
	onSaved := c.onSaved
	c.mu.Unlock()
	c.emit()

	logger.From(ctx).Info("schema saved", "schema", s.ID, "trigger", trigger)
	notify.Send(ctx, c.notifier, notify.Success, s.ID, "Schema "+s.Name+" saved")
	if onSaved != nil {
		onSaved(s.Clone())
	}
	return nil
}

// autoSave срабатывает по таймеру: отправка только если черновик отличается
// и от последней отправки, и от оригинала, и проходит проверку.
func (c *Controller) autoSave() {
	c.mu.Lock()
	if c.closed || !c.loaded || c.saving {
		c.mu.Unlock()
		return
	}
	draft := c.draft
	if c.lastSubmitted != nil && draft.Equal(*c.lastSubmitted) {
		c.mu.Unlock()
		return
	}
	if draft.Equal(c.original) {
		c.mu.Unlock()
		return
	}
	if schema.Normalize(draft).Validate() != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.save(context.Background(), "auto")
}

// Snapshot — неизменяемое состояние редактора для отрисовки.
type Snapshot struct {
	Draft       schema.EntitySchema `json:"draft"`
	IsNew       bool                `json:"isNew"`
	Persisted   bool                `json:"persisted"`
	Dirty       bool                `json:"dirty"`
	IDTouched   bool                `json:"idTouched"`
	IDEditable  bool                `json:"idEditable"`
	Tree        tree.Tree           `json:"-"`
	Form        *PropertyForm       `json:"form,omitempty"`
	Selected    string              `json:"selected,omitempty"`
	Layout      Layout              `json:"layout"`
	DialogOpen  bool                `json:"dialogOpen"`
	PendingMove *PendingMove        `json:"pendingMove,omitempty"`
	Errors      []schema.FieldError `json:"errors,omitempty"`
	Saving      bool                `json:"saving"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	layout := layoutFor(c.width)
	snap := Snapshot{
		Draft:      c.draft.Clone(),
		IsNew:      c.isNew,
		Persisted:  c.persisted,
		Dirty:      c.loaded && !c.draft.Equal(c.original),
		IDTouched:  c.idTouched,
		IDEditable: c.isNew,
		Selected:   c.selected,
		Layout:     layout,
		DialogOpen: layout == LayoutDialog && c.selected != "",
		Errors:     append([]schema.FieldError(nil), c.errs...),
		Saving:     c.saving,
	}
	if c.loaded {
		snap.Tree = c.treeLocked()
	}
	if c.form != nil {
		f := *c.form
		f.Property = f.Property.Clone()
		snap.Form = &f
	}
	if c.pendingMove != nil {
		pm := *c.pendingMove
		snap.PendingMove = &pm
	}
	return snap
}

func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) emit() {
	c.mu.Lock()
	if c.closed || len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
