package table

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/metrics"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/permission"
)

// DeleteRequest — ожидающее подтверждения удаление.
type DeleteRequest struct {
	Entities []datasource.Entity `json:"entities"`
	Message  string              `json:"message"`
}

// DeleteResult — итог по одной сущности; Err == nil — удалена.
type DeleteResult struct {
	Entity datasource.Entity
	Err    error
}

func deleteMessage(n int) string {
	if n == 1 {
		return "Delete this entity? This action cannot be undone."
	}
	return fmt.Sprintf("Delete %d entities? This action cannot be undone.", n)
}

// RequestDelete — первый шаг: проверка прав и текст подтверждения.
// Ничего не удаляется до Confirm.
func (e *Engine) RequestDelete(entities []datasource.Entity) (*DeleteRequest, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: nothing selected", ErrNotDeletable)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	for _, en := range entities {
		if !permission.CanDelete(e.coll.Permissions, &en, e.user, e.coll.Path, e.env) {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotDeletable, en.ID)
		}
	}
	req := &DeleteRequest{Entities: slices.Clone(entities), Message: deleteMessage(len(entities))}
	e.pending = req
	e.mu.Unlock()
	e.emit()
	p := *req
	return &p, nil
}

// RequestDeleteSelected — то же для текущего выбора.
func (e *Engine) RequestDeleteSelected() (*DeleteRequest, error) {
	return e.RequestDelete(e.Selected())
}

func (e *Engine) Cancel() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	e.emit()
}

// Confirm удаляет каждую сущность отдельным запросом. Частичный отказ
// отражается по сущностям; удалённые уходят из строк и из выбора.
func (e *Engine) Confirm(ctx context.Context) ([]DeleteResult, error) {
	e.mu.Lock()
	req := e.pending
	e.pending = nil
	e.mu.Unlock()
	if req == nil {
		return nil, ErrNoPending
	}

	results := make([]DeleteResult, len(req.Entities))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, en := range req.Entities {
		i, en := i, en
		g.Go(func() error {
			err := e.ds.DeleteEntity(ctx, en)
			if err != nil {
				err = fmt.Errorf("delete %s/%s: %w", en.Path, en.ID, err)
			}
			results[i] = DeleteResult{Entity: en, Err: err}
			metrics.EntityDeletes.WithLabelValues(e.coll.Path, metrics.Result(err)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	e.mu.Lock()
	if !e.closed {
		for _, r := range results {
			if r.Err != nil {
				failed++
				continue
			}
			e.sel.Remove(r.Entity)
			if i := e.rowIndex(r.Entity.ID); i >= 0 {
				e.rows = slices.Delete(e.rows, i, i+1)
				e.total = max(e.total-1, 0)
			}
			delete(e.saved, r.Entity.ID)
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
	}
	e.mu.Unlock()
	e.emit()

	ok := len(results) - failed
	switch {
	case failed == 0:
		notify.Send(ctx, e.notifier, notify.Success, e.coll.Path, fmt.Sprintf("Deleted %d entities", ok))
	default:
		logger.From(ctx).Warn("bulk delete partially failed", "path", e.coll.Path, "deleted", ok, "failed", failed)
		notify.Send(ctx, e.notifier, notify.Error, e.coll.Path,
			fmt.Sprintf("Deleted %d entities, %d failed", ok, failed))
	}
	return results, nil
}
