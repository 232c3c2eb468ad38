// Package datasource — контракт доступа к данным коллекций и его
// in-memory реализация.
package datasource

import (
	"context"
	"errors"
	"maps"
)

var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
)

// Status сохраняемой сущности.
type Status string

const (
	StatusNew      Status = "new"
	StatusExisting Status = "existing"
)

// Entity — запись коллекции. Values повторяет структуру свойств схемы:
// вложенные map-свойства лежат вложенными map[string]any.
type Entity struct {
	ID     string         `json:"id"`
	Path   string         `json:"path"`
	Values map[string]any `json:"values"`
}

func (e Entity) Clone() Entity {
	out := e
	out.Values = cloneValues(e.Values)
	return out
}

func cloneValues(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := maps.Clone(in)
	for k, v := range out {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneValues(t)
		case []any:
			cp := make([]any, len(t))
			copy(cp, t)
			out[k] = cp
		}
	}
	return out
}

type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query — параметры выборки страницы. PageSize == 0 — без пагинации.
type Query struct {
	Page     int
	PageSize int
	Filter   []Condition
	Sort     []SortKey
}

type SaveRequest struct {
	Path   string
	ID     string // пустой для новой сущности — id выдаст хранилище
	Values map[string]any
	Status Status
}

// DataSource — внешнее хранилище сущностей.
type DataSource interface {
	FetchEntity(ctx context.Context, path, id string) (Entity, error)
	FetchCollection(ctx context.Context, path string, q Query) ([]Entity, error)
	CountCollection(ctx context.Context, path string, filter []Condition) (int, error)
	SaveEntity(ctx context.Context, req SaveRequest) (Entity, error)
	DeleteEntity(ctx context.Context, e Entity) error
	// CheckUniqueField возвращает true, если значение не занято другой сущностью.
	CheckUniqueField(ctx context.Context, path, field string, value any, exceptID string) (bool, error)
}
