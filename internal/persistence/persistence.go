// Package persistence хранит конфигурацию схем сущностей.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/neuhoffm/firecms/internal/schema"
)

var ErrSchemaNotFound = errors.New("schema not found")

// ConfigurationPersistence — реестр схем. Initialised сообщает, что реестр
// загружен и с ним можно работать.
type ConfigurationPersistence interface {
	SaveSchema(ctx context.Context, s schema.EntitySchema) error
	FindSchema(ctx context.Context, id string) (schema.EntitySchema, error)
	ListSchemas(ctx context.Context) ([]schema.EntitySchema, error)
	Initialised() bool
}

// Memory — реестр в памяти, готов сразу.
type Memory struct {
	mu       sync.RWMutex
	schemas  map[string]schema.EntitySchema
	builders map[string]*schema.Builder
}

func NewMemory(builders map[string]*schema.Builder, seed ...schema.EntitySchema) *Memory {
	m := &Memory{schemas: make(map[string]schema.EntitySchema), builders: builders}
	for _, s := range seed {
		m.schemas[s.ID] = s.Clone()
	}
	return m
}

func (m *Memory) Initialised() bool { return true }

func (m *Memory) SaveSchema(ctx context.Context, s schema.EntitySchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[s.ID] = s.Clone()
	return nil
}

func (m *Memory) FindSchema(ctx context.Context, id string) (schema.EntitySchema, error) {
	if err := ctx.Err(); err != nil {
		return schema.EntitySchema{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[id]
	if !ok {
		return schema.EntitySchema{}, fmt.Errorf("%s: %w", id, ErrSchemaNotFound)
	}
	out := s.Clone()
	out.Properties = schema.BindBuilders(out.Properties, m.builders)
	return out, nil
}

func (m *Memory) ListSchemas(ctx context.Context) ([]schema.EntitySchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schema.EntitySchema, 0, len(m.schemas))
	for _, s := range m.schemas {
		c := s.Clone()
		c.Properties = schema.BindBuilders(c.Properties, m.builders)
		out = append(out, c)
	}
	sortByID(out)
	return out, nil
}

func sortByID(list []schema.EntitySchema) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
