package datasource

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/neuhoffm/firecms/internal/schema"
)

// Memory — потокобезопасное хранилище в памяти. Id новых сущностей — ULID,
// поэтому порядок по id совпадает с порядком создания.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]map[string]Entity // path -> id -> entity
	entropy io.Reader
}

func NewMemory() *Memory {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Memory{
		data:    make(map[string]map[string]Entity),
		entropy: ulid.Monotonic(src, 0),
	}
}

// newID вызывается под mu: Monotonic не потокобезопасен.
func (m *Memory) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

func (m *Memory) FetchEntity(ctx context.Context, path, id string) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[path][id]
	if !ok {
		return Entity{}, fmt.Errorf("%s/%s: %w", path, id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *Memory) FetchCollection(ctx context.Context, path string, q Query) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	list := make([]Entity, 0, len(m.data[path]))
	for _, e := range m.data[path] {
		if MatchAll(q.Filter, e) {
			list = append(list, e.Clone())
		}
	}
	m.mu.RUnlock()

	SortEntities(list, q.Sort)
	return Page(list, q.Page, q.PageSize), nil
}

// Page вырезает страницу; size <= 0 — всё.
func Page(list []Entity, page, size int) []Entity {
	if size <= 0 {
		return list
	}
	start := max(page, 0) * size
	if start >= len(list) {
		return []Entity{}
	}
	return list[start:min(start+size, len(list))]
}

func (m *Memory) CountCollection(ctx context.Context, path string, filter []Condition) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.data[path] {
		if MatchAll(filter, e) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveEntity(ctx context.Context, req SaveRequest) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.data[req.Path]
	if byID == nil {
		byID = make(map[string]Entity)
		m.data[req.Path] = byID
	}
	id := strings.TrimSpace(req.ID)
	switch req.Status {
	case StatusNew:
		if id == "" {
			id = m.newID()
		}
		if _, exists := byID[id]; exists {
			return Entity{}, fmt.Errorf("%s/%s: %w", req.Path, id, ErrAlreadyExists)
		}
	default:
		if _, exists := byID[id]; !exists {
			return Entity{}, fmt.Errorf("%s/%s: %w", req.Path, id, ErrNotFound)
		}
	}
	e := Entity{ID: id, Path: req.Path, Values: cloneValues(req.Values)}
	byID[id] = e
	return e.Clone(), nil
}

func (m *Memory) DeleteEntity(ctx context.Context, e Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[e.Path][e.ID]; !ok {
		return fmt.Errorf("%s/%s: %w", e.Path, e.ID, ErrNotFound)
	}
	delete(m.data[e.Path], e.ID)
	return nil
}

// CheckUniqueField сравнивает строковые представления значений.
func (m *Memory) CheckUniqueField(ctx context.Context, path, field string, value any, exceptID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := Stringify(value)
	for id, e := range m.data[path] {
		if id == exceptID {
			continue
		}
		if v, ok := schema.ValueAt(e.Values, field); ok && v != nil && Stringify(v) == want {
			return false, nil
		}
	}
	return true, nil
}

// Stringify — строковый вид значения для проверки уникальности.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(toString(v))
	}
}
