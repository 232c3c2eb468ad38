// Package selection хранит упорядоченное множество выбранных сущностей.
// Идентичность — пара (path, id), порядок — порядок добавления.
package selection

import (
	"slices"

	"github.com/neuhoffm/firecms/internal/datasource"
)

type key struct{ path, id string }

func keyOf(e datasource.Entity) key { return key{e.Path, e.ID} }

// Set не потокобезопасен: владелец (контроллер) держит свой мьютекс.
type Set struct {
	items []datasource.Entity
	index map[key]int
}

func New(items ...datasource.Entity) *Set {
	s := &Set{index: make(map[key]int)}
	for _, e := range items {
		s.Add(e)
	}
	return s
}

// Add добавляет сущность в конец; повтор обновляет значения на месте.
func (s *Set) Add(e datasource.Entity) bool {
	if i, ok := s.index[keyOf(e)]; ok {
		s.items[i] = e
		return false
	}
	s.index[keyOf(e)] = len(s.items)
	s.items = append(s.items, e)
	return true
}

func (s *Set) Remove(e datasource.Entity) bool {
	i, ok := s.index[keyOf(e)]
	if !ok {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.index, keyOf(e))
	for j := i; j < len(s.items); j++ {
		s.index[keyOf(s.items[j])] = j
	}
	return true
}

// Toggle возвращает true, если сущность теперь выбрана.
func (s *Set) Toggle(e datasource.Entity) bool {
	if s.Remove(e) {
		return false
	}
	s.Add(e)
	return true
}

func (s *Set) Contains(e datasource.Entity) bool {
	_, ok := s.index[keyOf(e)]
	return ok
}

// Items — копия в порядке добавления.
func (s *Set) Items() []datasource.Entity { return slices.Clone(s.items) }

func (s *Set) Len() int { return len(s.items) }

func (s *Set) Clear() {
	s.items = nil
	clear(s.index)
}
