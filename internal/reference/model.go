// Package reference — справочники enum из YAML. Свойство DSL с типом
// enum[@name] берёт значения из справочника name.
package reference

import (
	"errors"
	"slices"
	"time"

	"github.com/neuhoffm/firecms/internal/schema"
)

var ErrUnknownCatalog = errors.New("unknown enum catalog")

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name" json:"name"`
	Items []EnumItem `yaml:"items" json:"items"`
}

type EnumItem struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
	// Порядок и срок действия значения
	Order     int    `yaml:"order,omitempty" json:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty" json:"validFrom,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty" json:"validTo,omitempty"`
}

// Catalog — все справочники по имени.
type Catalog map[string]EnumDirectory

const dateLayout = "2006-01-02"

// ActiveAt сообщает, действует ли значение на дату at. Непарсящиеся
// границы считаются открытыми.
func (it EnumItem) ActiveAt(at time.Time) bool {
	day := at.UTC().Format(dateLayout)
	if it.ValidFrom != "" {
		if _, err := time.Parse(dateLayout, it.ValidFrom); err == nil && day < it.ValidFrom {
			return false
		}
	}
	if it.ValidTo != "" {
		if _, err := time.Parse(dateLayout, it.ValidTo); err == nil && day > it.ValidTo {
			return false
		}
	}
	return true
}

// EnumValues — действующие на at значения, по order, затем в порядке файла.
func (d EnumDirectory) EnumValues(at time.Time) []schema.EnumValue {
	items := slices.Clone(d.Items)
	slices.SortStableFunc(items, func(a, b EnumItem) int { return a.Order - b.Order })
	out := make([]schema.EnumValue, 0, len(items))
	for _, it := range items {
		if it.Code == "" || !it.ActiveAt(at) {
			continue
		}
		out = append(out, schema.EnumValue{ID: it.Code, Label: it.Name})
	}
	return out
}

// EnumValues по имени справочника.
func (c Catalog) EnumValues(name string, at time.Time) ([]schema.EnumValue, error) {
	d, ok := c[name]
	if !ok {
		return nil, ErrUnknownCatalog
	}
	return d.EnumValues(at), nil
}
