// Package table — движок табличного представления коллекции: страница
// сущностей, колонки, inline-правка ячеек, выбор строк и удаление.
//
// Ограничение: правки ячеек независимы и не блокируют строку. Две
// одновременные правки разных ячеек одной записи уходят отдельными
// запросами с полным набором значений, выигрывает последний записавший.
package table

import (
	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/permission"
	"github.com/neuhoffm/firecms/internal/schema"
)

// DefaultPageSize — размер страницы, если коллекция его не задала.
const DefaultPageSize = 50

// AdditionalColumn — вычисляемая колонка, задаётся кодом.
type AdditionalColumn struct {
	Key   string
	Title string
	Value func(e datasource.Entity) any
}

// Subcollection даёт колонку-ссылку на вложенную коллекцию записи.
type Subcollection struct {
	Path string
	Name string
}

type Collection struct {
	Path                string
	Schema              schema.EntitySchema
	DisplayedProperties []string
	AdditionalColumns   []AdditionalColumn
	Subcollections      []Subcollection
	InlineEditing       bool
	DisablePagination   bool
	PageSize            int
	Permissions         permission.Source
	Exportable          bool
	Sort                []datasource.SortKey
	Filter              []datasource.Condition
}

func (c Collection) pageSize() int {
	if c.DisablePagination {
		return 0
	}
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

type ColumnKind string

const (
	KindIdentity      ColumnKind = "identity"
	KindProperty      ColumnKind = "property"
	KindAdditional    ColumnKind = "additional"
	KindSubcollection ColumnKind = "subcollection"
)

type Column struct {
	Key      string          `json:"key"`
	Title    string          `json:"title"`
	Kind     ColumnKind      `json:"kind"`
	DataType schema.DataType `json:"dataType,omitempty"`
	Frozen   bool            `json:"frozen,omitempty"`
	Builder  bool            `json:"builder,omitempty"`
	// Writable — колонка свойства, которое вообще можно править.
	Writable bool `json:"writable,omitempty"`
	Unique   bool `json:"unique,omitempty"`

	value func(e datasource.Entity) any
}

// Columns: замороженная колонка id, свойства схемы, вычисляемые колонки,
// ссылки на подколлекции.
func (c Collection) Columns() []Column {
	cols := []Column{{Key: "id", Title: "ID", Kind: KindIdentity, Frozen: true}}

	keys := schema.OrderedKeys(c.Schema.Properties, c.Schema.PropertiesOrder)
	if len(c.DisplayedProperties) > 0 {
		keys = keys[:0:0]
		for _, k := range c.DisplayedProperties {
			if _, ok := c.Schema.Properties[k]; ok {
				keys = append(keys, k)
			}
		}
	}
	for _, k := range keys {
		cols = append(cols, propertyColumn(k, c.Schema.Properties[k]))
	}

	for _, ac := range c.AdditionalColumns {
		title := ac.Title
		if title == "" {
			title = ac.Key
		}
		cols = append(cols, Column{Key: ac.Key, Title: title, Kind: KindAdditional, value: ac.Value})
	}
	for _, sc := range c.Subcollections {
		sub := sc
		name := sub.Name
		if name == "" {
			name = sub.Path
		}
		cols = append(cols, Column{
			Key: "subcollection:" + sub.Path, Title: name, Kind: KindSubcollection,
			value: func(e datasource.Entity) any { return e.Path + "/" + e.ID + "/" + sub.Path },
		})
	}
	return cols
}

func propertyColumn(key string, pb schema.PropertyOrBuilder) Column {
	col := Column{Key: key, Title: key, Kind: KindProperty}
	p, ok := pb.Property()
	if !ok {
		col.Builder = true
		if b, _ := pb.Builder(); b != nil && b.Name != "" {
			col.Title = b.Name
		}
		// без сущности билдер даёт только описание колонки
		if rp, ok := pb.Resolve(schema.BuildContext{Path: key}); ok {
			p = rp
		}
	}
	if p.Title != "" {
		col.Title = p.Title
	}
	col.DataType = p.DataType
	col.Unique = p.Unique()
	col.Writable = !col.Builder && !p.ReadOnly
	return col
}

// Value — значение ячейки для отображения.
func (col Column) Value(e datasource.Entity) any {
	switch col.Kind {
	case KindIdentity:
		return e.ID
	case KindProperty:
		v, _ := schema.ValueAt(e.Values, col.Key)
		return v
	}
	if col.value != nil {
		return col.value(e)
	}
	return nil
}
