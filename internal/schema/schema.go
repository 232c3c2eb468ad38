package schema

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrPathNotFound   = errors.New("property path not found")
	ErrNotMapProperty = errors.New("only map properties can contain nested properties")
)

// EntitySchema описывает сущность: свойства и их порядок.
// Вложенные свойства адресуются составным ключом "parent.child".
type EntitySchema struct {
	ID              string                       `json:"id" yaml:"id" validate:"required,slug"`
	Name            string                       `json:"name" yaml:"name" validate:"required"`
	Description     string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Properties      map[string]PropertyOrBuilder `json:"properties" yaml:"properties"`
	PropertiesOrder []string                     `json:"propertiesOrder" yaml:"propertiesOrder"`
}

func (s EntitySchema) Clone() EntitySchema {
	out := s
	out.Properties = cloneProperties(s.Properties)
	out.PropertiesOrder = slices.Clone(s.PropertiesOrder)
	return out
}

func (s EntitySchema) Equal(o EntitySchema) bool {
	return s.ID == o.ID && s.Name == o.Name && s.Description == o.Description &&
		slices.Equal(s.PropertiesOrder, o.PropertiesOrder) &&
		PropertiesEqual(s.Properties, o.Properties)
}

// PropertyAt ищет свойство по составному ключу.
func (s EntitySchema) PropertyAt(path string) (PropertyOrBuilder, bool) {
	return PropertyAt(s.Properties, path)
}

// WithPropertyAt возвращает копию схемы с записанным по пути свойством.
func (s EntitySchema) WithPropertyAt(path string, pb PropertyOrBuilder) (EntitySchema, error) {
	props, order, err := WithPropertyAt(s.Properties, s.PropertiesOrder, path, pb)
	if err != nil {
		return s, err
	}
	out := s
	out.Properties, out.PropertiesOrder = props, order
	return out, nil
}

func (s EntitySchema) WithoutPropertyAt(path string) (EntitySchema, error) {
	props, order, err := WithoutPropertyAt(s.Properties, s.PropertiesOrder, path)
	if err != nil {
		return s, err
	}
	out := s
	out.Properties, out.PropertiesOrder = props, order
	return out, nil
}

func JoinPath(parts ...string) string {
	clean := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, ".")
}

// LastSegment("a.b.c") -> "c"
func LastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func PropertyAt(props map[string]PropertyOrBuilder, path string) (PropertyOrBuilder, bool) {
	head, rest, nested := strings.Cut(path, ".")
	pb, ok := props[head]
	if !ok {
		return PropertyOrBuilder{}, false
	}
	if !nested {
		return pb, true
	}
	p, ok := pb.Property()
	if !ok || !p.IsMap() {
		return PropertyOrBuilder{}, false
	}
	return PropertyAt(p.Properties, rest)
}

// WithPropertyAt записывает свойство по пути, не трогая входные map/slice.
// Новый ключ добавляется в конец порядка своего уровня.
func WithPropertyAt(props map[string]PropertyOrBuilder, order []string, path string, pb PropertyOrBuilder) (map[string]PropertyOrBuilder, []string, error) {
	head, rest, nested := strings.Cut(path, ".")
	if head == "" {
		return props, order, fmt.Errorf("%w: empty key in %q", ErrPathNotFound, path)
	}
	out := make(map[string]PropertyOrBuilder, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	outOrder := slices.Clone(order)

	if !nested {
		if _, exists := out[head]; !exists {
			outOrder = append(outOrder, head)
		}
		out[head] = pb
		return out, outOrder, nil
	}

	parent, ok := out[head]
	if !ok {
		return props, order, fmt.Errorf("%w: %s", ErrPathNotFound, head)
	}
	p, ok := parent.Property()
	if !ok || !p.IsMap() {
		return props, order, fmt.Errorf("%w: %s", ErrNotMapProperty, head)
	}
	childProps, childOrder, err := WithPropertyAt(p.Properties, p.PropertiesOrder, rest, pb)
	if err != nil {
		return props, order, err
	}
	p.Properties, p.PropertiesOrder = childProps, childOrder
	out[head] = FromProperty(p)
	return out, outOrder, nil
}

// WithoutPropertyAt удаляет свойство по пути вместе с записью в порядке.
func WithoutPropertyAt(props map[string]PropertyOrBuilder, order []string, path string) (map[string]PropertyOrBuilder, []string, error) {
	head, rest, nested := strings.Cut(path, ".")
	cur, ok := props[head]
	if !ok {
		return props, order, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	out := make(map[string]PropertyOrBuilder, len(props))
	for k, v := range props {
		out[k] = v
	}
	if !nested {
		delete(out, head)
		outOrder := make([]string, 0, len(order))
		for _, k := range order {
			if k != head {
				outOrder = append(outOrder, k)
			}
		}
		return out, outOrder, nil
	}
	p, ok := cur.Property()
	if !ok || !p.IsMap() {
		return props, order, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	childProps, childOrder, err := WithoutPropertyAt(p.Properties, p.PropertiesOrder, rest)
	if err != nil {
		return props, order, err
	}
	p.Properties, p.PropertiesOrder = childProps, childOrder
	out[head] = FromProperty(p)
	return out, slices.Clone(order), nil
}

// OrderedKeys — ключи уровня в заданном порядке; ключи без записи в порядке
// идут следом, отсортированными.
func OrderedKeys(props map[string]PropertyOrBuilder, order []string) []string {
	keys := make([]string, 0, len(props))
	seen := make(map[string]struct{}, len(props))
	for _, k := range order {
		if _, ok := props[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	var rest []string
	for k := range props {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
