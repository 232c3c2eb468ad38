// Package tree строит иерархическое представление свойств схемы для
// drag-and-drop редактирования и переводит его обратно в mapping+order.
package tree

import (
	"slices"

	"github.com/neuhoffm/firecms/internal/schema"
)

// RootID не может совпасть с ключом свойства: '$' в ключах запрещён.
const RootID = "$root"

type ItemData struct {
	Property *schema.PropertyOrBuilder
}

type Item struct {
	ID       string
	Children []string
	Data     ItemData
}

// Tree — производное одноразовое представление, не хранится.
type Tree struct {
	RootID string
	Items  map[string]Item
}

// ToTree строит дерево: по одному узлу на свойство, map-свойства с вложенными
// свойствами получают поддерево. id узла — составной путь.
func ToTree(props map[string]schema.PropertyOrBuilder, order []string) Tree {
	t := Tree{RootID: RootID, Items: make(map[string]Item, len(props)+1)}
	t.Items[RootID] = Item{ID: RootID, Children: build(t.Items, props, order, "")}
	return t
}

func build(items map[string]Item, props map[string]schema.PropertyOrBuilder, order []string, namespace string) []string {
	keys := schema.OrderedKeys(props, order)
	children := make([]string, 0, len(keys))
	for _, key := range keys {
		id := schema.JoinPath(namespace, key)
		pb := props[key]
		var sub []string
		if p, ok := pb.Property(); ok && p.IsMap() && len(p.Properties) > 0 {
			sub = build(items, p.Properties, p.PropertiesOrder, id)
		}
		items[id] = Item{ID: id, Children: sub, Data: ItemData{Property: &pb}}
		children = append(children, id)
	}
	return children
}

// FromTree — обратное преобразование. Ключ узла — последний сегмент его id,
// поэтому перемещённые узлы сохраняют свой ключ.
func FromTree(t Tree) (map[string]schema.PropertyOrBuilder, []string) {
	root, ok := t.Items[t.RootID]
	if !ok {
		return map[string]schema.PropertyOrBuilder{}, []string{}
	}
	return flatten(t, root.Children)
}

func flatten(t Tree, children []string) (map[string]schema.PropertyOrBuilder, []string) {
	props := make(map[string]schema.PropertyOrBuilder, len(children))
	order := make([]string, 0, len(children))
	for _, id := range children {
		item, ok := t.Items[id]
		if !ok || item.Data.Property == nil {
			continue
		}
		key := schema.LastSegment(id)
		pb := *item.Data.Property
		if p, ok := pb.Property(); ok && p.IsMap() {
			switch {
			case len(item.Children) > 0:
				p.Properties, p.PropertiesOrder = flatten(t, item.Children)
				pb = schema.FromProperty(p)
			case len(p.Properties) > 0:
				// последний вложенный узел увели — map пустеет
				p.Properties, p.PropertiesOrder = map[string]schema.PropertyOrBuilder{}, []string{}
				pb = schema.FromProperty(p)
			}
		}
		props[key] = pb
		order = append(order, key)
	}
	return props, order
}

// Parent возвращает id родителя узла.
func (t Tree) Parent(id string) (string, bool) {
	for pid, it := range t.Items {
		if slices.Contains(it.Children, id) {
			return pid, true
		}
	}
	return "", false
}

// Walk обходит дерево в глубину в порядке отображения.
func (t Tree) Walk(fn func(item Item, depth int)) {
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		it, ok := t.Items[id]
		if !ok {
			return
		}
		if id != t.RootID {
			fn(it, depth)
		}
		for _, c := range it.Children {
			walk(c, depth+1)
		}
	}
	walk(t.RootID, 0)
}

func (t Tree) clone() Tree {
	out := Tree{RootID: t.RootID, Items: make(map[string]Item, len(t.Items))}
	for id, it := range t.Items {
		it.Children = slices.Clone(it.Children)
		out.Items[id] = it
	}
	return out
}
