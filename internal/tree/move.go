package tree

import (
	"errors"
	"slices"

	"github.com/neuhoffm/firecms/internal/schema"
)

// NoIndex — бросили в пустую/неоднозначную зону.
const NoIndex = -1

// MoveConfirmationText показывается перед переносом в другого родителя.
const MoveConfirmationText = "Moving this property to a different parent changes its path. " +
	"Existing data stored under the old path is not transferred to the new one."

var (
	ErrBuilderImmovable = errors.New("builder properties cannot be moved")
	ErrNoIndex          = errors.New("drop position has no index")
	ErrNotMap           = errors.New("only map properties can contain nested properties")
	ErrUnknownItem      = errors.New("unknown tree item")
	ErrCycle            = errors.New("a property cannot be moved into itself")
	ErrKeyConflict      = errors.New("destination already contains a property with the same key")
)

type Position struct {
	ParentID string `json:"parentId"`
	Index    int    `json:"index"`
}

// IsCrossParent — перенос в другого родителя меняет адрес свойства.
func IsCrossParent(src, dst Position) bool { return src.ParentID != dst.ParentID }

// CanMove проверяет перемещение до его применения. Порядок проверок:
// билдер, индекс, корень, map-родитель; затем целостность дерева.
func CanMove(t Tree, src, dst Position) error {
	parent, ok := t.Items[src.ParentID]
	if !ok || src.Index < 0 || src.Index >= len(parent.Children) {
		return ErrUnknownItem
	}
	item, ok := t.Items[parent.Children[src.Index]]
	if !ok {
		return ErrUnknownItem
	}
	if item.Data.Property != nil && item.Data.Property.IsBuilder() {
		return ErrBuilderImmovable
	}
	if dst.Index < 0 {
		return ErrNoIndex
	}
	if dst.ParentID != t.RootID {
		dp, ok := t.Items[dst.ParentID]
		if !ok || dp.Data.Property == nil || !dp.Data.Property.IsMap() {
			return ErrNotMap
		}
		if dst.ParentID == item.ID || t.isDescendant(item.ID, dst.ParentID) {
			return ErrCycle
		}
	}
	if IsCrossParent(src, dst) {
		key := schema.LastSegment(item.ID)
		for _, c := range t.Items[dst.ParentID].Children {
			if schema.LastSegment(c) == key {
				return ErrKeyConflict
			}
		}
	}
	return nil
}

// Move возвращает новое дерево; входное не меняется. Поддерево узла
// переносится целиком.
func Move(t Tree, src, dst Position) (Tree, error) {
	if err := CanMove(t, src, dst); err != nil {
		return t, err
	}
	out := t.clone()

	sp := out.Items[src.ParentID]
	id := sp.Children[src.Index]
	sp.Children = slices.Delete(sp.Children, src.Index, src.Index+1)
	out.Items[src.ParentID] = sp

	dp := out.Items[dst.ParentID]
	idx := min(dst.Index, len(dp.Children))
	dp.Children = slices.Insert(dp.Children, idx, id)
	out.Items[dst.ParentID] = dp
	return out, nil
}

// PositionOf ищет узел по id.
func (t Tree) PositionOf(id string) (Position, bool) {
	pid, ok := t.Parent(id)
	if !ok {
		return Position{}, false
	}
	return Position{ParentID: pid, Index: slices.Index(t.Items[pid].Children, id)}, true
}

func (t Tree) isDescendant(ancestor, id string) bool {
	for _, c := range t.Items[ancestor].Children {
		if c == id || t.isDescendant(c, id) {
			return true
		}
	}
	return false
}
