package editor

import (
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/tree"
)

type MoveOutcome string

const (
	MoveApplied           MoveOutcome = "applied"
	MoveNeedsConfirmation MoveOutcome = "needs_confirmation"
)

// PendingMove — перенос в другого родителя, ждущий подтверждения.
type PendingMove struct {
	ItemID  string        `json:"itemId"`
	Source  tree.Position `json:"source"`
	Dest    tree.Position `json:"dest"`
	Message string        `json:"message"`
}

// Move проверяет перенос и применяет его внутри одного родителя. Перенос
// в другого родителя меняет путь свойства и ждёт ConfirmMove.
func (c *Controller) Move(src, dst tree.Position) (MoveOutcome, error) {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	t := c.treeLocked()
	if err := tree.CanMove(t, src, dst); err != nil {
		c.mu.Unlock()
		return "", err
	}
	if tree.IsCrossParent(src, dst) {
		c.pendingMove = &PendingMove{
			ItemID:  t.Items[src.ParentID].Children[src.Index],
			Source:  src,
			Dest:    dst,
			Message: tree.MoveConfirmationText,
		}
		c.mu.Unlock()
		c.emit()
		return MoveNeedsConfirmation, nil
	}
	err := c.applyMoveLocked(t, src, dst)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	c.emit()
	return MoveApplied, nil
}

// MoveProperty — то же по пути свойства: parent "" — корень.
func (c *Controller) MoveProperty(path, parent string, index int) (MoveOutcome, error) {
	c.mu.Lock()
	t := c.treeLocked()
	c.mu.Unlock()
	src, ok := t.PositionOf(path)
	if !ok {
		return "", tree.ErrUnknownItem
	}
	dst := tree.Position{ParentID: parent, Index: index}
	if parent == "" {
		dst.ParentID = t.RootID
	}
	return c.Move(src, dst)
}

func (c *Controller) applyMoveLocked(t tree.Tree, src, dst tree.Position) error {
	moved, err := tree.Move(t, src, dst)
	if err != nil {
		return err
	}
	props, order := tree.FromTree(moved)
	c.draft.Properties, c.draft.PropertiesOrder = props, order
	c.form = nil
	c.selected = ""
	c.changedLocked()
	return nil
}

// ConfirmMove применяет ожидающий перенос. Черновик мог измениться, поэтому
// проверка повторяется на текущем дереве.
func (c *Controller) ConfirmMove() error {
	c.mu.Lock()
	pm := c.pendingMove
	c.pendingMove = nil
	if pm == nil {
		c.mu.Unlock()
		return ErrNoPendingMove
	}
	t := c.treeLocked()
	parent, ok := t.Items[pm.Source.ParentID]
	if !ok || pm.Source.Index >= len(parent.Children) || parent.Children[pm.Source.Index] != pm.ItemID {
		c.mu.Unlock()
		c.emit()
		return schema.FieldError{Code: schema.ErrInvalidMove, Field: pm.ItemID, Message: "the schema changed since the move was requested"}
	}
	err := c.applyMoveLocked(t, pm.Source, pm.Dest)
	c.mu.Unlock()
	c.emit()
	return err
}

func (c *Controller) CancelMove() {
	c.mu.Lock()
	c.pendingMove = nil
	c.mu.Unlock()
	c.emit()
}
