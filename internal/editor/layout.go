package editor

import "github.com/neuhoffm/firecms/internal/schema"

// WideBreakpoint — с этой ширины редактор свойства стоит рядом с деревом.
const WideBreakpoint = 1200

type Layout string

const (
	LayoutSideBySide Layout = "side_by_side"
	LayoutDialog     Layout = "dialog"
)

func layoutFor(width int) Layout {
	if width >= WideBreakpoint {
		return LayoutSideBySide
	}
	return LayoutDialog
}

func (c *Controller) SetViewportWidth(w int) {
	c.mu.Lock()
	c.width = w
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return layoutFor(c.width)
}

// SelectProperty выбирает узел дерева и открывает его описание. Билдер
// выбирается только для просмотра.
func (c *Controller) SelectProperty(path string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	pb, ok := c.draft.PropertyAt(path)
	if !ok {
		c.mu.Unlock()
		return schema.FieldError{Code: schema.ErrNotFound, Field: path, Message: "property not found"}
	}
	c.selected = path
	c.form = nil
	if p, ok := pb.Property(); ok {
		c.form = &PropertyForm{Mode: FormEdit, Path: path, Property: p.Clone()}
	}
	c.mu.Unlock()
	c.emit()
	return nil
}

// Deselect закрывает диалог свойства на узком экране.
func (c *Controller) Deselect() {
	c.mu.Lock()
	c.selected = ""
	if c.form != nil && c.form.Mode == FormEdit {
		c.form = nil
	}
	c.mu.Unlock()
	c.emit()
}
