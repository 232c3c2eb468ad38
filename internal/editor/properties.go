package editor

import (
	"strings"

	"github.com/neuhoffm/firecms/internal/schema"
)

func fieldErr(code, field, msg string) schema.FieldError {
	return schema.FieldError{Code: code, Field: field, Message: msg}
}

// OpenNewProperty открывает под-форму нового свойства. parent — путь
// map-свойства или "" для корня.
func (c *Controller) OpenNewProperty(parent string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	if parent != "" {
		pb, ok := c.draft.PropertyAt(parent)
		if !ok {
			c.mu.Unlock()
			return fieldErr(schema.ErrNotFound, parent, "property not found")
		}
		if !pb.IsMap() {
			c.mu.Unlock()
			return schema.ErrNotMapProperty
		}
	}
	c.form = &PropertyForm{Mode: FormNew, Parent: parent, Property: schema.Property{DataType: schema.String}}
	c.mu.Unlock()
	c.emit()
	return nil
}

// ConfirmNewProperty добавляет свойство в конец порядка своего уровня и
// закрывает под-форму.
func (c *Controller) ConfirmNewProperty(key string, p schema.Property) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.form == nil || c.form.Mode != FormNew {
		c.mu.Unlock()
		return ErrNoPropertyForm
	}
	key = strings.TrimSpace(key)
	path := schema.JoinPath(c.form.Parent, key)
	if err := checkNewProperty(c.draft, path, key, p); err != nil {
		c.mu.Unlock()
		return err
	}
	next, err := c.draft.WithPropertyAt(path, schema.FromProperty(p))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft = next
	c.form = nil
	c.changedLocked()
	c.mu.Unlock()
	c.emit()
	return nil
}

func checkNewProperty(s schema.EntitySchema, path, key string, p schema.Property) error {
	if !schema.IsValidKey(key) {
		return fieldErr(schema.ErrInvalidSchema, path, "key must start with a letter or '_' and contain only letters, digits or '_'")
	}
	if _, exists := s.PropertyAt(path); exists {
		return fieldErr(schema.ErrInvalidSchema, path, "a property with this key already exists")
	}
	if !p.DataType.Known() {
		return fieldErr(schema.ErrTypeMismatch, path, "unknown dataType")
	}
	return nil
}

// EditProperty открывает под-форму с текущим описанием свойства.
func (c *Controller) EditProperty(path string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	p, err := c.editableLocked(path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.form = &PropertyForm{Mode: FormEdit, Path: path, Property: p}
	c.mu.Unlock()
	c.emit()
	return nil
}

func (c *Controller) editableLocked(path string) (schema.Property, error) {
	pb, ok := c.draft.PropertyAt(path)
	if !ok {
		return schema.Property{}, fieldErr(schema.ErrNotFound, path, "property not found")
	}
	p, ok := pb.Property()
	if !ok {
		return schema.Property{}, ErrBuilderReadOnly
	}
	return p.Clone(), nil
}

// UpdateProperty записывает описание по тому же пути. Вложенные свойства
// map сохраняются, если форма их не передала; смена типа с map их убирает.
func (c *Controller) UpdateProperty(path string, p schema.Property) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	old, err := c.editableLocked(path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !p.DataType.Known() {
		c.mu.Unlock()
		return fieldErr(schema.ErrTypeMismatch, path, "unknown dataType")
	}
	switch {
	case p.IsMap() && p.Properties == nil:
		p.Properties, p.PropertiesOrder = old.Properties, old.PropertiesOrder
	case !p.IsMap():
		p.Properties, p.PropertiesOrder = nil, nil
	}
	next, err := c.draft.WithPropertyAt(path, schema.FromProperty(p))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft = next
	if c.form != nil && c.form.Mode == FormEdit && c.form.Path == path {
		c.form = nil
	}
	c.changedLocked()
	c.mu.Unlock()
	c.emit()
	return nil
}

func (c *Controller) RemoveProperty(path string) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, err := c.editableLocked(path); err != nil {
		c.mu.Unlock()
		return err
	}
	next, err := c.draft.WithoutPropertyAt(path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.draft = next
	if c.selected == path || strings.HasPrefix(c.selected, path+".") {
		c.selected = ""
	}
	if c.form != nil && (c.form.Path == path || strings.HasPrefix(c.form.Path, path+".")) {
		c.form = nil
	}
	c.changedLocked()
	c.mu.Unlock()
	c.emit()
	return nil
}

func (c *Controller) CancelPropertyForm() {
	c.mu.Lock()
	c.form = nil
	c.mu.Unlock()
	c.emit()
}
