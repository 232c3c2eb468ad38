// Package permission вычисляет права на сущности коллекции. Функции чистые
// и вызываются на каждую сущность отдельно: результат не кэшируется.
package permission

import "github.com/neuhoffm/firecms/internal/datasource"

type Permissions struct {
	Create bool `json:"create" yaml:"create"`
	Edit   bool `json:"edit" yaml:"edit"`
	Delete bool `json:"delete" yaml:"delete"`
}

// All — права по умолчанию, если коллекция ничего не задала.
var All = Permissions{Create: true, Edit: true, Delete: true}

type User struct {
	UID   string   `json:"uid"`
	Roles []string `json:"roles,omitempty"`
}

// Env — окружение вычисления: произвольные данные хоста.
type Env map[string]any

// Builder вычисляет права для конкретной сущности. entity == nil — для
// коллекции в целом (например, кнопка «создать»).
type Builder func(entity *datasource.Entity, user *User, path string, env Env) Permissions

// Source — либо статические права, либо билдер. Builder приоритетнее.
type Source struct {
	Static  *Permissions
	Builder Builder
}

func (s Source) resolve(entity *datasource.Entity, user *User, path string, env Env) Permissions {
	switch {
	case s.Builder != nil:
		return s.Builder(entity, user, path, env)
	case s.Static != nil:
		return *s.Static
	}
	return All
}

func CanCreate(s Source, user *User, path string, env Env) bool {
	return s.resolve(nil, user, path, env).Create
}

func CanEdit(s Source, entity *datasource.Entity, user *User, path string, env Env) bool {
	return s.resolve(entity, user, path, env).Edit
}

func CanDelete(s Source, entity *datasource.Entity, user *User, path string, env Env) bool {
	return s.resolve(entity, user, path, env).Delete
}

// Static — удобный конструктор статического источника.
func Static(p Permissions) Source { return Source{Static: &p} }

// RoleBuilder объединяет права всех ролей пользователя. Без пользователя —
// только права роли "anonymous", если она задана.
func RoleBuilder(byRole map[string]Permissions) Builder {
	return func(_ *datasource.Entity, user *User, _ string, _ Env) Permissions {
		roles := []string{"anonymous"}
		if user != nil {
			roles = user.Roles
		}
		var out Permissions
		for _, r := range roles {
			p, ok := byRole[r]
			if !ok {
				continue
			}
			out.Create = out.Create || p.Create
			out.Edit = out.Edit || p.Edit
			out.Delete = out.Delete || p.Delete
		}
		return out
	}
}

// OwnerBuilder разрешает правку и удаление только владельцу записи
// (значение поля field совпадает с UID). Создавать может любой пользователь.
func OwnerBuilder(field string) Builder {
	return func(entity *datasource.Entity, user *User, _ string, _ Env) Permissions {
		if user == nil {
			return Permissions{}
		}
		if entity == nil {
			return Permissions{Create: true}
		}
		own := entity.Values[field] == user.UID
		return Permissions{Create: true, Edit: own, Delete: own}
	}
}
