package schema

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// BuildContext передаётся билдеру при вычислении свойства.
type BuildContext struct {
	Path     string
	EntityID string
	Values   map[string]any
}

// Builder — свойство, заданное кодом. В редакторе его можно только смотреть:
// ни перемещать, ни править, ни удалять.
type Builder struct {
	Name  string
	Build func(BuildContext) Property
}

// PropertyOrBuilder — тегированный вариант: либо Property, либо Builder.
type PropertyOrBuilder struct {
	prop    *Property
	builder *Builder
}

func FromProperty(p Property) PropertyOrBuilder {
	return PropertyOrBuilder{prop: &p}
}

func FromBuilder(b *Builder) PropertyOrBuilder {
	return PropertyOrBuilder{builder: b}
}

func (pb PropertyOrBuilder) IsBuilder() bool { return pb.builder != nil }
func (pb PropertyOrBuilder) IsZero() bool    { return pb.prop == nil && pb.builder == nil }

// Property возвращает конкретное свойство; для билдера ok=false.
func (pb PropertyOrBuilder) Property() (Property, bool) {
	if pb.prop == nil {
		return Property{}, false
	}
	return *pb.prop, true
}

func (pb PropertyOrBuilder) Builder() (*Builder, bool) {
	return pb.builder, pb.builder != nil
}

// Resolve вычисляет свойство. Билдер без функции (например, прочитанный из
// хранилища) не разрешается.
func (pb PropertyOrBuilder) Resolve(ctx BuildContext) (Property, bool) {
	if pb.prop != nil {
		return *pb.prop, true
	}
	if pb.builder != nil && pb.builder.Build != nil {
		return pb.builder.Build(ctx), true
	}
	return Property{}, false
}

// IsMap — true только для конкретного map-свойства.
func (pb PropertyOrBuilder) IsMap() bool {
	return pb.prop != nil && pb.prop.DataType == Map
}

// Clone копирует свойство; билдер остаётся тем же указателем.
func (pb PropertyOrBuilder) Clone() PropertyOrBuilder {
	if pb.prop != nil {
		return FromProperty(pb.prop.Clone())
	}
	return pb
}

func (pb PropertyOrBuilder) Equal(o PropertyOrBuilder) bool {
	switch {
	case pb.builder != nil || o.builder != nil:
		if pb.builder == nil || o.builder == nil {
			return false
		}
		return pb.builder == o.builder || pb.builder.Name == o.builder.Name
	case pb.prop != nil && o.prop != nil:
		return pb.prop.Equal(*o.prop)
	default:
		return pb.prop == nil && o.prop == nil
	}
}

type builderRef struct {
	Builder string `json:"builder" yaml:"builder"`
}

func (pb PropertyOrBuilder) MarshalJSON() ([]byte, error) {
	switch {
	case pb.builder != nil:
		return json.Marshal(builderRef{Builder: pb.builder.Name})
	case pb.prop != nil:
		return json.Marshal(*pb.prop)
	}
	return []byte("null"), nil
}

func (pb *PropertyOrBuilder) UnmarshalJSON(b []byte) error {
	var ref builderRef
	if err := json.Unmarshal(b, &ref); err != nil {
		return err
	}
	if ref.Builder != "" {
		*pb = FromBuilder(&Builder{Name: ref.Builder})
		return nil
	}
	var p Property
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*pb = FromProperty(p)
	return nil
}

func (pb PropertyOrBuilder) MarshalYAML() (any, error) {
	switch {
	case pb.builder != nil:
		return builderRef{Builder: pb.builder.Name}, nil
	case pb.prop != nil:
		return *pb.prop, nil
	}
	return nil, nil
}

func (pb *PropertyOrBuilder) UnmarshalYAML(value *yaml.Node) error {
	var ref builderRef
	if err := value.Decode(&ref); err != nil {
		return err
	}
	if ref.Builder != "" {
		*pb = FromBuilder(&Builder{Name: ref.Builder})
		return nil
	}
	var p Property
	if err := value.Decode(&p); err != nil {
		return err
	}
	*pb = FromProperty(p)
	return nil
}

// BindBuilders подставляет зарегистрированные билдеры вместо прочитанных
// из хранилища ссылок {builder: name}. Незнакомые имена остаются как есть.
func BindBuilders(props map[string]PropertyOrBuilder, reg map[string]*Builder) map[string]PropertyOrBuilder {
	if len(reg) == 0 || props == nil {
		return props
	}
	out := make(map[string]PropertyOrBuilder, len(props))
	for k, pb := range props {
		switch {
		case pb.builder != nil:
			if b, ok := reg[pb.builder.Name]; ok {
				pb = FromBuilder(b)
			}
		case pb.prop != nil && pb.prop.IsMap():
			p := *pb.prop
			p.Properties = BindBuilders(p.Properties, reg)
			pb = FromProperty(p)
		}
		out[k] = pb
	}
	return out
}
