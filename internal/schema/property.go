package schema

import "slices"

// DataType — дискриминатор типа свойства.
type DataType string

const (
	String    DataType = "string"
	Number    DataType = "number"
	Boolean   DataType = "boolean"
	Date      DataType = "date"
	Reference DataType = "reference"
	Map       DataType = "map"
	Array     DataType = "array"
	GeoPoint  DataType = "geopoint"
)

// Known сообщает, поддерживается ли тип.
func (t DataType) Known() bool {
	switch t {
	case String, Number, Boolean, Date, Reference, Map, Array, GeoPoint:
		return true
	}
	return false
}

type EnumValue struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

type Validation struct {
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Property описывает одно поле сущности. Это данные, а не поведение:
// все операции над ним возвращают копии.
type Property struct {
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	DataType    DataType    `json:"dataType" yaml:"dataType" validate:"required"`
	Validation  *Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
	EnumValues  []EnumValue `json:"enumValues,omitempty" yaml:"enumValues,omitempty"`
	ReadOnly    bool        `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`

	// reference: путь целевой коллекции
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// array: описание элемента
	Of *Property `json:"of,omitempty" yaml:"of,omitempty"`
	// map: вложенные свойства и их порядок
	Properties      map[string]PropertyOrBuilder `json:"properties,omitempty" yaml:"properties,omitempty"`
	PropertiesOrder []string                     `json:"propertiesOrder,omitempty" yaml:"propertiesOrder,omitempty"`
}

func (p Property) Required() bool { return p.Validation != nil && p.Validation.Required }
func (p Property) Unique() bool   { return p.Validation != nil && p.Validation.Unique }

// IsMap — только map-свойства могут содержать вложенные свойства.
func (p Property) IsMap() bool { return p.DataType == Map }

// Clone возвращает глубокую копию.
func (p Property) Clone() Property {
	out := p
	if p.Validation != nil {
		v := *p.Validation
		if p.Validation.Min != nil {
			m := *p.Validation.Min
			v.Min = &m
		}
		if p.Validation.Max != nil {
			m := *p.Validation.Max
			v.Max = &m
		}
		out.Validation = &v
	}
	out.EnumValues = slices.Clone(p.EnumValues)
	if p.Of != nil {
		of := p.Of.Clone()
		out.Of = &of
	}
	out.Properties = cloneProperties(p.Properties)
	out.PropertiesOrder = slices.Clone(p.PropertiesOrder)
	return out
}

// Equal — структурное сравнение без reflect.
func (p Property) Equal(o Property) bool {
	if p.Title != o.Title || p.Description != o.Description || p.DataType != o.DataType ||
		p.ReadOnly != o.ReadOnly || p.Path != o.Path {
		return false
	}
	if !validationEqual(p.Validation, o.Validation) {
		return false
	}
	if !slices.Equal(p.EnumValues, o.EnumValues) {
		return false
	}
	if (p.Of == nil) != (o.Of == nil) {
		return false
	}
	if p.Of != nil && !p.Of.Equal(*o.Of) {
		return false
	}
	return PropertiesEqual(p.Properties, o.Properties) && slices.Equal(p.PropertiesOrder, o.PropertiesOrder)
}

func validationEqual(a, b *Validation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Required == b.Required && a.Unique == b.Unique && a.Pattern == b.Pattern &&
		floatPtrEqual(a.Min, b.Min) && floatPtrEqual(a.Max, b.Max)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PropertiesEqual сравнивает два набора свойств по ключам.
func PropertiesEqual(a, b map[string]PropertyOrBuilder) bool {
	if len(a) != len(b) {
		return false
	}
	for k, pa := range a {
		pb, ok := b[k]
		if !ok || !pa.Equal(pb) {
			return false
		}
	}
	return true
}

func cloneProperties(in map[string]PropertyOrBuilder) map[string]PropertyOrBuilder {
	if in == nil {
		return nil
	}
	out := make(map[string]PropertyOrBuilder, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
