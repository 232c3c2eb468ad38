package dsl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/neuhoffm/firecms/internal/reference"
	"github.com/neuhoffm/firecms/internal/schema"
)

var dataTypes = map[string]schema.DataType{
	"string":   schema.String,
	"enum":     schema.String,
	"number":   schema.Number,
	"bool":     schema.Boolean,
	"date":     schema.Date,
	"geopoint": schema.GeoPoint,
	"map":      schema.Map,
	"ref":      schema.Reference,
	"array":    schema.Array,
}

// Schema строит схему сущности. Значения enum[@catalog] берутся из enums
// на дату at. Составные ключи требуют объявленного выше map.
func (e *Entity) Schema(enums reference.Catalog, at time.Time) (schema.EntitySchema, error) {
	s := schema.EntitySchema{
		ID:              e.ID,
		Name:            e.Name,
		Description:     e.Description,
		Properties:      map[string]schema.PropertyOrBuilder{},
		PropertiesOrder: []string{},
	}
	for _, f := range e.Fields {
		if _, exists := s.PropertyAt(f.Key); exists {
			return s, fmt.Errorf("%s line %d: duplicate field %s", e.ID, f.Line, f.Key)
		}
		pb, err := f.property(enums, at)
		if err != nil {
			return s, fmt.Errorf("%s line %d: %w", e.ID, f.Line, err)
		}
		next, err := s.WithPropertyAt(f.Key, pb)
		if err != nil {
			return s, fmt.Errorf("%s line %d: %w", e.ID, f.Line, err)
		}
		s = next
	}
	for _, set := range e.Unique {
		if len(set) != 1 {
			continue // составные ключи отмечает Lint
		}
		pb, ok := s.PropertyAt(set[0])
		p, isProp := pb.Property()
		if !ok || !isProp {
			return s, fmt.Errorf("%s: unique(%s): no such field", e.ID, set[0])
		}
		if p.Validation == nil {
			p.Validation = &schema.Validation{}
		}
		p.Validation.Unique = true
		s, _ = s.WithPropertyAt(set[0], schema.FromProperty(p))
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", e.ID, err)
	}
	return s, nil
}

func (f Field) property(enums reference.Catalog, at time.Time) (schema.PropertyOrBuilder, error) {
	if f.Type == "builder" {
		return schema.FromBuilder(&schema.Builder{Name: f.Builder}), nil
	}
	p := schema.Property{DataType: dataTypes[f.Type]}
	if f.Type == "array" {
		elem := schema.Property{DataType: dataTypes[f.ElemType]}
		if err := f.fill(&elem, f.ElemType, enums, at); err != nil {
			return schema.PropertyOrBuilder{}, err
		}
		p.Of = &elem
	} else if err := f.fill(&p, f.Type, enums, at); err != nil {
		return schema.PropertyOrBuilder{}, err
	}
	if f.Type == "map" {
		p.Properties = map[string]schema.PropertyOrBuilder{}
		p.PropertiesOrder = []string{}
	}
	if err := applyOptions(&p, f.Options); err != nil {
		return schema.PropertyOrBuilder{}, fmt.Errorf("field %s: %w", f.Key, err)
	}
	return schema.FromProperty(p), nil
}

// fill — часть описания, зависящая от типа (для array — от типа элемента).
func (f Field) fill(p *schema.Property, typ string, enums reference.Catalog, at time.Time) error {
	switch typ {
	case "enum":
		if f.Catalog != "" {
			vals, err := enums.EnumValues(f.Catalog, at)
			if err != nil {
				return fmt.Errorf("field %s: %w %q", f.Key, err, f.Catalog)
			}
			p.EnumValues = vals
			return nil
		}
		for _, v := range f.Enum {
			p.EnumValues = append(p.EnumValues, schema.EnumValue{ID: v, Label: v})
		}
	case "ref":
		p.Path = f.Target
	}
	return nil
}

func applyOptions(p *schema.Property, opts map[string]string) error {
	v := schema.Validation{}
	for k, raw := range opts {
		switch k {
		case "required":
			v.Required = isTrue(raw)
		case "unique":
			v.Unique = isTrue(raw)
		case "readonly":
			p.ReadOnly = isTrue(raw)
		case "title":
			p.Title = raw
		case "description":
			p.Description = raw
		case "pattern":
			v.Pattern = raw
		case "min", "max":
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("option %s: not a number %q", k, raw)
			}
			if k == "min" {
				v.Min = &n
			} else {
				v.Max = &n
			}
		}
	}
	if v != (schema.Validation{}) {
		p.Validation = &v
	}
	return nil
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "true", "yes":
		return true
	}
	return false
}

// Schemas строит схемы всех сущностей, отсортированные по id.
func Schemas(entities map[string]*Entity, enums reference.Catalog, at time.Time) ([]schema.EntitySchema, error) {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]schema.EntitySchema, 0, len(ids))
	for _, id := range ids {
		s, err := entities[id].Schema(enums, at)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
