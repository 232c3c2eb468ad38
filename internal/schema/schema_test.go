package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func productSchema() EntitySchema {
	return EntitySchema{
		ID:   "products",
		Name: "Products",
		Properties: map[string]PropertyOrBuilder{
			"name":  FromProperty(Property{Title: "Name", DataType: String, Validation: &Validation{Required: true}}),
			"price": FromProperty(Property{Title: "Price", DataType: Number}),
			"address": FromProperty(Property{
				Title:    "Address",
				DataType: Map,
				Properties: map[string]PropertyOrBuilder{
					"street": FromProperty(Property{DataType: String}),
					"city":   FromProperty(Property{DataType: String}),
				},
				PropertiesOrder: []string{"street", "city"},
			}),
		},
		PropertiesOrder: []string{"name", "price", "address"},
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Product":          "product",
		"Blog Posts":       "blog_posts",
		"  Crème brûlée! ": "creme_brulee",
		"Orders 2024/Q1":   "orders_2024_q1",
		"":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, productSchema().Validate())
}

func TestValidate_MissingIDAndName(t *testing.T) {
	s := productSchema()
	s.ID, s.Name = "", ""
	err := s.Validate()
	require.Error(t, err)

	fes, ok := FieldErrors(err)
	require.True(t, ok)
	fields := map[string]string{}
	for _, fe := range fes {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, ErrRequired, fields["id"])
	assert.Equal(t, ErrRequired, fields["name"])
}

func TestValidate_OrderInvariant(t *testing.T) {
	s := productSchema()
	s.PropertiesOrder = []string{"name", "ghost"}
	fes, ok := FieldErrors(s.Validate())
	require.True(t, ok)

	var got []string
	for _, fe := range fes {
		got = append(got, fe.Field)
	}
	assert.Contains(t, got, "ghost")
	assert.Contains(t, got, "price")
	assert.Contains(t, got, "address")
}

func TestValidate_NestedOrderInvariant(t *testing.T) {
	s := productSchema()
	addr, _ := s.PropertyAt("address")
	p, _ := addr.Property()
	p.PropertiesOrder = []string{"street"}
	s, err := s.WithPropertyAt("address", FromProperty(p))
	require.NoError(t, err)

	fes, ok := FieldErrors(s.Validate())
	require.True(t, ok)
	require.Len(t, fes, 1)
	assert.Equal(t, "address.city", fes[0].Field)
}

func TestWithPropertyAt_Nested(t *testing.T) {
	s := productSchema()
	out, err := s.WithPropertyAt("address.zip", FromProperty(Property{DataType: String}))
	require.NoError(t, err)

	_, ok := out.PropertyAt("address.zip")
	assert.True(t, ok)
	addr, _ := out.PropertyAt("address")
	p, _ := addr.Property()
	assert.Equal(t, []string{"street", "city", "zip"}, p.PropertiesOrder)

	// исходная схема не изменилась
	_, ok = s.PropertyAt("address.zip")
	assert.False(t, ok)
}

func TestWithPropertyAt_NotMap(t *testing.T) {
	_, err := productSchema().WithPropertyAt("price.cents", FromProperty(Property{DataType: Number}))
	assert.ErrorIs(t, err, ErrNotMapProperty)
}

func TestWithoutPropertyAt(t *testing.T) {
	out, err := productSchema().WithoutPropertyAt("address.street")
	require.NoError(t, err)
	addr, _ := out.PropertyAt("address")
	p, _ := addr.Property()
	assert.Equal(t, []string{"city"}, p.PropertiesOrder)
	require.NoError(t, out.Validate())
}

func TestNormalize(t *testing.T) {
	s := productSchema()
	s.PropertiesOrder = []string{"address", "gone"}
	n := Normalize(s)
	assert.Equal(t, []string{"address", "name", "price"}, n.PropertiesOrder)
	require.NoError(t, n.Validate())
	// вход не трогаем
	assert.Equal(t, []string{"address", "gone"}, s.PropertiesOrder)
}

func TestBuilderEncoding(t *testing.T) {
	b := &Builder{Name: "price_label", Build: func(BuildContext) Property { return Property{DataType: String} }}
	s := productSchema()
	s.Properties["label"] = FromBuilder(b)
	s.PropertiesOrder = append(s.PropertiesOrder, "label")

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var back EntitySchema
	require.NoError(t, json.Unmarshal(raw, &back))
	lbl := back.Properties["label"]
	require.True(t, lbl.IsBuilder())
	assert.True(t, back.Equal(s))

	y, err := yaml.Marshal(s)
	require.NoError(t, err)
	var fromYAML EntitySchema
	require.NoError(t, yaml.Unmarshal(y, &fromYAML))
	assert.True(t, fromYAML.Properties["label"].IsBuilder())
	assert.True(t, fromYAML.Equal(s))
}

func TestValidateValue(t *testing.T) {
	v, err := ValidateValue("price", Property{DataType: Number}, "12.5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	_, err = ValidateValue("name", Property{DataType: String, Validation: &Validation{Required: true}}, "")
	fes, _ := FieldErrors(err)
	require.Len(t, fes, 1)
	assert.Equal(t, ErrRequired, fes[0].Code)

	_, err = ValidateValue("status", Property{DataType: String, EnumValues: []EnumValue{{ID: "draft"}}}, "live")
	fes, _ = FieldErrors(err)
	require.Len(t, fes, 1)
	assert.Equal(t, ErrEnumInvalid, fes[0].Code)

	_, err = ValidateValue("tags", Property{DataType: Array, Of: &Property{DataType: Number}}, []any{1.0, "x"})
	fes, _ = FieldErrors(err)
	require.Len(t, fes, 1)
	assert.Equal(t, "tags[1]", fes[0].Field)
}

func TestValidateValues(t *testing.T) {
	s := productSchema()
	out, err := ValidateValues(s, map[string]any{"name": "Lamp", "price": "3", "extra": true})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out["price"])
	assert.Equal(t, true, out["extra"])

	_, err = ValidateValues(s, map[string]any{"price": 1.0})
	fes, ok := FieldErrors(err)
	require.True(t, ok)
	assert.Equal(t, "name", fes[0].Field)
}

func TestValueAt(t *testing.T) {
	vals := map[string]any{"address": map[string]any{"city": "Oslo"}}
	v, ok := ValueAt(vals, "address.city")
	require.True(t, ok)
	assert.Equal(t, "Oslo", v)

	out := WithValueAt(vals, "address.zip", "0150")
	v, _ = ValueAt(out, "address.zip")
	assert.Equal(t, "0150", v)
	_, ok = ValueAt(vals, "address.zip")
	assert.False(t, ok)
}

func TestBindBuilders(t *testing.T) {
	b := &Builder{Name: "total", Build: func(BuildContext) Property { return Property{DataType: Number} }}
	props := map[string]PropertyOrBuilder{
		"total": FromBuilder(&Builder{Name: "total"}),
		"box": FromProperty(Property{DataType: Map, Properties: map[string]PropertyOrBuilder{
			"inner": FromBuilder(&Builder{Name: "total"}),
			"other": FromBuilder(&Builder{Name: "unknown"}),
		}, PropertiesOrder: []string{"inner", "other"}}),
	}
	out := BindBuilders(props, map[string]*Builder{"total": b})

	got, _ := out["total"].Builder()
	assert.Same(t, b, got)
	inner, _ := PropertyAt(out, "box.inner")
	p, ok := inner.Resolve(BuildContext{})
	require.True(t, ok)
	assert.Equal(t, Number, p.DataType)
	other, _ := PropertyAt(out, "box.other")
	_, ok = other.Resolve(BuildContext{})
	assert.False(t, ok)
	// вход не тронут
	orig, _ := props["total"].Builder()
	assert.Nil(t, orig.Build)
}
