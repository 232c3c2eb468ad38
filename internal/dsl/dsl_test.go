package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuhoffm/firecms/internal/reference"
	"github.com/neuhoffm/firecms/internal/schema"
)

const productsDSL = `
# каталог
entity products "Products":
  description: "Goods on sale"
  name: string required title="Product name"
  sku: string pattern=^[A-Z0-9 _-]+$  # артикул
  price: number min=0, max=10000
  status: enum[draft, published] required
  currency: enum[@currency]
  category: ref[categories]
  tags: array[enum[new, hot]]
  address: map
  address.street: string
  address.city: string required
  label: builder[price_label]
  constraints:
    unique(sku)
    unique(name, category)

entity categories:
  title: string required
`

func parse(t *testing.T) map[string]*Entity {
	t.Helper()
	ents, err := Parse(strings.NewReader(productsDSL), "products.dsl")
	require.NoError(t, err)
	out := map[string]*Entity{}
	for _, e := range ents {
		out[e.ID] = e
	}
	return out
}

func TestParse(t *testing.T) {
	ents := parse(t)
	require.Len(t, ents, 2)

	p := ents["products"]
	assert.Equal(t, "Products", p.Name)
	assert.Equal(t, "Goods on sale", p.Description)
	assert.Equal(t, "products.dsl:3", p.Source)
	assert.Equal(t, [][]string{{"sku"}, {"name", "category"}}, p.Unique)
	assert.Equal(t, "categories", ents["categories"].Name)

	byKey := map[string]Field{}
	for _, f := range p.Fields {
		byKey[f.Key] = f
	}
	assert.Equal(t, "Product name", byKey["name"].Options["title"])
	assert.Equal(t, "^[A-Z0-9 _-]+$", byKey["sku"].Options["pattern"])
	assert.Equal(t, "0", byKey["price"].Options["min"])
	assert.Equal(t, "10000", byKey["price"].Options["max"])
	assert.Equal(t, []string{"draft", "published"}, byKey["status"].Enum)
	assert.Equal(t, "true", byKey["status"].Options["required"])
	assert.Equal(t, "currency", byKey["currency"].Catalog)
	assert.Equal(t, "categories", byKey["category"].Target)
	assert.Equal(t, "array", byKey["tags"].Type)
	assert.Equal(t, "enum", byKey["tags"].ElemType)
	assert.Equal(t, []string{"new", "hot"}, byKey["tags"].Enum)
	assert.Equal(t, "price_label", byKey["label"].Builder)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"outside":  "name: string",
		"header":   "entity Bad Name:",
		"type":     "entity x:\n  a: blob",
		"unclosed": "entity x:\n  a: enum[a, b",
		"empty":    "entity x:\n  a: enum[]",
	}
	for name, src := range cases {
		_, err := Parse(strings.NewReader(src), "t.dsl")
		assert.Error(t, err, name)
	}
}

func TestSchema(t *testing.T) {
	enums := reference.Catalog{"currency": {Name: "currency", Items: []reference.EnumItem{{Code: "EUR", Name: "Euro"}}}}
	s, err := parse(t)["products"].Schema(enums, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "sku", "price", "status", "currency", "category", "tags", "address", "label"}, s.PropertiesOrder)

	get := func(path string) schema.Property {
		pb, ok := s.PropertyAt(path)
		require.True(t, ok, path)
		p, ok := pb.Property()
		require.True(t, ok, path)
		return p
	}
	assert.True(t, get("name").Required())
	assert.True(t, get("sku").Unique())
	assert.False(t, get("name").Unique())
	assert.Equal(t, 10000.0, *get("price").Validation.Max)
	assert.Equal(t, schema.String, get("status").DataType)
	assert.Equal(t, []schema.EnumValue{{ID: "EUR", Label: "Euro"}}, get("currency").EnumValues)
	assert.Equal(t, "categories", get("category").Path)
	assert.Equal(t, schema.Array, get("tags").DataType)
	assert.Len(t, get("tags").Of.EnumValues, 2)
	assert.Equal(t, []string{"street", "city"}, get("address").PropertiesOrder)
	assert.True(t, get("address.city").Required())

	label, _ := s.PropertyAt("label")
	b, ok := label.Builder()
	require.True(t, ok)
	assert.Equal(t, "price_label", b.Name)
}

func TestSchema_Errors(t *testing.T) {
	cases := map[string]string{
		"catalog":   "entity x:\n  a: enum[@missing]",
		"parent":    "entity x:\n  a.b: string",
		"not map":   "entity x:\n  a: string\n  a.b: string",
		"duplicate": "entity x:\n  a: string\n  a: number",
		"min":       "entity x:\n  a: number min=abc",
		"unique":    "entity x:\n  a: string\n  constraints:\n    unique(zzz)",
	}
	for name, src := range cases {
		ents, err := Parse(strings.NewReader(src), "t.dsl")
		require.NoError(t, err, name)
		_, err = ents[0].Schema(reference.Catalog{}, time.Now())
		assert.Error(t, err, name)
	}
}

func TestLint(t *testing.T) {
	ents := parse(t)
	ents["orders"] = &Entity{ID: "orders", Fields: []Field{
		{Key: "buyer", Type: "ref", Target: "users", Options: map[string]string{"on_delete": "cascade"}},
		{Key: "code", Type: "string", Options: map[string]string{"required": "true", "readonly": "true"}},
		{Key: "lines", Type: "array", ElemType: "string", Options: map[string]string{"unique": "true"}},
	}}
	codes := map[string]int{}
	blocking := 0
	for _, is := range Lint(ents) {
		codes[is.Code]++
		if is.Blocking() {
			blocking++
		}
	}
	assert.Equal(t, 4, blocking)
	assert.Equal(t, map[string]int{
		"unique_composite":   1,
		"option_unknown":     1,
		"ref_target_unknown": 1,
		"required_readonly":  1,
		"unique_not_scalar":  1,
	}, codes)
}

func TestLoadAllEntities(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop", "a.dsl"), []byte(productsDSL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("entity nope:"), 0o644))

	ents, err := LoadAllEntities(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dsl"), []byte("entity products:\n  x: string"), 0o644))
	_, err = LoadAllEntities(dir)
	assert.ErrorContains(t, err, "duplicate entity")

	ents, err = LoadAllEntities(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, ents)
}
