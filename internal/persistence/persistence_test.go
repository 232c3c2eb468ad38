package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuhoffm/firecms/internal/schema"
)

func sample() schema.EntitySchema {
	return schema.EntitySchema{
		ID:   "products",
		Name: "Products",
		Properties: map[string]schema.PropertyOrBuilder{
			"name":  schema.FromProperty(schema.Property{Title: "Name", DataType: schema.String}),
			"total": schema.FromBuilder(&schema.Builder{Name: "total"}),
		},
		PropertiesOrder: []string{"name", "total"},
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	assert.True(t, m.Initialised())

	_, err := m.FindSchema(ctx, "products")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	require.NoError(t, m.SaveSchema(ctx, sample()))
	got, err := m.FindSchema(ctx, "products")
	require.NoError(t, err)
	assert.True(t, got.Equal(sample()))

	bad := sample()
	bad.ID = ""
	_, ok := schema.FieldErrors(m.SaveSchema(ctx, bad))
	assert.True(t, ok)
}

func TestYAMLDir_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	total := &schema.Builder{Name: "total", Build: func(schema.BuildContext) schema.Property {
		return schema.Property{DataType: schema.Number}
	}}
	reg := map[string]*schema.Builder{"total": total}

	y, err := NewYAMLDir(dir, reg)
	require.NoError(t, err)
	assert.False(t, y.Initialised())
	require.NoError(t, y.Load(ctx))
	assert.True(t, y.Initialised())

	require.NoError(t, y.SaveSchema(ctx, sample()))
	_, err = os.Stat(filepath.Join(dir, "products.yaml"))
	require.NoError(t, err)
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, matches)

	// новый экземпляр читает с диска
	y2, _ := NewYAMLDir(dir, reg)
	require.NoError(t, y2.Load(ctx))
	got, err := y2.FindSchema(ctx, "products")
	require.NoError(t, err)
	assert.True(t, got.Equal(sample()))
	b, ok := got.Properties["total"].Builder()
	require.True(t, ok)
	assert.Same(t, total, b)

	list, err := y2.ListSchemas(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestYAMLDir_IDFromFileName(t *testing.T) {
	dir := t.TempDir()
	doc := "name: Orders\nproperties:\n  total:\n    dataType: number\npropertiesOrder: [total]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.yml"), []byte(doc), 0o644))

	y, _ := NewYAMLDir(dir, nil)
	require.NoError(t, y.Load(context.Background()))
	got, err := y.FindSchema(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders", got.Name)
	require.NoError(t, got.Validate())
}
