package pg

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/schema"
)

func uniq() *schema.Validation { return &schema.Validation{Unique: true} }

func shopSchemas() []schema.EntitySchema {
	return []schema.EntitySchema{{
		ID:   "products",
		Name: "Products",
		Properties: map[string]schema.PropertyOrBuilder{
			"sku":   schema.FromProperty(schema.Property{DataType: schema.String, Validation: uniq()}),
			"price": schema.FromProperty(schema.Property{DataType: schema.Number}),
			"meta": schema.FromProperty(schema.Property{
				DataType: schema.Map,
				Properties: map[string]schema.PropertyOrBuilder{
					"barcode": schema.FromProperty(schema.Property{DataType: schema.String, Validation: uniq()}),
				},
				PropertiesOrder: []string{"barcode"},
			}),
			"label": schema.FromBuilder(&schema.Builder{Name: "label"}),
		},
		PropertiesOrder: []string{"sku", "price", "meta", "label"},
	}}
}

func TestUniqueIndexes(t *testing.T) {
	idx := UniqueIndexes(shopSchemas())
	assert.Equal(t, []UniqueIndex{
		{Name: "uq_products__meta_barcode", Path: "products", Field: "meta.barcode"},
		{Name: "uq_products__sku", Path: "products", Field: "sku"},
	}, idx)
}

func TestIndexName_Long(t *testing.T) {
	long := strings.Repeat("collection", 10)
	a := indexName(long, "a")
	b := indexName(long, "b")
	assert.LessOrEqual(t, len(a), maxIdent)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "uq_users_admins__email", indexName("users/admins", "email"))
}

func TestPool_Defaults(t *testing.T) {
	p := Pool{}.withDefaults()
	assert.Equal(t, 10, p.MaxConns)
	assert.Equal(t, 30*time.Minute, p.MaxLifetime)
	assert.Equal(t, 5*time.Second, p.PingTimeout)
	assert.Equal(t, 5, p.idle())

	p = Pool{MaxConns: 1, MaxLifetime: time.Minute}.withDefaults()
	assert.Equal(t, 1, p.MaxConns)
	assert.Equal(t, time.Minute, p.MaxLifetime)
	assert.Equal(t, 1, p.idle())
}

func TestGenerateDDL(t *testing.T) {
	ddl := GenerateDDL(shopSchemas())
	require.Contains(t, ddl, "000_entities")
	require.Contains(t, ddl, "010_schemas")
	assert.Equal(t,
		`create unique index if not exists "uq_products__meta_barcode" on firecms_entities ((btrim("values" #>> '{meta,barcode}'))) where "path" = 'products';`,
		ddl["100_uq_products__meta_barcode"])
	assert.Contains(t, ddl["100_uq_products__sku"], `'{sku}'`)
	assert.Len(t, ddl, 4)

	assert.Equal(t, `'it''s'`, sqlString("it's"))
}

// startPostgres поднимает контейнер; без docker тест пропускается.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("firecms"),
		postgres.WithUsername("firecms"),
		postgres.WithPassword("firecms"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := Open(ctx, dsn, Pool{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEntityStore_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	schemas := shopSchemas()
	require.NoError(t, ApplyDDL(ctx, db, GenerateDDL(schemas)))
	// повторное применение ничего не ломает
	require.NoError(t, ApplyDDL(ctx, db, GenerateDDL(schemas)))

	store := NewEntityStore(db)
	store.UseIndexes(UniqueIndexes(schemas))

	a, err := store.SaveEntity(ctx, datasource.SaveRequest{Path: "products", Status: datasource.StatusNew,
		Values: map[string]any{"sku": "A-1", "price": 10, "meta": map[string]any{"barcode": "111"}}})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	assert.Equal(t, 10.0, a.Values["price"])

	_, err = store.SaveEntity(ctx, datasource.SaveRequest{Path: "products", ID: "b", Status: datasource.StatusNew,
		Values: map[string]any{"sku": "B-1", "price": 5}})
	require.NoError(t, err)

	_, err = store.SaveEntity(ctx, datasource.SaveRequest{Path: "products", ID: "b", Status: datasource.StatusNew})
	assert.ErrorIs(t, err, datasource.ErrAlreadyExists)

	_, err = store.SaveEntity(ctx, datasource.SaveRequest{Path: "products", Status: datasource.StatusNew,
		Values: map[string]any{"sku": " A-1 "}})
	fes, ok := schema.FieldErrors(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, schema.ErrUniqueViolation, fes[0].Code)
	assert.Equal(t, "sku", fes[0].Field)

	free, err := store.CheckUniqueField(ctx, "products", "meta.barcode", "111", "")
	require.NoError(t, err)
	assert.False(t, free)
	free, err = store.CheckUniqueField(ctx, "products", "meta.barcode", "111", a.ID)
	require.NoError(t, err)
	assert.True(t, free)

	got, err := store.FetchEntity(ctx, "products", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "111", got.Values["meta"].(map[string]any)["barcode"])

	list, err := store.FetchCollection(ctx, "products", datasource.Query{
		Sort:   []datasource.SortKey{{Field: "price"}},
		Filter: []datasource.Condition{{Field: "price", Op: datasource.OpGte, Values: []string{"5"}}},
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)

	n, err := store.CountCollection(ctx, "products", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.SaveEntity(ctx, datasource.SaveRequest{Path: "products", ID: "missing", Status: datasource.StatusExisting})
	assert.ErrorIs(t, err, datasource.ErrNotFound)

	require.NoError(t, store.DeleteEntity(ctx, got))
	assert.ErrorIs(t, store.DeleteEntity(ctx, got), datasource.ErrNotFound)
	_, err = store.FetchEntity(ctx, "products", a.ID)
	assert.ErrorIs(t, err, datasource.ErrNotFound)
}

func TestSchemaStore_Integration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	label := &schema.Builder{Name: "label"}
	store := NewSchemaStore(db, map[string]*schema.Builder{"label": label})
	assert.False(t, store.Initialised())
	require.NoError(t, store.Load(ctx))
	assert.True(t, store.Initialised())

	s := shopSchemas()[0]
	require.NoError(t, store.SaveSchema(ctx, s))
	s.Name = "Goods"
	require.NoError(t, store.SaveSchema(ctx, s))

	got, err := store.FindSchema(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, "Goods", got.Name)
	assert.Equal(t, s.PropertiesOrder, got.PropertiesOrder)
	b, ok := got.Properties["label"].Builder()
	require.True(t, ok)
	assert.Same(t, label, b)

	_, err = store.FindSchema(ctx, "nope")
	assert.ErrorIs(t, err, persistence.ErrSchemaNotFound)

	all, err := store.ListSchemas(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	bad := s
	bad.ID = ""
	_, ok = schema.FieldErrors(store.SaveSchema(ctx, bad))
	assert.True(t, ok)
}
