package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuhoffm/firecms/internal/debounce"
	"github.com/neuhoffm/firecms/internal/debounce/debouncetest"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/tree"
)

type spyStore struct {
	*persistence.Memory
	mu     sync.Mutex
	saved  []schema.EntitySchema
	fail   error
	notYet bool
	onSave func()
}

func newSpy(seed ...schema.EntitySchema) *spyStore {
	return &spyStore{Memory: persistence.NewMemory(nil, seed...)}
}

func (s *spyStore) Initialised() bool { return !s.notYet }

func (s *spyStore) SaveSchema(ctx context.Context, sc schema.EntitySchema) error {
	s.mu.Lock()
	s.saved = append(s.saved, sc)
	fail, hook := s.fail, s.onSave
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail != nil {
		return fail
	}
	return s.Memory.SaveSchema(ctx, sc)
}

func (s *spyStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func str() schema.Property { return schema.Property{DataType: schema.String} }

func productSchema() schema.EntitySchema {
	return schema.EntitySchema{
		ID:   "products",
		Name: "Products",
		Properties: map[string]schema.PropertyOrBuilder{
			"name": schema.FromProperty(schema.Property{Title: "Name", DataType: schema.String}),
			"address": schema.FromProperty(schema.Property{
				DataType: schema.Map,
				Properties: map[string]schema.PropertyOrBuilder{
					"street": schema.FromProperty(str()),
					"city":   schema.FromProperty(str()),
				},
				PropertiesOrder: []string{"street", "city"},
			}),
			"price": schema.FromProperty(schema.Property{DataType: schema.Number}),
			"label": schema.FromBuilder(&schema.Builder{Name: "label"}),
		},
		PropertiesOrder: []string{"name", "address", "price", "label"},
	}
}

func loaded(t *testing.T, opts ...Option) (*Controller, *spyStore) {
	t.Helper()
	store := newSpy(productSchema())
	c, err := New(store, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), "products"))
	return c, store
}

func TestNew_RequiresPersistence(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoPersistence)
}

func TestSlugDerivation(t *testing.T) {
	c, err := New(newSpy())
	require.NoError(t, err)
	c.NewSchema()

	require.NoError(t, c.SetName("Product"))
	assert.Equal(t, "product", c.Draft().ID)
	require.NoError(t, c.SetName("Blog Post"))
	assert.Equal(t, "blog_post", c.Draft().ID)

	require.NoError(t, c.SetID("posts"))
	require.NoError(t, c.SetName("Something Else"))
	assert.Equal(t, "posts", c.Draft().ID)
	assert.True(t, c.Snapshot().IDTouched)
}

func TestExistingSchema_IDImmutable(t *testing.T) {
	c, _ := loaded(t)
	assert.ErrorIs(t, c.SetID("other"), ErrIDImmutable)
	require.NoError(t, c.SetName("Goods"))
	assert.Equal(t, "products", c.Draft().ID)
	assert.False(t, c.Snapshot().IDEditable)
}

func TestLoad_Errors(t *testing.T) {
	store := newSpy()
	c, _ := New(store)
	err := c.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrSchemaNotFound)

	store.notYet = true
	assert.ErrorIs(t, c.Load(context.Background(), "missing"), ErrNotReady)
	assert.ErrorIs(t, c.SetName("x"), ErrNoDraft)
}

func TestAddProperty(t *testing.T) {
	c, _ := loaded(t)
	assert.ErrorIs(t, c.ConfirmNewProperty("sku", str()), ErrNoPropertyForm)

	require.NoError(t, c.OpenNewProperty(""))
	require.NotNil(t, c.Snapshot().Form)
	require.NoError(t, c.ConfirmNewProperty("sku", str()))
	d := c.Draft()
	assert.Equal(t, []string{"name", "address", "price", "label", "sku"}, d.PropertiesOrder)
	assert.Nil(t, c.Snapshot().Form)
	assert.True(t, c.Dirty())

	require.NoError(t, c.OpenNewProperty("address"))
	require.NoError(t, c.ConfirmNewProperty("zip", str()))
	addr, _ := c.Draft().PropertyAt("address")
	p, _ := addr.Property()
	assert.Equal(t, []string{"street", "city", "zip"}, p.PropertiesOrder)

	require.NoError(t, c.OpenNewProperty(""))
	fes, ok := schema.FieldErrors(c.ConfirmNewProperty("name", str()))
	require.True(t, ok)
	assert.Equal(t, "name", fes[0].Field)
	_, ok = schema.FieldErrors(c.ConfirmNewProperty("bad.key", str()))
	assert.True(t, ok)

	assert.ErrorIs(t, c.OpenNewProperty("price"), schema.ErrNotMapProperty)
}

func TestEditNestedProperty(t *testing.T) {
	c, _ := loaded(t)
	require.NoError(t, c.EditProperty("address.city"))
	form := c.Snapshot().Form
	require.NotNil(t, form)
	assert.Equal(t, FormEdit, form.Mode)

	upd := form.Property
	upd.Title = "City"
	upd.Validation = &schema.Validation{Required: true}
	require.NoError(t, c.UpdateProperty("address.city", upd))

	pb, _ := c.Draft().PropertyAt("address.city")
	p, _ := pb.Property()
	assert.Equal(t, "City", p.Title)
	assert.True(t, p.Required())
	assert.Nil(t, c.Snapshot().Form)

	// правка самого map без вложенных сохраняет детей
	require.NoError(t, c.UpdateProperty("address", schema.Property{Title: "Address", DataType: schema.Map}))
	_, ok := c.Draft().PropertyAt("address.street")
	assert.True(t, ok)
}

func TestBuilderReadOnly(t *testing.T) {
	c, _ := loaded(t)
	assert.ErrorIs(t, c.EditProperty("label"), ErrBuilderReadOnly)
	assert.ErrorIs(t, c.UpdateProperty("label", str()), ErrBuilderReadOnly)
	assert.ErrorIs(t, c.RemoveProperty("label"), ErrBuilderReadOnly)
	_, err := c.MoveProperty("label", "", 0)
	assert.ErrorIs(t, err, tree.ErrBuilderImmovable)

	require.NoError(t, c.SelectProperty("label"))
	snap := c.Snapshot()
	assert.Equal(t, "label", snap.Selected)
	assert.Nil(t, snap.Form)
}

func TestRemoveProperty(t *testing.T) {
	c, _ := loaded(t)
	require.NoError(t, c.SelectProperty("address.city"))
	require.NoError(t, c.RemoveProperty("address"))
	assert.Equal(t, []string{"name", "price", "label"}, c.Draft().PropertiesOrder)
	assert.Empty(t, c.Snapshot().Selected)
}

func TestTreeCacheGuard(t *testing.T) {
	c, _ := loaded(t)
	first := c.Tree()
	_ = c.Tree()
	require.NoError(t, c.SetName("Goods"))
	_ = c.Tree()
	assert.Equal(t, 1, c.treeBuilds)

	require.NoError(t, c.RemoveProperty("price"))
	second := c.Tree()
	assert.Equal(t, 2, c.treeBuilds)
	assert.Len(t, first.Items[first.RootID].Children, 4)
	assert.Len(t, second.Items[second.RootID].Children, 3)
}

func TestMove_SameParentApplied(t *testing.T) {
	c, _ := loaded(t)
	out, err := c.Move(tree.Position{ParentID: tree.RootID, Index: 2}, tree.Position{ParentID: tree.RootID, Index: 0})
	require.NoError(t, err)
	assert.Equal(t, MoveApplied, out)
	assert.Equal(t, []string{"price", "name", "address", "label"}, c.Draft().PropertiesOrder)
}

func TestMove_CrossParentNeedsConfirmation(t *testing.T) {
	c, _ := loaded(t)
	before := c.Draft()

	out, err := c.MoveProperty("price", "address", 1)
	require.NoError(t, err)
	assert.Equal(t, MoveNeedsConfirmation, out)
	snap := c.Snapshot()
	require.NotNil(t, snap.PendingMove)
	assert.Contains(t, snap.PendingMove.Message, "not transferred")
	assert.True(t, c.Draft().Equal(before))

	c.CancelMove()
	assert.ErrorIs(t, c.ConfirmMove(), ErrNoPendingMove)
	assert.True(t, c.Draft().Equal(before))

	_, err = c.MoveProperty("price", "address", 1)
	require.NoError(t, err)
	require.NoError(t, c.ConfirmMove())
	d := c.Draft()
	assert.Equal(t, []string{"name", "address", "label"}, d.PropertiesOrder)
	addr, _ := d.PropertyAt("address")
	p, _ := addr.Property()
	assert.Equal(t, []string{"street", "price", "city"}, p.PropertiesOrder)
	require.NoError(t, d.Validate())
}

func TestMove_Invalid(t *testing.T) {
	c, _ := loaded(t)
	_, err := c.MoveProperty("name", "price", 0)
	assert.ErrorIs(t, err, tree.ErrNotMap)
	_, err = c.Move(tree.Position{ParentID: tree.RootID, Index: 0}, tree.Position{ParentID: tree.RootID, Index: tree.NoIndex})
	assert.ErrorIs(t, err, tree.ErrNoIndex)
}

func TestLayout(t *testing.T) {
	c, _ := loaded(t)
	c.SetViewportWidth(1400)
	require.NoError(t, c.SelectProperty("name"))
	snap := c.Snapshot()
	assert.Equal(t, LayoutSideBySide, snap.Layout)
	assert.False(t, snap.DialogOpen)

	c.SetViewportWidth(800)
	snap = c.Snapshot()
	assert.Equal(t, LayoutDialog, snap.Layout)
	assert.True(t, snap.DialogOpen)
	require.NotNil(t, snap.Form)
	assert.Equal(t, "name", snap.Form.Path)

	c.Deselect()
	assert.False(t, c.Snapshot().DialogOpen)
}

func TestSave_Success(t *testing.T) {
	rec := &notify.Recorder{}
	var got *schema.EntitySchema
	store := newSpy()
	c, _ := New(store, WithNotifier(rec), OnSaved(func(s schema.EntitySchema) { got = &s }))
	c.NewSchema()
	require.NoError(t, c.SetName("Orders"))
	require.NoError(t, c.OpenNewProperty(""))
	require.NoError(t, c.ConfirmNewProperty("total", schema.Property{DataType: schema.Number}))
	assert.True(t, c.Dirty())

	require.NoError(t, c.Save(context.Background()))
	assert.False(t, c.Dirty())
	require.NotNil(t, got)
	assert.Equal(t, "orders", got.ID)
	assert.False(t, c.Snapshot().IsNew)
	assert.ErrorIs(t, c.SetID("x"), ErrIDImmutable)
	require.Len(t, rec.All(), 1)
	assert.Equal(t, notify.Success, rec.All()[0].Level)

	stored, err := store.FindSchema(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"total"}, stored.PropertiesOrder)
}

func TestSave_Normalizes(t *testing.T) {
	s := productSchema()
	s.PropertiesOrder = []string{"price", "ghost"}
	store := newSpy(s)
	c, _ := New(store)
	require.NoError(t, c.Load(context.Background(), "products"))
	require.NoError(t, c.Save(context.Background()))
	assert.Equal(t, []string{"price", "address", "label", "name"}, store.saved[0].PropertiesOrder)
	assert.Equal(t, store.saved[0].PropertiesOrder, c.Draft().PropertiesOrder)
}

func TestSave_FailureKeepsDraft(t *testing.T) {
	rec := &notify.Recorder{}
	c, store := loaded(t, WithNotifier(rec))
	store.fail = errors.New("disk full")
	require.NoError(t, c.SetName("Goods"))

	err := c.Save(context.Background())
	assert.ErrorIs(t, err, store.fail)
	assert.True(t, c.Dirty())
	assert.Equal(t, "Goods", c.Draft().Name)
	require.Len(t, rec.All(), 1)
	assert.Equal(t, notify.Error, rec.All()[0].Level)
}

func TestSave_ValidationStaysLocal(t *testing.T) {
	rec := &notify.Recorder{}
	c, err := New(newSpy(), WithNotifier(rec))
	require.NoError(t, err)
	c.NewSchema()
	err = c.Save(context.Background())
	_, ok := schema.FieldErrors(err)
	assert.True(t, ok)
	assert.NotEmpty(t, c.Snapshot().Errors)
	assert.Empty(t, rec.All())
}

func TestAutoSubmit_Debounced(t *testing.T) {
	clock := debouncetest.NewClock()
	store := newSpy()
	var firedAt []time.Duration
	store.onSave = func() { firedAt = append(firedAt, clock.Now()) }
	c, err := New(store, WithAutoSubmit(300*time.Millisecond), WithClock(clock))
	require.NoError(t, err)
	c.NewSchema()

	for _, n := range []string{"P", "Pr", "Pro"} {
		require.NoError(t, c.SetName(n))
		clock.Advance(50 * time.Millisecond)
	}
	// последняя правка на 100ms
	clock.Advance(249 * time.Millisecond)
	assert.Zero(t, store.count())
	clock.Advance(time.Millisecond)
	require.Equal(t, 1, store.count())
	assert.Equal(t, []time.Duration{400 * time.Millisecond}, firedAt)
	assert.Equal(t, "pro", store.saved[0].ID)

	clock.Advance(time.Second)
	assert.Equal(t, 1, store.count())
}

func TestAutoSubmit_NewSchemaKeepsSlugDerivation(t *testing.T) {
	clock := debouncetest.NewClock()
	store := newSpy()
	c, err := New(store, WithAutoSubmit(300*time.Millisecond), WithClock(clock))
	require.NoError(t, err)
	c.NewSchema()

	require.NoError(t, c.SetName("Prod"))
	clock.Advance(400 * time.Millisecond)
	require.Equal(t, 1, store.count())
	assert.Equal(t, "prod", store.saved[0].ID)
	snap := c.Snapshot()
	assert.True(t, snap.IsNew)
	assert.True(t, snap.Persisted)
	assert.True(t, snap.IDEditable)

	// id всё ещё выводится из имени и правится вручную
	require.NoError(t, c.SetName("Product"))
	assert.Equal(t, "product", c.Draft().ID)
	require.NoError(t, c.SetID("goods"))
	assert.Equal(t, "goods", c.Draft().ID)

	// явное сохранение закрывает id
	require.NoError(t, c.Save(context.Background()))
	assert.False(t, c.Snapshot().IsNew)
	assert.ErrorIs(t, c.SetID("other"), ErrIDImmutable)
}

func TestAutoSubmit_Guards(t *testing.T) {
	clock := debouncetest.NewClock()
	store := newSpy(productSchema())
	c, _ := New(store, WithAutoSubmit(0), WithClock(clock))
	require.NoError(t, c.Load(context.Background(), "products"))

	// вернули как было — равен оригиналу
	require.NoError(t, c.SetName("Goods"))
	require.NoError(t, c.SetName("Products"))
	clock.Advance(debounce.DefaultWindow)
	assert.Zero(t, store.count())

	// не проходит проверку
	require.NoError(t, c.SetName(""))
	clock.Advance(debounce.DefaultWindow)
	assert.Zero(t, store.count())

	require.NoError(t, c.SetName("Goods"))
	clock.Advance(debounce.DefaultWindow)
	assert.Equal(t, 1, store.count())

	// то же значение уже отправляли
	require.NoError(t, c.SetDescription(""))
	clock.Advance(debounce.DefaultWindow)
	assert.Equal(t, 1, store.count())
}

func TestClose_StopsUpdates(t *testing.T) {
	clock := debouncetest.NewClock()
	store := newSpy(productSchema())
	c, _ := New(store, WithAutoSubmit(0), WithClock(clock))
	require.NoError(t, c.Load(context.Background(), "products"))
	calls := 0
	c.Subscribe(func(Snapshot) { calls++ })
	require.NoError(t, c.SetName("Goods"))
	assert.Equal(t, 1, calls)

	c.Close()
	clock.Advance(time.Second)
	assert.Zero(t, store.count())
	assert.ErrorIs(t, c.SetName("x"), ErrClosed)
	assert.Equal(t, 1, calls)
}
