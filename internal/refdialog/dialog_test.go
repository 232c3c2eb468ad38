package refdialog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuhoffm/firecms/internal/datasource"
)

func seed(t *testing.T) (*datasource.Memory, []datasource.Entity) {
	t.Helper()
	m := datasource.NewMemory()
	var out []datasource.Entity
	for _, v := range []map[string]any{
		{"name": "Ada", "active": true},
		{"name": "Bob", "active": true},
		{"name": "Cyd", "active": false},
	} {
		e, err := m.SaveEntity(context.Background(), datasource.SaveRequest{Path: "authors", Values: v, Status: datasource.StatusNew})
		require.NoError(t, err)
		out = append(out, e)
	}
	return m, out
}

func names(es []datasource.Entity) []string {
	var out []string
	for _, e := range es {
		out = append(out, e.Values["name"].(string))
	}
	return out
}

func TestNew_Misconfigured(t *testing.T) {
	_, err := New(nil, Config{OnSingle: func(*datasource.Entity) {}})
	assert.ErrorIs(t, err, ErrNoDataSource)
	m, _ := seed(t)
	_, err = New(m, Config{Multi: true})
	assert.ErrorIs(t, err, ErrNoCallback)
}

func TestSingle_ClickResolvesAndCloses(t *testing.T) {
	m, ents := seed(t)
	var got *datasource.Entity
	multiCalled := false
	d, err := New(m, Config{
		Path:     "authors",
		OnSingle: func(e *datasource.Entity) { got = e },
		OnMulti:  func([]datasource.Entity) { multiCalled = true },
	})
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background()))
	assert.Equal(t, Ready, d.State())
	assert.Empty(t, d.Selected())

	require.NoError(t, d.Click(ents[0]))
	require.NotNil(t, got)
	assert.Equal(t, ents[0].ID, got.ID)
	assert.Equal(t, Closed, d.State())
	assert.False(t, multiCalled)
}

func TestSingle_Clear(t *testing.T) {
	m, _ := seed(t)
	called := false
	var got *datasource.Entity = &datasource.Entity{}
	d, _ := New(m, Config{Path: "authors", OnSingle: func(e *datasource.Entity) { called, got = true, e }})
	require.NoError(t, d.Open(context.Background()))
	require.NoError(t, d.Clear())
	assert.True(t, called)
	assert.Nil(t, got)
	assert.Equal(t, Closed, d.State())
}

func TestMulti_PreselectedToggle(t *testing.T) {
	m, ents := seed(t)
	var reports [][]string
	d, err := New(m, Config{
		Path:       "authors",
		Multi:      true,
		InitialIDs: []string{ents[0].ID, "missing", ents[1].ID},
		OnMulti:    func(es []datasource.Entity) { reports = append(reports, names(es)) },
	})
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background()))
	assert.Equal(t, []string{"Ada", "Bob"}, names(d.Selected()))

	require.NoError(t, d.Click(ents[1]))
	require.NoError(t, d.Click(ents[2]))
	require.NoError(t, d.Clear())
	assert.Equal(t, [][]string{{"Ada"}, {"Ada", "Cyd"}, nil}, reports)
	assert.Equal(t, Ready, d.State())
}

func TestFilter_AppliedAtFetch(t *testing.T) {
	m, ents := seed(t)
	d, _ := New(m, Config{
		Path:    "authors",
		Multi:   true,
		Filter:  []datasource.Condition{{Field: "active", Op: datasource.OpEq, Values: []string{"true"}}},
		OnMulti: func([]datasource.Entity) {},
	})
	require.NoError(t, d.Open(context.Background()))

	rows, err := d.Rows(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Bob"}, names(rows))
	assert.ErrorIs(t, d.Click(ents[2]), ErrNotSelectable)
	assert.Empty(t, d.Selected())
}

func TestClick_NotReady(t *testing.T) {
	m, ents := seed(t)
	d, _ := New(m, Config{Path: "authors", OnSingle: func(*datasource.Entity) {}})
	assert.ErrorIs(t, d.Click(ents[0]), ErrNotReady)
}

// gateDS держит FetchEntity до сигнала.
type gateDS struct {
	*datasource.Memory
	started chan struct{}
	release chan struct{}
}

func (g *gateDS) FetchEntity(ctx context.Context, path, id string) (datasource.Entity, error) {
	g.started <- struct{}{}
	<-g.release
	return g.Memory.FetchEntity(ctx, path, id)
}

func TestOpen_LateResultDroppedAfterClose(t *testing.T) {
	m, ents := seed(t)
	ds := &gateDS{Memory: m, started: make(chan struct{}, 1), release: make(chan struct{})}
	d, _ := New(ds, Config{
		Path: "authors", Multi: true, InitialIDs: []string{ents[0].ID},
		OnMulti: func([]datasource.Entity) {},
	})

	done := make(chan error, 1)
	go func() { done <- d.Open(context.Background()) }()
	<-ds.started
	assert.Equal(t, Loading, d.State())
	d.Close()
	close(ds.release)
	require.NoError(t, <-done)

	assert.Equal(t, Closed, d.State())
	assert.Empty(t, d.Selected())
}

type failingDS struct{ *datasource.Memory }

func (failingDS) FetchEntity(context.Context, string, string) (datasource.Entity, error) {
	return datasource.Entity{}, errors.New("timeout")
}

func TestOpen_FailedFetchDropped(t *testing.T) {
	m, ents := seed(t)
	d, _ := New(failingDS{m}, Config{Path: "authors", Multi: true, InitialIDs: []string{ents[0].ID}, OnMulti: func([]datasource.Entity) {}})
	require.NoError(t, d.Open(context.Background()))
	assert.Equal(t, Ready, d.State())
	assert.Empty(t, d.Selected())
}
