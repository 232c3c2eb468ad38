package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/neuhoffm/firecms/internal/schema"
)

// YAMLDir — по файлу <id>.yaml на схему. Пока Load не отработал, реестр
// не готов.
type YAMLDir struct {
	dir      string
	builders map[string]*schema.Builder

	mu     sync.RWMutex
	cache  map[string]schema.EntitySchema
	loaded atomic.Bool
}

func NewYAMLDir(dir string, builders map[string]*schema.Builder) (*YAMLDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &YAMLDir{dir: dir, builders: builders, cache: make(map[string]schema.EntitySchema)}, nil
}

func (y *YAMLDir) Initialised() bool { return y.loaded.Load() }

// Load читает все *.yaml / *.yml каталога. Id схемы без поля id берётся из
// имени файла.
func (y *YAMLDir) Load(ctx context.Context) error {
	entries, err := os.ReadDir(y.dir)
	if err != nil {
		return err
	}
	next := make(map[string]schema.EntitySchema)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(y.dir, name))
		if err != nil {
			return err
		}
		var s schema.EntitySchema
		if err := yaml.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if s.ID == "" {
			s.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		next[s.ID] = s
	}
	y.mu.Lock()
	y.cache = next
	y.mu.Unlock()
	y.loaded.Store(true)
	return nil
}

// SaveSchema пишет во временный файл и переименовывает: читатель не увидит
// половину файла.
func (y *YAMLDir) SaveSchema(ctx context.Context, s schema.EntitySchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	y.mu.Lock()
	defer y.mu.Unlock()
	tmp, err := os.CreateTemp(y.dir, "."+s.ID+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(y.dir, s.ID+".yaml")); err != nil {
		return err
	}
	y.cache[s.ID] = s.Clone()
	return nil
}

func (y *YAMLDir) FindSchema(ctx context.Context, id string) (schema.EntitySchema, error) {
	if err := ctx.Err(); err != nil {
		return schema.EntitySchema{}, err
	}
	y.mu.RLock()
	defer y.mu.RUnlock()
	s, ok := y.cache[id]
	if !ok {
		return schema.EntitySchema{}, fmt.Errorf("%s: %w", id, ErrSchemaNotFound)
	}
	out := s.Clone()
	out.Properties = schema.BindBuilders(out.Properties, y.builders)
	return out, nil
}

func (y *YAMLDir) ListSchemas(ctx context.Context) ([]schema.EntitySchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	y.mu.RLock()
	defer y.mu.RUnlock()
	out := make([]schema.EntitySchema, 0, len(y.cache))
	for _, s := range y.cache {
		c := s.Clone()
		c.Properties = schema.BindBuilders(c.Properties, y.builders)
		out = append(out, c)
	}
	sortByID(out)
	return out, nil
}
