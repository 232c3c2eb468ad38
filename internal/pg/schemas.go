package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/schema"
)

// SchemaStore — реестр схем в Postgres. Готов после Load.
type SchemaStore struct {
	db       *sql.DB
	builders map[string]*schema.Builder
	ready    atomic.Bool
}

func NewSchemaStore(db *sql.DB, builders map[string]*schema.Builder) *SchemaStore {
	return &SchemaStore{db: db, builders: builders}
}

// Load создаёт таблицу схем, если её нет, и открывает реестр.
func (s *SchemaStore) Load(ctx context.Context) error {
	if err := ApplyDDL(ctx, s.db, map[string]string{"010_schemas": BaseDDL()["010_schemas"]}); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

func (s *SchemaStore) Initialised() bool { return s.ready.Load() }

func (s *SchemaStore) SaveSchema(ctx context.Context, sc schema.EntitySchema) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", sc.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`insert into `+SchemasTable+` ("id", "body", "updated_at") values ($1, $2, now())
on conflict ("id") do update set "body" = excluded."body", "updated_at" = now()`, sc.ID, body)
	if err != nil {
		return fmt.Errorf("save schema %s: %w", sc.ID, err)
	}
	return nil
}

func (s *SchemaStore) decode(raw []byte) (schema.EntitySchema, error) {
	var sc schema.EntitySchema
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sc, fmt.Errorf("decode schema: %w", err)
	}
	sc.Properties = schema.BindBuilders(sc.Properties, s.builders)
	return sc, nil
}

func (s *SchemaStore) FindSchema(ctx context.Context, id string) (schema.EntitySchema, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select "body" from `+SchemasTable+` where "id" = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.EntitySchema{}, fmt.Errorf("%s: %w", id, persistence.ErrSchemaNotFound)
	}
	if err != nil {
		return schema.EntitySchema{}, fmt.Errorf("find schema %s: %w", id, err)
	}
	return s.decode(raw)
}

func (s *SchemaStore) ListSchemas(ctx context.Context) ([]schema.EntitySchema, error) {
	rows, err := s.db.QueryContext(ctx, `select "body" from `+SchemasTable+` order by "id"`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()
	var out []schema.EntitySchema
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		sc, err := s.decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

var _ persistence.ConfigurationPersistence = (*SchemaStore)(nil)
