package pg

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"

	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/schema"
)

// EntityStore — DataSource поверх одной таблицы с jsonb. SQL сужает выборку
// до коллекции; фильтр, сортировка и страницы считаются теми же функциями,
// что и у datasource.Memory, поэтому результаты драйверов совпадают.
type EntityStore struct {
	db *sql.DB

	mu      sync.RWMutex
	indexes map[string]UniqueIndex // имя индекса -> свойство
}

func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db, indexes: map[string]UniqueIndex{}}
}

// UseIndexes сообщает, какое свойство стоит за каким уникальным индексом,
// чтобы нарушение превращалось в ошибку поля.
func (s *EntityStore) UseIndexes(idx []UniqueIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range idx {
		s.indexes[i.Name] = i
	}
}

func decodeValues(raw []byte) (map[string]any, error) {
	values := map[string]any{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return values, nil
}

func (s *EntityStore) FetchEntity(ctx context.Context, path, id string) (datasource.Entity, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`select "values" from `+EntitiesTable+` where "path" = $1 and "id" = $2`, path, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return datasource.Entity{}, fmt.Errorf("%s/%s: %w", path, id, datasource.ErrNotFound)
	}
	if err != nil {
		return datasource.Entity{}, fmt.Errorf("fetch %s/%s: %w", path, id, err)
	}
	values, err := decodeValues(raw)
	if err != nil {
		return datasource.Entity{}, err
	}
	return datasource.Entity{ID: id, Path: path, Values: values}, nil
}

func (s *EntityStore) scanCollection(ctx context.Context, path string, filter []datasource.Condition) ([]datasource.Entity, error) {
	// TODO: переносить условия eq/in в SQL через jsonb-операторы, когда
	// сравнение строк без учёта регистра совпадёт с datasource.Condition.
	rows, err := s.db.QueryContext(ctx,
		`select "id", "values" from `+EntitiesTable+` where "path" = $1 order by "id"`, path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer rows.Close()

	var list []datasource.Entity
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		values, err := decodeValues(raw)
		if err != nil {
			return nil, err
		}
		e := datasource.Entity{ID: id, Path: path, Values: values}
		if datasource.MatchAll(filter, e) {
			list = append(list, e)
		}
	}
	return list, rows.Err()
}

func (s *EntityStore) FetchCollection(ctx context.Context, path string, q datasource.Query) ([]datasource.Entity, error) {
	list, err := s.scanCollection(ctx, path, q.Filter)
	if err != nil {
		return nil, err
	}
	datasource.SortEntities(list, q.Sort)
	return datasource.Page(list, q.Page, q.PageSize), nil
}

func (s *EntityStore) CountCollection(ctx context.Context, path string, filter []datasource.Condition) (int, error) {
	if len(filter) == 0 {
		var n int
		err := s.db.QueryRowContext(ctx,
			`select count(*) from `+EntitiesTable+` where "path" = $1`, path).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", path, err)
		}
		return n, nil
	}
	list, err := s.scanCollection(ctx, path, filter)
	return len(list), err
}

func (s *EntityStore) SaveEntity(ctx context.Context, req datasource.SaveRequest) (datasource.Entity, error) {
	values := req.Values
	if values == nil {
		values = map[string]any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return datasource.Entity{}, fmt.Errorf("encode values: %w", err)
	}
	id := strings.TrimSpace(req.ID)
	now := time.Now().UTC()

	switch req.Status {
	case datasource.StatusNew:
		if id == "" {
			id = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
		}
		_, err = s.db.ExecContext(ctx,
			`insert into `+EntitiesTable+` ("path", "id", "values", "created_at", "updated_at") values ($1, $2, $3, $4, $4)`,
			req.Path, id, raw, now)
	default:
		var res sql.Result
		res, err = s.db.ExecContext(ctx,
			`update `+EntitiesTable+` set "values" = $3, "updated_at" = $4 where "path" = $1 and "id" = $2`,
			req.Path, id, raw, now)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return datasource.Entity{}, fmt.Errorf("%s/%s: %w", req.Path, id, datasource.ErrNotFound)
			}
		}
	}
	if err != nil {
		return datasource.Entity{}, s.mapErr(req.Path, id, err)
	}
	// значения возвращаем в том виде, в каком их вернёт чтение
	stored, err := decodeValues(raw)
	if err != nil {
		return datasource.Entity{}, err
	}
	return datasource.Entity{ID: id, Path: req.Path, Values: stored}, nil
}

// mapErr: нарушение первичного ключа — ErrAlreadyExists, уникального
// индекса свойства — FieldError unique_violation.
func (s *EntityStore) mapErr(path, id string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return fmt.Errorf("save %s/%s: %w", path, id, err)
	}
	s.mu.RLock()
	idx, ok := s.indexes[pgErr.ConstraintName]
	s.mu.RUnlock()
	if ok {
		return schema.FieldError{Code: schema.ErrUniqueViolation, Field: idx.Field, Message: "This value already exists and should be unique"}
	}
	if strings.HasSuffix(pgErr.ConstraintName, "_pkey") {
		return fmt.Errorf("%s/%s: %w", path, id, datasource.ErrAlreadyExists)
	}
	return schema.FieldError{Code: schema.ErrUniqueViolation, Message: pgErr.Message}
}

func (s *EntityStore) DeleteEntity(ctx context.Context, e datasource.Entity) error {
	res, err := s.db.ExecContext(ctx,
		`delete from `+EntitiesTable+` where "path" = $1 and "id" = $2`, e.Path, e.ID)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", e.Path, e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", e.Path, e.ID, datasource.ErrNotFound)
	}
	return nil
}

// CheckUniqueField сравнивает строковые представления, как уникальный индекс.
func (s *EntityStore) CheckUniqueField(ctx context.Context, path, field string, value any, exceptID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from `+EntitiesTable+` where "path" = $1 and "id" <> $2 and btrim("values" #>> $3::text[]) = $4)`,
		path, exceptID, strings.Split(field, "."), datasource.Stringify(value)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unique %s.%s: %w", path, field, err)
	}
	return !exists, nil
}
