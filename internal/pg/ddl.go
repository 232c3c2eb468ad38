package pg

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neuhoffm/firecms/internal/schema"
)

const (
	EntitiesTable = "firecms_entities"
	SchemasTable  = "firecms_schemas"
)

// postgres обрезает идентификаторы длиннее 63 байт
const maxIdent = 63

var identRe = regexp.MustCompile(`[^a-z0-9_]+`)

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"` }

func sqlString(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// textPath — литерал text[] для оператора #>>: 'address.city' -> '{address,city}'.
func textPath(field string) string {
	return sqlString("{" + strings.Join(strings.Split(field, "."), ",") + "}")
}

// UniqueIndex — уникальный индекс по свойству коллекции.
type UniqueIndex struct {
	Name  string
	Path  string
	Field string
}

// indexName строит читаемое имя и добавляет хэш, если имя не влезает.
func indexName(path, field string) string {
	base := "uq_" + identRe.ReplaceAllString(strings.ToLower(path+"__"+strings.ReplaceAll(field, ".", "_")), "_")
	if len(base) <= maxIdent {
		return base
	}
	sum := sha1.Sum([]byte(path + "\x00" + field))
	return base[:maxIdent-9] + "_" + hex.EncodeToString(sum[:4])
}

// UniqueIndexes — индексы для всех уникальных свойств схем, включая
// вложенные в map. Путь коллекции — id схемы.
func UniqueIndexes(schemas []schema.EntitySchema) []UniqueIndex {
	var out []UniqueIndex
	var walk func(path, prefix string, props map[string]schema.PropertyOrBuilder, order []string)
	walk = func(path, prefix string, props map[string]schema.PropertyOrBuilder, order []string) {
		for _, k := range schema.OrderedKeys(props, order) {
			p, ok := props[k].Property()
			if !ok {
				continue
			}
			field := schema.JoinPath(prefix, k)
			if p.IsMap() {
				walk(path, field, p.Properties, p.PropertiesOrder)
				continue
			}
			if p.Unique() {
				out = append(out, UniqueIndex{Name: indexName(path, field), Path: path, Field: field})
			}
		}
	}
	for _, s := range schemas {
		walk(s.ID, "", s.Properties, s.PropertiesOrder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BaseDDL — таблицы сущностей и схем.
func BaseDDL() map[string]string {
	return map[string]string{
		"000_entities": fmt.Sprintf(`create table if not exists %s (
  "path" text not null,
  "id" text not null,
  "values" jsonb not null default '{}'::jsonb,
  "created_at" timestamp with time zone not null default now(),
  "updated_at" timestamp with time zone not null default now(),
  primary key ("path", "id")
);`, EntitiesTable),
		"010_schemas": fmt.Sprintf(`create table if not exists %s (
  "id" text primary key,
  "body" jsonb not null,
  "updated_at" timestamp with time zone not null default now()
);`, SchemasTable),
	}
}

// GenerateDDL возвращает map шаг -> SQL: базовые таблицы и частичные
// уникальные индексы по выражению над jsonb.
func GenerateDDL(schemas []schema.EntitySchema) map[string]string {
	out := BaseDDL()
	for _, idx := range UniqueIndexes(schemas) {
		out["100_"+idx.Name] = fmt.Sprintf(
			`create unique index if not exists %s on %s ((btrim("values" #>> %s))) where "path" = %s;`,
			sqlIdent(idx.Name), EntitiesTable, textPath(idx.Field), sqlString(idx.Path))
	}
	return out
}
