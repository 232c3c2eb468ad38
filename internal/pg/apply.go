package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neuhoffm/firecms/internal/logger"
)

// коды SQLSTATE, которые встречаются в этом пакете
const (
	codeUniqueViolation = "23505"
	codeDuplicateObject = "42710"
	codeDuplicateTable  = "42P07"
)

// ApplyDDL выполняет map[key]sql по порядку ключей. Ожидается idempotent
// DDL (create ... if not exists); "уже существует" пропускается.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	log := logger.From(ctx)
	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == codeDuplicateObject || pgErr.Code == codeDuplicateTable) {
				log.Info("DDL skipped (already exists)", "step", k, "msg", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL apply failed (%s): %w", k, err)
		}
		log.Debug("DDL applied", "step", k)
	}
	return nil
}
