package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neuhoffm/firecms/internal/api"
	"github.com/neuhoffm/firecms/internal/config"
	"github.com/neuhoffm/firecms/internal/datasource"
	"github.com/neuhoffm/firecms/internal/dsl"
	"github.com/neuhoffm/firecms/internal/logger"
	"github.com/neuhoffm/firecms/internal/notify"
	"github.com/neuhoffm/firecms/internal/persistence"
	"github.com/neuhoffm/firecms/internal/pg"
	"github.com/neuhoffm/firecms/internal/reference"
	"github.com/neuhoffm/firecms/internal/schema"
	"github.com/neuhoffm/firecms/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Справочники и DSL-сущности
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		return fmt.Errorf("load enums: %w", err)
	}
	entities, err := dsl.LoadAllEntities(cfg.DSLDir)
	if err != nil {
		return fmt.Errorf("load dsl: %w", err)
	}
	for _, is := range dsl.Lint(entities) {
		slog.Warn("dsl issue", "entity", is.Entity, "field", is.Field, "code", is.Code, "msg", is.Message, "blocking", is.Blocking())
	}
	schemas, err := dsl.Schemas(entities, enums, time.Now())
	if err != nil {
		return fmt.Errorf("build schemas: %w", err)
	}
	slog.Info("dsl loaded", "entities", len(entities), "enums", len(enums))

	srv := &api.Server{
		PageSize: cfg.PageSize,
		DSLDir:   cfg.DSLDir,
		EnumsDir: cfg.EnumsDir,
		Notifier: notify.Log{},
	}
	srv.SetEnums(enums)

	// 2. Реестр схем и данные: Postgres или YAML + память
	if cfg.DBURL != "" {
		db, err := pg.Open(ctx, cfg.DBURL, pg.Pool{
			MaxConns:    cfg.DBMaxConns,
			MaxLifetime: cfg.DBConnLifetime.Duration,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := usePostgres(ctx, srv, db, cfg.AutoMigrate); err != nil {
			return err
		}
	} else {
		reg, err := persistence.NewYAMLDir(cfg.SchemaDir, srv.Builders)
		if err != nil {
			return err
		}
		if err := reg.Load(ctx); err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
		srv.Schemas, srv.Data = reg, datasource.NewMemory()
		slog.Warn("no database configured: entities are kept in memory")
	}

	// 3. Файлы
	blob, err := blobStore(ctx, cfg)
	if err != nil {
		return err
	}
	srv.Files = storage.NewUploader(blob)

	// 4. Уведомления
	if cfg.NATSURL != "" {
		nc, err := notify.NewNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return err
		}
		defer nc.Close()
		srv.Notifier = notify.Multi(notify.Log{}, nc)
	}

	// 5. Схемы из DSL дописываются в реестр, сохранённые не трогаем
	n, err := srv.Seed(ctx, schemas, false)
	if err != nil {
		return err
	}
	if n == 0 {
		srv.SyncSchemas(ctx)
	}
	slog.Info("schema registry ready", "seeded", n)

	return api.RunServer(ctx, ":"+cfg.Port, api.NewRouter(srv), cfg.ShutdownTimeout.Duration)
}

func usePostgres(ctx context.Context, srv *api.Server, db *sql.DB, migrate bool) error {
	if migrate {
		if err := pg.ApplyDDL(ctx, db, pg.BaseDDL()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	reg := pg.NewSchemaStore(db, srv.Builders)
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	store := pg.NewEntityStore(db)
	srv.Schemas, srv.Data = reg, store
	srv.SchemasChanged = func(ctx context.Context, all []schema.EntitySchema) error {
		store.UseIndexes(pg.UniqueIndexes(all))
		if !migrate {
			return nil
		}
		return pg.ApplyDDL(ctx, db, pg.GenerateDDL(all))
	}
	return nil
}

func blobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	if cfg.BlobDriver == "s3" {
		return storage.NewS3(ctx, storage.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
		})
	}
	return storage.NewLocal(cfg.FilesRoot, cfg.FilesBaseURL)
}
