package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix — префикс переменных окружения: FIRECMS_PORT и т.д.
const EnvPrefix = "FIRECMS_"

type Config struct {
	Port        string `json:"port" validate:"required,numeric"`
	DSLDir      string `json:"dslDir"`
	EnumsDir    string `json:"enumsDir"`
	SchemaDir   string `json:"schemaDir"`
	DBURL       string `json:"dbUrl"`
	AutoMigrate bool   `json:"autoMigrate"`

	// пул соединений Postgres
	DBMaxConns     int      `json:"dbMaxConns" validate:"gte=1,lte=500"`
	DBConnLifetime Duration `json:"dbConnLifetime"`

	// Файлы: local или s3
	BlobDriver   string `json:"blobDriver" validate:"oneof=local s3"`
	FilesRoot    string `json:"filesRoot" validate:"required_if=BlobDriver local"`
	FilesBaseURL string `json:"filesBaseUrl"`

	S3Region    string `json:"s3Region"`
	S3Bucket    string `json:"s3Bucket" validate:"required_if=BlobDriver s3"`
	S3Prefix    string `json:"s3Prefix"`
	S3Endpoint  string `json:"s3Endpoint"` // опционально (MinIO/кастом)
	S3PublicURL string `json:"s3PublicUrl"`

	// Уведомления: пустой natsUrl — только лог
	NATSURL     string `json:"natsUrl"`
	NATSSubject string `json:"natsSubject"`

	LogLevel string `json:"logLevel" validate:"oneof=debug info warn warning error"`
	PageSize int    `json:"pageSize" validate:"gte=1,lte=1000"`
	// ShutdownTimeout — сколько ждать активные запросы при остановке
	ShutdownTimeout Duration `json:"shutdownTimeout"`
}

// Duration в JSON — строка "10s" или число миллисекунд.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.Set(s)
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("duration: %s", b)
	}
	d.Duration = time.Duration(ms) * time.Millisecond
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func def() Config {
	return Config{
		Port:            "8080",
		DSLDir:          "dsl",
		EnumsDir:        "reference/enums",
		SchemaDir:       "schemas",
		BlobDriver:      "local",
		FilesRoot:       "uploads",
		FilesBaseURL:    "/files",
		NATSSubject:     "firecms.notifications",
		LogLevel:        "info",
		PageSize:        50,
		DBMaxConns:      10,
		DBConnLifetime:  Duration{30 * time.Minute},
		ShutdownTimeout: Duration{10 * time.Second},
	}
}

// field — одна настройка: имя флага, суффикс переменной окружения, setter.
type field struct {
	flag  string
	env   string
	usage string
	set   func(c *Config, v string) error
}

func str(p func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*p(c) = strings.TrimSpace(v)
		return nil
	}
}

func fields() []field {
	return []field{
		{"port", "PORT", "HTTP port", str(func(c *Config) *string { return &c.Port })},
		{"dsl", "DSL_DIR", "Path to DSL directory", str(func(c *Config) *string { return &c.DSLDir })},
		{"enums", "ENUMS_DIR", "Path to enums directory", str(func(c *Config) *string { return &c.EnumsDir })},
		{"schemas", "SCHEMA_DIR", "Directory of saved schemas (YAML)", str(func(c *Config) *string { return &c.SchemaDir })},
		{"db", "DB_URL", "Postgres URL (empty = in-memory)", str(func(c *Config) *string { return &c.DBURL })},
		{"auto-migrate", "AUTO_MIGRATE", "Create tables and indexes on start (true/false)", func(c *Config, v string) error {
			b, err := parseBool(v)
			c.AutoMigrate = b
			return err
		}},
		{"db-max-conns", "DB_MAX_CONNS", "Max open Postgres connections", func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			c.DBMaxConns = n
			return nil
		}},
		{"db-conn-lifetime", "DB_CONN_LIFETIME", "Max lifetime of a Postgres connection", func(c *Config, v string) error {
			return c.DBConnLifetime.Set(v)
		}},
		{"blob-driver", "BLOB_DRIVER", "Blob driver (local/s3)", str(func(c *Config) *string { return &c.BlobDriver })},
		{"files-root", "FILES_ROOT", "Local files root (if blob=local)", str(func(c *Config) *string { return &c.FilesRoot })},
		{"files-base-url", "FILES_BASE_URL", "URL prefix for local files", str(func(c *Config) *string { return &c.FilesBaseURL })},
		{"s3-region", "S3_REGION", "S3 region", str(func(c *Config) *string { return &c.S3Region })},
		{"s3-bucket", "S3_BUCKET", "S3 bucket", str(func(c *Config) *string { return &c.S3Bucket })},
		{"s3-prefix", "S3_PREFIX", "S3 key prefix", str(func(c *Config) *string { return &c.S3Prefix })},
		{"s3-endpoint", "S3_ENDPOINT", "S3 custom endpoint", str(func(c *Config) *string { return &c.S3Endpoint })},
		{"s3-public-url", "S3_PUBLIC_URL", "Public bucket URL (empty = presigned links)", str(func(c *Config) *string { return &c.S3PublicURL })},
		{"nats", "NATS_URL", "NATS URL for notifications (empty = log only)", str(func(c *Config) *string { return &c.NATSURL })},
		{"nats-subject", "NATS_SUBJECT", "NATS subject prefix", str(func(c *Config) *string { return &c.NATSSubject })},
		{"log-level", "LOG_LEVEL", "debug|info|warn|error", func(c *Config, v string) error {
			c.LogLevel = strings.ToLower(strings.TrimSpace(v))
			return nil
		}},
		{"page-size", "PAGE_SIZE", "Default collection page size", func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			c.PageSize = n
			return nil
		}},
		{"shutdown-timeout", "SHUTDOWN_TIMEOUT", "Graceful shutdown timeout", func(c *Config, v string) error {
			return c.ShutdownTimeout.Set(v)
		}},
	}
}

func parseBool(v string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Load собирает конфиг: умолчания -> JSON-файл (-config) -> окружение ->
// флаги. Флаги применяются, только если заданы явно.
func Load(args []string, lookup func(string) (string, bool)) (Config, error) {
	fset := flag.NewFlagSet("firecms", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	configPath := fset.String("config", "config.json", "Path to config JSON")
	all := fields()
	byFlag := make(map[string]field, len(all))
	for _, f := range all {
		fset.String(f.flag, "", f.usage)
		byFlag[f.flag] = f
	}
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def()
	if err := loadJSON(*configPath, &cfg); err != nil {
		return cfg, err
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, f := range all {
		v, ok := lookup(EnvPrefix + f.env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := f.set(&cfg, v); err != nil {
			return cfg, fmt.Errorf("%s%s: %w", EnvPrefix, f.env, err)
		}
	}
	var ferr error
	fset.Visit(func(fl *flag.Flag) {
		f, ok := byFlag[fl.Name]
		if !ok || ferr != nil {
			return
		}
		if err := f.set(&cfg, fl.Value.String()); err != nil {
			ferr = fmt.Errorf("-%s: %w", fl.Name, err)
		}
	})
	if ferr != nil {
		return cfg, ferr
	}
	return cfg, cfg.Validate()
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ShutdownTimeout.Duration <= 0 {
		return errors.New("invalid config: shutdownTimeout must be positive")
	}
	if c.DBConnLifetime.Duration <= 0 {
		return errors.New("invalid config: dbConnLifetime must be positive")
	}
	return nil
}

// LoadDefault читает os.Args и окружение процесса.
func LoadDefault() (Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}
