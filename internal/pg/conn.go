package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
)

// Pool — настройки пула. Нулевые поля берут значения по умолчанию.
type Pool struct {
	MaxConns    int
	MaxLifetime time.Duration
	PingTimeout time.Duration
}

func (p Pool) withDefaults() Pool {
	if p.MaxConns <= 0 {
		p.MaxConns = 10
	}
	if p.MaxLifetime <= 0 {
		p.MaxLifetime = 30 * time.Minute
	}
	if p.PingTimeout <= 0 {
		p.PingTimeout = 5 * time.Second
	}
	return p
}

// idle — половина пула, но хотя бы одно соединение
func (p Pool) idle() int { return max(p.MaxConns/2, 1) }

// Open открывает пул через pgx и проверяет соединение ping'ом.
func Open(ctx context.Context, url string, pool Pool) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool = pool.withDefaults()
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(pool.idle())

	ctx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
