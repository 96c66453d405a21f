package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
)

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	// Probe reachability first so a bad host fails fast with a clear error
	// instead of a slow pool timeout.
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	var conn net.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = net.DialTimeout("tcp", addr, defaultConnTimeout)
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithAddr(addr),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithInsecure(true),
		pgdriver.WithTimeout(defaultConnTimeout),
	))
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	return &DB{pool: pool, bunDB: bunDB}, nil
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) Close() {
	if db.bunDB != nil {
		db.bunDB.Close()
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// InitializeSchema creates all required tables and indexes.
func (db *DB) InitializeSchema(ctx context.Context) error {
	start := time.Now()

	tables := []interface{}{
		(*models.StickerInstance)(nil),
		(*models.TradeSession)(nil),
		(*models.OfferEntry)(nil),
		(*models.RequestEntry)(nil),
		(*models.Message)(nil),
	}
	for _, table := range tables {
		if _, err := db.bunDB.NewCreateTable().
			Model(table).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", table, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
		unique  bool
	}{
		{(*models.TradeSession)(nil), "idx_trade_sessions_party_a", []string{"party_a"}, false},
		{(*models.TradeSession)(nil), "idx_trade_sessions_party_b", []string{"party_b"}, false},
		{(*models.TradeSession)(nil), "idx_trade_sessions_status", []string{"status"}, false},
		{(*models.OfferEntry)(nil), "idx_offer_entries_unique", []string{"session_id", "owner_party", "instance_id"}, true},
		{(*models.RequestEntry)(nil), "idx_request_entries_unique", []string{"session_id", "requesting_party", "instance_id"}, true},
		{(*models.Message)(nil), "idx_trade_messages_session", []string{"session_id"}, false},
		{(*models.StickerInstance)(nil), "idx_sticker_instances_owner", []string{"owner_id"}, false},
	}
	for _, idx := range indexes {
		q := db.bunDB.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	slog.Info("Database schema initialized",
		slog.String("type", "db"),
		slog.Duration("took", time.Since(start)))
	return nil
}
