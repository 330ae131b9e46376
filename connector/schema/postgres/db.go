package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema creates the link, entity and watermark tables. Every statement is idempotent.
//
//go:embed schema.sql
var Schema string

const pingTimeout = 5 * time.Second

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB owns the pool shared by the link, record and timestamp stores.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PoolLimits bounds the pgx pool. Zero fields keep pgx defaults.
type PoolLimits struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (l PoolLimits) apply(pc *pgxpool.Config) {
	if l.MaxConns > 0 {
		pc.MaxConns = l.MaxConns
	}
	if l.MinConns > 0 {
		pc.MinConns = l.MinConns
	}
	if l.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = l.MaxConnLifetime
	}
	if l.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = l.MaxConnIdleTime
	}
}

// Config locates the connector database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Limits   PoolLimits
}

// NewConfig reads DB_* variables, falling back to a local retailex database.
func NewConfig() *Config {
	port, err := strconv.Atoi(os.Getenv("DB_PORT"))
	if err != nil {
		port = 5432
	}
	return &Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: getEnv("DB_NAME", "retailex"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		Limits: PoolLimits{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 5 * time.Minute,
			MaxConnIdleTime: 30 * time.Minute,
		},
	}
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New opens the database described by cfg.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	db, err := Open(ctx, cfg.DSN(), cfg.Limits, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection pool established",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", db.pool.Config().MaxConns))
	return db, nil
}

// Open connects to dsn and fails unless the server answers a ping.
func Open(ctx context.Context, dsn string, limits PoolLimits, logger *zap.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	limits.apply(pc)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{pool: pool, logger: logger}, nil
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// InitSchema applies Schema. Safe to run on every start.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	db.logger.Info("Database schema ready")
	return nil
}

func (db *DB) Links() *LinkStore {
	return NewLinkStore(db.pool, db.logger)
}

func (db *DB) Records() *RecordStore {
	return NewRecordStore(db.pool)
}

func (db *DB) Timestamps() *TimestampTracker {
	return NewTimestampTracker(db.pool)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
