// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"
)

// PostgresStore 基于 PostgreSQL 表的键值存储，用于需要跨进程重启保留房间的部署
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore 创建 PostgreSQL 连接并初始化表结构
func NewPostgresStore(host string, port int, user, password, dbname string) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an open handle whose schema already exists.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// initTables 初始化键值表
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS kv_entries (
            key VARCHAR(255) PRIMARY KEY,
            value BYTEA NOT NULL,
            expires_at TIMESTAMPTZ,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at);
    `)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	query := `SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`
	err := p.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

// SetWithTTL upserts the value; expiry is computed by the database clock.
func (p *PostgresStore) SetWithTTL(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	var seconds sql.NullFloat64
	if ttl > 0 {
		seconds = sql.NullFloat64{Float64: ttl.Seconds(), Valid: true}
	}

	query := `
        INSERT INTO kv_entries (key, value, expires_at)
        VALUES ($1, $2, NOW() + ($3::double precision * INTERVAL '1 second'))
        ON CONFLICT (key)
        DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = CURRENT_TIMESTAMP
    `
	_, err := p.db.ExecContext(ctx, query, key, value, seconds)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	return err
}

func (p *PostgresStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	query := `
        SELECT key FROM kv_entries
        WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > NOW())
        ORDER BY key
    `
	rows, err := p.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Sweep 删除已过期的键
func (p *PostgresStore) Sweep(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeReplacer.Replace(s)
}
