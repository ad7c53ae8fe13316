// Package db 提供诊断缓存的持久化存储 (SQLite / Redis)。
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
)

const schema = `
    CREATE TABLE IF NOT EXISTS stock_analysis_cache (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        code VARCHAR(10) NOT NULL,
        analysis_type VARCHAR(20) NOT NULL,
        data_hash VARCHAR(32) NOT NULL,
        prompt TEXT,
        result TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        expire_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_analysis_cache_code_type
        ON stock_analysis_cache (code, analysis_type);
    `

// SQLiteStore is the default durable tier.
type SQLiteStore struct {
	db *sql.DB
}

var _ cache.Store = (*SQLiteStore)(nil)
var _ cache.Lister = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite 只允许单写者
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return &SQLiteStore{db: database}, nil
}

// Find returns the newest row for (code, category).
func (s *SQLiteStore) Find(ctx context.Context, code, category string) (*cache.Entry, error) {
	var (
		e      cache.Entry
		prompt sql.NullString
		result string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT code, analysis_type, data_hash, prompt, result, created_at, expire_at
        FROM stock_analysis_cache
        WHERE code = ? AND analysis_type = ?
        ORDER BY created_at DESC
        LIMIT 1`, code, category).
		Scan(&e.Code, &e.Category, &e.Fingerprint, &prompt, &result, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Prompt = prompt.String
	e.Result = []byte(result)
	return &e, nil
}

// DeleteAll removes rows for code, restricted to category when non-empty.
func (s *SQLiteStore) DeleteAll(ctx context.Context, code, category string) error {
	var err error
	if category == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM stock_analysis_cache WHERE code = ?`, code)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM stock_analysis_cache WHERE code = ? AND analysis_type = ?`, code, category)
	}
	return err
}

// Upsert deletes prior rows for the key and inserts e in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, e cache.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        DELETE FROM stock_analysis_cache WHERE code = ? AND analysis_type = ?`,
		e.Code, e.Category)
	if err != nil {
		tx.Rollback()
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO stock_analysis_cache (code, analysis_type, data_hash, prompt, result, created_at, expire_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Code, e.Category, e.Fingerprint, e.Prompt, string(e.Result), e.CreatedAt, e.ExpiresAt)
	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// List returns every row for code, newest first.
func (s *SQLiteStore) List(ctx context.Context, code string) ([]cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT code, analysis_type, data_hash, prompt, result, created_at, expire_at
        FROM stock_analysis_cache
        WHERE code = ?
        ORDER BY created_at DESC`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]cache.Entry, 0)
	for rows.Next() {
		var (
			e      cache.Entry
			prompt sql.NullString
			result string
		)
		if err := rows.Scan(&e.Code, &e.Category, &e.Fingerprint, &prompt, &result, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		e.Prompt = prompt.String
		e.Result = []byte(result)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
