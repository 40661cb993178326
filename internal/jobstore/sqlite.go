package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore 基于 SQLite 的存储
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite 打开数据库并初始化表结构
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 单连接，避免 WAL 下的写锁竞争
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Load 读取任务状态
func (s *SQLiteStore) Load(ctx context.Context, jobID string) (*State, error) {
	st := NewState(jobID, "")
	var paused int
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, paused, updated_at FROM jobs WHERE job_id = ?`, jobID,
	).Scan(&st.Name, &paused, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	st.Paused = paused != 0
	st.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id, translated, title, content, updated_at FROM units WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u Unit
		var translated int
		var ts int64
		if err := rows.Scan(&u.ID, &translated, &u.Title, &u.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.Translated = translated != 0
		u.UpdatedAt = time.Unix(0, ts)
		st.Processed[u.ID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	blocked, err := s.db.QueryContext(ctx, `SELECT unit_id FROM blocked_units WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked units: %w", err)
	}
	defer blocked.Close()
	for blocked.Next() {
		var id string
		if err := blocked.Scan(&id); err != nil {
			return nil, err
		}
		st.Blocked[id] = true
	}
	return st, blocked.Err()
}

// Begin 创建或更新任务
func (s *SQLiteStore) Begin(ctx context.Context, jobID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		jobID, name, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to begin job: %w", err)
	}
	return nil
}

// MarkProcessed 记录已处理的单元
func (s *SQLiteStore) MarkProcessed(ctx context.Context, jobID string, unit Unit) error {
	return s.tx(ctx, jobID, func(tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO units (job_id, unit_id, translated, title, content, updated_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(job_id, unit_id) DO UPDATE SET
			   translated = excluded.translated, title = excluded.title,
			   content = excluded.content, updated_at = excluded.updated_at`,
			jobID, unit.ID, boolInt(unit.Translated), unit.Title, unit.Content, now)
		return err
	})
}

// Block 屏蔽单元
func (s *SQLiteStore) Block(ctx context.Context, jobID, unitID string) error {
	return s.tx(ctx, jobID, func(tx *sql.Tx, _ int64) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO blocked_units (job_id, unit_id) VALUES (?, ?)`, jobID, unitID)
		return err
	})
}

// SetPaused 设置暂停标志
func (s *SQLiteStore) SetPaused(ctx context.Context, jobID string, paused bool) error {
	return s.tx(ctx, jobID, func(tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET paused = ?, updated_at = ? WHERE job_id = ?`, boolInt(paused), now, jobID)
		return err
	})
}

// List 列出任务
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.job_id, j.name, j.paused, j.updated_at,
		       (SELECT COUNT(*) FROM units u WHERE u.job_id = j.job_id),
		       (SELECT COUNT(*) FROM blocked_units b WHERE b.job_id = j.job_id)
		FROM jobs j`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var list []Summary
	for rows.Next() {
		var sum Summary
		var paused int
		var ts int64
		if err := rows.Scan(&sum.JobID, &sum.Name, &paused, &ts, &sum.Processed, &sum.Blocked); err != nil {
			return nil, err
		}
		sum.Paused = paused != 0
		sum.UpdatedAt = time.Unix(0, ts)
		list = append(list, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(list)
	return list, nil
}

// Delete 删除任务及其单元
func (s *SQLiteStore) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// tx 在事务中执行写操作，同时刷新任务的更新时间
func (s *SQLiteStore) tx(ctx context.Context, jobID string, fn func(tx *sql.Tx, now int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (job_id, updated_at) VALUES (?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET updated_at = excluded.updated_at`, jobID, now); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to touch job: %w", err)
	}
	if err := fn(tx, now); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update job: %w", err)
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
