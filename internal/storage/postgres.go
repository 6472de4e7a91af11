// Package storage 提供面板的持久化层：
// Postgres 承载日志历史归档与留存设置，Redis 承载
// 面板会话偏好与诊断结果的二级缓存。
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/oriys/lumen/internal/domain"
	"github.com/sirupsen/logrus"
)

// 默认日志留存天数
const defaultRetentionDays = 30

// migrationSQL 历史表结构。
// id 是条目的内容身份键，主键冲突即重复条目，插入时静默忽略。
const migrationSQL = `
CREATE TABLE IF NOT EXISTS log_history (
    id                TEXT PRIMARY KEY,
    ts                BIGINT NOT NULL,
    request_id        TEXT,
    function_path     TEXT,
    status            TEXT,
    log_level         TEXT,
    message           TEXT NOT NULL DEFAULT '',
    error_message     TEXT,
    execution_time_ms DOUBLE PRECISION,
    raw               JSONB,
    created_at        BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_log_history_ts ON log_history (ts DESC);
CREATE INDEX IF NOT EXISTS idx_log_history_request_id ON log_history (request_id) WHERE request_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_log_history_function_ts ON log_history (function_path, ts DESC) WHERE function_path IS NOT NULL;

CREATE TABLE IF NOT EXISTS panel_settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO panel_settings (key, value) VALUES ('retention_days', '30')
ON CONFLICT (key) DO NOTHING;
`

// PostgresStore 是 Postgres 日志历史存储。
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接数据库并执行迁移。
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close 关闭数据库连接。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InsertEntries 归档一批日志条目。
// 以内容身份键为主键，重复条目静默忽略，返回实际插入与重复的数量。
func (s *PostgresStore) InsertEntries(ctx context.Context, entries []domain.LogEntry) (inserted, duplicates int, err error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_history (
			id, ts, request_id, function_path, status, log_level,
			message, error_message, execution_time_ms, raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i := range entries {
		e := &entries[i]
		var raw []byte
		if e.Raw != nil {
			raw, _ = json.Marshal(e.Raw)
		}
		res, execErr := stmt.ExecContext(ctx,
			e.IdentityKey(), e.Timestamp, nullString(e.RequestID), nullString(e.FunctionPath),
			nullString(string(e.Status)), nullString(string(e.LogLevel)),
			e.Message, nullString(e.ErrorMessage), e.ExecutionTimeMs, raw, now)
		if execErr != nil {
			return inserted, duplicates, fmt.Errorf("inserting entry: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		} else {
			duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, duplicates, fmt.Errorf("committing insert: %w", err)
	}
	return inserted, duplicates, nil
}

// HistoryQuery 是历史回放查询的条件。
type HistoryQuery struct {
	// Before 只返回早于该毫秒时间戳的条目，0 表示从最新开始
	Before int64
	// Limit 最多返回的条目数，上限 1000
	Limit int
	// RequestID 按执行关联键过滤（可选）
	RequestID string
	// FunctionPath 按函数标识过滤（可选）
	FunctionPath string
	// Search 大小写不敏感的子串匹配（可选）
	Search string
}

// QueryHistory 按时间倒序回放归档日志。
func (s *PostgresStore) QueryHistory(ctx context.Context, q HistoryQuery) ([]domain.LogEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Before > 0 {
		where += " AND ts < " + arg(q.Before)
	}
	if q.RequestID != "" {
		where += " AND request_id = " + arg(q.RequestID)
	}
	if q.FunctionPath != "" {
		where += " AND function_path = " + arg(domain.NormalizeFunctionPath(q.FunctionPath))
	}
	if q.Search != "" {
		p := "%" + q.Search + "%"
		where += " AND (message ILIKE " + arg(p) + " OR function_path ILIKE " + arg(p) + " OR error_message ILIKE " + arg(p) + ")"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, request_id, function_path, status, log_level,
		       message, error_message, execution_time_ms, raw
		FROM log_history WHERE `+where+`
		ORDER BY ts DESC LIMIT `+strconv.Itoa(limit), args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var (
			e      domain.LogEntry
			reqID  sql.NullString
			fnPath sql.NullString
			status sql.NullString
			level  sql.NullString
			errMsg sql.NullString
			execMs sql.NullFloat64
			raw    []byte
		)
		if err := rows.Scan(&e.Timestamp, &reqID, &fnPath, &status, &level,
			&e.Message, &errMsg, &execMs, &raw); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.RequestID = reqID.String
		e.FunctionPath = fnPath.String
		e.Status = domain.LogStatus(status.String)
		e.LogLevel = domain.LogLevel(level.String)
		e.ErrorMessage = errMsg.String
		e.ExecutionTimeMs = execMs.Float64
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Raw)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionDays 读取留存天数设置。
func (s *PostgresStore) RetentionDays(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM panel_settings WHERE key = 'retention_days'`).Scan(&v)
	if err == sql.ErrNoRows {
		return defaultRetentionDays, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading retention setting: %w", err)
	}
	days, err := strconv.Atoi(v)
	if err != nil || days <= 0 {
		return defaultRetentionDays, nil
	}
	return days, nil
}

// SetRetentionDays 更新留存天数设置。
func (s *PostgresStore) SetRetentionDays(ctx context.Context, days int) error {
	if days <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", days)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO panel_settings (key, value) VALUES ('retention_days', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		strconv.Itoa(days))
	return err
}

// SweepExpired 删除超过留存期的历史条目，返回删除数量。
func (s *PostgresStore) SweepExpired(ctx context.Context) (int64, error) {
	days, err := s.RetentionDays(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UnixMilli() - int64(days)*24*60*60*1000

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM log_history WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired history: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted":        deleted,
			"retention_days": days,
		}).Info("Swept expired log history")
	}
	return deleted, nil
}

// ClearHistory 清空全部归档日志。
func (s *PostgresStore) ClearHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM log_history`)
	return err
}

// HistoryCount 返回归档条目总数。
func (s *PostgresStore) HistoryCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_history`).Scan(&n)
	return n, err
}

// Ping 检查数据库连通性，供健康检查使用。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
