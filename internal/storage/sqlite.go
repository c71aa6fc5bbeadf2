package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/clicker/internal/session"
	"github.com/gateway-fm/clicker/pkg/types"
)

// SQLiteStorage stores session blobs and the click log in one SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and migrates) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL lets the status stream read while a click is being written.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clicks (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL COLLATE NOCASE,
		nonce INTEGER NOT NULL,
		tx_hash TEXT,
		state TEXT NOT NULL,
		source TEXT NOT NULL,
		error_message TEXT,
		clicked_at_ms INTEGER NOT NULL,
		finalized_at_ms INTEGER,
		latency_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_clicks_address ON clicks(address, clicked_at_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_clicks_tx_hash ON clicks(tx_hash);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"clicks", "latency_ms", "ALTER TABLE clicks ADD COLUMN latency_ms INTEGER"},
	}
	for _, m := range migrations {
		if s.columnExists(m.table, m.column) {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table. Names are validated
// because they are formatted into the query.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier allows only alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Get returns the session blob stored under key.
func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT blob FROM sessions WHERE session_key = ?", key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Put stores or replaces the session blob under key.
func (s *SQLiteStorage) Put(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_key, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`, key, blob, time.Now().UTC())
	return err
}

// Delete removes the session blob under key. Missing keys are not an error.
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_key = ?", key)
	return err
}

// SaveClick inserts a new click record.
func (s *SQLiteStorage) SaveClick(ctx context.Context, rec types.ClickRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clicks (id, address, nonce, tx_hash, state, source, error_message, clicked_at_ms, finalized_at_ms, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Address, rec.Nonce, nullString(rec.TxHash), rec.State, rec.Source,
		nullString(rec.ErrorMessage), rec.ClickedAtMs, nullInt64Ptr(rec.FinalizedAtMs), nullInt64Ptr(rec.LatencyMs))
	return err
}

// UpdateClick writes the mutable fields of an existing record.
func (s *SQLiteStorage) UpdateClick(ctx context.Context, rec types.ClickRecord) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clicks SET
			tx_hash = ?,
			state = ?,
			error_message = ?,
			finalized_at_ms = ?,
			latency_ms = ?
		WHERE id = ?
	`, nullString(rec.TxHash), rec.State, nullString(rec.ErrorMessage),
		nullInt64Ptr(rec.FinalizedAtMs), nullInt64Ptr(rec.LatencyMs), rec.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("click not found: %s", rec.ID)
	}
	return nil
}

const clickColumns = `id, address, nonce, tx_hash, state, source, error_message, clicked_at_ms, finalized_at_ms, latency_ms`

// ListClicks returns a page of the wallet's clicks, newest first.
func (s *SQLiteStorage) ListClicks(ctx context.Context, address string, limit, offset int) (*types.PaginatedClicks, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clicks WHERE address = ?", address).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clickColumns+`
		FROM clicks
		WHERE address = ?
		ORDER BY clicked_at_ms DESC, nonce DESC
		LIMIT ? OFFSET ?
	`, address, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clicks := []types.ClickRecord{}
	for rows.Next() {
		rec, err := scanClick(rows)
		if err != nil {
			return nil, err
		}
		clicks = append(clicks, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &types.PaginatedClicks{
		Clicks: clicks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// GetClick returns one click by id, or nil when it does not exist.
func (s *SQLiteStorage) GetClick(ctx context.Context, id string) (*types.ClickRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+clickColumns+" FROM clicks WHERE id = ?", id)
	rec, err := scanClick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ClickStats aggregates the wallet's click log.
func (s *SQLiteStorage) ClickStats(ctx context.Context, address string) (*types.ClickStats, error) {
	var stats types.ClickStats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(state = 'confirmed'), 0),
			COALESCE(SUM(state = 'failed'), 0),
			COALESCE(SUM(state IN ('submitting', 'pending')), 0),
			COALESCE(SUM(source = 'manual'), 0),
			COALESCE(SUM(source = 'auto'), 0),
			AVG(CASE WHEN state = 'confirmed' THEN latency_ms END)
		FROM clicks
		WHERE address = ?
	`, address).Scan(&stats.Total, &stats.Confirmed, &stats.Failed, &stats.Pending,
		&stats.Manual, &stats.Auto, &avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgLatencyMs = avg.Float64
	}
	return &stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClick(row scanner) (*types.ClickRecord, error) {
	var rec types.ClickRecord
	var txHash, errorMessage sql.NullString
	var finalizedAt, latency sql.NullInt64

	err := row.Scan(&rec.ID, &rec.Address, &rec.Nonce, &txHash, &rec.State, &rec.Source,
		&errorMessage, &rec.ClickedAtMs, &finalizedAt, &latency)
	if err != nil {
		return nil, err
	}

	rec.TxHash = txHash.String
	rec.ErrorMessage = errorMessage.String
	if finalizedAt.Valid {
		rec.FinalizedAtMs = &finalizedAt.Int64
	}
	if latency.Valid {
		rec.LatencyMs = &latency.Int64
	}
	return &rec, nil
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
