// Package storage persists channels, credentials and recording assets in a
// single SQLite file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chzzk-recorder/internal/orchestrator"

	"github.com/patrickmn/go-cache"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	sqliteUniqueCode        = 2067
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	credentialsKey = "credentials"

	// Fixed-width so that lexical order is chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Options configures Open.
type Options struct {
	BusyTimeout time.Duration
	// CredentialTTL bounds how long credentials are served from memory.
	CredentialTTL time.Duration
}

// DefaultOptions returns the settings the daemon uses.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:   5 * time.Second,
		CredentialTTL: 30 * time.Second,
	}
}

// Store implements orchestrator.Store on SQLite.
type Store struct {
	db    *sql.DB
	path  string
	creds *cache.Cache
}

var _ orchestrator.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
func Open(path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}
	if opts.CredentialTTL <= 0 {
		opts.CredentialTTL = DefaultOptions().CredentialTTL
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{
		db:   db,
		path: path,
		// No janitor: expired entries are ignored by Get and replaced on the next load.
		creds: cache.New(opts.CredentialTTL, 0),
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id   TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			active       INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			last_checked TEXT,
			last_live    TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS recording_assets (
			id            TEXT PRIMARY KEY,
			channel_id    TEXT NOT NULL,
			relative_path TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			status        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recording_assets_channel ON recording_assets(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_recording_assets_status ON recording_assets(status)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			nid_aut    TEXT NOT NULL DEFAULT '',
			nid_ses    TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := s.execWithoutResultRetry(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Credentials implements orchestrator.CredentialProvider.
func (s *Store) Credentials(ctx context.Context) (orchestrator.Credentials, error) {
	if v, ok := s.creds.Get(credentialsKey); ok {
		return v.(orchestrator.Credentials), nil
	}
	var c orchestrator.Credentials
	err := s.db.QueryRowContext(ctx, `SELECT nid_aut, nid_ses FROM credentials WHERE id = 1`).Scan(&c.NIDAut, &c.NIDSes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return orchestrator.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	s.creds.SetDefault(credentialsKey, c)
	return c, nil
}

// PutCredentials implements orchestrator.Store.
func (s *Store) PutCredentials(ctx context.Context, c orchestrator.Credentials) error {
	err := s.execWithoutResultRetry(ctx, `
		INSERT INTO credentials (id, nid_aut, nid_ses, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET nid_aut = excluded.nid_aut, nid_ses = excluded.nid_ses, updated_at = excluded.updated_at`,
		c.NIDAut, c.NIDSes, formatTime(time.Now()))
	s.creds.Delete(credentialsKey)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

const channelColumns = `id, channel_id, display_name, active, created_at, last_checked, last_live`

// ListActiveChannels implements orchestrator.ChannelDirectory.
func (s *Store) ListActiveChannels(ctx context.Context) ([]orchestrator.Channel, error) {
	return s.queryChannels(ctx, `SELECT `+channelColumns+` FROM channels WHERE active = 1 ORDER BY id`)
}

// ListChannels implements orchestrator.ChannelDirectory.
func (s *Store) ListChannels(ctx context.Context) ([]orchestrator.Channel, error) {
	return s.queryChannels(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY id`)
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]orchestrator.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	out := make([]orchestrator.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// GetChannel implements orchestrator.ChannelDirectory.
func (s *Store) GetChannel(ctx context.Context, channelID string) (orchestrator.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE channel_id = ?`, channelID)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return orchestrator.Channel{}, orchestrator.ErrChannelNotFound
	}
	return ch, err
}

// AddChannel implements orchestrator.ChannelDirectory.
func (s *Store) AddChannel(ctx context.Context, ch orchestrator.Channel) (orchestrator.Channel, error) {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	ch.CreatedAt = ch.CreatedAt.UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO channels (channel_id, display_name, active, created_at, last_checked, last_live) VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ChannelID, ch.DisplayName, ch.Active, formatTime(ch.CreatedAt), nullTime(ch.LastChecked), nullTime(ch.LastLive))
	if err != nil {
		if isUniqueViolation(err) {
			return orchestrator.Channel{}, orchestrator.ErrChannelExists
		}
		return orchestrator.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return orchestrator.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	ch.ID = id
	return ch, nil
}

// SetChannelActive implements orchestrator.ChannelDirectory.
func (s *Store) SetChannelActive(ctx context.Context, channelID string, active bool) error {
	return s.updateChannel(ctx, `UPDATE channels SET active = ? WHERE channel_id = ?`, active, channelID)
}

// DeleteChannel implements orchestrator.ChannelDirectory.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) error {
	return s.updateChannel(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID)
}

// UpdateChannelTimestamps implements orchestrator.ChannelDirectory.
func (s *Store) UpdateChannelTimestamps(ctx context.Context, channelID string, checkedAt time.Time, liveAt *time.Time) error {
	return s.updateChannel(ctx,
		`UPDATE channels SET last_checked = ?, last_live = COALESCE(?, last_live) WHERE channel_id = ?`,
		formatTime(checkedAt), nullTime(liveAt), channelID)
}

func (s *Store) updateChannel(ctx context.Context, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	if n == 0 {
		return orchestrator.ErrChannelNotFound
	}
	return nil
}

// UpsertRecordingAsset implements orchestrator.AssetStore.
func (s *Store) UpsertRecordingAsset(ctx context.Context, a orchestrator.RecordingAsset) error {
	err := s.execWithoutResultRetry(ctx, `
		INSERT INTO recording_assets (id, channel_id, relative_path, title, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			relative_path = excluded.relative_path,
			title = excluded.title,
			status = excluded.status`,
		a.ID, a.ChannelID, a.RelativePath, a.Title, formatTime(a.CreatedAt), string(a.Status))
	if err != nil {
		return fmt.Errorf("upsert recording asset %s: %w", a.ID, err)
	}
	return nil
}

// ListRecordingAssets implements orchestrator.AssetStore.
func (s *Store) ListRecordingAssets(ctx context.Context, channelID string) ([]orchestrator.RecordingAsset, error) {
	query := `SELECT id, channel_id, relative_path, title, created_at, status FROM recording_assets`
	var args []any
	if channelID != "" {
		query += ` WHERE channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recording assets: %w", err)
	}
	defer rows.Close()

	out := make([]orchestrator.RecordingAsset, 0)
	for rows.Next() {
		var (
			a       orchestrator.RecordingAsset
			created string
			status  string
		)
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.RelativePath, &a.Title, &created, &status); err != nil {
			return nil, fmt.Errorf("scan recording asset: %w", err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		a.Status = orchestrator.AssetStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteRecordingAssets implements orchestrator.AssetStore.
func (s *Store) DeleteRecordingAssets(ctx context.Context, channelID string) (int, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM recording_assets WHERE channel_id = ?`, channelID)
	if err != nil {
		return 0, fmt.Errorf("delete recording assets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkInterruptedAssets implements orchestrator.AssetStore.
func (s *Store) MarkInterruptedAssets(ctx context.Context) (int, error) {
	res, err := s.execWithRetry(ctx, `UPDATE recording_assets SET status = ? WHERE status = ?`,
		string(orchestrator.AssetIncomplete), string(orchestrator.AssetRecording))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted assets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(row scanner) (orchestrator.Channel, error) {
	var (
		ch                orchestrator.Channel
		created           string
		checked, liveTime sql.NullString
	)
	if err := row.Scan(&ch.ID, &ch.ChannelID, &ch.DisplayName, &ch.Active, &created, &checked, &liveTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ch, err
		}
		return ch, fmt.Errorf("scan channel: %w", err)
	}
	var err error
	if ch.CreatedAt, err = parseTime(created); err != nil {
		return ch, err
	}
	if ch.LastChecked, err = parseNullTime(checked); err != nil {
		return ch, err
	}
	if ch.LastLive, err = parseNullTime(liveTime); err != nil {
		return ch, err
	}
	return ch, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func errorCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code(), true
	}
	return 0, false
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := errorCode(err); ok && code&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if code, ok := errorCode(err); ok && code == sqliteUniqueCode {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
