// Package store persists link edges and the administrative audit log
// in SQLite, so a restarted server can report what it was linked to
// and operators can review channel create/destroy/link history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists server state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS link_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_name TEXT NOT NULL,
	peer_host TEXT NOT NULL,
	peer_port INTEGER NOT NULL,
	remote_channel_id INTEGER NOT NULL,
	outgoing INTEGER NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_link_edges_channel ON link_edges(channel_name);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_nick TEXT NOT NULL,
	action TEXT NOT NULL,
	target TEXT NOT NULL,
	details TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action, created_at_unix_ms);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// LinkEdge is one recorded link handshake.
type LinkEdge struct {
	ChannelName     string
	PeerHost        string
	PeerPort        int
	RemoteChannelID uint16
	Outgoing        bool
	CreatedAt       time.Time
}

// RecordLinkEdge persists one completed link handshake.
func (s *Store) RecordLinkEdge(ctx context.Context, e LinkEdge) error {
	const q = `INSERT INTO link_edges (channel_name, peer_host, peer_port, remote_channel_id, outgoing, created_at_unix_ms) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, e.ChannelName, e.PeerHost, e.PeerPort, e.RemoteChannelID, boolToInt(e.Outgoing), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert link edge: %w", err)
	}
	slog.Debug("link edge recorded", "channel", e.ChannelName, "peer", fmt.Sprintf("%s:%d", e.PeerHost, e.PeerPort))
	return nil
}

// LinkEdgesForChannel returns every recorded edge for a channel name,
// most recent first.
func (s *Store) LinkEdgesForChannel(ctx context.Context, channelName string) ([]LinkEdge, error) {
	const q = `
SELECT channel_name, peer_host, peer_port, remote_channel_id, outgoing, created_at_unix_ms
FROM link_edges WHERE channel_name = ? ORDER BY id DESC
`
	rows, err := s.db.QueryContext(ctx, q, channelName)
	if err != nil {
		return nil, fmt.Errorf("query link edges: %w", err)
	}
	defer rows.Close()

	var out []LinkEdge
	for rows.Next() {
		var e LinkEdge
		var outgoing int
		var createdAtMs int64
		if err := rows.Scan(&e.ChannelName, &e.PeerHost, &e.PeerPort, &e.RemoteChannelID, &outgoing, &createdAtMs); err != nil {
			return nil, fmt.Errorf("scan link edge: %w", err)
		}
		e.Outgoing = outgoing != 0
		e.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllLinkEdges returns every recorded edge across all channels, most
// recent first, for the `dechat links` CLI subcommand.
func (s *Store) AllLinkEdges(ctx context.Context) ([]LinkEdge, error) {
	const q = `
SELECT channel_name, peer_host, peer_port, remote_channel_id, outgoing, created_at_unix_ms
FROM link_edges ORDER BY id DESC
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query link edges: %w", err)
	}
	defer rows.Close()

	var out []LinkEdge
	for rows.Next() {
		var e LinkEdge
		var outgoing int
		var createdAtMs int64
		if err := rows.Scan(&e.ChannelName, &e.PeerHost, &e.PeerPort, &e.RemoteChannelID, &outgoing, &createdAtMs); err != nil {
			return nil, fmt.Errorf("scan link edge: %w", err)
		}
		e.Outgoing = outgoing != 0
		e.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSetting returns a persisted setting (e.g. a motd/help/rules
// override), and whether it was present at all.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM settings WHERE key = ?`
	var value string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting persists (or overwrites) one setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// AllSettings returns every persisted setting, for `dechat settings list`.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// AuditEntry is one administrative event.
type AuditEntry struct {
	ActorNick string
	Action    string
	Target    string
	Details   string
	CreatedAt time.Time
}

// RecordAudit persists one administrative event.
func (s *Store) RecordAudit(ctx context.Context, e AuditEntry) error {
	const q = `INSERT INTO audit_log (actor_nick, action, target, details, created_at_unix_ms) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, e.ActorNick, e.Action, e.Target, e.Details, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the most recent audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT actor_nick, action, target, details, created_at_unix_ms FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAtMs int64
		if err := rows.Scan(&e.ActorNick, &e.Action, &e.Target, &e.Details, &createdAtMs); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Backup copies the database to destPath via SQLite's VACUUM INTO, for
// the "dechat backup" CLI subcommand.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
