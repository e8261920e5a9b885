// Package store is the local sqlite-backed cache of accounts, servers, and
// notes, with FTS5 trigram search over cached note text.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
)

const cacheTTL = 30 * 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	token TEXT NOT NULL,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	display_name TEXT,
	avatar_url TEXT,
	software TEXT NOT NULL,
	UNIQUE(host, user_id)
);
CREATE TABLE IF NOT EXISTS servers (
	host TEXT PRIMARY KEY,
	software TEXT NOT NULL,
	version TEXT NOT NULL,
	features_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS notes_cache (
	note_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	server_host TEXT NOT NULL,
	created_at TEXT NOT NULL,
	text TEXT,
	note_json TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (note_id, account_id)
);
CREATE INDEX IF NOT EXISTS idx_notes_cache_timeline
	ON notes_cache (account_id, created_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	text,
	content='notes_cache',
	content_rowid=rowid,
	tokenize='trigram'
);
CREATE TRIGGER IF NOT EXISTS notes_fts_ai
	AFTER INSERT ON notes_cache WHEN new.text IS NOT NULL BEGIN
	INSERT INTO notes_fts(rowid, text) VALUES (new.rowid, new.text);
END;
CREATE TRIGGER IF NOT EXISTS notes_fts_ad
	AFTER DELETE ON notes_cache WHEN old.text IS NOT NULL BEGIN
	INSERT INTO notes_fts(notes_fts, rowid, text) VALUES('delete', old.rowid, old.text);
END;
`

// Store wraps the single sqlite connection used for all local persistence.
// The driver serializes access internally; SetMaxOpenConns(1) keeps every
// statement on one connection so WAL semantics stay simple, which is the
// Go-idiomatic substitute for a hand-rolled mutex around the connection.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Open creates or migrates the sqlite database at path and runs the
// one-time FTS rebuild and cache cleanup.
func Open(path string, logger *zap.Logger, reg *metrics.Registry) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Database(fmt.Errorf("open %s: %w", path, err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, errs.Database(err)
	}

	s := &Store{db: db, logger: logger, metrics: reg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.CleanupCache(); err != nil {
		logger.Warn("cache cleanup failed", zap.Error(err))
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := strings.Split(schema, ";\n")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return errs.Database(fmt.Errorf("migrate: %w", err))
		}
	}

	var needsRebuild bool
	row := s.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM notes_fts) = 0
		AND (SELECT COUNT(*) FROM notes_cache WHERE text IS NOT NULL) > 0`)
	if err := row.Scan(&needsRebuild); err != nil {
		return errs.Database(fmt.Errorf("check fts rebuild: %w", err))
	}
	if needsRebuild {
		if _, err := s.db.Exec(`INSERT INTO notes_fts(notes_fts) VALUES('rebuild')`); err != nil {
			return errs.Database(fmt.Errorf("rebuild fts: %w", err))
		}
	}

	if _, err := s.db.Exec(`DROP INDEX IF EXISTS idx_notes_cache_text`); err != nil {
		return errs.Database(err)
	}
	return nil
}

func (s *Store) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.Store.QueriesTotal.WithLabelValues(operation, outcome).Inc()
}

// UpsertAccount inserts or, on (host, user_id) conflict, updates an
// account row.
func (s *Store) UpsertAccount(a models.Account) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, host, token, user_id, username, display_name, avatar_url, software)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, user_id) DO UPDATE SET
			token = excluded.token,
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			software = excluded.software`,
		a.ID, a.Host, a.Token, a.UserID, a.Username, a.DisplayName, a.AvatarURL, a.Software)
	if err != nil {
		err = errs.Database(err)
	}
	s.record("upsert_account", err)
	return err
}

// LoadAccounts returns every stored account in insertion order.
func (s *Store) LoadAccounts() ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT id, host, token, user_id, username, display_name, avatar_url, software
		FROM accounts ORDER BY rowid`)
	if err != nil {
		err = errs.Database(err)
		s.record("load_accounts", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Host, &a.Token, &a.UserID, &a.Username, &a.DisplayName, &a.AvatarURL, &a.Software); err != nil {
			err = errs.Database(err)
			s.record("load_accounts", err)
			return nil, err
		}
		out = append(out, a)
	}
	err = rows.Err()
	if err != nil {
		err = errs.Database(err)
	}
	s.record("load_accounts", err)
	return out, err
}

// GetAccount returns a single account by id, or errs.AccountNotFound.
func (s *Store) GetAccount(id string) (models.Account, error) {
	row := s.db.QueryRow(`
		SELECT id, host, token, user_id, username, display_name, avatar_url, software
		FROM accounts WHERE id = ?`, id)

	var a models.Account
	err := row.Scan(&a.ID, &a.Host, &a.Token, &a.UserID, &a.Username, &a.DisplayName, &a.AvatarURL, &a.Software)
	if err == sql.ErrNoRows {
		notFoundErr := errs.AccountNotFound(id)
		s.record("get_account", notFoundErr)
		return models.Account{}, notFoundErr
	}
	if err != nil {
		err = errs.Database(err)
	}
	s.record("get_account", err)
	return a, err
}

// ClearAccountToken blanks the fallback token column once a token has
// been migrated into the OS keychain.
func (s *Store) ClearAccountToken(id string) error {
	_, err := s.db.Exec(`UPDATE accounts SET token = '' WHERE id = ?`, id)
	if err != nil {
		err = errs.Database(err)
	}
	s.record("clear_account_token", err)
	return err
}

// DeleteAccount removes an account row by id. Deleting a non-existent id
// is not an error.
func (s *Store) DeleteAccount(id string) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		err = errs.Database(err)
	}
	s.record("delete_account", err)
	return err
}

// UpsertServer inserts or updates cached server metadata.
func (s *Store) UpsertServer(srv models.StoredServer) error {
	_, err := s.db.Exec(`
		INSERT INTO servers (host, software, version, features_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			software = excluded.software,
			version = excluded.version,
			features_json = excluded.features_json,
			updated_at = excluded.updated_at`,
		srv.Host, srv.Software, srv.Version, srv.FeaturesJSON, srv.UpdatedAt)
	if err != nil {
		err = errs.Database(err)
	}
	s.record("upsert_server", err)
	return err
}

// LoadServers returns every cached server row.
func (s *Store) LoadServers() ([]models.StoredServer, error) {
	rows, err := s.db.Query(`SELECT host, software, version, features_json, updated_at FROM servers`)
	if err != nil {
		err = errs.Database(err)
		s.record("load_servers", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.StoredServer
	for rows.Next() {
		var srv models.StoredServer
		if err := rows.Scan(&srv.Host, &srv.Software, &srv.Version, &srv.FeaturesJSON, &srv.UpdatedAt); err != nil {
			err = errs.Database(err)
			s.record("load_servers", err)
			return nil, err
		}
		out = append(out, srv)
	}
	err = rows.Err()
	if err != nil {
		err = errs.Database(err)
	}
	s.record("load_servers", err)
	return out, err
}

// GetServer returns cached metadata for host, or errs.NotFound.
func (s *Store) GetServer(host string) (models.StoredServer, error) {
	row := s.db.QueryRow(`SELECT host, software, version, features_json, updated_at FROM servers WHERE host = ?`, host)

	var srv models.StoredServer
	err := row.Scan(&srv.Host, &srv.Software, &srv.Version, &srv.FeaturesJSON, &srv.UpdatedAt)
	if err == sql.ErrNoRows {
		notFoundErr := errs.NotFound(fmt.Sprintf("server not found: %s", host))
		s.record("get_server", notFoundErr)
		return models.StoredServer{}, notFoundErr
	}
	if err != nil {
		err = errs.Database(err)
	}
	s.record("get_server", err)
	return srv, err
}

// CacheNotes batch-upserts notes inside one transaction, keyed by
// (note_id, account_id).
func (s *Store) CacheNotes(notes []models.NormalizedNote) error {
	if len(notes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		err = errs.Database(err)
		s.record("cache_notes", err)
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO notes_cache (note_id, account_id, server_host, created_at, text, note_json, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(note_id, account_id) DO UPDATE SET
			note_json = excluded.note_json,
			cached_at = excluded.cached_at`)
	if err != nil {
		err = errs.Database(err)
		s.record("cache_notes", err)
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, n := range notes {
		noteJSON, jerr := marshalNote(n)
		if jerr != nil {
			continue
		}
		if _, err := stmt.Exec(n.ID, n.AccountID, n.ServerHost, n.CreatedAt, n.Text, noteJSON, now); err != nil {
			err = errs.Database(err)
			s.record("cache_notes", err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		err = errs.Database(err)
		s.record("cache_notes", err)
		return err
	}
	if s.metrics != nil {
		s.metrics.Store.NotesCached.Add(float64(len(notes)))
	}
	s.record("cache_notes", nil)
	return nil
}

// CacheNote is a single-note convenience wrapper over CacheNotes.
func (s *Store) CacheNote(n models.NormalizedNote) error {
	return s.CacheNotes([]models.NormalizedNote{n})
}

// GetCachedTimeline returns the most recent cached notes for an account.
func (s *Store) GetCachedTimeline(accountID string, limit int64) ([]models.NormalizedNote, error) {
	rows, err := s.db.Query(`
		SELECT note_json FROM notes_cache
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, accountID, limit)
	if err != nil {
		err = errs.Database(err)
		s.record("get_cached_timeline", err)
		return nil, err
	}
	defer rows.Close()

	notes, err := scanNoteJSONRows(rows)
	s.record("get_cached_timeline", err)
	return notes, err
}

// SearchCachedNotes uses FTS5 trigram phrase match for 3+ character
// queries and falls back to a LIKE substring match for shorter ones.
// limit is clamped to [1, 200].
func (s *Store) SearchCachedNotes(accountID, query string, limit int64) ([]models.NormalizedNote, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	var rows *sql.Rows
	var err error
	if utf8.RuneCountInString(query) >= 3 {
		escaped := strings.ReplaceAll(query, `"`, `""`)
		ftsQuery := `"` + escaped + `"`
		rows, err = s.db.Query(`
			SELECT nc.note_json FROM notes_cache nc
			WHERE nc.account_id = ?
			  AND nc.rowid IN (SELECT rowid FROM notes_fts WHERE notes_fts MATCH ?)
			ORDER BY nc.created_at DESC
			LIMIT ?`, accountID, ftsQuery, limit)
	} else {
		pattern := "%" + query + "%"
		rows, err = s.db.Query(`
			SELECT note_json FROM notes_cache
			WHERE account_id = ? AND text LIKE ?
			ORDER BY created_at DESC
			LIMIT ?`, accountID, pattern, limit)
	}
	if err != nil {
		err = errs.Database(err)
		s.record("search_cached_notes", err)
		return nil, err
	}
	defer rows.Close()

	notes, err := scanNoteJSONRows(rows)
	s.record("search_cached_notes", err)
	return notes, err
}

// CleanupCache deletes cached notes older than the 30-day TTL.
func (s *Store) CleanupCache() error {
	cutoff := time.Now().Add(-cacheTTL).Unix()
	res, err := s.db.Exec(`DELETE FROM notes_cache WHERE cached_at < ?`, cutoff)
	if err != nil {
		err = errs.Database(err)
		s.record("cleanup_cache", err)
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("evicted stale cached notes", zap.Int64("count", n))
	}
	s.record("cleanup_cache", nil)
	return nil
}

func scanNoteJSONRows(rows *sql.Rows) ([]models.NormalizedNote, error) {
	var out []models.NormalizedNote
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return out, errs.Database(err)
		}
		note, err := unmarshalNote(raw)
		if err != nil {
			continue
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return out, errs.Database(err)
	}
	return out, nil
}
