package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	_ "modernc.org/sqlite"
)

// ephemeralLimit bounds the in-memory history kept when persistence is off.
const ephemeralLimit = 256

// Entry is one delivered transcription outcome.
type Entry struct {
	ID         int64
	SessionID  string
	ArtifactID string
	Path       string
	Text       string
	Status     string
	Error      string
	Audio      time.Duration
	Elapsed    time.Duration
	CreatedAt  time.Time
}

// Store keeps transcript history in SQLite. In ephemeral mode entries are
// held in memory for the lifetime of the process only.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time

	mu     sync.Mutex
	memory []Entry
	nextID int64
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    runtime TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    artifact_id TEXT NOT NULL,
    path TEXT,
    text TEXT,
    status TEXT NOT NULL,
    error TEXT,
    audio_ms INTEGER,
    elapsed_ms INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether entries survive a restart.
func (s *Store) Persistent() bool { return s.db != nil }

// AppendSession ensures a session row exists for one run of the service.
func (s *Store) AppendSession(ctx context.Context, sessionID, runtime string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, runtime, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET runtime=excluded.runtime`,
		sessionID, runtime, s.clock().UnixNano())
	return err
}

// Append records a transcription outcome.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	if s.db == nil {
		s.mu.Lock()
		s.nextID++
		e.ID = s.nextID
		s.memory = append(s.memory, e)
		if len(s.memory) > ephemeralLimit {
			s.memory = s.memory[len(s.memory)-ephemeralLimit:]
		}
		s.mu.Unlock()
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, artifact_id, path, text, status, error, audio_ms, elapsed_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.ArtifactID, e.Path, e.Text, e.Status, e.Error,
		e.Audio.Milliseconds(), e.Elapsed.Milliseconds(), e.CreatedAt.UnixNano())
	return err
}

// Recent returns up to limit of the newest non-empty transcripts, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1
	}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []Entry
		for i := len(s.memory) - 1; i >= 0 && len(out) < limit; i-- {
			if e := s.memory[i]; e.Status == "success" {
				out = append(out, e)
			}
		}
		reverse(out)
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, artifact_id, path, text, status, error, audio_ms, elapsed_ms, created_at
		 FROM transcripts WHERE status = 'success' ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// ListSession retrieves up to limit entries for a session in insertion order.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []Entry
		for _, e := range s.memory {
			if e.SessionID == sessionID && len(out) < limit {
				out = append(out, e)
			}
		}
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, artifact_id, path, text, status, error, audio_ms, elapsed_ms, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e                   Entry
			path, text, errText sql.NullString
			audioMS, elapsedMS  sql.NullInt64
			created             int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ArtifactID, &path, &text, &e.Status, &errText, &audioMS, &elapsedMS, &created); err != nil {
			return nil, err
		}
		e.Path = path.String
		e.Text = text.String
		e.Error = errText.String
		e.Audio = time.Duration(audioMS.Int64) * time.Millisecond
		e.Elapsed = time.Duration(elapsedMS.Int64) * time.Millisecond
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		// nothing to prune
		return tx.Commit()
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
