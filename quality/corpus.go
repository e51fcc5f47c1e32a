package quality

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Member is one accepted asset in the corpus.
type Member struct {
	Key    string // combination key
	Family string // template family; members only compete within a family
	Body   string // rendered body HTML
}

// Store holds the corpus of previously accepted assets. Implementations do
// not need to be safe for concurrent use: the Gate serializes every
// evaluate-then-insert sequence under its own lock, and that correctness
// property must hold regardless of backing store.
type Store interface {
	Add(ctx context.Context, m Member) error
	Members(ctx context.Context, family string) ([]Member, error)
	Len(ctx context.Context) (int, error)
}

// MemoryStore is the single-process corpus backing.
type MemoryStore struct {
	mu    sync.RWMutex
	byFam map[string][]Member
	total int
}

// NewMemoryStore returns an empty in-memory corpus.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byFam: make(map[string][]Member)}
}

func (s *MemoryStore) Add(ctx context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFam[m.Family] = append(s.byFam[m.Family], m)
	s.total++
	return nil
}

func (s *MemoryStore) Members(ctx context.Context, family string) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.byFam[family]
	out := make([]Member, len(members))
	copy(out, members)
	return out, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, nil
}

// SQLiteSchema creates the corpus table. Pass to dbopen.WithSchema.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS quality_corpus (
	combination_key TEXT NOT NULL,
	family          TEXT NOT NULL,
	body            TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (family, combination_key)
);
CREATE INDEX IF NOT EXISTS idx_quality_corpus_family ON quality_corpus (family);
`

// SQLiteStore persists the corpus so duplicate detection survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened with SQLiteSchema applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Add(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO quality_corpus (combination_key, family, body, created_at)
		VALUES (?,?,?,?)`,
		m.Key, m.Family, m.Body, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("quality: corpus add: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Members(ctx context.Context, family string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT combination_key, family, body FROM quality_corpus
		WHERE family = ? ORDER BY created_at`, family)
	if err != nil {
		return nil, fmt.Errorf("quality: corpus members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Key, &m.Family, &m.Body); err != nil {
			return nil, fmt.Errorf("quality: corpus scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quality_corpus`).Scan(&n)
	return n, err
}
