package sync

import (
	"database/sql"
	"fmt"
	"time"
)

// CursorStore persists the incremental pull cursor. Advancing is a
// compare-and-set on the sync generation: a superseded pull session that
// finishes late can never overwrite the cursor a newer session already
// committed.
type CursorStore struct {
	db  *sql.DB
	key string
}

func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db, key: "worklog"}
}

// Load returns the persisted cursor. An empty cursor means no pull has
// completed yet and the next pull starts from the beginning.
func (s *CursorStore) Load() (string, error) {
	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM sync_state WHERE key = ?`, s.key).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load sync cursor: %w", err)
	}
	return cursor, nil
}

// CompareAndSet advances the cursor on behalf of the given sync generation.
// It returns false without writing when a newer generation has already
// committed, which tells the caller its session was superseded.
func (s *CursorStore) CompareAndSet(cursor string, generation int64) (bool, error) {
	result, err := s.db.Exec(`
		INSERT INTO sync_state (key, cursor, generation, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			cursor = excluded.cursor,
			generation = excluded.generation,
			updated_at = excluded.updated_at
		WHERE sync_state.generation <= excluded.generation
	`, s.key, cursor, generation, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to advance sync cursor: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Generation returns the highest generation that has committed a cursor.
func (s *CursorStore) Generation() (int64, error) {
	var generation int64
	err := s.db.QueryRow(`SELECT generation FROM sync_state WHERE key = ?`, s.key).Scan(&generation)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load sync generation: %w", err)
	}
	return generation, nil
}

// Reset clears the cursor, forcing the next pull to start from scratch.
func (s *CursorStore) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM sync_state WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}
	return nil
}
