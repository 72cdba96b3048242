package project

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chazu/stagehand/pkg/blocks"
)

// ErrProjectNotFound is returned when loading a project id with no row.
var ErrProjectNotFound = errors.New("project not found")

// Store persists projects as JSON rows in SQLite, with a read cache in
// front. Writes go through to the database immediately.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*blocks.ProjectFile
}

// OpenStore opens (creating if needed) the project database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS projects (
		id   TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		db:    db,
		cache: make(map[string]*blocks.ProjectFile),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Save writes a project under id, replacing any previous version.
func (s *Store) Save(id string, p *blocks.ProjectFile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling project: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO projects (id, data) VALUES (?, json(?))",
		id, string(data),
	)
	if err != nil {
		return fmt.Errorf("saving project: %w", err)
	}

	s.mu.Lock()
	if s.cache != nil {
		s.cache[id] = p
	}
	s.mu.Unlock()
	return nil
}

// Load reads a project from cache or database.
func (s *Store) Load(id string) (*blocks.ProjectFile, error) {
	s.mu.RLock()
	if p, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM projects WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("querying project: %w", err)
	}

	p, err := blocks.ParseProjectBytes([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshaling project: %w", err)
	}

	s.mu.Lock()
	if s.cache != nil {
		s.cache[id] = p
	}
	s.mu.Unlock()
	return p, nil
}

// Delete removes a project.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// List returns the stored project ids, in id order.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM projects ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
