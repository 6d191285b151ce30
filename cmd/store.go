package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// Row is one entry of a persisted CLI queue definition.
type Row struct {
	Type    string   `json:"type"` // "header" or "command"
	Header  string   `json:"header,omitempty"`
	Command string   `json:"command,omitempty"`
	Name    string   `json:"name,omitempty"`
	Depends []string `json:"depends,omitempty"`
}

// Store persists in-progress queue definitions as JSON row lists on
// disk, one file per queue name.
type Store struct {
	Dir string
}

// NewStore returns the store rooted at the user cache directory, or the
// given override.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache directory: %w", err)
		}
		dir = filepath.Join(cache, "cmdq", "cli")
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(qname string) string {
	return filepath.Join(s.Dir, qname+".cmdq.json")
}

// Write replaces a queue definition atomically.
func (s *Store) Write(qname string, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal queue rows: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := renameio.WriteFile(s.path(qname), data, 0o644); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

// Read loads a queue definition.
func (s *Store) Read(qname string) ([]Row, error) {
	data, err := os.ReadFile(s.path(qname))
	if err != nil {
		return nil, fmt.Errorf("read queue %q: %w", qname, err)
	}
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse queue %q: %w", qname, err)
	}
	return rows, nil
}

// Append adds a row to an existing queue definition.
func (s *Store) Append(qname string, row Row) error {
	rows, err := s.Read(qname)
	if err != nil {
		return err
	}
	return s.Write(qname, append(rows, row))
}

// List returns the names of the persisted queues.
func (s *Store) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.cmdq.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		base := filepath.Base(match)
		names = append(names, base[:len(base)-len(".cmdq.json")])
	}
	return names, nil
}
