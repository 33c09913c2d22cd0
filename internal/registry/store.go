package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Store maps service names to records. Reads are served from memory; the
// side file is only read once, when the store is opened. Every mutation
// rewrites the whole file. The store assumes it is the only writer of its
// file.
type Store struct {
	mutex   sync.RWMutex
	records map[string]Record
	path    string
	logger  *slog.Logger
}

// OpenStore loads path into memory. A missing file yields an empty store
// and an unreadable one is logged and discarded. An empty path keeps the
// store in memory only.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		records: make(map[string]Record),
		path:    path,
		logger:  logger,
	}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var persisted map[string]Record
	if err := codec.Unmarshal(data, &persisted); err != nil {
		logger.Error("Discarding unreadable registry file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return s, nil
	}

	for name, rec := range persisted {
		rec.Name = name
		s.records[name] = rec
	}

	logger.Info("Loaded registry file",
		slog.String("file", path),
		slog.Int("services", len(s.records)))
	return s, nil
}

// Put creates or replaces the record stored under rec.Name.
func (s *Store) Put(rec Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.records[rec.Name] = rec.clone()
	return s.persistLocked()
}

func (s *Store) Get(name string) (Record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// All returns a copy of every record ordered by name.
func (s *Store) All() []Record {
	s.mutex.RLock()
	all := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec.clone())
	}
	s.mutex.RUnlock()

	slices.SortFunc(all, func(a, b Record) int {
		return strings.Compare(a.Name, b.Name)
	})
	return all
}

// Remove deletes name and reports whether it was present.
func (s *Store) Remove(name string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.records[name]; !ok {
		return false, nil
	}
	delete(s.records, name)
	return true, s.persistLocked()
}

// Update applies fn to the record stored under name while holding the
// store lock. fn reports whether it changed anything; unchanged records are
// not persisted. The returned record reflects the state after fn.
func (s *Store) Update(name string, fn func(*Record) bool) (Record, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[name]
	if !ok {
		return Record{}, false, nil
	}

	rec = rec.clone()
	if !fn(&rec) {
		return rec, true, nil
	}

	rec.Name = name
	s.records[name] = rec
	return rec.clone(), true, s.persistLocked()
}

// RemoveWhere deletes every record matching pred in one step and returns
// the removed names in order.
func (s *Store) RemoveWhere(pred func(Record) bool) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var removed []string
	for name, rec := range s.records {
		if pred(rec) {
			delete(s.records, name)
			removed = append(removed, name)
		}
	}

	if len(removed) == 0 {
		return nil, nil
	}

	slices.Sort(removed)
	return removed, s.persistLocked()
}

func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := codec.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}
