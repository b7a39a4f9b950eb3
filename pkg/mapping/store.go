package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// Store persists grids by name between runs.
type Store interface {
	// Save persists the grid under name.
	Save(name string, g *Grid) error

	// Load returns the named grid, or nil with no error when none exists.
	Load(name string) (*Grid, error)

	// Close releases any resources held by the store.
	Close() error
}

// Backends accepted by Open.
const (
	BackendJSON   = "json"
	BackendBadger = "badger"
)

// Open returns the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStore(dir), nil
	case BackendBadger:
		st, err := OpenBadgerStore(dir)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown map backend %q", backend)
	}
}

// JSONStore keeps one <name>.json file per grid in Dir.
type JSONStore struct {
	Dir string
}

// NewJSONStore creates a new JSON file store.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{Dir: dir}
}

// Path returns the file a grid name is stored in.
func (s *JSONStore) Path(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

// Save writes the grid to its JSON file.
func (s *JSONStore) Save(name string, g *Grid) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode map: %w", err)
	}

	if s.Dir != "" && s.Dir != "." {
		if err := os.MkdirAll(s.Dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	if err := os.WriteFile(s.Path(name), data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Load reads the grid from its JSON file.
func (s *JSONStore) Load(name string) (*Grid, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	g := New(DefaultConfig())
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path(name), err)
	}
	return g, nil
}

// Close is a no-op for JSON files.
func (s *JSONStore) Close() error {
	return nil
}

// BadgerStore keeps grids in a badger database under "map/<name>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a database in dir, or in memory when dir is empty.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func mapKey(name string) []byte { return []byte("map/" + name) }

// Save stores the grid under its key.
func (s *BadgerStore) Save(name string, g *Grid) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode map: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mapKey(name), data)
	})
}

// Load fetches the grid stored under name.
func (s *BadgerStore) Load(name string) (*Grid, error) {
	var g *Grid
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mapKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			g = New(DefaultConfig())
			return json.Unmarshal(val, g)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load map %s: %w", name, err)
	}
	return g, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var (
	_ Store = (*JSONStore)(nil)
	_ Store = (*BadgerStore)(nil)
)
