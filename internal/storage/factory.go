package storage

import (
	"fmt"

	"metahdr/internal/model"
)

// NewStore opens the evaluation store named by kind. An empty kind selects the
// in-memory store.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if sqlitePath == "" {
			return nil, fmt.Errorf("%w: sqlite store requires a database path", model.ErrConfig)
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: unsupported store backend %q", model.ErrConfig, kind)
	}
}

// CloseIfSupported releases backends that hold a handle, such as sqlite.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
