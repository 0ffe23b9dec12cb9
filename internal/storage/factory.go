package storage

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedStore = errors.New("unsupported store backend")

// StoreKinds lists the backend names NewStore accepts.
func StoreKinds() []string {
	return []string{"memory", "sqlite"}
}

// NewStore opens the axon map and percept store named by kind. Names are
// case-insensitive; an empty kind selects the in-memory store.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if strings.TrimSpace(sqlitePath) == "" {
			return nil, errors.New("sqlite store requires a database path")
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnsupportedStore, kind, strings.Join(StoreKinds(), ", "))
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
