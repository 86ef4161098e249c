package storage

import (
	"errors"
	"fmt"
)

// Backend kinds accepted by NewStore. An empty kind selects KindMemory.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

var ErrUnknownKind = errors.New("unknown store kind")

// Kinds lists the backend names accepted in run configuration.
func Kinds() []string {
	return []string{KindMemory, KindSQLite}
}

// CheckKind reports whether kind names a backend without opening it.
func CheckKind(kind string) error {
	switch kind {
	case "", KindMemory, KindSQLite:
		return nil
	default:
		return fmt.Errorf("%w %q (want one of %v)", ErrUnknownKind, kind, Kinds())
	}
}

// NewStore builds the run history backend for kind. The SQLite backend only
// exists in binaries built with the sqlite tag.
func NewStore(kind, sqlitePath string) (Store, error) {
	if err := CheckKind(kind); err != nil {
		return nil, err
	}
	if kind == KindSQLite {
		return newSQLiteStore(sqlitePath)
	}
	return NewMemoryStore(), nil
}

// CloseIfSupported releases backends that hold a handle, such as SQLite.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
