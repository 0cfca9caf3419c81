//go:build sqlite

package storage

// DefaultStoreKind is the backend used when none is configured.
func DefaultStoreKind() string {
	return KindSQLite
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		path = "tilevolve.db"
	}
	return NewSQLiteStore(path), nil
}
