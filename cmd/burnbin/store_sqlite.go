//go:build sqlite

package main

import (
	"burnbin/internal/storage"
	"burnbin/internal/storage/sqlitestore"
)

func openFileStore(path string) (storage.Store, error) {
	return sqlitestore.Open(path)
}
