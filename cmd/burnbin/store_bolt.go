//go:build !sqlite

package main

import (
	"burnbin/internal/storage"
	"burnbin/internal/storage/boltstore"
)

func openFileStore(path string) (storage.Store, error) {
	return boltstore.Open(path)
}
