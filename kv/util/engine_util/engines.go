package engine_util

import (
	"os"

	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinyobj/kv/config"
	"github.com/pingcap/errors"
)

// CreateDB opens the badger environment under conf.DBPath, creating the directory if needed.
// Object records, name bindings, the header and prepared records all live in this one
// environment so that they share crash consistency.
func CreateDB(conf *config.Config) (*badger.DB, error) {
	opts := badger.DefaultOptions
	opts.Dir = conf.DBPath
	opts.ValueDir = conf.DBPath
	opts.SyncWrites = conf.FlushToDisk
	if conf.CacheSize > 0 {
		opts.MaxCacheSize = int64(conf.CacheSize)
	}
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return db, nil
}

// DestroyDB removes the environment directory. The DB must be closed.
func DestroyDB(path string) error {
	return errors.WithStack(os.RemoveAll(path))
}
