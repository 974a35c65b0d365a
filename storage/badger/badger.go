/*
Package badger implements a store backed by the embedded Badger key-value database.
Values are framed with dvid.SerializeData so they carry their compression format and
a CRC32 checksum.
*/
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
)

const (
	// DefaultVersionsToKeep is the number of versions to keep per key.
	DefaultVersionsToKeep = 1

	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.
	DefaultSyncWrites = false

	// DefaultCompression is applied to values before they are stored.
	DefaultCompression = dvid.Snappy
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in badger: %v\n", err)
	}
	e := Engine{"badger", "BadgerDB", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a badger store. The passed Config must contain a "path" string unless
// "inmemory" is true.
func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, bool, error) {
	return e.newDB(config)
}

type settings struct {
	path     string
	inMemory bool
	compress dvid.Compression
}

func parseConfig(config dvid.StoreConfig) (s settings, err error) {
	s.compress = DefaultCompression
	if s.inMemory, _, err = config.GetBool("inmemory"); err != nil {
		return
	}
	if !s.inMemory {
		if s.path, err = storage.GetPath(config, "BadgerDB"); err != nil {
			return
		}
	}
	name, found, err := config.GetString("compression")
	if err != nil {
		return
	}
	if found {
		s.compress, err = dvid.ParseCompression(name)
	}
	return
}

func getOptions(s settings, config dvid.Config) (badger.Options, error) {
	opts := badger.DefaultOptions(s.path)
	if s.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(dvid.PrefixLogger("badger: "))
	opts = opts.WithNumVersionsToKeep(DefaultVersionsToKeep)
	opts = opts.WithSyncWrites(DefaultSyncWrites)

	readOnly, found, err := config.GetBool("ReadOnly")
	if err != nil {
		return opts, err
	}
	if found {
		opts = opts.WithReadOnly(readOnly)
	}
	valueSizeThresh, found, err := config.GetInt("ValueThreshold")
	if err != nil {
		return opts, err
	}
	if found {
		opts = opts.WithValueThreshold(int64(valueSizeThresh))
	}
	return opts, nil
}

// Periodically sync to prevent too many writes from being buffered
// if the process crashes.
func syncPeriodically(db *BadgerDB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-db.stopSyncCh:
			dvid.Debugf("Stopping sync goroutine for badger @ %s\n", db.directory)
			return
		case <-ticker.C:
			if err := db.bdp.Sync(); err != nil {
				dvid.Errorf("Unable to sync badger @ %s: %v\n", db.directory, err)
			}
		}
	}
}

// newDB returns a Badger backend, creating one at path if it doesn't exist.
func (e Engine) newDB(config dvid.StoreConfig) (*BadgerDB, bool, error) {
	s, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	created := s.inMemory
	if !s.inMemory {
		if _, err := os.Stat(s.path); os.IsNotExist(err) {
			dvid.Infof("Database not already at path (%s). Creating directory...\n", s.path)
			created = true
			if err := os.MkdirAll(s.path, 0744); err != nil {
				return nil, true, fmt.Errorf("can't make directory at %s: %w", s.path, err)
			}
		} else {
			dvid.Infof("Found directory at %s (err = %v)\n", s.path, err)
		}
	}

	opts, err := getOptions(s, config.Config)
	if err != nil {
		return nil, false, err
	}
	timedLog := dvid.NewTimeLog()
	bdp, err := badger.Open(opts)
	if err != nil {
		return nil, false, err
	}
	timedLog.Infof("Opened badger @ path %q (in-memory %t)", s.path, s.inMemory)

	db := &BadgerDB{
		directory:  s.path,
		compress:   s.compress,
		bdp:        bdp,
		stopSyncCh: make(chan struct{}),
	}
	if !s.inMemory {
		go syncPeriodically(db)
	}
	return db, created, nil
}

// BadgerDB is a storage.Store backed by Badger.
type BadgerDB struct {
	// Directory of datastore; empty if in-memory.
	directory string

	compress dvid.Compression
	bdp      *badger.DB

	// stopSyncCh is used to signal the sync goroutine to stop.
	stopSyncCh chan struct{}
}

func (db *BadgerDB) String() string {
	if db.directory == "" {
		return "in-memory badger"
	}
	return fmt.Sprintf("badger @ %s", db.directory)
}

// Close closes the BadgerDB
func (db *BadgerDB) Close() error {
	if db == nil || db.bdp == nil {
		return nil
	}
	if db.directory != "" {
		close(db.stopSyncCh)
	}
	err := db.bdp.Close()
	db.bdp = nil
	dvid.Infof("Closed %s\n", db)
	return err
}

// Get returns a value given a key.
func (db *BadgerDB) Get(ctx context.Context, key string) ([]byte, error) {
	if db == nil || db.bdp == nil {
		return nil, fmt.Errorf("can't call Get on closed BadgerDB")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored []byte
	err := db.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(storage.NormalizeKey(key)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		stored, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger get %q: %w", key, err)
	}
	if stored == nil {
		return nil, nil
	}
	value, _, err := dvid.DeserializeData(stored)
	if err != nil {
		return nil, fmt.Errorf("badger value for %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set writes a value with given key.
func (db *BadgerDB) Set(ctx context.Context, key string, value []byte) error {
	if db == nil || db.bdp == nil {
		return fmt.Errorf("can't call Set on closed BadgerDB")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := dvid.SerializeData(value, db.compress, dvid.CRC32)
	if err != nil {
		return err
	}
	err = db.bdp.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(storage.NormalizeKey(key)), stored)
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}
