/*
Package filestore implements a directory-backed store where each key is a file
at the same relative path under the store root.  A zarr hierarchy written through
this store can be read directly by other zarr implementations.
*/
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in filestore: %v\n", err)
	}
	e := Engine{"filestore", "File-based key value store", ver}
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

// NewStore returns a file-based store. The passed Config must contain "path" setting.
func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, bool, error) {
	path, err := storage.GetPath(config, e.name)
	if err != nil {
		return nil, false, err
	}
	return New(path)
}

// Store is a file-based key-value store rooted at a directory.
type Store struct {
	path string
}

// New returns a file-based store, insuring a directory at the path.
func New(path string) (*Store, bool, error) {
	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		dvid.Infof("File store not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, false, err
		}
		created = true
	} else if err != nil {
		return nil, false, err
	} else {
		dvid.Infof("Found file store at %s\n", path)
	}
	return &Store{path: path}, created, nil
}

func (fs *Store) String() string {
	return fmt.Sprintf("file store @ %s", fs.path)
}

// Path returns the root directory of the store.
func (fs *Store) Path() string {
	return fs.path
}

func (fs *Store) filepathFromKey(key string) (string, error) {
	key = storage.NormalizeKey(key)
	if key == "" {
		return "", fmt.Errorf("empty key not allowed in file store %s", fs.path)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "." || part == ".." {
			return "", fmt.Errorf("key %q has relative path element", key)
		}
	}
	return filepath.Join(fs.path, filepath.FromSlash(key)), nil
}

// Get returns a value given a key or nil if there is no file for the key.
func (fs *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fpath, err := fs.filepathFromKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fpath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store read of %q: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Set writes a value with given key.  The value is written to a temporary file and
// renamed so readers never see a partial file.
func (fs *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fpath, err := fs.filepathFromKey(key)
	if err != nil {
		return err
	}
	dirpath := filepath.Dir(fpath)
	if err := os.MkdirAll(dirpath, 0755); err != nil {
		return fmt.Errorf("file store mkdir for %q: %w", key, err)
	}
	f, err := os.CreateTemp(dirpath, "."+filepath.Base(fpath)+".tmp*")
	if err != nil {
		return fmt.Errorf("file store write of %q: %w", key, err)
	}
	tmpName := f.Name()
	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store write of %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store write of %q: %w", key, err)
	}
	if err := os.Rename(tmpName, fpath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store rename for %q: %w", key, err)
	}
	return nil
}
