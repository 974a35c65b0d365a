/*
Package storage provides the key-value store abstraction used by the zarr array layer
and a registry of storage engines that can be opened by configuration.

Keys are slash-separated paths relative to the store root, e.g., "mipmaps/1/zarr.json".
A Get of an absent key is not an error and returns a nil value.
*/
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/janelia-flyem/mipmapper/dvid"
)

// Store is a mutable key-value byte store addressed by string paths.
type Store interface {
	// Get returns the value for the key or nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the value at the key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error
}

// Engine is a storage engine that can create stores from a store configuration.
type Engine interface {
	fmt.Stringer
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore returns a new store and whether it was newly created.
	NewStore(config dvid.StoreConfig) (store Store, created bool, err error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine registers an Engine for use by OpenStore.  Engines call this from
// their package init so the engine is available when its package is imported.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, found := engines[e.GetName()]; found {
		dvid.Errorf("Storage engine %q registered more than once\n", e.GetName())
	}
	engines[e.GetName()] = e
}

// GetEngine returns the registered Engine with the given name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return nil, fmt.Errorf("no storage engine %q is available (have %s)", name, enginesAvailable())
	}
	return e, nil
}

// EnginesAvailable returns a description of the available storage engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return enginesAvailable()
}

func enginesAvailable() string {
	var names []string
	for _, e := range engines {
		names = append(names, e.String())
	}
	sort.Strings(names)
	return strings.Join(names, "; ")
}

// OpenStore opens a store using the engine named in the configuration.
func OpenStore(config dvid.StoreConfig) (Store, bool, error) {
	e, err := GetEngine(config.Engine)
	if err != nil {
		return nil, false, err
	}
	store, created, err := e.NewStore(config)
	if err != nil {
		return nil, false, fmt.Errorf("unable to open %s store: %w", e.GetName(), err)
	}
	dvid.Infof("Opened %s store (created %t): %s\n", e.GetName(), created, store)
	return store, created, nil
}

// Close closes the store if it holds resources.
func Close(store Store) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NormalizeKey converts a path like "/mipmaps/1/" into the store key "mipmaps/1".
func NormalizeKey(path string) string {
	return strings.Trim(path, "/")
}

// JoinKey joins path elements into a store key, dropping empty elements.
func JoinKey(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e = NormalizeKey(e); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// GetPath returns the "path" setting of a store configuration, resolved against os.TempDir()
// if the "testing" setting is true.
func GetPath(config dvid.StoreConfig, engine string) (path string, err error) {
	path, found, err := config.GetString("path")
	if err != nil {
		return "", err
	}
	if !found || path == "" {
		return "", fmt.Errorf("%q must be specified for %s configuration", "path", engine)
	}
	testing, _, err := config.GetBool("testing")
	if err != nil {
		return "", err
	}
	if testing {
		path = testPath(path)
	}
	return path, nil
}
