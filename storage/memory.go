package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/janelia-flyem/mipmapper/dvid"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in memory store: %v\n", err)
	}
	RegisterEngine(memoryEngine{"memory", "In-memory key value store", ver})
}

type memoryEngine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e memoryEngine) GetName() string {
	return e.name
}

func (e memoryEngine) GetDescription() string {
	return e.desc
}

func (e memoryEngine) GetSemVer() semver.Version {
	return e.semver
}

func (e memoryEngine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns an empty in-memory store.  No settings are required.
func (e memoryEngine) NewStore(config dvid.StoreConfig) (Store, bool, error) {
	return NewMemoryStore(), true, nil
}

// MemoryStore is a Store held entirely in memory and is safe for concurrent use.
type MemoryStore struct {
	sync.RWMutex
	kv map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string][]byte)}
}

func (m *MemoryStore) String() string {
	m.RLock()
	defer m.RUnlock()
	return fmt.Sprintf("memory store with %d keys", len(m.kv))
}

// Get returns a copy of the stored value.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.RLock()
	defer m.RUnlock()
	v, found := m.kv[NormalizeKey(key)]
	if !found {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.Lock()
	m.kv[NormalizeKey(key)] = stored
	m.Unlock()
	return nil
}

// Keys returns the sorted keys with the given prefix.
func (m *MemoryStore) Keys(prefix string) []string {
	m.RLock()
	defer m.RUnlock()
	var keys []string
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
