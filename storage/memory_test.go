package storage_test

import (
	"testing"

	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/storage/storagetest"
)

func TestMemoryConformance(t *testing.T) {
	storagetest.Conformance(t, storage.NewMemoryStore())
}

func TestCachedConformance(t *testing.T) {
	storagetest.Conformance(t, storage.NewCachedStore(storage.NewMemoryStore(), 0))
}
