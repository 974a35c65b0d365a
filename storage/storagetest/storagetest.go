// Package storagetest provides tests that every storage engine must pass.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/janelia-flyem/mipmapper/storage"
)

// Conformance exercises the semantics every storage.Store implementation must satisfy:
// absent keys return nil values without error, values round trip exactly, overwrites are
// visible, leading slashes are ignored, and empty values are distinct from absent keys.
func Conformance(t testing.TB, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	v, err := store.Get(ctx, "nested/absent/key")
	if err != nil {
		t.Fatalf("absent key returned error: %v", err)
	}
	if v != nil {
		t.Fatalf("absent key returned value: %v", v)
	}
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("level/%d/c/0/0/0/%d", i, i)
		value := bytes.Repeat([]byte{byte(i + 1)}, 100*(i+1))
		if err := store.Set(ctx, key, value); err != nil {
			t.Fatalf("set %q: %v", key, err)
		}
		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("get %q: %v", key, err)
		}
		if !bytes.Equal(got, value) {
			t.Fatalf("key %q: got %d bytes, expected %d", key, len(got), len(value))
		}
	}
	if err := store.Set(ctx, "level/0/c/0/0/0/0", []byte("replaced")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.Get(ctx, "/level/0/c/0/0/0/0")
	if err != nil || string(got) != "replaced" {
		t.Fatalf("overwrite not visible: %q, %v", got, err)
	}
	if err := store.Set(ctx, "empty", []byte{}); err != nil {
		t.Fatalf("set empty: %v", err)
	}
	got, err = store.Get(ctx, "empty")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil value, got %v, %v", got, err)
	}
}
