package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

// contractStores builds one store per driver so every backend is held to the
// same Put/Get/Head/List/Delete semantics.
func contractStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range contractStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte("PK\x03\x04 bundle bytes")
			info, err := store.Put(ctx, "packages/job1/bundle.zip", bytes.NewReader(payload), PutOptions{
				ContentType: "application/zip",
				Metadata:    map[string]string{"title": "study"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != "packages/job1/bundle.zip" {
				t.Fatalf("put info key = %q", info.Key)
			}
			if info.Size != int64(len(payload)) {
				t.Fatalf("put info size = %d, want %d", info.Size, len(payload))
			}

			// A second write to the same key must fail; bundles are immutable.
			if _, err := store.Put(ctx, "packages/job1/bundle.zip", bytes.NewReader(payload), PutOptions{}); err == nil {
				t.Fatal("second put on same key succeeded")
			}

			got, rc, err := store.Get(ctx, "packages/job1/bundle.zip")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(data, payload) {
				t.Fatalf("payload drifted: %q", data)
			}
			if got.Size != int64(len(payload)) {
				t.Fatalf("get info size = %d", got.Size)
			}

			head, err := store.Head(ctx, "packages/job1/bundle.zip")
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			if head.Key != "packages/job1/bundle.zip" {
				t.Fatalf("head key = %q", head.Key)
			}

			if _, err := store.Put(ctx, "packages/job2/bundle.zip", bytes.NewReader([]byte("other")), PutOptions{}); err != nil {
				t.Fatalf("put second key: %v", err)
			}
			listed, err := store.List(ctx, "packages/job1/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(listed) != 1 || listed[0].Key != "packages/job1/bundle.zip" {
				t.Fatalf("list by prefix = %+v", listed)
			}
			all, err := store.List(ctx, "")
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if len(all) != 2 || all[0].Key > all[1].Key {
				t.Fatalf("list all = %+v", all)
			}

			existed, err := store.Delete(ctx, "packages/job2/bundle.zip")
			if err != nil || !existed {
				t.Fatalf("delete: existed=%v err=%v", existed, err)
			}
			if _, err := store.Head(ctx, "packages/job2/bundle.zip"); err == nil {
				t.Fatal("head succeeded after delete")
			}
		})
	}
}

func TestStoreContractMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, store := range contractStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(ctx, "packages/absent/bundle.zip"); err == nil {
				t.Fatal("get on missing key succeeded")
			}
			if _, err := store.Head(ctx, "packages/absent/bundle.zip"); err == nil {
				t.Fatal("head on missing key succeeded")
			}
		})
	}
}

func TestStoreDrivers(t *testing.T) {
	stores := contractStores(t)
	want := map[string]Driver{"fs": DriverFilesystem, "memory": DriverMemory, "s3": DriverS3}
	for name, store := range stores {
		if store.Driver() != want[name] {
			t.Fatalf("%s driver = %q, want %q", name, store.Driver(), want[name])
		}
	}
}

func TestFilesystemPresignIsLocalURL(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	url, err := store.PresignURL(context.Background(), "packages/job1/bundle.zip", SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://local.blob/") {
		t.Fatalf("presigned url = %q", url)
	}
	if _, err := store.PresignURL(context.Background(), "k", SignedURLOptions{Method: "PUT"}); err == nil {
		t.Fatal("presign PUT succeeded")
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	_, err := NewMemory().PresignURL(context.Background(), "k", SignedURLOptions{})
	if err != ErrUnsupported {
		t.Fatalf("presign err = %v, want ErrUnsupported", err)
	}
}

func TestFilesystemRejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader([]byte("x")), PutOptions{}); err == nil {
			t.Fatalf("put accepted key %q", key)
		}
	}
}
