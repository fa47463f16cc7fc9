package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/platform/objectstore"
)

// fakeObjectStore is an in-memory objectstore.Store for tests.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) key(bucket, key string) string { return bucket + "/" + key }

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.key(bucket, key)] = data
	return nil
}

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.key(bucket, key)]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[f.key(bucket, key)]
	if !ok {
		return objectstore.ObjectInfo{}, fmt.Errorf("object %s not found", key)
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func newObjectStoreForTest(t *testing.T) (*ObjectStore, *fakeObjectStore) {
	t.Helper()
	backend := newFakeObjectStore()
	store, err := NewObjectStore(backend, "foundry-artifacts")
	if err != nil {
		t.Fatalf("NewObjectStore()=%v", err)
	}
	return store.WithClock(fixedClock()), backend
}

func TestObjectStorePutAndGet(t *testing.T) {
	store, backend := newObjectStoreForTest(t)
	artifact := putDataset(t, store, "run-1", "preprocess", 1)

	if _, ok := backend.objects["foundry-artifacts/runs/run-1/preprocess/1.json"]; !ok {
		t.Fatalf("payload not written to object storage: %v", backend.objects)
	}

	got, err := store.Get(context.Background(), artifact.ID)
	if err != nil {
		t.Fatalf("Get()=%v", err)
	}
	if string(got.Payload) != string(artifact.Payload) {
		t.Fatalf("payload=%s", got.Payload)
	}
	if got.SHA256 != artifact.SHA256 {
		t.Fatalf("sha=%s, want %s", got.SHA256, artifact.SHA256)
	}
}

func TestObjectStoreDetectsCorruptedPayload(t *testing.T) {
	store, backend := newObjectStoreForTest(t)
	artifact := putDataset(t, store, "run-1", "preprocess", 1)

	backend.mu.Lock()
	backend.objects["foundry-artifacts/runs/"+artifact.ID+".json"] = []byte(`{"tampered":true}`)
	backend.mu.Unlock()

	if _, err := store.Get(context.Background(), artifact.ID); err == nil {
		t.Fatal("tampered payload accepted")
	}
}

func TestObjectStoreRejectsDuplicates(t *testing.T) {
	store, _ := newObjectStoreForTest(t)
	putDataset(t, store, "run-1", "preprocess", 1)
	_, err := store.Put(context.Background(), PutRequest{
		RunID:   "run-1",
		Stage:   "preprocess",
		Attempt: 1,
		Kind:    domain.KindDataset,
		Payload: []byte(`{}`),
	})
	if !errors.Is(err, ErrDuplicateArtifact) {
		t.Fatalf("err=%v, want ErrDuplicateArtifact", err)
	}
}

func TestObjectStoreListByRun(t *testing.T) {
	store, _ := newObjectStoreForTest(t)
	putDataset(t, store, "run-1", "preprocess", 1)
	putDataset(t, store, "run-1", "features", 1)
	putDataset(t, store, "run-2", "preprocess", 1)

	out, err := store.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListByRun()=%v", err)
	}
	if len(out) != 2 {
		t.Fatalf("ListByRun()=%d artifacts", len(out))
	}
	for _, a := range out {
		if len(a.Payload) == 0 {
			t.Fatalf("artifact %s listed without payload", a.ID)
		}
	}
}
