package jobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"scaffold/api/model"
	"scaffold/api/storage"
)

func sampleRecord() *model.JobRecord {
	return &model.JobRecord{
		DSGResourceData: model.DSGResourceData{
			Entities:     []model.Entity{{ID: "e1", Name: "Customer", Fields: []model.EntityField{{Name: "id", DataType: "Id"}}}},
			ResourceType: model.ResourceService,
			ResourceInfo: model.ResourceInfo{ID: "svc", Name: "orders", Version: "89abcdef"},
		},
		CurrentBranch: "main",
	}
}

type memObjects struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memObjects) Put(_ context.Context, bucket, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[bucket+"/"+key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.objs[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNoSuchKey)
	}
	return d, nil
}

func (m *memObjects) Remove(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, bucket+"/"+key)
	return nil
}

func (m *memObjects) List(_ context.Context, bucket, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Object
	for k := range m.objs {
		key := strings.TrimPrefix(k, bucket+"/")
		if strings.HasPrefix(k, bucket+"/") && strings.HasPrefix(key, prefix) {
			out = append(out, storage.Object{Key: key, LastModified: time.Now()})
		}
	}
	return out, nil
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"fs": NewFS(t.TempDir(), ""),
		"s3": NewS3(&memObjects{objs: map[string][]byte{}}, "jobs", "builds", ""),
	}
}

func TestRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := sampleRecord()

			specPath, err := s.Put(ctx, "build-1", rec)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if !strings.HasSuffix(specPath, "build-1/"+DefaultFile) {
				t.Errorf("specPath = %q", specPath)
			}

			got, err := s.Get(ctx, "build-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if diff := cmp.Diff(rec, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}

			entries, err := s.List(ctx)
			if err != nil || len(entries) != 1 || entries[0].BuildID != "build-1" {
				t.Errorf("List = %+v, %v", entries, err)
			}

			if err := s.Delete(ctx, "build-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "build-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "..", "../escape", "a/b"} {
				if _, err := s.Put(context.Background(), id, sampleRecord()); err == nil {
					t.Errorf("Put(%q) accepted", id)
				}
			}
		})
	}
}

func TestFSSpecPathIsReadable(t *testing.T) {
	base := t.TempDir()
	s := NewFS(base, "resource-data.json")
	specPath, err := s.Put(context.Background(), "b2", sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if specPath != filepath.Join(base, "b2", "resource-data.json") {
		t.Errorf("specPath = %q", specPath)
	}
	data, err := os.ReadFile(specPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"currentBranch":"main"`) {
		t.Errorf("snapshot missing currentBranch: %s", data)
	}
}

func TestFSListIgnoresStrayEntries(t *testing.T) {
	base := t.TempDir()
	s := NewFS(base, "")
	os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o644)
	os.MkdirAll(filepath.Join(base, "empty-dir"), 0o755)
	s.Put(context.Background(), "b1", sampleRecord())

	entries, err := s.List(context.Background())
	if err != nil || len(entries) != 1 {
		t.Errorf("List = %+v, %v", entries, err)
	}
}
