package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("No test database configured - set TEST_DATABASE_URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, PoolConfig{URL: url, MaxConns: 2})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(pool.Close)

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS maintrack_dataset_snapshots`,
		`DROP TABLE IF EXISTS maintrack_datasets`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("reset tables: %v", err)
		}
	}
	s, err := NewStore(ctx, pool, 2)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestConnect_InvalidURL(t *testing.T) {
	if _, err := Connect(context.Background(), PoolConfig{URL: "://not a url"}); err == nil {
		t.Error("Connect() error = nil, want parse error")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	data, err := s.Load(ctx)
	if err != nil || data != nil {
		t.Fatalf("Load() on empty table = %q, %v, want nil, nil", data, err)
	}

	for i := 1; i <= 4; i++ {
		if err := s.Save(ctx, []byte(fmt.Sprintf(`{"revision": %d}`, i))); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}

	data, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(data) != `{"revision": 4}` {
		t.Errorf("Load() = %s, want revision 4", data)
	}

	snaps, err := s.ListSnapshots(ctx, 0)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("ListSnapshots() returned %d, want 2", len(snaps))
	}
	got, err := s.LoadSnapshot(ctx, snaps[0].ID)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if string(got) != `{"revision": 3}` {
		t.Errorf("newest snapshot = %s, want revision 3", got)
	}
	if got, _ := s.LoadSnapshot(ctx, "nope"); got != nil {
		t.Errorf("LoadSnapshot(nope) = %s, want nil", got)
	}
}
