package history

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("BDQCORE_HISTORY_DRIVER", "")
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("default driver = %s", store.Driver())
	}

	t.Setenv("BDQCORE_HISTORY_DRIVER", "sqlite")
	t.Setenv("BDQCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "jobs.db"))
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if store.Driver() != DriverSQLite {
		t.Fatalf("driver = %s", store.Driver())
	}

	t.Setenv("BDQCORE_HISTORY_DRIVER", "etcd")
	if _, err := Open(ctx); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestOpenedStoreRoundTrips(t *testing.T) {
	ctx := context.Background()
	t.Setenv("BDQCORE_HISTORY_DRIVER", "sqlite")
	t.Setenv("BDQCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "jobs.db"))
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Append(ctx, JobRecord{ID: "j1", MessageID: "m1", Status: StatusQueued}); err != nil {
		t.Fatalf("append: %v", err)
	}
	rec, ok, err := store.FindByMessageID(ctx, "m1")
	if err != nil || !ok || rec.ID != "j1" {
		t.Fatalf("find = %+v %v %v", rec, ok, err)
	}
}
