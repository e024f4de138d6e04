package retention

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tanvir/tenantbook/internal/authz"
	"github.com/tanvir/tenantbook/internal/redisx"
	"github.com/tanvir/tenantbook/internal/store"
)

func TestSweepOncePurgesExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.New(&redisx.Client{Client: rdb})
	ctx := context.Background()

	start := time.Now().Add(24 * time.Hour).UTC()
	created, err := st.Create(ctx, "t1", "u1", store.CreateInput{
		Title:     "Sync",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sw := New(st, slog.Default(), nil, Config{BatchSize: 10})

	// Nothing is due yet.
	n, err := sw.sweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweepOnce failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing purged, got %d", n)
	}

	// Jump past the retention horizon.
	sw.now = func() time.Time { return time.Now().AddDate(1, 0, 1) }
	n, err = sw.sweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweepOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}

	owner := authz.Identity{UserID: "u1", TenantID: "t1", Role: authz.RoleUser}
	if _, err := st.GetByID(ctx, "t1", created.ID, owner); !store.IsNotFound(err) {
		t.Fatalf("expected record gone after sweep, got %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected empty keyspace after sweep, found %v", keys)
	}

	// Idempotent: a second sweep finds nothing.
	n, err = sw.sweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweepOnce failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing purged on second sweep, got %d", n)
	}
}
