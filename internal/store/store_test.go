package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tanvir/tenantbook/internal/authz"
	"github.com/tanvir/tenantbook/internal/filter"
	"github.com/tanvir/tenantbook/internal/model"
	"github.com/tanvir/tenantbook/internal/redisx"
)

var (
	ownerT1   = authz.Identity{UserID: "u1", TenantID: "t1", Role: authz.RoleUser}
	otherT1   = authz.Identity{UserID: "u2", TenantID: "t1", Role: authz.RoleUser}
	adminT1   = authz.Identity{UserID: "a1", TenantID: "t1", Role: authz.RoleTenantAdmin}
	userT2    = authz.Identity{UserID: "u3", TenantID: "t2", Role: authz.RoleUser}
	superAny  = authz.Identity{UserID: "root", TenantID: "t9", Role: authz.RoleSuperAdmin}
	baseClock = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := New(&redisx.Client{Client: rdb})
	st.now = func() time.Time { return baseClock }
	return st, mr
}

func syncInput(start time.Time) CreateInput {
	return CreateInput{
		Title:     "Sync",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected server-side id")
	}
	if created.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", created.Status)
	}
	if created.ReminderLeadMinutes != DefaultReminderLeadMinutes {
		t.Fatalf("expected defaulted reminder lead, got %d", created.ReminderLeadMinutes)
	}
	if !created.ExpiresAt.Equal(baseClock.Add(retentionPeriod)) {
		t.Fatalf("unexpected expiry: %s", created.ExpiresAt)
	}

	got, err := st.GetByID(ctx, "t1", created.ID, ownerT1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if asJSON(t, created) != asJSON(t, got) {
		t.Fatalf("round trip mismatch:\ncreated %+v\ngot     %+v", created, got)
	}
}

func asJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return string(raw)
}

func TestCreateRejectsEndBeforeStart(t *testing.T) {
	st, mr := newTestStore(t)

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	_, err := st.Create(context.Background(), "t1", "u1", CreateInput{
		Title:     "Sync",
		StartTime: start,
		EndTime:   start.Add(-time.Hour),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// Nothing may be persisted: no item, no index entries.
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected empty keyspace, found %v", keys)
	}
}

func TestCreateRejectsBadReminderLead(t *testing.T) {
	st, _ := newTestStore(t)
	in := syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	lead := 20000
	in.ReminderLeadMinutes = &lead
	if _, err := st.Create(context.Background(), "t1", "u1", in); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateIDCollisionSurfacesConflict(t *testing.T) {
	st, _ := newTestStore(t)
	st.newID = func() string { return "fixed-id" }
	ctx := context.Background()

	if _, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)))
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetByIDAuthorization(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Another user in the same tenant: the record exists and was fetched, so
	// the failure is access denial, not absence.
	if _, err := st.GetByID(ctx, "t1", created.ID, otherT1); !IsAccessDenied(err) {
		t.Fatalf("expected access denied, got %v", err)
	}
	// Tenant admin of the same tenant may read it.
	if _, err := st.GetByID(ctx, "t1", created.ID, adminT1); err != nil {
		t.Fatalf("tenant admin read failed: %v", err)
	}
	// Under another tenant's scope the id is a guaranteed miss: NotFound,
	// never a hint that the record exists elsewhere.
	if _, err := st.GetByID(ctx, "t2", created.ID, userT2); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.GetByID(ctx, "t1", "no-such-id", ownerT1); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListScopingAndOrder(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	day := func(d, h int) time.Time { return time.Date(2024, 6, d, h, 0, 0, 0, time.UTC) }

	// Created out of chronological order on purpose.
	b, err := st.Create(ctx, "t1", "u1", syncInput(day(3, 9)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	a, err := st.Create(ctx, "t1", "u1", syncInput(day(1, 10)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	c, err := st.Create(ctx, "t1", "u2", syncInput(day(2, 11)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := st.Create(ctx, "t2", "u3", syncInput(day(1, 12))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Super-admin sees the whole tenant in start-time order.
	all, err := st.List(ctx, "t1", superAny, filter.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != a.ID || all[1].ID != c.ID || all[2].ID != b.ID {
		t.Fatalf("unexpected tenant listing: %+v", all)
	}

	// A plain user is scoped to the owner index.
	mine, err := st.List(ctx, "t1", ownerT1, filter.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != a.ID || mine[1].ID != b.ID {
		t.Fatalf("unexpected owner listing: %+v", mine)
	}

	// A tenant-B identity never sees tenant A's records.
	foreign, err := st.List(ctx, "t2", userT2, filter.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, rec := range foreign {
		if rec.TenantID != "t2" {
			t.Fatalf("cross-tenant leak: %+v", rec)
		}
	}
}

func TestListAppliesFilter(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 6, d, 10, 0, 0, 0, time.UTC) }

	early, err := st.Create(ctx, "t1", "u1", syncInput(day(1)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	late, err := st.Create(ctx, "t1", "u1", syncInput(day(20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	status := model.StatusConfirmed
	if _, err := st.Update(ctx, "t1", late.ID, ownerT1, model.Patch{Status: &status}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := st.List(ctx, "t1", ownerT1, filter.Filter{From: day(10)})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != late.ID {
		t.Fatalf("unexpected from-filter result: %+v", got)
	}

	got, err = st.List(ctx, "t1", ownerT1, filter.Filter{Status: model.StatusScheduled})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != early.ID {
		t.Fatalf("unexpected status-filter result: %+v", got)
	}
}

func TestUpdateNoopPatchIsIdempotent(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	bumped := baseClock.Add(time.Minute)
	st.now = func() time.Time { return bumped }

	first, err := st.Update(ctx, "t1", created.ID, ownerT1, model.Patch{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	second, err := st.Update(ctx, "t1", created.ID, ownerT1, model.Patch{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if asJSON(t, first) != asJSON(t, second) {
		t.Fatalf("no-op updates diverged:\nfirst  %+v\nsecond %+v", first, second)
	}
	if !first.UpdatedAt.Equal(bumped) {
		t.Fatalf("expected updatedAt bump to %s, got %s", bumped, first.UpdatedAt)
	}
	if !first.StartTime.Equal(created.StartTime) || !first.EndTime.Equal(created.EndTime) {
		t.Fatal("no-op patch must not move times")
	}

	// Index placement unchanged: still listed once, same position.
	listed, err := st.List(ctx, "t1", ownerT1, filter.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected listing after no-op updates: %+v", listed)
	}
}

func TestUpdateStatusRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	st.now = func() time.Time { return baseClock.Add(time.Minute) }
	status := model.StatusConfirmed
	if _, err := st.Update(ctx, "t1", created.ID, ownerT1, model.Patch{Status: &status}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := st.GetByID(ctx, "t1", created.ID, ownerT1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if !got.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance: %s vs %s", got.UpdatedAt, created.UpdatedAt)
	}
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	done := model.StatusCompleted
	if _, err := st.Update(ctx, "t1", created.ID, ownerT1, model.Patch{Status: &done}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	back := model.StatusScheduled
	if _, err := st.Update(ctx, "t1", created.ID, ownerT1, model.Patch{Status: &back}); !IsValidation(err) {
		t.Fatalf("expected validation error for completed -> scheduled, got %v", err)
	}
}

func TestUpdateValidatesMergedTimes(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	created, err := st.Create(ctx, "t1", "u1", syncInput(start))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Moving only the start past the stored end must fail against the merged
	// record.
	tooLate := start.Add(2 * time.Hour)
	if _, err := st.Update(ctx, "t1", created.ID, ownerT1, model.Patch{StartTime: &tooLate}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateStartTimeMovesIndexPlacement(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 6, d, 10, 0, 0, 0, time.UTC) }

	a, err := st.Create(ctx, "t1", "u1", syncInput(day(1)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, err := st.Create(ctx, "t1", "u1", syncInput(day(2)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	moved := day(5)
	movedEnd := moved.Add(30 * time.Minute)
	if _, err := st.Update(ctx, "t1", a.ID, ownerT1, model.Patch{StartTime: &moved, EndTime: &movedEnd}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	listed, err := st.List(ctx, "t1", ownerT1, filter.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != b.ID || listed[1].ID != a.ID {
		t.Fatalf("expected order to flip after moving start, got %+v", listed)
	}

	superListed, err := st.List(ctx, "t1", superAny, filter.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(superListed) != 2 || superListed[0].ID != b.ID || superListed[1].ID != a.ID {
		t.Fatalf("tenant index did not move with start time: %+v", superListed)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := st.Delete(ctx, "t1", created.ID, ownerT1)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !found {
		t.Fatal("expected first delete to report found")
	}
	found, err = st.Delete(ctx, "t1", created.ID, ownerT1)
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if found {
		t.Fatal("expected second delete to report not found")
	}
	if _, err := st.GetByID(ctx, "t1", created.ID, ownerT1); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected delete to clear item and index entries, found %v", keys)
	}
}

func TestDeleteDeniedForOtherUser(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := st.Delete(ctx, "t1", created.ID, otherT1); !IsAccessDenied(err) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, "t1", "u1", syncInput(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Not yet due.
	purged, err := st.PurgeExpired(ctx, baseClock.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if len(purged) != 0 {
		t.Fatalf("expected nothing due, purged %+v", purged)
	}

	purged, err = st.PurgeExpired(ctx, baseClock.Add(retentionPeriod+time.Hour), 10)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if len(purged) != 1 || purged[0].ID != created.ID {
		t.Fatalf("unexpected purge result: %+v", purged)
	}
	if _, err := st.GetByID(ctx, "t1", created.ID, ownerT1); !IsNotFound(err) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected purge to clear the keyspace, found %v", keys)
	}
}
