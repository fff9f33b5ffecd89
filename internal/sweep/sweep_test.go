package sweep

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trulychat/trulychat/internal/presence"
	"github.com/trulychat/trulychat/internal/store"
)

func testSetup(t *testing.T) (*miniredis.Miniredis, *store.Store, *presence.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(time.UnixMilli(1_700_000_000_000))
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, store.NewStoreWithClient(rdb), presence.NewStore(rdb)
}

func appendN(t *testing.T, st *store.Store, channel, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := st.Append(ctx, channel, store.Message{
			UserID:   "user_1",
			UserName: "Ava",
			UserKey:  "ava",
			Text:     fmt.Sprintf("message %d", i),
			Type:     store.TypeUser,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestRunPrunesStalePresence(t *testing.T) {
	_, st, pres := testSetup(t)
	ctx := context.Background()

	now := int64(1_700_000_000_000)
	fresh := presence.Entry{ID: "user_a", Name: "Ava", JoinedAt: now, LastActiveAt: now}
	stale := presence.Entry{ID: "user_b", Name: "Bo", JoinedAt: now - 10*60_000, LastActiveAt: now - 10*60_000}
	if err := pres.Announce(ctx, 42, fresh); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if err := pres.Announce(ctx, 42, stale); err != nil {
		t.Fatalf("announce: %v", err)
	}
	// Backdate Bo's record past the announce, which stamped it fresh.
	if err := pres.Refresh(ctx, 42, "user_b", now-10*60_000); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	res, err := New(st, pres, 3*time.Minute, 0).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StalePresence != 1 {
		t.Errorf("StalePresence = %d, want 1", res.StalePresence)
	}
	n, err := pres.Count(ctx, 42)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("roster size after sweep = %d, want 1", n)
	}
}

func TestRunTrimsLongLogs(t *testing.T) {
	_, st, pres := testSetup(t)
	ctx := context.Background()

	now := int64(1_700_000_000_000)
	if err := pres.Announce(ctx, 7, presence.Entry{ID: "user_a", Name: "Ava", JoinedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	appendN(t, st, 7, 110)

	res, err := New(st, pres, 0, 100).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TrimmedRecords != 10 {
		t.Errorf("TrimmedRecords = %d, want 10", res.TrimmedRecords)
	}
	count, err := st.MessageCount(ctx, 7)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 100 {
		t.Errorf("messages after trim = %d, want 100", count)
	}
}

func TestRunClearsEmptiedChannels(t *testing.T) {
	_, st, pres := testSetup(t)
	ctx := context.Background()

	appendN(t, st, 9, 5)

	res, err := New(st, pres, 0, 0).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ClearedLogs != 1 {
		t.Errorf("ClearedLogs = %d, want 1", res.ClearedLogs)
	}
	count, err := st.MessageCount(ctx, 9)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("messages after clear = %d, want 0", count)
	}
}

func TestRunLeavesOccupiedChannelsAlone(t *testing.T) {
	_, st, pres := testSetup(t)
	ctx := context.Background()

	now := int64(1_700_000_000_000)
	if err := pres.Announce(ctx, 3, presence.Entry{ID: "user_a", Name: "Ava", JoinedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	appendN(t, st, 3, 5)

	res, err := New(st, pres, 0, 0).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ClearedLogs != 0 || res.TrimmedRecords != 0 || res.StalePresence != 0 {
		t.Errorf("sweep touched a healthy channel: %+v", res)
	}
	count, err := st.MessageCount(ctx, 3)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("messages = %d, want 5", count)
	}
}
