package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pepperjavis/recall/internal/credentials"
	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{Path: filepath.Join(dir, "memory.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "s1", "user-1", map[string]interface{}{"channel": "cli"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "s1" || created.UserID != "user-1" || !created.Active {
		t.Errorf("unexpected session: %+v", created)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata["channel"] != "cli" {
		t.Errorf("expected metadata to round-trip, got %v", got.Metadata)
	}
}

func TestStore_GetSession_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	if recallerrors.AsCode(err) != recallerrors.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestStore_CreateSession_RaceConverges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Session, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := s.CreateSession(ctx, "racy", "user-1", nil)
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			results[i] = sess
		}(i)
	}
	wg.Wait()

	for i, sess := range results {
		if sess == nil {
			t.Fatalf("result %d missing", i)
		}
		if sess.ID != "racy" {
			t.Errorf("result %d: unexpected id %s", i, sess.ID)
		}
	}

	sessions, err := s.ListSessions(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected a single converged row, got %d", len(sessions))
	}
}

func TestStore_TouchAndExpire(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "s1", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	later := created.UpdatedAt.Add(time.Second)
	if err := s.TouchSession(ctx, "s1", later); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSession(ctx, "s1")
	if !got.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("expected updated_at to advance: %v -> %v", created.UpdatedAt, got.UpdatedAt)
	}

	if err := s.ExpireSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSession(ctx, "s1")
	if got.Active {
		t.Error("expected session to be inactive after expire")
	}
}

func TestStore_DeleteSession_Cascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(ctx, "m1", "s1", "user", "hello", nil); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := s.CreateTask(ctx, &Task{ID: "t1", SessionID: "s1", Title: "x", Status: TaskPending, Priority: PriorityNormal, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertAction(ctx, &ActionLogEntry{ID: "a1", SessionID: "s1", ActionType: "tool_call", ToolName: "research", Status: ActionSuccess, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.PageMessages(ctx, "s1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected messages to cascade, got %d", len(msgs))
	}
	tasks, _ := s.ListTasks(ctx, "s1", "")
	if len(tasks) != 0 {
		t.Errorf("expected tasks to cascade, got %d", len(tasks))
	}
	actions, _ := s.QueryActions(ctx, "s1", "", time.Time{}, time.Time{})
	if len(actions) != 0 {
		t.Errorf("expected action logs to cascade, got %d", len(actions))
	}
}

func TestStore_AppendMessage_AssignsContiguousSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}

	for i, content := range []string{"one", "two", "three"} {
		m, err := s.AppendMessage(ctx, ids(i), "s1", "user", content, nil)
		if err != nil {
			t.Fatal(err)
		}
		if m.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, m.Seq)
		}
	}
}

func TestStore_AppendMessage_UnknownSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AppendMessage(context.Background(), "m1", "nope", "user", "hi", nil)
	if recallerrors.AsCode(err) != recallerrors.CodeNotFound {
		t.Errorf("expected NOT_FOUND for unknown session, got %v", err)
	}
}

func TestStore_PageMessages_Cursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if _, err := s.AppendMessage(ctx, ids(i), "s1", "user", "msg", nil); err != nil {
			t.Fatal(err)
		}
	}

	var all []*Message
	var after int64
	for {
		page, err := s.PageMessages(ctx, "s1", after, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].Seq
	}

	if len(all) != 7 {
		t.Fatalf("expected 7 messages across pages, got %d", len(all))
	}
	for i, m := range all {
		if m.Seq != int64(i+1) {
			t.Errorf("expected strictly increasing seq, got %d at position %d", m.Seq, i)
		}
	}
}

func TestStore_TailMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.AppendMessage(ctx, ids(i), "s1", "user", "msg", nil); err != nil {
			t.Fatal(err)
		}
	}

	tail, err := s.TailMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Seq != 4 || tail[1].Seq != 5 {
		t.Errorf("expected seqs [4 5], got %+v", seqs(tail))
	}
}

func TestStore_ListTasks_DueDateOrderNullsLast(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	soon := now.Add(time.Hour)
	later := now.Add(48 * time.Hour)
	mk := func(id string, due *time.Time) *Task {
		return &Task{ID: id, SessionID: "s1", Title: id, Status: TaskPending, Priority: PriorityNormal, DueAt: due, CreatedAt: now, UpdatedAt: now}
	}
	if err := s.CreateTask(ctx, mk("no-due", nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(ctx, mk("later", &later)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(ctx, mk("soon", &soon)); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.ListTasks(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "soon" || tasks[1].ID != "later" || tasks[2].ID != "no-due" {
		t.Errorf("unexpected order: %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}

func TestStore_ListEvents_RangeAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mk := func(id string, startOffset, endOffset time.Duration) *Event {
		return &Event{
			ID: id, SessionID: "s1", Title: id,
			StartsAt: base.Add(startOffset), EndsAt: base.Add(endOffset),
			Attendees: []string{"alice@example.com", "bob@example.com"},
			CreatedAt: base, UpdatedAt: base,
		}
	}
	if err := s.CreateEvent(ctx, mk("afternoon", 5*time.Hour, 6*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx, mk("morning", 0, time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx, mk("next-day", 24*time.Hour, 25*time.Hour)); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListEvents(ctx, "s1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "morning" || all[2].ID != "next-day" {
		t.Errorf("unexpected order: %v", eventIDs(all))
	}
	if len(all[0].Attendees) != 2 {
		t.Errorf("expected attendees to round-trip, got %v", all[0].Attendees)
	}

	day, err := s.ListEvents(ctx, "s1", base, base.Add(12*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(day) != 2 {
		t.Errorf("expected 2 events in range, got %d", len(day))
	}
}

func TestStore_QueryActions_AscendingWithFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, at := range []struct {
		id, typ string
		ts      time.Time
	}{
		{"a2", "tool_call", base.Add(2 * time.Minute)},
		{"a1", "tool_call", base.Add(time.Minute)},
		{"a3", "notification", base.Add(3 * time.Minute)},
	} {
		entry := &ActionLogEntry{ID: at.id, SessionID: "s1", ActionType: at.typ, ToolName: "research", Status: ActionSuccess, DurationMs: int64(i), CreatedAt: at.ts}
		if err := s.InsertAction(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.QueryActions(ctx, "s1", "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "a1" || all[2].ID != "a3" {
		t.Errorf("expected ascending timestamp order, got %v", actionIDs(all))
	}

	calls, err := s.QueryActions(ctx, "s1", "tool_call", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Errorf("expected 2 tool_call entries, got %d", len(calls))
	}
}

func TestStore_PurgeActions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC()
	old := &ActionLogEntry{ID: "old", SessionID: "s1", ActionType: "tool_call", ToolName: "x", Status: ActionSuccess, CreatedAt: base.Add(-48 * time.Hour)}
	fresh := &ActionLogEntry{ID: "fresh", SessionID: "s1", ActionType: "tool_call", ToolName: "x", Status: ActionSuccess, CreatedAt: base}
	if err := s.InsertActions(ctx, []*ActionLogEntry{old, fresh}); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeActions(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged entry, got %d", n)
	}

	remaining, _ := s.QueryActions(ctx, "s1", "", time.Time{}, time.Time{})
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("expected only fresh entry, got %v", actionIDs(remaining))
	}
}

func TestStore_Embeddings_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "user-1", nil); err != nil {
		t.Fatal(err)
	}

	e := &Embedding{
		ID: "e1", SessionID: "s1", UserID: "user-1",
		Content: "quarterly report draft", Vector: []float32{0.1, -0.5, 0.25},
		CreatedAt: time.Now(),
	}
	if err := s.SaveEmbedding(ctx, e); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListEmbeddings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(all))
	}
	got := all[0]
	if got.Content != "quarterly report draft" || len(got.Vector) != 3 {
		t.Errorf("unexpected embedding: %+v", got)
	}
	if got.Vector[1] != -0.5 {
		t.Errorf("expected vector to round-trip, got %v", got.Vector)
	}
}

func TestStore_ClosedStoreIsUnavailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s1", "", nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err := s.CreateSession(ctx, "s2", "", nil)
	if recallerrors.AsCode(err) != recallerrors.CodeStoreUnavailable {
		t.Errorf("expected STORE_UNAVAILABLE after close, got %v", err)
	}
	if err := s.Ping(ctx); recallerrors.AsCode(err) != recallerrors.CodeStoreUnavailable {
		t.Errorf("expected ping to report STORE_UNAVAILABLE, got %v", err)
	}
}

func ids(i int) string {
	return string(rune('a'+i)) + "-msg"
}

func seqs(msgs []*Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func eventIDs(events []*Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func actionIDs(entries []*ActionLogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestStore_CredentialRotationSwitchesEndpoint(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.db")
	second := filepath.Join(dir, "second.db")

	provider := credentials.NewStaticProvider(map[string]credentials.Credentials{
		CredentialResource: {Endpoint: first},
	})
	s, err := Open(context.Background(), Options{
		Path:        filepath.Join(dir, "ignored.db"),
		Credentials: provider,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s-old", "user-1", nil); err != nil {
		t.Fatal(err)
	}

	provider.Rotate(CredentialResource, credentials.Credentials{Endpoint: second})

	// The open connection keeps serving the old endpoint until the
	// caller reconnects.
	if _, err := s.GetSession(ctx, "s-old"); err != nil {
		t.Fatalf("expected old endpoint before reconnect, got %v", err)
	}

	if err := s.Reconnect(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetSession(ctx, "s-old"); recallerrors.AsCode(err) != recallerrors.CodeNotFound {
		t.Errorf("expected NOT_FOUND on the rotated endpoint, got %v", err)
	}
	if _, err := s.CreateSession(ctx, "s-new", "user-1", nil); err != nil {
		t.Fatalf("expected writes to land on the rotated endpoint, got %v", err)
	}

	// The new session lives in the second database file, not the first.
	old, err := Open(ctx, Options{Path: first})
	if err != nil {
		t.Fatal(err)
	}
	defer old.Close()
	if _, err := old.GetSession(ctx, "s-new"); recallerrors.AsCode(err) != recallerrors.CodeNotFound {
		t.Errorf("expected s-new absent from the first endpoint, got %v", err)
	}
	if _, err := old.GetSession(ctx, "s-old"); err != nil {
		t.Errorf("expected s-old still on the first endpoint, got %v", err)
	}
}
