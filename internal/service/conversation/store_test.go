package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"roastchat/internal/config"
	"roastchat/internal/models"
	"roastchat/internal/storage"
)

func TestAppendMessagePreservesOrder(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "second"},
		{Role: models.RoleUser, Content: "  third with spaces  "},
		{Role: models.RoleAssistant, Content: ""},
	}
	for _, m := range want {
		if _, err := store.AppendMessage(ctx, conv.ID, m.Role, m.Content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := store.GetMessages(conv.ID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d mismatch: want %+v got %+v", i, want[i], got[i])
		}
	}

	got[0].Content = "mutated"
	again, _ := store.GetMessages(conv.ID)
	if again[0].Content != "first" {
		t.Fatalf("returned slice aliases store state")
	}
}

func TestAppendMessageRejectsUnknownConversationAndRole(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := store.AppendMessage(ctx, "nope", models.RoleUser, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	conv, _ := store.CreateConversation(ctx)
	if _, err := store.AppendMessage(ctx, conv.ID, models.Role("system"), "hi"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := store.GetMessages("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from GetMessages, got %v", err)
	}
}

func TestCreateConversationOrderingAndCurrent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if _, ok := store.Current(); ok {
		t.Fatalf("expected no current conversation before creation")
	}
	first, _ := store.CreateConversation(ctx)
	second, _ := store.CreateConversation(ctx)

	list := store.ListConversations()
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if first.Title != DefaultTitle {
		t.Fatalf("expected default title, got %q", first.Title)
	}
	cur, ok := store.Current()
	if !ok || cur.ID != second.ID {
		t.Fatalf("expected newest conversation current, got %+v", cur)
	}

	if err := store.SelectConversation(first.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if cur, _ := store.Current(); cur.ID != first.ID {
		t.Fatalf("select did not change current")
	}
	if err := store.SelectConversation("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if cur, _ := store.Current(); cur.ID != first.ID {
		t.Fatalf("failed select must not change current")
	}
}

func TestDeleteCurrentSelectsRemaining(t *testing.T) {
	store, kv := openTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateConversation(ctx)
	b, _ := store.CreateConversation(ctx)
	c, _ := store.CreateConversation(ctx)
	if _, err := store.AppendMessage(ctx, c.ID, models.RoleUser, "bye"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cur, ok := store.Current()
	if !ok {
		t.Fatalf("current left unset after delete")
	}
	if cur.ID != b.ID {
		t.Fatalf("expected front conversation %s current, got %s", b.ID, cur.ID)
	}
	if len(store.ListConversations()) != 2 {
		t.Fatalf("expected 2 conversations left")
	}
	if _, err := kv.Get(ctx, MessagesKey(c.ID)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected message log removed from storage, got %v", err)
	}

	// deleting a non-current conversation keeps the selection
	if err := store.DeleteConversation(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if cur, _ := store.Current(); cur.ID != b.ID {
		t.Fatalf("expected %s to stay current", b.ID)
	}
	if err := store.DeleteConversation(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestDeleteLastConversationCreatesFreshOne(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	only, _ := store.CreateConversation(ctx)
	if _, err := store.AppendMessage(ctx, only.ID, models.RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.DeleteConversation(ctx, only.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list := store.ListConversations()
	if len(list) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(list))
	}
	if list[0].ID == only.ID {
		t.Fatalf("expected a new conversation id")
	}
	msgs, err := store.GetMessages(list[0].ID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty log, got %v err=%v", msgs, err)
	}
	if cur, ok := store.Current(); !ok || cur.ID != list[0].ID {
		t.Fatalf("expected fresh conversation current")
	}
}

func TestTitleDerivation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	short := "Why is the sky blue and also why do you smell"
	conv, _ := store.CreateConversation(ctx)
	updated, err := store.AppendMessage(ctx, conv.ID, models.RoleUser, short)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if updated.Title != short {
		t.Fatalf("expected title %q, got %q", short, updated.Title)
	}
	// later messages do not retitle
	updated, _ = store.AppendMessage(ctx, conv.ID, models.RoleUser, "something else entirely")
	if updated.Title != short {
		t.Fatalf("title changed by second message: %q", updated.Title)
	}

	long := strings.Repeat("abcdefghij", 6)
	conv2, _ := store.CreateConversation(ctx)
	updated, _ = store.AppendMessage(ctx, conv2.ID, models.RoleUser, long)
	if want := long[:50] + "..."; updated.Title != want {
		t.Fatalf("expected truncated title %q, got %q", want, updated.Title)
	}

	exact := strings.Repeat("x", 50)
	if got := DeriveTitle(exact); got != exact {
		t.Fatalf("50 characters must not be truncated, got %q", got)
	}
	multi := strings.Repeat("é", 51)
	if got := DeriveTitle(multi); got != strings.Repeat("é", 50)+"..." {
		t.Fatalf("expected rune-based truncation, got %q", got)
	}
}

func TestRenameConversation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx)

	renamed, err := store.RenameConversation(ctx, conv.ID, "  Roast Battle  ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title != "Roast Battle" {
		t.Fatalf("unexpected title %q", renamed.Title)
	}
	if _, err := store.RenameConversation(ctx, conv.ID, "   "); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	if _, err := store.RenameConversation(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistAndReloadRoundTrip(t *testing.T) {
	store, kv := openTestStore(t)
	ctx := context.Background()

	first, _ := store.CreateConversation(ctx)
	store.AppendMessage(ctx, first.ID, models.RoleUser, "roast my code")
	store.AppendMessage(ctx, first.ID, models.RoleAssistant, "your code roasts itself")
	second, _ := store.CreateConversation(ctx)
	store.RenameConversation(ctx, second.ID, "Renamed")
	store.AppendMessage(ctx, second.ID, models.RoleUser, "hi")

	reloaded, err := Open(ctx, kv)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	wantList := store.ListConversations()
	gotList := reloaded.ListConversations()
	if len(gotList) != len(wantList) {
		t.Fatalf("expected %d conversations, got %d", len(wantList), len(gotList))
	}
	for i := range wantList {
		if gotList[i].ID != wantList[i].ID || gotList[i].Title != wantList[i].Title || !gotList[i].CreatedAt.Equal(wantList[i].CreatedAt) {
			t.Fatalf("conversation %d mismatch: want %+v got %+v", i, wantList[i], gotList[i])
		}
		wantMsgs, _ := store.GetMessages(wantList[i].ID)
		gotMsgs, _ := reloaded.GetMessages(gotList[i].ID)
		if fmt.Sprint(wantMsgs) != fmt.Sprint(gotMsgs) {
			t.Fatalf("messages mismatch for %s: want %v got %v", wantList[i].ID, wantMsgs, gotMsgs)
		}
	}
	if cur, ok := reloaded.Current(); !ok || cur.ID != second.ID {
		t.Fatalf("expected front conversation current after reload")
	}
}

func TestLoadTreatsMissingLogAsEmpty(t *testing.T) {
	kv := openTestKV(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	list := fmt.Sprintf(`[{"id":"42","title":"orphan","createdAt":%q}]`, created.Format(time.RFC3339))
	if err := kv.Set(ctx, "conversations", list); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store, err := Open(ctx, kv)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	msgs, err := store.GetMessages("42")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty log, got %v", msgs)
	}
	if cur, ok := store.Current(); !ok || cur.Title != "orphan" || !cur.CreatedAt.Equal(created) {
		t.Fatalf("unexpected current %+v", cur)
	}
}

func TestLoadRejectsCorruptList(t *testing.T) {
	kv := openTestKV(t)
	if err := kv.Set(context.Background(), "conversations", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := Open(context.Background(), kv); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEnsureCurrentCreatesLazily(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	conv, err := store.EnsureCurrent(ctx)
	if err != nil {
		t.Fatalf("ensure current: %v", err)
	}
	again, _ := store.EnsureCurrent(ctx)
	if again.ID != conv.ID {
		t.Fatalf("expected existing current to be reused")
	}
	if len(store.ListConversations()) != 1 {
		t.Fatalf("expected exactly one conversation")
	}
}

func TestIDsAreNotReused(t *testing.T) {
	ids := []string{"7", "7", "8"}
	next := 0
	store, _ := openTestStore(t, WithIDFunc(func() string {
		v := ids[next]
		next++
		return v
	}))
	ctx := context.Background()
	a, _ := store.CreateConversation(ctx)
	b, _ := store.CreateConversation(ctx)
	if a.ID == b.ID {
		t.Fatalf("duplicate id %s", a.ID)
	}
}

func openTestKV(t *testing.T) storage.KeyValue {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return storage.NewSQLStore(db, "sqlite3")
}

func openTestStore(t *testing.T, opts ...Option) (*Store, storage.KeyValue) {
	t.Helper()
	kv := openTestKV(t)
	store, err := Open(context.Background(), kv, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store, kv
}

// flakyKV fails every write while broken is set.
type flakyKV struct {
	storage.KeyValue
	broken bool
}

var errWriteFailed = errors.New("write failed")

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.broken {
		return errWriteFailed
	}
	return f.KeyValue.Set(ctx, key, value)
}

func (f *flakyKV) Del(ctx context.Context, keys ...string) error {
	if f.broken {
		return errWriteFailed
	}
	return f.KeyValue.Del(ctx, keys...)
}

func TestFailedWritesLeaveMemoryMatchingStorage(t *testing.T) {
	kv := &flakyKV{KeyValue: openTestKV(t)}
	store, err := Open(context.Background(), kv)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, models.RoleUser, "kept"); err != nil {
		t.Fatalf("append: %v", err)
	}

	kv.broken = true
	if _, err := store.AppendMessage(ctx, conv.ID, models.RoleAssistant, "lost"); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if _, err := store.RenameConversation(ctx, conv.ID, "Renamed"); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if _, err := store.CreateConversation(ctx); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if err := store.DeleteConversation(ctx, conv.ID); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write failure, got %v", err)
	}

	msgs, err := store.GetMessages(conv.ID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "kept" {
		t.Fatalf("failed append must not stay in memory, got %+v", msgs)
	}
	list := store.ListConversations()
	if len(list) != 1 || list[0].ID != conv.ID || list[0].Title != "kept" {
		t.Fatalf("failed mutations must not stay in memory, got %+v", list)
	}
	if cur, ok := store.Current(); !ok || cur.ID != conv.ID {
		t.Fatalf("current must be restored, got %+v %v", cur, ok)
	}

	kv.broken = false
	reloaded, err := Open(ctx, kv)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.ListConversations(); len(got) != 1 || got[0].Title != "kept" {
		t.Fatalf("storage diverged from memory: %+v", got)
	}
	if got, _ := reloaded.GetMessages(conv.ID); len(got) != 1 {
		t.Fatalf("storage diverged from memory: %+v", got)
	}
}

func TestFailedAppendDoesNotRetitle(t *testing.T) {
	kv := &flakyKV{KeyValue: openTestKV(t)}
	store, err := Open(context.Background(), kv)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx)

	kv.broken = true
	if _, err := store.AppendMessage(ctx, conv.ID, models.RoleUser, "first try"); err == nil {
		t.Fatalf("expected write failure")
	}
	kv.broken = false
	updated, err := store.AppendMessage(ctx, conv.ID, models.RoleUser, "second try")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if updated.Title != "second try" {
		t.Fatalf("title must come from the first persisted user message, got %q", updated.Title)
	}
}
