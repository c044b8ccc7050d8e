package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{}

func (failingStore) Append(ctx context.Context, entry *Entry) error {
	return errors.New("disk on fire")
}

func (failingStore) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	return nil, errors.New("disk on fire")
}

func newTestRecorder(t *testing.T, store Store, now *time.Time) *Recorder {
	t.Helper()
	r, err := NewRecorder(store, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return r
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := newTestRecorder(t, failingStore{}, &now)

	// Must not panic or surface the store error to the caller.
	r.Record(context.Background(), "alice@example.com", ActionLogin, "u1", nil)
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemory()
	r := newTestRecorder(t, store, &now)

	r.Record(context.Background(), "alice@example.com", Action("made_up"), "", nil)

	entries, err := store.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestRecordPopulatesEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemory()
	r := newTestRecorder(t, store, &now)

	r.Record(context.Background(), "admin-1", ActionChangeRole, "u2", map[string]string{"from": "student", "to": "faculty"})

	entries, err := store.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Fatal("entry id not assigned")
	}
	if e.Actor != "admin-1" || e.Target != "u2" || e.Action != ActionChangeRole {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !e.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", e.Timestamp, now)
	}
	if e.Details["from"] != "student" || e.Details["to"] != "faculty" {
		t.Fatalf("details = %v", e.Details)
	}
}

func TestQueryNewestFirstWithPagination(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemory()
	r := newTestRecorder(t, store, &now)
	ctx := context.Background()

	actions := []Action{ActionRegister, ActionLogin, ActionLoginFailed, ActionPasswordReset}
	for _, a := range actions {
		r.Record(ctx, "alice@example.com", a, "", nil)
		now = now.Add(time.Minute)
	}

	page1, err := r.Query(ctx, Filter{Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page1 = %d entries, want 3", len(page1))
	}
	if page1[0].Action != ActionPasswordReset || page1[2].Action != ActionLogin {
		t.Fatalf("not newest-first: %v %v", page1[0].Action, page1[2].Action)
	}

	page2, err := r.Query(ctx, Filter{Page: 2, Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page2) != 1 || page2[0].Action != ActionRegister {
		t.Fatalf("unexpected page2: %+v", page2)
	}
}

func TestQueryFilters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemory()
	r := newTestRecorder(t, store, &now)
	ctx := context.Background()

	r.Record(ctx, "alice@example.com", ActionLogin, "u1", nil)
	r.Record(ctx, "bob@example.com", ActionLogin, "u2", nil)
	r.Record(ctx, "bob@example.com", ActionLoginFailed, "", nil)

	byActor, err := r.Query(ctx, Filter{Search: "ALICE"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byActor) != 1 || byActor[0].Actor != "alice@example.com" {
		t.Fatalf("search result: %+v", byActor)
	}

	byAction, err := r.Query(ctx, Filter{Action: ActionLoginFailed})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byAction) != 1 || byAction[0].Actor != "bob@example.com" {
		t.Fatalf("action filter result: %+v", byAction)
	}

	if _, err := r.Query(ctx, Filter{Action: Action("bogus")}); err == nil {
		t.Fatal("expected error for unknown action filter")
	}
}

func TestActionValid(t *testing.T) {
	for a := range knownActions {
		if !a.Valid() {
			t.Fatalf("%q reported invalid", a)
		}
	}
	if Action("").Valid() || Action("drop_table").Valid() {
		t.Fatal("unknown action reported valid")
	}
}
