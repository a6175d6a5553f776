package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "formwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "formwatch.db"),
		TablePrefix: "wp_",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertFailure(t *testing.T, st *Store, id, subID int64, rawLog, status string, createdAt time.Time) {
	t.Helper()
	ts := createdAt.UTC().Format(sqlTimeLayout)
	_, err := st.db.Exec(
		`INSERT INTO wp_e_submissions_actions_log(id, submission_id, log, created_at, created_at_gmt, status)
		 VALUES(?,?,?,?,?,?)`,
		id, subID, rawLog, ts, ts, status,
	)
	if err != nil {
		t.Fatalf("insert failure row: %v", err)
	}
}

func insertSubmission(t *testing.T, st *Store, id int64, referer, ua, form string) {
	t.Helper()
	_, err := st.db.Exec(
		`INSERT INTO wp_e_submissions(id, referer, user_agent, form_name) VALUES(?,?,?,?)`,
		id, referer, ua, form,
	)
	if err != nil {
		t.Fatalf("insert submission row: %v", err)
	}
}

func insertValue(t *testing.T, st *Store, subID int64, key, value string) {
	t.Helper()
	_, err := st.db.Exec(
		`INSERT INTO wp_e_submissions_values(submission_id, key, value) VALUES(?,?,?)`,
		subID, key, value,
	)
	if err != nil {
		t.Fatalf("insert value row: %v", err)
	}
}

func TestRecentFailures(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertSubmission(t, st, 11, "https://example.com/contact", "Chrome Safari Windows", "ContactForm")
	insertFailure(t, st, 2, 11, `{"message":"boom"}`, "failed", now.Add(-2*time.Minute))
	insertFailure(t, st, 1, 11, "older", "failed", now.Add(-3*time.Minute))
	// Outside the window.
	insertFailure(t, st, 3, 11, "stale", "failed", now.Add(-2*time.Hour))
	// Wrong status.
	insertFailure(t, st, 4, 11, "fine", "success", now.Add(-1*time.Minute))
	// Missing submission join is tolerated.
	insertFailure(t, st, 5, 999, "orphan", "failed", now.Add(-1*time.Minute))

	events, err := st.RecentFailures(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("RecentFailures: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	// Ascending id keeps notification order stable.
	if events[0].ID != 1 || events[1].ID != 2 || events[2].ID != 5 {
		t.Fatalf("unexpected order: %d, %d, %d", events[0].ID, events[1].ID, events[2].ID)
	}
	if events[1].FormName != "ContactForm" || events[1].Referer == "" {
		t.Fatalf("join metadata missing: %+v", events[1])
	}
	if events[2].FormName != "" || events[2].UserAgent != "" {
		t.Fatalf("orphan row should have empty metadata: %+v", events[2])
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("created_at should have parsed")
	}
}

func TestRecentFailuresEmpty(t *testing.T) {
	st := openTestStore(t)
	events, err := st.RecentFailures(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("RecentFailures on empty store: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestTryClaimRelease(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	claimed, err := st.TryClaim(ctx, 42)
	if err != nil || !claimed {
		t.Fatalf("first TryClaim = (%v, %v), want (true, nil)", claimed, err)
	}
	claimed, err = st.TryClaim(ctx, 42)
	if err != nil || claimed {
		t.Fatalf("second TryClaim = (%v, %v), want (false, nil)", claimed, err)
	}
	if ok, err := st.Marked(ctx, 42); err != nil || !ok {
		t.Fatalf("Marked = (%v, %v), want (true, nil)", ok, err)
	}

	// Release makes the event claimable again (the retry path).
	if err := st.Release(ctx, 42); err != nil {
		t.Fatalf("Release: %v", err)
	}
	claimed, err = st.TryClaim(ctx, 42)
	if err != nil || !claimed {
		t.Fatalf("TryClaim after Release = (%v, %v), want (true, nil)", claimed, err)
	}
}

func TestFieldValues(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	insertValue(t, st, 7, "Name", "Jane")
	insertValue(t, st, 7, "phone", "555-1212")
	insertValue(t, st, 7, "email", "x@y.com")
	insertValue(t, st, 8, "name", "Other Submission")

	got, err := st.FieldValues(ctx, 7, []string{"name", "phone"})
	if err != nil {
		t.Fatalf("FieldValues: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
	// Keys match case-insensitively and come back lowercased.
	if got["name"] != "Jane" || got["phone"] != "555-1212" {
		t.Fatalf("unexpected values: %v", got)
	}

	got, err = st.FieldValues(ctx, 7, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty key list should return nothing, got (%v, %v)", got, err)
	}
}

func TestPageURL(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if u, err := st.PageURL(ctx, 7); err != nil || u != "" {
		t.Fatalf("missing page url = (%q, %v), want empty", u, err)
	}

	insertValue(t, st, 7, "source_url", "https://example.com/booking")
	u, err := st.PageURL(ctx, 7)
	if err != nil {
		t.Fatalf("PageURL: %v", err)
	}
	if u != "https://example.com/booking" {
		t.Fatalf("PageURL = %q", u)
	}
}

func TestParseStoredTime(t *testing.T) {
	if got := parseStoredTime("2024-06-15 12:30:00", ""); got.IsZero() {
		t.Fatal("mysql layout should parse")
	}
	if got := parseStoredTime("", "2024-06-15T12:30:00Z"); got.IsZero() {
		t.Fatal("rfc3339 fallback should parse")
	}
	if got := parseStoredTime("garbage", "also garbage"); !got.IsZero() {
		t.Fatalf("garbage should stay zero, got %v", got)
	}
}
