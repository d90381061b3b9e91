package incremental

import (
	"os"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"dbo.customers":        "dbo.customers",
		`dbo\customers`:        "dbo_customers",
		"table/with/slash":     "table_with_slash",
		`weird:*?"<>|name`:     "weird_______name",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().Truncate(time.Second)
	if err := store.Save("dbo.orders", "abc123", 42, ModeFull, now); err != nil {
		t.Fatal(err)
	}
	st, err := store.Load("dbo.orders")
	if err != nil {
		t.Fatal(err)
	}
	if st == nil {
		t.Fatal("expected state to be present")
	}
	if st.Checksum != "abc123" || st.RowCount != 42 || st.Mode != ModeFull {
		t.Errorf("got %+v", st)
	}
	if !st.LastRun.Equal(now) {
		t.Errorf("LastRun = %v, want %v", st.LastRun, now)
	}
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	st, err := store.Load("never_written")
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Fatalf("expected nil state, got %+v", st)
	}
}

func TestLoadCorruptTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	if err := store.Save("broken", "x", 1, ModeFull, time.Now()); err != nil {
		t.Fatal(err)
	}
	// Corrupt the file.
	if err := os.WriteFile(store.path("broken"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := store.Load("broken")
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Fatalf("expected corrupt file to be treated as absent, got %+v", st)
	}
}

func TestLastRunTimestampIdempotence(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	now := time.Now().Truncate(time.Second)
	if err := store.Save("t", "sum", 1, ModeFull, now); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.LastRunTimestamp("t")
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if !got.Equal(now) {
		t.Errorf("LastRunTimestamp = %v, want %v", got, now)
	}
}
