package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nvdmirror/nvdsync/internal/feed"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "db", "nvd-metadata.db")
}

// setupTestStore opens a store with schema in a temp directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := feed.ParseTimestamp(s)
	if err != nil {
		t.Fatalf("ParseTimestamp(%q) failed: %v", s, err)
	}
	return ts
}

func insertShard(t *testing.T, st *Store, name, lastModified string) {
	t.Helper()
	created, err := st.Insert(&Shard{
		Name:         name,
		LastModified: mustTime(t, lastModified),
		FileSize:     "100",
		ZipSize:      "10",
		GzSize:       "11",
		SHA256:       "ABC",
	})
	if err != nil {
		t.Fatalf("Insert(%s) failed: %v", name, err)
	}
	if !created {
		t.Fatalf("Insert(%s) created = false, want true", name)
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if st.Path() != path {
		t.Errorf("Path() = %q, want %q", st.Path(), path)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") succeeded, want error")
	}
}

func TestClose_Twice(t *testing.T) {
	st, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	st := setupTestStore(t)

	if err := st.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}

	var count int
	err := st.RawDB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='shards'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Errorf("shards table count = %d, want 1", count)
	}
}

func TestInitSchema_MigratesLegacyMeta(t *testing.T) {
	st, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.RawDB().Exec(`
	CREATE TABLE meta (importable, last_modified_date, file_size, zip_size, gz_size, sha256,
		needs_update INTEGER DEFAULT 0 NOT NULL);
	INSERT INTO meta (importable, last_modified_date, file_size, zip_size, gz_size, sha256, needs_update)
	VALUES
		('nvdcve-1.1-2022', '2023-08-04 03:00:01-04:00', '100', '10', '11', 'AAA', 0),
		('nvdcve-1.1-2023', '2023-08-04T03:01:58-04:00', '200', '20', '21', 'BBB', 1),
		('nvdcve-1.1-bad', NULL, '', '', '', '', 0);`)
	if err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	got, err := st.Get("nvdcve-1.1-2022")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.LastModified.Equal(mustTime(t, "2023-08-04T07:00:01Z")) {
		t.Errorf("LastModified = %v", got.LastModified)
	}
	if got.State != Current || got.SHA256 != "AAA" || got.FileSize != "100" {
		t.Errorf("migrated shard = %+v", got)
	}

	stale, err := st.List(Stale)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"nvdcve-1.1-2023"}, stale); diff != "" {
		t.Errorf("List(Stale) mismatch (-want +got):\n%s", diff)
	}

	if _, err := st.Get("nvdcve-1.1-bad"); !errors.Is(err, ErrNotFound) {
		t.Errorf("row without timestamp migrated: err = %v", err)
	}
}

func TestInitSchema_LegacyRowsDoNotOverwrite(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "nvdcve-1.1-2023", "2023-09-01T00:00:00Z")

	_, err := st.RawDB().Exec(`
	CREATE TABLE meta (importable, last_modified_date, file_size, zip_size, gz_size, sha256,
		needs_update INTEGER DEFAULT 0 NOT NULL);
	INSERT INTO meta (importable, last_modified_date) VALUES ('nvdcve-1.1-2023', '2023-08-04T03:01:58-04:00');`)
	if err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ts, err := st.GetLastModified("nvdcve-1.1-2023")
	if err != nil {
		t.Fatalf("GetLastModified() failed: %v", err)
	}
	if !ts.Equal(mustTime(t, "2023-09-01T00:00:00Z")) {
		t.Errorf("legacy row overwrote shard: got %v", ts)
	}
}

func TestInsert_NeverOverwrites(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "nvdcve-1.1-2023", "2023-08-01T00:00:00-04:00")

	created, err := st.Insert(&Shard{
		Name:         "nvdcve-1.1-2023",
		LastModified: mustTime(t, "2024-01-01T00:00:00Z"),
		State:        Stale,
	})
	if err != nil {
		t.Fatalf("second Insert() failed: %v", err)
	}
	if created {
		t.Error("second Insert() created = true, want false")
	}

	got, err := st.Get("nvdcve-1.1-2023")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != Current {
		t.Errorf("State = %v, want current", got.State)
	}
	if !got.LastModified.Equal(mustTime(t, "2023-08-01T00:00:00-04:00")) {
		t.Errorf("LastModified = %v, want original", got.LastModified)
	}
}

func TestInsert_Invalid(t *testing.T) {
	st := setupTestStore(t)

	if _, err := st.Insert(&Shard{Name: "x"}); err == nil {
		t.Error("Insert() without last_modified succeeded, want error")
	}
	if _, err := st.Insert(&Shard{LastModified: time.Now()}); err == nil {
		t.Error("Insert() without name succeeded, want error")
	}
}

func TestList_SortedAndFiltered(t *testing.T) {
	st := setupTestStore(t)
	for _, name := range []string{"nvdcve-1.1-2019", "nvdcve-1.1-2002", "nvdcve-1.1-modified", "nvdcve-1.1-2010"} {
		insertShard(t, st, name, "2023-08-01T00:00:00-04:00")
	}
	if err := st.MarkStale("nvdcve-1.1-2010", mustTime(t, "2023-08-02T00:00:00-04:00")); err != nil {
		t.Fatalf("MarkStale() failed: %v", err)
	}

	current, err := st.List(Current)
	if err != nil {
		t.Fatalf("List(Current) failed: %v", err)
	}
	wantCurrent := []string{"nvdcve-1.1-2002", "nvdcve-1.1-2019", "nvdcve-1.1-modified"}
	if diff := cmp.Diff(wantCurrent, current); diff != "" {
		t.Errorf("List(Current) mismatch (-want +got):\n%s", diff)
	}

	stale, err := st.List(Stale)
	if err != nil {
		t.Fatalf("List(Stale) failed: %v", err)
	}
	if diff := cmp.Diff([]string{"nvdcve-1.1-2010"}, stale); diff != "" {
		t.Errorf("List(Stale) mismatch (-want +got):\n%s", diff)
	}
}

func TestList_Empty(t *testing.T) {
	st := setupTestStore(t)

	names, err := st.List(Stale)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() = %v, want empty", names)
	}
}

func TestGetLastModified(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")

	got, err := st.GetLastModified("cve-2023")
	if err != nil {
		t.Fatalf("GetLastModified() failed: %v", err)
	}
	if !got.Equal(mustTime(t, "2023-08-01T04:00:00Z")) {
		t.Errorf("GetLastModified() = %v", got)
	}
	if _, offset := got.Zone(); offset != -4*60*60 {
		t.Errorf("offset = %d, want original -04:00 offset preserved", offset)
	}

	_, err = st.GetLastModified("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLastModified(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetLastModified_LegacyStoredFormat(t *testing.T) {
	st := setupTestStore(t)
	_, err := st.RawDB().Exec(
		`INSERT INTO shards (name, last_modified) VALUES (?, ?)`,
		"legacy", "2023-08-01 00:00:00-04:00")
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	got, err := st.GetLastModified("legacy")
	if err != nil {
		t.Fatalf("GetLastModified() failed: %v", err)
	}
	if !got.Equal(mustTime(t, "2023-08-01T00:00:00-04:00")) {
		t.Errorf("GetLastModified() = %v", got)
	}
}

func TestMarkStale(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")

	newer := mustTime(t, "2023-08-04T03:01:58-04:00")
	if err := st.MarkStale("cve-2023", newer); err != nil {
		t.Fatalf("MarkStale() failed: %v", err)
	}

	got, err := st.Get("cve-2023")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != Stale {
		t.Errorf("State = %v, want stale", got.State)
	}
	if !got.LastModified.Equal(newer) {
		t.Errorf("LastModified = %v, want %v", got.LastModified, newer)
	}
	if got.CheckedAt == nil {
		t.Error("CheckedAt not recorded")
	}
	// Opaque fields are untouched by the bare variant.
	if got.SHA256 != "ABC" {
		t.Errorf("SHA256 = %q, want ABC", got.SHA256)
	}
}

func TestMarkStale_RejectsRegression(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")

	tests := []struct {
		name string
		ts   string
	}{
		{"equal", "2023-08-01T00:00:00-04:00"},
		{"equal instant other offset", "2023-08-01T04:00:00Z"},
		{"older", "2023-07-01T00:00:00-04:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.MarkStale("cve-2023", mustTime(t, tt.ts))
			if !errors.Is(err, ErrStaleWrite) {
				t.Fatalf("MarkStale() error = %v, want ErrStaleWrite", err)
			}

			got, err := st.Get("cve-2023")
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if got.State != Current {
				t.Errorf("State = %v, want unchanged current", got.State)
			}
			if !got.LastModified.Equal(mustTime(t, "2023-08-01T00:00:00-04:00")) {
				t.Errorf("LastModified changed to %v", got.LastModified)
			}
		})
	}
}

func TestMarkStale_NotFound(t *testing.T) {
	st := setupTestStore(t)

	err := st.MarkStale("missing", mustTime(t, "2023-08-01T00:00:00Z"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkStale(missing) error = %v, want ErrNotFound", err)
	}
	if !IsShardError(err) {
		t.Error("IsShardError() = false, want true")
	}
}

func TestMarkStaleWith_CopiesDescriptorFields(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")

	d := &feed.Descriptor{
		Name:         "cve-2023",
		LastModified: mustTime(t, "2023-08-04T03:01:58-04:00"),
		Size:         "200",
		ZipSize:      "20",
		GzSize:       "21",
		SHA256:       "DEF",
	}
	if err := st.MarkStaleWith(d); err != nil {
		t.Fatalf("MarkStaleWith() failed: %v", err)
	}

	got, err := st.Get("cve-2023")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	want := &Shard{
		Name:         "cve-2023",
		LastModified: d.LastModified,
		FileSize:     "200",
		ZipSize:      "20",
		GzSize:       "21",
		SHA256:       "DEF",
		State:        Stale,
	}
	opts := cmp.Options{
		cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) }),
		cmp.FilterPath(func(p cmp.Path) bool {
			name := p.Last().String()
			return name == ".CheckedAt" || name == ".ImportedAt"
		}, cmp.Ignore()),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("shard mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkCurrent(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")
	if err := st.MarkStale("cve-2023", mustTime(t, "2023-08-04T03:01:58-04:00")); err != nil {
		t.Fatalf("MarkStale() failed: %v", err)
	}

	if err := st.MarkCurrent("cve-2023"); err != nil {
		t.Fatalf("MarkCurrent() failed: %v", err)
	}

	got, err := st.Get("cve-2023")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != Current {
		t.Errorf("State = %v, want current", got.State)
	}
	if got.ImportedAt == nil {
		t.Error("ImportedAt not recorded")
	}
	if !got.LastModified.Equal(mustTime(t, "2023-08-04T03:01:58-04:00")) {
		t.Errorf("LastModified = %v, MarkCurrent must not touch it", got.LastModified)
	}

	if err := st.MarkCurrent("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkCurrent(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTouchChecked(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")

	if err := st.TouchChecked("cve-2023"); err != nil {
		t.Fatalf("TouchChecked() failed: %v", err)
	}
	got, err := st.Get("cve-2023")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.CheckedAt == nil || got.State != Current {
		t.Errorf("got CheckedAt=%v State=%v", got.CheckedAt, got.State)
	}

	if err := st.TouchChecked("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchChecked(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCountsAndAll(t *testing.T) {
	st := setupTestStore(t)
	insertShard(t, st, "a", "2023-08-01T00:00:00Z")
	insertShard(t, st, "b", "2023-08-01T00:00:00Z")
	insertShard(t, st, "c", "2023-08-01T00:00:00Z")
	if err := st.MarkStale("b", mustTime(t, "2023-08-02T00:00:00Z")); err != nil {
		t.Fatalf("MarkStale() failed: %v", err)
	}

	counts, err := st.Counts()
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if diff := cmp.Diff(map[State]int{Current: 2, Stale: 1}, counts); diff != "" {
		t.Errorf("Counts() mismatch (-want +got):\n%s", diff)
	}

	all, err := st.All()
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	var names []string
	for _, s := range all {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Errorf("All() names mismatch (-want +got):\n%s", diff)
	}
}

func TestReopen_PersistsState(t *testing.T) {
	path := testDBPath(t)

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	insertShard(t, st, "cve-2023", "2023-08-01T00:00:00-04:00")
	if err := st.MarkStale("cve-2023", mustTime(t, "2023-08-04T03:01:58-04:00")); err != nil {
		t.Fatalf("MarkStale() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	stale, err := reopened.List(Stale)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"cve-2023"}, stale); diff != "" {
		t.Errorf("List(Stale) after reopen mismatch (-want +got):\n%s", diff)
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    State
		wantErr bool
	}{
		{"current", Current, false},
		{"STALE", Stale, false},
		{" stale ", Stale, false},
		{"pending", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseState(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseState(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseState(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if Stale.String() != "stale" || Current.String() != "current" {
		t.Error("State.String() mismatch")
	}
}
