// internal/state/db_test.go
package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	for _, table := range []string{"mask_runs", "schema_version"} {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestOpen_CreatesIndexes(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	for _, idx := range []string{"idx_mask_runs_job", "idx_mask_runs_state", "idx_mask_runs_started"} {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %s not created: %v", idx, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.Close()

	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer db.Close()

	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("schema_version rows = %d, want 1", count)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestRecordRun(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	now := time.Now()
	id, err := db.RecordRun(RunRecord{
		JobName: "mask-logs", TriggerType: "scheduled", State: "success",
		StartedAt: now.Add(-time.Second), FinishedAt: now, DurationMs: 1000,
		Files: 2, BytesIn: 4096, BytesOut: 4096, Matches: 3, DigitsMasked: 46,
		EventData: `{"file_path":"/var/log/app.log"}`,
	})
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if id <= 0 {
		t.Fatalf("RecordRun() id = %d, want > 0", id)
	}

	got, err := db.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.JobName != "mask-logs" || got.State != "success" {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.Files != 2 || got.BytesIn != 4096 || got.Matches != 3 || got.DigitsMasked != 46 {
		t.Errorf("counters not round-tripped: %+v", got)
	}
	if got.EventData != `{"file_path":"/var/log/app.log"}` {
		t.Errorf("EventData = %q", got.EventData)
	}
	if got.TriggeredByRunID != 0 {
		t.Errorf("TriggeredByRunID = %d, want 0", got.TriggeredByRunID)
	}
}

func TestRecordRun_WithRetryAndParent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	now := time.Now()
	parentID, err := db.RecordRun(RunRecord{
		JobName: "upstream", TriggerType: "manual", State: "success",
		StartedAt: now.Add(-2 * time.Second), FinishedAt: now.Add(-time.Second), DurationMs: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	childID, err := db.RecordRun(RunRecord{
		JobName: "downstream", TriggerType: "job", State: "failure",
		StartedAt: now.Add(-time.Second), FinishedAt: now, DurationMs: 1000,
		RetryAttempt: 2, TriggeredByRunID: parentID, Error: "input missing",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetRun(childID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TriggeredByRunID != parentID {
		t.Errorf("TriggeredByRunID = %d, want %d", got.TriggeredByRunID, parentID)
	}
	if got.RetryAttempt != 2 {
		t.Errorf("RetryAttempt = %d, want 2", got.RetryAttempt)
	}
	if got.Error != "input missing" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	_, err := db.GetRun(42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestGetHistory_FilterByJob(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertTestRecords(t, db, time.Now())

	records, err := db.GetHistory("job-a", "", 100)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("GetHistory(job-a) returned %d records, want 2", len(records))
	}
	for _, r := range records {
		if r.JobName != "job-a" {
			t.Errorf("unexpected job %q", r.JobName)
		}
	}
	// newest first
	if records[0].State != "failure" {
		t.Errorf("first record state = %q, want failure", records[0].State)
	}
}

func TestGetHistory_FilterByState(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertTestRecords(t, db, time.Now())

	records, err := db.GetHistory("", "failure", 100)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("GetHistory(failure) returned %d records, want 2", len(records))
	}
}

func TestGetHistory_WithLimit(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertTestRecords(t, db, time.Now())

	records, err := db.GetHistory("", "", 3)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("GetHistory(limit=3) returned %d records", len(records))
	}
}

func TestGetHistory_EmptyResults(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	records, err := db.GetHistory("nothing", "", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestGetLastState(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertTestRecords(t, db, time.Now())

	state, err := db.GetLastState("job-b")
	if err != nil {
		t.Fatalf("GetLastState() error = %v", err)
	}
	if state != "failure" {
		t.Errorf("GetLastState() = %q, want failure", state)
	}

	state, err = db.GetLastState("nonexistent")
	if err != nil {
		t.Fatalf("GetLastState() error = %v", err)
	}
	if state != "" {
		t.Errorf("GetLastState(nonexistent) = %q, want empty", state)
	}
}

func TestTotals(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertTestRecords(t, db, time.Now())

	// dry runs are not counted
	db.RecordRun(RunRecord{
		JobName: "job-a", TriggerType: "manual", State: "success",
		StartedAt: time.Now(), FinishedAt: time.Now(),
		Files: 10, Matches: 10, DryRun: true,
	})

	all, err := db.Totals("")
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if all.Runs != 4 {
		t.Errorf("Runs = %d, want 4", all.Runs)
	}
	if all.Matches != 1+0+2+0 {
		t.Errorf("Matches = %d, want 3", all.Matches)
	}
	if all.DigitsMasked != 16+0+31+0 {
		t.Errorf("DigitsMasked = %d, want 47", all.DigitsMasked)
	}

	a, err := db.Totals("job-a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Runs != 2 || a.Files != 2 || a.BytesIn != 200 {
		t.Errorf("Totals(job-a) = %+v", a)
	}

	none, err := db.Totals("nothing")
	if err != nil {
		t.Fatal(err)
	}
	if none != (Totals{}) {
		t.Errorf("Totals(nothing) = %+v, want zero", none)
	}
}

func TestCleanup(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	now := time.Now()
	db.RecordRun(RunRecord{
		JobName: "old-job", TriggerType: "scheduled", State: "success",
		StartedAt: now.Add(-100 * 24 * time.Hour), FinishedAt: now.Add(-100 * 24 * time.Hour),
	})
	db.RecordRun(RunRecord{
		JobName: "recent-job", TriggerType: "scheduled", State: "success",
		StartedAt: now.Add(-24 * time.Hour), FinishedAt: now.Add(-24 * time.Hour),
	})

	deleted, err := db.Cleanup(90)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() deleted %d records, want 1", deleted)
	}

	if records, _ := db.GetHistory("old-job", "", 100); len(records) != 0 {
		t.Error("Cleanup() did not remove old record")
	}
	if records, _ := db.GetHistory("recent-job", "", 100); len(records) != 1 {
		t.Error("Cleanup() removed a recent record")
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return db
}

func insertTestRecords(t *testing.T, db *DB, now time.Time) {
	t.Helper()
	records := []RunRecord{
		{
			JobName: "job-a", TriggerType: "scheduled", State: "success",
			StartedAt: now.Add(-60 * time.Second), FinishedAt: now.Add(-50 * time.Second),
			DurationMs: 10000, Files: 1, BytesIn: 100, BytesOut: 100, Matches: 1, DigitsMasked: 16,
		},
		{
			JobName: "job-a", TriggerType: "scheduled", State: "failure",
			StartedAt: now.Add(-40 * time.Second), FinishedAt: now.Add(-30 * time.Second),
			DurationMs: 10000, Files: 1, BytesIn: 100, Error: "timeout",
		},
		{
			JobName: "job-b", TriggerType: "filesystem", State: "success",
			StartedAt: now.Add(-20 * time.Second), FinishedAt: now.Add(-10 * time.Second),
			DurationMs: 10000, Files: 1, BytesIn: 50, BytesOut: 50, Matches: 2, DigitsMasked: 31,
		},
		{
			JobName: "job-b", TriggerType: "filesystem", State: "failure",
			StartedAt: now.Add(-10 * time.Second), FinishedAt: now,
			DurationMs: 10000, Error: "file not found",
		},
	}
	for _, r := range records {
		if _, err := db.RecordRun(r); err != nil {
			t.Fatalf("insertTestRecords: %v", err)
		}
	}
}
