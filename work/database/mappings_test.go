package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "mappings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// backdate moves a slot's verification timestamp for refresh-window tests.
func backdate(t *testing.T, db *DB, matchKey, channelKey, modifier string) {
	t.Helper()
	_, err := db.Exec(`UPDATE mappings SET last_verified_at = datetime('now', ?) WHERE match_key = ? AND channel_key = ?`,
		modifier, matchKey, channelKey)
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestSaveMappingValidation(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveMapping("", "ch", "93001", "play.test", ""); err == nil {
		t.Error("empty match key accepted")
	}
	if err := db.SaveMapping("m1", "ch", "", "play.test", ""); err == nil {
		t.Error("empty resolved id accepted")
	}
}

func TestSaveMappingUpsert(t *testing.T) {
	db := openTestDB(t)

	if err := db.SaveMapping("m1", "云直播①", "93001", "play.first.test", "云直播①"); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordSuccess("m1", "93001"); err != nil {
		t.Fatal(err)
	}

	// same slot re-discovered behind a new stream id: row updated, counters kept
	if err := db.SaveMapping("m1", "云直播①", "93099", "play.second.test", "云直播①"); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMapping("m1", "云直播①")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("mapping missing after upsert")
	}
	if m.ResolvedID != "93099" || m.Domain != "play.second.test" {
		t.Errorf("upsert did not replace pointer fields: %+v", m)
	}
	if m.SuccessCount != 1 {
		t.Errorf("upsert reset counters: success = %d, want 1", m.SuccessCount)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM mappings WHERE match_key = 'm1'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("upsert created %d rows, want 1", count)
	}
}

func TestGetMappingMissing(t *testing.T) {
	db := openTestDB(t)
	m, err := db.GetMapping("nope", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("missing slot = %+v, want nil", m)
	}
}

func TestGetMappingsForMatchOrder(t *testing.T) {
	db := openTestDB(t)

	db.SaveMapping("m1", "ch-flaky", "91000", "play.test", "flaky")
	db.SaveMapping("m1", "ch-solid", "92000", "play.test", "solid")
	db.SaveMapping("m1", "ch-new", "93000", "play.test", "new")

	for i := 0; i < 4; i++ {
		db.RecordSuccess("m1", "92000")
	}
	db.RecordSuccess("m1", "91000")
	for i := 0; i < 3; i++ {
		db.RecordFailure("m1", "91000")
	}

	all, err := db.GetMappingsForMatch("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("rows = %d, want 3", len(all))
	}
	// solid (5/6) > new (1/2 prior) > flaky (2/6)
	if all[0].ResolvedID != "92000" || all[1].ResolvedID != "93000" || all[2].ResolvedID != "91000" {
		t.Errorf("order = %s, %s, %s", all[0].ResolvedID, all[1].ResolvedID, all[2].ResolvedID)
	}
}

func TestGetMappingByResolvedID(t *testing.T) {
	db := openTestDB(t)
	db.SaveMapping("m1", "ch1", "93001", "play.test", "one")
	db.SaveMapping("m2", "ch1", "93001", "play.test", "one")
	db.RecordSuccess("m2", "93001")

	m, err := db.GetMappingByResolvedID("93001")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.MatchKey != "m2" {
		t.Fatalf("lookup by stream id = %+v, want the m2 row", m)
	}

	missing, err := db.GetMappingByResolvedID("99999")
	if err != nil || missing != nil {
		t.Errorf("unknown id = %+v, %v; want nil, nil", missing, err)
	}
}

func TestRecordSuccessUpdatesVerification(t *testing.T) {
	db := openTestDB(t)
	db.SaveMapping("m1", "ch1", "93001", "play.test", "one")
	backdate(t, db, "m1", "ch1", "-3600 seconds")

	before, _ := db.GetMapping("m1", "ch1")
	if err := db.RecordSuccess("m1", "93001"); err != nil {
		t.Fatal(err)
	}
	after, _ := db.GetMapping("m1", "ch1")

	if !after.LastVerifiedAt.After(before.LastVerifiedAt) {
		t.Error("success did not refresh last_verified_at")
	}

	// failures must not touch the timestamp
	if err := db.RecordFailure("m1", "93001"); err != nil {
		t.Fatal(err)
	}
	final, _ := db.GetMapping("m1", "ch1")
	if !final.LastVerifiedAt.Equal(after.LastVerifiedAt) {
		t.Error("failure moved last_verified_at")
	}
	if final.FailCount != 1 {
		t.Errorf("fail count = %d, want 1", final.FailCount)
	}
}

func TestDueForRefreshWindow(t *testing.T) {
	db := openTestDB(t)

	db.SaveMapping("m1", "fresh", "91000", "play.test", "")
	db.SaveMapping("m1", "due", "92000", "play.test", "")
	db.SaveMapping("m1", "stale", "93000", "play.test", "")

	// fresh stays at now; due sits inside the 20m-2h window; stale is beyond it
	backdate(t, db, "m1", "due", "-2400 seconds")
	backdate(t, db, "m1", "stale", "-10800 seconds")

	due, err := db.DueForRefresh(20*time.Minute, 2*time.Hour, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ChannelKey != "due" {
		t.Fatalf("due = %+v, want exactly the mid-window slot", due)
	}

	// batch cap applies
	db.SaveMapping("m1", "due2", "94000", "play.test", "")
	backdate(t, db, "m1", "due2", "-3000 seconds")
	capped, err := db.DueForRefresh(20*time.Minute, 2*time.Hour, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 1 {
		t.Fatalf("capped batch = %d rows, want 1", len(capped))
	}
	// oldest first
	if capped[0].ChannelKey != "due2" {
		t.Errorf("batch head = %s, want the oldest slot", capped[0].ChannelKey)
	}
}

func TestMappingStats(t *testing.T) {
	db := openTestDB(t)
	db.SaveMapping("m1", "ch1", "91000", "play.test", "")
	db.SaveMapping("m2", "ch1", "92000", "play.test", "")
	db.RecordSuccess("m1", "91000")
	db.RecordSuccess("m1", "91000")
	db.RecordSuccess("m1", "91000")
	db.RecordFailure("m2", "92000")

	stats, err := db.MappingStats(6 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if stats["total_mappings"] != 2 || stats["distinct_matches"] != 2 {
		t.Errorf("counts = %v", stats)
	}
	if stats["total_successes"] != 3 || stats["total_failures"] != 1 {
		t.Errorf("outcome sums = %v", stats)
	}
	if stats["success_rate"] != 0.75 {
		t.Errorf("success_rate = %v, want 0.75", stats["success_rate"])
	}
}

func TestCleanupOld(t *testing.T) {
	db := openTestDB(t)
	db.SaveMapping("m1", "keep", "91000", "play.test", "")
	db.SaveMapping("m1", "drop", "92000", "play.test", "")
	backdate(t, db, "m1", "drop", "-90000 seconds")

	deleted, err := db.CleanupOld(24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	m, _ := db.GetMapping("m1", "keep")
	if m == nil {
		t.Error("fresh row was deleted")
	}
}
