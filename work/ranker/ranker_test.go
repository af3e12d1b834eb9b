package ranker

import (
	"testing"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/types"
)

func testConfig() *config.Config {
	return &config.Config{
		StatsWindow:         6 * time.Hour,
		DomainFailThreshold: 5,
		DomainFailRate:      0.7,
		EntryDomains: []config.EntryDomain{
			{URL: "https://play.first.test", Priority: 1, Label: "first"},
			{URL: "https://play.second.test", Priority: 2, Label: "second"},
		},
	}
}

func TestScore(t *testing.T) {
	r := New(testConfig())

	if got := r.Score("unseen.test"); got != 0.5 {
		t.Errorf("unseen host score = %v, want 0.5 prior", got)
	}

	r.RecordOutcome("https://good.test/live/1.m3u8", true)
	r.RecordOutcome("good.test", true)
	r.RecordOutcome("good.test", true)
	if got := r.Score("good.test"); got != 1.0 {
		t.Errorf("good host score = %v, want 1.0", got)
	}

	r.RecordOutcome("mixed.test", true)
	r.RecordOutcome("mixed.test", false)
	r.RecordOutcome("mixed.test", false)
	r.RecordOutcome("mixed.test", false)
	if got := r.Score("mixed.test"); got != 0.25 {
		t.Errorf("mixed host score = %v, want 0.25", got)
	}

	r.RecordOutcome("bad.test", false)
	r.RecordOutcome("bad.test", false)
	if got := r.Score("bad.test"); got != 0.0 {
		t.Errorf("bad host score = %v, want 0.0", got)
	}

	if r.Score("good.test") <= r.Score("unseen.test") || r.Score("unseen.test") <= r.Score("bad.test") {
		t.Error("score ordering violated: good > unseen > bad expected")
	}
}

func TestScoreMonotonicInRate(t *testing.T) {
	r := New(testConfig())

	// one lucky success must not lose to a longer run with a lower rate
	r.RecordOutcome("small.test", true)
	for i := 0; i < 9; i++ {
		r.RecordOutcome("big.test", true)
	}
	r.RecordOutcome("big.test", false)

	if small, big := r.Score("small.test"), r.Score("big.test"); small <= big {
		t.Fatalf("scores = %v vs %v, want the 1/1 host above the 9/10 host", small, big)
	}

	ranked := r.Rank([]types.Candidate{
		{Label: "big", URL: "https://big.test/play/steam1.html", Index: 0},
		{Label: "small", URL: "https://small.test/play/steam2.html", Index: 1},
	})
	if ranked[0].Label != "small" {
		t.Errorf("rank order starts with %q, want the higher-rate host first", ranked[0].Label)
	}
}

func TestRankOrdersByScoreThenIndex(t *testing.T) {
	r := New(testConfig())
	r.RecordOutcome("reliable.test", true)
	r.RecordOutcome("reliable.test", true)
	r.RecordOutcome("flaky.test", false)
	r.RecordOutcome("flaky.test", false)

	candidates := []types.Candidate{
		{Label: "a", URL: "https://flaky.test/play/steam1.html", Index: 0},
		{Label: "b", URL: "https://tied1.test/play/steam2.html", Index: 1},
		{Label: "c", URL: "https://reliable.test/play/steam3.html", Index: 2},
		{Label: "d", URL: "https://tied2.test/play/steam4.html", Index: 3},
	}

	ranked := r.Rank(candidates)
	var order []string
	for _, c := range ranked {
		order = append(order, c.Label)
	}
	// reliable first, the two neutral hosts in discovery order, flaky last
	want := []string{"c", "b", "d", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", order, want)
		}
	}
}

func TestRankDropsDisabledMirrors(t *testing.T) {
	r := New(testConfig())
	if err := r.Domains().SetStatus("play.second.test", types.DomainInactive); err != nil {
		t.Fatal(err)
	}

	candidates := []types.Candidate{
		{Label: "a", URL: "https://play.first.test/play/steam1.html", SourceDomain: "play.first.test", Index: 0},
		{Label: "b", URL: "https://play.second.test/play/steam1.html", SourceDomain: "play.second.test", Index: 1},
	}

	ranked := r.Rank(candidates)
	if len(ranked) != 1 || ranked[0].Label != "a" {
		t.Fatalf("ranked = %+v, want only the active mirror's candidate", ranked)
	}
}

func TestDomainFailover(t *testing.T) {
	r := New(testConfig())
	d := r.Domains()

	// five failures: count threshold not yet crossed (needs strictly more)
	for i := 0; i < 5; i++ {
		d.RecordFailure("play.second.test")
	}
	if !d.IsActive("play.second.test") {
		t.Fatal("mirror disabled at exactly the threshold, want strictly-above")
	}

	d.RecordFailure("play.second.test")
	if d.IsActive("play.second.test") {
		t.Fatal("mirror still active after 6 failures at rate 1.0")
	}

	// failures alone never reactivate; only the operator override does
	if err := d.SetStatus("play.second.test", types.DomainActive); err != nil {
		t.Fatal(err)
	}
	if !d.IsActive("play.second.test") {
		t.Fatal("operator reactivation did not apply")
	}

	// counters were cleared on reactivation, so one failure is harmless
	d.RecordFailure("play.second.test")
	if !d.IsActive("play.second.test") {
		t.Fatal("mirror disabled again immediately after clean slate")
	}
}

func TestDomainFailRateGuard(t *testing.T) {
	r := New(testConfig())
	d := r.Domains()

	// plenty of failures but a healthy success mix keeps the rate below 0.7
	for i := 0; i < 10; i++ {
		d.RecordSuccess("play.first.test")
		d.RecordFailure("play.first.test")
	}
	if !d.IsActive("play.first.test") {
		t.Fatal("mirror disabled at 0.5 fail rate, want both thresholds required")
	}
}

func TestDomainPromotion(t *testing.T) {
	r := New(testConfig())
	d := r.Domains()

	for i := 0; i < promoteAfter; i++ {
		d.RecordSuccess("play.second.test")
	}

	active := d.Active()
	if len(active) != 2 {
		t.Fatalf("active mirrors = %d, want 2", len(active))
	}
	// both now priority 1; bubble order keeps stable placement by scan order,
	// so just assert the promoted mirror reached priority 1
	for _, dom := range active {
		if dom.Label == "second" && dom.Priority != 1 {
			t.Errorf("promoted mirror priority = %d, want 1", dom.Priority)
		}
	}
}

func TestSetStatusValidation(t *testing.T) {
	r := New(testConfig())
	d := r.Domains()

	if err := d.SetStatus("play.first.test", "paused"); err == nil {
		t.Error("invalid status accepted")
	}
	if err := d.SetStatus("nowhere.test", types.DomainInactive); err == nil {
		t.Error("unknown domain accepted")
	}
}

func TestIsActiveUnknownHost(t *testing.T) {
	r := New(testConfig())
	if !r.Domains().IsActive("cloud.media.test") {
		t.Error("unregistered host should always be active")
	}
}

func TestSnapshot(t *testing.T) {
	r := New(testConfig())
	d := r.Domains()
	d.RecordSuccess("play.first.test")
	d.RecordFailure("play.first.test")

	snap := d.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap[0].Priority > snap[1].Priority {
		t.Error("snapshot not sorted by priority")
	}
	for _, h := range snap {
		if h.Domain == "https://play.first.test" {
			if h.SuccessCount != 1 || h.FailCount != 1 || h.FailRate != 0.5 {
				t.Errorf("first mirror counters = %+v", h)
			}
		}
	}
}
