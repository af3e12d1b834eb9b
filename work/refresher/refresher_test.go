package refresher

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/database"
	"github.com/KEithwy1030/BTHsports.com/work/decoder"
	"github.com/KEithwy1030/BTHsports.com/work/discovery"
	"github.com/KEithwy1030/BTHsports.com/work/engine"
	"github.com/KEithwy1030/BTHsports.com/work/probe"
	"github.com/KEithwy1030/BTHsports.com/work/ranker"
	"github.com/KEithwy1030/BTHsports.com/work/resolver"
	"github.com/KEithwy1030/BTHsports.com/work/session"
	"github.com/KEithwy1030/BTHsports.com/work/xxtea"

	"github.com/panjf2000/ants/v2"
)

func testSetup(t *testing.T, mirrorURL string) (*config.Config, *database.DB, *engine.Engine) {
	t.Helper()

	cfg := &config.Config{
		RequestTimeout:      5 * time.Second,
		WorkerThreads:       2,
		MaxHops:             4,
		RequestsPerSecond:   100,
		RefreshInterval:     20 * time.Minute,
		RefreshMinAge:       20 * time.Minute,
		RefreshMaxAge:       2 * time.Hour,
		RefreshBatchSize:    50,
		DomainFailThreshold: 5,
		DomainFailRate:      0.7,
		StatsWindow:         6 * time.Hour,
		SessionTTL:          time.Minute,
		UserAgent:           "test-agent",
		MobileUserAgent:     "test-agent-mobile",
		DefaultReferer:      "https://referer.test/",
		EntryDomains:        []config.EntryDomain{{URL: mirrorURL, Priority: 1, Label: "mirror-1"}},
		ExcludeKeywords:     []string{"解说"},
		AdKeywords:          []string{"popup"},
	}

	db, err := database.Open(filepath.Join(t.TempDir(), "mappings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	pool, err := ants.NewPool(cfg.WorkerThreads)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Release)

	c := client.NewHeaderSettingClient(cfg)
	eng := engine.New(cfg, pool, resolver.New(cfg, c), discovery.New(cfg, c),
		ranker.New(cfg), ranker.NewHealthChecker(c), probe.NewProber(cfg, c),
		db, session.NewStore(cfg.SessionTTL))

	return cfg, db, eng
}

func cipherFor(t *testing.T, mediaURL string) string {
	t.Helper()
	ct := xxtea.Encrypt([]byte(`{"url":"`+mediaURL+`"}`), decoder.Key())
	return base64.StdEncoding.EncodeToString(ct)
}

func TestRefreshMatch(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/play/steam11111.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>var encodedStr = "` + cipherFor(t, "https://cloud.example.com/live/11.m3u8?auth_key=new") + `";</script>`))
	})
	mux.HandleFunc("/play/steam22222.html", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	cfg, db, eng := testSetup(t, srv.URL)
	host := srv.Listener.Addr().String()

	db.SaveMapping("m1", "slotA", "11111", host, "slotA")
	db.SaveMapping("m1", "slotB", "22222", host, "slotB")

	ref := New(cfg, db, eng)
	refreshed, failed, err := ref.RefreshMatch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("RefreshMatch: %v", err)
	}
	if refreshed != 1 || failed != 1 {
		t.Errorf("refreshed/failed = %d/%d, want 1/1", refreshed, failed)
	}

	a, _ := db.GetMapping("m1", "slotA")
	if a.SuccessCount != 1 {
		t.Errorf("refreshed slot success count = %d, want 1", a.SuccessCount)
	}
	b, _ := db.GetMapping("m1", "slotB")
	if b.FailCount != 1 {
		t.Errorf("dead slot fail count = %d, want 1", b.FailCount)
	}
}

func TestRefreshMatchWithoutStore(t *testing.T) {
	ref := New(&config.Config{RequestTimeout: time.Second, MaxHops: 4}, nil, nil)
	refreshed, failed, err := ref.RefreshMatch(context.Background(), "m1")
	if err != nil || refreshed != 0 || failed != 0 {
		t.Errorf("stateless refresh = %d/%d/%v, want 0/0/nil", refreshed, failed, err)
	}
}
