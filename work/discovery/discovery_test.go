package discovery

import (
	"reflect"
	"testing"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/types"
)

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 100,
		DefaultReferer:    "https://referer.test/",
		ExcludeKeywords:   []string{"主播", "解说", "commentator", "host"},
		EntryDomains: []config.EntryDomain{
			{URL: "https://play.first.test", Priority: 1, Label: "first"},
			{URL: "https://play.second.test", Priority: 2, Label: "second"},
		},
	}
}

const entryPage = `<html><body>
	<div class="channels">
		<a href="/play/steam93001.html">云直播① 高清</a>
		<a href="/play/steam93002.html">蓝光 1080P</a>
		<a href="/play/steam93003.html">主播频道</a>
		<button data-play="/play/steam93004.html" title="英文解说">Track 4</button>
		<li onclick="go('/play/steam93005.html')">备用</li>
		<a href="/play/steam93001.html"><span>云直播① 高清</span></a>
		<a href="https://commentator.test/play/steam93006.html">Clean label</a>
		<a href="javascript:void(0)">не play</a>
		<a href="/news/today.html">News</a>
		<span data-url="/play/steam93007.html"></span>
		<div data-src="/play/steam93008.html"></div>
	</div>
</body></html>`

func TestDiscover(t *testing.T) {
	d := New(testConfig(), nil)
	got := d.Discover(entryPage, "https://play.first.test/match/123.html")

	wantIDs := []string{"93001", "93002", "93005", "93007", "93008"}
	var gotIDs []string
	for _, c := range got {
		gotIDs = append(gotIDs, c.ResolvedID)
	}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("resolved ids = %v, want %v", gotIDs, wantIDs)
	}

	for i, c := range got {
		if c.Index != i {
			t.Errorf("candidate %s Index = %d, want %d", c.ResolvedID, c.Index, i)
		}
		if c.Kind != types.CandidateDiscovered {
			t.Errorf("candidate %s Kind = %v, want discovered", c.ResolvedID, c.Kind)
		}
		if c.SourceDomain != "play.first.test" {
			t.Errorf("candidate %s SourceDomain = %q", c.ResolvedID, c.SourceDomain)
		}
	}

	// labeled buttons keep their text, unlabeled ones get the slot names
	if got[0].Label != "云直播① 高清" {
		t.Errorf("label[0] = %q", got[0].Label)
	}
	if got[3].Label != fallbackLabels[3] {
		t.Errorf("label for unlabeled slot = %q, want %q", got[3].Label, fallbackLabels[3])
	}

	if got[0].URL != "https://play.first.test/play/steam93001.html" {
		t.Errorf("target not resolved against base: %q", got[0].URL)
	}
}

func TestDiscoverIdempotent(t *testing.T) {
	d := New(testConfig(), nil)
	first := d.Discover(entryPage, "https://play.first.test/match/123.html")
	second := d.Discover(entryPage, "https://play.first.test/match/123.html")
	if !reflect.DeepEqual(first, second) {
		t.Fatal("two scans of the same markup disagree")
	}
}

func TestDiscoverExclusionSurfaces(t *testing.T) {
	// one excluded keyword per surface: label, title text, target URL
	tests := []struct {
		name string
		html string
	}{
		{
			name: "label",
			html: `<a href="/play/steam90001.html">解说频道</a>`,
		},
		{
			name: "title attribute",
			html: `<a href="/play/steam90001.html" title="主播间">Track</a>`,
		},
		{
			name: "target url",
			html: `<a href="https://host.junk.test/play/steam90001.html">Track</a>`,
		},
		{
			name: "case insensitive",
			html: `<a href="/play/steam90001.html">COMMENTATOR feed</a>`,
		},
	}

	d := New(testConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Discover("<html><body>"+tt.html+"</body></html>", "https://play.first.test/")
			if len(got) != 0 {
				t.Errorf("excluded channel survived: %+v", got)
			}
		})
	}
}

func TestEntryURLs(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, nil)

	t.Run("numeric key fans out across mirrors", func(t *testing.T) {
		got := d.EntryURLs("93001", cfg.EntryDomains)
		want := []string{
			"https://play.first.test/play/steam93001.html",
			"https://play.second.test/play/steam93001.html",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("EntryURLs = %v, want %v", got, want)
		}
	})

	t.Run("full url keeps original first and swaps hosts", func(t *testing.T) {
		got := d.EntryURLs("https://play.first.test/play/steam93001.html", cfg.EntryDomains)
		want := []string{
			"https://play.first.test/play/steam93001.html",
			"https://play.second.test/play/steam93001.html",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("EntryURLs = %v, want %v", got, want)
		}
	})

	t.Run("junk key yields nothing", func(t *testing.T) {
		if got := d.EntryURLs("not-a-key", cfg.EntryDomains); got != nil {
			t.Errorf("EntryURLs = %v, want nil", got)
		}
	})
}
