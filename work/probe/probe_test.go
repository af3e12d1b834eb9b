package probe

import "testing"

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000,RESOLUTION=1280x720
mid/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2560000,RESOLUTION=1920x1080
high/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=640000
low/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:5.0,
seg100.ts
#EXTINF:5.0,
seg101.ts
`

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "master", body: masterPlaylist, want: KindMaster},
		{name: "media", body: mediaPlaylist, want: KindMedia},
		{name: "junk", body: "not a playlist", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify([]byte(tt.body)); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsManifest(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{name: "by body", contentType: "application/octet-stream", body: mediaPlaylist, want: true},
		{name: "bom and whitespace", contentType: "", body: "\xef\xbb\xbf\n  #EXTM3U\n", want: true},
		{name: "by content type", contentType: "application/vnd.apple.mpegurl", body: "", want: true},
		{name: "alt content type", contentType: "application/x-mpegurl", body: "", want: true},
		{name: "raw ts bytes", contentType: "video/mp2t", body: "\x47\x40\x11\x10", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsManifest(tt.contentType, []byte(tt.body)); got != tt.want {
				t.Errorf("IsManifest = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBestVariant(t *testing.T) {
	uri, quality, ok := BestVariant([]byte(masterPlaylist), "https://cloud.example.com/live/93001.m3u8")
	if !ok {
		t.Fatal("master playlist not recognized")
	}
	if uri != "https://cloud.example.com/live/high/index.m3u8" {
		t.Errorf("uri = %q, want highest-bandwidth variant resolved absolute", uri)
	}
	if quality != "1920x1080" {
		t.Errorf("quality = %q, want 1920x1080", quality)
	}
}

func TestBestVariantMediaPlaylist(t *testing.T) {
	if _, _, ok := BestVariant([]byte(mediaPlaylist), "https://x/1.m3u8"); ok {
		t.Error("media playlist produced a variant")
	}
}

func TestBestVariantBandwidthLabel(t *testing.T) {
	body := `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=640000
only/index.m3u8
`
	_, quality, ok := BestVariant([]byte(body), "https://x/1.m3u8")
	if !ok {
		t.Fatal("single-variant master not recognized")
	}
	if quality != "640000bps" {
		t.Errorf("quality = %q, want bandwidth fallback label", quality)
	}
}
