// Package probe classifies HLS playlists and inspects resolved streams.
// Master playlists list variant streams; media playlists list segments. The
// proxy uses classification to decide whether a fetched body needs the
// manifest rewrite, and the engine optionally probes a fresh resolution to
// label its best variant quality.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/types"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/grafov/m3u8"
)

// Playlist classifications.
const (
	KindMaster = "master"
	KindMedia  = "media"
)

// Classify parses a playlist body and reports whether it is a master or a
// media playlist. Unparseable bodies classify as empty.
func Classify(body []byte) string {
	_, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return ""
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	default:
		return ""
	}
}

// IsManifest is a cheap sniff for playlist content, used on proxied segment
// bodies where a full parse would be wasted on raw TS bytes.
func IsManifest(contentType string, body []byte) bool {
	if bytes.HasPrefix(bytes.TrimLeft(body, "\xef\xbb\xbf \t\r\n"), []byte("#EXTM3U")) {
		return true
	}
	return contentType == "application/vnd.apple.mpegurl" ||
		contentType == "application/x-mpegurl" ||
		contentType == "audio/mpegurl"
}

// BestVariant picks the highest-bandwidth variant of a master playlist and
// returns its absolute URI plus a quality label. ok is false for media
// playlists and unparseable bodies.
func BestVariant(body []byte, baseURL string) (uri, quality string, ok bool) {
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil || listType != m3u8.MASTER {
		return "", "", false
	}

	master := p.(*m3u8.MasterPlaylist)
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return "", "", false
	}

	abs := best.URI
	if base, err := url.Parse(baseURL); err == nil {
		if ref, err := url.Parse(best.URI); err == nil {
			abs = base.ResolveReference(ref).String()
		}
	}

	quality = best.Resolution
	if quality == "" {
		quality = fmt.Sprintf("%dbps", best.Bandwidth)
	}
	return abs, quality, true
}

// Prober fetches a freshly resolved manifest once to verify it answers and
// to label the stream's quality.
type Prober struct {
	cfg    *config.Config
	client *client.HeaderSettingClient
}

// NewProber builds a Prober around the shared upstream client.
func NewProber(cfg *config.Config, c *client.HeaderSettingClient) *Prober {
	return &Prober{
		cfg:    cfg,
		client: c,
	}
}

// Inspect fetches the signal's manifest with the session cookies the
// resolution accumulated and, for master playlists, stamps the best
// variant's quality onto the signal. Probe failures are logged and ignored:
// verification is advisory, the resolution already succeeded.
func (p *Prober) Inspect(ctx context.Context, signal *types.ResolvedSignal) {
	if signal == nil || signal.MediaType != "hls" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signal.MediaURL, nil)
	if err != nil {
		return
	}
	if signal.Cookies != "" {
		req.Header.Set("Cookie", signal.Cookies)
	}
	req.Header.Set("Referer", signal.SourceURL)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Debug("{probe/probe - Inspect} probe of %s failed: %v", utils.LogURL(p.cfg, signal.MediaURL), err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("{probe/probe - Inspect} probe of %s: status %d", utils.LogURL(p.cfg, signal.MediaURL), resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return
	}

	if _, quality, ok := BestVariant(body, signal.MediaURL); ok {
		signal.QualityLabel = quality
	}
}
