package resolver

import (
	"net/url"
	"strings"
)

// verdict classifies an extracted URL.
type verdict int

const (
	verdictMedia    verdict = iota // directly playable media file
	verdictPage                    // an HTML page, walk it as the next hop
	verdictRejected                // ad/junk, drop the candidate
)

// mediaExtensions are accepted outright as playable content.
var mediaExtensions = []string{".m3u8", ".mp4", ".flv"}

// classifyMedia applies the ad/junk filter to a URL pulled out of page
// markup. Known media extensions win immediately; a denylisted keyword
// anywhere in the URL rejects it; an HTML page becomes the next hop; anything
// else is assumed playable, since several mirrors serve extensionless media
// paths.
func classifyMedia(rawURL string, adKeywords []string) verdict {
	lower := strings.ToLower(rawURL)

	path := lower
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = strings.ToLower(u.Path)
	}

	for _, ext := range mediaExtensions {
		if strings.HasSuffix(path, ext) {
			return verdictMedia
		}
	}

	for _, kw := range adKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return verdictRejected
		}
	}

	if strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm") {
		return verdictPage
	}

	return verdictMedia
}
