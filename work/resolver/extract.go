package resolver

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"
	"golang.org/x/net/html"
)

// defaultMediaHost serves the final-frame streams when the player page does
// not name a host of its own.
const defaultMediaHost = "cloud.yumixiu768.com"

// Extraction patterns. Player pages are heavily obfuscated and inconsistent
// across mirrors, so each pattern is one rung of a fallback ladder rather
// than a guaranteed shape.
var (
	cipherRe       = regexp.MustCompile(`encodedStr\s*=\s*["']([A-Za-z0-9+/=]+)["']`)
	iframeRe       = regexp.MustCompile(`(?i)<iframe[^>]*?src\s*=\s*["']?([^"'\s>]+)`)
	playSrcRe      = regexp.MustCompile(`src\s*=\s*["']([^"']*/play/[^"']+)["']`)
	htmlSrcRe      = regexp.MustCompile(`src\s*=\s*["']([^"']+\.html?[^"']*)["']`)
	mediaSrcRe     = regexp.MustCompile(`src\s*=\s*["']([^"']+\.m3u8[^"']*)["']`)
	jsMediaRe      = regexp.MustCompile(`["'](https?://[^"']+?\.m3u8[^"']*)["']`)
	livePathRe     = regexp.MustCompile(`["']((?:https?:)?//[^"']*/live/[^"']+?)["']`)
	genericMediaRe = regexp.MustCompile(`https?://[^\s"'<>]+\.(?:m3u8|flv|mp4)[^\s"'<>]*`)
	msssHostRe     = regexp.MustCompile(`//([a-z0-9.\-]+)["']\s*\+\s*id`)
)

// targetKind is what a hop extraction produced.
type targetKind int

const (
	targetMedia targetKind = iota // a playable media URL, resolution is done
	targetFrame                   // the next page to walk
)

type target struct {
	kind targetKind
	url  string
}

// findCipher pulls the encrypted payload marker out of page markup.
func findCipher(body string) (string, bool) {
	m := cipherRe.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// findMedia hunts for a direct media URL in the document. The base URL
// matters twice: relative matches resolve against it, and a final-frame page
// (msss.html?id=N) encodes its stream purely in its own query string.
func findMedia(body string, base *url.URL) (string, bool) {

	// final frame: the id query parameter names the stream and the page's
	// inline script names the media host (or leaves it to the default)
	if strings.Contains(base.Path, "msss.html") {
		if id := base.Query().Get("id"); id != "" {
			host := defaultMediaHost
			if m := msssHostRe.FindStringSubmatch(body); m != nil {
				host = m[1]
			}
			return "https://" + host + "/live/" + id + ".m3u8", true
		}
	}

	// explicit playlist src attribute
	if m := mediaSrcRe.FindStringSubmatch(body); m != nil {
		return resolveRef(base, m[1]), true
	}

	// script string literals, preferring tokenized URLs on the known media
	// host over stray playlist mentions
	if all := jsMediaRe.FindAllStringSubmatch(body, -1); all != nil {
		best := ""
		for _, m := range all {
			u := m[1]
			if strings.Contains(u, "auth_key") && strings.Contains(u, "yumixiu") {
				return u, true
			}
			if best == "" {
				best = u
			}
		}
		if best != "" {
			return best, true
		}
	}

	// /live/ channel paths, often scheme-relative
	if m := livePathRe.FindStringSubmatch(body); m != nil {
		return resolveRef(base, m[1]), true
	}

	// last resort: any absolute media-file URL in the raw text
	if m := genericMediaRe.FindString(body); m != "" {
		return m, true
	}

	return "", false
}

// findFrame locates the next hop target: a proper iframe first, then the raw
// markup fallbacks the messier mirrors require.
func findFrame(body string, base *url.URL) (string, bool) {

	// well-formed iframe via the tokenizer
	if src, ok := firstIframeSrc(body); ok {
		return resolveRef(base, src), true
	}

	// malformed iframe markup the tokenizer gave up on
	if m := iframeRe.FindStringSubmatch(body); m != nil {
		return resolveRef(base, m[1]), true
	}

	// inline player src pointing back into /play/
	if m := playSrcRe.FindStringSubmatch(body); m != nil {
		return resolveRef(base, m[1]), true
	}

	// intermediate redirect page: rebuild the player URL from the id param
	if strings.Contains(base.Path, "sm.html") {
		if id := base.Query().Get("id"); id != "" {
			return base.Scheme + "://" + base.Host + "/play/" + id + ".html", true
		}
	}

	// any src attribute that points at another page
	if m := htmlSrcRe.FindStringSubmatch(body); m != nil {
		return resolveRef(base, m[1]), true
	}

	return "", false
}

// firstIframeSrc walks the document with the HTML tokenizer and returns the
// src of the first iframe element.
func firstIframeSrc(body string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "iframe" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "src" && len(val) > 0 {
					return string(val), true
				}
				if !more {
					break
				}
			}
		}
	}
}

// resolveRef turns a possibly relative or scheme-relative reference into an
// absolute URL against the document base.
func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
