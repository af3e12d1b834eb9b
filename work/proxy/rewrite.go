package proxy

import (
	"bufio"
	"bytes"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

// uriAttrRe matches the URI attribute carried by tags like EXT-X-KEY,
// EXT-X-MEDIA and EXT-X-MAP, whose targets must be proxied like any
// segment line.
var uriAttrRe = regexp.MustCompile(`URI="([^"]+)"`)

// RewriteManifest rewrites a playlist so every URI goes back through the
// proxy. Non-comment lines resolve to absolute URLs against the manifest's
// own URL and become proxied segment URLs carrying the stream id plus the
// session and referer tokens; comment lines pass through except for their
// URI attributes. Stripping the proxy wrapper off any rewritten line yields
// exactly the absolute URL the original line resolved to.
func RewriteManifest(manifest []byte, base *url.URL, streamID, sessionTok, refererTok string) []byte {
	var sb strings.Builder
	sb.Grow(len(manifest) * 2)

	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			sb.WriteString(line)
		case strings.HasPrefix(trimmed, "#"):
			sb.WriteString(rewriteURIAttr(line, base, streamID, sessionTok, refererTok))
		default:
			sb.WriteString(ProxySegmentURL(resolveAgainst(base, trimmed), streamID, sessionTok, refererTok))
		}
		sb.WriteByte('\n')
	}

	return []byte(sb.String())
}

// rewriteURIAttr proxies the URI="..." attribute of a directive line,
// leaving the rest of the line untouched.
func rewriteURIAttr(line string, base *url.URL, streamID, sessionTok, refererTok string) string {
	return uriAttrRe.ReplaceAllStringFunc(line, func(match string) string {
		m := uriAttrRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		proxied := ProxySegmentURL(resolveAgainst(base, m[1]), streamID, sessionTok, refererTok)
		return `URI="` + proxied + `"`
	})
}

// ProxySegmentURL builds the proxied form of one absolute media URL.
func ProxySegmentURL(absURL, streamID, sessionTok, refererTok string) string {
	q := url.Values{}
	q.Set("url", absURL)
	if streamID != "" {
		q.Set("streamId", streamID)
	}
	if sessionTok != "" {
		q.Set("session", sessionTok)
	}
	if refererTok != "" {
		q.Set("referer", refererTok)
	}
	return "/proxy/segment?" + q.Encode()
}

// resolveAgainst makes a manifest reference absolute against the manifest's
// own URL.
func resolveAgainst(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}
