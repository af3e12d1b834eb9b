package utils

import (
	"net/url"
	"strings"

	"github.com/KEithwy1030/BTHsports.com/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// volatileParams are query parameters that change on every token issue and
// must be ignored when comparing two URLs for the same underlying stream.
var volatileParams = []string{"auth_key", "token", "t", "ts", "sign", "wsSecret", "wsTime"}

// StripVolatileParams removes short-lived authorization parameters from a URL
// so that two resolutions of the same stream compare equal.
func StripVolatileParams(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, p := range volatileParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ComparableStreamURL reduces a URL to scheme://host/path for de-duplication:
// the same segment path behind different tokens or fragments is one stream.
func ComparableStreamURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return StripVolatileParams(rawURL)
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// MediaTypeForURL classifies a media URL by its path extension.
func MediaTypeForURL(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".m3u8"):
		return "hls"
	case strings.HasSuffix(lower, ".mp4"):
		return "mp4"
	case strings.HasSuffix(lower, ".flv"):
		return "flv"
	default:
		return "unknown"
	}
}

// HostOf returns the host portion of a URL, or the input when it does not
// parse (bare hosts rank fine as-is).
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// ObfuscateURL masks the path and query of a URL for logs, keeping only
// scheme and host.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	// Parse the URL
	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	// Keep scheme and host, obfuscate path and query
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}
