// Package discovery scans entry pages for selectable channel buttons and
// turns them into resolution candidates. Entry mirrors disagree wildly about
// markup, so the scan walks the whole DOM looking for anything that carries
// a play target, then filters out commentary-only tracks before ranking ever
// sees them.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/types"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/grafana/regexp"
	"golang.org/x/net/html"
)

var (
	steamIDRe  = regexp.MustCompile(`steam(\d{4,8})`)
	digitsIDRe = regexp.MustCompile(`\b(\d{4,8})\b`)
	onclickRe  = regexp.MustCompile(`["']([^"']*(?:/play/|steam)[^"']*)["']`)
)

// fallbackLabels name unlabeled channel buttons the way the upstream pages
// do for their own unnamed slots.
var fallbackLabels = []string{"云直播①", "云直播②", "云直播③", "云直播④", "云直播⑤", "云直播⑥", "云直播⑦", "云直播⑧", "云直播⑨", "云直播⑩"}

// playTargetAttrs are the attributes a channel button hides its target in.
var playTargetAttrs = []string{"href", "data-play", "data-url", "data-src"}

// Discoverer scans entry pages for channel candidates.
type Discoverer struct {
	cfg    *config.Config
	client *client.HeaderSettingClient
}

// New builds a Discoverer around the shared upstream client.
func New(cfg *config.Config, c *client.HeaderSettingClient) *Discoverer {
	return &Discoverer{
		cfg:    cfg,
		client: c,
	}
}

// EntryURLs fans a match key out across the given mirrors. A numeric key
// becomes each mirror's player path; a full URL keeps its path and query but
// swaps in each mirror's host, with the original URL first.
func (d *Discoverer) EntryURLs(matchKey string, domains []config.EntryDomain) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	if parsed, err := url.Parse(matchKey); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		add(matchKey)
		for _, dom := range domains {
			base, err := url.Parse(dom.URL)
			if err != nil {
				continue
			}
			swapped := *parsed
			swapped.Scheme = base.Scheme
			swapped.Host = base.Host
			add(swapped.String())
		}
		return urls
	}

	if digitsIDRe.MatchString(matchKey) {
		for _, dom := range domains {
			add(fmt.Sprintf("%s/play/steam%s.html", dom.URL, matchKey))
		}
	}

	return urls
}

// FetchEntry retrieves one entry page's markup.
func (d *Discoverer) FetchEntry(ctx context.Context, entryURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entryURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: bad entry url %s: %v", types.ErrNetwork, entryURL, err)
	}
	req.Header.Set("Referer", d.cfg.DefaultReferer)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch entry %s: %v", types.ErrNetwork, utils.LogURL(d.cfg, entryURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d from entry %s", types.ErrNetwork, resp.StatusCode, utils.LogURL(d.cfg, entryURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read entry %s: %v", types.ErrNetwork, utils.LogURL(d.cfg, entryURL), err)
	}
	return string(body), nil
}

// Discover scans entry markup for channel buttons and returns the ordered,
// de-duplicated candidate list. The exclusion filter runs against the label,
// the raw button text AND the target URL; a commentary track that slips
// through any of the three surfaces as an undesired track to the viewer, so
// all three are checked every time. Calling Discover twice on the same
// markup yields the same set.
func (d *Discoverer) Discover(entryHTML, baseURL string) []types.Candidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		logger.Warn("{discovery/discovery - Discover} bad base url %q: %v", baseURL, err)
		return nil
	}

	doc, err := html.Parse(strings.NewReader(entryHTML))
	if err != nil {
		// the tokenizer-based parser almost never errors on real pages,
		// but a truncated body can still land here
		logger.Warn("{discovery/discovery - Discover} unparseable entry page %s: %v", utils.LogURL(d.cfg, baseURL), err)
		return nil
	}

	var buttons []button
	collectButtons(doc, &buttons)

	var candidates []types.Candidate
	seen := make(map[string]struct{})

	for _, b := range buttons {
		target := resolveTarget(base, b.target)
		if target == "" {
			continue
		}

		id := extractStreamID(target)
		if id == "" {
			continue
		}

		label := strings.TrimSpace(b.label)
		if d.isExcluded(label, b.rawText, target) {
			logger.Debug("{discovery/discovery - Discover} excluded channel %q (%s)", label, utils.LogURL(d.cfg, target))
			continue
		}

		// dedupe by (resolvedId, domain): mirrors repeat the same slot in
		// multiple markup shapes
		domain := utils.HostOf(target)
		key := id + "|" + domain
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if label == "" {
			if n := len(candidates); n < len(fallbackLabels) {
				label = fallbackLabels[n]
			} else {
				label = fmt.Sprintf("线路%d", n+1)
			}
		}

		candidates = append(candidates, types.Candidate{
			Kind:         types.CandidateDiscovered,
			Label:        label,
			URL:          target,
			SourceDomain: utils.HostOf(baseURL),
			ResolvedID:   id,
			Index:        len(candidates),
		})
	}

	return candidates
}

// isExcluded drops commentary/narration tracks. Checked against every signal
// the button exposes, since labels are frequently empty or misleading.
func (d *Discoverer) isExcluded(label, rawText, target string) bool {
	for _, kw := range d.cfg.ExcludeKeywords {
		if kw == "" {
			continue
		}
		lkw := strings.ToLower(kw)
		if strings.Contains(strings.ToLower(label), lkw) ||
			strings.Contains(strings.ToLower(rawText), lkw) ||
			strings.Contains(strings.ToLower(target), lkw) {
			return true
		}
	}
	return false
}

// button is one potential channel control found in the DOM.
type button struct {
	label   string // direct text content
	rawText string // text including descendants
	target  string // raw play target before resolution
}

// collectButtons walks the DOM collecting every element that carries a play
// target, either in a link-ish attribute or in an onclick handler.
func collectButtons(n *html.Node, out *[]button) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "a", "button", "div", "span", "li":
			if target := playTarget(n); target != "" {
				text := nodeText(n)
				*out = append(*out, button{
					label:   text,
					rawText: strings.TrimSpace(text + " " + attrValue(n, "title")),
					target:  target,
				})
				// do not descend into a matched button: nested spans would
				// double-report the same slot
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectButtons(c, out)
	}
}

// playTarget pulls the play URL out of a node's attributes, if any.
func playTarget(n *html.Node) string {
	var href, onclick string
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		for _, want := range playTargetAttrs {
			if key == want && attr.Val != "" {
				href = attr.Val
			}
		}
		if key == "onclick" {
			onclick = attr.Val
		}
	}

	if href != "" && looksLikePlayTarget(href) {
		return href
	}
	if onclick != "" {
		if m := onclickRe.FindStringSubmatch(onclick); m != nil {
			return m[1]
		}
	}
	return ""
}

// looksLikePlayTarget filters href values down to player-page shapes.
func looksLikePlayTarget(href string) bool {
	return strings.Contains(href, "/play/") || steamIDRe.MatchString(href)
}

// extractStreamID pulls the host-specific stream id out of a play URL.
func extractStreamID(target string) string {
	if m := steamIDRe.FindStringSubmatch(target); m != nil {
		return m[1]
	}
	if u, err := url.Parse(target); err == nil {
		if id := u.Query().Get("id"); id != "" && digitsIDRe.MatchString(id) {
			return id
		}
	}
	return ""
}

// resolveTarget makes a button target absolute against the entry page.
func resolveTarget(base *url.URL, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || strings.HasPrefix(target, "javascript:") || target == "#" {
		return ""
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

// attrValue returns one attribute's value, or empty.
func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

// nodeText returns the concatenated text content of a node subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
