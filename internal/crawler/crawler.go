// Package crawler discovers pages reachable from a seed URL and renders them
// to plain text for ingestion.
package crawler

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
	"golang.org/x/net/html"
)

const (
	maxPageBytes = 5 << 20
	userAgent    = "genai-platform-crawler/1.0"
)

// Page is a fetched and rendered HTML page.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []string
	Hash  string
}

// Crawler fetches pages over HTTP.
type Crawler struct {
	client *http.Client
}

// New creates a crawler whose requests time out after timeout.
func New(timeout time.Duration) *Crawler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Crawler{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and renders one page.
func (c *Crawler) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxPageBytes)
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
		}
		text := strings.TrimSpace(string(raw))
		return &Page{URL: rawURL, Text: text, Hash: Hash(text)}, nil
	}

	// Relative links resolve against the final URL after redirects.
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	page, err := Render(body, base)
	if err != nil {
		return nil, err
	}
	page.URL = rawURL
	return page, nil
}

// Discover walks links breadth-first from seed, staying on the seed's host,
// and returns up to limit URLs including the seed. Without followLinks only
// the seed and the links found on it are returned. progress, if set, is
// called with the running list after each fetched page.
func (c *Crawler) Discover(ctx context.Context, seed string, followLinks bool, limit int, progress func([]string)) ([]string, error) {
	seedURL, err := url.Parse(seed)
	if err != nil || seedURL.Host == "" {
		return nil, fmt.Errorf("invalid seed url %q", seed)
	}
	if limit <= 0 {
		limit = 1
	}

	seed = Normalize(seedURL)
	found := []string{seed}
	seen := map[string]bool{seed: true}
	queue := []string{seed}

	for len(queue) > 0 && len(found) < limit {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		current := queue[0]
		queue = queue[1:]

		page, err := c.Fetch(ctx, current)
		if err != nil {
			if current == seed {
				return nil, err
			}
			log.Warn().Err(err).Str("url", current).Msg("Skipping page")
			continue
		}

		for _, link := range page.Links {
			u, err := url.Parse(link)
			if err != nil || !strings.EqualFold(u.Host, seedURL.Host) {
				continue
			}
			link = Normalize(u)
			if seen[link] {
				continue
			}
			seen[link] = true
			found = append(found, link)
			if followLinks {
				queue = append(queue, link)
			}
			if len(found) >= limit {
				break
			}
		}
		if progress != nil {
			progress(found)
		}
		if !followLinks {
			break
		}
	}
	return found, nil
}

// Render parses an HTML document into text and absolute links.
func Render(r io.Reader, base *url.URL) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	page := &Page{}
	var sb strings.Builder
	linkSeen := make(map[string]bool)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "svg", "iframe", "template":
				return
			case "title":
				if n.FirstChild != nil && page.Title == "" {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "a":
				if href := attr(n, "href"); href != "" {
					if abs, ok := resolve(base, href); ok && !linkSeen[abs] {
						linkSeen[abs] = true
						page.Links = append(page.Links, abs)
					}
				}
			}
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	page.Text = tidy(sb.String())
	page.Hash = Hash(page.Text)
	return page, nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "table": true,
}

// Hash is the hex BLAKE3 digest of text, used to detect unchanged pages.
func Hash(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Normalize drops the fragment and a trailing slash so equivalent URLs compare equal.
func Normalize(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Host = strings.ToLower(c.Host)
	if c.Path == "/" {
		c.Path = ""
	}
	c.Path = strings.TrimSuffix(c.Path, "/")
	return c.String()
}

func resolve(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
