// Package preview derives link previews for post bodies: the first URL in
// the text is classified by provider and resolved to a thumbnail, falling
// back to an og:image fetch for unknown hosts when enabled.
package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/errs"
	"github.com/ventapp/ventfeed/internal/ops"
)

// Provider identifies the service a link points at.
type Provider string

const (
	ProviderYouTube    Provider = "youtube"
	ProviderSpotify    Provider = "spotify"
	ProviderAppleMusic Provider = "apple-music"
	ProviderInstagram  Provider = "instagram"
	ProviderFacebook   Provider = "facebook"
	ProviderGeneric    Provider = "generic"
)

// Preview is the resolved metadata for one link.
type Preview struct {
	URL      string
	Provider Provider
	ImageURL string
}

var (
	urlPattern = regexp.MustCompile(`https?://[^\s]+`)

	// Video id from watch, share and embed URL shapes.
	youtubePattern = regexp.MustCompile(`(?:youtube\.com/(?:watch\?v=|embed/|shorts/)|youtu\.be/)([A-Za-z0-9_-]{11})`)

	ogImagePattern = regexp.MustCompile(`<meta[^>]+property=["']og:image["'][^>]+content=["']([^"']+)["']`)
	ogImageFlipped = regexp.MustCompile(`<meta[^>]+content=["']([^"']+)["'][^>]+property=["']og:image["']`)
)

// FirstURL returns the first URL in the text, or "".
func FirstURL(text string) string {
	m := urlPattern.FindString(text)
	return strings.TrimRight(m, ".,;:!?)")
}

// Classify maps a URL to its provider.
func Classify(url string) Provider {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return ProviderYouTube
	case strings.Contains(lower, "spotify.com"):
		return ProviderSpotify
	case strings.Contains(lower, "music.apple.com"):
		return ProviderAppleMusic
	case strings.Contains(lower, "instagram.com"):
		return ProviderInstagram
	case strings.Contains(lower, "facebook.com"), strings.Contains(lower, "fb.watch"):
		return ProviderFacebook
	default:
		return ProviderGeneric
	}
}

// YouTubeThumbnail returns the thumbnail URL for a YouTube link, or ""
// when no video id can be extracted.
func YouTubeThumbnail(url string) string {
	m := youtubePattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/hqdefault.jpg", m[1])
}

// Resolver resolves link previews with a per-URL cache. Safe for
// concurrent use; resolution happens outside the feed event loop.
type Resolver struct {
	cfg    *config.Preview
	client *http.Client
	cache  *xsync.MapOf[string, *Preview]
	logger *ops.Logger
}

// NewResolver creates a resolver from the preview configuration.
func NewResolver(cfg *config.Preview, logger *ops.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		cache:  xsync.NewMapOf[string, *Preview](),
		logger: logger.WithComponent("preview"),
	}
}

// ForText resolves the preview for the first link in the text. Returns
// nil when previews are disabled, the text has no link, or nothing could
// be resolved.
func (r *Resolver) ForText(ctx context.Context, text string) *Preview {
	if !r.cfg.Enabled {
		return nil
	}
	url := FirstURL(text)
	if url == "" {
		return nil
	}

	if cached, ok := r.cache.Load(url); ok {
		return cached
	}

	p := r.resolve(ctx, url)
	r.cache.Store(url, p)
	return p
}

func (r *Resolver) resolve(ctx context.Context, url string) *Preview {
	p := &Preview{URL: url, Provider: Classify(url)}

	switch p.Provider {
	case ProviderYouTube:
		p.ImageURL = YouTubeThumbnail(url)
	case ProviderSpotify, ProviderAppleMusic, ProviderInstagram, ProviderFacebook, ProviderGeneric:
		if r.cfg.FetchOgImages {
			img, err := r.fetchOgImage(ctx, url)
			if err != nil {
				r.logger.Debug("og:image fetch failed", "url", url, "error", err)
			}
			p.ImageURL = img
		}
	}
	return p
}

// fetchOgImage downloads the page head and extracts the og:image meta
// tag. The body read is capped; social pages put og tags early.
func (r *Resolver) fetchOgImage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errs.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", errs.Transient(err)
	}

	if m := ogImagePattern.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}
	if m := ogImageFlipped.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}
	return "", nil
}
