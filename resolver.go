package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// ============================================================================
// Resolver
// ============================================================================

const (
	MsgResolverNoResults     = "no results for %q"
	MsgResolverDRMNoFallback = "rights-restricted source and no fallback title could be scraped"

	resolveTimeoutDefault = 30 * time.Second
	scrapeTimeoutDefault  = 10 * time.Second
	playlistMaxEntries    = 100
)

type Source string

const (
	SourceYouTube      Source = "youtube"
	SourceYouTubeMusic Source = "ytmusic"
	SourceSoundCloud   Source = "soundcloud"
)

// searchPrefixes maps a source to its single-result yt-dlp search scheme.
var searchPrefixes = map[Source]string{
	SourceYouTube:      "ytsearch1:",
	SourceYouTubeMusic: "ytmsearch1:",
	SourceSoundCloud:   "scsearch1:",
}

var (
	ErrRightsRestricted = errors.New("rights-restricted source")
	ErrNoResults        = errors.New("no results")
)

// ResolutionError wraps an extraction failure with the query that caused it.
type ResolutionError struct {
	Query  string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving %q: %s: %v", e.Query, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolving %q: %s", e.Query, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// StreamInfo is the result of resolving a locator into a playable stream.
// Stream URLs are single-use; a fresh one is fetched for every play attempt.
type StreamInfo struct {
	StreamURL    string
	Title        string
	Artist       string
	ThumbnailURL string
	Duration     time.Duration
}

// StreamResolver is the part of the resolver the player loop depends on.
type StreamResolver interface {
	ResolveStream(ctx context.Context, locator string) (*StreamInfo, error)
}

// Resolver turns user queries into track descriptors and locators into
// playable streams, via yt-dlp with an HTML scrape fallback for
// rights-restricted hosts.
type Resolver struct {
	httpClient     *http.Client
	resolveTimeout time.Duration
	scrapeTimeout  time.Duration
}

func NewResolver() *Resolver {
	return &Resolver{
		httpClient:     &http.Client{Timeout: scrapeTimeoutDefault},
		resolveTimeout: resolveTimeoutDefault,
		scrapeTimeout:  scrapeTimeoutDefault,
	}
}

func newYtdlp() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoCheckCertificates()

	if proxy := os.Getenv(EnvYoutubeProxy); proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd
}

// SearchExpression turns a non-URL query into a provider-scoped yt-dlp
// search expression. URLs pass through untouched.
func SearchExpression(query string, source Source) string {
	if IsURL(query) {
		return query
	}
	prefix, ok := searchPrefixes[source]
	if !ok {
		prefix = searchPrefixes[SourceYouTube]
	}
	return prefix + query
}

func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isPlaylistURL reports whether the URL points at a multi-track collection.
func isPlaylistURL(s string) bool {
	lower := strings.ToLower(s)
	if strings.Contains(lower, "list=") {
		return true
	}
	for _, marker := range []string{"/playlist", "/album/", "/albums/", "/sets/"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isRestrictedHost flags hosts that serve DRM streams yt-dlp cannot extract,
// so resolution goes straight to the scrape fallback.
func isRestrictedHost(s string) bool {
	lower := strings.ToLower(s)
	for _, host := range []string{"open.spotify.com", "music.apple.com", "tidal.com", "deezer.com"} {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

func isYouTubeURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be")
}

// Resolve expands a user query into one or more track descriptors. Direct
// URLs to collections become playlists; everything else yields one track.
func (r *Resolver) Resolve(ctx context.Context, query string, source Source) ([]*Track, error) {
	ctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	if IsURL(query) {
		if isRestrictedHost(query) {
			return r.resolveViaScrape(ctx, query, source)
		}
		if isPlaylistURL(query) {
			return r.resolvePlaylist(ctx, query)
		}
	}

	track, err := r.resolveSingle(ctx, SearchExpression(query, source))
	if err != nil {
		var resErr *ResolutionError
		if errors.As(err, &resErr) && errors.Is(resErr.Err, ErrRightsRestricted) && IsURL(query) {
			return r.resolveViaScrape(ctx, query, source)
		}
		return nil, err
	}
	return []*Track{track}, nil
}

func (r *Resolver) resolveSingle(ctx context.Context, target string) (*Track, error) {
	res, err := newYtdlp().
		FlatPlaylist().
		NoPlaylist().
		Print("%(webpage_url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		Run(ctx, target)
	if err != nil {
		if res != nil && strings.Contains(strings.ToLower(res.Stderr), "drm") {
			return nil, &ResolutionError{Query: target, Reason: "extraction refused", Err: ErrRightsRestricted}
		}
		return nil, &ResolutionError{Query: target, Reason: "extraction failed", Err: err}
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 4 || ps[1] == "" || ps[1] == "NA" {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		t := &Track{
			Locator:  ps[0],
			Title:    ps[1],
			Duration: d,
			Resolved: true,
		}
		if len(ps) >= 5 && ps[4] != "NA" {
			t.ThumbnailURL = ps[4]
		}
		if ps[2] != "" && ps[2] != "NA" {
			t.Title = ps[1] + " - " + ps[2]
		}
		return t, nil
	}
	return nil, &ResolutionError{Query: target, Reason: fmt.Sprintf(MsgResolverNoResults, target), Err: ErrNoResults}
}

// resolvePlaylist expands a collection URL. YouTube entries carry usable
// links and come back resolved; entries from other hosts become unresolved
// descriptors whose locator is a search expression synthesized from the
// entry's title and artist, resolved just in time when they reach the front
// of the queue.
func (r *Resolver) resolvePlaylist(ctx context.Context, playlistURL string) ([]*Track, error) {
	res, err := newYtdlp().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(playlist_title)s").
		PlaylistItems(fmt.Sprintf("1-%d", playlistMaxEntries)).
		Run(ctx, playlistURL, "--yes-playlist")
	if err != nil {
		return nil, &ResolutionError{Query: playlistURL, Reason: "playlist extraction failed", Err: err}
	}

	fromYouTube := isYouTubeURL(playlistURL)
	var tracks []*Track
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 3 || ps[1] == "" || ps[1] == "NA" {
			continue
		}

		entryURL, title, uploader := ps[0], ps[1], ps[2]
		origin := ""
		if len(ps) >= 5 && ps[4] != "NA" {
			origin = ps[4]
		}

		if fromYouTube && IsURL(entryURL) {
			d := time.Duration(0)
			if len(ps) >= 4 {
				d, _ = time.ParseDuration(ps[3] + "s")
			}
			tracks = append(tracks, &Track{
				Locator:        entryURL,
				Title:          title,
				Duration:       d,
				PlaylistOrigin: origin,
				Resolved:       true,
			})
			continue
		}

		tracks = append(tracks, &Track{
			Locator:        SearchExpression(synthesizeQuery(title, uploader), SourceYouTube),
			Title:          title,
			PlaylistOrigin: origin,
			Resolved:       false,
		})
	}

	if len(tracks) == 0 {
		return nil, &ResolutionError{Query: playlistURL, Reason: fmt.Sprintf(MsgResolverNoResults, playlistURL), Err: ErrNoResults}
	}
	return tracks, nil
}

// resolveViaScrape recovers a title from a page yt-dlp cannot extract and
// retries it as a primary-provider search.
func (r *Resolver) resolveViaScrape(ctx context.Context, pageURL string, source Source) ([]*Track, error) {
	scrapeCtx, cancel := context.WithTimeout(ctx, r.scrapeTimeout)
	defer cancel()

	title, artist, err := r.scrapePageMetadata(scrapeCtx, pageURL)
	if err != nil || title == "" {
		return nil, &ResolutionError{Query: pageURL, Reason: MsgResolverDRMNoFallback, Err: ErrRightsRestricted}
	}

	track, err := r.resolveSingle(ctx, SearchExpression(synthesizeQuery(title, artist), SourceYouTube))
	if err != nil {
		return nil, err
	}
	return []*Track{track}, nil
}

// scrapePageMetadata reads og:title and og:description from the page head.
// Only the head is consumed; the body is never downloaded in full.
func (r *Resolver) scrapePageMetadata(ctx context.Context, pageURL string) (title, artist string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body := new(strings.Builder)
	scanner := bufio.NewScanner(resp.Body)
	linesRead := 0
	for scanner.Scan() && linesRead < 500 {
		body.WriteString(scanner.Text())
		body.WriteString(" ")
		linesRead++
		if strings.Contains(scanner.Text(), "</head>") {
			break
		}
	}

	htmlContent := body.String()

	if matches := ogTitleRegex.FindStringSubmatch(htmlContent); len(matches) > 1 {
		title = matches[1]
		if idx := strings.Index(title, " - song and lyrics by"); idx != -1 {
			title = title[:idx]
		}
		if idx := strings.Index(title, " | Spotify"); idx != -1 {
			title = title[:idx]
		}
	}

	if matches := ogDescRegex.FindStringSubmatch(htmlContent); len(matches) > 1 {
		parts := strings.Split(matches[1], " · ")
		if len(parts) >= 1 {
			artist = strings.TrimSpace(parts[0])
		}
	}

	if title == "" {
		if matches := htmlTitleRegex.FindStringSubmatch(htmlContent); len(matches) > 1 {
			title = strings.TrimSpace(matches[1])
		}
	}

	return title, artist, nil
}

var (
	ogTitleRegex   = regexp.MustCompile(`<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']+)["']`)
	ogDescRegex    = regexp.MustCompile(`<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']+)["']`)
	htmlTitleRegex = regexp.MustCompile(`<title[^>]*>([^<]+)</title>`)
)

func synthesizeQuery(title, artist string) string {
	if artist != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(artist)) {
		return title + " " + artist
	}
	return title
}

// ResolveStream fetches a fresh direct stream URL for a locator. Called once
// per play attempt; previously returned URLs must not be reused.
func (r *Resolver) ResolveStream(ctx context.Context, locator string) (*StreamInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	res, err := newYtdlp().
		NoPlaylist().
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		Run(ctx, locator)
	if err != nil {
		if res != nil && strings.Contains(strings.ToLower(res.Stderr), "drm") {
			return nil, &ResolutionError{Query: locator, Reason: "extraction refused", Err: ErrRightsRestricted}
		}
		return nil, &ResolutionError{Query: locator, Reason: "stream extraction failed", Err: err}
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 4 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		info := &StreamInfo{
			StreamURL: ps[0],
			Title:     ps[1],
			Artist:    ps[2],
			Duration:  d,
		}
		if len(ps) >= 5 && ps[4] != "NA" {
			info.ThumbnailURL = ps[4]
		}
		return info, nil
	}
	return nil, &ResolutionError{Query: locator, Reason: fmt.Sprintf(MsgResolverNoResults, locator), Err: ErrNoResults}
}
