package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSearchExpression(t *testing.T) {
	cases := []struct {
		query  string
		source Source
		want   string
	}{
		{"never gonna give you up", SourceYouTube, "ytsearch1:never gonna give you up"},
		{"lofi beats", SourceYouTubeMusic, "ytmsearch1:lofi beats"},
		{"some remix", SourceSoundCloud, "scsearch1:some remix"},
		{"anything", Source("unknown"), "ytsearch1:anything"},
		{"https://youtu.be/dQw4w9WgXcQ", SourceYouTube, "https://youtu.be/dQw4w9WgXcQ"},
	}
	for _, c := range cases {
		if got := SearchExpression(c.query, c.source); got != c.want {
			t.Errorf("SearchExpression(%q, %s) = %q, want %q", c.query, c.source, got, c.want)
		}
	}
}

func TestIsURL(t *testing.T) {
	for _, s := range []string{"https://example.com/x", "http://a.b", " https://spaced.example.com "} {
		if !IsURL(s) {
			t.Errorf("IsURL(%q) = false", s)
		}
	}
	for _, s := range []string{"not a url", "ytsearch1:query", "ftp://example.com", "https://"} {
		if IsURL(s) {
			t.Errorf("IsURL(%q) = true", s)
		}
	}
}

func TestIsPlaylistURL(t *testing.T) {
	for _, s := range []string{
		"https://www.youtube.com/watch?v=x&list=PLabc",
		"https://www.youtube.com/playlist?list=PLabc",
		"https://open.spotify.com/album/123",
		"https://soundcloud.com/artist/sets/mixtape",
	} {
		if !isPlaylistURL(s) {
			t.Errorf("isPlaylistURL(%q) = false", s)
		}
	}
	if isPlaylistURL("https://www.youtube.com/watch?v=x") {
		t.Error("plain watch URL flagged as playlist")
	}
}

func TestIsRestrictedHost(t *testing.T) {
	for _, s := range []string{
		"https://open.spotify.com/track/123",
		"https://music.apple.com/us/song/456",
		"https://tidal.com/browse/track/789",
	} {
		if !isRestrictedHost(s) {
			t.Errorf("isRestrictedHost(%q) = false", s)
		}
	}
	if isRestrictedHost("https://www.youtube.com/watch?v=x") {
		t.Error("youtube flagged as restricted")
	}
}

func TestSynthesizeQuery(t *testing.T) {
	cases := []struct {
		title, artist, want string
	}{
		{"Song Name", "Artist", "Song Name Artist"},
		{"Artist - Song Name", "Artist", "Artist - Song Name"},
		{"Song Name", "", "Song Name"},
		{"song by ARTIST", "artist", "song by ARTIST"},
	}
	for _, c := range cases {
		if got := synthesizeQuery(c.title, c.artist); got != c.want {
			t.Errorf("synthesizeQuery(%q, %q) = %q, want %q", c.title, c.artist, got, c.want)
		}
	}
}

func TestScrapePageMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
<meta property="og:title" content="Shape of You - song and lyrics by Ed Sheeran | Spotify"/>
<meta property="og:description" content="Ed Sheeran · Divide · Song · 2017"/>
</head><body>ignored</body></html>`))
	}))
	defer srv.Close()

	r := NewResolver()
	title, artist, err := r.scrapePageMetadata(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("scrapePageMetadata: %v", err)
	}
	if title != "Shape of You" {
		t.Errorf("title = %q, want %q", title, "Shape of You")
	}
	if artist != "Ed Sheeran" {
		t.Errorf("artist = %q, want %q", artist, "Ed Sheeran")
	}
}

func TestScrapePageMetadataTitleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Some Track Page</title></head><body></body></html>`))
	}))
	defer srv.Close()

	r := NewResolver()
	title, _, err := r.scrapePageMetadata(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("scrapePageMetadata: %v", err)
	}
	if title != "Some Track Page" {
		t.Errorf("title = %q, want fallback from <title>", title)
	}
}

func TestScrapePageMetadataHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewResolver()
	if _, _, err := r.scrapePageMetadata(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestResolutionErrorUnwrap(t *testing.T) {
	err := &ResolutionError{Query: "q", Reason: "refused", Err: ErrRightsRestricted}
	if err.Unwrap() != ErrRightsRestricted {
		t.Fatal("Unwrap lost the sentinel")
	}
	if err.Error() == "" {
		t.Fatal("empty error message")
	}
}

func TestResolverTimeoutsConfigured(t *testing.T) {
	r := NewResolver()
	if r.resolveTimeout != 30*time.Second || r.scrapeTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %v / %v", r.resolveTimeout, r.scrapeTimeout)
	}
}
