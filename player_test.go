package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeTransport struct {
	mu          sync.Mutex
	playing     bool
	paused      bool
	occupants   int
	played      []string
	onFinish    func()
	stops       int
	disconnects int
	finishDelay time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{occupants: 1, finishDelay: 5 * time.Millisecond}
}

func (f *fakeTransport) Play(ctx context.Context, streamURL string, onFinish func()) error {
	f.mu.Lock()
	f.playing = true
	f.played = append(f.played, streamURL)
	f.onFinish = onFinish
	delay := f.finishDelay
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		f.finish()
	}()
	return nil
}

func (f *fakeTransport) finish() {
	f.mu.Lock()
	fn := f.onFinish
	f.onFinish = nil
	f.playing = false
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.finish()
}

func (f *fakeTransport) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeTransport) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }

func (f *fakeTransport) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeTransport) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeTransport) Occupants() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.occupants
}

func (f *fakeTransport) Disconnect(ctx context.Context) {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) playedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.played...)
}

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeResolver) ResolveStream(ctx context.Context, locator string) (*StreamInfo, error) {
	f.mu.Lock()
	f.calls[locator]++
	err := f.fail[locator]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &StreamInfo{
		StreamURL: "stream://" + locator,
		Title:     "resolved " + locator,
		Duration:  3 * time.Minute,
	}, nil
}

func (f *fakeResolver) callCount(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []string
	warnings   []string
	farewells  []string
	refreshes  int
	cleanups   int
}

func (f *fakeNotifier) NowPlaying(track *Track, info *StreamInfo, paused, looping bool) {
	f.mu.Lock()
	f.nowPlaying = append(f.nowPlaying, track.Locator)
	f.mu.Unlock()
}

func (f *fakeNotifier) Refresh(paused, looping bool) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
}

func (f *fakeNotifier) Warn(format string, v ...any) {
	f.mu.Lock()
	f.warnings = append(f.warnings, fmt.Sprintf(format, v...))
	f.mu.Unlock()
}

func (f *fakeNotifier) Farewell(message string) {
	f.mu.Lock()
	f.farewells = append(f.farewells, message)
	f.mu.Unlock()
}

func (f *fakeNotifier) Cleanup() {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
}

func (f *fakeNotifier) snapshot() (nowPlaying, warnings, farewells []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.nowPlaying...),
		append([]string{}, f.warnings...),
		append([]string{}, f.farewells...)
}

func newTestPlayer(transport *fakeTransport, resolver *fakeResolver, notifier *fakeNotifier, registry *PlayerRegistry) *Player {
	p := NewPlayer(1, 2, 3, transport, resolver, notifier, registry)
	p.idleTimeout = 200 * time.Millisecond
	p.watchInterval = time.Hour
	p.stopGrace = time.Millisecond
	return p
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// Tests
// ============================================================================

func TestPlayerPlaysQueueInOrder(t *testing.T) {
	transport := newFakeTransport()
	resolver := newFakeResolver()
	notifier := &fakeNotifier{}
	p := newTestPlayer(transport, resolver, notifier, nil)
	defer p.Destroy("test done")

	p.Queue().Enqueue(newTestTracks(3)...)
	p.Start()

	waitFor(t, 2*time.Second, "full playback", func() bool {
		return p.Queue().HistoryCount() == 3 &&
			p.Queue().Current() == nil &&
			p.Queue().PendingCount() == 0
	})

	urls := transport.playedURLs()
	if len(urls) != 3 {
		t.Fatalf("played %d streams, want 3", len(urls))
	}
	for i, u := range urls {
		want := fmt.Sprintf("stream://https://example.com/t%d", i)
		if u != want {
			t.Fatalf("played[%d] = %q, want %q", i, u, want)
		}
	}

	nowPlaying, _, _ := notifier.snapshot()
	if len(nowPlaying) != 3 {
		t.Fatalf("announced %d tracks, want 3", len(nowPlaying))
	}
}

func TestPlayerLoopReResolvesCurrent(t *testing.T) {
	transport := newFakeTransport()
	resolver := newFakeResolver()
	notifier := &fakeNotifier{}
	p := newTestPlayer(transport, resolver, notifier, nil)
	defer p.Destroy("test done")

	tracks := newTestTracks(2)
	p.Queue().Enqueue(tracks...)
	p.Queue().ToggleLoop()
	p.Start()

	// Each replay fetches a fresh stream instead of reusing the old URL.
	waitFor(t, 2*time.Second, "looped replays", func() bool {
		return resolver.callCount(tracks[0].Locator) >= 3
	})
	if resolver.callCount(tracks[1].Locator) != 0 {
		t.Fatal("loop advanced past the looping track")
	}
}

func TestPlayerDoubleStopIdempotent(t *testing.T) {
	transport := newFakeTransport()
	resolver := newFakeResolver()
	notifier := &fakeNotifier{}
	registry := NewPlayerRegistry()

	p, err := registry.GetOrCreate(1, func() (*Player, error) {
		return newTestPlayer(transport, resolver, notifier, registry), nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	p.Stop()
	p.Stop()

	if registry.Count() != 0 {
		t.Fatalf("registry count = %d after stop, want 0", registry.Count())
	}
	notifier.mu.Lock()
	cleanups := notifier.cleanups
	notifier.mu.Unlock()
	if cleanups != 1 {
		t.Fatalf("cleanup ran %d times, want once", cleanups)
	}
	<-p.Done()
}

func TestPlayerIdleTimeout(t *testing.T) {
	transport := newFakeTransport()
	resolver := newFakeResolver()
	notifier := &fakeNotifier{}
	registry := NewPlayerRegistry()

	p, err := registry.GetOrCreate(1, func() (*Player, error) {
		q := newTestPlayer(transport, resolver, notifier, registry)
		q.idleTimeout = 30 * time.Millisecond
		return q, nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	<-p.Done()
	_, _, farewells := notifier.snapshot()
	if len(farewells) != 1 || farewells[0] != MsgPlayerIdleFarewell {
		t.Fatalf("farewells = %v, want idle farewell", farewells)
	}
	if _, ok := registry.Get(1); ok {
		t.Fatal("idle player still registered")
	}
}

func TestPlayerLeavesWhenAlone(t *testing.T) {
	transport := newFakeTransport()
	transport.occupants = 0
	resolver := newFakeResolver()
	notifier := &fakeNotifier{}
	registry := NewPlayerRegistry()

	p, err := registry.GetOrCreate(1, func() (*Player, error) {
		q := newTestPlayer(transport, resolver, notifier, registry)
		q.idleTimeout = time.Hour
		q.watchInterval = 10 * time.Millisecond
		return q, nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	waitFor(t, 2*time.Second, "alone farewell", func() bool {
		_, _, farewells := notifier.snapshot()
		return len(farewells) == 1 && farewells[0] == MsgPlayerAloneFarewell
	})
	<-p.Done()
	if _, ok := registry.Get(1); ok {
		t.Fatal("abandoned player still registered")
	}
}

func TestPlayerDropsFailingTrack(t *testing.T) {
	transport := newFakeTransport()
	resolver := newFakeResolver()
	notifier := &fakeNotifier{}
	p := newTestPlayer(transport, resolver, notifier, nil)
	defer p.Destroy("test done")

	tracks := newTestTracks(2)
	resolver.fail[tracks[0].Locator] = &ResolutionError{
		Query:  tracks[0].Locator,
		Reason: "extraction failed",
		Err:    ErrNoResults,
	}

	p.Queue().Enqueue(tracks...)
	p.Start()

	waitFor(t, 2*time.Second, "recovery past the failing track", func() bool {
		return p.Queue().HistoryCount() == 2 && p.Queue().Current() == nil
	})

	urls := transport.playedURLs()
	if len(urls) != 1 || urls[0] != "stream://"+tracks[1].Locator {
		t.Fatalf("played = %v, want only the second track", urls)
	}

	_, warnings, _ := notifier.snapshot()
	if len(warnings) != 1 || !strings.Contains(warnings[0], tracks[0].Title) {
		t.Fatalf("warnings = %v, want one naming the dropped track", warnings)
	}
}

func TestRegistryCreateDoesNotBlockOtherGuilds(t *testing.T) {
	registry := NewPlayerRegistry()

	// A creation stuck in a slow voice join must not hold up the registry
	// for every other guild.
	slowEntered := make(chan struct{})
	release := make(chan struct{})
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		p, err := registry.GetOrCreate(1, func() (*Player, error) {
			close(slowEntered)
			<-release
			return newTestPlayer(newFakeTransport(), newFakeResolver(), &fakeNotifier{}, registry), nil
		})
		if err == nil {
			defer p.Destroy("test done")
		}
	}()
	<-slowEntered

	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		p, err := registry.GetOrCreate(2, func() (*Player, error) {
			q := NewPlayer(2, 2, 3, newFakeTransport(), newFakeResolver(), &fakeNotifier{}, registry)
			q.watchInterval = time.Hour
			return q, nil
		})
		if err != nil {
			t.Errorf("GetOrCreate(2): %v", err)
			return
		}
		p.Destroy("test done")
	}()

	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("guild 2 creation blocked behind guild 1's slow factory")
	}

	close(release)
	<-slowDone
}

func TestRegistryConcurrentSameGuildCreatesOnce(t *testing.T) {
	registry := NewPlayerRegistry()

	var createdMu sync.Mutex
	created := 0
	entered := make(chan struct{})
	release := make(chan struct{})
	factory := func() (*Player, error) {
		createdMu.Lock()
		created++
		createdMu.Unlock()
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return newTestPlayer(newFakeTransport(), newFakeResolver(), &fakeNotifier{}, registry), nil
	}

	results := make(chan *Player, 2)
	for range 2 {
		go func() {
			p, err := registry.GetOrCreate(1, factory)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
			results <- p
		}()
	}
	<-entered
	close(release)

	p1, p2 := <-results, <-results
	if p1 != p2 {
		t.Fatal("concurrent callers got different players for the same guild")
	}
	createdMu.Lock()
	n := created
	createdMu.Unlock()
	if n != 1 {
		t.Fatalf("factory ran %d times, want once", n)
	}
	p1.Destroy("test done")
}

func TestNotifierRefreshObservable(t *testing.T) {
	var n Notifier = &fakeNotifier{}
	n.Refresh(true, false)
	n.Refresh(false, true)

	f := n.(*fakeNotifier)
	f.mu.Lock()
	refreshes := f.refreshes
	f.mu.Unlock()
	if refreshes != 2 {
		t.Fatalf("recorded %d refreshes, want 2", refreshes)
	}
}

func TestRegistryGetOrCreateIdentity(t *testing.T) {
	registry := NewPlayerRegistry()
	created := 0
	factory := func() (*Player, error) {
		created++
		return newTestPlayer(newFakeTransport(), newFakeResolver(), &fakeNotifier{}, registry), nil
	}

	p1, err := registry.GetOrCreate(1, factory)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	p2, _ := registry.GetOrCreate(1, factory)
	if p1 != p2 || created != 1 {
		t.Fatalf("GetOrCreate returned a different instance (created=%d)", created)
	}

	p1.Destroy("test done")
	<-p1.Done()
	if _, ok := registry.Get(1); ok {
		t.Fatal("destroyed player still registered")
	}

	p3, _ := registry.GetOrCreate(1, factory)
	defer p3.Destroy("test done")
	if p3 == p1 || created != 2 {
		t.Fatal("a destroyed player was revived instead of replaced")
	}
}
