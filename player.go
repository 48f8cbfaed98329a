package main

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Player
// ============================================================================

const (
	MsgPlayerIdleFarewell  = "Nothing has played for a while, leaving the voice channel. See you!"
	MsgPlayerAloneFarewell = "Everyone left, so I'm heading out too."
	MsgPlayerTrackFailed   = "Skipping **%s**: %v"
	MsgPlayerPlayFailed    = "Could not start **%s**: %v"
	MsgPlayerDestroyed     = "Player for guild %s destroyed (%s)"

	idleTimeoutDefault   = 600 * time.Second
	watchIntervalDefault = 60 * time.Second
	stopGraceDefault     = 500 * time.Millisecond
)

// Transport is the voice connection and audio pipeline as the player sees it.
type Transport interface {
	// Play starts streaming the source and calls onFinish exactly once when
	// playback ends for any reason, including Stop.
	Play(ctx context.Context, streamURL string, onFinish func()) error
	Stop()
	Pause()
	Resume()
	IsPlaying() bool
	IsPaused() bool
	// Occupants counts listeners in the channel, excluding the bot.
	Occupants() int
	Disconnect(ctx context.Context)
}

// Notifier is the announcement surface of a player. Implementations own the
// live now-playing message and replace it on every new track.
type Notifier interface {
	NowPlaying(track *Track, info *StreamInfo, paused, looping bool)
	// Refresh redraws the live announcement after a pause or loop change.
	Refresh(paused, looping bool)
	Warn(format string, v ...any)
	Farewell(message string)
	Cleanup()
}

// Player drives playback for one guild. A background loop advances the
// queue; an independent watcher leaves when the channel empties. Destruction
// is first-writer-wins between the idle timeout, the watcher, explicit stop
// and forced disconnect.
type Player struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	TextChannelID  snowflake.ID

	queue     *Queue
	transport Transport
	resolver  StreamResolver
	notifier  Notifier
	registry  *PlayerRegistry

	ctx    context.Context
	cancel context.CancelFunc

	idleTimeout   time.Duration
	watchInterval time.Duration
	stopGrace     time.Duration

	destroyOnce sync.Once
	done        chan struct{}
}

func NewPlayer(guildID, voiceChannelID, textChannelID snowflake.ID, transport Transport, resolver StreamResolver, notifier Notifier, registry *PlayerRegistry) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		TextChannelID:  textChannelID,
		queue:          NewQueue(),
		transport:      transport,
		resolver:       resolver,
		notifier:       notifier,
		registry:       registry,
		ctx:            ctx,
		cancel:         cancel,
		idleTimeout:    idleTimeoutDefault,
		watchInterval:  watchIntervalDefault,
		stopGrace:      stopGraceDefault,
		done:           make(chan struct{}),
	}
}

func (p *Player) Queue() *Queue {
	return p.queue
}

// Start launches the playback loop and the occupancy watcher.
func (p *Player) Start() {
	safeGo(p.loop)
	safeGo(p.watch)
}

// Done closes when the playback loop has exited.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

func (p *Player) loop() {
	defer close(p.done)

	for {
		// Wait for work or give up after the idle timeout.
		if p.queue.Current() == nil && p.queue.PendingCount() == 0 {
			idle := time.NewTimer(p.idleTimeout)
			select {
			case <-p.ctx.Done():
				idle.Stop()
				return
			case <-p.queue.Wake():
				idle.Stop()
			case <-idle.C:
				p.notifier.Farewell(MsgPlayerIdleFarewell)
				p.Destroy("idle timeout")
				return
			}
		}

		for {
			if p.ctx.Err() != nil {
				return
			}
			track := p.queue.Advance()
			if track == nil {
				break
			}
			p.playTrack(track)
		}
	}
}

// playTrack resolves a fresh stream for the track and blocks until playback
// finishes. Failures never kill the loop; the track is dropped with a
// user-visible warning and the queue moves on.
func (p *Player) playTrack(t *Track) {
	info, err := p.resolver.ResolveStream(p.ctx, t.Locator)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.notifier.Warn(MsgPlayerTrackFailed, t.DisplayTitle(), err)
		p.queue.DropCurrent()
		return
	}

	if !t.Resolved {
		if info.Title != "" {
			t.Title = info.Title
			if info.Artist != "" && info.Artist != "NA" {
				t.Title = info.Title + " - " + info.Artist
			}
		}
		t.Duration = info.Duration
		t.ThumbnailURL = info.ThumbnailURL
		t.Resolved = true
	}

	// A stale source may still be draining after a skip; stop it and give
	// the pipeline a moment before starting the next one.
	if p.transport.IsPlaying() {
		p.transport.Stop()
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.stopGrace):
		}
	}

	finished := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(finished) }) }

	if err := p.transport.Play(p.ctx, info.StreamURL, fire); err != nil {
		p.notifier.Warn(MsgPlayerPlayFailed, t.DisplayTitle(), err)
		p.queue.DropCurrent()
		fire()
		return
	}

	p.notifier.NowPlaying(t, info, false, p.queue.Looping())

	select {
	case <-finished:
	case <-p.ctx.Done():
	}
}

// Skip ends the current track; the loop observes it as normal completion.
func (p *Player) Skip() {
	p.transport.Stop()
}

func (p *Player) Pause() {
	p.transport.Pause()
}

func (p *Player) Resume() {
	p.transport.Resume()
}

func (p *Player) IsPaused() bool {
	return p.transport.IsPaused()
}

// Rewind re-queues the previous track and cuts the current one short.
func (p *Player) Rewind() error {
	if err := p.queue.Rewind(); err != nil {
		return err
	}
	p.transport.Stop()
	return nil
}

// Stop tears the player down. Safe to call from any goroutine, any number of
// times.
func (p *Player) Stop() {
	p.Destroy("stopped")
}

func (p *Player) Destroy(reason string) {
	p.destroyOnce.Do(func() {
		p.queue.Reset()
		p.cancel()
		p.transport.Stop()
		p.transport.Disconnect(context.Background())
		p.notifier.Cleanup()
		if p.registry != nil {
			p.registry.Remove(p.GuildID)
		}
		LogMusic(MsgPlayerDestroyed, p.GuildID, reason)
	})
}

func (p *Player) watch() {
	ticker := time.NewTicker(p.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.transport.Occupants() == 0 {
				p.notifier.Farewell(MsgPlayerAloneFarewell)
				p.Destroy("alone in channel")
				return
			}
		}
	}
}

// ============================================================================
// Player Registry
// ============================================================================

// PlayerRegistry tracks the live player per guild. Entries are removed only
// by the player's own destruction.
type PlayerRegistry struct {
	mu       sync.Mutex
	players  map[snowflake.ID]*Player
	creating map[snowflake.ID]chan struct{}
}

var (
	playerRegistry     *PlayerRegistry
	playerRegistryOnce sync.Once
)

func GetPlayerRegistry() *PlayerRegistry {
	playerRegistryOnce.Do(func() {
		playerRegistry = NewPlayerRegistry()
	})
	return playerRegistry
}

func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{
		players:  make(map[snowflake.ID]*Player),
		creating: make(map[snowflake.ID]chan struct{}),
	}
}

func (r *PlayerRegistry) Get(guildID snowflake.ID) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[guildID]
	return p, ok
}

// GetOrCreate returns the guild's live player, creating and starting one via
// the factory when none exists. The factory runs outside the registry lock;
// a voice join can take many seconds and must not stall other guilds. An
// in-flight marker per guild makes concurrent same-guild callers wait for the
// one creation instead of racing their own.
func (r *PlayerRegistry) GetOrCreate(guildID snowflake.ID, create func() (*Player, error)) (*Player, error) {
	r.mu.Lock()
	for {
		if p, ok := r.players[guildID]; ok {
			r.mu.Unlock()
			return p, nil
		}
		inflight, ok := r.creating[guildID]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-inflight
		r.mu.Lock()
	}
	done := make(chan struct{})
	r.creating[guildID] = done
	r.mu.Unlock()

	p, err := create()

	r.mu.Lock()
	delete(r.creating, guildID)
	close(done)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.players[guildID] = p
	r.mu.Unlock()

	p.Start()
	return p, nil
}

func (r *PlayerRegistry) Remove(guildID snowflake.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, guildID)
}

func (r *PlayerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}
