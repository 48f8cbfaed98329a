package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// ============================================================================
// Command Registration
// ============================================================================

func init() {
	RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music playback",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song or playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "URL or search terms",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "source",
						Description: "Where to search when the query is not a URL",
						Required:    false,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "YouTube", Value: string(SourceYouTube)},
							{Name: "YouTube Music", Value: string(SourceYouTubeMusic)},
							{Name: "SoundCloud", Value: string(SourceSoundCloud)},
						},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
		},
	}, handleMusic)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "playlist",
		Description: "Saved playlists",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "save",
				Description: "Save the current queue under a name",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{Name: "name", Description: "Playlist name", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "load",
				Description: "Queue a saved playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{Name: "name", Description: "Playlist name", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "delete",
				Description: "Delete a saved playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{Name: "name", Description: "Playlist name", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List your saved playlists",
			},
		},
	}, handlePlaylist)

	RegisterAutocompleteHandler("music", handleMusicAutocomplete)
	RegisterComponentHandler("music:", handleMusicComponent)
	RegisterModalHandler("music:addurl", handleAddURLModal)
	RegisterVoiceStateUpdateHandler(onMusicVoiceStateUpdate)
}

const (
	MsgMusicGuildOnly      = "This command can only be used in a server."
	MsgMusicNotInVoice     = "Join a voice channel first."
	MsgMusicNothingPlaying = "Nothing is playing."
	MsgMusicNoPlayer       = "No active player in this server."
	MsgMusicJoinFailed     = "Could not join your voice channel: %v"
	MsgMusicResolveFailed  = "Could not find anything for **%s**: %v"
	MsgMusicQueuedOne      = "Queued **%s** `[%s]`"
	MsgMusicQueuedMany     = "Queued **%d** tracks from **%s**"
	MsgMusicSkipped        = "Skipped."
	MsgMusicStopped        = "Stopped and left the voice channel."
	MsgMusicQueueEmpty     = "The queue is empty."
	MsgMusicShuffled       = "Queue shuffled."
	MsgMusicCleared        = "Removed %d tracks from the queue."
	MsgMusicRemoved        = "Removed **%s** from the queue."
	MsgMusicLoopOn         = "Looping the current track."
	MsgMusicLoopOff        = "Loop disabled."
	MsgMusicPlaylistSaved  = "Saved **%s** (%d tracks)."
	MsgMusicPlaylistGone   = "No playlist named **%s**."
	MsgMusicPlaylistDel    = "Deleted **%s**."
	MsgMusicPlaylistNone   = "You have no saved playlists."
	MsgMusicPlaylistEmpty  = "Nothing in the queue to save."

	transientMessageTTL = 15 * time.Second
)

var defaultResolver = NewResolver()

// ============================================================================
// Slash Command Handlers
// ============================================================================

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}

	switch *data.SubCommandName {
	case "play":
		handleMusicPlay(event, data)
	case "skip":
		handleMusicSkip(event)
	case "stop":
		handleMusicStop(event)
	case "queue":
		handleMusicQueue(event)
	}
}

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	source := SourceYouTube
	if s, ok := data.OptString("source"); ok {
		source = Source(s)
	}

	guildID := *event.GuildID()
	voiceChannelID, ok := userVoiceChannel(event.Client(), guildID, event.User().ID)
	if !ok {
		replyEphemeral(event, MsgMusicNotInVoice)
		return
	}

	_ = event.DeferCreateMessage(false)

	player, err := GetPlayerRegistry().GetOrCreate(guildID, func() (*Player, error) {
		transport, err := NewVoiceTransport(AppContext, event.Client(), guildID, voiceChannelID)
		if err != nil {
			return nil, err
		}
		notifier := NewChannelNotifier(event.Client(), event.Channel().ID())
		return NewPlayer(guildID, voiceChannelID, event.Channel().ID(), transport, defaultResolver, notifier, GetPlayerRegistry()), nil
	})
	if err != nil {
		updateResponse(event.Client(), event.ApplicationID(), event.Token(), fmt.Sprintf(MsgMusicJoinFailed, err))
		return
	}

	tracks, err := defaultResolver.Resolve(AppContext, query, source)
	if err != nil {
		updateResponse(event.Client(), event.ApplicationID(), event.Token(), fmt.Sprintf(MsgMusicResolveFailed, Truncate(query, 80), err))
		return
	}

	user := event.User()
	for _, t := range tracks {
		t.RequesterID = user.ID
		t.RequesterName = user.EffectiveName()
	}
	player.Queue().Enqueue(tracks...)

	if len(tracks) == 1 {
		updateResponse(event.Client(), event.ApplicationID(), event.Token(),
			fmt.Sprintf(MsgMusicQueuedOne, tracks[0].DisplayTitle(), tracks[0].FormatDuration()))
	} else {
		origin := tracks[0].PlaylistOrigin
		if origin == "" {
			origin = Truncate(query, 60)
		}
		updateResponse(event.Client(), event.ApplicationID(), event.Token(),
			fmt.Sprintf(MsgMusicQueuedMany, len(tracks), origin))
	}
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	player, ok := GetPlayerRegistry().Get(*event.GuildID())
	if !ok || player.Queue().Current() == nil {
		replyEphemeral(event, MsgMusicNothingPlaying)
		return
	}
	player.Skip()
	replyTransient(event, MsgMusicSkipped)
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	player, ok := GetPlayerRegistry().Get(*event.GuildID())
	if !ok {
		replyEphemeral(event, MsgMusicNoPlayer)
		return
	}
	player.Stop()
	replyTransient(event, MsgMusicStopped)
}

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	player, ok := GetPlayerRegistry().Get(*event.GuildID())
	if !ok {
		replyEphemeral(event, MsgMusicNoPlayer)
		return
	}
	container := buildQueueContainer(player)
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(true).
		AddComponents(container).
		Build())
}

// ============================================================================
// Playlists
// ============================================================================

func handlePlaylist(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	ctx := context.Background()
	userID := event.User().ID

	switch *data.SubCommandName {
	case "save":
		name := data.String("name")
		player, ok := GetPlayerRegistry().Get(*event.GuildID())
		if !ok {
			replyEphemeral(event, MsgMusicNoPlayer)
			return
		}
		current, pending, _, _ := player.Queue().Snapshot()
		var locators []string
		if current != nil {
			locators = append(locators, current.Locator)
		}
		for _, t := range pending {
			locators = append(locators, t.Locator)
		}
		if len(locators) == 0 {
			replyEphemeral(event, MsgMusicPlaylistEmpty)
			return
		}
		if err := SavePlaylist(ctx, userID, name, locators); err != nil {
			replyEphemeral(event, "Failed to save playlist: %v", err)
			return
		}
		replyTransient(event, fmt.Sprintf(MsgMusicPlaylistSaved, name, len(locators)))

	case "load":
		name := data.String("name")
		locators, err := LoadPlaylist(ctx, userID, name)
		if err != nil {
			replyEphemeral(event, "Failed to load playlist: %v", err)
			return
		}
		if len(locators) == 0 {
			replyEphemeral(event, fmt.Sprintf(MsgMusicPlaylistGone, name))
			return
		}

		guildID := *event.GuildID()
		voiceChannelID, ok := userVoiceChannel(event.Client(), guildID, userID)
		if !ok {
			replyEphemeral(event, MsgMusicNotInVoice)
			return
		}

		_ = event.DeferCreateMessage(false)

		player, err := GetPlayerRegistry().GetOrCreate(guildID, func() (*Player, error) {
			transport, err := NewVoiceTransport(AppContext, event.Client(), guildID, voiceChannelID)
			if err != nil {
				return nil, err
			}
			notifier := NewChannelNotifier(event.Client(), event.Channel().ID())
			return NewPlayer(guildID, voiceChannelID, event.Channel().ID(), transport, defaultResolver, notifier, GetPlayerRegistry()), nil
		})
		if err != nil {
			updateResponse(event.Client(), event.ApplicationID(), event.Token(), fmt.Sprintf(MsgMusicJoinFailed, err))
			return
		}

		user := event.User()
		tracks := make([]*Track, 0, len(locators))
		for _, loc := range locators {
			t := NewTrack(loc, user.ID, user.EffectiveName())
			t.PlaylistOrigin = name
			tracks = append(tracks, t)
		}
		player.Queue().Enqueue(tracks...)
		updateResponse(event.Client(), event.ApplicationID(), event.Token(),
			fmt.Sprintf(MsgMusicQueuedMany, len(tracks), name))

	case "delete":
		name := data.String("name")
		deleted, err := DeletePlaylist(ctx, userID, name)
		if err != nil {
			replyEphemeral(event, "Failed to delete playlist: %v", err)
			return
		}
		if !deleted {
			replyEphemeral(event, fmt.Sprintf(MsgMusicPlaylistGone, name))
			return
		}
		replyTransient(event, fmt.Sprintf(MsgMusicPlaylistDel, name))

	case "list":
		names, err := ListPlaylists(ctx, userID)
		if err != nil {
			replyEphemeral(event, "Failed to list playlists: %v", err)
			return
		}
		if len(names) == 0 {
			replyEphemeral(event, MsgMusicPlaylistNone)
			return
		}
		var sb strings.Builder
		sb.WriteString("### Your playlists\n")
		for _, n := range names {
			sb.WriteString("- " + n + "\n")
		}
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().
			SetIsComponentsV2(true).
			SetEphemeral(true).
			AddComponents(discord.NewContainer(discord.NewTextDisplay(sb.String()))).
			Build())
	}
}

// ============================================================================
// Autocomplete
// ============================================================================

// handleMusicAutocomplete searches YouTube and YouTube Music concurrently and
// interleaves the results, URLs as values so selection skips a search hop.
func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name != "query" {
		return
	}
	q := strings.TrimSpace(f.String())
	if q == "" || strings.Contains(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2300*time.Millisecond)
	defer cancel()

	type searchResult struct {
		URL   string
		Title string
	}

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
		seen  = map[string]bool{}
		yt    []searchResult
		ytm   []searchResult
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		r, _ := s.Next()
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			art := ""
			if len(v.Artists) > 0 {
				art = " - " + v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, searchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: Truncate("[YTM] "+v.Title+art, 100)})
			}
			resMu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		r, _ := c.Search(ctx, q)
		for _, v := range r.Results {
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, searchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: Truncate("[YT] "+v.Title, 100)})
			}
			resMu.Unlock()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	resMu.Lock()
	defer resMu.Unlock()

	var cs []discord.AutocompleteChoice
	for i := 0; i < Max(len(yt), len(ytm)) && len(cs) < 25; i++ {
		if i < len(yt) {
			cs = append(cs, discord.AutocompleteChoiceString{Name: yt[i].Title, Value: yt[i].URL})
		}
		if i < len(ytm) && len(cs) < 25 {
			cs = append(cs, discord.AutocompleteChoiceString{Name: ytm[i].Title, Value: ytm[i].URL})
		}
	}
	_ = event.AutocompleteResult(cs)
}

// ============================================================================
// Components
// ============================================================================

func handleMusicComponent(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	action := strings.TrimPrefix(event.Data.CustomID(), "music:")

	player, ok := GetPlayerRegistry().Get(*event.GuildID())
	if !ok {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgMusicNoPlayer).SetEphemeral(true).Build())
		return
	}

	switch action {
	case "toggle":
		if player.IsPaused() {
			player.Resume()
		} else {
			player.Pause()
		}
		player.notifier.Refresh(player.IsPaused(), player.Queue().Looping())
		_ = event.DeferUpdateMessage()

	case "skip":
		if player.Queue().Current() == nil {
			_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgMusicNothingPlaying).SetEphemeral(true).Build())
			return
		}
		player.Skip()
		_ = event.DeferUpdateMessage()

	case "rewind":
		if err := player.Rewind(); err != nil {
			_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(err.Error()).SetEphemeral(true).Build())
			return
		}
		_ = event.DeferUpdateMessage()

	case "loop":
		looping := player.Queue().ToggleLoop()
		msg := MsgMusicLoopOff
		if looping {
			msg = MsgMusicLoopOn
		}
		player.notifier.Refresh(player.IsPaused(), looping)
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(msg).SetEphemeral(true).Build())

	case "shuffle":
		if err := player.Queue().Shuffle(); err != nil {
			_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(err.Error()).SetEphemeral(true).Build())
			return
		}
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgMusicShuffled).SetEphemeral(true).Build())

	case "queue":
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().
			SetIsComponentsV2(true).
			SetEphemeral(true).
			AddComponents(buildQueueContainer(player)).
			Build())

	case "addurl":
		_ = event.Modal(discord.ModalCreate{
			CustomID: "music:addurl",
			Title:    "Add track by URL",
			Components: []discord.LayoutComponent{
				discord.NewActionRow(
					discord.NewTextInput("url", discord.TextInputStyleShort, "URL").
						WithRequired(true).
						WithPlaceholder("https://..."),
				),
			},
		})

	case "remove":
		values := event.StringSelectMenuInteractionData().Values
		if len(values) == 0 {
			return
		}
		index, err := strconv.Atoi(values[0])
		if err != nil {
			return
		}
		removed, rmErr := player.Queue().RemoveAt(index)
		if rmErr != nil {
			_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(rmErr.Error()).SetEphemeral(true).Build())
			return
		}
		_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true).
			SetComponents(buildQueueContainer(player)).
			Build())
		notifyTransient(event.Client(), player.TextChannelID, fmt.Sprintf(MsgMusicRemoved, removed.DisplayTitle()))

	case "clear":
		n := player.Queue().Clear()
		_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true).
			SetComponents(buildQueueContainer(player)).
			Build())
		notifyTransient(event.Client(), player.TextChannelID, fmt.Sprintf(MsgMusicCleared, n))

	case "stop":
		player.Stop()
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgMusicStopped).SetEphemeral(true).Build())
	}
}

func handleAddURLModal(event *events.ModalSubmitInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	player, ok := GetPlayerRegistry().Get(*event.GuildID())
	if !ok {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgMusicNoPlayer).SetEphemeral(true).Build())
		return
	}

	rawURL := strings.TrimSpace(event.Data.Text("url"))
	if !IsURL(rawURL) {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent("That doesn't look like a URL.").SetEphemeral(true).Build())
		return
	}

	_ = event.DeferCreateMessage(true)

	tracks, err := defaultResolver.Resolve(AppContext, rawURL, SourceYouTube)
	if err != nil {
		updateResponse(event.Client(), event.ApplicationID(), event.Token(), fmt.Sprintf(MsgMusicResolveFailed, Truncate(rawURL, 80), err))
		return
	}
	user := event.User()
	for _, t := range tracks {
		t.RequesterID = user.ID
		t.RequesterName = user.EffectiveName()
	}
	player.Queue().Enqueue(tracks...)

	msg := fmt.Sprintf(MsgMusicQueuedOne, tracks[0].DisplayTitle(), tracks[0].FormatDuration())
	if len(tracks) > 1 {
		msg = fmt.Sprintf(MsgMusicQueuedMany, len(tracks), Truncate(rawURL, 60))
	}
	updateResponse(event.Client(), event.ApplicationID(), event.Token(), msg)
}

// onMusicVoiceStateUpdate destroys the player if the bot is forcibly moved
// out of its channel.
func onMusicVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != event.Client().ID() {
		return
	}
	player, ok := GetPlayerRegistry().Get(event.VoiceState.GuildID)
	if !ok {
		return
	}
	if event.VoiceState.ChannelID == nil {
		player.Destroy("disconnected")
	}
}

// ============================================================================
// Views
// ============================================================================

func buildQueueContainer(player *Player) discord.ContainerComponent {
	current, pending, _, looping := player.Queue().Snapshot()

	var sb strings.Builder
	sb.WriteString("### Queue\n")
	if current != nil {
		loopMark := ""
		if looping {
			loopMark = " 🔁"
		}
		sb.WriteString(fmt.Sprintf("**Now:** %s `[%s]`%s\n\n", current.DisplayTitle(), current.FormatDuration(), loopMark))
	}
	if len(pending) == 0 {
		sb.WriteString(MsgMusicQueueEmpty)
	} else {
		for i, t := range pending {
			if i >= 10 {
				sb.WriteString(fmt.Sprintf("...and %d more\n", len(pending)-10))
				break
			}
			sb.WriteString(fmt.Sprintf("%d. %s `[%s]`\n", i+1, t.DisplayTitle(), t.FormatDuration()))
		}
	}

	components := []discord.ContainerSubComponent{
		discord.NewTextDisplay(sb.String()),
		discord.NewActionRow(
			discord.NewButton(discord.ButtonStyleSecondary, "Add by URL", "music:addurl", "", 0),
			discord.NewButton(discord.ButtonStyleDanger, "Clear", "music:clear", "", 0).WithDisabled(len(pending) == 0),
		),
	}

	if len(pending) > 0 {
		var opts []discord.StringSelectMenuOption
		for i, t := range pending {
			if i >= 25 {
				break
			}
			opts = append(opts, discord.NewStringSelectMenuOption(Truncate(fmt.Sprintf("%d. %s", i+1, t.DisplayTitle()), 100), strconv.Itoa(i)).
				WithDescription(Truncate("requested by "+t.RequesterName, 100)))
		}
		components = append(components, discord.NewActionRow(
			discord.NewStringSelectMenu("music:remove", "Remove a track...", opts...),
		))
	}

	return discord.NewContainer(components...)
}

func buildNowPlayingComponents(track *Track, paused, looping bool) []discord.LayoutComponent {
	var sb strings.Builder
	sb.WriteString("### Now Playing\n")
	sb.WriteString(fmt.Sprintf("**%s** `[%s]`\n", track.DisplayTitle(), track.FormatDuration()))
	if track.PlaylistOrigin != "" {
		sb.WriteString(fmt.Sprintf("-# from %s\n", track.PlaylistOrigin))
	}
	if track.RequesterName != "" {
		sb.WriteString(fmt.Sprintf("-# requested by %s\n", track.RequesterName))
	}

	toggleLabel := "⏸ Pause"
	if paused {
		toggleLabel = "▶ Resume"
	}
	loopStyle := discord.ButtonStyleSecondary
	if looping {
		loopStyle = discord.ButtonStyleSuccess
	}

	inner := []discord.ContainerSubComponent{
		discord.NewTextDisplay(sb.String()),
	}
	if track.ThumbnailURL != "" {
		inner = append(inner, discord.NewMediaGallery(
			discord.MediaGalleryItem{Media: discord.UnfurledMediaItem{URL: track.ThumbnailURL}},
		))
	}
	inner = append(inner,
		discord.NewActionRow(
			discord.NewButton(discord.ButtonStyleSecondary, "⏮", "music:rewind", "", 0),
			discord.NewButton(discord.ButtonStylePrimary, toggleLabel, "music:toggle", "", 0),
			discord.NewButton(discord.ButtonStyleSecondary, "⏭", "music:skip", "", 0),
			discord.NewButton(loopStyle, "🔁", "music:loop", "", 0),
			discord.NewButton(discord.ButtonStyleSecondary, "🔀", "music:shuffle", "", 0),
		),
		discord.NewActionRow(
			discord.NewButton(discord.ButtonStyleSecondary, "📜 Queue", "music:queue", "", 0),
			discord.NewButton(discord.ButtonStyleDanger, "⏹ Stop", "music:stop", "", 0),
		),
	)

	return []discord.LayoutComponent{discord.NewContainer(inner...)}
}

// ============================================================================
// Notifier
// ============================================================================

// ChannelNotifier posts player announcements into the invoking text channel.
// It owns a single live now-playing message, replaced on every track change.
type ChannelNotifier struct {
	client    *bot.Client
	channelID snowflake.ID

	mu            sync.Mutex
	liveMessageID snowflake.ID
	lastTrack     *Track
}

func NewChannelNotifier(client *bot.Client, channelID snowflake.ID) *ChannelNotifier {
	return &ChannelNotifier{client: client, channelID: channelID}
}

func (n *ChannelNotifier) NowPlaying(track *Track, info *StreamInfo, paused, looping bool) {
	n.mu.Lock()
	old := n.liveMessageID
	n.liveMessageID = 0
	n.lastTrack = track
	n.mu.Unlock()

	if old != 0 {
		_ = n.client.Rest.DeleteMessage(n.channelID, old)
	}

	msg, err := n.client.Rest.CreateMessage(n.channelID, discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(buildNowPlayingComponents(track, paused, looping)...).
		Build())
	if err != nil {
		LogMusic("Failed to post now-playing message in %s: %v", n.channelID, err)
		return
	}

	n.mu.Lock()
	n.liveMessageID = msg.ID
	n.mu.Unlock()
}

// Refresh redraws the live message after a state change like pause or loop.
func (n *ChannelNotifier) Refresh(paused, looping bool) {
	n.mu.Lock()
	id := n.liveMessageID
	track := n.lastTrack
	n.mu.Unlock()

	if id == 0 || track == nil {
		return
	}
	_, err := n.client.Rest.UpdateMessage(n.channelID, id, discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(buildNowPlayingComponents(track, paused, looping)...).
		Build())
	if err != nil {
		LogMusic("Failed to refresh now-playing message in %s: %v", n.channelID, err)
	}
}

func (n *ChannelNotifier) Warn(format string, v ...any) {
	notifyTransient(n.client, n.channelID, fmt.Sprintf(format, v...))
}

func (n *ChannelNotifier) Farewell(message string) {
	_, _ = n.client.Rest.CreateMessage(n.channelID, discord.NewMessageCreateBuilder().
		SetContent(message).
		Build())
}

func (n *ChannelNotifier) Cleanup() {
	n.mu.Lock()
	id := n.liveMessageID
	n.liveMessageID = 0
	n.lastTrack = nil
	n.mu.Unlock()

	if id != 0 {
		_ = n.client.Rest.DeleteMessage(n.channelID, id)
	}
}

// ============================================================================
// Reply Helpers
// ============================================================================

func replyEphemeral(event *events.ApplicationCommandInteractionCreate, format string, v ...any) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(fmt.Sprintf(format, v...)).
		SetEphemeral(true).
		Build())
}

// replyTransient posts a public confirmation that deletes itself shortly
// after, keeping the channel clean.
func replyTransient(event *events.ApplicationCommandInteractionCreate, content string) {
	err := event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(content).Build())
	if err != nil {
		return
	}
	client := event.Client()
	appID := event.ApplicationID()
	token := event.Token()
	time.AfterFunc(transientMessageTTL, func() {
		_ = client.Rest.DeleteInteractionResponse(appID, token)
	})
}

func notifyTransient(client *bot.Client, channelID snowflake.ID, content string) {
	msg, err := client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build())
	if err != nil {
		return
	}
	time.AfterFunc(transientMessageTTL, func() {
		_ = client.Rest.DeleteMessage(channelID, msg.ID)
	})
}

func updateResponse(client *bot.Client, appID snowflake.ID, token, content string) {
	_, _ = client.Rest.UpdateInteractionResponse(appID, token,
		discord.NewMessageUpdateBuilder().SetContent(content).Build())
}

func userVoiceChannel(client *bot.Client, guildID, userID snowflake.ID) (snowflake.ID, bool) {
	state, ok := client.Caches.VoiceState(guildID, userID)
	if !ok || state.ChannelID == nil {
		return 0, false
	}
	return *state.ChannelID, true
}
