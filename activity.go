package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

// ============================================================================
// Command Registration
// ============================================================================

func init() {
	RegisterCommand(discord.SlashCommandCreate{
		Name:        "leaderboard",
		Description: "Show the most active members",
	}, handleLeaderboard)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "profile",
		Description: "Show a member's activity profile",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionUser{
				Name:        "user",
				Description: "Whose profile to show (defaults to you)",
				Required:    false,
			},
		},
	}, handleProfile)

	adminPerm := discord.PermissionAdministrator
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "xp",
		Description:              "XP management (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "add",
				Description: "Give XP to a member",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{Name: "user", Description: "Target member", Required: true},
					discord.ApplicationCommandOptionInt{Name: "amount", Description: "XP to add", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Take XP from a member",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{Name: "user", Description: "Target member", Required: true},
					discord.ApplicationCommandOptionInt{Name: "amount", Description: "XP to remove", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "setlevel",
				Description: "Set a member's level directly",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{Name: "user", Description: "Target member", Required: true},
					discord.ApplicationCommandOptionInt{Name: "level", Description: "New level", Required: true},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "reset",
				Description: "Reset a member's activity record",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionUser{Name: "user", Description: "Target member", Required: true},
				},
			},
		},
	}, handleXPAdmin)

	RegisterMessageCreateHandler(onActivityMessage)
	RegisterMessageReactionAddHandler(onActivityReaction)
	RegisterComponentHandler("lb:", handleLeaderboardComponent)
	OnClientReady(func(ctx context.Context, client bot.Client) {
		activityClient = &client
	})
	RegisterDaemon(LogActivity, startVoiceXPDaemon)
}

const (
	MsgActivityLevelUp     = "🎉 <@%s> reached level **%d**!"
	MsgActivityNoRecords   = "No activity recorded yet."
	MsgActivityDaemonStart = "Voice XP daemon started"

	leaderboardPageSize = 10
)

var activityClient *bot.Client

// ============================================================================
// Level Curve
// ============================================================================

// XPForLevel returns the XP needed to climb from the given level to the next.
func XPForLevel(level int) int {
	return 5*level*level + 50*level + 100
}

// LevelFromXP converts a total XP amount into a level.
func LevelFromXP(xp int) int {
	level := 0
	for xp >= XPForLevel(level) {
		xp -= XPForLevel(level)
		level++
	}
	return level
}

// LevelProgress returns XP accumulated within the current level and the XP
// needed to finish it.
func LevelProgress(xp int) (into, needed int) {
	level := 0
	for xp >= XPForLevel(level) {
		xp -= XPForLevel(level)
		level++
	}
	return xp, XPForLevel(level)
}

// ============================================================================
// XP Events
// ============================================================================

// messageLimiters throttles message XP to once a minute per user, so
// flooding a channel does not farm levels.
var (
	messageLimiters   = map[snowflake.ID]*rate.Limiter{}
	messageLimitersMu sync.Mutex
)

func messageLimiter(userID snowflake.ID) *rate.Limiter {
	messageLimitersMu.Lock()
	defer messageLimitersMu.Unlock()
	l, ok := messageLimiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute), 1)
		messageLimiters[userID] = l
	}
	return l
}

func onActivityMessage(event *events.MessageCreate) {
	if event.Message.Author.Bot || event.GuildID == nil {
		return
	}
	if !messageLimiter(event.Message.Author.ID).Allow() {
		return
	}

	xp := 10
	if GlobalConfig != nil {
		xp = GlobalConfig.XPPerMessage
	}
	awardXP(*event.GuildID, event.Message.Author.ID, event.ChannelID, xp, true)
}

func onActivityReaction(event *events.MessageReactionAdd) {
	if event.GuildID == nil {
		return
	}
	if event.Member != nil && event.Member.User.Bot {
		return
	}

	xp := 2
	if GlobalConfig != nil {
		xp = GlobalConfig.XPPerReaction
	}
	awardXP(*event.GuildID, event.UserID, event.ChannelID, xp, false)
}

// awardXP applies an XP delta and announces a level-up in the channel the
// activity happened in.
func awardXP(guildID, userID, channelID snowflake.ID, xp int, countMessage bool) {
	ctx := context.Background()

	before, err := GetUser(ctx, guildID, userID)
	if err != nil {
		LogActivity("Failed to read user %s: %v", userID, err)
		return
	}
	after, err := AddUserXP(ctx, guildID, userID, xp, countMessage)
	if err != nil {
		LogActivity("Failed to award XP to %s: %v", userID, err)
		return
	}

	oldLevel := LevelFromXP(before.XP)
	newLevel := LevelFromXP(after.XP)
	if newLevel > oldLevel {
		_ = SetUserLevel(ctx, guildID, userID, newLevel)
		if activityClient != nil && channelID != 0 {
			_, _ = activityClient.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
				SetContent(fmt.Sprintf(MsgActivityLevelUp, userID, newLevel)).
				Build())
		}
	}
}

// startVoiceXPDaemon accrues XP for members sitting in voice channels, one
// tick per minute. Deafened members and bots earn nothing.
func startVoiceXPDaemon(ctx context.Context) (bool, func(), func()) {
	stop := make(chan struct{})

	run := func() {
		LogActivity(MsgActivityDaemonStart)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				tickVoiceXP()
			}
		}
	}

	shutdown := func() {
		close(stop)
	}

	return true, run, shutdown
}

func tickVoiceXP() {
	if activityClient == nil {
		return
	}
	xp := 5
	if GlobalConfig != nil {
		xp = GlobalConfig.XPVoicePerMin
	}
	ctx := context.Background()

	for guild := range activityClient.Caches.Guilds() {
		for state := range activityClient.Caches.VoiceStates(guild.ID) {
			if state.ChannelID == nil || state.SelfDeaf || state.GuildDeaf {
				continue
			}
			if m, ok := activityClient.Caches.Member(guild.ID, state.UserID); ok && m.User.Bot {
				continue
			}
			if err := AddUserVoiceMinutes(ctx, guild.ID, state.UserID, 1, xp); err != nil {
				LogActivity("Failed to accrue voice XP for %s: %v", state.UserID, err)
			}
		}
	}
}

// ============================================================================
// Commands
// ============================================================================

func handleLeaderboard(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	container, ok := buildLeaderboardContainer(*event.GuildID(), 0)
	if !ok {
		replyEphemeral(event, MsgActivityNoRecords)
		return
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(container).
		Build())
}

func buildLeaderboardContainer(guildID snowflake.ID, page int) (discord.ContainerComponent, bool) {
	ctx := context.Background()
	users, err := TopUsers(ctx, guildID, leaderboardPageSize, page*leaderboardPageSize)
	if err != nil || len(users) == 0 {
		return discord.ContainerComponent{}, false
	}
	total, _ := CountUsers(ctx, guildID)
	lastPage := 0
	if total > 0 {
		lastPage = (total - 1) / leaderboardPageSize
	}

	var sb strings.Builder
	sb.WriteString("### Leaderboard\n")
	for i, u := range users {
		rank := page*leaderboardPageSize + i + 1
		medal := fmt.Sprintf("%d.", rank)
		switch rank {
		case 1:
			medal = "🥇"
		case 2:
			medal = "🥈"
		case 3:
			medal = "🥉"
		}
		sb.WriteString(fmt.Sprintf("%s <@%s> — level %d (%d XP)\n", medal, u.UserID, LevelFromXP(u.XP), u.XP))
	}
	sb.WriteString(fmt.Sprintf("-# page %d/%d\n", page+1, lastPage+1))

	return discord.NewContainer(
		discord.NewTextDisplay(sb.String()),
		discord.NewActionRow(
			discord.NewButton(discord.ButtonStyleSecondary, "◀", fmt.Sprintf("lb:%d", page-1), "", 0).WithDisabled(page <= 0),
			discord.NewButton(discord.ButtonStyleSecondary, "▶", fmt.Sprintf("lb:%d", page+1), "", 0).WithDisabled(page >= lastPage),
		),
	), true
}

func handleLeaderboardComponent(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	page := Atoi(strings.TrimPrefix(event.Data.CustomID(), "lb:"))
	if page < 0 {
		page = 0
	}
	container, ok := buildLeaderboardContainer(*event.GuildID(), page)
	if !ok {
		_ = event.DeferUpdateMessage()
		return
	}
	_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(container).
		Build())
}

func handleProfile(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	target := event.User()
	if u, ok := data.OptUser("user"); ok {
		target = u
	}

	u, err := GetUser(context.Background(), *event.GuildID(), target.ID)
	if err != nil {
		replyEphemeral(event, "Failed to load profile: %v", err)
		return
	}

	into, needed := LevelProgress(u.XP)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### %s\n", target.EffectiveName()))
	sb.WriteString(fmt.Sprintf("**Level %d** — %d XP (%d/%d to next)\n", LevelFromXP(u.XP), u.XP, into, needed))
	sb.WriteString(fmt.Sprintf("-# %d messages, %d voice minutes\n", u.Messages, u.VoiceMinutes))

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(sb.String()))).
		Build())
}

func handleXPAdmin(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	ctx := context.Background()
	guildID := *event.GuildID()
	target := data.User("user")

	switch *data.SubCommandName {
	case "add":
		amount := data.Int("amount")
		after, err := AddUserXP(ctx, guildID, target.ID, amount, false)
		if err != nil {
			replyEphemeral(event, "Failed: %v", err)
			return
		}
		_ = SetUserLevel(ctx, guildID, target.ID, LevelFromXP(after.XP))
		replyEphemeral(event, "Added %d XP to %s (now %d).", amount, target.EffectiveName(), after.XP)

	case "remove":
		amount := data.Int("amount")
		after, err := AddUserXP(ctx, guildID, target.ID, -amount, false)
		if err != nil {
			replyEphemeral(event, "Failed: %v", err)
			return
		}
		_ = SetUserLevel(ctx, guildID, target.ID, LevelFromXP(after.XP))
		replyEphemeral(event, "Removed %d XP from %s (now %d).", amount, target.EffectiveName(), after.XP)

	case "setlevel":
		level := data.Int("level")
		if level < 0 {
			level = 0
		}
		if err := SetUserLevel(ctx, guildID, target.ID, level); err != nil {
			replyEphemeral(event, "Failed: %v", err)
			return
		}
		replyEphemeral(event, "Set %s to level %d.", target.EffectiveName(), level)

	case "reset":
		if err := ResetUser(ctx, guildID, target.ID); err != nil {
			replyEphemeral(event, "Failed: %v", err)
			return
		}
		replyEphemeral(event, "Reset activity record for %s.", target.EffectiveName())
	}
}
