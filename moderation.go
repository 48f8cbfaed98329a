package main

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/sho0pi/naturaltime"
)

// ============================================================================
// Moderation
// ============================================================================

const (
	MsgModParseDuration = "Could not parse that duration. Try formats like '10 minutes', '2 hours', '1 day'."
	MsgModDurationRange = "Timeout must be between 1 minute and 28 days."
	MsgModSelfTarget    = "You cannot moderate yourself."
	MsgModBotTarget     = "Leave me out of this."
	MsgModPurgeRange    = "Count must be between 1 and 100."
	MsgModNothingPurged = "No messages young enough to delete. Bulk deletion only works on messages under two weeks old."
	MsgModDMNotice      = "You were %s in **%s**. Reason: %s"

	maxTimeout = 28 * 24 * time.Hour
)

var durationParser *naturaltime.Parser

func init() {
	var err error
	durationParser, err = naturaltime.New()
	if err != nil {
		LogFatal("Failed to initialize naturaltime parser: %v", err)
	}

	banPerm := discord.PermissionBanMembers
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "ban",
		Description:              "Ban a member",
		DefaultMemberPermissions: omit.New(&banPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionUser{Name: "user", Description: "Member to ban", Required: true},
			discord.ApplicationCommandOptionString{Name: "reason", Description: "Why", Required: false},
			discord.ApplicationCommandOptionInt{Name: "delete_days", Description: "Days of messages to delete (0-7)", Required: false},
		},
	}, handleBan)

	kickPerm := discord.PermissionKickMembers
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "kick",
		Description:              "Kick a member",
		DefaultMemberPermissions: omit.New(&kickPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionUser{Name: "user", Description: "Member to kick", Required: true},
			discord.ApplicationCommandOptionString{Name: "reason", Description: "Why", Required: false},
		},
	}, handleKick)

	mutePerm := discord.PermissionModerateMembers
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "mute",
		Description:              "Time a member out",
		DefaultMemberPermissions: omit.New(&mutePerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionUser{Name: "user", Description: "Member to mute", Required: true},
			discord.ApplicationCommandOptionString{Name: "duration", Description: "How long, e.g. '10 minutes' or '1 day'", Required: true},
			discord.ApplicationCommandOptionString{Name: "reason", Description: "Why", Required: false},
		},
	}, handleMute)

	unmutePerm := discord.PermissionModerateMembers
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "unmute",
		Description:              "Lift a member's timeout",
		DefaultMemberPermissions: omit.New(&unmutePerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionUser{Name: "user", Description: "Member to unmute", Required: true},
		},
	}, handleUnmute)

	purgePerm := discord.PermissionManageMessages
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "purge",
		Description:              "Bulk delete recent messages in this channel",
		DefaultMemberPermissions: omit.New(&purgePerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionInt{Name: "count", Description: "How many messages (1-100)", Required: true},
		},
	}, handlePurge)
}

// checkModTarget rejects self-moderation and attempts on the bot itself.
func checkModTarget(event *events.ApplicationCommandInteractionCreate, target discord.User) bool {
	if target.ID == event.User().ID {
		replyEphemeral(event, MsgModSelfTarget)
		return false
	}
	if target.ID == event.Client().ApplicationID {
		replyEphemeral(event, MsgModBotTarget)
		return false
	}
	return true
}

// notifyTarget DMs the member about the action taken. Closed DMs are common,
// so failures are ignored.
func notifyTarget(event *events.ApplicationCommandInteractionCreate, target discord.User, action, reason string) {
	client := event.Client()
	guildName := "this server"
	if g, ok := client.Caches.Guild(*event.GuildID()); ok {
		guildName = g.Name
	}
	if reason == "" {
		reason = "none given"
	}
	ch, err := client.Rest.CreateDMChannel(target.ID)
	if err != nil {
		return
	}
	_, _ = client.Rest.CreateMessage(ch.ID(), discord.NewMessageCreateBuilder().
		SetContent(fmt.Sprintf(MsgModDMNotice, action, guildName, reason)).
		Build())
}

func handleBan(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	target := data.User("user")
	if !checkModTarget(event, target) {
		return
	}
	reason := data.String("reason")
	deleteDays, _ := data.OptInt("delete_days")
	deleteDays = Min(Max(deleteDays, 0), 7)

	notifyTarget(event, target, "banned", reason)

	err := event.Client().Rest.AddBan(*event.GuildID(), target.ID,
		time.Duration(deleteDays)*24*time.Hour, rest.WithReason(reason))
	if err != nil {
		replyEphemeral(event, "Failed to ban: %v", err)
		return
	}
	LogMod("Banned %s in guild %s (%s)", target.ID, *event.GuildID(), reason)
	replyEphemeral(event, "🔨 Banned **%s**.", target.EffectiveName())
}

func handleKick(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	target := data.User("user")
	if !checkModTarget(event, target) {
		return
	}
	reason := data.String("reason")

	notifyTarget(event, target, "kicked", reason)

	err := event.Client().Rest.RemoveMember(*event.GuildID(), target.ID, rest.WithReason(reason))
	if err != nil {
		replyEphemeral(event, "Failed to kick: %v", err)
		return
	}
	LogMod("Kicked %s from guild %s (%s)", target.ID, *event.GuildID(), reason)
	replyEphemeral(event, "👢 Kicked **%s**.", target.EffectiveName())
}

// parseTimeoutDuration turns natural language into a duration bounded by
// Discord's timeout limits.
func parseTimeoutDuration(input string) (time.Duration, error) {
	now := time.Now()
	until, err := durationParser.ParseDate(input, now)
	if err != nil || until == nil {
		d, derr := time.ParseDuration(input)
		if derr != nil {
			return 0, NewUserInputError(MsgModParseDuration)
		}
		end := now.Add(d)
		until = &end
	}
	d := until.Sub(now)
	if d < time.Minute || d > maxTimeout {
		return 0, NewUserInputError(MsgModDurationRange)
	}
	return d, nil
}

func handleMute(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	target := data.User("user")
	if !checkModTarget(event, target) {
		return
	}
	reason := data.String("reason")

	d, err := parseTimeoutDuration(data.String("duration"))
	if err != nil {
		replyEphemeral(event, "%v", err)
		return
	}
	until := time.Now().Add(d)

	_, err = event.Client().Rest.UpdateMember(*event.GuildID(), target.ID, discord.MemberUpdate{
		CommunicationDisabledUntil: omit.New(&until),
	}, rest.WithReason(reason))
	if err != nil {
		replyEphemeral(event, "Failed to mute: %v", err)
		return
	}

	notifyTarget(event, target, fmt.Sprintf("muted for %s", d.Round(time.Second)), reason)
	LogMod("Muted %s in guild %s for %s (%s)", target.ID, *event.GuildID(), d, reason)
	replyEphemeral(event, "🔇 Muted **%s** until <t:%d:f>.", target.EffectiveName(), until.Unix())
}

func handleUnmute(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	target := data.User("user")

	_, err := event.Client().Rest.UpdateMember(*event.GuildID(), target.ID, discord.MemberUpdate{
		CommunicationDisabledUntil: omit.New[*time.Time](nil),
	})
	if err != nil {
		replyEphemeral(event, "Failed to unmute: %v", err)
		return
	}
	LogMod("Unmuted %s in guild %s", target.ID, *event.GuildID())
	replyEphemeral(event, "🔊 Unmuted **%s**.", target.EffectiveName())
}

func handlePurge(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	count := data.Int("count")
	if count < 1 || count > 100 {
		replyEphemeral(event, MsgModPurgeRange)
		return
	}

	client := event.Client()
	channelID := event.Channel().ID()
	_ = event.DeferCreateMessage(true)

	msgs, err := client.Rest.GetMessages(channelID, 0, 0, 0, count)
	if err != nil {
		updateResponse(client, event.ApplicationID(), event.Token(), fmt.Sprintf("Failed to fetch messages: %v", err))
		return
	}

	// Discord refuses bulk deletion of messages older than two weeks.
	cutoff := time.Now().Add(-14 * 24 * time.Hour)
	ids := make([]snowflake.ID, 0, len(msgs))
	for _, m := range msgs {
		if m.ID.Time().After(cutoff) {
			ids = append(ids, m.ID)
		}
	}

	switch len(ids) {
	case 0:
		updateResponse(client, event.ApplicationID(), event.Token(), MsgModNothingPurged)
		return
	case 1:
		err = client.Rest.DeleteMessage(channelID, ids[0])
	default:
		err = client.Rest.BulkDeleteMessages(channelID, ids)
	}
	if err != nil {
		updateResponse(client, event.ApplicationID(), event.Token(), fmt.Sprintf("Failed to delete: %v", err))
		return
	}

	LogMod("Purged %d messages in channel %s", len(ids), channelID)
	updateResponse(client, event.ApplicationID(), event.Token(), fmt.Sprintf("🧹 Deleted %d messages.", len(ids)))
}
