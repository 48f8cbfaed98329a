package main

import (
	"context"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Temporary Voice Rooms
// ============================================================================

const (
	MsgVoiceRoomSetupDone = "Lobby set to <#%s>. Joining it now spawns a personal room."
	MsgVoiceRoomNotVoice  = "That channel is not a voice channel."

	voiceLobbyKey = "voice_lobby_id"
)

func init() {
	adminPerm := discord.PermissionAdministrator
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "voiceroom",
		Description:              "Temporary voice rooms (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "setup",
				Description: "Pick the lobby channel that spawns personal rooms",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionChannel{
						Name:        "lobby",
						Description: "Voice channel to use as the lobby",
						Required:    true,
						ChannelTypes: []discord.ChannelType{
							discord.ChannelTypeGuildVoice,
						},
					},
				},
			},
		},
	}, handleVoiceRoomSetup)

	RegisterVoiceStateUpdateHandler(onVoiceRoomStateUpdate)
}

func handleVoiceRoomSetup(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	lobby := data.Channel("lobby")
	if lobby.Type != discord.ChannelTypeGuildVoice {
		replyEphemeral(event, MsgVoiceRoomNotVoice)
		return
	}

	if err := SetGuildConfigValue(context.Background(), *event.GuildID(), voiceLobbyKey, lobby.ID.String()); err != nil {
		replyEphemeral(event, "Failed to save lobby: %v", err)
		return
	}
	LogVoiceRoom("Lobby for guild %s set to %s", *event.GuildID(), lobby.ID)
	replyEphemeral(event, MsgVoiceRoomSetupDone, lobby.ID)
}

// onVoiceRoomStateUpdate spawns a room when someone enters the lobby and
// reaps a room once its last occupant leaves.
func onVoiceRoomStateUpdate(event *events.GuildVoiceStateUpdate) {
	client := event.Client()
	guildID := event.VoiceState.GuildID
	userID := event.VoiceState.UserID

	if userID == client.ApplicationID {
		return
	}

	if event.VoiceState.ChannelID != nil {
		lobbyID := lobbyChannel(guildID)
		if lobbyID != 0 && *event.VoiceState.ChannelID == lobbyID {
			spawnVoiceRoom(client, guildID, userID, lobbyID)
		}
	}

	if event.OldVoiceState.ChannelID != nil {
		reapVoiceRoom(client, guildID, *event.OldVoiceState.ChannelID)
	}
}

func lobbyChannel(guildID snowflake.ID) snowflake.ID {
	v, err := GetGuildConfigValue(context.Background(), guildID, voiceLobbyKey)
	if err != nil || v == "" {
		return 0
	}
	id, err := snowflake.Parse(v)
	if err != nil {
		return 0
	}
	return id
}

func spawnVoiceRoom(client *bot.Client, guildID, userID, lobbyID snowflake.ID) {
	ctx := context.Background()

	name := "Personal Room"
	if member, ok := client.Caches.Member(guildID, userID); ok {
		name = member.EffectiveName() + "'s Room"
	}

	create := discord.GuildVoiceChannelCreate{
		Name: name,
		PermissionOverwrites: []discord.PermissionOverwrite{
			discord.MemberPermissionOverwrite{
				UserID: userID,
				Allow:  discord.PermissionConnect | discord.PermissionViewChannel | discord.PermissionManageChannels,
			},
		},
	}
	// Keep the room next to the lobby when the lobby sits in a category.
	if lobby, ok := client.Caches.Channel(lobbyID); ok && lobby.ParentID() != nil {
		create.ParentID = *lobby.ParentID()
	}

	room, err := client.Rest.CreateGuildChannel(guildID, create)
	if err != nil {
		LogVoiceRoom("Failed to create room for %s: %v", userID, err)
		return
	}

	if err := AddVoiceRoom(ctx, room.ID(), guildID, userID); err != nil {
		LogVoiceRoom("Failed to record room %s: %v", room.ID(), err)
	}

	roomID := room.ID()
	if _, err := client.Rest.UpdateMember(guildID, userID, discord.MemberUpdate{
		ChannelID: omit.New(&roomID),
	}); err != nil {
		// Could not move them in; a room nobody entered would leak, so undo.
		LogVoiceRoom("Failed to move %s into room %s: %v", userID, roomID, err)
		_ = client.Rest.DeleteChannel(roomID)
		_ = RemoveVoiceRoom(ctx, roomID)
		return
	}
	LogVoiceRoom("Spawned room %s for %s in guild %s", roomID, userID, guildID)
}

func reapVoiceRoom(client *bot.Client, guildID, channelID snowflake.ID) {
	ctx := context.Background()

	isRoom, err := IsVoiceRoom(ctx, channelID)
	if err != nil || !isRoom {
		return
	}
	for state := range client.Caches.VoiceStates(guildID) {
		if state.ChannelID != nil && *state.ChannelID == channelID {
			return
		}
	}

	if err := client.Rest.DeleteChannel(channelID); err != nil {
		LogVoiceRoom("Failed to delete room %s: %v", channelID, err)
	}
	if err := RemoveVoiceRoom(ctx, channelID); err != nil {
		LogVoiceRoom("Failed to clear room row %s: %v", channelID, err)
	}
	LogVoiceRoom("Reaped empty room %s in guild %s", channelID, guildID)
}
