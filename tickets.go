package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Tickets
// ============================================================================

const (
	MsgTicketPanelTitle   = "### 🎫 Support Tickets\nPress the button below to open a private ticket with the moderators."
	MsgTicketAlreadyOpen  = "You already have an open ticket: <#%s>"
	MsgTicketCreated      = "Ticket created: <#%s>"
	MsgTicketCreateFailed = "Failed to create the ticket: %v"
	MsgTicketWelcome      = "### Ticket opened\nHi <@%s>! Describe your issue, a moderator will be with you shortly.\n-# Subject: %s"
	MsgTicketNotATicket   = "This channel is not a ticket."

	ticketCategoryKey = "ticket_category_id"
)

func init() {
	adminPerm := discord.PermissionAdministrator
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "ticket",
		Description:              "Ticket system (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "panel",
				Description: "Post the open-ticket panel in this channel",
			},
		},
	}, handleTicket)

	RegisterComponentHandler("ticket:", handleTicketComponent)
	RegisterModalHandler("ticket:subject", handleTicketSubjectModal)
}

func handleTicket(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyEphemeral(event, MsgMusicGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || *data.SubCommandName != "panel" {
		return
	}

	_, err := event.Client().Rest.CreateMessage(event.Channel().ID(), discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(
			discord.NewTextDisplay(MsgTicketPanelTitle),
			discord.NewActionRow(
				discord.NewButton(discord.ButtonStylePrimary, "🎫 Open Ticket", "ticket:open", "", 0),
			),
		)).
		Build())
	if err != nil {
		replyEphemeral(event, "Failed to post the panel: %v", err)
		return
	}
	replyEphemeral(event, "Panel posted.")
}

func handleTicketComponent(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	switch strings.TrimPrefix(event.Data.CustomID(), "ticket:") {
	case "open":
		// Enforce the one-open-ticket cap before asking for a subject. A row
		// whose channel was deleted by hand no longer counts.
		if chID, ok := existingTicket(event.Client(), *event.GuildID(), event.User().ID); ok {
			_ = event.CreateMessage(discord.NewMessageCreateBuilder().
				SetContent(fmt.Sprintf(MsgTicketAlreadyOpen, chID)).
				SetEphemeral(true).
				Build())
			return
		}
		_ = event.Modal(discord.ModalCreate{
			CustomID: "ticket:subject",
			Title:    "Open a ticket",
			Components: []discord.LayoutComponent{
				discord.NewActionRow(
					discord.NewTextInput("subject", discord.TextInputStyleShort, "Subject").
						WithRequired(true).
						WithPlaceholder("What do you need help with?"),
				),
			},
		})

	case "close":
		closeTicket(event)
	}
}

// existingTicket reports the user's open ticket channel, pruning the record
// when the channel no longer exists.
func existingTicket(client *bot.Client, guildID, userID snowflake.ID) (snowflake.ID, bool) {
	ctx := context.Background()
	chID, err := GetOpenTicketChannel(ctx, guildID, userID)
	if err != nil || chID == 0 {
		return 0, false
	}
	if _, found := client.Caches.Channel(chID); !found {
		_ = DeleteTicket(ctx, chID)
		return 0, false
	}
	return chID, true
}

func handleTicketSubjectModal(event *events.ModalSubmitInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	client := event.Client()
	guildID := *event.GuildID()
	user := event.User()
	subject := event.Data.Text("subject")

	_ = event.DeferCreateMessage(true)

	ch, err := createTicketChannel(client, guildID, user, subject)
	if err != nil {
		updateResponse(client, event.ApplicationID(), event.Token(), fmt.Sprintf(MsgTicketCreateFailed, err))
		return
	}

	if err := CreateTicket(context.Background(), ch, guildID, user.ID, subject); err != nil {
		LogTicket("Failed to record ticket %s: %v", ch, err)
	}

	_, _ = client.Rest.CreateMessage(ch, discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(
			discord.NewTextDisplay(fmt.Sprintf(MsgTicketWelcome, user.ID, subject)),
			discord.NewActionRow(
				discord.NewButton(discord.ButtonStyleDanger, "🔒 Close", "ticket:close", "", 0),
			),
		)).
		Build())

	LogTicket("Opened ticket %s for %s in guild %s", ch, user.ID, guildID)
	updateResponse(client, event.ApplicationID(), event.Token(), fmt.Sprintf(MsgTicketCreated, ch))
}

// createTicketChannel makes the private text channel under the ticket
// category, creating and remembering the category on first use.
func createTicketChannel(client *bot.Client, guildID snowflake.ID, user discord.User, subject string) (snowflake.ID, error) {
	ctx := context.Background()

	categoryID := snowflake.ID(0)
	if v, _ := GetGuildConfigValue(ctx, guildID, ticketCategoryKey); v != "" {
		id, err := snowflake.Parse(v)
		if err == nil {
			if _, found := client.Caches.Channel(id); found {
				categoryID = id
			}
		}
	}
	if categoryID == 0 {
		cat, err := client.Rest.CreateGuildChannel(guildID, discord.GuildCategoryChannelCreate{
			Name: "Tickets",
			PermissionOverwrites: []discord.PermissionOverwrite{
				discord.RolePermissionOverwrite{RoleID: guildID, Deny: discord.PermissionViewChannel},
			},
		})
		if err != nil {
			return 0, err
		}
		categoryID = cat.ID()
		_ = SetGuildConfigValue(ctx, guildID, ticketCategoryKey, categoryID.String())
	}

	name := "ticket-" + strings.ToLower(user.Username)
	ch, err := client.Rest.CreateGuildChannel(guildID, discord.GuildTextChannelCreate{
		Name:     name,
		Topic:    subject,
		ParentID: categoryID,
		PermissionOverwrites: []discord.PermissionOverwrite{
			discord.RolePermissionOverwrite{RoleID: guildID, Deny: discord.PermissionViewChannel},
			discord.MemberPermissionOverwrite{
				UserID: user.ID,
				Allow:  discord.PermissionViewChannel | discord.PermissionSendMessages | discord.PermissionAttachFiles,
			},
			discord.MemberPermissionOverwrite{
				UserID: client.ApplicationID,
				Allow:  discord.PermissionViewChannel | discord.PermissionSendMessages | discord.PermissionManageChannels,
			},
		},
	})
	if err != nil {
		return 0, err
	}
	return ch.ID(), nil
}

func closeTicket(event *events.ComponentInteractionCreate) {
	ctx := context.Background()
	channelID := event.Channel().ID()

	if owner, err := GetTicketOwner(ctx, channelID); err != nil || owner == 0 {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent(MsgTicketNotATicket).
			SetEphemeral(true).
			Build())
		return
	}

	_ = event.DeferUpdateMessage()
	if err := DeleteTicket(ctx, channelID); err != nil {
		LogTicket("Failed to clear ticket row %s: %v", channelID, err)
	}
	if err := event.Client().Rest.DeleteChannel(channelID); err != nil {
		LogTicket("Failed to delete ticket channel %s: %v", channelID, err)
	}
	LogTicket("Closed ticket %s by %s", channelID, event.User().ID)
}
