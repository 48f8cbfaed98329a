package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"golang.org/x/time/rate"
)

// ============================================================================
// Memes
// ============================================================================

const (
	MsgMemeFetchFailed = "Could not fetch a meme. Try again later."
	MsgMemeEmpty       = "Got an empty meme back :("
	MsgMemeRateLimited = "Easy there, one meme at a time. Try again in a moment."

	memeAPIURL = "https://meme-api.com/gimme/memes"
)

// memeLimiter keeps the bot from hammering the public API across all guilds.
var memeLimiter = rate.NewLimiter(rate.Every(2*time.Second), 3)

var memeHTTPClient = &http.Client{Timeout: 10 * time.Second}

func init() {
	RegisterCommand(discord.SlashCommandCreate{
		Name:        "meme",
		Description: "Fetch a random meme from Reddit",
	}, handleMeme)
}

type memeResponse struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	PostLink  string `json:"postLink"`
	Subreddit string `json:"subreddit"`
	Ups       int    `json:"ups"`
}

func handleMeme(event *events.ApplicationCommandInteractionCreate) {
	if !memeLimiter.Allow() {
		replyEphemeral(event, MsgMemeRateLimited)
		return
	}

	client := event.Client()
	_ = event.DeferCreateMessage(false)

	meme, err := fetchMeme()
	if err != nil {
		updateResponse(client, event.ApplicationID(), event.Token(), MsgMemeFetchFailed)
		return
	}
	if meme.URL == "" {
		updateResponse(client, event.ApplicationID(), event.Token(), MsgMemeEmpty)
		return
	}

	title := meme.Title
	if title == "" {
		title = "Random Meme"
	}

	_, _ = client.Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true).
			SetComponents(discord.NewContainer(
				discord.NewTextDisplay(fmt.Sprintf("### [%s](%s)", title, meme.PostLink)),
				discord.NewMediaGallery(discord.MediaGalleryItem{
					Media: discord.UnfurledMediaItem{URL: meme.URL},
				}),
				discord.NewTextDisplay(fmt.Sprintf("-# 👍 %d | r/%s", meme.Ups, meme.Subreddit)),
			)).
			Build())
}

func fetchMeme() (*memeResponse, error) {
	resp, err := memeHTTPClient.Get(memeAPIURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meme api returned %d", resp.StatusCode)
	}

	var meme memeResponse
	if err := json.NewDecoder(resp.Body).Decode(&meme); err != nil {
		return nil, err
	}
	return &meme, nil
}
