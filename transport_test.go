package main

import (
	"testing"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

func TestCountsAsListener(t *testing.T) {
	channelID := snowflake.ID(10)
	otherChannel := snowflake.ID(11)
	botID := snowflake.ID(99)

	cases := []struct {
		name  string
		state discord.VoiceState
		want  bool
	}{
		{"member in channel", discord.VoiceState{ChannelID: &channelID, UserID: 1}, true},
		{"self-deafened member still counts", discord.VoiceState{ChannelID: &channelID, UserID: 2, SelfDeaf: true}, true},
		{"guild-deafened member still counts", discord.VoiceState{ChannelID: &channelID, UserID: 3, GuildDeaf: true}, true},
		{"member in another channel", discord.VoiceState{ChannelID: &otherChannel, UserID: 4}, false},
		{"disconnected member", discord.VoiceState{UserID: 5}, false},
		{"the bot itself", discord.VoiceState{ChannelID: &channelID, UserID: botID}, false},
	}
	for _, c := range cases {
		if got := countsAsListener(c.state, channelID, botID); got != c.want {
			t.Errorf("%s: countsAsListener = %v, want %v", c.name, got, c.want)
		}
	}
}
