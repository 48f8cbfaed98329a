package main

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/bot"
)

// ============================================================================
// Bot Stats
// ============================================================================

const (
	MsgStatsDaemonStart = "Stats daemon started"
	MsgStatsUpdated     = "Updated stats: %d servers, %d members"

	statsInterval = 5 * time.Minute
)

var statsClient *bot.Client

func init() {
	OnClientReady(func(ctx context.Context, client bot.Client) {
		statsClient = &client
	})
	RegisterDaemon(LogStats, startStatsDaemon)
}

// startStatsDaemon periodically snapshots guild and member totals into the
// database so external consumers can read them without touching the gateway.
func startStatsDaemon(ctx context.Context) (bool, func(), func()) {
	stop := make(chan struct{})

	run := func() {
		LogStats(MsgStatsDaemonStart)
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		tickStats()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				tickStats()
			}
		}
	}

	shutdown := func() {
		close(stop)
	}

	return true, run, shutdown
}

func tickStats() {
	if statsClient == nil {
		return
	}

	servers := 0
	members := 0
	for guild := range statsClient.Caches.Guilds() {
		servers++
		for range statsClient.Caches.Members(guild.ID) {
			members++
		}
	}

	if err := SaveBotStats(context.Background(), servers, members); err != nil {
		LogStats("Failed to save stats: %v", err)
		return
	}
	LogStats(MsgStatsUpdated, servers, members)
}
