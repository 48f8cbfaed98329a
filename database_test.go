package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func setupTestDB(t *testing.T) context.Context {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()
	if err := InitDatabase(ctx, dbPath); err != nil {
		t.Fatalf("InitDatabase: %v", err)
	}
	t.Cleanup(CloseDatabase)
	return ctx
}

func TestAddUserXP(t *testing.T) {
	ctx := setupTestDB(t)

	u, err := AddUserXP(ctx, 1, 2, 50, true)
	if err != nil {
		t.Fatalf("AddUserXP: %v", err)
	}
	if u.XP != 50 || u.Messages != 1 {
		t.Fatalf("got xp=%d messages=%d, want 50/1", u.XP, u.Messages)
	}

	u, err = AddUserXP(ctx, 1, 2, 25, false)
	if err != nil {
		t.Fatalf("AddUserXP: %v", err)
	}
	if u.XP != 75 || u.Messages != 1 {
		t.Fatalf("got xp=%d messages=%d, want 75/1", u.XP, u.Messages)
	}

	// Negative deltas apply but never push below zero.
	u, _ = AddUserXP(ctx, 1, 2, -30, false)
	if u.XP != 45 {
		t.Fatalf("xp = %d after removal, want 45", u.XP)
	}
	u, _ = AddUserXP(ctx, 1, 2, -1000, false)
	if u.XP != 0 {
		t.Fatalf("xp = %d, want clamp at 0", u.XP)
	}
}

func TestGetUserUnknownReturnsZeroRecord(t *testing.T) {
	ctx := setupTestDB(t)

	u, err := GetUser(ctx, 1, 999)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.XP != 0 || u.Level != 0 || u.Messages != 0 {
		t.Fatalf("unknown user record not zeroed: %+v", u)
	}
}

func TestTopUsersOrdering(t *testing.T) {
	ctx := setupTestDB(t)

	for i, xp := range []int{30, 100, 60} {
		if _, err := AddUserXP(ctx, 1, snowflake.ID(10+i), xp, false); err != nil {
			t.Fatalf("AddUserXP: %v", err)
		}
	}
	// A user in another guild must not leak into the board.
	_, _ = AddUserXP(ctx, 2, 99, 500, false)

	top, err := TopUsers(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("TopUsers returned %d, want 3", len(top))
	}
	if top[0].XP != 100 || top[1].XP != 60 || top[2].XP != 30 {
		t.Fatalf("wrong ordering: %d %d %d", top[0].XP, top[1].XP, top[2].XP)
	}

	n, err := CountUsers(ctx, 1)
	if err != nil || n != 3 {
		t.Fatalf("CountUsers = %d (%v), want 3", n, err)
	}
}

func TestPlaylistRoundTrip(t *testing.T) {
	ctx := setupTestDB(t)

	locators := []string{"https://example.com/a", "https://example.com/b"}
	if err := SavePlaylist(ctx, 7, "chill", locators); err != nil {
		t.Fatalf("SavePlaylist: %v", err)
	}

	got, err := LoadPlaylist(ctx, 7, "chill")
	if err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	if len(got) != 2 || got[0] != locators[0] || got[1] != locators[1] {
		t.Fatalf("LoadPlaylist = %v", got)
	}

	// Saving under the same name replaces, not appends.
	if err := SavePlaylist(ctx, 7, "chill", locators[:1]); err != nil {
		t.Fatalf("SavePlaylist overwrite: %v", err)
	}
	got, _ = LoadPlaylist(ctx, 7, "chill")
	if len(got) != 1 {
		t.Fatalf("overwritten playlist has %d entries, want 1", len(got))
	}

	names, err := ListPlaylists(ctx, 7)
	if err != nil || len(names) != 1 || names[0] != "chill" {
		t.Fatalf("ListPlaylists = %v (%v)", names, err)
	}

	deleted, err := DeletePlaylist(ctx, 7, "chill")
	if err != nil || !deleted {
		t.Fatalf("DeletePlaylist = %v (%v)", deleted, err)
	}
	deleted, _ = DeletePlaylist(ctx, 7, "chill")
	if deleted {
		t.Fatal("deleting a missing playlist reported success")
	}
}

func TestTicketLifecycle(t *testing.T) {
	ctx := setupTestDB(t)

	if err := CreateTicket(ctx, 100, 1, 2, "no audio"); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	chID, err := GetOpenTicketChannel(ctx, 1, 2)
	if err != nil || chID != 100 {
		t.Fatalf("GetOpenTicketChannel = %v (%v), want 100", chID, err)
	}
	owner, err := GetTicketOwner(ctx, 100)
	if err != nil || owner != 2 {
		t.Fatalf("GetTicketOwner = %v (%v), want 2", owner, err)
	}

	if err := DeleteTicket(ctx, 100); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}
	chID, _ = GetOpenTicketChannel(ctx, 1, 2)
	if chID != 0 {
		t.Fatal("ticket still open after deletion")
	}
}

func TestVoiceRoomLifecycle(t *testing.T) {
	ctx := setupTestDB(t)

	if err := AddVoiceRoom(ctx, 200, 1, 2); err != nil {
		t.Fatalf("AddVoiceRoom: %v", err)
	}
	isRoom, err := IsVoiceRoom(ctx, 200)
	if err != nil || !isRoom {
		t.Fatalf("IsVoiceRoom = %v (%v), want true", isRoom, err)
	}
	if err := RemoveVoiceRoom(ctx, 200); err != nil {
		t.Fatalf("RemoveVoiceRoom: %v", err)
	}
	isRoom, _ = IsVoiceRoom(ctx, 200)
	if isRoom {
		t.Fatal("room still tracked after removal")
	}
}

func TestGuildConfigUpsert(t *testing.T) {
	ctx := setupTestDB(t)

	v, err := GetGuildConfigValue(ctx, 1, "voice_lobby_id")
	if err != nil || v != "" {
		t.Fatalf("unset config = %q (%v), want empty", v, err)
	}

	if err := SetGuildConfigValue(ctx, 1, "voice_lobby_id", "123"); err != nil {
		t.Fatalf("SetGuildConfigValue: %v", err)
	}
	if err := SetGuildConfigValue(ctx, 1, "voice_lobby_id", "456"); err != nil {
		t.Fatalf("SetGuildConfigValue update: %v", err)
	}
	v, _ = GetGuildConfigValue(ctx, 1, "voice_lobby_id")
	if v != "456" {
		t.Fatalf("config = %q, want 456", v)
	}
}

func TestBotConfigRoundTrip(t *testing.T) {
	ctx := setupTestDB(t)

	if err := SetBotConfig(ctx, "last_cmd_hash", "abc"); err != nil {
		t.Fatalf("SetBotConfig: %v", err)
	}
	v, err := GetBotConfig(ctx, "last_cmd_hash")
	if err != nil || v != "abc" {
		t.Fatalf("GetBotConfig = %q (%v), want abc", v, err)
	}
	v, err = GetBotConfig(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("missing key = %q (%v), want empty", v, err)
	}
}

func TestSaveBotStats(t *testing.T) {
	ctx := setupTestDB(t)

	if err := SaveBotStats(ctx, 3, 250); err != nil {
		t.Fatalf("SaveBotStats: %v", err)
	}
	v, _ := GetBotConfig(ctx, "stats_server_count")
	if v != "3" {
		t.Fatalf("server count = %q, want 3", v)
	}
	v, _ = GetBotConfig(ctx, "stats_member_count")
	if v != "250" {
		t.Fatalf("member count = %q, want 250", v)
	}

	// A later snapshot replaces the previous one.
	if err := SaveBotStats(ctx, 4, 260); err != nil {
		t.Fatalf("SaveBotStats refresh: %v", err)
	}
	v, _ = GetBotConfig(ctx, "stats_server_count")
	if v != "4" {
		t.Fatalf("refreshed server count = %q, want 4", v)
	}

	ts, _ := GetBotConfig(ctx, "stats_updated_at")
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("stats_updated_at = %q, not RFC3339: %v", ts, err)
	}
}
