package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// ============================================================================
// Database
// ============================================================================

const (
	MsgDatabasePragmaError = "pragma %q failed: %v"
	MsgDatabaseTableError  = "table creation failed: %v"
	MsgDBMigrationFail     = "migration failed: %v"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			xp INTEGER DEFAULT 0,
			level INTEGER DEFAULT 0,
			messages INTEGER DEFAULT 0,
			voice_minutes INTEGER DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			locators TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			channel_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			subject TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS voice_rooms (
			channel_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_configs (
			guild_id TEXT PRIMARY KEY,
			voice_lobby_id TEXT,
			ticket_category_id TEXT,
			announce_channel_id TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_guild_xp ON users(guild_id, xp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(guild_id, user_id)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	migrations := []string{
		"ALTER TABLE users ADD COLUMN voice_minutes INTEGER DEFAULT 0",
		"ALTER TABLE guild_configs ADD COLUMN announce_channel_id TEXT",
	}

	for _, m := range migrations {
		if _, err := DB.ExecContext(initCtx, m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf(MsgDBMigrationFail, err)
			}
		}
	}

	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot state (used by the loader for registration mode tracking) ---

func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// SaveBotStats upserts the periodic guild/member totals. Stored as plain
// bot_config rows so anything with database access can read them.
func SaveBotStats(ctx context.Context, serverCount, memberCount int) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES
			('stats_server_count', ?),
			('stats_member_count', ?),
			('stats_updated_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, strconv.Itoa(serverCount), strconv.Itoa(memberCount), time.Now().UTC().Format(time.RFC3339))
	return err
}

// --- Guild configuration ---

func GetGuildConfigValue(ctx context.Context, guildID snowflake.ID, column string) (string, error) {
	var value sql.NullString
	err := DB.QueryRowContext(ctx,
		"SELECT "+column+" FROM guild_configs WHERE guild_id = ?", guildID.String()).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

func SetGuildConfigValue(ctx context.Context, guildID snowflake.ID, column, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO guild_configs (guild_id, `+column+`) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET `+column+` = excluded.`+column+`, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), value)
	return err
}

// --- Users / XP ---

type UserRecord struct {
	GuildID      snowflake.ID
	UserID       snowflake.ID
	XP           int
	Level        int
	Messages     int
	VoiceMinutes int
}

func GetUser(ctx context.Context, guildID, userID snowflake.ID) (*UserRecord, error) {
	u := &UserRecord{GuildID: guildID, UserID: userID}
	err := DB.QueryRowContext(ctx, `
		SELECT xp, level, messages, voice_minutes FROM users WHERE guild_id = ? AND user_id = ?
	`, guildID.String(), userID.String()).Scan(&u.XP, &u.Level, &u.Messages, &u.VoiceMinutes)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// AddUserXP adds xp (negative allowed, clamped at zero) and returns the
// updated record. countMessage bumps the message counter.
func AddUserXP(ctx context.Context, guildID, userID snowflake.ID, xp int, countMessage bool) (*UserRecord, error) {
	msgInc := 0
	if countMessage {
		msgInc = 1
	}
	_, err := DB.ExecContext(ctx, `
		INSERT INTO users (guild_id, user_id, xp, messages) VALUES (?, ?, MAX(0, ?), ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			xp = MAX(0, xp + ?),
			messages = messages + ?,
			updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), userID.String(), xp, msgInc, xp, msgInc)
	if err != nil {
		return nil, err
	}
	return GetUser(ctx, guildID, userID)
}

func AddUserVoiceMinutes(ctx context.Context, guildID, userID snowflake.ID, minutes, xp int) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO users (guild_id, user_id, xp, voice_minutes) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			xp = xp + excluded.xp,
			voice_minutes = voice_minutes + ?,
			updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), userID.String(), xp, minutes, minutes)
	return err
}

func SetUserLevel(ctx context.Context, guildID, userID snowflake.ID, level int) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO users (guild_id, user_id, level) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET level = excluded.level, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), userID.String(), level)
	return err
}

func ResetUser(ctx context.Context, guildID, userID snowflake.ID) error {
	_, err := DB.ExecContext(ctx,
		"DELETE FROM users WHERE guild_id = ? AND user_id = ?", guildID.String(), userID.String())
	return err
}

func TopUsers(ctx context.Context, guildID snowflake.ID, limit, offset int) ([]*UserRecord, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT user_id, xp, level, messages, voice_minutes FROM users
		WHERE guild_id = ? ORDER BY xp DESC LIMIT ? OFFSET ?
	`, guildID.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UserRecord
	for rows.Next() {
		u := &UserRecord{GuildID: guildID}
		var userID string
		if err := rows.Scan(&userID, &u.XP, &u.Level, &u.Messages, &u.VoiceMinutes); err != nil {
			return nil, err
		}
		u.UserID, _ = snowflake.Parse(userID)
		out = append(out, u)
	}
	return out, rows.Err()
}

func CountUsers(ctx context.Context, guildID snowflake.ID) (int, error) {
	var n int
	err := DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE guild_id = ?", guildID.String()).Scan(&n)
	return n, err
}

// --- Saved playlists ---

const playlistSeparator = "\n"

func SavePlaylist(ctx context.Context, userID snowflake.ID, name string, locators []string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO playlists (user_id, name, locators) VALUES (?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET locators = excluded.locators, created_at = CURRENT_TIMESTAMP
	`, userID.String(), name, strings.Join(locators, playlistSeparator))
	return err
}

func LoadPlaylist(ctx context.Context, userID snowflake.ID, name string) ([]string, error) {
	var joined string
	err := DB.QueryRowContext(ctx,
		"SELECT locators FROM playlists WHERE user_id = ? AND name = ?",
		userID.String(), name).Scan(&joined)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, playlistSeparator), nil
}

func DeletePlaylist(ctx context.Context, userID snowflake.ID, name string) (bool, error) {
	res, err := DB.ExecContext(ctx,
		"DELETE FROM playlists WHERE user_id = ? AND name = ?", userID.String(), name)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func ListPlaylists(ctx context.Context, userID snowflake.ID) ([]string, error) {
	rows, err := DB.QueryContext(ctx,
		"SELECT name FROM playlists WHERE user_id = ? ORDER BY name", userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Tickets ---

func CreateTicket(ctx context.Context, channelID, guildID, userID snowflake.ID, subject string) error {
	_, err := DB.ExecContext(ctx,
		"INSERT INTO tickets (channel_id, guild_id, user_id, subject) VALUES (?, ?, ?, ?)",
		channelID.String(), guildID.String(), userID.String(), subject)
	return err
}

func GetOpenTicketChannel(ctx context.Context, guildID, userID snowflake.ID) (snowflake.ID, error) {
	var channelID string
	err := DB.QueryRowContext(ctx,
		"SELECT channel_id FROM tickets WHERE guild_id = ? AND user_id = ?",
		guildID.String(), userID.String()).Scan(&channelID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snowflake.Parse(channelID)
}

func GetTicketOwner(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error) {
	var userID string
	err := DB.QueryRowContext(ctx,
		"SELECT user_id FROM tickets WHERE channel_id = ?", channelID.String()).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snowflake.Parse(userID)
}

func DeleteTicket(ctx context.Context, channelID snowflake.ID) error {
	_, err := DB.ExecContext(ctx,
		"DELETE FROM tickets WHERE channel_id = ?", channelID.String())
	return err
}

// --- Temporary voice rooms ---

func AddVoiceRoom(ctx context.Context, channelID, guildID, ownerID snowflake.ID) error {
	_, err := DB.ExecContext(ctx,
		"INSERT OR REPLACE INTO voice_rooms (channel_id, guild_id, owner_id) VALUES (?, ?, ?)",
		channelID.String(), guildID.String(), ownerID.String())
	return err
}

func IsVoiceRoom(ctx context.Context, channelID snowflake.ID) (bool, error) {
	var n int
	err := DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM voice_rooms WHERE channel_id = ?", channelID.String()).Scan(&n)
	return n > 0, err
}

func RemoveVoiceRoom(ctx context.Context, channelID snowflake.ID) error {
	_, err := DB.ExecContext(ctx,
		"DELETE FROM voice_rooms WHERE channel_id = ?", channelID.String())
	return err
}
