package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	MsgConfigMissingToken   = "DISCORD_TOKEN is not set"
	MsgConfigInvalidGuildID = "invalid GUILD_ID: must be a valid Snowflake"

	// Environment Variables
	EnvDiscordToken  = "DISCORD_TOKEN"
	EnvGuildID       = "GUILD_ID"
	EnvSilent        = "SILENT"
	EnvOwnerIDs      = "OWNER_IDS"
	EnvDatabasePath  = "DATABASE_PATH"
	EnvYoutubeProxy  = "YOUTUBE_PROXY"
	EnvXPPerMessage  = "XP_PER_MESSAGE"
	EnvXPPerReaction = "XP_PER_REACTION"
	EnvXPVoicePerMin = "XP_VOICE_PER_MINUTE"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	OwnerIDs     []string
	Silent       bool

	// Activity system tuning
	XPPerMessage  int
	XPPerReaction int
	XPVoicePerMin int
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv(EnvDatabasePath)
	if dbPath == "" {
		dbPath = filepath.Join(".", GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))

	ownerIDsStr := os.Getenv(EnvOwnerIDs)
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:        os.Getenv(EnvDiscordToken),
		GuildID:      os.Getenv(EnvGuildID),
		DatabasePath: dbPath,
		OwnerIDs:     ownerIDs,
		Silent:       silent,
	}

	cfg.XPPerMessage, _ = strconv.Atoi(os.Getenv(EnvXPPerMessage))
	if cfg.XPPerMessage == 0 {
		cfg.XPPerMessage = 10
	}
	cfg.XPPerReaction, _ = strconv.Atoi(os.Getenv(EnvXPPerReaction))
	if cfg.XPPerReaction == 0 {
		cfg.XPPerReaction = 2
	}
	cfg.XPVoicePerMin, _ = strconv.Atoi(os.Getenv(EnvXPVoicePerMin))
	if cfg.XPVoicePerMin == 0 {
		cfg.XPVoicePerMin = 5
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	return nil
}

// GetProjectName derives a human name for the bot from the executable or go.mod.
func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "hromada"
	if err == nil {
		name := strings.TrimSuffix(filepath.Base(exePath), ".exe")
		if name != "main" && !strings.HasPrefix(name, "go_build_") {
			projectName = name
		} else if modData, err := os.ReadFile("go.mod"); err == nil {
			lines := strings.Split(string(modData), "\n")
			if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
				parts := strings.Split(lines[0], "/")
				projectName = strings.TrimSpace(parts[len(parts)-1])
			}
		}
	}
	return projectName
}
