package app

import (
	"errors"
	"os"
	"strings"
)

// Secrets are supplied through the environment, never the config file,
// so a committed config can't leak credentials.
type Secrets struct {
	TelegramToken      string
	TwitchClientID     string
	TwitchClientSecret string
	YouTubeAPIKey      string
	XAPIKey            string
}

// SecretsFromEnv reads the well-known variables. Missing platform keys
// are tolerated here; validation happens against the enabled sources.
func SecretsFromEnv() Secrets {
	return Secrets{
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		TwitchClientID:     strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID")),
		TwitchClientSecret: strings.TrimSpace(os.Getenv("TWITCH_CLIENT_SECRET")),
		YouTubeAPIKey:      strings.TrimSpace(os.Getenv("YOUTUBE_API_KEY")),
		XAPIKey:            strings.TrimSpace(os.Getenv("X_API_KEY")),
	}
}

// check verifies every enabled source has the credentials it needs.
func (s Secrets) check(twitch, youtube, x bool) error {
	var missing []string
	if twitch && (s.TwitchClientID == "" || s.TwitchClientSecret == "") {
		missing = append(missing, "TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET")
	}
	if youtube && s.YouTubeAPIKey == "" {
		missing = append(missing, "YOUTUBE_API_KEY")
	}
	if x && s.XAPIKey == "" {
		missing = append(missing, "X_API_KEY")
	}
	if len(missing) > 0 {
		return errors.New("missing credentials: " + strings.Join(missing, ", "))
	}
	return nil
}
