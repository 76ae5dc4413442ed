// Package config loads the relay's runtime configuration from environment
// variables, following klistr's manual os.Getenv-plus-defaults convention
// rather than a flag/viper library.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/klppl/nostrelay/internal/relay"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	ListenAddr       string
	DatabaseURL      string
	IndexDatabaseURL string

	RelayName        string
	RelayDescription string
	RelayPubkey      string
	RelayContact     string
	RelayIcon        string
	RelayBanner      string
	RelayCountries   []string
	RelayLanguages   []string
	RelayVersion     string

	Limits relay.LimitationConfig

	SenderRatePerSecond float64
	SenderBurst         int
}

// Load reads configuration from environment variables, falling back to the
// relay's built-in defaults for anything unset.
func Load() *Config {
	limits := relay.DefaultLimitationConfig()
	limits.MaxEventTags = parseInt("LIMITATION_MAX_EVENT_TAGS", limits.MaxEventTags)
	limits.MaxContentLength = parseInt("LIMITATION_MAX_CONTENT_LENGTH", limits.MaxContentLength)
	limits.CreatedAtLowerLimit = parseInt64("LIMITATION_CREATED_AT_LOWER_LIMIT", limits.CreatedAtLowerLimit)
	limits.CreatedAtUpperLimit = parseInt64("LIMITATION_CREATED_AT_UPPER_LIMIT", limits.CreatedAtUpperLimit)
	limits.MaxMessageLength = parseInt("LIMITATION_MAX_MESSAGE_LENGTH", limits.MaxMessageLength)
	limits.MaxSubscriptions = parseInt("LIMITATION_MAX_SUBSCRIPTIONS", limits.MaxSubscriptions)
	limits.MaxLimit = parseInt("LIMITATION_MAX_LIMIT", limits.MaxLimit)
	limits.DefaultLimit = parseInt("LIMITATION_DEFAULT_LIMIT", limits.DefaultLimit)

	return &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8000"),
		DatabaseURL:      getEnv("DATABASE_URL", "relay.db"),
		IndexDatabaseURL: getEnv("INDEX_DATABASE_URL", "relay-index.db"),

		RelayName:        getEnv("RELAY_NAME", "nostrelay"),
		RelayDescription: getEnv("RELAY_DESCRIPTION", "a small Nostr relay"),
		RelayPubkey:      os.Getenv("RELAY_PUBKEY"),
		RelayContact:     os.Getenv("RELAY_CONTACT"),
		RelayIcon:        os.Getenv("RELAY_ICON"),
		RelayBanner:      os.Getenv("RELAY_BANNER"),
		RelayCountries:   parseList(os.Getenv("RELAY_COUNTRIES")),
		RelayLanguages:   parseList(os.Getenv("RELAY_LANGUAGE_TAGS")),
		RelayVersion:     getEnv("RELAY_VERSION", "0.1.0"),

		Limits: limits,

		SenderRatePerSecond: parseFloat("SENDER_RATE_PER_SECOND", 50),
		SenderBurst:         parseInt("SENDER_BURST", 100),
	}
}

// RelayInfo builds the NIP-11 relay information document (§12).
func (c *Config) RelayInfo() map[string]interface{} {
	info := map[string]interface{}{
		"name":           c.RelayName,
		"description":    c.RelayDescription,
		"supported_nips": []int{1, 9, 11},
		"software":       "https://github.com/klppl/nostrelay",
		"version":        c.RelayVersion,
		"limitation":     c.Limits,
	}
	if c.RelayPubkey != "" {
		info["pubkey"] = c.RelayPubkey
	}
	if c.RelayContact != "" {
		info["contact"] = c.RelayContact
	}
	if c.RelayIcon != "" {
		info["icon"] = c.RelayIcon
	}
	if c.RelayBanner != "" {
		info["banner"] = c.RelayBanner
	}
	if len(c.RelayCountries) > 0 {
		info["relay_countries"] = c.RelayCountries
	}
	if len(c.RelayLanguages) > 0 {
		info["language_tags"] = c.RelayLanguages
	}
	return info
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func parseInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func parseFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
