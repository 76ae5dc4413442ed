package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearRelayEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"LISTEN_ADDR", "DATABASE_URL", "INDEX_DATABASE_URL",
		"RELAY_NAME", "RELAY_DESCRIPTION", "RELAY_PUBKEY", "RELAY_CONTACT",
		"RELAY_ICON", "RELAY_BANNER", "RELAY_COUNTRIES", "RELAY_LANGUAGE_TAGS",
		"RELAY_VERSION", "SENDER_RATE_PER_SECOND", "SENDER_BURST",
		"LIMITATION_MAX_EVENT_TAGS", "LIMITATION_MAX_CONTENT_LENGTH",
		"LIMITATION_CREATED_AT_LOWER_LIMIT", "LIMITATION_CREATED_AT_UPPER_LIMIT",
		"LIMITATION_MAX_MESSAGE_LENGTH", "LIMITATION_MAX_SUBSCRIPTIONS",
		"LIMITATION_MAX_LIMIT", "LIMITATION_DEFAULT_LIMIT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	clearRelayEnv(t)
	cfg := Load()

	require.Equal(t, ":8000", cfg.ListenAddr)
	require.Equal(t, "relay.db", cfg.DatabaseURL)
	require.Equal(t, "nostrelay", cfg.RelayName)
	require.Empty(t, cfg.RelayPubkey)
	require.Equal(t, float64(50), cfg.SenderRatePerSecond)
	require.Greater(t, cfg.Limits.MaxEventTags, 0)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("RELAY_NAME", "test-relay")
	t.Setenv("RELAY_COUNTRIES", "US, SE ,")
	t.Setenv("LIMITATION_MAX_CONTENT_LENGTH", "512")
	t.Setenv("SENDER_BURST", "not-a-number")

	cfg := Load()

	require.Equal(t, ":9999", cfg.ListenAddr)
	require.Equal(t, "test-relay", cfg.RelayName)
	require.Equal(t, []string{"US", "SE"}, cfg.RelayCountries)
	require.Equal(t, 512, cfg.Limits.MaxContentLength)
	require.Equal(t, 100, cfg.SenderBurst, "invalid int should fall back to default")
}

func TestRelayInfoOmitsEmptyOptionalFields(t *testing.T) {
	clearRelayEnv(t)
	cfg := Load()
	info := cfg.RelayInfo()

	require.Equal(t, "nostrelay", info["name"])
	_, hasPubkey := info["pubkey"]
	require.False(t, hasPubkey)
	_, hasCountries := info["relay_countries"]
	require.False(t, hasCountries)
}

func TestRelayInfoIncludesSetOptionalFields(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("RELAY_PUBKEY", "abc123")
	t.Setenv("RELAY_COUNTRIES", "US")
	cfg := Load()
	info := cfg.RelayInfo()

	require.Equal(t, "abc123", info["pubkey"])
	require.Equal(t, []string{"US"}, info["relay_countries"])
}
