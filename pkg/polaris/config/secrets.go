package config

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "polaris"

// TokenEnvVar returns the environment variable holding a channel token,
// e.g. POLARIS_TELEGRAM_TOKEN.
func TokenEnvVar(channel string) string {
	return "POLARIS_" + strings.ToUpper(channel) + "_TOKEN"
}

// TokenKeyringKey returns the keyring entry holding a channel token.
func TokenKeyringKey(channel string) string {
	return channel + "_token"
}

// StoreToken saves a channel token to the OS keyring.
func StoreToken(channel, token string) error {
	return keyring.Set(keyringService, TokenKeyringKey(channel), token)
}

// resolveTokens fills channel tokens that are empty or unexpanded env
// references, first from POLARIS_<CHANNEL>_TOKEN, then from the keyring.
func resolveTokens(cfg *Config) {
	cfg.Channel.Telegram.Token = resolveToken(ChannelTelegram, cfg.Channel.Telegram.Token)
	cfg.Channel.Discord.Token = resolveToken(ChannelDiscord, cfg.Channel.Discord.Token)
}

func resolveToken(channel, current string) string {
	if current != "" && !IsEnvReference(current) {
		return current
	}
	if v := os.Getenv(TokenEnvVar(channel)); v != "" {
		return v
	}
	if v, err := keyring.Get(keyringService, TokenKeyringKey(channel)); err == nil && v != "" {
		return v
	}
	if IsEnvReference(current) {
		return ""
	}
	return current
}
