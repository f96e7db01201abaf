// keyring.go resolves secrets through the OS keyring (Linux: Secret
// Service, macOS: Keychain, Windows: Credential Manager) with
// environment-variable and config-file fallbacks.
//
// Priority: OS keyring → environment variable → config.yaml value.
package config

import (
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "claudegram"

	// Keyring key names.
	KeyTelegramToken    = "telegram_token"
	KeyDiscordToken     = "discord_token"
	KeyTranscriptionKey = "transcription_api_key"
)

// StoreSecret saves a secret to the OS keyring.
func StoreSecret(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetSecret retrieves a secret from the OS keyring, empty when absent.
func GetSecret(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks whether the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__claudegram_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// resolveSecrets fills empty credential fields from the keyring and
// environment.
func resolveSecrets(cfg *Config) {
	cfg.Telegram.Token = resolve(cfg.Telegram.Token, KeyTelegramToken, "CLAUDEGRAM_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	cfg.Discord.Token = resolve(cfg.Discord.Token, KeyDiscordToken, "CLAUDEGRAM_DISCORD_TOKEN", "DISCORD_BOT_TOKEN")
	cfg.Transcription.APIKey = resolve(cfg.Transcription.APIKey, KeyTranscriptionKey, "CLAUDEGRAM_TRANSCRIPTION_KEY", "OPENAI_API_KEY")
}

// resolve returns the first non-empty value of: keyring entry, environment
// variables in order, then the config value itself.
func resolve(configValue, keyringKey string, envVars ...string) string {
	if v := GetSecret(keyringKey); v != "" {
		return v
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return configValue
}
