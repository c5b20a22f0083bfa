package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	Port              string
	Environment       string
	JWTSecret         string
	SteamAPIKey       string
	SteamUsername     string
	SteamPassword     string
	SteamSharedSecret string
	BotPartnerID      string
	BotTradeToken     string
	OfferPollInterval time.Duration
	SteamTimeout      time.Duration
}

func Load() *Config {
	return &Config{
		DatabaseURL:       getEnv("DATABASE_URL", "qwikskin.db"),
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		JWTSecret:         getEnv("JWT_SECRET", "your-secret-key"),
		SteamAPIKey:       getEnv("STEAM_API_KEY", ""),
		SteamUsername:     getEnv("STEAM_USERNAME", ""),
		SteamPassword:     getEnv("STEAM_PASSWORD", ""),
		SteamSharedSecret: getEnv("STEAM_SHARED_SECRET", ""),
		BotPartnerID:      getEnv("BOT_PARTNER_ID", ""),
		BotTradeToken:     getEnv("BOT_TRADE_TOKEN", ""),
		OfferPollInterval: getDuration("OFFER_POLL_INTERVAL_SECONDS", 60*time.Second),
		SteamTimeout:      getDuration("STEAM_TIMEOUT_SECONDS", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
