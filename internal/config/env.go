package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets in the config file.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvGroqAPIKey    = "GROQ_API_KEY"
	EnvAdminUserID   = "ADMIN_USER_ID"
)

// LoadDotEnv loads the given .env files into the process environment.
// Variables that are already set are kept; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	var found []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil
	}
	if err := godotenv.Load(found...); err != nil {
		return fmt.Errorf("load env files %v: %w", found, err)
	}
	return nil
}

// applyEnv overlays secrets from the environment onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvGroqAPIKey)); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvAdminUserID)); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminUserID, err)
		}
		cfg.Telegram.AdminUserIDs = ids
	}
	return nil
}

// parseIDList reads a comma or space separated list of user ids.
func parseIDList(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
