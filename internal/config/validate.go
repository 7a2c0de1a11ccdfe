package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks everything that would otherwise fail at wiring time.
// Missing credentials are the only fatal boot condition.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is empty (set it or %s)", EnvTelegramToken))
	}
	if strings.TrimSpace(cfg.Inference.APIKey) == "" {
		add(fmt.Errorf("inference.api_key is empty (set it or %s)", EnvGroqAPIKey))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"telegram.handler_timeout": cfg.Telegram.HandlerTimeout,
		"inference.timeout":        cfg.Inference.Timeout,
		"inference.fetch_timeout":  cfg.Inference.FetchTimeout,
		"batch.window":             cfg.Batch.Window,
		"broadcast.tick":           cfg.Broadcast.Tick,
		"broadcast.pacing":         cfg.Broadcast.Pacing,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"ops.read_timeout":         cfg.Ops.ReadTimeout,
		"ops.write_timeout":        cfg.Ops.WriteTimeout,
		"ops.idle_timeout":         cfg.Ops.IdleTimeout,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if cfg.Dispatch.HistoryLimit < 0 {
		add(errors.New("dispatch.history_limit must be >= 0"))
	}
	if cfg.Dispatch.MaxImageBytes < 0 || cfg.Dispatch.MaxAudioBytes < 0 {
		add(errors.New("dispatch byte limits must be >= 0"))
	}

	if spec := strings.TrimSpace(cfg.Broadcast.DailySpec); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			add(fmt.Errorf("broadcast.daily_spec: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Broadcast.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("broadcast.timezone: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required for sqlite"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Ops.Enabled {
		add(validateOpsAddr(cfg.Ops))
	}
	return errors.Join(errs...)
}

// validateOpsAddr refuses unauthenticated non-loopback binds.
func validateOpsAddr(o OpsConfig) error {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if isLoopback(host) || strings.TrimSpace(o.Token) != "" || o.AllowInsecure {
		return nil
	}
	return fmt.Errorf("ops.addr %q is not loopback: set ops.token or ops.allow_insecure", addr)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
