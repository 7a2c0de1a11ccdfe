package app

import (
	"strconv"
	"strings"
	"time"

	"umabot/internal/batch"
	"umabot/internal/bot"
	"umabot/internal/broadcast"
	"umabot/internal/config"
	"umabot/internal/delivery"
	"umabot/internal/dispatch"
	"umabot/internal/inference"
	"umabot/internal/observability/ops"
	"umabot/internal/storage"
	"umabot/internal/transport/telegram/adapter"
	"umabot/pkg/logx"
)

// Committed configs have passed config.Validate, so the mappers below read
// durations with config.Duration and never fail.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogChat returns the log chat id, or 0 when unset.
func groupLogChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapAdapter(cfg *config.Config) adapter.Config {
	return adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout),
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout),
	}
}

func mapGroq(cfg *config.Config) inference.GroqConfig {
	in := cfg.Inference
	return inference.GroqConfig{
		APIKey:       in.APIKey,
		BaseURL:      in.BaseURL,
		TextModel:    in.TextModel,
		VisionModel:  in.VisionModel,
		AudioModel:   in.AudioModel,
		Language:     in.Language,
		MaxTokens:    in.MaxTokens,
		Temperature:  in.Temperature,
		Timeout:      config.Duration(in.Timeout),
		TextPrompt:   in.TextPrompt,
		VisionPrompt: in.VisionPrompt,
	}
}

func mapDispatch(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		HistoryLimit:  cfg.Dispatch.HistoryLimit,
		MaxImageBytes: cfg.Dispatch.MaxImageBytes,
		MaxAudioBytes: cfg.Dispatch.MaxAudioBytes,
	}
}

func mapDelivery() delivery.Config {
	return delivery.Config{ParseMode: "HTML"}
}

func mapBatch(cfg *config.Config) batch.Config {
	return batch.Config{Window: config.Duration(cfg.Batch.Window)}
}

func mapBroadcast(cfg *config.Config) broadcast.Config {
	b := cfg.Broadcast
	return broadcast.Config{
		Tick:          config.Duration(b.Tick),
		DailySpec:     strings.TrimSpace(b.DailySpec),
		Timezone:      strings.TrimSpace(b.Timezone),
		Pacing:        config.Duration(b.Pacing),
		DailyMessages: b.DailyMessages,
	}
}

// location is where admins' schedule times are read. Falls back to local time.
func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Broadcast.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func mapBot(cfg *config.Config) bot.Config {
	return bot.Config{
		AdminIDs:       cfg.Telegram.AdminUserIDs,
		Location:       location(cfg),
		MaxInFlight:    cfg.Telegram.MaxInFlight,
		HandlerTimeout: config.Duration(cfg.Telegram.HandlerTimeout),
	}
}

func mapOps(cfg *config.Config) ops.Config {
	o := cfg.Ops
	return ops.Config{
		Addr:          strings.TrimSpace(o.Addr),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   config.Duration(o.ReadTimeout),
		WriteTimeout:  config.Duration(o.WriteTimeout),
		IdleTimeout:   config.Duration(o.IdleTimeout),
	}
}
