package config

import (
	"reflect"
	"strings"

	"umabot/pkg/logx"
)

// Change describes a reload. Fields never include secrets.
type Change struct {
	Sections []string
	Fields   []logx.Field
	// RestartRequired lists changed sections that are only read at boot.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	mark := func(section string, live bool, fields ...logx.Field) {
		c.Sections = append(c.Sections, section)
		c.Fields = append(c.Fields, fields...)
		if !live {
			c.RestartRequired = append(c.RestartRequired, section)
		}
	}

	// Admin ids apply live; token and polling need a restart.
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if !reflect.DeepEqual(ot.AdminUserIDs, nt.AdminUserIDs) {
		mark("telegram.admins", true, logx.Int("telegram.admin_count", len(nt.AdminUserIDs)))
	}
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.PollTimeout != nt.PollTimeout ||
		ot.MaxInFlight != nt.MaxInFlight ||
		ot.HandlerTimeout != nt.HandlerTimeout {
		mark("telegram", false,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", true,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oi, ni := oldCfg.Inference, newCfg.Inference
	keyChanged := oi.APIKey != ni.APIKey
	oi.APIKey, ni.APIKey = "", ""
	if keyChanged || !reflect.DeepEqual(oi, ni) {
		mark("inference", false,
			logx.Bool("inference.api_key_changed", keyChanged),
			logx.String("inference.text_model", ni.TextModel),
			logx.String("inference.vision_model", ni.VisionModel),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		mark("dispatch", false, logx.Int("dispatch.history_limit", newCfg.Dispatch.HistoryLimit))
	}
	if oldCfg.Batch != newCfg.Batch {
		mark("batch", false, logx.String("batch.window", newCfg.Batch.Window))
	}

	ob, nb := oldCfg.Broadcast, newCfg.Broadcast
	if ob.Enabled != nb.Enabled {
		mark("broadcast.enabled", true, logx.Bool("broadcast.enabled", nb.Enabled))
	}
	// Keyboards are built once at boot.
	if ob.WebsiteURL != nb.WebsiteURL {
		mark("broadcast.website", false, logx.Bool("broadcast.website_set", nb.WebsiteURL != ""))
	}
	if ob.Tick != nb.Tick || ob.DailySpec != nb.DailySpec || ob.Timezone != nb.Timezone ||
		ob.Pacing != nb.Pacing || !reflect.DeepEqual(ob.DailyMessages, nb.DailyMessages) {
		mark("broadcast", true,
			logx.String("broadcast.daily_spec", nb.DailySpec),
			logx.String("broadcast.timezone", nb.Timezone),
			logx.Int("broadcast.daily_messages", len(nb.DailyMessages)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", false, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	tokenChanged := oo.Token != no.Token
	oo.Token, no.Token = "", ""
	if tokenChanged || oo != no {
		mark("ops", false,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}
	return c
}
