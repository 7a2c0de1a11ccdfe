package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); empty means the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Inference InferenceConfig `json:"inference"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Batch     BatchConfig     `json:"batch"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via TELEGRAM_BOT_TOKEN.
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog is the chat id that receives operator log lines.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
	// MaxInFlight bounds concurrently handled updates.
	MaxInFlight    int    `json:"max_in_flight,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// InferenceConfig points at an OpenAI-compatible endpoint (Groq by default).
type InferenceConfig struct {
	// APIKey may be left empty and supplied via GROQ_API_KEY.
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	TextModel   string  `json:"text_model,omitempty"`
	VisionModel string  `json:"vision_model,omitempty"`
	AudioModel  string  `json:"audio_model,omitempty"`
	Language    string  `json:"language,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	// FetchTimeout bounds downloads of user media.
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	TextPrompt   string `json:"text_prompt,omitempty"`
	VisionPrompt string `json:"vision_prompt,omitempty"`
}

type DispatchConfig struct {
	HistoryLimit  int   `json:"history_limit,omitempty"`
	MaxImageBytes int64 `json:"max_image_bytes,omitempty"`
	MaxAudioBytes int64 `json:"max_audio_bytes,omitempty"`
}

type BatchConfig struct {
	Window string `json:"window,omitempty"`
}

type BroadcastConfig struct {
	Enabled bool   `json:"enabled"`
	Tick    string `json:"tick,omitempty"`
	// DailySpec is a 5-field cron expression, e.g. "0 10 * * *".
	DailySpec     string   `json:"daily_spec,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
	Pacing        string   `json:"pacing,omitempty"`
	DailyMessages []string `json:"daily_messages,omitempty"`
	WebsiteURL    string   `json:"website_url,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/umabot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the operational HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
