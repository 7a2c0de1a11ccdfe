package dispatch

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"

	"umabot/internal/inference"
	"umabot/internal/metrics"
	"umabot/internal/storage"
	"umabot/pkg/logx"
)

const (
	DefaultHistoryLimit  = 10
	DefaultMaxImageBytes = 20 << 20
	DefaultMaxAudioBytes = 25 << 20
)

type Config struct {
	// HistoryLimit is how many recent turns are sent as context.
	HistoryLimit  int
	MaxImageBytes int64
	MaxAudioBytes int64
}

// HistoryStore is the slice of storage.Store the dispatcher needs.
type HistoryStore interface {
	History(ctx context.Context, userID int64, limit int) ([]storage.Turn, error)
	AppendTurn(ctx context.Context, userID int64, t storage.Turn) error
}

type Deps struct {
	Locks   *LockTable
	History HistoryStore
	Backend inference.Backend
	Fetcher inference.Fetcher
	Log     logx.Logger
	Metrics *metrics.Metrics
}

// Dispatcher runs one request per user at a time through the backend and
// turns every failure into a fixed reply.
type Dispatcher struct {
	cfg     Config
	locks   *LockTable
	history HistoryStore
	backend inference.Backend
	fetcher inference.Fetcher
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if deps.Locks == nil {
		deps.Locks = NewLockTable()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		locks:   deps.Locks,
		history: deps.History,
		backend: deps.Backend,
		fetcher: deps.Fetcher,
		log:     deps.Log,
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

// Handle processes req for userID and returns the text to show the user.
// It never returns an error: backend and fetch failures become fixed replies.
// Each completed exchange is appended to the user's history while the lock is held.
func (d *Dispatcher) Handle(ctx context.Context, userID int64, req Request) (reply string) {
	kind := string(req.Kind)
	log := d.log.With(logx.User(userID), logx.String("kind", kind), logx.String("req_id", uuid.NewString()))

	waitStart := time.Now()
	unlock, err := d.locks.Acquire(ctx, userID)
	if err != nil {
		log.Warn("request abandoned while waiting for user lock", logx.Err(err))
		d.metrics.Request(kind, "canceled")
		return apology(req.Kind)
	}
	defer unlock()
	d.metrics.LockWait(time.Since(waitStart))

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked", logx.Any("panic", r))
			d.metrics.Request(kind, "panic")
			reply = apology(req.Kind)
		}
	}()

	history, err := d.history.History(ctx, userID, d.cfg.HistoryLimit)
	if err != nil {
		log.Warn("history unavailable, answering without context", logx.Err(err))
		history = nil
	}

	var (
		turn    = storage.Turn{Input: storage.TurnInput{Kind: req.Kind, Text: req.Text, Refs: req.URLs}}
		outcome string
	)
	switch req.Kind {
	case storage.KindText:
		reply, outcome = d.answerText(ctx, log, req.Text, history)
	case storage.KindImage, storage.KindImages:
		reply, outcome = d.answerImages(ctx, log, req, history)
	case storage.KindAudio:
		var heard string
		heard, reply, outcome = d.answerAudio(ctx, log, req, history)
		turn.Input.Text = heard
	default:
		log.Warn("unknown request kind")
		reply, outcome = MsgTextFailed, "unsupported"
	}
	d.metrics.Request(kind, outcome)

	turn.Response = reply
	turn.At = d.now()
	if err := d.history.AppendTurn(ctx, userID, turn); err != nil {
		log.Warn("append turn failed", logx.Err(err))
	}
	return reply
}

func (d *Dispatcher) answerText(ctx context.Context, log logx.Logger, text string, history []storage.Turn) (string, string) {
	search := NeedsFreshInfo(text)
	start := time.Now()
	out, err := d.backend.AnswerText(ctx, text, history, search)
	d.metrics.Backend(string(storage.KindText), time.Since(start))
	if err != nil {
		log.Error("text backend failed", logx.Bool("search", search), logx.Err(err))
		return MsgTextFailed, "backend_error"
	}
	return Sanitize(out), "ok"
}

func (d *Dispatcher) answerImages(ctx context.Context, log logx.Logger, req Request, history []storage.Turn) (string, string) {
	images := make([]inference.Blob, 0, len(req.URLs))
	for i, url := range req.URLs {
		b, err := d.fetcher.Fetch(ctx, url, d.cfg.MaxImageBytes)
		if err != nil {
			log.Warn("image skipped", logx.Int("index", i), logx.Err(err))
			continue
		}
		images = append(images, b)
	}
	if len(images) == 0 {
		log.Warn("no usable images", logx.Int("requested", len(req.URLs)))
		return MsgNoImages, "no_input"
	}

	start := time.Now()
	var (
		out string
		err error
	)
	if req.Kind == storage.KindImage && len(images) == 1 {
		out, err = d.backend.AnswerImage(ctx, images[0], req.Text, history)
	} else {
		out, err = d.backend.AnswerImages(ctx, images, req.Text, history)
	}
	d.metrics.Backend(string(req.Kind), time.Since(start))
	if err != nil {
		log.Error("vision backend failed", logx.Int("images", len(images)), logx.Err(err))
		return apology(req.Kind), "backend_error"
	}
	return Sanitize(out), "ok"
}

// answerAudio transcribes then answers. It returns the recognized text too.
func (d *Dispatcher) answerAudio(ctx context.Context, log logx.Logger, req Request, history []storage.Turn) (heard, reply, outcome string) {
	if len(req.URLs) == 0 {
		return "", MsgNoSpeech, "no_input"
	}
	audio, err := d.fetcher.Fetch(ctx, req.URLs[0], d.cfg.MaxAudioBytes)
	if err != nil {
		log.Warn("audio download failed", logx.Err(err))
		return "", MsgNoSpeech, "no_input"
	}

	start := time.Now()
	heard, err = d.backend.Transcribe(ctx, audio)
	d.metrics.Backend(string(storage.KindAudio), time.Since(start))
	if err != nil {
		log.Warn("transcription failed", logx.Err(err))
		return "", MsgNoSpeech, "no_input"
	}
	if heard == "" {
		return "", MsgNoSpeech, "no_input"
	}

	answer, outcome := d.answerText(ctx, log, heard, history)
	return heard, fmt.Sprintf("🎤 Recognized: \"%s\"\n\n%s", html.EscapeString(heard), answer), outcome
}
