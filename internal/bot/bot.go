// Package bot routes transport updates to the core: commands, chat
// messages of every kind, album items, inline-button callbacks and the
// admin panel.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"umabot/internal/batch"
	"umabot/internal/broadcast"
	"umabot/internal/delivery"
	"umabot/internal/dispatch"
	"umabot/internal/metrics"
	rtsup "umabot/internal/runtime/supervisor"
	"umabot/internal/storage"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

const (
	DefaultMaxInFlight    = 256
	DefaultHandlerTimeout = 5 * time.Minute
	DefaultDrainTimeout   = 10 * time.Second
)

// Transport is the slice of transport.Adapter the router needs.
type Transport interface {
	transport.Sender
	transport.FileResolver
	SendChatAction(ctx context.Context, to transport.ChatTarget, action transport.ChatAction) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type Store interface {
	AddUser(ctx context.Context, id int64, username, firstName string) error
	History(ctx context.Context, userID int64, limit int) ([]storage.Turn, error)
	ClearHistory(ctx context.Context, userID int64) error
	Statistics(ctx context.Context, now time.Time) (storage.Statistics, error)
}

// Answerer runs one request through the dispatcher.
type Answerer interface {
	Handle(ctx context.Context, userID int64, req dispatch.Request) string
}

type AlbumSink interface {
	OnItem(ctx context.Context, key string, userID, chatID int64, item batch.Item) error
}

type Broadcaster interface {
	SendManual(ctx context.Context, text string, onlyUser int64) (broadcast.Result, error)
	Schedule(ctx context.Context, text string, at time.Time) (int64, error)
}

type Config struct {
	AdminIDs []int64
	// Location is used to read admin schedule times. Nil means local time.
	Location *time.Location
	// MaxInFlight bounds concurrently handled updates; extra ones get a busy reply.
	MaxInFlight    int
	HandlerTimeout time.Duration
	// DrainTimeout is how long Run waits for in-flight handlers on shutdown.
	DrainTimeout time.Duration
}

type Deps struct {
	Transport   Transport
	Store       Store
	Dispatcher  Answerer
	Albums      AlbumSink
	Broadcaster Broadcaster
	Delivery    *delivery.Delivery
	Keyboards   Keyboards
	Log         logx.Logger
	Metrics     *metrics.Metrics
}

type adminState int

const (
	stateNone adminState = iota
	stateAwaitBroadcast
	stateAwaitSchedule
)

type Bot struct {
	cfg     Config
	tr      Transport
	store   Store
	disp    Answerer
	albums  AlbumSink
	bcast   Broadcaster
	out     *delivery.Delivery
	kb      Keyboards
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	inflight chan struct{}

	mu     sync.RWMutex
	admins map[int64]bool

	stateMu sync.Mutex
	states  map[int64]adminState

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, deps Deps) *Bot {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		cfg:      cfg,
		tr:       deps.Transport,
		store:    deps.Store,
		disp:     deps.Dispatcher,
		albums:   deps.Albums,
		bcast:    deps.Broadcaster,
		out:      deps.Delivery,
		kb:       deps.Keyboards,
		log:      log.With(logx.String("comp", "bot")),
		metrics:  deps.Metrics,
		now:      time.Now,
		inflight: make(chan struct{}, cfg.MaxInFlight),
		states:   map[int64]adminState{},
	}
	b.SetAdmins(cfg.AdminIDs)
	return b
}

// SetAdmins replaces the admin list. Safe to call during hot reload.
func (b *Bot) SetAdmins(ids []int64) {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	b.mu.Lock()
	b.admins = m
	b.mu.Unlock()
}

func (b *Bot) isAdmin(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.admins[id]
}

// Supervisor returns the handler supervisor while Run is active.
func (b *Bot) Supervisor() *rtsup.Supervisor {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.sup
}

// Run consumes updates until ctx is done or the channel closes. Each update
// is handled on its own goroutine. On exit, in-flight handlers get
// DrainTimeout to finish before they are canceled.
func (b *Bot) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)
	b.runMu.Lock()
	b.sup = sup
	b.runMu.Unlock()
	b.log.Info("router started", logx.Int("max_in_flight", cap(b.inflight)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
		defer cancel()
		if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
			b.log.Warn("in-flight handlers canceled", logx.Int64("active", sup.Counters().Active))
			sup.Cancel()
			cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
			_ = sup.Wait(cctx)
			ccancel()
		}
		sup.Cancel()
		b.runMu.Lock()
		b.sup = nil
		b.runMu.Unlock()
		b.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.route(sup, up)
		}
	}
}

func (b *Bot) route(sup *rtsup.Supervisor, up transport.Update) {
	req, h := b.match(up)
	if h == nil {
		return
	}
	b.metrics.Update(req.Route)

	select {
	case b.inflight <- struct{}{}:
	default:
		b.rejectBusy(sup.Context(), req)
		return
	}

	final := Chain(h,
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWTimeout(b.cfg.HandlerTimeout),
	)
	sup.Go0("update."+req.Route, func(ctx context.Context) {
		defer func() { <-b.inflight }()
		_ = final(ctx, req)
	})
}

func (b *Bot) rejectBusy(ctx context.Context, req *Request) {
	req.Logger.Warn("update rejected, too many in flight")
	if cb := req.Update.Callback; cb != nil {
		_ = b.tr.AnswerCallback(ctx, cb.ID, "busy")
		return
	}
	_ = b.out.Send(ctx, req.ChatID, textBusy, nil)
}

// match picks the handler for an update. Route doubles as the metrics label.
func (b *Bot) match(up transport.Update) (*Request, HandlerFunc) {
	req := &Request{Update: up, ReqID: uuid.NewString()}
	switch up.Kind {
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil || cb.FromID == 0 {
			return nil, nil
		}
		req.ChatID, req.FromID, req.Route = cb.ChatID, cb.FromID, "callback"
		req.Args = strings.TrimSpace(cb.Data)
		req.Logger = b.reqLogger(req)
		return req, b.handleCallback

	case transport.UpdateMessage:
		msg := up.Message
		if msg == nil || msg.FromID == 0 {
			return nil, nil
		}
		req.ChatID, req.FromID = msg.ChatID, msg.FromID
		var h HandlerFunc
		if msg.IsCommand() {
			h = b.command(req, msg.Text)
		}
		switch {
		case h != nil:
		case msg.MediaGroupID != "" && albumPhoto(msg) != "":
			req.Route, h = "album", b.handleAlbumItem
		case msg.Photo != nil:
			req.Route, h = "photo", b.handlePhoto
		case msg.Voice != nil:
			req.Route, h = "voice", b.handleVoice
		case msg.Audio != nil:
			req.Route, h = "audio", b.handleAudio
		case msg.Document != nil:
			req.Route, h = "document", b.handleDocument
		case strings.TrimSpace(msg.Text) != "":
			req.Route, h = "text", b.handleText
		default:
			return nil, nil
		}
		req.Logger = b.reqLogger(req)
		return req, h
	}
	return nil, nil
}

// command resolves a slash command. Unknown commands return nil and are
// answered as plain text.
func (b *Bot) command(req *Request, text string) HandlerFunc {
	word, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	var h HandlerFunc
	switch strings.ToLower(word) {
	case "start":
		h = b.handleStart
	case "admin":
		h = b.handleAdmin
	case "broadcast_me":
		h = b.handleBroadcastMe
	default:
		return nil
	}
	req.Route = "command"
	req.Args = strings.TrimSpace(args)
	return h
}

func (b *Bot) reqLogger(req *Request) logx.Logger {
	return b.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.User(req.FromID),
	)
}

func (b *Bot) setState(userID int64, st adminState) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if st == stateNone {
		delete(b.states, userID)
		return
	}
	b.states[userID] = st
}

func (b *Bot) state(userID int64) adminState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.states[userID]
}
