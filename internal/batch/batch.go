// Package batch merges album items that Telegram delivers as separate
// updates into one multi-image request.
package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"umabot/internal/delivery"
	"umabot/internal/dispatch"
	"umabot/internal/metrics"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

var ErrClosed = errors.New("batch: closed")

const (
	DefaultWindow   = time.Second
	PlaceholderText = "🔍 Analyzing images..."
)

// Item is one album element. PhotoFileID is empty for non-photo items.
type Item struct {
	MessageID   int
	PhotoFileID string
	Caption     string
}

// Handler is the dispatcher entry point.
type Handler interface {
	Handle(ctx context.Context, userID int64, req dispatch.Request) string
}

type Config struct {
	Window time.Duration
}

type Deps struct {
	Handler  Handler
	Files    transport.FileResolver
	Sender   transport.Sender
	Delivery *delivery.Delivery
	// Keyboard is attached to the last reply chunk.
	Keyboard *transport.Keyboard
	Log      logx.Logger
	Metrics  *metrics.Metrics
}

type pendingBatch struct {
	id          string
	userID      int64
	chatID      int64
	items       []Item
	placeholder transport.MessageRef
	deadline    time.Time
}

type Batcher struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu      sync.Mutex
	batches map[string]*pendingBatch
	closed  bool

	// wg tracks armed timers and in-flight finalizations.
	wg sync.WaitGroup
}

func New(cfg Config, deps Deps) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Batcher{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		batches: make(map[string]*pendingBatch),
	}
}

// OnItem adds item to the batch identified by key. The first item of a key
// sends the placeholder and arms the window timer; later items only append.
func (b *Batcher) OnItem(ctx context.Context, key string, userID, chatID int64, item Item) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if pb, ok := b.batches[key]; ok {
		pb.items = append(pb.items, item)
		b.mu.Unlock()
		return nil
	}
	pb := &pendingBatch{
		id:       uuid.NewString(),
		userID:   userID,
		chatID:   chatID,
		items:    []Item{item},
		deadline: time.Now().Add(b.cfg.Window),
	}
	b.batches[key] = pb
	n := len(b.batches)
	b.wg.Add(1)
	b.mu.Unlock()
	b.deps.Metrics.PendingBatches(n)

	ref, err := b.deps.Sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, PlaceholderText, nil)
	if err != nil {
		b.log.Warn("placeholder send failed", logx.String("batch_id", pb.id), logx.Err(err))
	} else {
		b.mu.Lock()
		pb.placeholder = ref
		b.mu.Unlock()
	}

	b.log.Debug("batch opened", logx.String("batch_id", pb.id), logx.String("group", key), logx.User(userID))
	time.AfterFunc(b.cfg.Window, func() {
		defer b.wg.Done()
		b.Finalize(context.Background(), key)
	})
	return nil
}

// Finalize flushes the batch for key. It returns false when the key is
// unknown or was already finalized, so redundant calls are harmless.
func (b *Batcher) Finalize(ctx context.Context, key string) bool {
	b.mu.Lock()
	pb, ok := b.batches[key]
	if ok {
		delete(b.batches, key)
		b.wg.Add(1)
	}
	n := len(b.batches)
	b.mu.Unlock()
	if !ok {
		return false
	}
	defer b.wg.Done()
	b.deps.Metrics.PendingBatches(n)

	log := b.log.With(logx.String("batch_id", pb.id), logx.User(pb.userID))
	var (
		urls     []string
		captions []string
	)
	for _, it := range pb.items {
		if c := strings.TrimSpace(it.Caption); c != "" {
			captions = append(captions, c)
		}
		if it.PhotoFileID == "" {
			continue
		}
		url, err := b.deps.Files.FileURL(ctx, it.PhotoFileID)
		if err != nil {
			log.Warn("album photo unresolved", logx.Int("message_id", it.MessageID), logx.Err(err))
			continue
		}
		urls = append(urls, url)
	}

	reply := b.deps.Handler.Handle(ctx, pb.userID, dispatch.ImageSet(urls, strings.Join(captions, " ")))

	outcome := "ok"
	if err := b.deps.Delivery.Reply(ctx, pb.chatID, pb.placeholder, reply, b.deps.Keyboard); err != nil {
		log.Error("batch reply failed", logx.Err(err))
		outcome = "delivery_error"
	}
	b.deps.Metrics.BatchFinalized(outcome)
	log.Info("batch finalized",
		logx.Int("items", len(pb.items)),
		logx.Int("images", len(urls)),
		logx.Duration("late_by", time.Since(pb.deadline)),
	)
	return true
}

// Pending returns the number of open batches.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// Close drops open batches and waits for timers and in-flight
// finalizations until ctx is done. Dropped batches keep their placeholder.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	dropped := len(b.batches)
	b.batches = make(map[string]*pendingBatch)
	b.mu.Unlock()
	b.deps.Metrics.PendingBatches(0)
	if dropped > 0 {
		b.log.Warn("open batches dropped on shutdown", logx.Int("count", dropped))
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
