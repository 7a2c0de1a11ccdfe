// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, the request core, the broadcast scheduler and the ops
// server. It owns startup order, hot reload and step-wise shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"umabot/internal/batch"
	"umabot/internal/bot"
	"umabot/internal/broadcast"
	"umabot/internal/config"
	"umabot/internal/delivery"
	"umabot/internal/dispatch"
	"umabot/internal/inference"
	"umabot/internal/metrics"
	"umabot/internal/observability/ops"
	rtsup "umabot/internal/runtime/supervisor"
	"umabot/internal/storage"
	"umabot/internal/transport"
	telegram "umabot/internal/transport/telegram/adapter"
	"umabot/pkg/logx"
)

const (
	updatesBuffer = 256

	// broadcastDrain bounds how long shutdown waits for a fan-out in progress
	// so its job can still be marked sent.
	broadcastDrain = 30 * time.Second
)

// Adapter is the transport the app runs on. The Telegram adapter also
// forwards operator log lines.
type Adapter interface {
	transport.Adapter
	logx.Sender
}

type options struct {
	adapter Adapter
	backend inference.Backend
	fetcher inference.Fetcher
}

type Option func(*options)

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a Adapter) Option { return func(o *options) { o.adapter = a } }

// WithBackend replaces the Groq client.
func WithBackend(b inference.Backend) Option { return func(o *options) { o.backend = b } }

func WithFetcher(f inference.Fetcher) Option { return func(o *options) { o.fetcher = f } }

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics
	store   storage.Store
	adapter Adapter

	locks  *dispatch.LockTable
	albums *batch.Batcher
	sched  *broadcast.Scheduler
	bot    *bot.Bot
	ops    *ops.Server

	drain   time.Duration
	updates chan transport.Update
	botDone chan struct{}

	// schedOn tracks whether the scheduler loop should run; toggled by reload.
	mu      sync.Mutex
	schedOn bool
}

// New loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(mapAdapter(cfg), bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	// The log chat must be known before Apply enables the Telegram sink.
	logs, log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: true}, ad)
	logs.SetTelegramTarget(groupLogChat(cfg))
	logs.Apply(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	m := metrics.New()

	backend := o.backend
	if backend == nil {
		backend = inference.NewGroqClient(mapGroq(cfg), log.With(logx.String("comp", "inference")))
	}
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = inference.NewHTTPFetcher(config.Duration(cfg.Inference.FetchTimeout))
	}

	locks := dispatch.NewLockTable()
	disp := dispatch.New(mapDispatch(cfg), dispatch.Deps{
		Locks:   locks,
		History: store,
		Backend: backend,
		Fetcher: fetcher,
		Log:     log.With(logx.String("comp", "dispatch")),
		Metrics: m,
	})

	kb := bot.Keyboards{Website: strings.TrimSpace(cfg.Broadcast.WebsiteURL)}
	out := delivery.New(mapDelivery(), ad, log.With(logx.String("comp", "delivery")), m)

	albums := batch.New(mapBatch(cfg), batch.Deps{
		Handler:  disp,
		Files:    ad,
		Sender:   ad,
		Delivery: out,
		Keyboard: kb.Chat(),
		Log:      log.With(logx.String("comp", "batch")),
		Metrics:  m,
	})

	sched, err := broadcast.New(mapBroadcast(cfg), broadcast.Deps{
		Store:     store,
		Messenger: out,
		Keyboard:  kb.Broadcast(),
		Log:       log,
		Metrics:   m,
	})
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	botCfg := mapBot(cfg)
	b := bot.New(botCfg, bot.Deps{
		Transport:   ad,
		Store:       store,
		Dispatcher:  disp,
		Albums:      albums,
		Broadcaster: sched,
		Delivery:    out,
		Keyboards:   kb,
		Log:         log,
		Metrics:     m,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		metrics: m,
		store:   store,
		adapter: ad,
		locks:   locks,
		albums:  albums,
		sched:   sched,
		bot:     b,
		drain:   bot.DefaultDrainTimeout,
		updates: make(chan transport.Update, updatesBuffer),
		botDone: make(chan struct{}),
	}
	if cfg.Ops.Enabled {
		a.ops = ops.New(mapOps(cfg), ops.Deps{
			Metrics: m.Handler(),
			Probes:  a.probes(),
			Log:     log.With(logx.String("comp", "ops")),
		})
	}
	return a, nil
}

func (a *App) probes() map[string]ops.Probe {
	return map[string]ops.Probe{
		"router": func() any {
			sup := a.bot.Supervisor()
			if sup == nil {
				return map[string]any{"running": false}
			}
			return map[string]any{"running": true, "handlers": sup.Counters()}
		},
		"dispatch": func() any { return map[string]int{"user_locks": a.locks.Len()} },
		"albums":   func() any { return map[string]int{"pending": a.albums.Pending()} },
		"broadcast": func() any {
			return a.sched.Snapshot()
		},
	}
}

// Done is closed when the app context ends, including after a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Ops returns the ops server, or nil when disabled.
func (a *App) Ops() *ops.Server { return a.ops }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "app"))),
		rtsup.WithCancelOnError(true),
	)
	cfg := a.cfgm.Get()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("bot.run", func(c context.Context) error {
		defer close(a.botDone)
		return a.bot.Run(c, a.updates)
	})

	if cfg.Broadcast.Enabled {
		_ = a.setScheduler(a.sup.Context(), true)
	}

	if a.ops != nil {
		if err := a.ops.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	a.startWatchdog()

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: apply only the newest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("storage", mapStorage(cfg).Driver),
		logx.Bool("broadcast", cfg.Broadcast.Enabled),
		logx.Bool("ops", a.ops != nil),
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
	)
	return nil
}

// setScheduler starts or stops the broadcast loop. Stopping waits for the
// current tick, including its fan-out, until ctx is done.
func (a *App) setScheduler(ctx context.Context, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.schedOn == on {
		return nil
	}
	a.schedOn = on
	if on {
		a.sched.Start(ctx)
		return nil
	}
	return a.sched.Stop(ctx)
}

// applyConfig applies the live-reloadable parts of next. Everything else
// is logged as needing a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	change := config.SummarizeChange(prev, next)
	if change.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Fields...)...)

	if change.Has("logging") || change.Has("telegram") {
		a.logs.SetTelegramTarget(groupLogChat(next))
		a.logs.Apply(mapLogging(next))
	}
	if change.Has("telegram.admins") {
		a.bot.SetAdmins(next.Telegram.AdminUserIDs)
	}
	if change.Has("broadcast") {
		if err := a.sched.Apply(mapBroadcast(next)); err != nil {
			a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
		}
	}
	if change.Has("broadcast.enabled") {
		if next.Broadcast.Enabled {
			a.log.Info("broadcast scheduler enabled via config")
		} else {
			a.log.Info("broadcast scheduler disabled via config")
		}
		if next.Broadcast.Enabled {
			_ = a.setScheduler(ctx, true)
		} else {
			stopCtx, cancel := context.WithTimeout(ctx, broadcastDrain)
			if err := a.setScheduler(stopCtx, false); err != nil {
				a.log.Warn("broadcast scheduler still delivering after disable", logx.Err(err))
			}
			cancel()
		}
	}
	if len(change.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(change.RestartRequired, ",")))
	}
	a.log.Info("config applied", logx.String("changed", strings.Join(change.Sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, a.log, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// No new updates, then let accepted ones finish.
	step("adapter", 3*time.Second, a.adapter.Stop)
	a.sup.Cancel()
	step("router", a.drain+2*time.Second, func(c context.Context) error {
		select {
		case <-a.botDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("albums", 3*time.Second, a.albums.Close)
	schedErr := runStep(ctx, a.log, "broadcast", broadcastDrain, func(c context.Context) error {
		return a.setScheduler(c, false)
	})
	if schedErr != nil {
		errs = append(errs, fmt.Errorf("broadcast: %w", schedErr))
	}
	if a.ops != nil {
		step("ops", 2*time.Second, a.ops.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	// A fan-out that outlived its step still has to mark its job sent.
	if schedErr != nil {
		a.log.Warn("storage left open: broadcast still in progress")
	} else {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// runStep runs one shutdown step bounded by limit and the caller's deadline.
// A step that overruns is left running and reported when it finishes.
func runStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return stepCtx.Err()
	}
}
