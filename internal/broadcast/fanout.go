package broadcast

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"umabot/internal/transport"
	"umabot/pkg/logx"
)

// Messenger delivers one (possibly chunked) message to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) error
}

// FanOut sends text to every recipient, one attempt each, paced by the
// configured interval. Failures are logged and skipped.
func (s *Scheduler) FanOut(ctx context.Context, source string, recipients []int64, text string) Result {
	s.mu.Lock()
	pacing := s.cfg.Pacing
	s.mu.Unlock()

	lim := rate.NewLimiter(rate.Every(pacing), 1)
	start := time.Now()
	res := Result{Total: len(recipients)}
	for i, id := range recipients {
		if err := lim.Wait(ctx); err != nil {
			s.log.Warn("broadcast interrupted", logx.String("source", source), logx.Int("remaining", len(recipients)-i), logx.Err(err))
			break
		}
		if err := s.msgr.Send(ctx, id, text, s.kb); err != nil {
			s.log.Debug("broadcast send failed", logx.String("source", source), logx.User(id), logx.Err(err))
			continue
		}
		res.Success++
	}
	s.metrics.Broadcast(source, res.Success, res.Total)

	fields := []logx.Field{
		logx.String("source", source),
		logx.Int("total", res.Total),
		logx.Int("success", res.Success),
		logx.Duration("dur", time.Since(start)),
	}
	if res.Failed() > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return res
}
