package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"umabot/internal/transport"
	"umabot/pkg/logx"
)

// Request is one routed update.
type Request struct {
	Update transport.Update
	ChatID int64
	FromID int64
	// Route is the command, callback data or message kind that matched.
	Route  string
	Args   string
	ReqID  string
	Logger logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := append(requestFields(req), logx.Duration("dur", d))
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// requestFields describes what the update carried: album, media kind and
// callback payload where present.
func requestFields(req *Request) []logx.Field {
	fields := []logx.Field{
		logx.String("kind", string(req.Update.Kind)),
		logx.String("route", req.Route),
	}
	if cb := req.Update.Callback; cb != nil {
		return append(fields, logx.String("data", cb.Data))
	}
	m := req.Update.Message
	if m == nil {
		return fields
	}
	if m.MediaGroupID != "" {
		fields = append(fields, logx.String("album", m.MediaGroupID))
	}
	media, kind := m.Photo, "photo"
	switch {
	case m.Voice != nil:
		media, kind = m.Voice, "voice"
	case m.Audio != nil:
		media, kind = m.Audio, "audio"
	case m.Document != nil:
		media, kind = m.Document, "document"
	}
	if media != nil {
		fields = append(fields, logx.String("media", kind))
		if media.MIMEType != "" {
			fields = append(fields, logx.String("mime", media.MIMEType))
		}
		if media.Size > 0 {
			fields = append(fields, logx.Int64("size", media.Size))
		}
	}
	return fields
}
