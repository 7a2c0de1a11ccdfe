// Package delivery writes replies back to a chat: it chunks long text,
// overwrites the "processing" placeholder with the first chunk and falls
// back to a fresh message when Telegram refuses the edit.
package delivery

import (
	"context"
	"errors"

	"umabot/internal/chunk"
	"umabot/internal/metrics"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

const emptyReply = "…"

type Config struct {
	MaxLen    int
	ParseMode string
}

type Delivery struct {
	cfg     Config
	sender  transport.Sender
	log     logx.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, sender transport.Sender, log logx.Logger, m *metrics.Metrics) *Delivery {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = chunk.MaxMessage
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Delivery{cfg: cfg, sender: sender, log: log, metrics: m}
}

func (d *Delivery) opts(kb *transport.Keyboard) *transport.SendOptions {
	return &transport.SendOptions{ParseMode: d.cfg.ParseMode, DisablePreview: true, Keyboard: kb}
}

// Send sends text as one or more messages. The keyboard goes on the last one.
func (d *Delivery) Send(ctx context.Context, chatID int64, text string, kb *transport.Keyboard) error {
	return d.Reply(ctx, chatID, transport.MessageRef{}, text, kb)
}

// Reply replaces placeholder with the first chunk of text and sends the rest
// as new messages. A zero placeholder sends everything fresh. Every chunk is
// attempted; the joined errors are returned.
func (d *Delivery) Reply(ctx context.Context, chatID int64, placeholder transport.MessageRef, text string, kb *transport.Keyboard) error {
	parts := chunk.Split(text, d.cfg.MaxLen)
	if len(parts) == 0 {
		parts = []string{emptyReply}
	}

	var errs []error
	for i, part := range parts {
		var k *transport.Keyboard
		if i == len(parts)-1 {
			k = kb
		}
		var err error
		if i == 0 && !placeholder.IsZero() {
			err = d.Overwrite(ctx, placeholder, part, k)
		} else {
			_, err = d.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, part, d.opts(k))
			if err == nil {
				d.metrics.Delivery("send")
			}
		}
		if err != nil {
			d.log.Warn("reply chunk failed", logx.Int64("chat_id", chatID), logx.Int("part", i), logx.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Overwrite edits ref in place. When the content is unchanged the message is
// deleted and sent again; any other edit failure sends a new message.
func (d *Delivery) Overwrite(ctx context.Context, ref transport.MessageRef, text string, kb *transport.Keyboard) error {
	opt := d.opts(kb)
	err := d.sender.EditText(ctx, ref, text, opt)
	if err == nil {
		d.metrics.Delivery("edit")
		return nil
	}
	to := transport.ChatTarget{ChatID: ref.ChatID}

	if errors.Is(err, transport.ErrNotModified) {
		if derr := d.sender.DeleteMessage(ctx, ref); derr != nil {
			d.log.Debug("delete before resend failed", logx.Err(derr))
		}
		if _, serr := d.sender.SendText(ctx, to, text, opt); serr != nil {
			return serr
		}
		d.metrics.Delivery("resend")
		return nil
	}

	d.log.Warn("edit failed, sending new message", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	if _, serr := d.sender.SendText(ctx, to, text, opt); serr != nil {
		return serr
	}
	d.metrics.Delivery("send_new")
	return nil
}
