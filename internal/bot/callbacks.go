package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	"umabot/internal/dispatch"
	"umabot/internal/storage"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

const (
	historyPreview = 5
	previewRunes   = 50
)

func (b *Bot) handleCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	// Answer first so the client stops its spinner even if the action is slow.
	if err := b.tr.AnswerCallback(ctx, cb.ID, ""); err != nil {
		req.Logger.Debug("callback answer failed", logx.Err(err))
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	var err error
	switch data := req.Args; data {
	case cbNewDialog:
		if err = b.store.ClearHistory(ctx, req.FromID); err == nil {
			err = b.out.Overwrite(ctx, ref, textNewDialog, b.kb.Chat())
		}
	case cbClearHistory:
		if err = b.store.ClearHistory(ctx, req.FromID); err == nil {
			err = b.out.Overwrite(ctx, ref, textCleared, b.kb.Main())
		}
	case cbSettings:
		err = b.out.Overwrite(ctx, ref, textSettings, b.kb.Settings())
	case cbAbout:
		err = b.out.Overwrite(ctx, ref, textAbout, b.kb.About())
	case cbMainMenu:
		err = b.out.Overwrite(ctx, ref, textMainMenu, b.kb.Main())
	case cbHistory:
		err = b.showHistory(ctx, req, ref)
	case cbRegenerate:
		err = b.regenerate(ctx, req, ref)
	default:
		if strings.HasPrefix(data, "admin_") {
			err = b.handleAdminCallback(ctx, req, ref, data)
		}
	}
	if err != nil {
		_ = b.out.Send(ctx, req.ChatID, textCallbackFailed, nil)
		return fmt.Errorf("callback %s: %w", req.Args, err)
	}
	return nil
}

func (b *Bot) showHistory(ctx context.Context, req *Request, ref transport.MessageRef) error {
	turns, err := b.store.History(ctx, req.FromID, historyPreview)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return b.out.Send(ctx, req.ChatID, textHistoryEmpty, nil)
	}
	var sb strings.Builder
	sb.WriteString("📜 Recent messages:\n\n")
	for i, t := range turns {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, turnPreview(t.Input))
	}
	return b.out.Overwrite(ctx, ref, sb.String(), b.kb.Chat())
}

func turnPreview(in storage.TurnInput) string {
	switch in.Kind {
	case storage.KindImage:
		return "[Image]"
	case storage.KindImages:
		return "[Images]"
	case storage.KindAudio:
		return "[Voice message]"
	}
	r := []rune(in.Text)
	if len(r) > previewRunes {
		return html.EscapeString(string(r[:previewRunes])) + "..."
	}
	return html.EscapeString(in.Text)
}

// regenerate re-runs the last text turn and writes the new answer over the
// message the button was attached to.
func (b *Bot) regenerate(ctx context.Context, req *Request, ref transport.MessageRef) error {
	turns, err := b.store.History(ctx, req.FromID, 1)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return b.out.Send(ctx, req.ChatID, textNothingToRegen, nil)
	}
	last := turns[len(turns)-1]
	if last.Input.Kind != storage.KindText {
		return b.out.Send(ctx, req.ChatID, textRegenTextOnly, nil)
	}
	if err := b.tr.SendChatAction(ctx, transport.ChatTarget{ChatID: req.ChatID}, transport.ActionTyping); err != nil {
		req.Logger.Debug("chat action failed", logx.Err(err))
	}
	reply := b.disp.Handle(ctx, req.FromID, dispatch.Text(last.Input.Text))
	return b.out.Reply(ctx, req.ChatID, ref, reply, b.kb.Chat())
}
