package bot

import (
	"context"
	"strings"

	"umabot/internal/batch"
	"umabot/internal/dispatch"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

func (b *Bot) touchUser(ctx context.Context, req *Request) {
	msg := req.Update.Message
	if err := b.store.AddUser(ctx, msg.FromID, msg.FromUsername, msg.FromFirstName); err != nil {
		req.Logger.Warn("user upsert failed", logx.Err(err))
	}
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	b.setState(req.FromID, stateNone)
	return b.out.Send(ctx, req.ChatID, textWelcome, b.kb.Main())
}

func (b *Bot) handleText(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	text := req.Update.Message.Text
	if st := b.state(req.FromID); st != stateNone && b.isAdmin(req.FromID) {
		return b.handleAdminInput(ctx, req, st, text)
	}
	return b.answer(ctx, req, placeholderText, transport.ActionTyping, dispatch.MsgTextFailed,
		func(context.Context) (dispatch.Request, error) { return dispatch.Text(text), nil })
}

func (b *Bot) handlePhoto(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	msg := req.Update.Message
	return b.answerImage(ctx, req, msg.Photo.FileID, msg.Caption)
}

func (b *Bot) handleVoice(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	return b.answerAudio(ctx, req, placeholderVoice, req.Update.Message.Voice.FileID)
}

func (b *Bot) handleAudio(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	return b.answerAudio(ctx, req, placeholderAudio, req.Update.Message.Audio.FileID)
}

// handleDocument routes image and audio files by MIME type.
func (b *Bot) handleDocument(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	msg := req.Update.Message
	doc := msg.Document
	mime := strings.ToLower(doc.MIMEType)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return b.answerImage(ctx, req, doc.FileID, msg.Caption)
	case strings.HasPrefix(mime, "audio/"):
		return b.answerAudio(ctx, req, placeholderAudio, doc.FileID)
	default:
		return b.out.Send(ctx, req.ChatID, textUnsupported, b.kb.Chat())
	}
}

func (b *Bot) handleAlbumItem(ctx context.Context, req *Request) error {
	b.touchUser(ctx, req)
	msg := req.Update.Message
	item := batch.Item{MessageID: msg.ID, PhotoFileID: albumPhoto(msg), Caption: msg.Caption}
	return b.albums.OnItem(ctx, msg.MediaGroupID, msg.FromID, msg.ChatID, item)
}

// albumPhoto returns the file id of an album image, or "" for other items.
func albumPhoto(msg *transport.Message) string {
	if msg.Photo != nil {
		return msg.Photo.FileID
	}
	if d := msg.Document; d != nil && strings.HasPrefix(strings.ToLower(d.MIMEType), "image/") {
		return d.FileID
	}
	return ""
}

func (b *Bot) answerImage(ctx context.Context, req *Request, fileID, caption string) error {
	return b.answer(ctx, req, placeholderImage, transport.ActionUploadPhoto, dispatch.MsgImageFailed,
		func(ctx context.Context) (dispatch.Request, error) {
			url, err := b.tr.FileURL(ctx, fileID)
			if err != nil {
				return dispatch.Request{}, err
			}
			return dispatch.Image(url, caption), nil
		})
}

func (b *Bot) answerAudio(ctx context.Context, req *Request, placeholder, fileID string) error {
	return b.answer(ctx, req, placeholder, transport.ActionRecordVoice, dispatch.MsgAudioFailed,
		func(ctx context.Context) (dispatch.Request, error) {
			url, err := b.tr.FileURL(ctx, fileID)
			if err != nil {
				return dispatch.Request{}, err
			}
			return dispatch.Audio(url), nil
		})
}

// answer shows a placeholder, runs the request through the dispatcher and
// replaces the placeholder with the reply.
func (b *Bot) answer(ctx context.Context, req *Request, placeholder string, action transport.ChatAction, failed string, build func(context.Context) (dispatch.Request, error)) error {
	to := transport.ChatTarget{ChatID: req.ChatID}
	ph, err := b.tr.SendText(ctx, to, placeholder, nil)
	if err != nil {
		req.Logger.Warn("placeholder send failed", logx.Err(err))
		ph = transport.MessageRef{}
	}
	if err := b.tr.SendChatAction(ctx, to, action); err != nil {
		req.Logger.Debug("chat action failed", logx.Err(err))
	}

	reply := failed
	if dr, err := build(ctx); err != nil {
		req.Logger.Warn("file url resolve failed", logx.Err(err))
	} else {
		reply = b.disp.Handle(ctx, req.FromID, dr)
	}
	return b.out.Reply(ctx, req.ChatID, ph, reply, b.kb.Chat())
}
