package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"umabot/internal/broadcast"
	"umabot/internal/storage"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

const scheduleLayout = "02.01.2006 15:04"

var errScheduleFormat = errors.New("expected DD.MM.YYYY HH:MM message")

func (b *Bot) handleAdmin(ctx context.Context, req *Request) error {
	if !b.isAdmin(req.FromID) {
		return b.out.Send(ctx, req.ChatID, textAdminDenied, nil)
	}
	b.setState(req.FromID, stateNone)
	text, err := b.panelText(ctx)
	if err != nil {
		return err
	}
	return b.out.Send(ctx, req.ChatID, text, b.kb.Admin())
}

// handleBroadcastMe sends a broadcast to the calling admin only.
func (b *Bot) handleBroadcastMe(ctx context.Context, req *Request) error {
	if !b.isAdmin(req.FromID) {
		return b.out.Send(ctx, req.ChatID, textAdminDenied, nil)
	}
	if req.Args == "" {
		return b.out.Send(ctx, req.ChatID, textBroadcastMeUsage, nil)
	}
	res, err := b.bcast.SendManual(ctx, req.Args, req.FromID)
	if err != nil {
		return err
	}
	return b.out.Send(ctx, req.ChatID, resultText(res), nil)
}

// handleAdminCallback ignores callbacks from non-admins.
func (b *Bot) handleAdminCallback(ctx context.Context, req *Request, ref transport.MessageRef, data string) error {
	if !b.isAdmin(req.FromID) {
		req.Logger.Warn("admin callback from non-admin", logx.String("data", data))
		return nil
	}
	switch data {
	case cbAdminPanel:
		text, err := b.panelText(ctx)
		if err != nil {
			return err
		}
		return b.out.Overwrite(ctx, ref, text, b.kb.Admin())
	case cbAdminBroadcast:
		return b.out.Overwrite(ctx, ref, textAdminBroadcast, b.kb.Admin())
	case cbAdminMessage:
		b.setState(req.FromID, stateAwaitBroadcast)
		return b.out.Overwrite(ctx, ref, textAdminAskMessage, b.kb.Admin())
	case cbAdminScheduler:
		b.setState(req.FromID, stateAwaitSchedule)
		return b.out.Overwrite(ctx, ref, textAdminAskSchedule, b.kb.Admin())
	case cbAdminSendTest:
		res, err := b.broadcastAll(ctx, textAdminTestBroadcast)
		if err != nil {
			return err
		}
		return b.out.Overwrite(ctx, ref, resultText(res), b.kb.Admin())
	case cbAdminStats:
		st, err := b.store.Statistics(ctx, b.now())
		if err != nil {
			return err
		}
		return b.out.Overwrite(ctx, ref, statsText(st), b.kb.Admin())
	case cbAdminBack:
		b.setState(req.FromID, stateNone)
		return b.out.Overwrite(ctx, ref, textAdminShort, b.kb.Admin())
	}
	return nil
}

// handleAdminInput consumes the text an admin sent after choosing a
// broadcast action in the panel.
func (b *Bot) handleAdminInput(ctx context.Context, req *Request, st adminState, text string) error {
	switch st {
	case stateAwaitBroadcast:
		b.setState(req.FromID, stateNone)
		res, err := b.broadcastAll(ctx, text)
		if err != nil {
			return err
		}
		return b.out.Send(ctx, req.ChatID, resultText(res), b.kb.Admin())

	case stateAwaitSchedule:
		at, msg, err := parseSchedule(text, b.cfg.Location)
		if err != nil {
			return b.out.Send(ctx, req.ChatID, textAdminBadSchedule, b.kb.Admin())
		}
		id, err := b.bcast.Schedule(ctx, msg, at)
		if err != nil {
			return err
		}
		b.setState(req.FromID, stateNone)
		reply := fmt.Sprintf("✅ Broadcast #%d scheduled for %s", id, at.Format(scheduleLayout))
		return b.out.Send(ctx, req.ChatID, reply, b.kb.Admin())
	}
	return nil
}

// broadcastAll fans out to every active user. The fan-out outlives the
// handler timeout so a large audience is never cut short.
func (b *Bot) broadcastAll(ctx context.Context, text string) (broadcast.Result, error) {
	return b.bcast.SendManual(context.WithoutCancel(ctx), text, 0)
}

// parseSchedule reads "DD.MM.YYYY HH:MM message" in loc.
func parseSchedule(input string, loc *time.Location) (time.Time, string, error) {
	date, rest := cutSpace(strings.TrimSpace(input))
	clock, msg := cutSpace(rest)
	msg = strings.TrimSpace(msg)
	if date == "" || clock == "" || msg == "" {
		return time.Time{}, "", errScheduleFormat
	}
	at, err := time.ParseInLocation(scheduleLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", errScheduleFormat, err)
	}
	return at, msg, nil
}

func cutSpace(s string) (head, tail string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func (b *Bot) panelText(ctx context.Context) (string, error) {
	st, err := b.store.Statistics(ctx, b.now())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔧 Uma Bot admin panel\n\n"+
		"📊 Statistics:\n"+
		"• Users: %d\n"+
		"• Active today: %d\n"+
		"• Messages: %d\n\n"+
		"Choose an action:", st.TotalUsers, st.ActiveToday, st.TotalMessages), nil
}

func statsText(st storage.Statistics) string {
	return fmt.Sprintf("📊 Detailed statistics\n\n"+
		"👥 Users:\n"+
		"• Total: %d\n"+
		"• Active today: %d\n"+
		"• New this week: %d\n\n"+
		"💬 Messages:\n"+
		"• Total: %d\n"+
		"• Text: %d\n"+
		"• Images: %d\n"+
		"• Voice: %d\n\n"+
		"📅 Activity:\n"+
		"• Today: %d\n"+
		"• This week: %d",
		st.TotalUsers, st.ActiveToday, st.NewThisWeek,
		st.TotalMessages, st.TextMessages, st.ImageMessages, st.AudioMessages,
		st.MessagesToday, st.MessagesThisWeek)
}

func resultText(res broadcast.Result) string {
	return fmt.Sprintf("✅ Broadcast sent: %d/%d delivered", res.Success, res.Total)
}
