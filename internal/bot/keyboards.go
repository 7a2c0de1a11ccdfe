package bot

import "umabot/internal/transport"

// Callback data understood by the router.
const (
	cbNewDialog    = "new_dialog"
	cbHistory      = "history"
	cbSettings     = "settings"
	cbAbout        = "about"
	cbMainMenu     = "main_menu"
	cbClearHistory = "clear_history"
	cbRegenerate   = "regenerate"

	cbAdminPanel     = "admin_panel"
	cbAdminBroadcast = "admin_broadcast"
	cbAdminMessage   = "admin_message"
	cbAdminScheduler = "admin_scheduler"
	cbAdminSendTest  = "admin_send_broadcast"
	cbAdminStats     = "admin_stats"
	cbAdminBack      = "admin_back"
)

// Keyboards builds the inline keyboards. Buttons that open the website are
// omitted when no URL is configured.
type Keyboards struct {
	Website string
}

func (k Keyboards) site() []transport.Button {
	if k.Website == "" {
		return nil
	}
	return transport.Row(transport.Button{Text: "🌐 Open website", URL: k.Website})
}

func (k Keyboards) Main() *transport.Keyboard {
	return transport.NewKeyboard(
		transport.Row(transport.Button{Text: "💬 New dialog", Data: cbNewDialog}),
		transport.Row(transport.Button{Text: "📜 History", Data: cbHistory}),
		transport.Row(transport.Button{Text: "⚙️ Settings", Data: cbSettings}),
		transport.Row(transport.Button{Text: "ℹ️ About", Data: cbAbout}),
		k.site(),
	)
}

// Chat is attached to the last chunk of every answer.
func (k Keyboards) Chat() *transport.Keyboard {
	return transport.NewKeyboard(transport.Row(
		transport.Button{Text: "🔄 Regenerate", Data: cbRegenerate},
		transport.Button{Text: "📋 Menu", Data: cbMainMenu},
	))
}

func (k Keyboards) Settings() *transport.Keyboard {
	return transport.NewKeyboard(
		transport.Row(transport.Button{Text: "🔙 Back", Data: cbMainMenu}),
		transport.Row(transport.Button{Text: "🗑 Clear history", Data: cbClearHistory}),
	)
}

func (k Keyboards) About() *transport.Keyboard {
	return transport.NewKeyboard(
		k.site(),
		transport.Row(transport.Button{Text: "🔙 Back", Data: cbMainMenu}),
	)
}

func (k Keyboards) Admin() *transport.Keyboard {
	return transport.NewKeyboard(
		transport.Row(transport.Button{Text: "📊 Statistics", Data: cbAdminStats}),
		transport.Row(transport.Button{Text: "📢 Broadcasts", Data: cbAdminBroadcast}),
		transport.Row(transport.Button{Text: "✏️ Broadcast message", Data: cbAdminMessage}),
		transport.Row(transport.Button{Text: "🗓 Scheduler", Data: cbAdminScheduler}),
		transport.Row(transport.Button{Text: "🚀 Test broadcast", Data: cbAdminSendTest}),
		transport.Row(transport.Button{Text: "🔙 Back", Data: cbAdminBack}),
	)
}

// Broadcast is attached to daily, scheduled and manual broadcasts.
func (k Keyboards) Broadcast() *transport.Keyboard {
	return transport.NewKeyboard(
		k.site(),
		transport.Row(transport.Button{Text: "💬 Start chat", Data: cbNewDialog}),
	)
}
