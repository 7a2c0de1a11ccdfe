package bot

const (
	textWelcome = "🤖 Welcome to Uma Bot!\n\n" +
		"I'm a smart AI assistant.\n\n" +
		"• I answer questions\n• I analyze images\n" +
		"• I recognize voice\n• I look up fresh information\n\n" +
		"Choose an action:"
	textMainMenu   = "🤖 Uma Bot main menu\n\nChoose an action:"
	textNewDialog  = "💬 New dialog started! Send a message."
	textCleared    = "🗑 Dialog history cleared!"
	textSettings   = "⚙️ Settings\n\nManage the bot settings here."
	textAbout      = "ℹ️ About Uma Bot\n\n" +
		"Uma Bot is a smart AI assistant.\n\n" +
		"• 💬 Dialogs\n• 🖼️ Image analysis\n• 🎤 Speech\n• 🔍 Search\n\n" +
		"🌐 Learn more on the website:"
	textHistoryEmpty   = "History is empty"
	textNothingToRegen = "No messages to regenerate"
	textRegenTextOnly  = "Regeneration is only available for text"
	textUnsupported    = "Sorry, I don't support this file type yet. Send text, an image or a voice message."
	textCallbackFailed = "Something went wrong, please try again"
	textBusy           = "⏳ Too many requests right now, please try again in a moment."

	placeholderText  = "✍️ Writing..."
	placeholderImage = "🔍 Analyzing image..."
	placeholderVoice = "🎤 Processing voice message..."
	placeholderAudio = "🎵 Processing audio file..."

	textAdminDenied    = "⛔ You don't have access to the admin panel."
	textAdminShort     = "🔧 Admin panel\n\nChoose an action:"
	textAdminBroadcast = "📢 Broadcast management\n\n" +
		"• Send a broadcast to all users\n" +
		"• Schedule a broadcast\n" +
		"• Review broadcast statistics\n\n" +
		"Choose an action:"
	textAdminAskMessage  = "✏️ Enter the broadcast text.\n\nHTML formatting is supported: &lt;b&gt;bold&lt;/b&gt;, &lt;i&gt;italic&lt;/i&gt;, &lt;a href=\"url\"&gt;link&lt;/a&gt;"
	textAdminAskSchedule = "🗓 Broadcast scheduler\n\n" +
		"Send the time and the message:\n" +
		"DD.MM.YYYY HH:MM message\n\n" +
		"For example: 15.08.2025 14:30 Hello everyone!"
	textAdminBadSchedule = "❌ Invalid format. Use DD.MM.YYYY HH:MM message\n" +
		"For example: 15.08.2025 14:30 Hello everyone!"
	textAdminTestBroadcast = "🚀 Test broadcast from the admin!"
	textBroadcastMeUsage   = "Usage: /broadcast_me &lt;text&gt;"
)
