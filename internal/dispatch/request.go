package dispatch

import "umabot/internal/storage"

// Request is one logical user request. Build it with Text, Image, ImageSet or Audio.
type Request struct {
	Kind storage.Kind
	// Text is the message body for text requests and the caption for images.
	Text string
	// URLs holds image URLs, or the single audio URL.
	URLs []string
}

func Text(body string) Request {
	return Request{Kind: storage.KindText, Text: body}
}

func Image(url, caption string) Request {
	return Request{Kind: storage.KindImage, Text: caption, URLs: []string{url}}
}

func ImageSet(urls []string, caption string) Request {
	return Request{Kind: storage.KindImages, Text: caption, URLs: urls}
}

func Audio(url string) Request {
	return Request{Kind: storage.KindAudio, URLs: []string{url}}
}

// User-facing fixed replies. They never carry error details.
const (
	MsgTextFailed   = "Sorry, something went wrong while processing your message. Please try again."
	MsgImageFailed  = "Sorry, something went wrong while processing the image. Please try again."
	MsgImagesFailed = "Sorry, something went wrong while processing the images. Please try again."
	MsgAudioFailed  = "🎤 Sorry, something went wrong while processing the voice message. Try sending it as text or try again."
	MsgNoImages     = "Sorry, I couldn't process any of the images. Please send them again."
	MsgNoSpeech     = "🎤 Sorry, I couldn't recognize any speech in the voice message. Try:\n\n" +
		"• Speaking more clearly and loudly\n" +
		"• Recording in a quiet place\n" +
		"• Sending it as text if the problem repeats"
)

func apology(kind storage.Kind) string {
	switch kind {
	case storage.KindImage:
		return MsgImageFailed
	case storage.KindImages:
		return MsgImagesFailed
	case storage.KindAudio:
		return MsgAudioFailed
	default:
		return MsgTextFailed
	}
}
