package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pithecene-io/coalesce/transport"
	"github.com/pithecene-io/coalesce/types"
)

// Translate maps an update to an inbound event. Updates the coordinator
// has no use for (edits, unknown callbacks, commands other than /start,
// stickers) report false.
func Translate(update tgbotapi.Update, now time.Time) (transport.Event, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.From == nil || cq.Data != transport.TriggerData {
			return transport.Event{}, false
		}
		ev := transport.Event{
			Kind:       transport.EventTrigger,
			UserID:     cq.From.ID,
			ChatID:     cq.From.ID,
			CallbackID: cq.ID,
			ReceivedAt: now,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID = cq.Message.Chat.ID
			ev.Message = types.MessageHandle{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
		}
		return ev, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return transport.Event{}, false
	}
	ev := transport.Event{
		UserID:     msg.From.ID,
		ChatID:     msg.Chat.ID,
		Message:    types.MessageHandle{ChatID: msg.Chat.ID, MessageID: msg.MessageID},
		ReceivedAt: now,
	}

	switch {
	case msg.Document != nil:
		ev.Kind = transport.EventArtifact
		ev.File = &transport.FileRef{
			ID:   msg.Document.FileID,
			Name: msg.Document.FileName,
			Size: int64(msg.Document.FileSize),
		}
	case msg.IsCommand():
		if msg.Command() != "start" {
			return transport.Event{}, false
		}
		ev.Kind = transport.EventStart
	case msg.Text != "":
		ev.Kind = transport.EventText
		ev.Text = msg.Text
	default:
		return transport.Event{}, false
	}
	return ev, true
}
