package telegram

import (
	"context"
	"log/slog"
)

// Messenger delivers bot output. The Bot API client lives outside this
// module.
type Messenger interface {
	SendMessage(ctx context.Context, message *OutgoingMessage) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// LogMessenger writes bot output to a logger, used when no bot is configured.
type LogMessenger struct {
	Logger *slog.Logger
}

// SendMessage implements Messenger.
func (m *LogMessenger) SendMessage(_ context.Context, message *OutgoingMessage) error {
	m.logger().Info("telegram message", "chat_id", message.ChatID, "text", message.Text, "buttons", len(message.Buttons))
	return nil
}

// AnswerCallback implements Messenger.
func (m *LogMessenger) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	m.logger().Info("telegram callback answer", "callback_id", callbackID, "text", text, "alert", alert)
	return nil
}

func (m *LogMessenger) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
