package telegram

// Update is the subset of a Bot API update the webhook understands.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// User is a Telegram user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat is a Telegram chat.
type Chat struct {
	ID int64 `json:"id"`
}

// Button is an inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// OutgoingMessage is a message sent to a chat.
type OutgoingMessage struct {
	ChatID  string     `json:"chat_id"`
	Text    string     `json:"text"`
	Buttons [][]Button `json:"inline_keyboard,omitempty"`
}

// Reply statuses returned by the webhook.
const (
	StatusIgnored          = "ignored"
	StatusDuplicate        = "duplicate"
	StatusUnauthorized     = "unauthorized"
	StatusNotFound         = "not_found"
	StatusAlreadyDecided   = "already_decided"
	StatusProcessed        = "processed"
	StatusCommandProcessed = "command_processed"
)

// Reply is the webhook response body.
type Reply struct {
	Status string `json:"status"`
	Text   string `json:"-"`
}
