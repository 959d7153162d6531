package models

type ChatMessage struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId"`
	// Sender is the opaque actor id of the author
	Sender string `json:"senderId,omitempty"`
	Text   string `json:"message"`
	TS     int64  `json:"ts"`
	// Read flag set by read receipts
	Read bool `json:"read,omitempty"`
}
