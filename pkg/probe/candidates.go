package probe

import "net/http"

// Operation names a logical backend call. Each maps to a static,
// ordered list of candidate paths; the order never changes at runtime
// and the winning candidate is not memoized across calls.
type Operation string

const (
	OpFetchChat    Operation = "fetch_chat"
	OpCreateChat   Operation = "create_chat"
	OpSendMessage  Operation = "send_message"
	OpMarkRead     Operation = "mark_read"
	OpJoinChat     Operation = "join_chat"
	OpListBookings Operation = "list_bookings"
)

// defaultCandidates is the canonical candidate order. The backend has
// shipped several route generations; older shapes stay listed until
// the contract stabilizes. Placeholders in braces are filled from
// Params.Path; a candidate whose placeholder has no value is skipped.
var defaultCandidates = map[Operation][]string{
	OpFetchChat: {
		"/chat/by-booking/{bookingId}",
		"/chats/booking/{bookingId}",
		"/booking/{bookingId}/chat",
		"/chat-sessions/booking/{bookingId}",
	},
	OpCreateChat: {
		"/chat/create",
		"/chats",
		"/chat-sessions",
		"/booking/{bookingId}/chat",
	},
	OpSendMessage: {
		"/chat/{chatId}/message",
		"/chats/{chatId}/messages",
		"/chat/message/send",
		"/booking/{bookingId}/chat/message",
	},
	OpMarkRead: {
		"/chat/{chatId}/read",
		"/chats/{chatId}/mark-read",
		"/chat/mark-read",
	},
	OpJoinChat: {
		"/chat/{chatId}/join",
		"/chats/{chatId}/join",
	},
	OpListBookings: {
		"/astrologer/{astrologerId}/bookings",
		"/bookings/astrologer/{astrologerId}",
		"/bookings",
	},
}

// methods maps each operation to its HTTP verb.
var methods = map[Operation]string{
	OpFetchChat:    http.MethodGet,
	OpCreateChat:   http.MethodPost,
	OpSendMessage:  http.MethodPost,
	OpMarkRead:     http.MethodPut,
	OpJoinChat:     http.MethodPost,
	OpListBookings: http.MethodGet,
}
