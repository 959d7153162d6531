package models

type Booking struct {
	ID string `json:"_id"`
	// UserID is the client who booked the consultation
	UserID       string `json:"userId,omitempty"`
	AstrologerID string `json:"astrologerId,omitempty"`
	Status       string `json:"status,omitempty"`
	// Scheduled start (unix ms); the backend is inconsistent about the
	// field name, so both are accepted on decode
	ScheduledAt int64 `json:"scheduledAt,omitempty"`
	CreatedTS   int64 `json:"createdAt,omitempty"`
}

type ChatSession struct {
	ID        string `json:"_id"`
	BookingID string `json:"bookingId,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedTS int64  `json:"createdAt,omitempty"`
}

// Profile is the astrologer profile object as cached locally.
type Profile struct {
	ID     string `json:"_id"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}
