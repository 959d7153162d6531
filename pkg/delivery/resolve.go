package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"astrolink/pkg/apperr"
	"astrolink/pkg/logger"
	"astrolink/pkg/models"
	"astrolink/pkg/probe"
	"astrolink/pkg/sessionmap"
)

// Ref addresses a chat session either by booking id or directly by
// chat id. Exactly one side is usually set; both is fine.
type Ref struct {
	BookingID string
	ChatID    string
}

// ByBooking addresses the chat session attached to a booking.
func ByBooking(id string) Ref { return Ref{BookingID: id} }

// ByChat addresses a chat session directly.
func ByChat(id string) Ref { return Ref{ChatID: id} }

// ResolveSession turns a Ref into a concrete (chatID, bookingID) pair.
// Chat-id refs consult the reverse index to recover the booking id for
// legacy endpoint shapes. Booking-id refs consult the session map
// first; on a miss the chat session is fetched, then created, through
// the prober, and the outcome (including negative outcomes) is
// recorded back into the map.
func (o *Orchestrator) ResolveSession(ctx context.Context, ref Ref) (string, string, error) {
	if ref.ChatID != "" {
		bookingID := ref.BookingID
		if bookingID == "" {
			bookingID, _ = o.sessions.ReverseLookup(ref.ChatID)
		}
		return ref.ChatID, bookingID, nil
	}
	if ref.BookingID == "" {
		return "", "", fmt.Errorf("empty session ref")
	}

	chatID, res := o.sessions.Lookup(ref.BookingID)
	switch res {
	case sessionmap.Hit:
		o.metrics.SessionLookup("hit")
		return chatID, ref.BookingID, nil
	case sessionmap.DeniedRecently:
		o.metrics.SessionLookup("denied_cached")
		return "", "", fmt.Errorf("chat for booking %s: %w", ref.BookingID, apperr.ErrPermissionDenied)
	case sessionmap.NotFoundRecently:
		o.metrics.SessionLookup("notfound_cached")
		return "", "", fmt.Errorf("chat for booking %s: %w", ref.BookingID, apperr.ErrNotFound)
	}
	o.metrics.SessionLookup("miss")

	chatID, err := o.fetchOrCreate(ctx, ref.BookingID)
	if err != nil {
		return "", "", err
	}
	return chatID, ref.BookingID, nil
}

func (o *Orchestrator) fetchOrCreate(ctx context.Context, bookingID string) (string, error) {
	params := probe.Params{Path: map[string]string{"bookingId": bookingID}}

	env, err := o.prober.Call(ctx, probe.OpFetchChat, params)
	if err == nil {
		if id := chatIDFromPayload(env.Payload()); id != "" {
			o.sessions.Record(bookingID, id, sessionmap.Flags{})
			return id, nil
		}
		err = fmt.Errorf("fetch chat: unrecognized payload shape")
	}
	if errors.Is(err, apperr.ErrPermissionDenied) {
		o.sessions.Record(bookingID, "", sessionmap.Flags{PermissionDenied: true})
		return "", err
	}
	logger.Debug("chat_fetch_failed_trying_create", "booking", bookingID, "error", err)

	create := probe.Params{
		Path: params.Path,
		Body: map[string]string{"bookingId": bookingID},
	}
	env, err = o.prober.Call(ctx, probe.OpCreateChat, create)
	if err != nil {
		if errors.Is(err, apperr.ErrPermissionDenied) {
			o.sessions.Record(bookingID, "", sessionmap.Flags{PermissionDenied: true})
		} else {
			o.sessions.Record(bookingID, "", sessionmap.Flags{NotFound: true})
		}
		return "", fmt.Errorf("create chat for booking %s: %w", bookingID, err)
	}
	id := chatIDFromPayload(env.Payload())
	if id == "" {
		o.sessions.Record(bookingID, "", sessionmap.Flags{NotFound: true})
		return "", fmt.Errorf("create chat for booking %s: unrecognized payload shape", bookingID)
	}
	o.sessions.Record(bookingID, id, sessionmap.Flags{})
	return id, nil
}

// chatIDFromPayload digs the chat session id out of the various
// response shapes the endpoint generations produce: a bare session
// object, a wrapped one, or an array with the session first.
func chatIDFromPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var cs models.ChatSession
	if json.Unmarshal(raw, &cs) == nil && cs.ID != "" {
		return cs.ID
	}
	var wrapped map[string]json.RawMessage
	if json.Unmarshal(raw, &wrapped) == nil {
		for _, key := range []string{"chat", "chatSession", "session"} {
			if inner, ok := wrapped[key]; ok {
				if id := chatIDFromPayload(inner); id != "" {
					return id
				}
			}
		}
		// some shapes use a flat chatId field
		var flat struct {
			ChatID string `json:"chatId"`
		}
		if json.Unmarshal(raw, &flat) == nil && flat.ChatID != "" {
			return flat.ChatID
		}
	}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil && len(arr) > 0 {
		return chatIDFromPayload(arr[0])
	}
	return ""
}
