// Package chat is the application-facing facade: bookings, message
// history, read receipts and typing signals, on top of the prober,
// the realtime channel and the delivery orchestrator.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"astrolink/pkg/apperr"
	"astrolink/pkg/delivery"
	"astrolink/pkg/identity"
	"astrolink/pkg/logger"
	"astrolink/pkg/models"
	"astrolink/pkg/probe"
	"astrolink/pkg/realtime"
	"astrolink/pkg/store"
)

type Client struct {
	identity *identity.Resolver
	prober   *probe.Prober
	channel  *realtime.Channel
	orch     *delivery.Orchestrator
	cache    *store.Store
}

func New(id *identity.Resolver, prober *probe.Prober, channel *realtime.Channel, orch *delivery.Orchestrator, cache *store.Store) *Client {
	return &Client{identity: id, prober: prober, channel: channel, orch: orch, cache: cache}
}

// Send delivers a message to the chat session addressed by ref.
func (c *Client) Send(ctx context.Context, ref delivery.Ref, text string) (delivery.Receipt, error) {
	return c.orch.SendMessage(ctx, ref, text)
}

// ListBookings fetches the astrologer's bookings. Non-terminal
// failures degrade to an empty list so booking screens stay usable;
// permission denials propagate.
func (c *Client) ListBookings(ctx context.Context) ([]models.Booking, error) {
	actorID, err := c.identity.Resolve()
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	env, err := c.prober.Call(ctx, probe.OpListBookings, probe.Params{
		Path: map[string]string{"astrologerId": actorID},
	})
	if err != nil {
		if errors.Is(err, apperr.ErrPermissionDenied) {
			return nil, err
		}
		logger.Warn("list_bookings_degraded", "error", err)
		return []models.Booking{}, nil
	}
	var bookings []models.Booking
	payload := env.Payload()
	if json.Unmarshal(payload, &bookings) != nil {
		// wrapped shape: {"bookings": [...]}
		var wrapped struct {
			Bookings []models.Booking `json:"bookings"`
		}
		if json.Unmarshal(payload, &wrapped) == nil {
			bookings = wrapped.Bookings
		}
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}

// MarkRead marks the session's messages read, REST first with a
// realtime read-receipt emit as fallback.
func (c *Client) MarkRead(ctx context.Context, ref delivery.Ref) error {
	chatID, bookingID, err := c.orch.ResolveSession(ctx, ref)
	if err != nil {
		return err
	}
	params := probe.Params{
		Path: map[string]string{"chatId": chatID},
		Body: map[string]string{"chatId": chatID},
	}
	if bookingID != "" {
		params.Path["bookingId"] = bookingID
	}
	_, restErr := c.prober.Call(ctx, probe.OpMarkRead, params)
	if restErr == nil {
		return nil
	}
	if errors.Is(restErr, apperr.ErrPermissionDenied) {
		return restErr
	}
	if err := c.channel.Emit(realtime.EvReadReceipt, map[string]string{"chatId": chatID}); err != nil {
		return fmt.Errorf("mark read failed: rest: %w; realtime: %w", restErr, err)
	}
	return nil
}

// Typing signals typing state over the realtime channel. Best effort:
// no REST equivalent exists.
func (c *Client) Typing(chatID string, typing bool) error {
	return c.channel.Emit(realtime.EvTyping, map[string]any{
		"chatId": chatID,
		"typing": typing,
	})
}

// History returns locally cached transcript entries for a chat.
func (c *Client) History(chatID string, limit int) ([]models.ChatMessage, error) {
	if c.cache == nil || !c.cache.Ready() {
		return []models.ChatMessage{}, nil
	}
	msgs, err := c.cache.ListChatMessages(chatID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// Start subscribes to realtime events: incoming chat messages feed the
// local transcript cache, booking notifications go to the handler, if
// any. Returns a stop func removing the subscriptions.
func (c *Client) Start(onBooking func(models.Booking)) (stop func()) {
	offMsg := c.channel.On(realtime.EvChatMessage, func(data json.RawMessage) {
		var m models.ChatMessage
		if err := json.Unmarshal(data, &m); err != nil || m.ChatID == "" {
			logger.Debug("unparseable_chat_message_event")
			return
		}
		if m.TS == 0 {
			m.TS = time.Now().UTC().UnixNano()
		}
		if c.cache != nil && c.cache.Ready() {
			if err := c.cache.AppendChatMessage(m.ChatID, m); err != nil {
				logger.Warn("incoming_message_cache_failed", "chat", m.ChatID, "error", err)
			}
		}
	})
	offBooking := c.channel.On(realtime.EvBookingNotification, func(data json.RawMessage) {
		var b models.Booking
		if err := json.Unmarshal(data, &b); err != nil {
			logger.Debug("unparseable_booking_notification")
			return
		}
		logger.Info("booking_notification", "booking", b.ID, "status", b.Status)
		if onBooking != nil {
			onBooking(b)
		}
	})
	return func() {
		offMsg()
		offBooking()
	}
}
