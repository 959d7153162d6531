// Package delivery orchestrates message sending: the request-response
// path is attempted first, and a non-terminal failure falls back to a
// single emit over the realtime channel.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"astrolink/pkg/apperr"
	"astrolink/pkg/identity"
	"astrolink/pkg/logger"
	"astrolink/pkg/models"
	"astrolink/pkg/probe"
	"astrolink/pkg/realtime"
	"astrolink/pkg/sessionmap"
	"astrolink/pkg/store"
	"astrolink/pkg/telemetry"
)

// DefaultAttemptTimeout bounds each delivery path separately; a timed
// out path fails that path only, allowing fallback to proceed.
const DefaultAttemptTimeout = 8 * time.Second

// Receipt reports the outcome of a send.
type Receipt struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"messageId,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Orchestrator wires the session map, prober and realtime channel into
// the dual-path delivery strategy.
type Orchestrator struct {
	identity       *identity.Resolver
	sessions       *sessionmap.Map
	prober         *probe.Prober
	channel        *realtime.Channel
	cache          *store.Store
	metrics        *telemetry.Metrics
	attemptTimeout time.Duration
}

type Option func(*Orchestrator)

// WithAttemptTimeout overrides the per-path timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithTranscriptCache appends delivered messages to the local store.
func WithTranscriptCache(s *store.Store) Option {
	return func(o *Orchestrator) { o.cache = s }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(id *identity.Resolver, sessions *sessionmap.Map, prober *probe.Prober, channel *realtime.Channel, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		identity:       id,
		sessions:       sessions,
		prober:         prober,
		channel:        channel,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendMessage resolves the chat session for ref and delivers text.
// The REST path is tried first; any failure except permission denial
// triggers exactly one realtime fallback. The first successful path
// wins.
func (o *Orchestrator) SendMessage(ctx context.Context, ref Ref, text string) (Receipt, error) {
	actorID, err := o.identity.Resolve()
	if err != nil {
		// no identity, no session; fail before any network traffic
		return Receipt{}, fmt.Errorf("send message: %w", err)
	}

	chatID, bookingID, err := o.ResolveSession(ctx, ref)
	if err != nil {
		return Receipt{}, err
	}

	msg := models.ChatMessage{
		ChatID: chatID,
		Sender: actorID,
		Text:   text,
		TS:     time.Now().UTC().UnixNano(),
	}

	restCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	msgID, restErr := o.sendREST(restCtx, chatID, bookingID, msg)
	cancel()
	if restErr == nil {
		o.metrics.Delivery("rest", "ok")
		msg.ID = msgID
		o.cacheMessage(msg)
		return Receipt{Delivered: true, MessageID: msgID, Path: "rest"}, nil
	}
	o.metrics.Delivery("rest", "error")
	if errors.Is(restErr, apperr.ErrPermissionDenied) {
		o.sessions.Record(bookingID, "", sessionmap.Flags{PermissionDenied: true})
		return Receipt{}, restErr
	}
	logger.Warn("rest_delivery_failed_falling_back", "chat", chatID, "error", restErr)

	rtCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	rtErr := o.sendRealtime(rtCtx, chatID, msg)
	cancel()
	if rtErr == nil {
		o.metrics.Delivery("realtime", "ok")
		o.cacheMessage(msg)
		return Receipt{Delivered: true, Path: "realtime"}, nil
	}
	o.metrics.Delivery("realtime", "error")
	return Receipt{}, fmt.Errorf("delivery failed on both paths: rest: %w; realtime: %w", restErr, rtErr)
}

func (o *Orchestrator) sendREST(ctx context.Context, chatID, bookingID string, msg models.ChatMessage) (string, error) {
	params := probe.Params{
		Path: map[string]string{"chatId": chatID},
		Body: map[string]any{
			"chatId":   chatID,
			"senderId": msg.Sender,
			"message":  msg.Text,
		},
	}
	if bookingID != "" {
		// the oldest send endpoint is addressed by booking id
		params.Path["bookingId"] = bookingID
	}
	env, err := o.prober.Call(ctx, probe.OpSendMessage, params)
	if err != nil {
		return "", err
	}
	var sent struct {
		ID  string `json:"_id"`
		Alt string `json:"id"`
	}
	if json.Unmarshal(env.Payload(), &sent) == nil {
		if sent.ID != "" {
			return sent.ID, nil
		}
		if sent.Alt != "" {
			return sent.Alt, nil
		}
	}
	return "", nil
}

func (o *Orchestrator) sendRealtime(ctx context.Context, chatID string, msg models.ChatMessage) error {
	if err := o.channel.Connect(ctx); err != nil {
		return err
	}
	if o.channel.State() != realtime.StateConnected {
		return fmt.Errorf("realtime channel unavailable (state %s)", o.channel.State())
	}
	if err := o.channel.JoinChat(ctx, chatID); err != nil {
		return err
	}
	return o.channel.Emit(realtime.EvChatMessage, map[string]any{
		"chatId":   chatID,
		"senderId": msg.Sender,
		"message":  msg.Text,
	})
}

func (o *Orchestrator) cacheMessage(msg models.ChatMessage) {
	if o.cache == nil || !o.cache.Ready() {
		return
	}
	if err := o.cache.AppendChatMessage(msg.ChatID, msg); err != nil {
		logger.Warn("transcript_cache_append_failed", "chat", msg.ChatID, "error", err)
	}
}
