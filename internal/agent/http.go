// Package agent exposes the local HTTP surface of the astrolink agent:
// health, status and a handful of debug routes over the chat client.
package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"astrolink/pkg/apperr"
	"astrolink/pkg/chat"
	"astrolink/pkg/delivery"
	"astrolink/pkg/identity"
	"astrolink/pkg/realtime"
	"astrolink/pkg/store"
	"astrolink/pkg/utils"
)

type Server struct {
	chat     *chat.Client
	channel  *realtime.Channel
	identity *identity.Resolver
	cache    *store.Store
}

func New(c *chat.Client, ch *realtime.Channel, id *identity.Resolver, cache *store.Store) *Server {
	return &Server{chat: c, channel: ch, identity: id, cache: cache}
}

// Handler returns the agent's router. /metrics is mounted separately
// by main.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/bookings", s.handleBookings).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chatId}/messages", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/send", s.handleSend).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	actorID, err := s.identity.Resolve()
	resolved := err == nil
	st := map[string]any{
		"actor_resolved": resolved,
		"realtime":       s.channel.State().String(),
		"cache_ready":    s.cache.Ready(),
	}
	if resolved {
		st["actor_id"] = actorID
	}
	_ = utils.JSONWrite(w, http.StatusOK, st)
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.chat.ListBookings(r.Context())
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, bookings)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.chat.History(chatID, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msgs)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID string `json:"bookingId"`
		ChatID    string `json:"chatId"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Text == "" || (req.BookingID == "" && req.ChatID == "") {
		utils.JSONError(w, http.StatusBadRequest, "text and bookingId or chatId required")
		return
	}
	receipt, err := s.chat.Send(r.Context(), delivery.Ref{BookingID: req.BookingID, ChatID: req.ChatID}, req.Text)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, receipt)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrNetworkUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
