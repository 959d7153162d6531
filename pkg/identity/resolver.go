// Package identity resolves the stable astrologer identifier from the
// several places older application versions persisted it, then writes
// the winner back to every location so they stop diverging.
package identity

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"astrolink/pkg/apperr"
	"astrolink/pkg/logger"
	"astrolink/pkg/store"
)

// actorIDLen is the expected identifier length: a 24-char hex string
// (Mongo-style object id).
const actorIDLen = 24

// Resolver derives the actor id from the local store and the session
// token, caching the result until Reset.
type Resolver struct {
	store *store.Store

	mu       sync.Mutex
	resolved string
}

func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the actor id, consulting in fixed priority order the
// cached profile, the directly stored id, nested fields of the stored
// user-data object, and finally claims decoded from the session token.
// The first well-formed candidate wins and is re-propagated to every
// storage location. Returns apperr.ErrNotFound when no candidate
// matches the expected format.
func (r *Resolver) Resolve() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved != "" {
		return r.resolved, nil
	}

	id, src := r.lookup()
	if id == "" {
		logger.Warn("actor_id_unresolved")
		return "", fmt.Errorf("actor id: %w", apperr.ErrNotFound)
	}
	logger.Info("actor_id_resolved", "source", src)
	r.propagate(id)
	r.resolved = id
	return id, nil
}

// Reset drops the cached value; the next Resolve re-reads storage.
// Called on logout.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.resolved = ""
	r.mu.Unlock()
}

func (r *Resolver) lookup() (string, string) {
	// (a) previously fetched profile object
	if p, ok, err := r.store.Profile(); err == nil && ok {
		if ValidActorID(p.ID) {
			return p.ID, "profile"
		}
		if ValidActorID(p.UserID) {
			return p.UserID, "profile_user"
		}
	}
	// (b) directly stored identifier
	if v, err := r.store.Get(store.KeyActorID); err == nil && ValidActorID(v) {
		return v, "direct"
	}
	// (c) nested fields of the broader user-data object
	if v, err := r.store.Get(store.KeyUserData); err == nil && v != "" {
		if id := idFromUserData([]byte(v)); id != "" {
			return id, "userdata"
		}
	}
	// (d) claims decoded from the session token payload
	if tok, err := r.store.Token(); err == nil && tok != "" {
		if id := idFromToken(tok); id != "" {
			return id, "token"
		}
	}
	return "", ""
}

// propagate overwrites every storage location with the resolved value.
// Writes are best-effort: failures are logged, never returned.
func (r *Resolver) propagate(id string) {
	if err := r.store.Set(store.KeyActorID, []byte(id)); err != nil {
		logger.Warn("actor_id_propagate_failed", "key", store.KeyActorID, "error", err)
	}
	if p, ok, err := r.store.Profile(); err == nil && ok && p.ID != id {
		p.ID = id
		if err := r.store.SaveProfile(p); err != nil {
			logger.Warn("actor_id_propagate_failed", "key", store.KeyProfile, "error", err)
		}
	}
	if v, err := r.store.Get(store.KeyUserData); err == nil && v != "" {
		var ud map[string]any
		if json.Unmarshal([]byte(v), &ud) == nil {
			if ud["astrologerId"] != id {
				ud["astrologerId"] = id
				if b, err := json.Marshal(ud); err == nil {
					if err := r.store.Set(store.KeyUserData, b); err != nil {
						logger.Warn("actor_id_propagate_failed", "key", store.KeyUserData, "error", err)
					}
				}
			}
		}
	}
}

// ValidActorID reports whether s matches the expected identifier
// format: exactly 24 lowercase hex characters.
func ValidActorID(s string) bool {
	if len(s) != actorIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// userDataFields is the lookup order inside the stored user-data blob.
var userDataFields = []string{"astrologerId", "_id", "id", "userId"}

func idFromUserData(raw []byte) string {
	var ud map[string]any
	if err := json.Unmarshal(raw, &ud); err != nil {
		return ""
	}
	for _, f := range userDataFields {
		if s, ok := ud[f].(string); ok && ValidActorID(s) {
			return s
		}
	}
	// one level of nesting: {"user": {...}}
	if nested, ok := ud["user"].(map[string]any); ok {
		for _, f := range userDataFields {
			if s, ok := nested[f].(string); ok && ValidActorID(s) {
				return s
			}
		}
	}
	return ""
}

// tokenClaimFields is the lookup order inside the JWT payload.
var tokenClaimFields = []string{"astrologerId", "id", "_id", "userId", "sub"}

// idFromToken decodes the JWT payload without verifying the signature;
// the token is only mined for identifier claims here, auth happens
// server-side.
func idFromToken(tok string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		logger.Debug("token_decode_failed", "error", err)
		return ""
	}
	for _, f := range tokenClaimFields {
		if s, ok := claims[f].(string); ok && ValidActorID(s) {
			return s
		}
	}
	return ""
}
