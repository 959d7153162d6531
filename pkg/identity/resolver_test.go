package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"astrolink/pkg/apperr"
	"astrolink/pkg/models"
	"astrolink/pkg/store"
)

const (
	idProfile  = "aaaaaaaaaaaaaaaaaaaaaaaa"
	idDirect   = "bbbbbbbbbbbbbbbbbbbbbbbb"
	idUserData = "cccccccccccccccccccccccc"
	idToken    = "dddddddddddddddddddddddd"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeJWT builds a structurally valid, unsigned-for-real token whose
// payload carries the given claims.
func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]any{"alg": "HS256", "typ": "JWT"})
	payload := enc(claims)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return header + "." + payload + "." + sig
}

func TestResolvePriorityOrder(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveProfile(models.Profile{ID: idProfile}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := s.Set(store.KeyActorID, []byte(idDirect)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ud, _ := json.Marshal(map[string]any{"astrologerId": idUserData})
	_ = s.Set(store.KeyUserData, ud)
	_ = s.SaveToken(fakeJWT(t, map[string]any{"astrologerId": idToken}))

	r := NewResolver(s)
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != idProfile {
		t.Fatalf("expected profile id to win; got %q", got)
	}
}

func TestResolveFallsThroughToDirect(t *testing.T) {
	s := openTestStore(t)
	// malformed profile id is skipped
	_ = s.SaveProfile(models.Profile{ID: "NOT-HEX"})
	_ = s.Set(store.KeyActorID, []byte(idDirect))

	got, err := NewResolver(s).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != idDirect {
		t.Fatalf("expected direct id; got %q", got)
	}
}

func TestResolveFromNestedUserData(t *testing.T) {
	s := openTestStore(t)
	ud, _ := json.Marshal(map[string]any{
		"name": "Mira",
		"user": map[string]any{"_id": idUserData},
	})
	_ = s.Set(store.KeyUserData, ud)

	got, err := NewResolver(s).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != idUserData {
		t.Fatalf("expected nested userdata id; got %q", got)
	}
}

func TestResolveFromTokenClaims(t *testing.T) {
	s := openTestStore(t)
	_ = s.SaveToken(fakeJWT(t, map[string]any{"sub": idToken}))

	got, err := NewResolver(s).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != idToken {
		t.Fatalf("expected token claim id; got %q", got)
	}
}

func TestResolvePropagatesWinner(t *testing.T) {
	s := openTestStore(t)
	ud, _ := json.Marshal(map[string]any{"userId": idUserData})
	_ = s.Set(store.KeyUserData, ud)

	if _, err := NewResolver(s).Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// winner written back to the direct location
	if v, _ := s.Get(store.KeyActorID); v != idUserData {
		t.Fatalf("direct location not updated: %q", v)
	}
	// and into the user-data blob under the canonical field
	raw, _ := s.Get(store.KeyUserData)
	var got map[string]any
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal userdata: %v", err)
	}
	if got["astrologerId"] != idUserData {
		t.Fatalf("userdata not reconciled: %+v", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	s := openTestStore(t)
	_ = s.SaveToken("not-a-jwt")

	_, err := NewResolver(s).Resolve()
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
}

func TestResolveCachesUntilReset(t *testing.T) {
	s := openTestStore(t)
	_ = s.Set(store.KeyActorID, []byte(idDirect))

	r := NewResolver(s)
	if _, err := r.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// changing storage does not affect the cached value
	_ = s.Set(store.KeyActorID, []byte(idUserData))
	got, _ := r.Resolve()
	if got != idDirect {
		t.Fatalf("expected cached id; got %q", got)
	}
	r.Reset()
	got, _ = r.Resolve()
	if got != idUserData {
		t.Fatalf("expected re-read after reset; got %q", got)
	}
}

func TestValidActorID(t *testing.T) {
	cases := map[string]bool{
		idDirect:                    true,
		"64f1b2c3d4e5f60718293a4b":  true,
		"":                          false,
		"AAAAAAAAAAAAAAAAAAAAAAAA":  false,
		"zzzzzzzzzzzzzzzzzzzzzzzz":  false,
		"abc":                       false,
		"aaaaaaaaaaaaaaaaaaaaaaaaa": false,
	}
	for in, want := range cases {
		if got := ValidActorID(in); got != want {
			t.Fatalf("ValidActorID(%q) = %v, want %v", in, got, want)
		}
	}
}
