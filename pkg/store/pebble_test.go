package store

import (
	"testing"
	"time"

	"astrolink/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTokenRoundtrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveToken("tok-123"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	got, err := s.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "tok-123" {
		t.Fatalf("expected tok-123; got %q", got)
	}
}

func TestGetAbsentKeyIsEmptyNotError(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Get("identity:astrologer_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty value; got %q", v)
	}
}

func TestProfileRoundtrip(t *testing.T) {
	s := openTestStore(t)
	p := models.Profile{ID: "64f1b2c3d4e5f60718293a4b", Name: "Mira"}
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	got, ok, err := s.Profile()
	if err != nil || !ok {
		t.Fatalf("Profile: ok=%v err=%v", ok, err)
	}
	if got.ID != p.ID || got.Name != p.Name {
		t.Fatalf("profile mismatch: %+v", got)
	}
}

func TestTranscriptOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().UnixNano()
	for i := 0; i < 5; i++ {
		m := models.ChatMessage{ID: string(rune('a' + i)), ChatID: "C1", Text: "m", TS: base + int64(i)}
		if err := s.AppendChatMessage("C1", m); err != nil {
			t.Fatalf("AppendChatMessage: %v", err)
		}
	}
	msgs, err := s.ListChatMessages("C1")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages; got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].TS < msgs[i-1].TS {
			t.Fatalf("messages out of order at %d", i)
		}
	}
	limited, err := s.ListChatMessages("C1", 2)
	if err != nil {
		t.Fatalf("ListChatMessages limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 messages; got %d", len(limited))
	}
}

func TestTranscriptsAreScopedPerChat(t *testing.T) {
	s := openTestStore(t)
	_ = s.AppendChatMessage("C1", models.ChatMessage{ID: "1", ChatID: "C1", Text: "x", TS: 1})
	_ = s.AppendChatMessage("C2", models.ChatMessage{ID: "2", ChatID: "C2", Text: "y", TS: 2})

	msgs, err := s.ListChatMessages("C1")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "1" {
		t.Fatalf("expected only C1 messages; got %+v", msgs)
	}
}

func TestPurgeChatMessagesBefore(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().UTC().Add(-48 * time.Hour).UnixNano()
	fresh := time.Now().UTC().UnixNano()
	_ = s.AppendChatMessage("C1", models.ChatMessage{ID: "old", ChatID: "C1", TS: old})
	_ = s.AppendChatMessage("C1", models.ChatMessage{ID: "new", ChatID: "C1", TS: fresh})

	cutoff := time.Now().UTC().Add(-24 * time.Hour).UnixNano()
	n, err := s.PurgeChatMessagesBefore(cutoff)
	if err != nil {
		t.Fatalf("PurgeChatMessagesBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged; got %d", n)
	}
	msgs, _ := s.ListChatMessages("C1")
	if len(msgs) != 1 || msgs[0].ID != "new" {
		t.Fatalf("expected only the fresh message; got %+v", msgs)
	}
}

func TestClearRemovesIdentityAndToken(t *testing.T) {
	s := openTestStore(t)
	_ = s.SaveToken("tok")
	_ = s.Set(KeyActorID, []byte("64f1b2c3d4e5f60718293a4b"))
	_ = s.SaveProfile(models.Profile{ID: "64f1b2c3d4e5f60718293a4b"})

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if v, _ := s.Token(); v != "" {
		t.Fatalf("token survived clear")
	}
	if v, _ := s.Get(KeyActorID); v != "" {
		t.Fatalf("actor id survived clear")
	}
	if _, ok, _ := s.Profile(); ok {
		t.Fatalf("profile survived clear")
	}
}
