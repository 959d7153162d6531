package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"astrolink/pkg/logger"
	"astrolink/pkg/models"
)

// Reserved key namespaces. Identity and auth keys are the durable
// storage locations the identity resolver reconciles.
const (
	KeyToken    = "auth:token"
	KeyActorID  = "identity:astrologer_id"
	KeyProfile  = "identity:profile"
	KeyUserData = "identity:userdata"

	chatPrefix = "chat:"
)

// Store is a local durable key/value cache backed by Pebble. It holds
// the session token, resolved actor identifiers and cached chat
// transcripts. A Store is constructed per process and passed to
// consumers explicitly.
type Store struct {
	db   *pebble.DB
	path string
	// seq reduces key collisions when transcript entries share a
	// nanosecond timestamp.
	seq uint64
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_local_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("local_store_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying pebble DB if present.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("local_store_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func (s *Store) Ready() bool {
	return s != nil && s.db != nil
}

// Path returns the on-disk location of the store.
func (s *Store) Path() string { return s.path }

// Get returns the raw value for the given key, or an empty string when
// the key is absent.
func (s *Store) Get(key string) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("store not opened; call store.Open first")
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if closer != nil {
		defer closer.Close()
	}
	return string(v), nil
}

// Set stores an arbitrary key/value pair. Callers should stick to the
// reserved namespaces above.
func (s *Store) Set(key string, value []byte) error {
	if s.db == nil {
		return fmt.Errorf("store not opened; call store.Open first")
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("store_set_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete removes a key; deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if s.db == nil {
		return fmt.Errorf("store not opened; call store.Open first")
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

// SaveToken persists the bearer session token.
func (s *Store) SaveToken(token string) error {
	return s.Set(KeyToken, []byte(token))
}

// Token returns the stored session token, empty when absent.
func (s *Store) Token() (string, error) {
	return s.Get(KeyToken)
}

// SaveProfile caches the astrologer profile object.
func (s *Store) SaveProfile(p models.Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	return s.Set(KeyProfile, b)
}

// Profile returns the cached profile, or false when none is stored.
func (s *Store) Profile() (models.Profile, bool, error) {
	var p models.Profile
	v, err := s.Get(KeyProfile)
	if err != nil || v == "" {
		return p, false, err
	}
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return p, false, nil
	}
	return p, true, nil
}

// Clear removes the token and every identity key. Used on logout.
func (s *Store) Clear() error {
	for _, k := range []string{KeyToken, KeyActorID, KeyProfile, KeyUserData} {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	logger.Info("local_store_cleared")
	return nil
}

// AppendChatMessage appends a message to the local transcript for a
// chat session. Key format: chat:<chatID>:msg:<unix_nano_padded>-<seq>
func (s *Store) AppendChatMessage(chatID string, msg models.ChatMessage) error {
	if s.db == nil {
		return fmt.Errorf("store not opened; call store.Open first")
	}
	ts := msg.TS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	n := atomic.AddUint64(&s.seq, 1)
	key := fmt.Sprintf("%s%s:msg:%020d-%06d", chatPrefix, chatID, ts, n)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("append_chat_message_failed", "chat", chatID, "key", key, "error", err)
		return err
	}
	logger.Debug("chat_message_cached", "chat", chatID, "key", key, "msg_id", msg.ID)
	return nil
}

// ListChatMessages returns cached transcript entries for a chat in
// insertion order. A positive limit caps the result.
func (s *Store) ListChatMessages(chatID string, limit ...int) ([]models.ChatMessage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened; call store.Open first")
	}
	prefix := []byte(chatPrefix + chatID + ":msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	max := -1
	if len(limit) > 0 {
		max = limit[0]
	}
	var out []models.ChatMessage
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.ChatMessage
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("invalid_cached_message", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, iter.Error()
}

// PurgeChatMessagesBefore deletes cached transcript entries older than
// the cutoff (unix ns) and returns the number removed. Used by the
// retention sweep.
func (s *Store) PurgeChatMessagesBefore(cutoff int64) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not opened; call store.Open first")
	}
	prefix := []byte(chatPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var stale [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		ts, ok := transcriptKeyTS(string(k))
		if !ok {
			continue
		}
		if ts < cutoff {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	for _, k := range stale {
		if err := s.db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened; call store.Open first")
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(append([]byte(nil), iter.Key()...)))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}

// Iter returns a raw Pebble iterator for low-level tooling. Caller must
// close the iterator when done.
func (s *Store) Iter() (*pebble.Iterator, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened; call store.Open first")
	}
	return s.db.NewIter(&pebble.IterOptions{})
}

// transcriptKeyTS extracts the nanosecond timestamp segment from a
// transcript key.
func transcriptKeyTS(key string) (int64, bool) {
	idx := strings.LastIndex(key, ":msg:")
	if idx < 0 {
		return 0, false
	}
	rest := key[idx+len(":msg:"):]
	tsPart, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
