// Package memory keeps the per-session chat log in Redis: an append-only,
// length-bounded list of turns with a sliding expiry.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
	"github.com/soyeahso/askbot/internal/store"
)

// KeyPrefix namespaces session logs.
const KeyPrefix = "chat_history:"

// Key returns the Redis key holding a session log.
func Key(sessionID string) string { return KeyPrefix + sessionID }

// Store is the session log store. It is safe for concurrent use; consistency
// per key relies on Redis list primitives only.
type Store struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	maxTurns int
	atomic   bool
	log      *logging.Logger
}

// New creates a Store over an injected client.
func New(rdb redis.UniversalClient, cfg config.MemoryConfig, log *logging.Logger) *Store {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = config.DefaultMaxTurns
	}
	ttl := cfg.SessionTTL()
	if ttl <= 0 {
		ttl = config.DefaultSessionTTLSeconds * time.Second
	}
	return &Store{
		rdb:      rdb,
		ttl:      ttl,
		maxTurns: maxTurns,
		atomic:   cfg.AtomicAppendEnabled(),
		log:      log.Sub("memory"),
	}
}

// MaxTurns returns the retention bound N.
func (s *Store) MaxTurns() int { return s.maxTurns }

// Append pushes a turn at the tail, trims the log to the last N turns and
// resets the expiry. The log is created on first append.
func (s *Store) Append(ctx context.Context, sessionID string, turn domain.ChatTurn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("append %s: %w: role %q", sessionID, domain.ErrInvalidArgument, turn.Role)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	data, err := encodeTurn(turn)
	if err != nil {
		return err
	}

	key := Key(sessionID)
	var pipe redis.Pipeliner
	if s.atomic {
		pipe = s.rdb.TxPipeline()
	} else {
		pipe = s.rdb.Pipeline()
	}
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return store.Classify("append "+sessionID, err)
	}
	return nil
}

// ReadAll returns every retained turn, oldest first. An absent or expired
// log yields an empty slice.
func (s *Store) ReadAll(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	return s.readRange(ctx, sessionID, 0, -1)
}

// ReadRecent returns the last count turns, oldest first.
func (s *Store) ReadRecent(ctx context.Context, sessionID string, count int) ([]domain.ChatTurn, error) {
	if count <= 0 {
		return []domain.ChatTurn{}, nil
	}
	return s.readRange(ctx, sessionID, int64(-count), -1)
}

// Search returns the turns whose content contains q, ignoring case, in log
// order. An empty query matches every turn.
func (s *Store) Search(ctx context.Context, sessionID, q string) ([]domain.ChatTurn, error) {
	turns, err := s.ReadAll(ctx, sessionID)
	if err != nil || q == "" {
		return turns, err
	}
	needle := strings.ToLower(q)
	matches := []domain.ChatTurn{}
	for _, t := range turns {
		if strings.Contains(strings.ToLower(t.Content), needle) {
			matches = append(matches, t)
		}
	}
	return matches, nil
}

// Clear deletes the log immediately.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.DeleteSession(ctx, sessionID)
	return err
}

// DeleteSession deletes the log and reports whether it existed.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Del(ctx, Key(sessionID)).Result()
	if err != nil {
		return false, store.Classify("delete "+sessionID, err)
	}
	return n > 0, nil
}

// Info returns a diagnostic snapshot. TTLRemaining is -1 when the log is
// absent or carries no expiry.
func (s *Store) Info(ctx context.Context, sessionID string) (domain.SessionInfo, error) {
	key := Key(sessionID)
	pipe := s.rdb.Pipeline()
	llen := pipe.LLen(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.SessionInfo{}, store.Classify("info "+sessionID, err)
	}

	info := domain.SessionInfo{
		SessionID:    sessionID,
		Length:       llen.Val(),
		TTLRemaining: -1,
		MaxTurns:     s.maxTurns,
		Key:          key,
	}
	// TTL reports -2 for a missing key and -1 for no expiry.
	if d := ttl.Val(); d > 0 {
		info.TTLRemaining = int64(d / time.Second)
	}
	return info, nil
}

// ListSessions returns the ids of all live session logs, sorted.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	ids := []string{}
	iter := s.rdb.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, store.Classify("scan sessions", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return store.Ping(ctx, s.rdb)
}

func (s *Store) readRange(ctx context.Context, sessionID string, start, stop int64) ([]domain.ChatTurn, error) {
	key := Key(sessionID)
	raw, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, store.Classify("read "+sessionID, err)
	}

	turns := make([]domain.ChatTurn, 0, len(raw))
	for i, item := range raw {
		turn, err := decodeTurn(item)
		if err != nil {
			mre := &domain.MalformedRecordError{Key: key, Index: i, Err: err}
			s.log.Warn().Err(mre).Msg("skipping malformed chat turn")
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
