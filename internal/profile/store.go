// Package profile keeps user profiles and their bounded activity logs in
// Redis.
package profile

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

const (
	userPrefix     = "user:"
	activityPrefix = "user_sessions:"

	// DefaultSessionsLimit is used when Sessions is called without a limit.
	DefaultSessionsLimit = 10
	contextSessionsLimit = 5
)

// UserKey returns the hash key of a profile.
func UserKey(userID string) string { return userPrefix + userID }

// ActivityKey returns the list key of a user's activity log.
func ActivityKey(userID string) string { return activityPrefix + userID }

// Store manages profiles and activity logs.
type Store struct {
	rdb         redis.UniversalClient
	ttl         time.Duration
	activityMax int
	policy      string
	defaultName string
	log         *logging.Logger
	now         func() time.Time
}

// New creates a Store over an injected client.
func New(rdb redis.UniversalClient, cfg config.ProfilesConfig, log *logging.Logger) *Store {
	s := &Store{
		rdb:         rdb,
		ttl:         cfg.TTL(),
		activityMax: cfg.ActivityMax,
		policy:      cfg.MissingProfile,
		defaultName: cfg.DefaultName,
		log:         log.Sub("profile"),
		now:         time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = config.DefaultProfileTTLSeconds * time.Second
	}
	if s.activityMax <= 0 {
		s.activityMax = config.DefaultActivityMax
	}
	if s.policy == "" {
		s.policy = config.MissingProfileCreate
	}
	if s.defaultName == "" {
		s.defaultName = config.DefaultProfileName
	}
	return s
}

// Create registers a new profile. An existing profile is left untouched and
// ErrAlreadyExists is returned.
func (s *Store) Create(ctx context.Context, np domain.NewProfile) (domain.Profile, error) {
	userID := strings.TrimSpace(np.UserID)
	if userID == "" {
		return domain.Profile{}, fmt.Errorf("create profile: %w: user_id is required", domain.ErrInvalidArgument)
	}
	prefs, err := encodePreferences(np.Preferences)
	if err != nil {
		return domain.Profile{}, err
	}

	now := s.now()
	p := domain.Profile{
		UserID:      userID,
		Name:        np.Name,
		Email:       np.Email,
		Preferences: np.Preferences,
		CreatedAt:   now,
		LastActive:  now,
	}
	if p.Preferences == nil {
		p.Preferences = map[string]any{}
	}

	// The HSETNX guard and the remaining fields land in one script, so a
	// failure never leaves a bare user_id behind.
	stamp := domain.FormatTimestamp(now)
	created, err := createProfile.Run(ctx, s.rdb, []string{UserKey(userID)},
		s.ttl.Milliseconds(),
		fieldUserID, userID,
		fieldName, p.Name,
		fieldEmail, p.Email,
		fieldPreferences, prefs,
		fieldCreatedAt, stamp,
		fieldLastActive, stamp,
		fieldSessionCount, 0,
	).Int()
	if err != nil {
		return domain.Profile{}, store.Classify("create "+userID, err)
	}
	if created == 0 {
		return domain.Profile{}, fmt.Errorf("profile %s: %w", userID, domain.ErrAlreadyExists)
	}

	s.log.Info().Str("user", userID).Msg("profile created")
	return p, nil
}

// Get returns a profile and touches its last_active field.
func (s *Store) Get(ctx context.Context, userID string) (domain.Profile, error) {
	p, err := s.load(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}

	p.LastActive = s.now()
	touched, err := setIfExists.Run(ctx, s.rdb, []string{UserKey(userID)},
		0, fieldLastActive, domain.FormatTimestamp(p.LastActive),
	).Int()
	if err != nil {
		return domain.Profile{}, store.Classify("touch "+userID, err)
	}
	if touched == 0 {
		// Deleted between the read and the touch.
		return domain.Profile{}, notFound(userID)
	}
	return p, nil
}

// Update merges the set fields into an existing profile and refreshes
// last_active and the expiry. The read-modify-write runs under WATCH and is
// retried when another writer touches the profile, so concurrent preference
// merges keep each other's keys.
func (s *Store) Update(ctx context.Context, userID string, upd domain.ProfileUpdate) (domain.Profile, error) {
	key := UserKey(userID)
	var p domain.Profile
	apply := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(h) == 0 {
			return notFound(userID)
		}
		if p, err = decodeProfile(key, h); err != nil {
			return err
		}
		mergeUpdate(&p, upd)
		prefs, err := encodePreferences(p.Preferences)
		if err != nil {
			return err
		}
		p.LastActive = s.now()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldName, p.Name,
				fieldEmail, p.Email,
				fieldPreferences, prefs,
				fieldLastActive, domain.FormatTimestamp(p.LastActive),
			)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}

	if err := s.watchRetry(ctx, "update "+userID, apply, key); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func mergeUpdate(p *domain.Profile, upd domain.ProfileUpdate) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.ReplacePreferences {
		p.Preferences = map[string]any{}
	}
	for k, v := range upd.Preferences {
		p.Preferences[k] = v
	}
}

// maxTxAttempts bounds the optimistic retries of watchRetry.
const maxTxAttempts = 16

// watchRetry runs fn under WATCH on keys, retrying while the transaction is
// aborted by a concurrent write. Domain errors from fn pass through; store
// errors are classified.
func (s *Store) watchRetry(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxTxAttempts {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.log.Debug().Str("op", op).Msg("transaction raced, retrying")
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrMalformedRecord):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	default:
		return store.Classify(op, err)
	}
}

func notFound(userID string) error {
	return fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
}

// Delete removes the profile and its activity log. Chat history is owned by
// the session store and is not touched.
func (s *Store) Delete(ctx context.Context, userID string) (domain.DeleteResult, error) {
	pipe := s.rdb.Pipeline()
	userDel := pipe.Del(ctx, UserKey(userID))
	activityDel := pipe.Del(ctx, ActivityKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.DeleteResult{}, store.Classify("delete "+userID, err)
	}

	res := domain.DeleteResult{
		UserDeleted:     userDel.Val() > 0,
		ActivityDeleted: activityDel.Val() > 0,
	}
	s.log.Info().Str("user", userID).Bool("profile", res.UserDeleted).Bool("activity", res.ActivityDeleted).Msg("profile deleted")
	return res, nil
}

// RecordActivity pushes an entry onto the user's activity log, trims it to
// the configured bound and increments session_count. With the "create"
// policy a missing profile gets a stub; with "reject" it is ErrNotFound.
func (s *Store) RecordActivity(ctx context.Context, userID string, a domain.Activity) (domain.Activity, error) {
	if userID == "" {
		return domain.Activity{}, fmt.Errorf("record activity: %w: user_id is required", domain.ErrInvalidArgument)
	}
	a.Timestamp = s.now()
	if a.SessionID == "" {
		a.SessionID = userID
	}
	if a.Type == "" {
		a.Type = domain.ActivityTypeChat
	}
	data, err := encodeActivity(a)
	if err != nil {
		return domain.Activity{}, err
	}

	userKey, activityKey := UserKey(userID), ActivityKey(userID)
	stamp := domain.FormatTimestamp(a.Timestamp)
	if s.policy == config.MissingProfileCreate {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, activityKey, data)
			pipe.LTrim(ctx, activityKey, 0, int64(s.activityMax-1))
			pipe.HSetNX(ctx, userKey, fieldUserID, userID)
			pipe.HSetNX(ctx, userKey, fieldCreatedAt, stamp)
			pipe.HSetNX(ctx, userKey, fieldLastActive, stamp)
			pipe.HIncrBy(ctx, userKey, fieldSessionCount, 1)
			pipe.Expire(ctx, userKey, s.ttl)
			return nil
		})
		if err != nil {
			return domain.Activity{}, store.Classify("record activity "+userID, err)
		}
		return a, nil
	}

	// The existence check and the writes run as one script so a concurrent
	// delete cannot leave a bare counter behind and concurrent touches of the
	// profile cannot abort the increment.
	n, err := recordIfExists.Run(ctx, s.rdb, []string{userKey, activityKey},
		data, s.activityMax, s.ttl.Milliseconds(), fieldSessionCount,
	).Int64()
	if err != nil {
		return domain.Activity{}, store.Classify("record activity "+userID, err)
	}
	if n < 0 {
		return domain.Activity{}, notFound(userID)
	}
	return a, nil
}

// Sessions returns up to limit activity entries, most recent first.
func (s *Store) Sessions(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = DefaultSessionsLimit
	}
	key := ActivityKey(userID)
	raw, err := s.rdb.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, store.Classify("sessions "+userID, err)
	}

	out := make([]domain.Activity, 0, len(raw))
	for i, item := range raw {
		a, err := decodeActivity(item)
		if err != nil {
			s.log.Warn().Err(&domain.MalformedRecordError{Key: key, Index: i, Err: err}).Msg("skipping malformed activity")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// List returns the profiles whose ids match a glob pattern, sorted by id.
// It scans the keyspace and is meant for small user counts.
func (s *Store) List(ctx context.Context, pattern string) ([]domain.Profile, error) {
	if pattern == "" {
		pattern = "*"
	}

	var keys []string
	iter := s.rdb.Scan(ctx, 0, userPrefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, store.Classify("scan profiles", err)
	}

	profiles := []domain.Profile{}
	if len(keys) == 0 {
		return profiles, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			return nil, store.Classify("list profiles", err)
		}
	}

	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil {
			// Not a hash; some other record shares the prefix.
			s.log.Debug().Err(err).Str("key", keys[i]).Msg("skipping non-profile key")
			continue
		}
		if len(h) == 0 {
			continue
		}
		p, err := decodeProfile(keys[i], h)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed profile")
			continue
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })
	return profiles, nil
}

// BuildContext assembles the summary handed to the agent. It returns nil
// when the profile is absent or cannot be read; it never fails.
func (s *Store) BuildContext(ctx context.Context, userID string) *domain.UserContext {
	p, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Debug().Str("user", userID).Msg("no profile for context")
		} else {
			s.log.Warn().Err(err).Str("user", userID).Msg("building user context")
		}
		return nil
	}

	recent, err := s.Sessions(ctx, userID, contextSessionsLimit)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("building user context")
		return nil
	}

	name := p.Name
	if name == "" {
		name = s.defaultName
	}
	return &domain.UserContext{
		UserID:             userID,
		Name:               name,
		Preferences:        p.Preferences,
		SessionCount:       p.SessionCount,
		RecentSessionCount: len(recent),
		LastActive:         p.LastActive,
		CreatedAt:          p.CreatedAt,
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return store.Ping(ctx, s.rdb)
}

func (s *Store) load(ctx context.Context, userID string) (domain.Profile, error) {
	key := UserKey(userID)
	h, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Profile{}, store.Classify("get "+userID, err)
	}
	if len(h) == 0 {
		return domain.Profile{}, notFound(userID)
	}
	return decodeProfile(key, h)
}
