package profile

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
)

func newTestStore(t *testing.T, mutate func(*config.ProfilesConfig)) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	cfg := config.Defaults().Profiles
	if mutate != nil {
		mutate(&cfg)
	}
	return New(rdb, cfg, logging.New(nil, "silent")), mr
}

func strPtr(s string) *string { return &s }

func TestCreateThenGet(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "u1", created.UserID)
	assert.NotNil(t, created.Preferences)

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, int64(0), p.SessionCount)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Empty(t, p.Preferences)
}

func TestCreate_AppliesTTL(t *testing.T) {
	s, mr := newTestStore(t, nil)
	_, err := s.Create(context.Background(), domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, mr.TTL(UserKey("u1")))
}

func TestCreate_DuplicateLeavesRecordUntouched(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Ana", Preferences: map[string]any{"lang": "es"}})
	require.NoError(t, err)
	before, err := mr.HKeys(UserKey("u1"))
	require.NoError(t, err)
	beforeName := mr.HGet(UserKey("u1"), "name")
	beforePrefs := mr.HGet(UserKey("u1"), "preferences")

	_, err = s.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Impostor"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	after, err := mr.HKeys(UserKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeName, mr.HGet(UserKey("u1"), "name"))
	assert.Equal(t, beforePrefs, mr.HGet(UserKey("u1"), "preferences"))
}

func TestCreate_RequiresUserID(t *testing.T) {
	s, _ := newTestStore(t, nil)
	_, err := s.Create(context.Background(), domain.NewProfile{UserID: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t, nil)
	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGet_TouchesLastActive(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, clock.Equal(p.LastActive))
	assert.Equal(t, domain.FormatTimestamp(clock), mr.HGet(UserKey("u1"), "last_active"))
	assert.True(t, p.CreatedAt.Before(p.LastActive))
}

func TestGet_MalformedHash(t *testing.T) {
	s, mr := newTestStore(t, nil)
	mr.HSet(UserKey("bad"), "user_id", "bad", "session_count", "many")

	_, err := s.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)

	mr.HSet(UserKey("bad2"), "user_id", "bad2", "preferences", "{oops")
	_, err = s.Get(context.Background(), "bad2")
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestUpdate_MergesPreferences(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Ana", Preferences: map[string]any{"lang": "es", "units": "metric"}})
	require.NoError(t, err)

	p, err := s.Update(ctx, "u1", domain.ProfileUpdate{
		Email:       strPtr("ana@example.com"),
		Preferences: map[string]any{"units": "imperial", "city": "Lima"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, "ana@example.com", p.Email)
	assert.Equal(t, map[string]any{"lang": "es", "units": "imperial", "city": "Lima"}, p.Preferences)

	stored, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p.Preferences, stored.Preferences)
	assert.Equal(t, "ana@example.com", stored.Email)
}

func TestUpdate_ReplacePreferences(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1", Preferences: map[string]any{"lang": "es"}})
	require.NoError(t, err)

	p, err := s.Update(ctx, "u1", domain.ProfileUpdate{
		Preferences:        map[string]any{"theme": "dark"},
		ReplacePreferences: true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, p.Preferences)
}

func TestUpdate_RefreshesLastActiveAndTTL(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	mr.FastForward(24 * time.Hour)
	before := mr.TTL(UserKey("u1"))

	_, err = s.Update(ctx, "u1", domain.ProfileUpdate{Name: strPtr("Bo")})
	require.NoError(t, err)
	assert.Greater(t, mr.TTL(UserKey("u1")), before)
}

func TestUpdate_NotFound(t *testing.T) {
	s, mr := newTestStore(t, nil)
	_, err := s.Update(context.Background(), "ghost", domain.ProfileUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(UserKey("ghost")))
}

func TestDelete(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)
	_, err = s.RecordActivity(ctx, "u1", domain.Activity{Question: "hi"})
	require.NoError(t, err)
	_, err = mr.Push("chat_history:session_u1", "{}")
	require.NoError(t, err)

	res, err := s.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeleteResult{UserDeleted: true, ActivityDeleted: true}, res)
	assert.False(t, mr.Exists(UserKey("u1")))
	assert.False(t, mr.Exists(ActivityKey("u1")))
	assert.True(t, mr.Exists("chat_history:session_u1"), "chat history is not owned by the profile store")

	res, err = s.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeleteResult{}, res)
}

func TestRecordActivity_Defaults(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	a, err := s.RecordActivity(ctx, "u1", domain.Activity{Question: "weather?"})
	require.NoError(t, err)
	assert.Equal(t, "u1", a.SessionID)
	assert.Equal(t, domain.ActivityTypeChat, a.Type)
	assert.False(t, a.Timestamp.IsZero())

	got, err := s.Sessions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "weather?", got[0].Question)
}

func TestRecordActivity_BoundedAndCounted(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	for i := 0; i < 21; i++ {
		_, err := s.RecordActivity(ctx, "u1", domain.Activity{SessionID: "s" + strconv.Itoa(i)})
		require.NoError(t, err)
	}

	list, err := mr.List(ActivityKey("u1"))
	require.NoError(t, err)
	assert.Len(t, list, 20)

	recent, err := s.Sessions(ctx, "u1", 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	assert.Equal(t, "s20", recent[0].SessionID)
	assert.Equal(t, "s1", recent[19].SessionID)

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(21), p.SessionCount)

	assert.Equal(t, time.Duration(0), mr.TTL(ActivityKey("u1")), "activity log has no expiry")
}

func TestRecordActivity_MissingProfileCreatesStub(t *testing.T) {
	s, mr := newTestStore(t, func(c *config.ProfilesConfig) { c.MissingProfile = config.MissingProfileCreate })
	ctx := context.Background()

	_, err := s.RecordActivity(ctx, "walkin", domain.Activity{Question: "hello"})
	require.NoError(t, err)

	p, err := s.Get(ctx, "walkin")
	require.NoError(t, err)
	assert.Equal(t, "walkin", p.UserID)
	assert.Equal(t, int64(1), p.SessionCount)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Positive(t, mr.TTL(UserKey("walkin")))

	// The stub is a real profile.
	_, err = s.Create(ctx, domain.NewProfile{UserID: "walkin"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// A second activity keeps the original created_at.
	_, err = s.RecordActivity(ctx, "walkin", domain.Activity{})
	require.NoError(t, err)
	again, err := s.Get(ctx, "walkin")
	require.NoError(t, err)
	assert.True(t, p.CreatedAt.Equal(again.CreatedAt))
	assert.Equal(t, int64(2), again.SessionCount)
}

func TestRecordActivity_MissingProfileRejected(t *testing.T) {
	s, mr := newTestStore(t, func(c *config.ProfilesConfig) { c.MissingProfile = config.MissingProfileReject })
	ctx := context.Background()

	_, err := s.RecordActivity(ctx, "walkin", domain.Activity{Question: "hello"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(UserKey("walkin")))
	assert.False(t, mr.Exists(ActivityKey("walkin")))

	_, err = s.Create(ctx, domain.NewProfile{UserID: "walkin"})
	require.NoError(t, err)
	_, err = s.RecordActivity(ctx, "walkin", domain.Activity{Question: "hello"})
	require.NoError(t, err)

	p, err := s.Get(ctx, "walkin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.SessionCount)
}

func TestSessions_SkipsMalformed(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	_, err := mr.Push(ActivityKey("u1"), `{"session_id":"old","timestamp":"2024-05-01T08:00:00.5"}`, "garbage")
	require.NoError(t, err)

	got, err := s.Sessions(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].SessionID)
	assert.Equal(t, domain.ActivityTypeChat, got[0].Type)
}

func TestList(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	for _, id := range []string{"carol", "alice", "bob"} {
		_, err := s.Create(ctx, domain.NewProfile{UserID: id})
		require.NoError(t, err)
	}
	_, err := s.RecordActivity(ctx, "alice", domain.Activity{})
	require.NoError(t, err)
	require.NoError(t, mr.Set("user:stray", "a string"))
	mr.HSet(UserKey("broken"), "user_id", "broken", "created_at", "not a date")

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, p := range all {
		ids[i] = p.UserID
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, ids)

	some, err := s.List(ctx, "b*")
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "bob", some[0].UserID)

	none, err := s.List(ctx, "zzz*")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestBuildContext(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1", Preferences: map[string]any{"lang": "es"}})
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := s.RecordActivity(ctx, "u1", domain.Activity{})
		require.NoError(t, err)
	}

	uc := s.BuildContext(ctx, "u1")
	require.NotNil(t, uc)
	assert.Equal(t, "u1", uc.UserID)
	assert.Equal(t, config.DefaultProfileName, uc.Name)
	assert.Equal(t, int64(7), uc.SessionCount)
	assert.Equal(t, 5, uc.RecentSessionCount)
	assert.Equal(t, "es", uc.Preferences["lang"])
	assert.False(t, uc.CreatedAt.IsZero())
}

func TestBuildContext_MissingUser(t *testing.T) {
	s, _ := newTestStore(t, nil)
	assert.Nil(t, s.BuildContext(context.Background(), "missing-user"))
}

func TestBuildContext_StoreDown(t *testing.T) {
	s, mr := newTestStore(t, nil)
	mr.Close()
	assert.Nil(t, s.BuildContext(context.Background(), "u1"))
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	mr.Close()

	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = s.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = s.RecordActivity(ctx, "u1", domain.Activity{})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = s.List(ctx, "")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), domain.ErrStoreUnavailable)
}

// cmdHook calls before with the names of each command or pipeline the client
// sends, skipping connection setup. A non-nil error fails the call without
// reaching Redis.
type cmdHook struct {
	before func(names []string) error
}

var setupCmds = map[string]bool{"hello": true, "client": true, "auth": true, "select": true, "ping": true}

func (h cmdHook) check(cmds []redis.Cmder) error {
	names := make([]string, 0, len(cmds))
	setup := true
	for _, c := range cmds {
		names = append(names, c.Name())
		setup = setup && setupCmds[c.Name()]
	}
	if setup {
		return nil
	}
	return h.before(names)
}

func (h cmdHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h cmdHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if err := h.check([]redis.Cmder{cmd}); err != nil {
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h cmdHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if err := h.check(cmds); err != nil {
			for _, c := range cmds {
				c.SetErr(err)
			}
			return err
		}
		return next(ctx, cmds)
	}
}

func TestCreate_FailedWriteLeavesNoProfile(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	calls, failFrom := 0, 2
	s.rdb.AddHook(cmdHook{before: func([]string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if failFrom > 0 && calls >= failFrom {
			return errors.New("connection reset by peer")
		}
		return nil
	}})

	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Ana"})
	require.Error(t, err)
	assert.False(t, mr.Exists(UserKey("u1")), "no partial profile may survive a failed create")

	mu.Lock()
	failFrom = 0
	mu.Unlock()

	_, err = s.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Ana"})
	require.NoError(t, err)
	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, 30*24*time.Hour, mr.TTL(UserKey("u1")))
}

// deleteBefore removes key once, right before the first call whose command
// names include one of trigger.
func deleteBefore(mr *miniredis.Miniredis, key string, trigger ...string) cmdHook {
	var once sync.Once
	return cmdHook{before: func(names []string) error {
		if slices.ContainsFunc(names, func(n string) bool { return slices.Contains(trigger, n) }) {
			once.Do(func() { mr.Del(key) })
		}
		return nil
	}}
}

func TestGet_DeletedBeforeTouchStaysDeleted(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	s.rdb.AddHook(deleteBefore(mr, UserKey("u1"), "evalsha", "eval"))

	_, err = s.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(UserKey("u1")))
}

func TestUpdate_DeletedBeforeWriteStaysDeleted(t *testing.T) {
	s, mr := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	s.rdb.AddHook(deleteBefore(mr, UserKey("u1"), "multi", "hset", "exec"))

	_, err = s.Update(ctx, "u1", domain.ProfileUpdate{Name: strPtr("Bo")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(UserKey("u1")))
}

func TestUpdate_ConcurrentPreferenceMergesKeepAllKeys(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "u1", domain.ProfileUpdate{
				Preferences: map[string]any{"k" + strconv.Itoa(i): true},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, p.Preferences, writers)
}

func TestRecordActivity_RejectPolicyUnderConcurrentReads(t *testing.T) {
	s, mr := newTestStore(t, func(c *config.ProfilesConfig) { c.MissingProfile = config.MissingProfileReject })
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The assembler touches the profile right before recording.
			s.BuildContext(ctx, "u1")
			_, err := s.RecordActivity(ctx, "u1", domain.Activity{Question: "q"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), p.SessionCount)
	n, err := mr.List(ActivityKey("u1"))
	require.NoError(t, err)
	assert.Len(t, n, config.DefaultActivityMax)
}

func TestRecordActivity_RejectPolicyDeletedProfile(t *testing.T) {
	s, mr := newTestStore(t, func(c *config.ProfilesConfig) { c.MissingProfile = config.MissingProfileReject })
	ctx := context.Background()
	_, err := s.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)
	_, err = s.Delete(ctx, "u1")
	require.NoError(t, err)

	_, err = s.RecordActivity(ctx, "u1", domain.Activity{Question: "late"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(UserKey("u1")))
	assert.False(t, mr.Exists(ActivityKey("u1")))
}
