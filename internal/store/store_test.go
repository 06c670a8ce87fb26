package store

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
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

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	require.NotNil(t, db)
	assert.NoError(t, db.sql.Ping())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.migrate(context.Background()))

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_AskLogExists(t *testing.T) {
	db := testDB(t)

	var name string
	err := db.sql.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", "ask_log",
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "ask_log", name)
}

// --- Audit log tests ---

func TestAudit_RecordAndRecent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Record(ctx, AuditEntry{
		SessionID:  "session_u1",
		UserID:     "u1",
		Question:   "what time is it?",
		Answer:     "noon",
		Success:    true,
		DurationMs: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = db.Record(ctx, AuditEntry{
		SessionID: "default",
		Question:  "hi",
		Success:   false,
		Error:     "agent: timeout",
	})
	require.NoError(t, err)

	entries, err := db.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "default", entries[0].SessionID)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "agent: timeout", entries[0].Error)

	assert.Equal(t, "u1", entries[1].UserID)
	assert.True(t, entries[1].Success)
	assert.Equal(t, int64(42), entries[1].DurationMs)
	assert.WithinDuration(t, time.Now(), entries[1].CreatedAt, time.Minute)
}

func TestAudit_RecentFiltersBySession(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.Record(ctx, AuditEntry{SessionID: "a", Question: "q" + strconv.Itoa(i), Success: true})
		require.NoError(t, err)
	}
	_, err := db.Record(ctx, AuditEntry{SessionID: "b", Question: "other", Success: true})
	require.NoError(t, err)

	entries, err := db.Recent(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "q2", entries[0].Question)
	assert.Equal(t, "q1", entries[1].Question)
}

func TestAudit_RecentEmpty(t *testing.T) {
	db := testDB(t)

	entries, err := db.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestAudit_Prune(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.Record(ctx, AuditEntry{SessionID: "a", Question: "old", CreatedAt: time.Now().Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = db.Record(ctx, AuditEntry{SessionID: "a", Question: "new"})
	require.NoError(t, err)

	n, err := db.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := db.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Question)
}

// --- Redis tests ---

func redisConfigFor(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg := config.Defaults().Redis
	cfg.Host = mr.Host()
	cfg.Port = port
	cfg.MaxRetries = 0
	cfg.DialTimeoutMs = 200
	return cfg
}

func TestOpenClients_SeparateDatabases(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfigFor(t, mr)
	cfg.DB = 0
	cfg.ProfileDB = 1

	clients := OpenClients(cfg, logging.New(nil, "silent"))
	t.Cleanup(func() { clients.Close() })

	ctx := context.Background()
	require.NoError(t, clients.Ping(ctx))
	require.NoError(t, clients.Chat.Set(ctx, "k", "chat", 0).Err())
	require.NoError(t, clients.Profile.Set(ctx, "k", "profile", 0).Err())

	chatVal, err := mr.DB(0).Get("k")
	require.NoError(t, err)
	assert.Equal(t, "chat", chatVal)

	profileVal, err := mr.DB(1).Get("k")
	require.NoError(t, err)
	assert.Equal(t, "profile", profileVal)
}

func TestPing_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfigFor(t, mr)
	mr.Close()

	c := OpenRedis(cfg, 0, logging.New(nil, "silent"))
	t.Cleanup(func() { c.Close() })

	err := Ping(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("get", nil))
	assert.Equal(t, redis.Nil, Classify("get", redis.Nil))

	netErr := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	err := Classify("lrange", netErr)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, netErr)
	assert.Contains(t, err.Error(), "lrange")

	err = Classify("lrange", context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestClassify_ServerReplyIsNotUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := OpenRedis(redisConfigFor(t, mr), 0, logging.New(nil, "silent"))
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "str", "v", 0).Err())

	err := Classify("lpush", c.LPush(ctx, "str", "x").Err())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "WRONGTYPE")
}
