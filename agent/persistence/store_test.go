package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runStateStoreContract exercises the behaviour every backend must share.
func runStateStoreContract(t *testing.T, store StateStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "k1", []byte(`{"a":1}`)))
		v, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(v))
	})

	t.Run("PutIsIdempotentOverwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "k2", []byte("one")))
		require.NoError(t, store.Put(ctx, "k2", []byte("two")))
		require.NoError(t, store.Put(ctx, "k2", []byte("two")))
		v, err := store.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, "two", string(v))
	})

	t.Run("EmptyKeyRejected", func(t *testing.T) {
		assert.ErrorIs(t, store.Put(ctx, "", []byte("x")), ErrInvalidInput)
	})

	t.Run("JSONHelpers", func(t *testing.T) {
		require.NoError(t, PutJSON(ctx, store, KeyCyclesCompleted, int64(42)))
		var n int64
		found, err := GetJSON(ctx, store, KeyCyclesCompleted, &n)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(42), n)

		var running bool
		found, err = GetJSON(ctx, store, KeyRunning, &running)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStateStoreContract(t, store)

	t.Run("ValuesAreCopied", func(t *testing.T) {
		ctx := context.Background()
		buf := []byte("abc")
		require.NoError(t, store.Put(ctx, "copy", buf))
		buf[0] = 'x'
		v, _ := store.Get(ctx, "copy")
		assert.Equal(t, "abc", string(v))
	})

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Put(context.Background(), "k", nil), ErrStoreClosed)
}

func TestFileStore(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.BaseDir = t.TempDir()

	store, err := NewFileStore(cfg)
	require.NoError(t, err)
	runStateStoreContract(t, store)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "binary", []byte{0x00, 0xff, 0x10}))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.FileExists(t, filepath.Join(cfg.BaseDir, "state", "index.json"))
	assert.NoFileExists(t, filepath.Join(cfg.BaseDir, "state", "index.json.tmp"))

	t.Run("ReloadFromDisk", func(t *testing.T) {
		reopened, err := NewFileStore(cfg)
		require.NoError(t, err)
		defer reopened.Close()

		v, err := reopened.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, "two", string(v))

		v, err = reopened.Get(ctx, "binary")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0xff, 0x10}, v)
	})
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStoreWithClient(client, "test:")
}

func TestRedisStore(t *testing.T) {
	mr, store := setupTestRedis(t)
	runStateStoreContract(t, store)

	assert.True(t, mr.Exists("test:state:k1"), "keys carry the configured prefix")
	assert.NoError(t, store.Close(), "borrowed client is not closed")
	assert.NoError(t, store.Ping(context.Background()))
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()

	ctx := context.Background()
	err := store.Put(ctx, "k", []byte("v"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStore_FromConfig(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := DefaultStoreConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = mustAtoi(t, mr.Port())

	store, err := NewStateStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Put(context.Background(), "k", []byte("v")))
	assert.True(t, mr.Exists("agentloop:state:k"))
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and shared
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewSQLStore(db, true)
	require.NoError(t, err)
	return store
}

func TestSQLStore(t *testing.T) {
	store := newSQLiteStore(t)
	runStateStoreContract(t, store)
	assert.NoError(t, store.Close())
}

func TestNewSQLStore_NilDB(t *testing.T) {
	_, err := NewSQLStore(nil, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		store, err := NewStateStore(ctx, DefaultStoreConfig(), nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("File", func(t *testing.T) {
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeFile
		cfg.BaseDir = t.TempDir()
		store, err := NewStateStore(ctx, cfg, nil)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &FileStore{}, store)
	})

	t.Run("SQLite", func(t *testing.T) {
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeSQL
		cfg.SQL.DSN = filepath.Join(t.TempDir(), "state.db")
		cfg.SQL.AutoMigrate = true
		cfg.SQL.Pool.KeepaliveInterval = 0

		store, err := NewStateStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &SQLStore{}, store)
		require.NoError(t, store.Put(ctx, "k", []byte("v")))
		v, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(v))
		assert.NoError(t, store.Close())
	})

	t.Run("MongoRequiresURI", func(t *testing.T) {
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeMongo
		cfg.Mongo.URI = ""
		_, err := NewStateStore(ctx, cfg, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("MongoBadURI", func(t *testing.T) {
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeMongo
		cfg.Mongo.URI = "not-a-mongo-uri"
		_, err := NewStateStore(ctx, cfg, nil)
		assert.Error(t, err)
	})

	t.Run("Unsupported", func(t *testing.T) {
		cfg := DefaultStoreConfig()
		cfg.Type = "etcd"
		_, err := NewStateStore(ctx, cfg, nil)
		assert.ErrorContains(t, err, "unsupported state store type")
	})
}
