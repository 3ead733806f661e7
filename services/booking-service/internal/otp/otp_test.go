package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer(time.Minute, bcrypt.MinCost)
	code, err := issuer.Issue("+919800000001")
	require.NoError(t, err)
	assert.Len(t, code.Plain, 6)

	v := NewVerifier(nil)
	assert.True(t, v.Verify(code.Plain, code.Hash, code.ExpiresAt))
	assert.False(t, v.Verify("000000x", code.Hash, code.ExpiresAt))

	wrong := "000000"
	if wrong == code.Plain {
		wrong = "111111"
	}
	assert.False(t, v.Verify(wrong, code.Hash, code.ExpiresAt))

	late := NewVerifier(func() time.Time { return code.ExpiresAt.Add(time.Second) })
	assert.False(t, late.Verify(code.Plain, code.Hash, code.ExpiresAt))
}

func TestNormalizePhone(t *testing.T) {
	phone, err := NormalizePhone(" +91 98000-00001 ")
	require.NoError(t, err)
	assert.Equal(t, "+919800000001", phone)

	phone, err = NormalizePhone("(555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "5551234567", phone)

	_, err = NormalizePhone("12-34")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	rec := Record{Phone: "+919800000001", CodeHash: "hash", ExpiresAt: time.Now().Add(5 * time.Minute), Payload: []byte(`{"date":"2026-03-02"}`)}

	require.NoError(t, store.Save(ctx, rec))
	assert.True(t, mr.Exists("otp:+919800000001"))
	assert.Greater(t, mr.TTL("otp:+919800000001"), 4*time.Minute)

	got, err := store.Get(ctx, rec.Phone)
	require.NoError(t, err)
	assert.Equal(t, "hash", got.CodeHash)
	assert.JSONEq(t, `{"date":"2026-03-02"}`, string(got.Payload))

	n, err := store.IncrementAttempts(ctx, rec.Phone, "hash")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.TakeIfMatch(ctx, rec.Phone, "other")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, mr.Exists("otp:+919800000001"), "a mismatched hash must not consume the record")

	taken, err := store.TakeIfMatch(ctx, rec.Phone, "hash")
	require.NoError(t, err)
	assert.Equal(t, 1, taken.Attempts)
	assert.JSONEq(t, `{"date":"2026-03-02"}`, string(taken.Payload))

	_, err = store.TakeIfMatch(ctx, rec.Phone, "hash")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.IncrementAttempts(ctx, rec.Phone, "hash")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("otp:+919800000001"), "attempt counter must not resurrect the key")
}

func TestRedisStoreAttemptsBoundToHash(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	phone := "+15550001111"
	require.NoError(t, store.Save(ctx, Record{Phone: phone, CodeHash: "new", ExpiresAt: time.Now().Add(time.Minute)}))

	_, err := store.IncrementAttempts(ctx, phone, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
}

func TestRedisStoreRestoreKeepsNewerRecord(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	phone := "+15550001111"
	old := Record{Phone: phone, CodeHash: "old", ExpiresAt: time.Now().Add(time.Minute), Attempts: 2, Payload: []byte(`{}`)}
	require.NoError(t, store.Save(ctx, old))
	taken, err := store.TakeIfMatch(ctx, phone, "old")
	require.NoError(t, err)

	restored, err := store.Restore(ctx, taken)
	require.NoError(t, err)
	assert.True(t, restored)
	got, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "old", got.CodeHash)
	assert.Equal(t, 2, got.Attempts)
	assert.Greater(t, mr.TTL("otp:"+phone), 50*time.Second)

	_, err = store.TakeIfMatch(ctx, phone, "old")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, Record{Phone: phone, CodeHash: "new", ExpiresAt: time.Now().Add(time.Minute)}))

	restored, err = store.Restore(ctx, taken)
	require.NoError(t, err)
	assert.False(t, restored)
	got, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "new", got.CodeHash)

	expired := taken
	expired.Phone = "+15550002222"
	expired.ExpiresAt = time.Now().Add(-time.Second)
	restored, err = store.Restore(ctx, expired)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, Record{Phone: "+15550001111", CodeHash: "h", ExpiresAt: time.Now().Add(time.Minute)}))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "+15550001111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreMostRecentWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	phone := "+15550001111"
	require.NoError(t, store.Save(ctx, Record{Phone: phone, CodeHash: "old", ExpiresAt: time.Now().Add(time.Minute)}))
	_, err := store.IncrementAttempts(ctx, phone, "old")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, Record{Phone: phone, CodeHash: "new", ExpiresAt: time.Now().Add(time.Minute)}))

	got, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "new", got.CodeHash)
	assert.Equal(t, 0, got.Attempts)
}
