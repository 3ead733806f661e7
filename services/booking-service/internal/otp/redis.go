package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("no such passcode")

// Record is what Phase 1 leaves behind for Phase 2.
type Record struct {
	Phone     string
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
	Payload   []byte
}

// RedisStore keeps one record per phone under otp:{phone}; Redis expiry makes stale records vanish.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otp:"}
}

func (s *RedisStore) key(phone string) string {
	return s.prefix + phone
}

// Save replaces any previous record for the phone.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("passcode for %s already expired", rec.Phone)
	}
	key := s.key(rec.Phone)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code_hash", rec.CodeHash,
			"expires_at", rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"attempts", rec.Attempts,
			"payload", rec.Payload,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save passcode: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, phone string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(phone)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("load passcode: %w", err)
	}
	return decode(phone, fields)
}

var takeIfMatch = redis.NewScript(`
local hash = redis.call("HGET", KEYS[1], "code_hash")
if not hash or hash ~= ARGV[1] then
  return false
end
local fields = redis.call("HGETALL", KEYS[1])
redis.call("DEL", KEYS[1])
return fields
`)

// TakeIfMatch atomically reads and deletes the record, but only while it still carries codeHash.
// A record replaced by a newer request is left alone and reported as ErrNotFound.
func (s *RedisStore) TakeIfMatch(ctx context.Context, phone, codeHash string) (Record, error) {
	res, err := takeIfMatch.Run(ctx, s.client, []string{s.key(phone)}, codeHash).StringSlice()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("take passcode: %w", err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decode(phone, fields)
}

var incrementAttempts = redis.NewScript(`
local hash = redis.call("HGET", KEYS[1], "code_hash")
if not hash or hash ~= ARGV[1] then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

// IncrementAttempts bumps the failed-attempt counter of the record carrying codeHash without
// touching the expiry.
func (s *RedisStore) IncrementAttempts(ctx context.Context, phone, codeHash string) (int, error) {
	n, err := incrementAttempts.Run(ctx, s.client, []string{s.key(phone)}, codeHash).Int()
	if err != nil {
		return 0, fmt.Errorf("increment passcode attempts: %w", err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

var restoreIfAbsent = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "code_hash", ARGV[1], "expires_at", ARGV[2], "attempts", ARGV[3], "payload", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// Restore puts a taken record back unless a newer one was saved meanwhile.
func (s *RedisStore) Restore(ctx context.Context, rec Record) (bool, error) {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}
	n, err := restoreIfAbsent.Run(ctx, s.client, []string{s.key(rec.Phone)},
		rec.CodeHash,
		rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		rec.Attempts,
		rec.Payload,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("restore passcode: %w", err)
	}
	return n == 1, nil
}

func decode(phone string, fields map[string]string) (Record, error) {
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return Record{}, fmt.Errorf("decode passcode expiry: %w", err)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	return Record{
		Phone:     phone,
		CodeHash:  fields["code_hash"],
		ExpiresAt: expiresAt,
		Attempts:  attempts,
		Payload:   []byte(fields["payload"]),
	}, nil
}
