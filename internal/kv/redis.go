package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/board/internal/keys"
)

// scanChunk is how many index members a scan reads per round trip.
const scanChunk = 64

// RedisStore keeps each value in a plain string key (with PX for TTLs) and
// every live key name in a per-bucket sorted set with score 0, so ordered
// range scans are ZRANGEBYLEX / ZREVRANGEBYLEX over the index. Index members
// whose value has expired are dropped lazily when a scan meets them.
type RedisStore struct {
	client *redis.Client
	bucket string
}

func NewRedisStore(client *redis.Client, bucket string) *RedisStore {
	return &RedisStore{client: client, bucket: bucket}
}

// RedisOpener opens bucket stores sharing one client.
func RedisOpener(client *redis.Client) Opener {
	return func(bucket string) Store { return NewRedisStore(client, bucket) }
}

func (s *RedisStore) dataKey(key string) string { return "board:" + s.bucket + ":k:" + key }
func (s *RedisStore) indexKey() string { return "board:" + s.bucket + ":idx" }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(key), value, ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Member: key})
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	return err
}

// Take uses GETDEL, so the read and the delete are one command.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.GetDel(ctx, s.dataKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return get.Bytes()
}

// Update WATCHes the data key, so a write by anyone else between the read
// and EXEC fails the transaction and fn runs again on the new value.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	dk := s.dataKey(key)
	for i := 0; i < maxUpdateRetries; i++ {
		var out []byte
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, dk).Bytes()
			if err != nil && err != redis.Nil {
				return err
			}
			value, ttl, err := fn(old, err == nil)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, dk, value, ttl)
				pipe.ZAdd(ctx, s.indexKey(), redis.Z{Member: key})
				return nil
			})
			out = value
			return err
		}, dk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (s *RedisStore) queue(ctx context.Context, pipe redis.Pipeliner, ops []Op) {
	for _, op := range ops {
		switch op.Type {
		case OpPut, OpPutNew:
			pipe.Set(ctx, s.dataKey(op.Key), op.Value, op.TTL)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Member: op.Key})
		case OpDelete:
			pipe.Del(ctx, s.dataKey(op.Key))
			pipe.ZRem(ctx, s.indexKey(), op.Key)
		}
	}
}

// Batch runs ops in one MULTI/EXEC. When it contains OpPutNew or OpAbsent the keys are
// WATCHed first; an existing key or a concurrent change to one aborts the
// whole batch with ErrExists.
func (s *RedisStore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	var guarded []string
	for _, op := range ops {
		if op.Type == OpPutNew || op.Type == OpAbsent {
			guarded = append(guarded, s.dataKey(op.Key))
		}
	}

	if len(guarded) == 0 {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queue(ctx, pipe, ops)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, guarded...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queue(ctx, pipe, ops)
			return nil
		})
		return err
	}, guarded...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrExists
	}
	return err
}

func lexBounds(r keys.Range) (lo, hi string) {
	switch {
	case r.Gt != "":
		lo = "(" + r.Gt
	case r.Gte != "":
		lo = "[" + r.Gte
	default:
		lo = "-"
	}
	switch {
	case r.Lt != "":
		hi = "(" + r.Lt
	case r.Lte != "":
		hi = "[" + r.Lte
	default:
		hi = "+"
	}
	return lo, hi
}

func (s *RedisStore) Scan(ctx context.Context, r keys.Range) ([]Entry, error) {
	lo, hi := lexBounds(r)
	var out []Entry

	for {
		want := scanChunk
		if r.Limit > 0 && r.Limit-len(out) < want {
			want = r.Limit - len(out)
		}
		by := &redis.ZRangeBy{Min: lo, Max: hi, Count: int64(want)}

		var members []string
		var err error
		if r.Reverse {
			members, err = s.client.ZRevRangeByLex(ctx, s.indexKey(), by).Result()
		} else {
			members, err = s.client.ZRangeByLex(ctx, s.indexKey(), by).Result()
		}
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			return out, nil
		}

		dataKeys := make([]string, len(members))
		for i, m := range members {
			dataKeys[i] = s.dataKey(m)
		}
		vals, err := s.client.MGet(ctx, dataKeys...).Result()
		if err != nil {
			return nil, err
		}

		var stale []string
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				stale = append(stale, members[i])
				continue
			}
			out = append(out, Entry{Key: members[i], Value: []byte(str)})
		}
		if len(stale) > 0 {
			s.dropStale(ctx, stale)
		}

		if r.Limit > 0 && len(out) >= r.Limit {
			return out, nil
		}
		if len(members) < want {
			return out, nil
		}

		last := members[len(members)-1]
		if r.Reverse {
			hi = "(" + last
		} else {
			lo = "(" + last
		}
	}
}

// dropStale removes expired members from the index unless a writer has
// recreated their value in the meantime, and returns how many it removed.
// Failures are left for the next scan or sweep.
func (s *RedisStore) dropStale(ctx context.Context, members []string) int64 {
	dataKeys := make([]string, len(members))
	names := make([]interface{}, len(members))
	for i, m := range members {
		dataKeys[i] = s.dataKey(m)
		names[i] = m
	}
	var removed int64
	_ = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, dataKeys...).Result()
		if err != nil || n > 0 {
			return err
		}
		var rem *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			rem = pipe.ZRem(ctx, s.indexKey(), names...)
			return nil
		})
		if err == nil {
			removed = rem.Val()
		}
		return err
	}, dataKeys...)
	return removed
}

// SweepIndex walks the whole index and drops members whose value has
// expired. Buckets that are never range-scanned (pins, logins) rely on it to
// keep their index bounded.
func (s *RedisStore) SweepIndex(ctx context.Context) (int64, error) {
	from := "-"
	var dropped int64
	for {
		members, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{Min: from, Max: "+", Count: scanChunk}).Result()
		if err != nil {
			return dropped, err
		}
		if len(members) == 0 {
			return dropped, nil
		}

		pipe := s.client.Pipeline()
		exists := make([]*redis.IntCmd, len(members))
		for i, m := range members {
			exists[i] = pipe.Exists(ctx, s.dataKey(m))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return dropped, err
		}
		var stale []string
		for i, c := range exists {
			if c.Val() == 0 {
				stale = append(stale, members[i])
			}
		}
		if len(stale) > 0 {
			dropped += s.dropStale(ctx, stale)
		}

		if len(members) < scanChunk {
			return dropped, nil
		}
		from = "(" + members[len(members)-1]
	}
}

// RedisSweeper sweeps the index of every named bucket.
func RedisSweeper(client *redis.Client, buckets ...string) SweepFunc {
	return func(ctx context.Context) (int64, error) {
		var total int64
		for _, b := range buckets {
			n, err := NewRedisStore(client, b).SweepIndex(ctx)
			total += n
			if err != nil {
				return total, fmt.Errorf("sweep %s: %w", b, err)
			}
		}
		return total, nil
	}
}

func (s *RedisStore) ScanKeys(ctx context.Context, r keys.Range) ([]string, error) {
	entries, err := s.Scan(ctx, r)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out, nil
}
