// Package kv defines the ordered key-value store the board's data layer is
// built on, with redis and SQL (gorm) backed implementations.
//
// A Store is scoped to one bucket; keys in different buckets never collide.
// Keys are ordered bytewise, entries may carry a TTL after which they read as
// absent, and Batch applies its operations atomically.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/d60-Lab/board/internal/keys"
)

var (
	ErrNotFound = errors.New("kv: not found")
	// ErrExists is returned by Batch when an OpPutNew key is already present,
	// including when a concurrent writer created it while the batch ran.
	ErrExists = errors.New("kv: key already exists")
	// ErrConflict is returned by Update when concurrent writers kept winning
	// the compare-and-set for every retry.
	ErrConflict = errors.New("kv: update kept conflicting")
)

// maxUpdateRetries bounds the compare-and-set loop of Update.
const maxUpdateRetries = 32

const (
	BucketPosts   = "posts"
	BucketProfile = "profile"
	BucketPins    = "pins"
	BucketBans    = "bans"
	BucketMutes   = "mutes"
	BucketLogins  = "logins"
)

type OpType int

const (
	OpPut OpType = iota + 1
	// OpPutNew puts only if the key is absent; otherwise the whole batch fails with ErrExists.
	OpPutNew
	OpDelete
	// OpAbsent writes nothing; the batch fails with ErrExists if the key is present.
	OpAbsent
)

type Op struct {
	Type  OpType
	Key   string
	Value []byte
	TTL   time.Duration
}

func Put(key string, value []byte) Op { return Op{Type: OpPut, Key: key, Value: value} }
func PutNew(key string, value []byte) Op { return Op{Type: OpPutNew, Key: key, Value: value} }
func Del(key string) Op { return Op{Type: OpDelete, Key: key} }
func Absent(key string) Op { return Op{Type: OpAbsent, Key: key} }

// UpdateFunc computes the next value from the current one. found is false
// when the key is absent or expired. It may run more than once.
type UpdateFunc func(old []byte, found bool) (value []byte, ttl time.Duration, err error)

type Entry struct {
	Key   string
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. A zero ttl means the entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take reads and deletes key in one step; of concurrent callers at most
	// one gets the value, the rest get ErrNotFound.
	Take(ctx context.Context, key string) ([]byte, error)
	// Update atomically replaces the value under key with what fn returns and
	// returns the stored value. An error from fn aborts without writing.
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
	Batch(ctx context.Context, ops []Op) error
	ScanKeys(ctx context.Context, r keys.Range) ([]string, error)
	Scan(ctx context.Context, r keys.Range) ([]Entry, error)
}

// Opener returns the store for a bucket.
type Opener func(bucket string) Store

// Has reports whether key is present.
func Has(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
