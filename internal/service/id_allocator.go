package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/metrics"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/pkg/logger"
)

// maxSuffixHex 随机后缀最多 8 个十六进制字符，超过即放弃
const maxSuffixHex = 8

// IDAllocator hands out post ids of the form <unix seconds>-<hex>. Ids sort
// by creation second; uniqueness is checked against the store, not assumed.
type IDAllocator struct {
	posts repository.PostRepository
	now   func() time.Time
	rand  io.Reader
}

func NewIDAllocator(posts repository.PostRepository) *IDAllocator {
	return &IDAllocator{posts: posts, now: time.Now, rand: rand.Reader}
}

func (a *IDAllocator) randomHex() (string, error) {
	var b [1]byte
	if _, err := io.ReadFull(a.rand, b[:]); err != nil {
		return "", fmt.Errorf("id allocator: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Allocate builds a candidate from the current second and claims it.
func (a *IDAllocator) Allocate(ctx context.Context, claim func(ctx context.Context, id string) error) (string, error) {
	return a.AllocateFrom(ctx, strconv.FormatInt(a.now().Unix(), 10), claim)
}

// AllocateFrom finds a free id under prefix and passes it to claim. A
// candidate that already exists, or that claim rejects with kv.ErrExists
// because a concurrent writer won it, grows by one random byte. Once the
// suffix would pass maxSuffixHex characters it gives up with
// ErrIDSpaceExhausted.
func (a *IDAllocator) AllocateFrom(ctx context.Context, prefix string, claim func(ctx context.Context, id string) error) (string, error) {
	suffix, err := a.randomHex()
	if err != nil {
		return "", err
	}
	for {
		id := prefix + "-" + suffix
		taken, err := a.posts.Exists(ctx, id)
		if err != nil {
			return "", storageErr("posts.allocate", err)
		}
		if !taken {
			err = claim(ctx, id)
			if err == nil {
				return id, nil
			}
			if !errors.Is(err, kv.ErrExists) {
				return "", err
			}
		}

		metrics.IDCollisions.Inc()
		if len(suffix) >= maxSuffixHex {
			logger.Warn("post id space exhausted", zap.String("candidate", id))
			return "", ErrIDSpaceExhausted
		}
		more, err := a.randomHex()
		if err != nil {
			return "", err
		}
		suffix += more
	}
}
