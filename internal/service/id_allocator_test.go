package service

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/board/internal/model"
)

func claimPost(e *testEnv, uid string) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		return e.postRepo.Create(ctx, &model.Post{ID: id, AuthorID: uid, Content: "x"})
	}
}

func TestAllocateExtendsTakenCandidate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.ids.rand = bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))

	require.NoError(t, e.postRepo.Create(ctx, &model.Post{ID: "1700000000-ab", AuthorID: "u0"}))

	id, err := e.ids.Allocate(ctx, claimPost(e, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000-abab", id)
}

func TestAllocateGivesUpAfterEightHexChars(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.ids.rand = bytes.NewReader(bytes.Repeat([]byte{0x01}, 16))

	for _, id := range []string{"1700000000-01", "1700000000-0101", "1700000000-010101", "1700000000-01010101"} {
		require.NoError(t, e.postRepo.Create(ctx, &model.Post{ID: id, AuthorID: "u0"}))
	}

	_, err := e.ids.Allocate(ctx, claimPost(e, "u1"))
	require.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestAllocateRetriesWhenClaimLosesRace(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.ids.rand = bytes.NewReader([]byte{0x10, 0x20})

	raced := false
	id, err := e.ids.Allocate(ctx, func(ctx context.Context, id string) error {
		if !raced {
			raced = true
			// 另一个写入者在检查之后抢先写入了同一个 id
			require.NoError(t, e.postRepo.Create(ctx, &model.Post{ID: id, AuthorID: "other"}))
		}
		return claimPost(e, "u1")(ctx, id)
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000-1020", id)
}

func TestAllocateConcurrentSameSecondNeverDuplicates(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	const workers = 64
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := e.ids.Allocate(ctx, claimPost(e, "u1"))
			if assert.NoError(t, err) {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func BenchmarkAllocate(b *testing.B) {
	e := newTestEnv(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%64 == 0 {
			e.now = e.now.Add(1e9)
		}
		_, _ = e.ids.Allocate(ctx, claimPost(e, "u1"))
	}
}
