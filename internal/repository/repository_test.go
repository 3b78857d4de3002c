package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
)

func setupRedis(t testing.TB) (*miniredis.Miniredis, kv.Opener) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, kv.RedisOpener(client)
}

func newPost(uid, id string) *model.Post {
	return &model.Post{ID: id, AuthorID: uid, AuthorName: "name-" + uid, Content: "hello", AllowsReplies: true, ReplyTargets: []string{}}
}

func TestPostCreateWritesBothCopies(t *testing.T) {
	_, open := setupRedis(t)
	store := open(kv.BucketPosts)
	repo := NewPostRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPost("u1", "1700000000-ab")))

	got, err := repo.Get(ctx, "1700000000-ab")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.AuthorID)

	ok, err := kv.Has(ctx, store, "user!u1!1700000000-ab")
	require.NoError(t, err)
	assert.True(t, ok)

	err = repo.Create(ctx, newPost("u2", "1700000000-ab"))
	require.ErrorIs(t, err, kv.ErrExists)
	ok, err = kv.Has(ctx, store, "user!u2!1700000000-ab")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepliesToIsScopedToTarget(t *testing.T) {
	_, open := setupRedis(t)
	repo := NewPostRepository(open(kv.BucketPosts))
	ctx := context.Background()

	for _, e := range []model.ReplyEdge{
		{TargetID: "100-aa", SourceID: "101-aa", AuthorID: "u2"},
		{TargetID: "100-aa", SourceID: "102-aa", AuthorID: "u3"},
		// 更长的 id 共享 100-aa 这个字符串前缀，不能被扫进来
		{TargetID: "100-aaff", SourceID: "103-aa", AuthorID: "u4"},
	} {
		e := e
		require.NoError(t, repo.PutReply(ctx, &e))
	}

	edges, err := repo.RepliesTo(ctx, "100-aa")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "101-aa", edges[0].SourceID)
	assert.Equal(t, "102-aa", edges[1].SourceID)

	ks, err := repo.ReplyKeysTo(ctx, "100-aa")
	require.NoError(t, err)
	assert.Equal(t, []string{"replyto!100-aa!101-aa", "replyto!100-aa!102-aa"}, ks)

	edge, err := repo.GetReply(ctx, keys.ReplyKey("100-aaff", "103-aa"))
	require.NoError(t, err)
	assert.Equal(t, "u4", edge.AuthorID)

	require.NoError(t, repo.DeleteKeys(ctx, ks))
	edges, err = repo.RepliesTo(ctx, "100-aa")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestPaginateWalksEveryItemOnce(t *testing.T) {
	cases := []struct{ items, size int }{
		{0, 10}, {1, 10}, {10, 10}, {11, 10}, {25, 10}, {7, 3}, {9, 3},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_by_%d", tc.items, tc.size), func(t *testing.T) {
			_, open := setupRedis(t)
			store := open(kv.BucketPosts)
			ctx := context.Background()
			for i := 0; i < tc.items; i++ {
				require.NoError(t, store.Put(ctx, fmt.Sprintf("post!%d-00", 1700000000+i), []byte("{}"), 0))
			}
			// 其他命名空间的键不应出现在结果里
			require.NoError(t, store.Put(ctx, "replyto!x!y", []byte("{}"), 0))

			var seen []string
			pages, cursor := 0, ""
			for {
				w, err := Paginate(ctx, store, "post!", cursor, tc.size)
				require.NoError(t, err)
				if len(w.Entries) == 0 {
					break
				}
				pages++
				for _, e := range w.Entries {
					seen = append(seen, e.Key)
				}
				if !w.HasMore {
					break
				}
				cursor = w.LastKey
			}

			want := (tc.items + tc.size - 1) / tc.size
			assert.Equal(t, want, pages)
			require.Len(t, seen, tc.items)
			for i, k := range seen {
				assert.Equal(t, fmt.Sprintf("post!%d-00", 1700000000+tc.items-1-i), k, "newest first")
			}
		})
	}
}

func TestPaginateStableUnderNewerInserts(t *testing.T) {
	_, open := setupRedis(t)
	store := open(kv.BucketPosts)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("user!u1!%d-00", 100+i), []byte("{}"), 0))
	}
	first, err := Paginate(ctx, store, "user!u1!", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "user!u1!105-00", first.FirstKey)
	assert.True(t, first.HasMore)

	require.NoError(t, store.Put(ctx, "user!u1!200-00", []byte("{}"), 0))

	second, err := Paginate(ctx, store, "user!u1!", first.LastKey, 3)
	require.NoError(t, err)
	assert.Equal(t, "user!u1!102-00", second.FirstKey)
	assert.Equal(t, "user!u1!100-00", second.LastKey)
	assert.False(t, second.HasMore)
}

func TestPaginateRejectsForeignCursor(t *testing.T) {
	_, open := setupRedis(t)
	_, err := Paginate(context.Background(), open(kv.BucketPosts), "user!u1!", "user!u2!100-00", 10)
	require.ErrorIs(t, err, ErrCursorOutOfRange)
}

func TestAccountLifecycle(t *testing.T) {
	_, open := setupRedis(t)
	repo := NewAccountRepository(open(kv.BucketProfile))
	ctx := context.Background()

	acc := &model.Account{UID: "uid-1", Phone: "hash-a", RepliesVisible: true}
	require.NoError(t, repo.Create(ctx, acc))
	require.ErrorIs(t, repo.Create(ctx, &model.Account{UID: "uid-2", Phone: "hash-a"}), kv.ErrExists)

	got, err := repo.GetByUID(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-a", got.Phone)

	require.NoError(t, repo.LinkSecondary(ctx, got, "hash-b"))
	resolved, err := repo.Resolve(ctx, "hash-b")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", resolved.UID)
	assert.True(t, resolved.HasSecondary("hash-b"))

	taken, err := repo.PhoneTaken(ctx, "hash-b")
	require.NoError(t, err)
	assert.True(t, taken)

	// 别名已被占用的手机号不能再注册为主账户
	require.ErrorIs(t, repo.Create(ctx, &model.Account{UID: "uid-3", Phone: "hash-b"}), kv.ErrExists)

	other := &model.Account{UID: "uid-4", Phone: "hash-c"}
	require.NoError(t, repo.Create(ctx, other))
	require.ErrorIs(t, repo.LinkSecondary(ctx, other, "hash-b"), kv.ErrExists)
	require.ErrorIs(t, repo.LinkSecondary(ctx, other, "hash-a"), kv.ErrExists)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, repo.UnlinkSecondary(ctx, resolved, "hash-b"))
	_, err = repo.Resolve(ctx, "hash-b")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, resolved))
	_, err = repo.GetByUID(ctx, "uid-1")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPinTakeIsSingleUse(t *testing.T) {
	mr, open := setupRedis(t)
	repo := NewPinRepository(open(kv.BucketPins), nil)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &model.PendingPin{Phone: "+15550000000", Pin: "4321"}, 5*time.Minute))
	pin, err := repo.Take(ctx, "+15550000000")
	require.NoError(t, err)
	assert.Equal(t, "4321", pin.Pin)

	_, err = repo.Take(ctx, "+15550000000")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, repo.Put(ctx, &model.PendingPin{Phone: "+15550000000", Pin: "1111"}, 5*time.Minute))
	mr.FastForward(6 * time.Minute)
	_, err = repo.Take(ctx, "+15550000000")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestAttemptWindowIsFixedFromFirstAttempt(t *testing.T) {
	mr, open := setupRedis(t)
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	repo := NewAttemptRepository(open(kv.BucketLogins), clock)
	ctx := context.Background()

	a, err := repo.Incr(ctx, "hash", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count)
	first := a.WindowExpiry

	for i := 2; i <= 4; i++ {
		now = now.Add(time.Minute)
		mr.FastForward(time.Minute)
		a, err = repo.Incr(ctx, "hash", 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, a.Count)
		assert.Equal(t, first, a.WindowExpiry)
	}

	now = now.Add(2 * time.Minute)
	mr.FastForward(2 * time.Minute)
	_, err = repo.Get(ctx, "hash")
	require.ErrorIs(t, err, kv.ErrNotFound)

	a, err = repo.Incr(ctx, "hash", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count)

	require.NoError(t, repo.Reset(ctx, "hash"))
	_, err = repo.Get(ctx, "hash")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestBanList(t *testing.T) {
	_, open := setupRedis(t)
	store := open(kv.BucketBans)
	repo := NewBanRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &model.BanEntry{Subject: "1.2.3.4", Reason: "too many attempts"}))
	// 旧格式：值即 subject
	require.NoError(t, store.Put(ctx, "legacyhash", []byte("legacyhash"), 0))

	ok, err := repo.Banned(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	legacy, err := repo.Get(ctx, "legacyhash")
	require.NoError(t, err)
	assert.Equal(t, "legacyhash", legacy.Subject)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "too many attempts", list[0].Reason)

	require.NoError(t, repo.Delete(ctx, "1.2.3.4"))
	ok, err = repo.Banned(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMuteSetRoundTrip(t *testing.T) {
	_, open := setupRedis(t)
	store := open(kv.BucketMutes)
	repo := NewMuteRepository(store)
	ctx := context.Background()

	set, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, set.Muted)

	set.Muted["u2"] = "u2"
	require.NoError(t, repo.Save(ctx, set))

	raw, err := store.Get(ctx, "mute!u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"u2":"u2"}`, string(raw))

	set, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, set.Has("u2"))

	delete(set.Muted, "u2")
	require.NoError(t, repo.Save(ctx, set))
	ok, err := kv.Has(ctx, store, "mute!u1")
	require.NoError(t, err)
	assert.False(t, ok)
}
