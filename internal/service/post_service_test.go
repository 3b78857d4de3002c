package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/pkg/apperrors"
)

func TestExtractReferences(t *testing.T) {
	uid := "0f8fad5b-d9cb-469f-a165-70867728950e"
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"global", "see https://" + testHost + "/post/post!1700000000-ab", []string{"1700000000-ab"}},
		{"author scoped", "http://" + testHost + "/post/user!" + uid + "!1700000001-0c", []string{"1700000001-0c"}},
		{"other host", "https://evil.example.org/post/post!1700000000-ab", nil},
		{"dupes kept once", postURL("1-aa") + " " + postURL("2-bb") + " " + postURL("1-aa"), []string{"1-aa", "2-bb"}},
		{"not a post url", "https://" + testHost + "/user/abc and words", nil},
		{"empty", "   ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractReferences(tc.body, testHost))
		})
	}
	assert.Nil(t, ExtractReferences(postURL("1-aa"), ""))
}

func TestCreateReplyEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	bob := e.author(t, "5550000002", "bob")

	a, err := e.posts.Create(ctx, alice, NewPost{Content: "first", AllowReplies: true})
	require.NoError(t, err)
	assert.Empty(t, a.ReplyTargets)

	e.advance(time.Second)
	b, err := e.posts.Create(ctx, bob, NewPost{Content: "reply", Reply: postURL(a.ID), AllowReplies: true})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, b.ReplyTargets)

	stored, err := e.postRepo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, stored.ReplyTargets)

	edges, err := e.postRepo.RepliesTo(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, b.ID, edges[0].SourceID)
	assert.Equal(t, "bob", edges[0].AuthorName)

	got, err := e.posts.Get(ctx, "post!"+a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.View)
	assert.Len(t, got.View.Replies, 1)
}

func TestCreateKeepsOnlyResolvableTargets(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")

	open1, err := e.posts.Create(ctx, alice, NewPost{Content: "open", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	closed, err := e.posts.Create(ctx, alice, NewPost{Content: "closed", AllowReplies: false})
	require.NoError(t, err)
	e.advance(time.Second)
	open2, err := e.posts.Create(ctx, alice, NewPost{Content: "open too", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)

	// N=5 个引用，只有 K=2 个存在且允许回复
	reply := strings.Join([]string{
		postURL(open1.ID),
		postURL(closed.ID),
		postURL("1600000000-ff"),
		"https://elsewhere.example/post/post!" + open1.ID,
		postURL(open2.ID),
	}, " ")
	p, err := e.posts.Create(ctx, alice, NewPost{Content: "refs", Reply: reply})
	require.NoError(t, err)
	assert.Equal(t, []string{open1.ID, open2.ID}, p.ReplyTargets)

	for target, want := range map[string]int{open1.ID: 1, closed.ID: 0, open2.ID: 1, "1600000000-ff": 0} {
		edges, err := e.postRepo.RepliesTo(ctx, target)
		require.NoError(t, err)
		assert.Len(t, edges, want, target)
	}
}

func TestCreateValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")

	_, err := e.posts.Create(ctx, model.Identity{}, NewPost{Content: "x"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = e.posts.Create(ctx, alice, NewPost{Content: "   "})
	require.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 400, apperrors.HTTPStatus(err))

	_, err = e.posts.Create(ctx, alice, NewPost{Content: strings.Repeat("é", 4001)})
	require.ErrorIs(t, err, ErrContentTooLong)
}

func TestGetCanonicalAddress(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	p, err := e.posts.Create(ctx, alice, NewPost{Content: "hi"})
	require.NoError(t, err)

	for _, addr := range []string{"user!" + alice.UID + "!" + p.ID, p.ID} {
		got, err := e.posts.Get(ctx, addr)
		require.NoError(t, err)
		assert.Nil(t, got.View)
		assert.Equal(t, "post!"+p.ID, got.Redirect)
	}

	_, err = e.posts.Get(ctx, "post!1600000000-00")
	require.ErrorIs(t, err, ErrPostNotFound)
	_, err = e.posts.Get(ctx, "post!")
	require.ErrorIs(t, err, ErrPostNotFound)
}

func TestDeleteCascades(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	bob := e.author(t, "5550000002", "bob")

	parent, err := e.posts.Create(ctx, alice, NewPost{Content: "parent", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	mid, err := e.posts.Create(ctx, bob, NewPost{Content: "mid", Reply: postURL(parent.ID), AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	child, err := e.posts.Create(ctx, alice, NewPost{Content: "child", Reply: postURL(mid.ID)})
	require.NoError(t, err)

	err = e.posts.Delete(ctx, alice, "post!"+mid.ID)
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, e.posts.Delete(ctx, bob, "user!"+bob.UID+"!"+mid.ID))

	store := e.postRepo.Store()
	for _, k := range []keys.Key{
		keys.PostKey(mid.ID),
		keys.AuthorPostKey(bob.UID, mid.ID),
		keys.ReplyKey(parent.ID, mid.ID),
		keys.ReplyKey(mid.ID, child.ID),
	} {
		ok, err := kv.Has(ctx, store, k.String())
		require.NoError(t, err)
		assert.False(t, ok, k.String())
	}
	for _, id := range []string{parent.ID, child.ID} {
		ok, err := e.postRepo.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	require.ErrorIs(t, e.posts.Delete(ctx, bob, "post!"+mid.ID), ErrPostNotFound)
}

func TestOperatorMayDeleteAnyPost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	p, err := e.posts.Create(ctx, alice, NewPost{Content: "hi"})
	require.NoError(t, err)

	op := model.Identity{UID: "op-uid", IsOperator: true}
	require.NoError(t, e.posts.Delete(ctx, op, "post!"+p.ID))
	ok, err := e.postRepo.Exists(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteReplyRequiresTargetOwner(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	bob := e.author(t, "5550000002", "bob")

	a, err := e.posts.Create(ctx, alice, NewPost{Content: "a", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	b, err := e.posts.Create(ctx, bob, NewPost{Content: "b", Reply: postURL(a.ID)})
	require.NoError(t, err)
	edge := keys.ReplyKey(a.ID, b.ID).String()

	require.ErrorIs(t, e.posts.DeleteReply(ctx, bob, edge), ErrForbidden)
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(e.posts.DeleteReply(ctx, alice, "post!"+a.ID)))
	require.NoError(t, e.posts.DeleteReply(ctx, alice, edge))

	edges, err := e.postRepo.RepliesTo(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestListRecentPagesNewestFirst(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	bob := e.author(t, "5550000002", "bob")

	var want []string
	for i := 0; i < 23; i++ {
		p, err := e.posts.Create(ctx, alice, NewPost{Content: fmt.Sprint(i)})
		require.NoError(t, err)
		want = append([]string{p.ID}, want...)
		_, err = e.posts.Create(ctx, bob, NewPost{Content: fmt.Sprint(i)})
		require.NoError(t, err)
		e.advance(time.Second)
	}

	var got []string
	cursor, pages := "", 0
	for {
		page, err := e.posts.ListRecent(ctx, alice.UID, cursor)
		require.NoError(t, err)
		pages++
		for _, p := range page.Items {
			assert.Equal(t, alice.UID, p.AuthorID)
			got = append(got, p.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.LastKey
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, want, got)

	all, err := e.posts.ListAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all.Items, 10)
	assert.True(t, all.HasMore)

	_, err = e.posts.ListRecent(ctx, alice.UID, "user!"+bob.UID+"!1700000000-00")
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDeleteAllByAuthor(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	bob := e.author(t, "5550000002", "bob")

	a, err := e.posts.Create(ctx, alice, NewPost{Content: "a", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	b, err := e.posts.Create(ctx, bob, NewPost{Content: "b", Reply: postURL(a.ID), AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	_, err = e.posts.Create(ctx, alice, NewPost{Content: "c", Reply: postURL(b.ID)})
	require.NoError(t, err)

	n, err := e.posts.DeleteAllByAuthor(ctx, alice.UID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := e.postRepo.AuthorPostKeys(ctx, alice.UID)
	require.NoError(t, err)
	assert.Empty(t, left)
	edges, err := e.postRepo.RepliesTo(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
	ok, err := e.postRepo.Exists(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// failingGets fails Get for the listed keys and passes everything else through.
type failingGets struct {
	kv.Store
	fail map[string]bool
}

func (f *failingGets) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail[key] {
		return nil, errors.New("io timeout")
	}
	return f.Store.Get(ctx, key)
}

func TestCreateDropsTargetWhoseLookupFails(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")

	p1, err := e.posts.Create(ctx, alice, NewPost{Content: "one", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	p2, err := e.posts.Create(ctx, alice, NewPost{Content: "two", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)

	flaky := repository.NewPostRepository(&failingGets{
		Store: e.open(kv.BucketPosts),
		fail:  map[string]bool{keys.PostKey(p2.ID).String(): true},
	})
	ps := NewPostService(e.postRepo, e.ids, NewReplyLinker(flaky), testHost, repository.DefaultPageSize)
	ps.(*postService).now = func() time.Time { return e.now }

	reply, err := ps.Create(ctx, alice, NewPost{Content: "both", Reply: postURL(p1.ID) + " " + postURL(p2.ID)})
	require.NoError(t, err)
	assert.Equal(t, []string{p1.ID}, reply.ReplyTargets)

	ok, err := e.postRepo.Exists(ctx, reply.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	edges, err := e.postRepo.RepliesTo(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, reply.ID, edges[0].SourceID)
	edges, err = e.postRepo.RepliesTo(ctx, p2.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDeleteReplyMissingEdge(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	a, err := e.posts.Create(ctx, alice, NewPost{Content: "a", AllowReplies: true})
	require.NoError(t, err)

	err = e.posts.DeleteReply(ctx, alice, keys.ReplyKey(a.ID, "1600000000-ff").String())
	require.ErrorIs(t, err, ErrReplyNotFound)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestOperatorDeletesDanglingReplyEdge(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.author(t, "5550000001", "alice")
	bob := e.author(t, "5550000002", "bob")

	a, err := e.posts.Create(ctx, alice, NewPost{Content: "a", AllowReplies: true})
	require.NoError(t, err)
	e.advance(time.Second)
	b, err := e.posts.Create(ctx, bob, NewPost{Content: "b", Reply: postURL(a.ID)})
	require.NoError(t, err)
	edge := keys.ReplyKey(a.ID, b.ID).String()

	// 只删除目标帖子本身，留下悬空的回复关系
	require.NoError(t, e.postRepo.DeleteKeys(ctx, []string{keys.PostKey(a.ID).String()}))

	require.ErrorIs(t, e.posts.DeleteReply(ctx, alice, edge), ErrForbidden)
	op := model.Identity{UID: "op-uid", IsOperator: true}
	require.NoError(t, e.posts.DeleteReply(ctx, op, edge))

	edges, err := e.postRepo.RepliesTo(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
	require.ErrorIs(t, e.posts.DeleteReply(ctx, op, edge), ErrReplyNotFound)
}
