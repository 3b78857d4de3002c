package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/metrics"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/pkg/logger"
)

// NewPost 发帖请求
type NewPost struct {
	Content string
	// Reply is free text; links in it to posts on this board become reply edges.
	Reply        string
	AllowReplies bool
}

// PostView 帖子及其回复
type PostView struct {
	Post    *model.Post
	Replies []*model.ReplyEdge
}

// PostLookup is the result of Get. A non-canonical address yields only
// Redirect, the canonical address to answer with a permanent redirect.
type PostLookup struct {
	View     *PostView
	Redirect string
}

// Page 一页帖子，游标为 LastKey
type Page struct {
	Items    []*model.Post
	FirstKey string
	LastKey  string
	HasMore  bool
}

// PostService 帖子服务
type PostService interface {
	Create(ctx context.Context, author model.Identity, in NewPost) (*model.Post, error)
	Get(ctx context.Context, address string) (*PostLookup, error)
	Delete(ctx context.Context, who model.Identity, address string) error
	DeleteReply(ctx context.Context, who model.Identity, edgeKey string) error
	// DeleteAllByAuthor removes every post of uid with its reply edges.
	DeleteAllByAuthor(ctx context.Context, uid string) (int, error)
	ListAll(ctx context.Context, cursor string) (*Page, error)
	ListRecent(ctx context.Context, uid, cursor string) (*Page, error)
	ListByPrefix(ctx context.Context, prefix, cursor string, size int) (*Page, error)
}

type postService struct {
	posts    repository.PostRepository
	ids      *IDAllocator
	linker   *ReplyLinker
	host     string
	pageSize int
	now      func() time.Time
}

func NewPostService(posts repository.PostRepository, ids *IDAllocator, linker *ReplyLinker, host string, pageSize int) PostService {
	if pageSize <= 0 {
		pageSize = repository.DefaultPageSize
	}
	return &postService{posts: posts, ids: ids, linker: linker, host: host, pageSize: pageSize, now: time.Now}
}

type postInput struct {
	Content string `validate:"required,max=4000"`
}

// Create 分配 id，校验回复目标，原子写入两份帖子，然后写回复关系。
// 回复关系写失败时帖子已经可见，错误仍会返回给调用方。
func (s *postService) Create(ctx context.Context, author model.Identity, in NewPost) (*model.Post, error) {
	if author.Anonymous() {
		return nil, ErrForbidden
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := validate.Struct(postInput{Content: in.Content}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Tag() == "max" {
			return nil, ErrContentTooLong
		}
		return nil, ErrEmptyContent
	}

	post := &model.Post{
		AuthorID:      author.UID,
		AuthorName:    author.Name,
		CreatedAt:     s.now().UTC(),
		Content:       in.Content,
		Reply:         strings.TrimSpace(in.Reply),
		ReplyTargets:  s.linker.Resolve(ctx, ExtractReferences(in.Reply, s.host)),
		AllowsReplies: in.AllowReplies,
	}
	_, err := s.ids.Allocate(ctx, func(ctx context.Context, id string) error {
		post.ID = id
		err := s.posts.Create(ctx, post)
		if err != nil && !errors.Is(err, kv.ErrExists) {
			return storageErr("posts.create", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.PostsCreated.Inc()

	if err := s.linker.Link(ctx, post); err != nil {
		return post, storageErr("posts.link_replies", err)
	}
	return post, nil
}

// postIDFrom 取地址中的帖子 id；地址可以是 post!<id>、user!<uid>!<id> 或裸 id
func postIDFrom(address string) (id string, canonical bool, err error) {
	parts := strings.Split(address, keys.Sep)
	id = parts[len(parts)-1]
	if keys.ValidField(id) != nil {
		return "", false, ErrPostNotFound
	}
	return id, len(parts) == 2 && parts[0] == string(keys.Post), nil
}

func (s *postService) Get(ctx context.Context, address string) (*PostLookup, error) {
	id, canonical, err := postIDFrom(address)
	if err != nil {
		return nil, err
	}
	if !canonical {
		return &PostLookup{Redirect: keys.PostKey(id).String()}, nil
	}

	post, err := s.posts.Get(ctx, id)
	if isNotFound(err) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, storageErr("posts.get", err)
	}
	replies, err := s.posts.RepliesTo(ctx, id)
	if err != nil {
		return nil, storageErr("posts.replies", err)
	}
	return &PostLookup{View: &PostView{Post: post, Replies: replies}}, nil
}

// cascadeKeys 收集删除一条帖子需要删除的全部键：两份帖子、指向它的回复、它发出的回复
func (s *postService) cascadeKeys(ctx context.Context, post *model.Post) ([]string, error) {
	own := []string{
		keys.PostKey(post.ID).String(),
		keys.AuthorPostKey(post.AuthorID, post.ID).String(),
	}
	var outgoing, incoming []string
	var scanErr error

	var wg conc.WaitGroup
	wg.Go(func() {
		for _, target := range post.ReplyTargets {
			if k, err := keys.New(keys.ReplyTo, target, post.ID); err == nil {
				outgoing = append(outgoing, k.String())
			}
		}
	})
	wg.Go(func() {
		incoming, scanErr = s.posts.ReplyKeysTo(ctx, post.ID)
	})
	wg.Wait()
	if scanErr != nil {
		return nil, scanErr
	}

	out := make([]string, 0, len(own)+len(outgoing)+len(incoming))
	out = append(out, own...)
	out = append(out, outgoing...)
	return append(out, incoming...), nil
}

// Delete 作者本人或管理员可删除；所有相关键在一个批次内删除。
// 收集与删除之间新写入的回复不会被删除。
func (s *postService) Delete(ctx context.Context, who model.Identity, address string) error {
	id, _, err := postIDFrom(address)
	if err != nil {
		return err
	}
	post, err := s.posts.Get(ctx, id)
	if isNotFound(err) {
		return ErrPostNotFound
	}
	if err != nil {
		return storageErr("posts.delete.get", err)
	}
	if who.Anonymous() || (post.AuthorID != who.UID && !who.IsOperator) {
		logger.Warn("post delete refused", zap.String("post", id), zap.String("uid", who.UID))
		return ErrForbidden
	}

	ks, err := s.cascadeKeys(ctx, post)
	if err != nil {
		return storageErr("posts.delete.collect", err)
	}
	if err := s.posts.DeleteKeys(ctx, ks); err != nil {
		return storageErr("posts.delete", err)
	}

	by := "author"
	if post.AuthorID != who.UID {
		by = "operator"
	}
	metrics.PostsDeleted.WithLabelValues(by).Inc()
	logger.Info("post deleted", zap.String("post", id), zap.String("by", by), zap.Int("keys", len(ks)))
	return nil
}

// DeleteReply 被回复帖子的作者或管理员可删除一条回复关系
func (s *postService) DeleteReply(ctx context.Context, who model.Identity, edgeKey string) error {
	if who.Anonymous() {
		return ErrForbidden
	}
	k, err := keys.Parse(edgeKey)
	if err != nil || k.NS != keys.ReplyTo {
		return ErrReplyNotFound
	}
	if _, err := s.posts.GetReply(ctx, k); err != nil {
		if isNotFound(err) {
			return ErrReplyNotFound
		}
		return storageErr("posts.delete_reply.get_edge", err)
	}
	// 管理员可清理目标帖子已不存在的悬空关系
	if !who.IsOperator {
		target, err := s.posts.Get(ctx, k.Fields[0])
		if isNotFound(err) {
			return ErrForbidden
		}
		if err != nil {
			return storageErr("posts.delete_reply.get", err)
		}
		if target.AuthorID != who.UID {
			return ErrForbidden
		}
	}
	if err := s.posts.DeleteKeys(ctx, []string{k.String()}); err != nil {
		return storageErr("posts.delete_reply", err)
	}
	return nil
}

func (s *postService) DeleteAllByAuthor(ctx context.Context, uid string) (int, error) {
	if keys.ValidField(uid) != nil {
		return 0, ErrAccountNotFound
	}
	authored, err := s.posts.AuthorPostKeys(ctx, uid)
	if err != nil {
		return 0, storageErr("posts.delete_all.scan", err)
	}
	n := 0
	for _, ak := range authored {
		k, err := keys.Parse(ak)
		if err != nil {
			logger.Warn("skipping malformed author key", zap.String("key", ak))
			continue
		}
		post, err := s.posts.Get(ctx, k.Last())
		if isNotFound(err) {
			// 全局副本缺失时仍删除作者副本
			if err := s.posts.DeleteKeys(ctx, []string{ak}); err != nil {
				return n, storageErr("posts.delete_all", err)
			}
			continue
		}
		if err != nil {
			return n, storageErr("posts.delete_all.get", err)
		}
		ks, err := s.cascadeKeys(ctx, post)
		if err != nil {
			return n, storageErr("posts.delete_all.collect", err)
		}
		if err := s.posts.DeleteKeys(ctx, ks); err != nil {
			return n, storageErr("posts.delete_all", err)
		}
		n++
		metrics.PostsDeleted.WithLabelValues("account").Inc()
	}
	return n, nil
}

func (s *postService) ListAll(ctx context.Context, cursor string) (*Page, error) {
	return s.ListByPrefix(ctx, keys.Prefix(keys.Post), cursor, s.pageSize)
}

func (s *postService) ListRecent(ctx context.Context, uid, cursor string) (*Page, error) {
	if keys.ValidField(uid) != nil {
		return nil, ErrAccountNotFound
	}
	return s.ListByPrefix(ctx, keys.Prefix(keys.User, uid), cursor, s.pageSize)
}

func (s *postService) ListByPrefix(ctx context.Context, prefix, cursor string, size int) (*Page, error) {
	w, err := repository.Paginate(ctx, s.posts.Store(), prefix, cursor, size)
	if errors.Is(err, repository.ErrCursorOutOfRange) {
		return nil, ErrInvalidCursor
	}
	if err != nil {
		return nil, storageErr("posts.list", err)
	}
	page := &Page{Items: make([]*model.Post, 0, len(w.Entries)), FirstKey: w.FirstKey, LastKey: w.LastKey, HasMore: w.HasMore}
	for _, e := range w.Entries {
		post, err := repository.DecodePost(e.Value)
		if err != nil {
			return nil, storageErr("posts.list.decode", err)
		}
		page.Items = append(page.Items, post)
	}
	return page, nil
}
