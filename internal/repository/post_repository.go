package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
)

// ErrNotFound is returned for any missing record.
var ErrNotFound = kv.ErrNotFound

// PostRepository 帖子与回复关系的存储，全部落在 posts 桶
type PostRepository interface {
	// Exists reports whether post!<id> is taken.
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*model.Post, error)
	// Create writes the author-scoped copy and the global copy in one atomic
	// batch. kv.ErrExists means the id was taken concurrently; nothing is written.
	Create(ctx context.Context, post *model.Post) error
	PutReply(ctx context.Context, edge *model.ReplyEdge) error
	GetReply(ctx context.Context, key keys.Key) (*model.ReplyEdge, error)
	RepliesTo(ctx context.Context, targetID string) ([]*model.ReplyEdge, error)
	ReplyKeysTo(ctx context.Context, targetID string) ([]string, error)
	AuthorPostKeys(ctx context.Context, uid string) ([]string, error)
	DeleteKeys(ctx context.Context, ks []string) error
	Store() kv.Store
}

type postRepository struct {
	store kv.Store
}

func NewPostRepository(store kv.Store) PostRepository {
	return &postRepository{store: store}
}

func (r *postRepository) Store() kv.Store { return r.store }

func (r *postRepository) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := kv.Has(ctx, r.store, keys.PostKey(id).String())
	if err != nil {
		return false, fmt.Errorf("postRepo.Exists: %w", err)
	}
	return ok, nil
}

func (r *postRepository) Get(ctx context.Context, id string) (*model.Post, error) {
	b, err := r.store.Get(ctx, keys.PostKey(id).String())
	if err != nil {
		return nil, fmt.Errorf("postRepo.Get: %w", err)
	}
	p, err := DecodePost(b)
	if err != nil {
		return nil, fmt.Errorf("postRepo.Get: %w", err)
	}
	return p, nil
}

// DecodePost decodes a stored post copy.
func DecodePost(b []byte) (*model.Post, error) {
	var p model.Post
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	b, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("postRepo.Create.Marshal: %w", err)
	}
	err = r.store.Batch(ctx, []kv.Op{
		kv.PutNew(keys.AuthorPostKey(post.AuthorID, post.ID).String(), b),
		kv.PutNew(keys.PostKey(post.ID).String(), b),
	})
	if err != nil {
		return fmt.Errorf("postRepo.Create: %w", err)
	}
	return nil
}

func (r *postRepository) PutReply(ctx context.Context, edge *model.ReplyEdge) error {
	b, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("postRepo.PutReply.Marshal: %w", err)
	}
	if err := r.store.Put(ctx, keys.ReplyKey(edge.TargetID, edge.SourceID).String(), b, 0); err != nil {
		return fmt.Errorf("postRepo.PutReply: %w", err)
	}
	return nil
}

func (r *postRepository) GetReply(ctx context.Context, key keys.Key) (*model.ReplyEdge, error) {
	b, err := r.store.Get(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("postRepo.GetReply: %w", err)
	}
	var e model.ReplyEdge
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("postRepo.GetReply.Unmarshal: %w", err)
	}
	return &e, nil
}

func (r *postRepository) RepliesTo(ctx context.Context, targetID string) ([]*model.ReplyEdge, error) {
	entries, err := r.store.Scan(ctx, keys.Under(keys.Prefix(keys.ReplyTo, targetID)))
	if err != nil {
		return nil, fmt.Errorf("postRepo.RepliesTo: %w", err)
	}
	out := make([]*model.ReplyEdge, 0, len(entries))
	for _, e := range entries {
		var edge model.ReplyEdge
		if err := json.Unmarshal(e.Value, &edge); err != nil {
			return nil, fmt.Errorf("postRepo.RepliesTo.Unmarshal %s: %w", e.Key, err)
		}
		out = append(out, &edge)
	}
	return out, nil
}

func (r *postRepository) ReplyKeysTo(ctx context.Context, targetID string) ([]string, error) {
	ks, err := r.store.ScanKeys(ctx, keys.Under(keys.Prefix(keys.ReplyTo, targetID)))
	if err != nil {
		return nil, fmt.Errorf("postRepo.ReplyKeysTo: %w", err)
	}
	return ks, nil
}

func (r *postRepository) AuthorPostKeys(ctx context.Context, uid string) ([]string, error) {
	ks, err := r.store.ScanKeys(ctx, keys.Under(keys.Prefix(keys.User, uid)))
	if err != nil {
		return nil, fmt.Errorf("postRepo.AuthorPostKeys: %w", err)
	}
	return ks, nil
}

func (r *postRepository) DeleteKeys(ctx context.Context, ks []string) error {
	if len(ks) == 0 {
		return nil
	}
	ops := make([]kv.Op, len(ks))
	for i, k := range ks {
		ops[i] = kv.Del(k)
	}
	if err := r.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("postRepo.DeleteKeys: %w", err)
	}
	return nil
}
