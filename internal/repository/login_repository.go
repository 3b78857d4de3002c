package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
)

// AttemptRepository 登录尝试计数，落在 logins 桶
type AttemptRepository interface {
	// Incr bumps the counter for phoneHash. The first attempt opens a window of
	// the given length; later attempts inside it keep the original expiry.
	Incr(ctx context.Context, phoneHash string, window time.Duration) (*model.LoginAttempt, error)
	Get(ctx context.Context, phoneHash string) (*model.LoginAttempt, error)
	Reset(ctx context.Context, phoneHash string) error
}

type attemptRepository struct {
	store kv.Store
	now   func() time.Time
}

// NewAttemptRepository now may be nil, meaning time.Now.
func NewAttemptRepository(store kv.Store, now func() time.Time) AttemptRepository {
	if now == nil {
		now = time.Now
	}
	return &attemptRepository{store: store, now: now}
}

func (r *attemptRepository) Get(ctx context.Context, phoneHash string) (*model.LoginAttempt, error) {
	b, err := r.store.Get(ctx, keys.LoginKey(phoneHash).String())
	if err != nil {
		return nil, fmt.Errorf("attemptRepo.Get: %w", err)
	}
	var a model.LoginAttempt
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("attemptRepo.Get.Unmarshal: %w", err)
	}
	a.PhoneHash = phoneHash
	return &a, nil
}

// Incr 在存储层做原子的读改写，并发请求各自拿到不同的计数
func (r *attemptRepository) Incr(ctx context.Context, phoneHash string, window time.Duration) (*model.LoginAttempt, error) {
	var a model.LoginAttempt
	_, err := r.store.Update(ctx, keys.LoginKey(phoneHash).String(), func(old []byte, found bool) ([]byte, time.Duration, error) {
		now := r.now()
		a = model.LoginAttempt{}
		if found {
			if err := json.Unmarshal(old, &a); err != nil {
				return nil, 0, fmt.Errorf("unmarshal: %w", err)
			}
		}
		if !found || !now.Before(a.WindowExpiry) {
			a = model.LoginAttempt{WindowExpiry: now.Add(window)}
		}
		a.Count++

		b, err := json.Marshal(&a)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal: %w", err)
		}
		ttl := a.WindowExpiry.Sub(now)
		if ttl <= 0 {
			ttl = time.Millisecond
		}
		return b, ttl, nil
	})
	if err != nil {
		return nil, fmt.Errorf("attemptRepo.Incr: %w", err)
	}
	a.PhoneHash = phoneHash
	return &a, nil
}

func (r *attemptRepository) Reset(ctx context.Context, phoneHash string) error {
	if err := r.store.Delete(ctx, keys.LoginKey(phoneHash).String()); err != nil {
		return fmt.Errorf("attemptRepo.Reset: %w", err)
	}
	return nil
}

// BanRepository 封禁名单，落在 bans 桶，键为 IP 或手机号哈希本身
type BanRepository interface {
	Put(ctx context.Context, ban *model.BanEntry) error
	Delete(ctx context.Context, subject string) error
	Get(ctx context.Context, subject string) (*model.BanEntry, error)
	Banned(ctx context.Context, subject string) (bool, error)
	List(ctx context.Context) ([]*model.BanEntry, error)
}

type banRepository struct {
	store kv.Store
}

func NewBanRepository(store kv.Store) BanRepository {
	return &banRepository{store: store}
}

func (r *banRepository) Put(ctx context.Context, ban *model.BanEntry) error {
	b, err := json.Marshal(ban)
	if err != nil {
		return fmt.Errorf("banRepo.Put.Marshal: %w", err)
	}
	if err := r.store.Put(ctx, ban.Subject, b, 0); err != nil {
		return fmt.Errorf("banRepo.Put: %w", err)
	}
	return nil
}

func (r *banRepository) Delete(ctx context.Context, subject string) error {
	if err := r.store.Delete(ctx, subject); err != nil {
		return fmt.Errorf("banRepo.Delete: %w", err)
	}
	return nil
}

func decodeBan(subject string, b []byte) *model.BanEntry {
	var ban model.BanEntry
	// 旧数据的值就是 subject 本身，不是 JSON
	if err := json.Unmarshal(b, &ban); err != nil || ban.Subject == "" {
		return &model.BanEntry{Subject: subject}
	}
	return &ban
}

func (r *banRepository) Get(ctx context.Context, subject string) (*model.BanEntry, error) {
	b, err := r.store.Get(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("banRepo.Get: %w", err)
	}
	return decodeBan(subject, b), nil
}

func (r *banRepository) Banned(ctx context.Context, subject string) (bool, error) {
	ok, err := kv.Has(ctx, r.store, subject)
	if err != nil {
		return false, fmt.Errorf("banRepo.Banned: %w", err)
	}
	return ok, nil
}

func (r *banRepository) List(ctx context.Context) ([]*model.BanEntry, error) {
	entries, err := r.store.Scan(ctx, keys.Range{})
	if err != nil {
		return nil, fmt.Errorf("banRepo.List: %w", err)
	}
	out := make([]*model.BanEntry, len(entries))
	for i, e := range entries {
		out[i] = decodeBan(e.Key, e.Value)
	}
	return out, nil
}
