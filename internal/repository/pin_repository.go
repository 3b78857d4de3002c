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

// PinRepository 一次性 PIN，落在 pins 桶，依赖存储的 TTL 自动过期
type PinRepository interface {
	Put(ctx context.Context, pin *model.PendingPin, ttl time.Duration) error
	// Take reads and deletes the pin in one step. A missing or expired pin is
	// kv.ErrNotFound.
	Take(ctx context.Context, phone string) (*model.PendingPin, error)
}

type pinRepository struct {
	store kv.Store
	now   func() time.Time
}

// NewPinRepository now may be nil, meaning time.Now.
func NewPinRepository(store kv.Store, now func() time.Time) PinRepository {
	if now == nil {
		now = time.Now
	}
	return &pinRepository{store: store, now: now}
}

func (r *pinRepository) Put(ctx context.Context, pin *model.PendingPin, ttl time.Duration) error {
	pin.Expiry = r.now().Add(ttl)
	b, err := json.Marshal(pin)
	if err != nil {
		return fmt.Errorf("pinRepo.Put.Marshal: %w", err)
	}
	if err := r.store.Put(ctx, keys.PinKey(pin.Phone).String(), b, ttl); err != nil {
		return fmt.Errorf("pinRepo.Put: %w", err)
	}
	return nil
}

func (r *pinRepository) Take(ctx context.Context, phone string) (*model.PendingPin, error) {
	// 取出即删除，无论比较结果如何 PIN 都只能用一次
	b, err := r.store.Take(ctx, keys.PinKey(phone).String())
	if err != nil {
		return nil, fmt.Errorf("pinRepo.Take: %w", err)
	}
	var pin model.PendingPin
	if err := json.Unmarshal(b, &pin); err != nil {
		return nil, fmt.Errorf("pinRepo.Take.Unmarshal: %w", err)
	}
	pin.Phone = phone
	if !pin.Expiry.IsZero() && !r.now().Before(pin.Expiry) {
		return nil, fmt.Errorf("pinRepo.Take: expired: %w", kv.ErrNotFound)
	}
	return &pin, nil
}
