package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
)

// MuteRepository 屏蔽列表，落在 mutes 桶，mute!<uid> -> {uid: uid}
type MuteRepository interface {
	// Get returns an empty set when the user has muted nobody.
	Get(ctx context.Context, muterID string) (*model.MuteSet, error)
	Save(ctx context.Context, set *model.MuteSet) error
}

type muteRepository struct {
	store kv.Store
}

func NewMuteRepository(store kv.Store) MuteRepository {
	return &muteRepository{store: store}
}

func (r *muteRepository) Get(ctx context.Context, muterID string) (*model.MuteSet, error) {
	set := &model.MuteSet{MuterID: muterID, Muted: map[string]string{}}
	b, err := r.store.Get(ctx, keys.MuteKey(muterID).String())
	if errors.Is(err, kv.ErrNotFound) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("muteRepo.Get: %w", err)
	}
	if err := json.Unmarshal(b, &set.Muted); err != nil {
		return nil, fmt.Errorf("muteRepo.Get.Unmarshal: %w", err)
	}
	if set.Muted == nil {
		set.Muted = map[string]string{}
	}
	return set, nil
}

func (r *muteRepository) Save(ctx context.Context, set *model.MuteSet) error {
	k := keys.MuteKey(set.MuterID).String()
	if len(set.Muted) == 0 {
		if err := r.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("muteRepo.Save: %w", err)
		}
		return nil
	}
	b, err := json.Marshal(set.Muted)
	if err != nil {
		return fmt.Errorf("muteRepo.Save.Marshal: %w", err)
	}
	if err := r.store.Put(ctx, k, b, 0); err != nil {
		return fmt.Errorf("muteRepo.Save: %w", err)
	}
	return nil
}
