package service

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
)

// MuteService 屏蔽列表，只能修改自己的
type MuteService interface {
	Mute(ctx context.Context, self model.Identity, them string) error
	Unmute(ctx context.Context, self model.Identity, them string) error
	Muted(ctx context.Context, self model.Identity) ([]string, error)
	IsMuted(ctx context.Context, self model.Identity, them string) (bool, error)
}

type muteService struct {
	mutes repository.MuteRepository
}

func NewMuteService(mutes repository.MuteRepository) MuteService {
	return &muteService{mutes: mutes}
}

func (s *muteService) check(self model.Identity, them string) error {
	if self.Anonymous() {
		return ErrForbidden
	}
	if keys.ValidField(them) != nil {
		return ErrAccountNotFound
	}
	if self.UID == them {
		return ErrMuteSelf
	}
	return nil
}

func (s *muteService) Mute(ctx context.Context, self model.Identity, them string) error {
	if err := s.check(self, them); err != nil {
		return err
	}
	set, err := s.mutes.Get(ctx, self.UID)
	if err != nil {
		return storageErr("mutes.mute.get", err)
	}
	if set.Has(them) {
		return nil
	}
	set.Muted[them] = them
	if err := s.mutes.Save(ctx, set); err != nil {
		return storageErr("mutes.mute", err)
	}
	return nil
}

func (s *muteService) Unmute(ctx context.Context, self model.Identity, them string) error {
	if err := s.check(self, them); err != nil {
		return err
	}
	set, err := s.mutes.Get(ctx, self.UID)
	if err != nil {
		return storageErr("mutes.unmute.get", err)
	}
	if !set.Has(them) {
		return nil
	}
	delete(set.Muted, them)
	if err := s.mutes.Save(ctx, set); err != nil {
		return storageErr("mutes.unmute", err)
	}
	return nil
}

func (s *muteService) Muted(ctx context.Context, self model.Identity) ([]string, error) {
	if self.Anonymous() {
		return nil, ErrForbidden
	}
	set, err := s.mutes.Get(ctx, self.UID)
	if err != nil {
		return nil, storageErr("mutes.list", err)
	}
	out := lo.Keys(set.Muted)
	sort.Strings(out)
	return out, nil
}

func (s *muteService) IsMuted(ctx context.Context, self model.Identity, them string) (bool, error) {
	if self.Anonymous() {
		return false, nil
	}
	set, err := s.mutes.Get(ctx, self.UID)
	if err != nil {
		return false, storageErr("mutes.is_muted", err)
	}
	return set.Has(them), nil
}
