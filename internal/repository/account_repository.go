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

// AccountRepository 账户资料，落在 profile 桶：
//
//	user!<phoneHash>          -> Account
//	uid!<uid>                 -> phoneHash
//	secondary!<phoneHash>     -> 主手机号哈希（别名，只解析一层）
//	secondaryRef!<phoneHash>  -> 拥有该别名的 uid
type AccountRepository interface {
	// Create registers a new account; kv.ErrExists if the phone or uid is taken.
	Create(ctx context.Context, acc *model.Account) error
	Save(ctx context.Context, acc *model.Account) error
	GetByPhone(ctx context.Context, phoneHash string) (*model.Account, error)
	// Resolve follows a secondary alias at most once and returns the account
	// the phone belongs to.
	Resolve(ctx context.Context, phoneHash string) (*model.Account, error)
	GetByUID(ctx context.Context, uid string) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	// PhoneTaken reports whether phoneHash is a primary or secondary phone of any account.
	PhoneTaken(ctx context.Context, phoneHash string) (bool, error)
	LinkSecondary(ctx context.Context, acc *model.Account, phoneHash string) error
	UnlinkSecondary(ctx context.Context, acc *model.Account, phoneHash string) error
	Delete(ctx context.Context, acc *model.Account) error
}

type accountRepository struct {
	store kv.Store
}

func NewAccountRepository(store kv.Store) AccountRepository {
	return &accountRepository{store: store}
}

func (r *accountRepository) Create(ctx context.Context, acc *model.Account) error {
	b, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("accountRepo.Create.Marshal: %w", err)
	}
	err = r.store.Batch(ctx, []kv.Op{
		kv.Absent(keys.SecondaryKey(acc.Phone).String()),
		kv.PutNew(keys.UIDKey(acc.UID).String(), []byte(acc.Phone)),
		kv.PutNew(keys.ProfileKey(acc.Phone).String(), b),
	})
	if err != nil {
		return fmt.Errorf("accountRepo.Create: %w", err)
	}
	return nil
}

func (r *accountRepository) Save(ctx context.Context, acc *model.Account) error {
	b, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("accountRepo.Save.Marshal: %w", err)
	}
	if err := r.store.Put(ctx, keys.ProfileKey(acc.Phone).String(), b, 0); err != nil {
		return fmt.Errorf("accountRepo.Save: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByPhone(ctx context.Context, phoneHash string) (*model.Account, error) {
	b, err := r.store.Get(ctx, keys.ProfileKey(phoneHash).String())
	if err != nil {
		return nil, fmt.Errorf("accountRepo.GetByPhone: %w", err)
	}
	var acc model.Account
	if err := json.Unmarshal(b, &acc); err != nil {
		return nil, fmt.Errorf("accountRepo.GetByPhone.Unmarshal: %w", err)
	}
	return &acc, nil
}

func (r *accountRepository) Resolve(ctx context.Context, phoneHash string) (*model.Account, error) {
	acc, err := r.GetByPhone(ctx, phoneHash)
	if err == nil || !errors.Is(err, kv.ErrNotFound) {
		return acc, err
	}
	primary, err := r.store.Get(ctx, keys.SecondaryKey(phoneHash).String())
	if err != nil {
		return nil, fmt.Errorf("accountRepo.Resolve: %w", err)
	}
	return r.GetByPhone(ctx, string(primary))
}

func (r *accountRepository) GetByUID(ctx context.Context, uid string) (*model.Account, error) {
	phone, err := r.store.Get(ctx, keys.UIDKey(uid).String())
	if err != nil {
		return nil, fmt.Errorf("accountRepo.GetByUID: %w", err)
	}
	return r.GetByPhone(ctx, string(phone))
}

func (r *accountRepository) List(ctx context.Context) ([]*model.Account, error) {
	entries, err := r.store.Scan(ctx, keys.Under(keys.Prefix(keys.User)))
	if err != nil {
		return nil, fmt.Errorf("accountRepo.List: %w", err)
	}
	out := make([]*model.Account, 0, len(entries))
	for _, e := range entries {
		var acc model.Account
		if err := json.Unmarshal(e.Value, &acc); err != nil {
			return nil, fmt.Errorf("accountRepo.List.Unmarshal %s: %w", e.Key, err)
		}
		out = append(out, &acc)
	}
	return out, nil
}

func (r *accountRepository) PhoneTaken(ctx context.Context, phoneHash string) (bool, error) {
	for _, k := range []keys.Key{keys.ProfileKey(phoneHash), keys.SecondaryKey(phoneHash)} {
		ok, err := kv.Has(ctx, r.store, k.String())
		if err != nil {
			return false, fmt.Errorf("accountRepo.PhoneTaken: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// LinkSecondary 写入别名与资料；别名或同号主账户已存在时整体失败
func (r *accountRepository) LinkSecondary(ctx context.Context, acc *model.Account, phoneHash string) error {
	if !acc.HasSecondary(phoneHash) {
		acc.SecondaryPhones = append(acc.SecondaryPhones, phoneHash)
	}
	b, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("accountRepo.LinkSecondary.Marshal: %w", err)
	}
	err = r.store.Batch(ctx, []kv.Op{
		kv.Absent(keys.ProfileKey(phoneHash).String()),
		kv.PutNew(keys.SecondaryKey(phoneHash).String(), []byte(acc.Phone)),
		kv.Put(keys.SecondaryRefKey(phoneHash).String(), []byte(acc.UID)),
		kv.Put(keys.ProfileKey(acc.Phone).String(), b),
	})
	if err != nil {
		return fmt.Errorf("accountRepo.LinkSecondary: %w", err)
	}
	return nil
}

func (r *accountRepository) UnlinkSecondary(ctx context.Context, acc *model.Account, phoneHash string) error {
	kept := acc.SecondaryPhones[:0]
	for _, p := range acc.SecondaryPhones {
		if p != phoneHash {
			kept = append(kept, p)
		}
	}
	acc.SecondaryPhones = kept
	b, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("accountRepo.UnlinkSecondary.Marshal: %w", err)
	}
	err = r.store.Batch(ctx, []kv.Op{
		kv.Del(keys.SecondaryKey(phoneHash).String()),
		kv.Del(keys.SecondaryRefKey(phoneHash).String()),
		kv.Put(keys.ProfileKey(acc.Phone).String(), b),
	})
	if err != nil {
		return fmt.Errorf("accountRepo.UnlinkSecondary: %w", err)
	}
	return nil
}

func (r *accountRepository) Delete(ctx context.Context, acc *model.Account) error {
	ops := []kv.Op{
		kv.Del(keys.ProfileKey(acc.Phone).String()),
		kv.Del(keys.UIDKey(acc.UID).String()),
	}
	for _, p := range acc.SecondaryPhones {
		ops = append(ops, kv.Del(keys.SecondaryKey(p).String()), kv.Del(keys.SecondaryRefKey(p).String()))
	}
	if err := r.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("accountRepo.Delete: %w", err)
	}
	return nil
}
