package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/pkg/logger"
)

const (
	DefaultColorTag = "#F1F1F1"
	unnamed         = "???"
)

var (
	colorTagRe = regexp.MustCompile(`^#[A-Za-z0-9]+$`)
	bareTagRe  = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// ProfileUpdate 资料修改
type ProfileUpdate struct {
	Name           string `validate:"max=30"`
	Bio            string
	Websites       string
	ColorTag       string
	RepliesVisible bool
}

// ProfileView 用户主页：资料、帖子分页、封禁与屏蔽状态
type ProfileView struct {
	Account    *model.Account
	Posts      *Page
	Banned     bool
	Muted      bool
	IsOperator bool
	// Phone is the stored phone hash, only filled in for operators.
	Phone string
}

// OperatorInfo 管理员列表项
type OperatorInfo struct {
	UID  string
	Name string
}

// AccountService 账户服务
type AccountService interface {
	// SignIn finds the account for a verified phone, following one secondary
	// alias, and registers a new one when signups are enabled.
	SignIn(ctx context.Context, phone string) (*model.Identity, error)
	Get(ctx context.Context, uid string) (*model.Account, error)
	GetByPhone(ctx context.Context, phone string) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	UpdateProfile(ctx context.Context, who model.Identity, in ProfileUpdate) (*model.Account, error)
	Profile(ctx context.Context, viewer model.Identity, uid, cursor string) (*ProfileView, error)
	// RequestSecondaryPhone sends a pin to a phone the caller wants to link.
	RequestSecondaryPhone(ctx context.Context, who model.Identity, rawPhone string) error
	// ConfirmSecondaryPhone checks the pin and links the phone.
	ConfirmSecondaryPhone(ctx context.Context, who model.Identity, rawPhone, pin string) error
	RemoveSecondaryPhone(ctx context.Context, who model.Identity, rawPhone string) error
	// DeleteAccount removes uid's posts, reply edges and profile. Operators only.
	DeleteAccount(ctx context.Context, who model.Identity, uid string) error
	Operators(ctx context.Context) ([]OperatorInfo, error)
}

type accountService struct {
	accounts repository.AccountRepository
	bans     repository.BanRepository
	posts    PostService
	mutes    MuteService
	verify   VerificationService
	hasher   PhoneHasher
	auth     config.AuthConfig
	newUID   func() string
}

func NewAccountService(accounts repository.AccountRepository, bans repository.BanRepository, posts PostService, mutes MuteService, verify VerificationService, hasher PhoneHasher, auth config.AuthConfig) AccountService {
	return &accountService{
		accounts: accounts,
		bans:     bans,
		posts:    posts,
		mutes:    mutes,
		verify:   verify,
		hasher:   hasher,
		auth:     auth,
		newUID:   func() string { return uuid.NewString() },
	}
}

func (s *accountService) identity(acc *model.Account) *model.Identity {
	return &model.Identity{UID: acc.UID, Name: acc.Name, Phone: acc.Phone, IsOperator: s.auth.IsOperator(acc.UID)}
}

func (s *accountService) SignIn(ctx context.Context, phone string) (*model.Identity, error) {
	hash := s.hasher.Hash(phone)
	acc, err := s.accounts.Resolve(ctx, hash)
	if err == nil {
		return s.identity(acc), nil
	}
	if !isNotFound(err) {
		return nil, storageErr("accounts.signin", err)
	}
	if s.auth.DisableSignups {
		return nil, ErrSignupsDisabled
	}

	acc = &model.Account{UID: s.newUID(), Phone: hash, RepliesVisible: true}
	err = s.accounts.Create(ctx, acc)
	if errors.Is(err, kv.ErrExists) {
		// 并发注册同一号码，读取胜出者
		existing, rerr := s.accounts.Resolve(ctx, hash)
		if rerr != nil {
			return nil, storageErr("accounts.signin.reread", rerr)
		}
		return s.identity(existing), nil
	}
	if err != nil {
		return nil, storageErr("accounts.signin.create", err)
	}
	logger.Info("account registered", zap.String("uid", acc.UID))
	return s.identity(acc), nil
}

func (s *accountService) Get(ctx context.Context, uid string) (*model.Account, error) {
	if keys.ValidField(uid) != nil {
		return nil, ErrAccountNotFound
	}
	acc, err := s.accounts.GetByUID(ctx, uid)
	if isNotFound(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("accounts.get", err)
	}
	return acc, nil
}

func (s *accountService) GetByPhone(ctx context.Context, phone string) (*model.Account, error) {
	acc, err := s.accounts.Resolve(ctx, s.hasher.Hash(phone))
	if isNotFound(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("accounts.get_by_phone", err)
	}
	return acc, nil
}

func (s *accountService) List(ctx context.Context) ([]*model.Account, error) {
	list, err := s.accounts.List(ctx)
	if err != nil {
		return nil, storageErr("accounts.list", err)
	}
	return list, nil
}

// normalizeColorTag 十六进制颜色补 #，非法值回退为默认色
func normalizeColorTag(tag string) string {
	tag = strings.TrimSpace(tag)
	switch {
	case colorTagRe.MatchString(tag):
		return tag
	case bareTagRe.MatchString(tag):
		return "#" + tag
	default:
		return DefaultColorTag
	}
}

func (s *accountService) UpdateProfile(ctx context.Context, who model.Identity, in ProfileUpdate) (*model.Account, error) {
	if who.Anonymous() {
		return nil, ErrForbidden
	}
	in.Name = strings.TrimSpace(in.Name)
	if len([]rune(in.Name)) < 2 {
		in.Name = unnamed
	}
	if err := validate.Struct(in); err != nil {
		return nil, ErrProfileInvalid
	}

	acc, err := s.accounts.GetByPhone(ctx, who.Phone)
	if isNotFound(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageErr("accounts.update.get", err)
	}
	acc.Name = in.Name
	acc.Bio = in.Bio
	acc.Websites = in.Websites
	acc.ColorTag = normalizeColorTag(in.ColorTag)
	acc.RepliesVisible = in.RepliesVisible
	if err := s.accounts.Save(ctx, acc); err != nil {
		return nil, storageErr("accounts.update", err)
	}
	return acc, nil
}

func (s *accountService) Profile(ctx context.Context, viewer model.Identity, uid, cursor string) (*ProfileView, error) {
	acc, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	page, err := s.posts.ListRecent(ctx, uid, cursor)
	if err != nil {
		return nil, err
	}
	banned, err := s.bans.Banned(ctx, acc.Phone)
	if err != nil {
		return nil, storageErr("accounts.profile.ban", err)
	}
	view := &ProfileView{Account: acc, Posts: page, Banned: banned, IsOperator: s.auth.IsOperator(acc.UID)}
	if viewer.IsOperator {
		view.Phone = acc.Phone
	}
	if !viewer.Anonymous() && viewer.UID != uid {
		view.Muted, err = s.mutes.IsMuted(ctx, viewer, uid)
		if err != nil {
			return nil, err
		}
	}
	if view.Account.ColorTag == "" {
		view.Account.ColorTag = DefaultColorTag
	}
	return view, nil
}

func (s *accountService) RequestSecondaryPhone(ctx context.Context, who model.Identity, rawPhone string) error {
	if who.Anonymous() {
		return ErrForbidden
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	taken, err := s.accounts.PhoneTaken(ctx, s.hasher.Hash(phone))
	if err != nil {
		return storageErr("accounts.secondary.check", err)
	}
	if taken {
		return ErrPhoneInUse
	}
	return s.verify.IssueLink(ctx, phone)
}

func (s *accountService) ConfirmSecondaryPhone(ctx context.Context, who model.Identity, rawPhone, pin string) error {
	if who.Anonymous() {
		return ErrForbidden
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	if err := s.verify.Verify(ctx, phone, pin); err != nil {
		return err
	}
	acc, err := s.accounts.GetByPhone(ctx, who.Phone)
	if isNotFound(err) {
		return ErrAccountNotFound
	}
	if err != nil {
		return storageErr("accounts.secondary.get", err)
	}
	err = s.accounts.LinkSecondary(ctx, acc, s.hasher.Hash(phone))
	if errors.Is(err, kv.ErrExists) {
		return ErrPhoneInUse
	}
	if err != nil {
		return storageErr("accounts.secondary.link", err)
	}
	logger.Info("secondary phone linked", zap.String("uid", acc.UID))
	return nil
}

func (s *accountService) RemoveSecondaryPhone(ctx context.Context, who model.Identity, rawPhone string) error {
	if who.Anonymous() {
		return ErrForbidden
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	acc, err := s.accounts.GetByPhone(ctx, who.Phone)
	if isNotFound(err) {
		return ErrAccountNotFound
	}
	if err != nil {
		return storageErr("accounts.secondary.get", err)
	}
	hash := s.hasher.Hash(phone)
	if !acc.HasSecondary(hash) {
		return ErrAccountNotFound
	}
	if err := s.accounts.UnlinkSecondary(ctx, acc, hash); err != nil {
		return storageErr("accounts.secondary.unlink", err)
	}
	return nil
}

func (s *accountService) DeleteAccount(ctx context.Context, who model.Identity, uid string) error {
	if !who.IsOperator {
		logger.Warn("account delete refused", zap.String("uid", uid), zap.String("by", who.UID))
		return ErrForbidden
	}
	acc, err := s.Get(ctx, uid)
	if err != nil {
		return err
	}
	n, err := s.posts.DeleteAllByAuthor(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, acc); err != nil {
		return storageErr("accounts.delete", err)
	}
	logger.Info("account deleted", zap.String("uid", uid), zap.String("by", who.UID), zap.Int("posts", n))
	return nil
}

// Operators 解析配置中的管理员 uid，跳过不存在的账户
func (s *accountService) Operators(ctx context.Context) ([]OperatorInfo, error) {
	var out []OperatorInfo
	for _, uid := range lo.Uniq(s.auth.Operators) {
		acc, err := s.Get(ctx, uid)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, OperatorInfo{UID: uid, Name: acc.Name})
	}
	return out, nil
}
