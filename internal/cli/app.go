package cli

import (
	"context"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/internal/service"
	"github.com/d60-Lab/board/internal/sms"
)

// App 组装好的服务集合，命令从这里取依赖
type App struct {
	Config *config.Config
	Sweep  kv.SweepFunc // serve 用于过期清理；为 nil 时不启动

	Posts    service.PostService
	Accounts service.AccountService
	Mutes    service.MuteService
	Verify   service.VerificationService
	Login    service.LoginService
}

// NewApp wires repositories and services over the bucket stores returned by open.
func NewApp(open kv.Opener, cfg *config.Config, sender sms.Sender) *App {
	hasher := service.NewPhoneHasher(cfg.Auth.PhoneSalt)

	postRepo := repository.NewPostRepository(open(kv.BucketPosts))
	accRepo := repository.NewAccountRepository(open(kv.BucketProfile))
	banRepo := repository.NewBanRepository(open(kv.BucketBans))
	pinRepo := repository.NewPinRepository(open(kv.BucketPins), nil)
	attemptRepo := repository.NewAttemptRepository(open(kv.BucketLogins), nil)
	muteRepo := repository.NewMuteRepository(open(kv.BucketMutes))

	posts := service.NewPostService(postRepo, service.NewIDAllocator(postRepo), service.NewReplyLinker(postRepo), cfg.Board.Host, cfg.Board.PageSize)
	mutes := service.NewMuteService(muteRepo)
	verify := service.NewVerificationService(pinRepo, accRepo, hasher, sender, cfg.Auth.PinTTL, cfg.Auth.DisableSignups)
	accounts := service.NewAccountService(accRepo, banRepo, posts, mutes, verify, hasher, cfg.Auth)
	login := service.NewLoginService(attemptRepo, banRepo, verify, accounts, hasher, cfg.Auth)

	return &App{
		Config:   cfg,
		Posts:    posts,
		Accounts: accounts,
		Mutes:    mutes,
		Verify:   verify,
		Login:    login,
	}
}

// Identity 把 --as 指定的 uid 解析成身份；空 uid 为匿名
func (a *App) Identity(ctx context.Context, uid string) (model.Identity, error) {
	if uid == "" {
		return model.Identity{}, nil
	}
	acc, err := a.Accounts.Get(ctx, uid)
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{
		UID:        acc.UID,
		Name:       acc.Name,
		Phone:      acc.Phone,
		IsOperator: a.Config.IsOperator(acc.UID),
	}, nil
}
