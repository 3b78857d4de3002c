package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/keys"
	"github.com/d60-Lab/board/internal/metrics"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/pkg/logger"
)

const (
	DefaultAttemptWindow = 5 * time.Minute
	DefaultMaxAttempts   = 3

	escalationReason = "too many login attempts"
)

// LoginService 登录入口：封禁检查、尝试计数与升级封禁、PIN 下发与校验
type LoginService interface {
	// Begin checks the ban list for ip and the phone, counts the attempt and
	// sends a pin. It returns the normalised phone the caller keeps until
	// Complete.
	Begin(ctx context.Context, ip, rawPhone string) (string, error)
	// Complete accepts the phone in any form Begin accepts.
	Complete(ctx context.Context, rawPhone, pin string) (*model.Identity, error)

	Hammer(ctx context.Context, who model.Identity, subject, reason string) error
	// HammerPhone bans the hash of rawPhone.
	HammerPhone(ctx context.Context, who model.Identity, rawPhone, reason string) error
	Unhammer(ctx context.Context, who model.Identity, subject string) error
	Status(ctx context.Context, subject string) (bool, error)
	Bans(ctx context.Context, who model.Identity) ([]*model.BanEntry, error)
}

type loginService struct {
	attempts    repository.AttemptRepository
	bans        repository.BanRepository
	verify      VerificationService
	accounts    AccountService
	hasher      PhoneHasher
	window      time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewLoginService(attempts repository.AttemptRepository, bans repository.BanRepository, verify VerificationService, accounts AccountService, hasher PhoneHasher, auth config.AuthConfig) LoginService {
	s := &loginService{
		attempts:    attempts,
		bans:        bans,
		verify:      verify,
		accounts:    accounts,
		hasher:      hasher,
		window:      auth.AttemptWindow,
		maxAttempts: auth.MaxAttempts,
		now:         time.Now,
	}
	if s.window <= 0 {
		s.window = DefaultAttemptWindow
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	return s
}

func (s *loginService) banned(ctx context.Context, subjects ...string) (bool, error) {
	for _, sub := range subjects {
		ok, err := s.bans.Banned(ctx, sub)
		if err != nil {
			return false, storageErr("bans.status", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *loginService) Begin(ctx context.Context, ip, rawPhone string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", ErrRemoteIPRequired
	}
	// 封禁的 IP 直接拒绝，不消耗 PIN
	banned, err := s.banned(ctx, ip)
	if err != nil {
		return "", err
	}
	if banned {
		metrics.LoginRejected.WithLabelValues("banned_ip").Inc()
		logger.Warn("login from banned ip", zap.String("ip", ip))
		return "", ErrBanned
	}

	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}
	hash := s.hasher.Hash(phone)
	banned, err = s.banned(ctx, hash)
	if err != nil {
		return "", err
	}
	if banned {
		metrics.LoginRejected.WithLabelValues("banned_phone").Inc()
		logger.Warn("login for banned phone", zap.String("phone", hash), zap.String("ip", ip))
		return "", ErrBanned
	}

	attempt, err := s.attempts.Incr(ctx, hash, s.window)
	if err != nil {
		return "", storageErr("logins.count", err)
	}
	if attempt.Count > s.maxAttempts {
		if err := s.bans.Put(ctx, &model.BanEntry{Subject: ip, Reason: escalationReason, At: s.now().UTC()}); err != nil {
			return "", storageErr("bans.escalate", err)
		}
		metrics.Bans.WithLabelValues("escalation").Inc()
		metrics.LoginRejected.WithLabelValues("rate_limited").Inc()
		logger.Warn("login attempts exceeded, ip banned",
			zap.String("ip", ip), zap.String("phone", hash), zap.Int("attempts", attempt.Count))
		return "", ErrRateLimited
	}

	if err := s.verify.Issue(ctx, phone); err != nil {
		return "", err
	}
	return phone, nil
}

func (s *loginService) Complete(ctx context.Context, rawPhone, pin string) (*model.Identity, error) {
	// PIN 按规范化后的号码存放，与 Begin 保持一致
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	if err := s.verify.Verify(ctx, phone, pin); err != nil {
		return nil, err
	}
	id, err := s.accounts.SignIn(ctx, phone)
	if err != nil {
		return nil, err
	}
	banned, err := s.banned(ctx, s.hasher.Hash(phone), id.Phone)
	if err != nil {
		return nil, err
	}
	if banned {
		metrics.LoginRejected.WithLabelValues("banned_account").Inc()
		return nil, ErrBanned
	}
	return id, nil
}

func (s *loginService) Hammer(ctx context.Context, who model.Identity, subject, reason string) error {
	if !who.IsOperator {
		return ErrForbidden
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrBanSubject
	}
	if err := s.bans.Put(ctx, &model.BanEntry{Subject: subject, Reason: reason, At: s.now().UTC()}); err != nil {
		return storageErr("bans.hammer", err)
	}
	metrics.Bans.WithLabelValues("operator").Inc()
	logger.Info("subject banned", zap.String("subject", subject), zap.String("by", who.UID))
	return nil
}

func (s *loginService) HammerPhone(ctx context.Context, who model.Identity, rawPhone, reason string) error {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	return s.Hammer(ctx, who, s.hasher.Hash(phone), reason)
}

// Unhammer 解除封禁，同时清空该主体的尝试计数
func (s *loginService) Unhammer(ctx context.Context, who model.Identity, subject string) error {
	if !who.IsOperator {
		return ErrForbidden
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrBanSubject
	}
	if err := s.bans.Delete(ctx, subject); err != nil {
		return storageErr("bans.unhammer", err)
	}
	if keys.ValidField(subject) == nil {
		if err := s.attempts.Reset(ctx, subject); err != nil {
			return storageErr("logins.reset", err)
		}
	}
	logger.Info("subject unbanned", zap.String("subject", subject), zap.String("by", who.UID))
	return nil
}

func (s *loginService) Status(ctx context.Context, subject string) (bool, error) {
	return s.banned(ctx, strings.TrimSpace(subject))
}

func (s *loginService) Bans(ctx context.Context, who model.Identity) ([]*model.BanEntry, error) {
	if !who.IsOperator {
		return nil, ErrForbidden
	}
	list, err := s.bans.List(ctx)
	if err != nil {
		return nil, storageErr("bans.list", err)
	}
	return list, nil
}
