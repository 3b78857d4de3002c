package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/metrics"
	"github.com/d60-Lab/board/internal/model"
	"github.com/d60-Lab/board/internal/repository"
	"github.com/d60-Lab/board/internal/sms"
	"github.com/d60-Lab/board/pkg/apperrors"
	"github.com/d60-Lab/board/pkg/logger"
)

const (
	pinMin = 1111
	pinMax = 9999
	// DefaultPinTTL PIN 有效期
	DefaultPinTTL = 5 * time.Minute

	pinMessage = "Here is your BBS pin: "
)

// VerificationService 手机号 PIN 验证：NoPin -> PinIssued -> Consumed
type VerificationService interface {
	// Issue sends a pin to phone. Unknown phones are refused while signups
	// are disabled. The pin is stored before it is sent, so a send failure
	// leaves a usable pin until it expires.
	Issue(ctx context.Context, phone string) error
	// IssueLink sends a pin without the signup check, for linking a phone
	// to an existing account.
	IssueLink(ctx context.Context, phone string) error
	// Verify consumes the pending pin for phone whatever the outcome.
	Verify(ctx context.Context, phone, pin string) error
}

type verificationService struct {
	pins       repository.PinRepository
	accounts   repository.AccountRepository
	hasher     PhoneHasher
	sender     sms.Sender
	ttl        time.Duration
	signupsOff bool
	generate   func() (string, error)
}

func NewVerificationService(pins repository.PinRepository, accounts repository.AccountRepository, hasher PhoneHasher, sender sms.Sender, ttl time.Duration, disableSignups bool) VerificationService {
	if ttl <= 0 {
		ttl = DefaultPinTTL
	}
	return &verificationService{
		pins:       pins,
		accounts:   accounts,
		hasher:     hasher,
		sender:     sender,
		ttl:        ttl,
		signupsOff: disableSignups,
		generate:   randomPin,
	}
}

// randomPin 返回 [1111, 9999] 区间内的四位 PIN
func randomPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinMax-pinMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+pinMin, 10), nil
}

func (s *verificationService) Issue(ctx context.Context, phone string) error {
	if s.signupsOff {
		_, err := s.accounts.Resolve(ctx, s.hasher.Hash(phone))
		if isNotFound(err) {
			return ErrSignupsDisabled
		}
		if err != nil {
			return storageErr("pins.issue.account", err)
		}
	}
	return s.issue(ctx, phone)
}

func (s *verificationService) IssueLink(ctx context.Context, phone string) error {
	return s.issue(ctx, phone)
}

func (s *verificationService) issue(ctx context.Context, phone string) error {
	pin, err := s.generate()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "could not generate pin", err)
	}
	if err := s.pins.Put(ctx, &model.PendingPin{Phone: phone, Pin: pin}, s.ttl); err != nil {
		return storageErr("pins.issue", err)
	}
	if err := s.sender.Send(ctx, phone, pinMessage+pin); err != nil {
		metrics.PinsIssued.WithLabelValues("send_failed").Inc()
		logger.Report("pin send failed", err, zap.String("phone", s.hasher.Hash(phone)))
		return apperrors.Wrap(apperrors.CodeDeliveryFailed, "could not send pin", err)
	}
	metrics.PinsIssued.WithLabelValues("sent").Inc()
	return nil
}

func (s *verificationService) Verify(ctx context.Context, phone, pin string) error {
	pending, err := s.pins.Take(ctx, phone)
	if isNotFound(err) {
		metrics.PinsVerified.WithLabelValues("missing").Inc()
		logger.Warn("pin verify without pending pin", zap.String("phone", s.hasher.Hash(phone)))
		return ErrInvalidPin
	}
	if err != nil {
		return storageErr("pins.verify", err)
	}
	if subtle.ConstantTimeCompare([]byte(pending.Pin), []byte(pin)) != 1 {
		metrics.PinsVerified.WithLabelValues("mismatch").Inc()
		logger.Warn("invalid pin", zap.String("phone", s.hasher.Hash(phone)))
		return ErrInvalidPin
	}
	metrics.PinsVerified.WithLabelValues("ok").Inc()
	return nil
}
