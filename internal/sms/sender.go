// Package sms delivers short text messages. Transport is pluggable; the board
// ships a logging sender and a rate-limited wrapper.
package sms

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/board/pkg/logger"
)

var ErrThrottled = errors.New("sms: send rate exceeded")

// Sender sends body to an E.164 phone number.
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, phone, body string) error

func (f SenderFunc) Send(ctx context.Context, phone, body string) error { return f(ctx, phone, body) }

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	From string
}

func (s LogSender) Send(_ context.Context, phone, body string) error {
	logger.Info("sms", zap.String("from", s.From), zap.String("to", mask(phone)), zap.Int("len", len(body)))
	logger.Debug("sms body", zap.String("to", mask(phone)), zap.String("body", body))
	return nil
}

func mask(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s%s", "****", phone[len(phone)-4:])
}

// Throttled limits the send rate of the wrapped sender. With wait false a
// send over the limit fails immediately with ErrThrottled.
type Throttled struct {
	next    Sender
	limiter *rate.Limiter
	wait    bool
}

func NewThrottled(next Sender, perSecond float64, burst int, wait bool) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst), wait: wait}
}

func (t *Throttled) Send(ctx context.Context, phone, body string) error {
	if t.wait {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	} else if !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.next.Send(ctx, phone, body)
}
