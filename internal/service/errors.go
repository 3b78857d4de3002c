package service

import (
	"errors"

	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/pkg/apperrors"
	"github.com/d60-Lab/board/pkg/logger"
)

var (
	ErrPostNotFound     = apperrors.NotFound("post not found")
	ErrReplyNotFound    = apperrors.NotFound("reply not found")
	ErrAccountNotFound  = apperrors.NotFound("account not found")
	ErrForbidden        = apperrors.Forbidden("forbidden")
	ErrEmptyContent     = apperrors.Validation("You must include content with your post")
	ErrContentTooLong   = apperrors.Validation("post content is too long")
	ErrInvalidCursor    = apperrors.Validation("invalid page cursor")
	ErrInvalidPhone     = apperrors.Validation("invalid phone number")
	ErrRemoteIPRequired = apperrors.Validation("remote ip required")
	ErrBanSubject       = apperrors.Validation("ban subject is required")
	ErrMuteSelf         = apperrors.Validation("you cannot mute yourself")
	ErrProfileInvalid   = apperrors.Validation("name must be at most 30 characters")
	ErrIDSpaceExhausted = apperrors.New(apperrors.CodeTransientConflict, "please try later")
	ErrBanned           = apperrors.New(apperrors.CodeBanned, "Your number has been banned. Please contact an operator.")
	ErrRateLimited      = apperrors.New(apperrors.CodeRateLimited, "Too many login attempts. Please contact an operator.")
	ErrInvalidPin       = apperrors.New(apperrors.CodeInvalidPin, "Invalid pin")
	ErrSignupsDisabled  = apperrors.New(apperrors.CodeSignupsDisabled, "new accounts are disabled")
	ErrPhoneInUse       = apperrors.Conflict("phone number already belongs to an account")
	ErrSendFailed       = apperrors.New(apperrors.CodeDeliveryFailed, "could not send pin")
)

// storageErr 记录并包装底层存储错误
func storageErr(op string, err error) error {
	logger.Report("storage failure", err, zap.String("op", op))
	return apperrors.Storage(op, err)
}

func isNotFound(err error) bool { return errors.Is(err, kv.ErrNotFound) }
