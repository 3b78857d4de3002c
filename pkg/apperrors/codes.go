package apperrors

import "net/http"

type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeValidation        Code = "VALIDATION"
	CodeConflict          Code = "CONFLICT"
	CodeTransientConflict Code = "TRANSIENT_CONFLICT"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeBanned            Code = "BANNED"
	CodeInvalidPin        Code = "INVALID_PIN"
	CodeSignupsDisabled   Code = "SIGNUPS_DISABLED"
	CodeStorageFailure    Code = "STORAGE_FAILURE"
	CodeDeliveryFailed    Code = "DELIVERY_FAILED"
)

// Status 返回该错误码对应的 HTTP 状态类别
func (c Code) Status() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden, CodeSignupsDisabled:
		return http.StatusForbidden
	case CodeValidation, CodeInvalidPin, CodeBanned:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTransientConflict:
		return http.StatusServiceUnavailable
	case CodeDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
