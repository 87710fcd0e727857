// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// クライアントに返すメッセージは固定文言のみとし、内部情報は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, file, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated        = "UNAUTHENTICATED"
	ErrCodeTokenExpired           = "TOKEN_EXPIRED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeCSRFFailed             = "CSRF_FAILED"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInvalidFile            = "INVALID_FILE"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は認証失敗エラーを生成する。
// messageには "Not authenticated" や "Invalid token" などの汎用文言のみを渡す。
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  message,
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewTokenExpiredError はトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "Token expired",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの有無とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewForbiddenError は認可失敗エラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  message,
		Category: "auth",
		Action:   "You do not have access to this resource.",
	}
}

// NewCSRFError はCSRF検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRF token missing or invalid",
		Category: "auth",
		Action:   "Send the X-CSRF-Token header together with a bearer token.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Fix the highlighted input and try again.",
	}
}

// NewAggregatedValidationError は複数の検証エラーを1件にまとめる。
func NewAggregatedValidationError(problems []string) *APIError {
	return NewValidationError(strings.Join(problems, "; "))
}

// NewInvalidFileError はアップロードファイル検証エラーを生成する。
func NewInvalidFileError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFile,
		Message:  message,
		Category: "file",
		Action:   "Upload a supported photo, video or document.",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "Email already registered",
		Category: "validation",
		Action:   "Sign in with the existing account.",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", kind),
		Category: "validation",
		Action:   "Check the identifier.",
	}
}

// NewServiceUnavailableError は依存サービス未構成エラーを生成する。
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  message,
		Category: "system",
		Action:   "Try again later.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  message,
		Category: "system",
		Action:   "Try again later.",
	}
}
