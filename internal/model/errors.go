// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// クライアントへ返す安定メッセージ。検証の内部詳細はログのみに記録し、
// ここに列挙した文字列以外を認証エラーとして返してはならない。
const (
	MsgSessionRequired      = "An active session is required"
	MsgInvalidSessionCookie = "Invalid session cookie"
	MsgInvalidSessionToken  = "Invalid session token"
	MsgInvalidRefreshToken  = "Invalid refresh token"
	MsgUserGone             = "User no longer exists"
	MsgUsernameExists       = "Username already exists"
	MsgEmailExists          = "Email already exists"
	MsgInvalidEmail         = "Invalid email"
	MsgInvalidPassword      = "Invalid password"
)

// AppError は認証コアの統一エラー型。
// Status はHTTPステータス相当、Message はクライアントへそのまま返す安定文字列。
// cause はサーバーログ専用の内部詳細で、レスポンスには含めない。
type AppError struct {
	Status  int
	Message string
	cause   error
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap は内部詳細のエラーを返す。
func (e *AppError) Unwrap() error {
	return e.cause
}

// NewValidationError はリクエスト不正エラー（400相当）を生成する。
// メッセージは入力検証の失敗内容をそのまま伝える。
func NewValidationError(message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Message: message}
}

// NewConflictError は一意性制約違反エラー（422相当）を生成する。
// メッセージは MsgUsernameExists / MsgEmailExists のいずれかを指定する。
func NewConflictError(message string) *AppError {
	return &AppError{Status: http.StatusUnprocessableEntity, Message: message}
}

// NewAuthenticationError は認証エラー（401相当）を生成する。
// cause には鍵照合の内部詳細を渡してよい。クライアントにはmessageのみ返る。
func NewAuthenticationError(message string, cause error) *AppError {
	return &AppError{Status: http.StatusUnauthorized, Message: message, cause: cause}
}

// NewForbiddenError は禁止エラー（403相当）を生成する。
// 暗号的には正当な資格情報が、既に存在しない主体を参照している場合に使う。
func NewForbiddenError(message string) *AppError {
	return &AppError{Status: http.StatusForbidden, Message: message}
}

// NewUnavailableError は一時的失敗エラー（503相当）を生成する。
// ハッシュ計算のタイムアウトなど、リトライ可能な失敗に使う。
func NewUnavailableError(cause error) *AppError {
	return &AppError{
		Status:  http.StatusServiceUnavailable,
		Message: "Service temporarily unavailable",
		cause:   cause,
	}
}
